package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/job-autopilot/internal/errs"
	"github.com/spigell/job-autopilot/internal/logger"
	"github.com/spigell/job-autopilot/internal/profile"
	"github.com/spigell/job-autopilot/internal/service"
)

var profileCmd = &cobra.Command{
	Use:   "profile <resume-file>",
	Short: "Ingest a plain-text résumé for a user",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			p, err := ingestResume(ctx, rt.service, rt.user(flagString(cmd, "user")), args[0])
			if err != nil {
				return err
			}
			rt.logger.Info("profile ingested", zap.String(logger.FieldUser, p.UserID), zap.Strings("skills", p.Skills))
			return printJSON(cmd.OutOrStdout(), p)
		})
	},
}

var questionnaireCmd = &cobra.Command{
	Use:   "questionnaire <answers-file>",
	Short: "Ingest questionnaire answers (yaml or json) for a user",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			p, err := ingestAnswers(ctx, rt.service, rt.user(flagString(cmd, "user")), args[0])
			if err != nil {
				return err
			}
			rt.logger.Info("questionnaire ingested", zap.String(logger.FieldUser, p.UserID))
			return printJSON(cmd.OutOrStdout(), p)
		})
	},
}

func init() {
	rootCmd.AddCommand(profileCmd, questionnaireCmd)

	for _, c := range []*cobra.Command{profileCmd, questionnaireCmd} {
		c.Flags().StringP("user", "u", "", "user id (default is apply.user)")
	}
}

func ingestResume(ctx context.Context, svc *service.Service, userID, path string) (profile.CandidateProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return profile.CandidateProfile{}, fmt.Errorf("read resume: %w", err)
	}
	return svc.IngestProfile(ctx, userID, string(data))
}

func ingestAnswers(ctx context.Context, svc *service.Service, userID, path string) (profile.CandidateProfile, error) {
	answers, err := loadAnswers(path)
	if err != nil {
		return profile.CandidateProfile{}, err
	}
	return svc.IngestQuestionnaire(ctx, userID, answers)
}

// loadAnswers reads a flat answers document. The format follows the file extension.
func loadAnswers(path string) (map[string]any, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errs.InvalidArgument("read questionnaire %q: %v", path, err)
	}
	return v.AllSettings(), nil
}

// ensureProfile ingests the files named under apply when the user has no stored profile yet.
func ensureProfile(ctx context.Context, rt *runtime, userID string) error {
	if _, err := rt.store.Profile(ctx, userID); err == nil {
		return nil
	}

	cfg := rt.config.Apply
	if cfg == nil || cfg.Resume == "" {
		return nil
	}

	if _, err := ingestResume(ctx, rt.service, userID, cfg.Resume); err != nil {
		return fmt.Errorf("ingest %s: %w", cfg.Resume, err)
	}
	if cfg.Questionnaire != "" {
		if _, err := ingestAnswers(ctx, rt.service, userID, cfg.Questionnaire); err != nil {
			return fmt.Errorf("ingest %s: %w", cfg.Questionnaire, err)
		}
	}

	rt.logger.Info("profile loaded from apply files", zap.String(logger.FieldUser, userID))
	return nil
}

// withRuntime wires the components, runs fn and exits on error.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	config, log := setup()

	rt, err := build(ctx, config, log)
	if err != nil {
		log.Fatal("wiring components", zap.Error(err))
	}

	err = fn(ctx, rt)
	rt.Close()
	if err != nil {
		log.Fatal(cmd.Name()+" failed", zap.Error(err), describeError(err))
	}
}

func flagString(cmd *cobra.Command, name string) string {
	f := cmd.Flag(name)
	if f == nil {
		return ""
	}
	return f.Value.String()
}
