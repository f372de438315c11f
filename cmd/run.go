package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/job-autopilot/internal/catalog"
	"github.com/spigell/job-autopilot/internal/evaluation"
	"github.com/spigell/job-autopilot/internal/filtering"
	"github.com/spigell/job-autopilot/internal/logger"
)

const (
	PromptYes                 = "Yes"
	PromptNo                  = "No"
	PromptBack                = "back"
	PromptManualApply         = "Apply to matches in manual mode"
	PromptAppendToExcludeFile = "Append all matches to exclude file"
	PromptMatchesToFile       = "Dump matches to file"
)

var errExit = errors.New("exit requested")

var prompt = promptui.Select{
	Label: "Apply to all matches?",
	Items: []string{PromptYes, PromptNo, PromptManualApply, PromptMatchesToFile},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate the catalog for the user and apply to the best matches",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			return run(ctx, cmd, rt)
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("user", "u", "", "user id (default is apply.user)")
	runCmd.Flags().BoolP("do-not-exclude-applied", "f", false, "do not exclude jobs if already applied")
	runCmd.Flags().BoolP("auto-aprove", "y", false, "do not ask for confirmation if found suitable matches")
	runCmd.Flags().IntP("max-results", "n", 0, "how many matches to consider (default is evaluation.max-results)")
	runCmd.Flags().Duration("wait", 10*time.Minute, "how long to process submissions before exiting")

	viper.BindPFlag("do-not-exclude-applied", runCmd.Flags().Lookup("do-not-exclude-applied"))
}

// run is the main command for the cli.
func run(ctx context.Context, cmd *cobra.Command, rt *runtime) error {
	rt.logger.Info("starting the job-autopilot", zap.String("version", buildVersion()))

	userID := rt.user(flagString(cmd, "user"))
	if err := ensureProfile(ctx, rt, userID); err != nil {
		return err
	}

	limit, _ := cmd.Flags().GetInt("max-results")
	if limit == 0 {
		limit = rt.config.Evaluation.MaxResults
	}

	matches, err := rt.service.Evaluate(ctx, userID, limit)
	if err != nil {
		return err
	}

	if len(matches) == 0 {
		rt.logger.Info("exiting", zap.String("reason", "no matching jobs found"))
		return nil
	}

	wait, _ := cmd.Flags().GetDuration("wait")
	stop := rt.startWorkers(ctx)
	defer stop()

	session := &session{rt: rt, userID: userID, matches: matches}

	action := PromptYes
	for len(session.matches) > 0 {
		if cmd.Flag("auto-aprove").Value.String() == "false" {
			if _, action, err = prompt.Run(); err != nil {
				return err
			}
		}

		rt.logger.Info("current list of matches", zap.Int("count", len(session.matches)))

		if err := session.handle(ctx, action); err != nil {
			if errors.Is(err, errExit) {
				break
			}
			return err
		}
	}

	settle(ctx, rt, wait)
	for _, id := range session.submitted {
		a, err := rt.orchestrator.Attempt(id)
		if err != nil {
			return err
		}
		logAttempt(rt.logger, a)
	}
	return nil
}

// session is the state of one interactive run.
type session struct {
	rt        *runtime
	userID    string
	matches   []evaluation.MatchResult
	submitted []string
}

func (s *session) handle(ctx context.Context, action string) error {
	switch action {
	case PromptYes:
		if err := s.apply(ctx, s.matches); err != nil {
			return err
		}
		return errExit
	case PromptNo:
		s.rt.logger.Info("exiting", zap.String("reason", "got no from prompt"))
		return errExit
	case PromptManualApply:
		return s.manualApply(ctx)
	case PromptMatchesToFile:
		filename, err := dumpToTmpFile(s.matches)
		if err != nil {
			return fmt.Errorf("dump results to file: %w", err)
		}
		s.rt.logger.Info("dumping result to file", zap.String("filename", filename))
		return nil
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

func (s *session) manualApply(ctx context.Context) error {
	excludeFile := s.rt.config.Evaluation.Exclude.File

	for len(s.matches) > 0 {
		items := make([]string, 0, len(s.matches)+2)
		for _, m := range s.matches {
			items = append(items, fmt.Sprintf("%s %.3f %s / %s / %s", m.JobID, m.Score, m.Title, m.Company, m.URL))
		}
		if excludeFile != "" {
			items = append(items, PromptAppendToExcludeFile)
		}

		matchPrompt := promptui.Select{
			Label: "Choose a job and press ENTER",
			Items: append(items, PromptBack),
		}

		_, selected, err := matchPrompt.Run()
		if err != nil {
			return err
		}

		switch selected {
		case PromptBack:
			return nil
		case PromptAppendToExcludeFile:
			if err := s.appendToExcludeFile(excludeFile); err != nil {
				return err
			}
			s.matches = nil
		default:
			jobID := strings.Split(selected, " ")[0]
			match, ok := s.find(jobID)
			if !ok {
				return fmt.Errorf("there is no such job id %s", jobID)
			}
			if err := s.apply(ctx, []evaluation.MatchResult{match}); err != nil {
				return err
			}
		}
	}
	return nil
}

// apply queues the matches and drops them from the session.
func (s *session) apply(ctx context.Context, matches []evaluation.MatchResult) error {
	for _, m := range matches {
		a, err := s.rt.service.Submit(ctx, s.userID, m.JobID)
		if err != nil {
			return fmt.Errorf("submit %s: %w", m.JobID, err)
		}
		s.submitted = append(s.submitted, a.ID)
		s.drop(m.JobID)

		logger.WithPair(s.rt.logger, s.userID, m.JobID).Info("queued application",
			zap.String(logger.FieldAttempt, a.ID),
			zap.Float64("score", m.Score),
		)
	}

	s.rt.logger.Info("queued applications", zap.Int("count", len(matches)))
	return nil
}

func (s *session) appendToExcludeFile(path string) error {
	excluded, err := filtering.LoadExcluded(path)
	if err != nil {
		return err
	}

	jobs := make([]catalog.JobListing, 0, len(s.matches))
	for _, m := range s.matches {
		jobs = append(jobs, catalog.JobListing{ID: m.JobID, URL: m.URL, Company: m.Company})
	}
	excluded.Append(filtering.ToExcluded(jobs, time.Now()))

	if err := excluded.ToFile(path); err != nil {
		return err
	}

	s.rt.logger.Info("appended to exclude file", zap.String("filename", path), zap.Int("count", len(jobs)))
	return nil
}

func (s *session) find(jobID string) (evaluation.MatchResult, bool) {
	for _, m := range s.matches {
		if m.JobID == jobID {
			return m, true
		}
	}
	return evaluation.MatchResult{}, false
}

func (s *session) drop(jobID string) {
	kept := make([]evaluation.MatchResult, 0, len(s.matches))
	for _, m := range s.matches {
		if m.JobID != jobID {
			kept = append(kept, m)
		}
	}
	s.matches = kept
}

func dumpToTmpFile(matches []evaluation.MatchResult) (string, error) {
	f, err := os.CreateTemp("", app+"-matches-*.json")
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := printJSON(f, matches); err != nil {
		return "", err
	}
	return f.Name(), nil
}
