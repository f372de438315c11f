package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/job-autopilot/internal/application"
	"github.com/spigell/job-autopilot/internal/logger"
)

var submitCmd = &cobra.Command{
	Use:   "submit <job-id>...",
	Short: "Queue applications for jobs and process them",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			userID := rt.user(flagString(cmd, "user"))
			if err := ensureProfile(ctx, rt, userID); err != nil {
				return err
			}

			wait, _ := cmd.Flags().GetDuration("wait")
			stop := rt.startWorkers(ctx)
			defer stop()

			ids := make([]string, 0, len(args))
			for _, jobID := range args {
				a, err := rt.service.Submit(ctx, userID, jobID)
				if err != nil {
					return fmt.Errorf("submit %s: %w", jobID, err)
				}
				ids = append(ids, a.ID)
			}

			settle(ctx, rt, wait)

			attempts := make([]application.Attempt, 0, len(ids))
			for _, id := range ids {
				a, err := rt.orchestrator.Attempt(id)
				if err != nil {
					return err
				}
				logAttempt(rt.logger, a)
				attempts = append(attempts, a)
			}
			return printAttempts(cmd, attempts)
		})
	},
}

var attemptsCmd = &cobra.Command{
	Use:   "attempts",
	Short: "List application attempts of the user",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			userID := flagString(cmd, "user")
			if all, _ := cmd.Flags().GetBool("all"); !all {
				userID = rt.user(userID)
			}
			return printAttempts(cmd, rt.service.ListAttempts(ctx, userID))
		})
	},
}

func init() {
	rootCmd.AddCommand(submitCmd, attemptsCmd)

	submitCmd.Flags().Duration("wait", 5*time.Minute, "how long to process queued attempts before exiting")
	attemptsCmd.Flags().Bool("all", false, "list attempts of every user")
	for _, c := range []*cobra.Command{submitCmd, attemptsCmd} {
		c.Flags().StringP("user", "u", "", "user id (default is apply.user)")
		c.Flags().Bool("table", false, "print a table instead of json")
	}
}

// settle lets the workers drain the queue for at most wait.
// Attempts still active afterwards stay queued in the store for the next run.
func settle(ctx context.Context, rt *runtime, wait time.Duration) {
	if wait <= 0 {
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	if err := rt.orchestrator.WaitIdle(waitCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			rt.logger.Warn("attempts still active, exiting anyway",
				zap.Int("active", rt.orchestrator.ActiveCount()),
				zap.Duration("waited", wait),
			)
			return
		}
		rt.logger.Warn("waiting for attempts", zap.Error(err))
	}
}

func printAttempts(cmd *cobra.Command, attempts []application.Attempt) error {
	if table, _ := cmd.Flags().GetBool("table"); table {
		return attemptTable(cmd.OutOrStdout(), attempts)
	}
	return printJSON(cmd.OutOrStdout(), attempts)
}

func attemptTable(out io.Writer, attempts []application.Attempt) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tJOB\tSTATE\tCOUNT\tLAST ERROR")
	for _, a := range attempts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", a.ID, a.UserID, a.JobID, a.State, a.AttemptCount, a.LastError)
	}
	return w.Flush()
}

// logAttempt reports the final state of one attempt.
func logAttempt(log *zap.Logger, a application.Attempt) {
	log = logger.WithPair(log, a.UserID, a.JobID).With(
		zap.String(logger.FieldAttempt, a.ID),
		zap.String(logger.FieldState, a.State.String()),
		zap.Int("attempt_count", a.AttemptCount),
	)

	switch a.State {
	case application.StateSubmitted:
		log.Info("application submitted")
	case application.StateCaptchaBlocked:
		log.Warn("application blocked by captcha", zap.String("hint", "resolve it with the backlog command"))
	case application.StateFailed:
		log.Error("application failed", zap.String("reason", a.LastError))
	default:
		log.Info("application pending")
	}
}
