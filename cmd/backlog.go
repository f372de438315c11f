package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/job-autopilot/internal/application"
	"github.com/spigell/job-autopilot/internal/logger"
)

var backlogCmd = &cobra.Command{
	Use:   "backlog",
	Short: "Inspect and resolve applications blocked by a captcha",
}

var backlogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending captcha tickets in detection order",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			tickets := rt.service.ListCaptchaBacklog(ctx)
			if table, _ := cmd.Flags().GetBool("table"); table {
				return ticketTable(cmd.OutOrStdout(), tickets)
			}
			return printJSON(cmd.OutOrStdout(), tickets)
		})
	},
}

var backlogResolveCmd = &cobra.Command{
	Use:   "resolve [ticket-id] [retry|abandon]",
	Short: "Retry or abandon a blocked application. Missing arguments are asked interactively",
	Args:  cobra.MaximumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			ticketID, decision, err := resolveArgs(rt, args)
			if err != nil {
				return err
			}

			wait, _ := cmd.Flags().GetDuration("wait")
			stop := rt.startWorkers(ctx)
			defer stop()

			a, err := rt.service.ResolveCaptcha(ctx, ticketID, decision)
			if err != nil {
				return err
			}

			rt.logger.Info("ticket resolved",
				zap.String(logger.FieldTicket, ticketID),
				zap.String("decision", decision),
				zap.String(logger.FieldAttempt, a.ID),
			)

			if a.State.Active() {
				settle(ctx, rt, wait)
				if a, err = rt.orchestrator.Attempt(a.ID); err != nil {
					return err
				}
			}

			logAttempt(rt.logger, a)
			return printJSON(cmd.OutOrStdout(), a)
		})
	},
}

func init() {
	rootCmd.AddCommand(backlogCmd)
	backlogCmd.AddCommand(backlogListCmd, backlogResolveCmd)

	backlogListCmd.Flags().Bool("table", false, "print a table instead of json")
	backlogResolveCmd.Flags().Duration("wait", 5*time.Minute, "how long to process a retried attempt before exiting")
}

// resolveArgs returns the ticket and the decision, prompting for whichever is missing.
func resolveArgs(rt *runtime, args []string) (string, string, error) {
	var ticketID, decision string
	if len(args) > 0 {
		ticketID = args[0]
	}
	if len(args) > 1 {
		decision = args[1]
	}

	if ticketID == "" {
		pending := rt.orchestrator.ListPending()
		if len(pending) == 0 {
			return "", "", fmt.Errorf("there are no pending captcha tickets")
		}

		items := make([]string, 0, len(pending))
		for _, t := range pending {
			items = append(items, fmt.Sprintf("%s %s / %s / %s", t.ID, t.UserID, t.JobID, t.DetectedAt.Format(time.RFC3339)))
		}

		ticketPrompt := promptui.Select{
			Label: "Choose a ticket and press ENTER",
			Items: items,
		}
		idx, _, err := ticketPrompt.Run()
		if err != nil {
			return "", "", err
		}
		ticketID = pending[idx].ID
	}

	if decision == "" {
		decisionPrompt := promptui.Select{
			Label: "Solved the captcha?",
			Items: []string{string(application.DecisionRetry), string(application.DecisionAbandon)},
		}
		_, selected, err := decisionPrompt.Run()
		if err != nil {
			return "", "", err
		}
		decision = selected
	}

	return ticketID, decision, nil
}

func ticketTable(out io.Writer, tickets []application.Ticket) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tATTEMPT\tUSER\tJOB\tDETECTED\tNOTES")
	for _, t := range tickets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.AttemptID, t.UserID, t.JobID, t.DetectedAt.Format(time.RFC3339), t.Notes)
	}
	return w.Flush()
}
