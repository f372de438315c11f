package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/job-autopilot/internal/evaluation"
	"github.com/spigell/job-autopilot/internal/logger"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Rank catalog jobs against the user's profile",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			userID := rt.user(flagString(cmd, "user"))
			if err := ensureProfile(ctx, rt, userID); err != nil {
				return err
			}

			limit, _ := cmd.Flags().GetInt("max-results")
			if limit == 0 {
				limit = rt.config.Evaluation.MaxResults
			}

			results, err := rt.service.Evaluate(ctx, userID, limit)
			if err != nil {
				return err
			}

			rt.logger.Info("evaluation finished", zap.String(logger.FieldUser, userID), zap.Int("count", len(results)))
			return printMatches(cmd, results)
		})
	},
}

var matchesCmd = &cobra.Command{
	Use:   "matches",
	Short: "Show the latest stored evaluation of the user",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			results, err := rt.service.ListMatches(ctx, rt.user(flagString(cmd, "user")))
			if err != nil {
				return err
			}
			return printMatches(cmd, results)
		})
	},
}

func init() {
	rootCmd.AddCommand(evaluateCmd, matchesCmd)

	evaluateCmd.Flags().IntP("max-results", "n", 0, "how many matches to keep (default is evaluation.max-results)")
	for _, c := range []*cobra.Command{evaluateCmd, matchesCmd} {
		c.Flags().StringP("user", "u", "", "user id (default is apply.user)")
		c.Flags().Bool("table", false, "print a table instead of json")
	}
}

func printMatches(cmd *cobra.Command, results []evaluation.MatchResult) error {
	if table, _ := cmd.Flags().GetBool("table"); table {
		return matchTable(cmd.OutOrStdout(), results)
	}
	return printJSON(cmd.OutOrStdout(), results)
}

func matchTable(out io.Writer, results []evaluation.MatchResult) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tSCORE\tJOB\tTITLE\tCOMPANY")
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%.3f\t%s\t%s\t%s\n", r.Rank, r.Score, r.JobID, r.Title, r.Company)
	}
	return w.Flush()
}
