package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/blacksoil/HomographyAnalyzer/internal/batch"
	"github.com/blacksoil/HomographyAnalyzer/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List recorded runs from the result store",
	Long: `List the most recent runs recorded in the result store, or the pair results of one
run. Needs store.enabled and store.dsn.

Examples:
  homography runs --limit 5
  homography runs 42 --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRunsCommand,
}

func runRunsCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if !cfg.Store.Enabled {
		return errors.New("result store is disabled (set store.enabled and store.dsn)")
	}
	format, _ := cmd.Flags().GetString("format")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	st, err := store.New(ctx, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("failed to open result store: %w", err)
	}
	defer st.Close()

	if len(args) == 1 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid run id %q: %w", args[0], err)
		}
		pairs, err := st.Pairs(ctx, id)
		if err != nil {
			return err
		}
		out, err := batch.FormatInfo(&batch.Info{Reference: "run " + args[0], Targets: pairs}, format)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	}

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := st.RecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tSTARTED\tREFERENCE\tDETECTOR\tDESCRIPTOR\tOK\tFAILED")
	for _, r := range runs {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%d\n", r.ID, r.StartedAt.Format(time.RFC3339),
			r.Reference, r.Detector, r.Descriptor, r.Succeeded, r.Failed)
	}
	return tw.Flush()
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().Int("limit", 20, "number of runs to list")
	runsCmd.Flags().StringP("format", "f", outputFormatText, "pair report format: text, json, csv")
}
