package cli

import (
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ruhrdata/regiolake/pkg/load"
	"github.com/spf13/cobra"
)

type RunsCmd struct{}

func NewRunsCmd() *RunsCmd {
	return &RunsCmd{}
}

func (c *RunsCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent ETL runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := cmd.Flags().GetInt("limit")
			if err != nil {
				return fmt.Errorf("failed to get limit flag: %w", err)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			loader, err := newLoader(e)
			if err != nil {
				return err
			}
			runs, err := loader.RecentRuns(ctx, limit)
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "number of runs to show")
	return cmd
}

func printRuns(w io.Writer, runs []load.Run) {
	table := newTable(w)
	table.SetHeader([]string{"Started", "Table", "Indicator", "Year", "Status", "Extracted", "Loaded", "Dropped", "Verdict", "Duration", "Error"})
	for _, r := range runs {
		duration := "-"
		if !r.FinishedAt.IsZero() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		indicator := r.IndicatorCode
		if indicator == "" {
			indicator = "-"
		}
		table.Append([]string{
			r.StartedAt.UTC().Format(time.RFC3339),
			r.SourceTableID,
			indicator,
			strconv.Itoa(r.Year),
			string(r.Status),
			strconv.Itoa(r.RowsExtracted),
			strconv.Itoa(r.RowsLoaded),
			strconv.Itoa(r.RowsDropped),
			r.Verdict,
			duration,
			r.Error,
		})
	}
	table.Render()
}
