package cli

import (
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/ruhrdata/regiolake/pkg/extract"
	"github.com/ruhrdata/regiolake/pkg/load"
	"github.com/ruhrdata/regiolake/pkg/pipeline"
	"github.com/ruhrdata/regiolake/pkg/registry"
	"github.com/ruhrdata/regiolake/pkg/verify"
	"github.com/spf13/cobra"
)

type RunCmd struct{}

func NewRunCmd() *RunCmd {
	return &RunCmd{}
}

func (c *RunCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Extract, transform, load and verify source tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tables, err := cmd.Flags().GetStringSlice("table")
			if err != nil {
				return fmt.Errorf("failed to get table flag: %w", err)
			}
			all, err := cmd.Flags().GetBool("all")
			if err != nil {
				return fmt.Errorf("failed to get all flag: %w", err)
			}
			from, err := cmd.Flags().GetInt("from")
			if err != nil {
				return fmt.Errorf("failed to get from flag: %w", err)
			}
			to, err := cmd.Flags().GetInt("to")
			if err != nil {
				return fmt.Errorf("failed to get to flag: %w", err)
			}
			if to == 0 {
				to = from
			}
			if all == (len(tables) > 0) {
				return errors.New("specify exactly one of --table or --all")
			}
			if from == 0 || from > to {
				return fmt.Errorf("invalid year range %d-%d", from, to)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			p, reg, err := newPipeline(e)
			if err != nil {
				return err
			}
			if all {
				tables = reg.Tables()
			}

			var failed []string
			for _, table := range tables {
				summary, err := p.Run(ctx, table, from, to)
				if summary != nil {
					printSummary(cmd.OutOrStdout(), summary)
				}
				if err != nil {
					return err
				}
				failed = append(failed, summary.Failed()...)
			}
			if len(failed) > 0 {
				return fmt.Errorf("verification failed for %v", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("table", nil, "source table id (repeatable)")
	cmd.Flags().Bool("all", false, "run every table in the registry")
	cmd.Flags().Int("from", 0, "first year")
	cmd.Flags().Int("to", 0, "last year (defaults to --from)")
	return cmd
}

func newPipeline(e *env) (*pipeline.Pipeline, *registry.Registry, error) {
	reg, err := registry.Load(e.cfg.RegistryPath)
	if err != nil {
		return nil, nil, err
	}
	src, err := e.cfg.SourceConfig()
	if err != nil {
		return nil, nil, err
	}
	client, err := extract.NewClient(extract.Config{
		Logger:     e.log,
		BaseURL:    src.BaseURL,
		Username:   src.Username,
		Password:   src.Password,
		MaxRetries: e.cfg.Source.MaxRetries,
		Timeout:    e.cfg.Source.RequestTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	loader, err := newLoader(e)
	if err != nil {
		return nil, nil, err
	}
	verifier, err := newVerifier(e)
	if err != nil {
		return nil, nil, err
	}
	p, err := pipeline.New(pipeline.Config{
		Logger:    e.log,
		DB:        e.db,
		Extractor: client,
		Registry:  reg,
		Loader:    loader,
		Verifier:  verifier,

		FetchConcurrency: e.cfg.Source.Concurrency,
	})
	if err != nil {
		return nil, nil, err
	}
	return p, reg, nil
}

func newLoader(e *env) (*load.Loader, error) {
	return load.New(load.Config{
		Logger:          e.log,
		DB:              e.db,
		StrictGeography: e.cfg.Source.StrictGeography,
	})
}

func newVerifier(e *env) (*verify.Verifier, error) {
	v := e.cfg.Verification
	return verify.New(verify.Config{
		Logger:           e.log,
		DB:               e.db,
		MustHaveRegions:  v.MustHaveRegions,
		ExpectedRegions:  v.ExpectedRegions,
		PassCompleteness: v.PassCompleteness,
		WarnCompleteness: v.WarnCompleteness,
		MinYears:         v.MinYears,
	})
}

func printSummary(w io.Writer, s *pipeline.Summary) {
	fmt.Fprintf(w, "Table: %s\n", s.TableID)
	fmt.Fprintf(w, "Years loaded: %v\n", s.Years)
	fmt.Fprintf(w, "Rows extracted: %d\n", s.Extracted)

	table := newTable(w)
	table.SetHeader([]string{"Indicator", "Transformed", "Dropped", "Duplicates", "Skipped", "Deleted", "Loaded", "Verdict"})
	for _, ind := range s.Indicators {
		verdict := "-"
		if ind.Report != nil {
			verdict = string(ind.Report.Verdict)
		}
		table.Append([]string{
			ind.Code,
			strconv.Itoa(ind.Transformed),
			strconv.Itoa(ind.Dropped),
			strconv.Itoa(ind.Duplicates),
			strconv.Itoa(ind.Skipped),
			strconv.Itoa(ind.Deleted),
			strconv.Itoa(ind.Loaded),
			verdict,
		})
	}
	table.Render()
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	return table
}
