package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/ruhrdata/regiolake/pkg/registry"
	"github.com/ruhrdata/regiolake/pkg/verify"
	"github.com/spf13/cobra"
)

var errVerificationFailed = errors.New("verification failed")

type VerifyCmd struct{}

func NewVerifyCmd() *VerifyCmd {
	return &VerifyCmd{}
}

func (c *VerifyCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify loaded indicators; exits non-zero on FAIL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			codes, err := cmd.Flags().GetStringSlice("indicator")
			if err != nil {
				return fmt.Errorf("failed to get indicator flag: %w", err)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if len(codes) == 0 {
				reg, err := registry.Load(e.cfg.RegistryPath)
				if err != nil {
					return err
				}
				for _, ind := range reg.Indicators() {
					codes = append(codes, ind.Code)
				}
			}

			v, err := newVerifier(e)
			if err != nil {
				return err
			}
			var failed []string
			for _, code := range codes {
				report, err := verifyIndicator(ctx, v, code)
				if err != nil {
					return err
				}
				printReport(cmd.OutOrStdout(), report)
				if report.Err() != nil {
					failed = append(failed, code)
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("%w: %s", errVerificationFailed, strings.Join(failed, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("indicator", nil, "indicator code (repeatable, default: every registered indicator)")
	return cmd
}

func verifyIndicator(ctx context.Context, v *verify.Verifier, code string) (*verify.Report, error) {
	id, err := v.IndicatorID(ctx, code)
	if err != nil {
		return nil, err
	}
	return v.Verify(ctx, id)
}

func printReport(w io.Writer, r *verify.Report) {
	years := "-"
	if len(r.Years) > 0 {
		years = fmt.Sprintf("%d-%d (%d)", r.MinYear, r.MaxYear, len(r.Years))
	}
	missing := "-"
	if len(r.MustHaveMissing) > 0 {
		missing = strings.Join(r.MustHaveMissing, ", ")
	}
	reasons := "-"
	if len(r.Reasons) > 0 {
		reasons = strings.Join(r.Reasons, "\n")
	}

	table := newTable(w)
	table.SetHeader([]string{"Check", r.IndicatorCode})
	table.SetRowLine(true)
	table.AppendBulk([][]string{
		{"Name", r.IndicatorName},
		{"Records", strconv.Itoa(r.RecordCount)},
		{"Null values", fmt.Sprintf("%d (%.1f%%)", r.NullValues, 100*r.NullRatio)},
		{"Years", years},
		{"Regions", fmt.Sprintf("%d of %d expected", r.RegionCount, r.ExpectedRegions)},
		{"Completeness", fmt.Sprintf("%.1f%% (%d/%d cells)", 100*r.Completeness, r.PopulatedCells, r.ExpectedCells)},
		{"Must-have missing", missing},
		{"Verdict", string(r.Verdict)},
		{"Reasons", reasons},
	})
	table.Render()
}

type ExportCmd struct{}

func NewExportCmd() *ExportCmd {
	return &ExportCmd{}
}

func (c *ExportCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an indicator's facts as CSV to a file, directory or s3:// URI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := cmd.Flags().GetString("indicator")
			if err != nil {
				return fmt.Errorf("failed to get indicator flag: %w", err)
			}
			out, err := cmd.Flags().GetString("out")
			if err != nil {
				return fmt.Errorf("failed to get out flag: %w", err)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if out == "" {
				out = e.cfg.Export.Destination
			}
			if out == "" {
				return errors.New("--out or export.destination is required")
			}

			v, err := newVerifier(e)
			if err != nil {
				return err
			}
			id, err := v.IndicatorID(ctx, code)
			if err != nil {
				return err
			}

			var uploader verify.Uploader
			if strings.HasPrefix(out, "s3://") {
				client, err := verify.NewS3Client(ctx, verify.S3Config{
					Region:   os.Getenv("AWS_REGION"),
					Endpoint: os.Getenv("REGIOLAKE_S3_ENDPOINT"),
				})
				if err != nil {
					return err
				}
				uploader = client
			}

			location, err := verify.NewExporter(v, uploader).Export(ctx, id, code, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %s to %s\n", code, location)
			return nil
		},
	}
	cmd.Flags().String("indicator", "", "indicator code")
	cmd.Flags().String("out", "", "destination path, directory or s3://bucket/prefix (default: export.destination)")
	_ = cmd.MarkFlagRequired("indicator")
	return cmd
}

type ReloadCmd struct{}

func NewReloadCmd() *ReloadCmd {
	return &ReloadCmd{}
}

func (c *ReloadCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Delete an indicator's facts and load them again from the source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := cmd.Flags().GetString("indicator")
			if err != nil {
				return fmt.Errorf("failed to get indicator flag: %w", err)
			}
			years, err := cmd.Flags().GetIntSlice("year")
			if err != nil {
				return fmt.Errorf("failed to get year flag: %w", err)
			}
			deleteOnly, err := cmd.Flags().GetBool("delete-only")
			if err != nil {
				return fmt.Errorf("failed to get delete-only flag: %w", err)
			}
			if len(years) == 0 && !deleteOnly {
				return errors.New("--year is required unless --delete-only is set")
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			v, err := newVerifier(e)
			if err != nil {
				return err
			}
			id, err := v.IndicatorID(ctx, code)
			if err != nil {
				return err
			}
			loader, err := newLoader(e)
			if err != nil {
				return err
			}
			deleted, err := loader.DeleteIndicator(ctx, id, years...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d facts of %s\n", deleted, code)
			if deleteOnly {
				return nil
			}

			p, reg, err := newPipeline(e)
			if err != nil {
				return err
			}
			ind, ok := reg.Get(code)
			if !ok {
				return fmt.Errorf("%w: %s is not in the registry", verify.ErrUnknownIndicator, code)
			}
			for _, year := range years {
				summary, err := p.Run(ctx, ind.SourceTableID, year, year)
				if summary != nil {
					printSummary(cmd.OutOrStdout(), summary)
				}
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().String("indicator", "", "indicator code")
	cmd.Flags().IntSlice("year", nil, "year to reload (repeatable)")
	cmd.Flags().Bool("delete-only", false, "only delete facts; with no --year every year is deleted")
	_ = cmd.MarkFlagRequired("indicator")
	return cmd
}
