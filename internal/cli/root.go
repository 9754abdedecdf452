package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruhrdata/regiolake/config"
	"github.com/ruhrdata/regiolake/pkg/logger"
	"github.com/ruhrdata/regiolake/pkg/warehouse"
	"github.com/spf13/cobra"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

func Run() ExitCode {
	if err := NewRootCmd().Execute(); err != nil {
		return exitCodeError
	}
	return exitCodeSuccess
}

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "regiolake",
		Short:         "ETL CLI for the regional statistics warehouse.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Help(); err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "set debug logging level")
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the pipeline YAML config")
	rootCmd.PersistentFlags().String("dsn", "", "warehouse DSN, overrides the config file")

	rootCmd.AddCommand(
		NewMigrateCmd().Command(),
		NewSeedCmd().Command(),
		NewRunCmd().Command(),
		NewVerifyCmd().Command(),
		NewExportCmd().Command(),
		NewReloadCmd().Command(),
		NewRunsCmd().Command(),
	)
	return rootCmd
}

// env is the state shared by every subcommand.
type env struct {
	log *slog.Logger
	cfg *config.PipelineConfig
	db  *warehouse.SQLDB
}

func openEnv(ctx context.Context, cmd *cobra.Command) (*env, error) {
	verbose, err := cmd.Root().PersistentFlags().GetBool("verbose")
	if err != nil {
		return nil, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	path, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	dsn, err := cmd.Root().PersistentFlags().GetString("dsn")
	if err != nil {
		return nil, fmt.Errorf("failed to get dsn flag: %w", err)
	}

	log := logger.NewWithWriter(cmd.ErrOrStderr(), verbose)
	cfg, err := config.LoadPipelineConfig(path)
	if err != nil {
		return nil, err
	}
	if dsn != "" {
		cfg.Warehouse.DSN = dsn
	}

	db, err := warehouse.Open(ctx, log, cfg.Warehouse.DSN)
	if err != nil {
		return nil, err
	}
	return &env{log: log, cfg: cfg, db: db}, nil
}

func (e *env) Close() {
	if err := e.db.Close(); err != nil {
		e.log.Error("failed to close warehouse", "error", err)
	}
}
