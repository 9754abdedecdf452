package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/ruhrdata/regiolake/pkg/geography"
	"github.com/ruhrdata/regiolake/pkg/registry"
	"github.com/ruhrdata/regiolake/pkg/warehouse"
	"github.com/spf13/cobra"
)

type MigrateCmd struct{}

func NewMigrateCmd() *MigrateCmd {
	return &MigrateCmd{}
}

func (c *MigrateCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply warehouse schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := warehouse.RunMigrations(ctx, e.log, e.db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

type SeedCmd struct{}

func NewSeedCmd() *SeedCmd {
	return &SeedCmd{}
}

func (c *SeedCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load reference geography and register indicators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			skipRegistry, err := cmd.Flags().GetBool("skip-registry")
			if err != nil {
				return fmt.Errorf("failed to get skip-registry flag: %w", err)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			regions, indicators, err := seed(ctx, e, !skipRegistry)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "regions inserted: %d\nindicators registered: %d\n", regions, indicators)
			return nil
		},
	}
	cmd.Flags().Bool("skip-registry", false, "only seed geography, do not sync the indicator registry")
	return cmd
}

func seed(ctx context.Context, e *env, withRegistry bool) (int, int, error) {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	regions, err := geography.Seed(ctx, e.log, conn)
	if err != nil {
		return 0, 0, err
	}
	if !withRegistry {
		return regions, 0, nil
	}

	reg, err := registry.Load(e.cfg.RegistryPath)
	if err != nil {
		return regions, 0, err
	}
	ids, err := reg.Sync(ctx, conn)
	if err != nil {
		return regions, 0, err
	}
	return regions, len(ids), nil
}
