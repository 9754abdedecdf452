package warehousetesting

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ruhrdata/regiolake/pkg/warehouse"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

type PostgresConfig struct {
	Database       string
	Username       string
	Password       string
	ContainerImage string
}

func (cfg *PostgresConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = "regiolake"
	}
	if cfg.Username == "" {
		cfg.Username = "regiolake"
	}
	if cfg.Password == "" {
		cfg.Password = "password"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "postgres:16-alpine"
	}
	return nil
}

func NewLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// NewDB returns a migrated in-memory DuckDB warehouse that is closed when the test ends.
func NewDB(t testing.TB) *warehouse.SQLDB {
	t.Helper()
	ctx := t.Context()
	log := NewLogger()

	db, err := warehouse.Open(ctx, log, "duckdb://")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("failed to close warehouse: %v", err)
		}
	})

	require.NoError(t, warehouse.RunMigrations(ctx, log, db))
	return db
}

// NewPostgresDB starts a PostgreSQL container and returns a migrated warehouse on it.
// Skipped in -short mode.
func NewPostgresDB(t testing.TB, cfg *PostgresConfig) *warehouse.SQLDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := t.Context()

	if cfg == nil {
		cfg = &PostgresConfig{}
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("failed to validate postgres config: %v", err)
	}

	// Retry container start up to 3 times for retryable errors
	var container *tcpostgres.PostgresContainer
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		var err error
		container, err = tcpostgres.Run(ctx,
			cfg.ContainerImage,
			tcpostgres.WithDatabase(cfg.Database),
			tcpostgres.WithUsername(cfg.Username),
			tcpostgres.WithPassword(cfg.Password),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			lastErr = err
			if isRetryableContainerStartErr(err) && attempt < 3 {
				time.Sleep(time.Duration(attempt) * 750 * time.Millisecond)
				continue
			}
			require.NoError(t, err)
		}
		break
	}
	if container == nil {
		t.Fatalf("failed to start postgres container after retries: %v", lastErr)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	log := NewLogger()
	db, err := warehouse.Open(ctx, log, dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("failed to close warehouse: %v", err)
		}
	})

	require.NoError(t, warehouse.RunMigrations(ctx, log, db))
	return db
}

func isRetryableContainerStartErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "wait until ready") ||
		strings.Contains(s, "mapped port") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "context deadline exceeded")
}
