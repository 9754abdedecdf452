package warehouse

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ruhrdata/regiolake"
)

const createMigrationsTableSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    VARCHAR PRIMARY KEY,
	applied_at TIMESTAMP NOT NULL
)`

// RunMigrations executes all embedded SQL migrations that have not been applied yet.
// Migrations are executed in filename order (0001_*.sql, 0002_*.sql, etc.) and
// recorded in schema_migrations.
func RunMigrations(ctx context.Context, log *slog.Logger, db DB) error {
	return runMigrationsFS(ctx, log, db, regiolake.MigrationsFS, "migrations")
}

func runMigrationsFS(ctx context.Context, log *slog.Logger, db DB, fsys fs.ReadDirFS, dir string) error {
	log.Info("warehouse: running migrations")

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	applied, err := appliedMigrations(ctx, conn)
	if err != nil {
		return err
	}

	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrationFiles []fs.DirEntry
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			migrationFiles = append(migrationFiles, entry)
		}
	}
	sort.Slice(migrationFiles, func(i, j int) bool {
		return migrationFiles[i].Name() < migrationFiles[j].Name()
	})

	if len(migrationFiles) == 0 {
		log.Warn("warehouse: no migration files found")
		return nil
	}

	ran := 0
	for _, entry := range migrationFiles {
		version := strings.TrimSuffix(entry.Name(), ".sql")
		if applied[version] {
			log.Debug("warehouse: migration already applied", "version", version)
			continue
		}

		content, err := fs.ReadFile(fsys, dir+"/"+entry.Name())
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}

		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %s: %w", version, err)
		}
		for i, stmt := range splitSQLStatements(string(content)) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("failed to execute migration %s (statement %d): %w", entry.Name(), i+1, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`, version, time.Now().UTC()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", version, err)
		}

		log.Info("warehouse: applied migration", "version", version)
		ran++
	}

	log.Info("warehouse: migrations up to date", "applied", ran, "total", len(migrationFiles))
	return nil
}

func appliedMigrations(ctx context.Context, conn Connection) (map[string]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// splitSQLStatements splits SQL content by semicolon, handling comments and multi-line statements
func splitSQLStatements(content string) []string {
	var statements []string
	var current strings.Builder

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}

		current.WriteString(line)
		current.WriteString("\n")

		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSuffix(strings.TrimSpace(current.String()), ";")
			if stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
		}
	}

	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}

	return statements
}
