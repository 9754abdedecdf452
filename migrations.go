package regiolake

import "embed"

// MigrationsFS holds the warehouse schema migrations, applied in filename order.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS
