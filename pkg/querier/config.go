package querier

import (
	"errors"
	"log/slog"

	"github.com/ruhrdata/regiolake/pkg/warehouse"
)

const defaultMaxRows = 1000

type Config struct {
	Logger *slog.Logger
	DB     warehouse.DB

	// MaxRows caps the rows returned by Query. Further rows are dropped and
	// the response is marked truncated.
	MaxRows int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("database is required")
	}
	if cfg.MaxRows < 0 {
		return errors.New("max rows must not be negative")
	}
	if cfg.MaxRows == 0 {
		cfg.MaxRows = defaultMaxRows
	}
	return nil
}
