package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruhrdata/regiolake/config"
	"github.com/stretchr/testify/require"
)

func clearPipelineEnv(t *testing.T) {
	for _, key := range []string{
		"REGIOLAKE_WAREHOUSE_DSN",
		"REGIOLAKE_SOURCE_ENV",
		"REGIOLAKE_SOURCE_URL",
		"REGIOLAKE_REGISTRY",
		"REGIOLAKE_EXPORT_DESTINATION",
		"REGIOLAKE_MUST_HAVE_REGIONS",
		"REGIOLAKE_MIN_YEARS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadPipelineConfig(t *testing.T) {
	t.Run("defaults_without_file", func(t *testing.T) {
		clearPipelineEnv(t)

		cfg, err := config.LoadPipelineConfig("")
		require.NoError(t, err)
		require.Equal(t, "duckdb://.tmp/regiolake/warehouse.db", cfg.Warehouse.DSN)
		require.Equal(t, config.EnvRegionalstatistik, cfg.Source.Env)
		require.Equal(t, config.DefaultMustHaveRegions, cfg.Verification.MustHaveRegions)
		require.InDelta(t, 0.85, cfg.Verification.PassCompleteness, 1e-9)
		require.InDelta(t, 0.70, cfg.Verification.WarnCompleteness, 1e-9)
		require.Equal(t, 10, cfg.Verification.MinYears)
		require.Equal(t, 2*time.Minute, cfg.Source.RequestTimeout)
		require.Equal(t, 1, cfg.Source.Concurrency)
	})

	t.Run("reads_yaml_and_env_overrides", func(t *testing.T) {
		clearPipelineEnv(t)

		path := filepath.Join(t.TempDir(), "regiolake.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
warehouse:
  dsn: postgres://wh:wh@localhost:5432/wh
source:
  env: genesis
  request_timeout: 30s
  strict_geography: true
registry: conf/indicators.yaml
verification:
  must_have_regions: ["05112", "05113"]
  min_years: 5
`), 0o644))
		t.Setenv("REGIOLAKE_MIN_YEARS", "12")

		cfg, err := config.LoadPipelineConfig(path)
		require.NoError(t, err)
		require.Equal(t, "postgres://wh:wh@localhost:5432/wh", cfg.Warehouse.DSN)
		require.Equal(t, config.EnvGenesis, cfg.Source.Env)
		require.Equal(t, 30*time.Second, cfg.Source.RequestTimeout)
		require.True(t, cfg.Source.StrictGeography)
		require.Equal(t, "conf/indicators.yaml", cfg.RegistryPath)
		require.Equal(t, []string{"05112", "05113"}, cfg.Verification.MustHaveRegions)
		require.Equal(t, 12, cfg.Verification.MinYears)

		src, err := cfg.SourceConfig()
		require.NoError(t, err)
		require.Equal(t, config.GenesisBaseURL, src.BaseURL)
	})

	t.Run("source_base_url_override", func(t *testing.T) {
		clearPipelineEnv(t)

		path := filepath.Join(t.TempDir(), "regiolake.yaml")
		require.NoError(t, os.WriteFile(path, []byte("source:\n  env: nrw\n  base_url: http://file.example\n"), 0o644))

		cfg, err := config.LoadPipelineConfig(path)
		require.NoError(t, err)
		src, err := cfg.SourceConfig()
		require.NoError(t, err)
		require.Equal(t, "http://file.example", src.BaseURL)

		t.Setenv("REGIOLAKE_SOURCE_URL", "http://env.example")
		cfg, err = config.LoadPipelineConfig(path)
		require.NoError(t, err)
		src, err = cfg.SourceConfig()
		require.NoError(t, err)
		require.Equal(t, "http://env.example", src.BaseURL)
	})

	t.Run("rejects_inverted_thresholds", func(t *testing.T) {
		clearPipelineEnv(t)

		path := filepath.Join(t.TempDir(), "regiolake.yaml")
		require.NoError(t, os.WriteFile(path, []byte("verification:\n  pass_completeness: 0.6\n  warn_completeness: 0.8\n"), 0o644))
		_, err := config.LoadPipelineConfig(path)
		require.Error(t, err)
	})

	t.Run("rejects_unknown_source_env", func(t *testing.T) {
		clearPipelineEnv(t)
		t.Setenv("REGIOLAKE_SOURCE_ENV", "eurostat")
		_, err := config.LoadPipelineConfig("")
		require.ErrorIs(t, err, config.ErrInvalidEnvironment)
	})
}
