package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultWarehouseDSN     = "duckdb://.tmp/regiolake/warehouse.db"
	defaultRegistryPath     = "indicators.yaml"
	defaultPassCompleteness = 0.85
	defaultWarnCompleteness = 0.70
	defaultMinYears         = 10
	defaultRequestTimeout   = 2 * time.Minute
	defaultMaxRetries       = 5
	defaultConcurrency      = 1
)

// PipelineConfig is the ETL configuration file.
type PipelineConfig struct {
	Warehouse    WarehouseConfig    `yaml:"warehouse"`
	Source       SourceSettings     `yaml:"source"`
	RegistryPath string             `yaml:"registry"`
	Verification VerificationConfig `yaml:"verification"`
	Export       ExportConfig       `yaml:"export"`
}

type WarehouseConfig struct {
	DSN string `yaml:"dsn"`
}

type SourceSettings struct {
	Env string `yaml:"env"`
	// BaseURL replaces the environment's default endpoint when set.
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     uint          `yaml:"max_retries"`
	// Concurrency bounds the years of one table downloaded in parallel.
	Concurrency int `yaml:"concurrency"`
	// StrictGeography skips rows whose region code is not in dim_geography
	// instead of creating the region.
	StrictGeography bool `yaml:"strict_geography"`
}

type VerificationConfig struct {
	MustHaveRegions  []string `yaml:"must_have_regions"`
	ExpectedRegions  []string `yaml:"expected_regions"`
	PassCompleteness float64  `yaml:"pass_completeness"`
	WarnCompleteness float64  `yaml:"warn_completeness"`
	MinYears         int      `yaml:"min_years"`
}

type ExportConfig struct {
	// Destination is a directory path or an s3://bucket/prefix URI.
	Destination string `yaml:"destination"`
}

// LoadPipelineConfig reads path (if non-empty), applies environment overrides
// and fills defaults.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cfg := &PipelineConfig{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *PipelineConfig) applyEnv() error {
	if dsn := os.Getenv("REGIOLAKE_WAREHOUSE_DSN"); dsn != "" {
		cfg.Warehouse.DSN = dsn
	}
	if env := os.Getenv("REGIOLAKE_SOURCE_ENV"); env != "" {
		cfg.Source.Env = env
	}
	if baseURL := os.Getenv("REGIOLAKE_SOURCE_URL"); baseURL != "" {
		cfg.Source.BaseURL = baseURL
	}
	if path := os.Getenv("REGIOLAKE_REGISTRY"); path != "" {
		cfg.RegistryPath = path
	}
	if dest := os.Getenv("REGIOLAKE_EXPORT_DESTINATION"); dest != "" {
		cfg.Export.Destination = dest
	}
	if regions := os.Getenv("REGIOLAKE_MUST_HAVE_REGIONS"); regions != "" {
		cfg.Verification.MustHaveRegions = splitList(regions)
	}
	if minYears := os.Getenv("REGIOLAKE_MIN_YEARS"); minYears != "" {
		n, err := strconv.Atoi(minYears)
		if err != nil {
			return fmt.Errorf("invalid REGIOLAKE_MIN_YEARS %q: %w", minYears, err)
		}
		cfg.Verification.MinYears = n
	}
	return nil
}

func (cfg *PipelineConfig) Validate() error {
	if cfg.Warehouse.DSN == "" {
		cfg.Warehouse.DSN = defaultWarehouseDSN
	}
	if cfg.Source.Env == "" {
		cfg.Source.Env = EnvRegionalstatistik
	}
	if cfg.Source.RequestTimeout == 0 {
		cfg.Source.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Source.MaxRetries == 0 {
		cfg.Source.MaxRetries = defaultMaxRetries
	}
	if cfg.Source.Concurrency == 0 {
		cfg.Source.Concurrency = defaultConcurrency
	}
	if cfg.Source.Concurrency < 0 {
		return errors.New("source.concurrency must not be negative")
	}
	if cfg.RegistryPath == "" {
		cfg.RegistryPath = defaultRegistryPath
	}

	v := &cfg.Verification
	if len(v.MustHaveRegions) == 0 {
		v.MustHaveRegions = append([]string(nil), DefaultMustHaveRegions...)
	}
	if v.PassCompleteness == 0 {
		v.PassCompleteness = defaultPassCompleteness
	}
	if v.WarnCompleteness == 0 {
		v.WarnCompleteness = defaultWarnCompleteness
	}
	if v.MinYears == 0 {
		v.MinYears = defaultMinYears
	}
	if v.WarnCompleteness > v.PassCompleteness {
		return errors.New("verification.warn_completeness must not exceed verification.pass_completeness")
	}
	if v.PassCompleteness > 1 || v.WarnCompleteness < 0 {
		return errors.New("verification completeness thresholds must be within [0, 1]")
	}

	switch cfg.Source.Env {
	case EnvRegionalstatistik, EnvGenesis, EnvNRW:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEnvironment, cfg.Source.Env)
	}
	return nil
}

// SourceConfig resolves the upstream API settings of the configured environment.
func (cfg *PipelineConfig) SourceConfig() (*SourceConfig, error) {
	src, err := SourceConfigForEnv(cfg.Source.Env)
	if err != nil {
		return nil, err
	}
	if cfg.Source.BaseURL != "" {
		src.BaseURL = cfg.Source.BaseURL
	}
	return src, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
