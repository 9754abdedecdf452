package geography

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/ruhrdata/regiolake/pkg/warehouse"
	"gopkg.in/yaml.v3"
)

//go:embed regions.yaml
var regionsYAML []byte

const (
	TypeDistrict      = "district"
	TypeUrbanDistrict = "urban_district"
	TypeState         = "state"
	TypeCountry       = "country"

	CountryCode = "DG"
)

// Region is a row of dim_geography reference data.
type Region struct {
	Code      string   `yaml:"code"`
	Name      string   `yaml:"name"`
	Type      string   `yaml:"type"`
	RuhrArea  bool     `yaml:"ruhr"`
	AreaKm2   *float64 `yaml:"area_km2"`
	Latitude  *float64 `yaml:"lat"`
	Longitude *float64 `yaml:"lon"`
}

type regionsConfig struct {
	Regions []Region `yaml:"regions"`
}

var (
	defaultRegions     []Region
	defaultRegionsOnce sync.Once
	defaultRegionsErr  error
)

// Regions returns the embedded reference geography. Callers get their own copy.
func Regions() ([]Region, error) {
	defaultRegionsOnce.Do(func() {
		defaultRegions, defaultRegionsErr = parseRegions(regionsYAML)
	})
	if defaultRegionsErr != nil {
		return nil, defaultRegionsErr
	}
	return slices.Clone(defaultRegions), nil
}

func parseRegions(data []byte) ([]Region, error) {
	var cfg regionsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse regions: %w", err)
	}
	seen := make(map[string]struct{}, len(cfg.Regions))
	for _, r := range cfg.Regions {
		if r.Code == "" || r.Name == "" {
			return nil, fmt.Errorf("region %q: code and name are required", r.Code)
		}
		if _, ok := seen[r.Code]; ok {
			return nil, fmt.Errorf("duplicate region code %q", r.Code)
		}
		seen[r.Code] = struct{}{}
		switch r.Type {
		case TypeDistrict, TypeUrbanDistrict, TypeState, TypeCountry:
		default:
			return nil, fmt.Errorf("region %q: invalid type %q", r.Code, r.Type)
		}
	}
	return cfg.Regions, nil
}

// InferType guesses the region type of an official region code (AGS).
// Two digits is a state, "DG" the country. For five digit district codes the
// district number (last two digits) below 50 marks an urban district.
func InferType(code string) string {
	code = strings.TrimSpace(code)
	switch {
	case code == CountryCode:
		return TypeCountry
	case len(code) <= 2:
		return TypeState
	case len(code) == 5 && code[3] < '5':
		return TypeUrbanDistrict
	default:
		return TypeDistrict
	}
}

// Seed inserts the reference regions missing from dim_geography. Existing
// rows are never modified. It returns the number of inserted regions.
func Seed(ctx context.Context, log *slog.Logger, conn warehouse.Connection) (int, error) {
	regions, err := Regions()
	if err != nil {
		return 0, err
	}

	existing, err := existingCodes(ctx, conn)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for _, r := range regions {
		if _, ok := existing[r.Code]; ok {
			continue
		}
		_, err := conn.ExecContext(ctx, `
			INSERT INTO dim_geography (region_code, region_name, region_type, is_ruhr_area, area_km2, latitude, longitude)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (region_code) DO NOTHING`,
			r.Code, r.Name, r.Type, r.RuhrArea, nullable(r.AreaKm2), nullable(r.Latitude), nullable(r.Longitude))
		if err != nil {
			return inserted, fmt.Errorf("failed to seed region %s: %w", r.Code, err)
		}
		inserted++
	}

	log.Info("geography: seeded", "inserted", inserted, "total", len(regions))
	return inserted, nil
}

func existingCodes(ctx context.Context, conn warehouse.Connection) (map[string]struct{}, error) {
	rows, err := conn.QueryContext(ctx, `SELECT region_code FROM dim_geography`)
	if err != nil {
		return nil, fmt.Errorf("failed to query geography: %w", err)
	}
	defer rows.Close()

	codes := make(map[string]struct{})
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan region code: %w", err)
		}
		codes[code] = struct{}{}
	}
	return codes, rows.Err()
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
