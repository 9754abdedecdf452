package registry

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/ruhrdata/regiolake/pkg/transform"
	"github.com/ruhrdata/regiolake/pkg/warehouse"
	"gopkg.in/yaml.v3"
)

const (
	CategoryDemographics    = "demographics"
	CategoryLaborMarket     = "labor_market"
	CategoryBusinessEconomy = "business_economy"
	CategoryHealthcare      = "healthcare"
	CategoryPublicFinance   = "public_finance"
)

var Categories = []string{
	CategoryDemographics,
	CategoryLaborMarket,
	CategoryBusinessEconomy,
	CategoryHealthcare,
	CategoryPublicFinance,
}

// ErrSourceTableReassigned is returned when the warehouse already knows an
// indicator under a different source table.
var ErrSourceTableReassigned = errors.New("indicator source table changed")

// Indicator declares one measured quantity and where it comes from.
type Indicator struct {
	Code          string           `yaml:"code"`
	Name          string           `yaml:"name"`
	Category      string           `yaml:"category"`
	SourceTableID string           `yaml:"source_table_id"`
	Unit          string           `yaml:"unit"`
	Description   string           `yaml:"description"`
	Breakdowns    []string         `yaml:"breakdowns"`
	QualityFlag   string           `yaml:"quality_flag"`
	Layout        transform.Layout `yaml:"layout"`
}

// Spec returns the transformer spec of the indicator.
func (ind Indicator) Spec() transform.Spec {
	return transform.Spec{
		IndicatorCode: ind.Code,
		Breakdowns:    slices.Clone(ind.Breakdowns),
		QualityFlag:   ind.QualityFlag,
		Layout:        ind.Layout,
	}
}

type file struct {
	Indicators []Indicator `yaml:"indicators"`
}

// Registry is the validated, read-only set of known indicators.
type Registry struct {
	indicators []Indicator
	byCode     map[string]int
}

// Load reads and validates a registry file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry %s: %w", path, err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("registry %s: %w", path, err)
	}
	return r, nil
}

func Parse(data []byte) (*Registry, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}
	return New(f.Indicators)
}

// New validates indicators and builds a registry from them.
func New(indicators []Indicator) (*Registry, error) {
	r := &Registry{
		indicators: make([]Indicator, 0, len(indicators)),
		byCode:     make(map[string]int, len(indicators)),
	}
	for _, ind := range indicators {
		if err := validateIndicator(&ind); err != nil {
			return nil, err
		}
		if _, ok := r.byCode[ind.Code]; ok {
			return nil, fmt.Errorf("duplicate indicator code %q", ind.Code)
		}
		r.byCode[ind.Code] = len(r.indicators)
		r.indicators = append(r.indicators, clone(ind))
	}
	if len(r.indicators) == 0 {
		return nil, errors.New("registry declares no indicators")
	}
	return r, nil
}

func validateIndicator(ind *Indicator) error {
	if ind.Code == "" {
		return errors.New("indicator without code")
	}
	if ind.Name == "" {
		return fmt.Errorf("indicator %s: name is required", ind.Code)
	}
	if !slices.Contains(Categories, ind.Category) {
		return fmt.Errorf("indicator %s: unknown category %q", ind.Code, ind.Category)
	}
	if strings.TrimSpace(ind.SourceTableID) == "" {
		return fmt.Errorf("indicator %s: source_table_id is required", ind.Code)
	}
	spec := ind.Spec()
	if err := spec.Validate(); err != nil {
		return err
	}
	ind.QualityFlag = spec.QualityFlag
	ind.Layout = spec.Layout
	return nil
}

// Indicators returns all indicators in declaration order.
func (r *Registry) Indicators() []Indicator {
	out := make([]Indicator, len(r.indicators))
	for i, ind := range r.indicators {
		out[i] = clone(ind)
	}
	return out
}

func (r *Registry) Get(code string) (Indicator, bool) {
	i, ok := r.byCode[code]
	if !ok {
		return Indicator{}, false
	}
	return clone(r.indicators[i]), true
}

// ForTable returns the indicators extracted from tableID.
func (r *Registry) ForTable(tableID string) []Indicator {
	var out []Indicator
	for _, ind := range r.indicators {
		if ind.SourceTableID == tableID {
			out = append(out, clone(ind))
		}
	}
	return out
}

// Tables returns the distinct source tables, sorted.
func (r *Registry) Tables() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, ind := range r.indicators {
		if _, ok := seen[ind.SourceTableID]; ok {
			continue
		}
		seen[ind.SourceTableID] = struct{}{}
		out = append(out, ind.SourceTableID)
	}
	sort.Strings(out)
	return out
}

// Sync makes sure every indicator exists in dim_indicator and returns the
// indicator ids by code. Stored indicators are never modified.
func (r *Registry) Sync(ctx context.Context, conn warehouse.Connection) (map[string]int64, error) {
	ids := make(map[string]int64, len(r.indicators))
	for _, ind := range r.indicators {
		var (
			id     int64
			source string
		)
		err := conn.QueryRowContext(ctx,
			`SELECT indicator_id, source_table_id FROM dim_indicator WHERE indicator_code = $1`, ind.Code,
		).Scan(&id, &source)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			err = conn.QueryRowContext(ctx, `
				INSERT INTO dim_indicator (indicator_code, indicator_name, indicator_category, source_table_id, unit_of_measure, breakdowns, description)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				RETURNING indicator_id`,
				ind.Code, ind.Name, ind.Category, ind.SourceTableID, ind.Unit, strings.Join(ind.Breakdowns, ","), ind.Description,
			).Scan(&id)
			if err != nil {
				return nil, fmt.Errorf("failed to insert indicator %s: %w", ind.Code, err)
			}
		case err != nil:
			return nil, fmt.Errorf("failed to look up indicator %s: %w", ind.Code, err)
		case source != ind.SourceTableID:
			return nil, fmt.Errorf("%w: indicator %s is stored with table %s, registry declares %s",
				ErrSourceTableReassigned, ind.Code, source, ind.SourceTableID)
		}
		ids[ind.Code] = id
	}
	return ids, nil
}

func clone(ind Indicator) Indicator {
	ind.Breakdowns = slices.Clone(ind.Breakdowns)
	ind.Layout.NoteColumns = slices.Clone(ind.Layout.NoteColumns)
	ind.Layout.ValueColumns = slices.Clone(ind.Layout.ValueColumns)
	ind.Layout.Filter = maps.Clone(ind.Layout.Filter)
	return ind
}
