package verify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ruhrdata/regiolake/pkg/warehouse"
)

type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictWarn Verdict = "WARN"
	VerdictFail Verdict = "FAIL"
)

const (
	defaultPassCompleteness = 0.85
	defaultWarnCompleteness = 0.70
	defaultMinYears         = 10
)

var ErrUnknownIndicator = errors.New("unknown indicator")

type Config struct {
	Logger          *slog.Logger
	DB              warehouse.DB
	MustHaveRegions []string
	// ExpectedRegions is the denominator of the completeness ratio. Defaults to
	// every district and urban district in dim_geography.
	ExpectedRegions  []string
	PassCompleteness float64
	WarnCompleteness float64
	MinYears         int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("db is required")
	}
	if cfg.PassCompleteness == 0 {
		cfg.PassCompleteness = defaultPassCompleteness
	}
	if cfg.WarnCompleteness == 0 {
		cfg.WarnCompleteness = defaultWarnCompleteness
	}
	if cfg.WarnCompleteness > cfg.PassCompleteness {
		return errors.New("warn completeness must not exceed pass completeness")
	}
	if cfg.MinYears == 0 {
		cfg.MinYears = defaultMinYears
	}
	return nil
}

// Report is the outcome of verifying one indicator.
type Report struct {
	IndicatorID     int64
	IndicatorCode   string
	IndicatorName   string
	RecordCount     int
	NullValues      int
	NullRatio       float64
	Years           []int
	MinYear         int
	MaxYear         int
	RegionCount     int
	ExpectedRegions int
	PopulatedCells  int
	ExpectedCells   int
	Completeness    float64
	MustHaveMissing []string
	Verdict         Verdict
	Reasons         []string
}

// Err returns a *Failure when the verdict is FAIL.
func (r *Report) Err() error {
	if r.Verdict == VerdictFail {
		return &Failure{Report: r}
	}
	return nil
}

// Failure is a FAIL verdict surfaced as an error. It does not undo the load.
type Failure struct {
	Report *Report
}

func (f *Failure) Error() string {
	return fmt.Sprintf("verification of %s failed: %s", f.Report.IndicatorCode, strings.Join(f.Report.Reasons, "; "))
}

// Verifier checks loaded indicators for coverage. It never writes.
type Verifier struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Verifier{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// IndicatorID looks up the id of an indicator code.
func (v *Verifier) IndicatorID(ctx context.Context, code string) (int64, error) {
	conn, err := v.cfg.DB.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	var id int64
	err = conn.QueryRowContext(ctx, `SELECT indicator_id FROM dim_indicator WHERE indicator_code = $1`, code).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownIndicator, code)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up indicator %s: %w", code, err)
	}
	return id, nil
}

func (v *Verifier) Verify(ctx context.Context, indicatorID int64) (*Report, error) {
	conn, err := v.cfg.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	r := &Report{IndicatorID: indicatorID}
	err = conn.QueryRowContext(ctx,
		`SELECT indicator_code, indicator_name FROM dim_indicator WHERE indicator_id = $1`, indicatorID,
	).Scan(&r.IndicatorCode, &r.IndicatorName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownIndicator, indicatorID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up indicator: %w", err)
	}

	err = conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) - COUNT(value), COUNT(DISTINCT geo_id)
		FROM fact_demographics
		WHERE indicator_id = $1`, indicatorID,
	).Scan(&r.RecordCount, &r.NullValues, &r.RegionCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count facts: %w", err)
	}
	if r.RecordCount > 0 {
		r.NullRatio = float64(r.NullValues) / float64(r.RecordCount)
	}

	if r.Years, err = v.years(ctx, conn, indicatorID); err != nil {
		return nil, err
	}
	if len(r.Years) > 0 {
		r.MinYear, r.MaxYear = r.Years[0], r.Years[len(r.Years)-1]
	}

	populated, err := v.populatedCells(ctx, conn, indicatorID)
	if err != nil {
		return nil, err
	}

	expected := v.cfg.ExpectedRegions
	if len(expected) == 0 {
		if expected, err = defaultExpectedRegions(ctx, conn); err != nil {
			return nil, err
		}
	}
	r.ExpectedRegions = len(expected)
	r.ExpectedCells = len(expected) * len(r.Years)
	for _, code := range expected {
		r.PopulatedCells += populated[code]
	}
	if r.ExpectedCells > 0 {
		r.Completeness = float64(r.PopulatedCells) / float64(r.ExpectedCells)
	}

	for _, code := range v.cfg.MustHaveRegions {
		if populated[code] == 0 {
			r.MustHaveMissing = append(r.MustHaveMissing, code)
		}
	}

	v.decide(r)

	MetricVerdictsTotal.WithLabelValues(r.IndicatorCode, string(r.Verdict)).Inc()
	v.log.Info("verify: indicator checked",
		"indicator", r.IndicatorCode,
		"verdict", r.Verdict,
		"records", r.RecordCount,
		"years", len(r.Years),
		"regions", r.RegionCount,
		"completeness", strconv.FormatFloat(r.Completeness, 'f', 3, 64),
		"must_have_missing", r.MustHaveMissing)
	return r, nil
}

func (v *Verifier) decide(r *Report) {
	var fail, warn []string
	if len(r.MustHaveMissing) > 0 {
		fail = append(fail, "missing must-have regions: "+strings.Join(r.MustHaveMissing, ", "))
	}
	if len(r.Years) == 0 {
		fail = append(fail, "no years with data")
	}
	switch {
	case r.Completeness < v.cfg.WarnCompleteness:
		fail = append(fail, fmt.Sprintf("completeness %.1f%% below %.0f%%", r.Completeness*100, v.cfg.WarnCompleteness*100))
	case r.Completeness < v.cfg.PassCompleteness:
		warn = append(warn, fmt.Sprintf("completeness %.1f%% below %.0f%%", r.Completeness*100, v.cfg.PassCompleteness*100))
	}
	if len(r.Years) > 0 && len(r.Years) < v.cfg.MinYears {
		warn = append(warn, fmt.Sprintf("%d years of data, target is %d", len(r.Years), v.cfg.MinYears))
	}

	switch {
	case len(fail) > 0:
		r.Verdict = VerdictFail
		r.Reasons = append(fail, warn...)
	case len(warn) > 0:
		r.Verdict = VerdictWarn
		r.Reasons = warn
	default:
		r.Verdict = VerdictPass
	}
}

func (v *Verifier) years(ctx context.Context, conn warehouse.Connection, indicatorID int64) ([]int, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT DISTINCT t.year
		FROM fact_demographics f
		JOIN dim_time t ON t.time_id = f.time_id
		WHERE f.indicator_id = $1
		ORDER BY t.year`, indicatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query years: %w", err)
	}
	defer rows.Close()

	var years []int
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, fmt.Errorf("failed to scan year: %w", err)
		}
		years = append(years, y)
	}
	return years, rows.Err()
}

// populatedCells counts, per region code, the years holding a non-null value.
func (v *Verifier) populatedCells(ctx context.Context, conn warehouse.Connection, indicatorID int64) (map[string]int, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT g.region_code, COUNT(DISTINCT t.year)
		FROM fact_demographics f
		JOIN dim_geography g ON g.geo_id = f.geo_id
		JOIN dim_time t ON t.time_id = f.time_id
		WHERE f.indicator_id = $1 AND f.value IS NOT NULL
		GROUP BY g.region_code`, indicatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query coverage: %w", err)
	}
	defer rows.Close()

	cells := make(map[string]int)
	for rows.Next() {
		var (
			code  string
			years int
		)
		if err := rows.Scan(&code, &years); err != nil {
			return nil, fmt.Errorf("failed to scan coverage: %w", err)
		}
		cells[code] = years
	}
	return cells, rows.Err()
}

func defaultExpectedRegions(ctx context.Context, conn warehouse.Connection) ([]string, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT region_code FROM dim_geography
		WHERE region_type IN ('district', 'urban_district')
		ORDER BY region_code`)
	if err != nil {
		return nil, fmt.Errorf("failed to query expected regions: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan region: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}
