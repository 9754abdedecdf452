package querier

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ruhrdata/regiolake/pkg/warehouse"
)

const (
	// Commuter indicators feeding the derived commuter balance.
	CommutersInCode  = "commuters_in"
	CommutersOutCode = "commuters_out"

	categoryLaborMarket = "labor_market"
)

// totalsOnly restricts facts to aggregates so breakdown members are not
// counted twice.
const totalsOnly = `COALESCE(f.gender, 'total') = 'total'
	AND COALESCE(f.nationality, 'total') = 'total'
	AND COALESCE(f.age_group, 'total') = 'total'`

type City struct {
	GeoID      int64    `json:"geoId"`
	RegionCode string   `json:"regionCode"`
	Name       string   `json:"name"`
	RegionType string   `json:"regionType"`
	RuhrArea   bool     `json:"isRuhrArea"`
	AreaKm2    *float64 `json:"areaKm2"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
}

type SnapshotRow struct {
	RegionCode    string   `json:"regionCode"`
	RegionName    string   `json:"regionName"`
	IndicatorCode string   `json:"indicatorCode"`
	IndicatorName string   `json:"indicatorName"`
	Unit          string   `json:"unit"`
	Year          int      `json:"year"`
	Value         *float64 `json:"value"`
}

// CommuterBalance is commuters in minus commuters out, derived on read.
type CommuterBalance struct {
	RegionCode   string  `json:"regionCode"`
	RegionName   string  `json:"regionName"`
	Year         int     `json:"year"`
	CommutersIn  float64 `json:"commutersIn"`
	CommutersOut float64 `json:"commutersOut"`
	Balance      float64 `json:"balance"`
}

type Snapshot struct {
	Category        string            `json:"category"`
	Year            int               `json:"year"`
	Rows            []SnapshotRow     `json:"data"`
	CommuterBalance []CommuterBalance `json:"commuterBalance,omitempty"`
}

type TimeSeriesPoint struct {
	RegionCode string   `json:"regionCode"`
	RegionName string   `json:"regionName"`
	Year       int      `json:"year"`
	Value      *float64 `json:"value"`
}

type Indicator struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	Category      string `json:"category"`
	Unit          string `json:"unit"`
	SourceTableID string `json:"sourceTableId"`
	Breakdowns    string `json:"breakdowns"`
	Description   string `json:"description"`
}

// IndicatorRange is the span of years holding data for an indicator.
type IndicatorRange struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Category string `json:"category"`
	MinYear  int    `json:"minYear"`
	MaxYear  int    `json:"maxYear"`
	Years    int    `json:"yearCount"`
}

// YearOutOfRangeError reports a year outside the covered range. Min and Max
// are zero when there is no data at all.
type YearOutOfRangeError struct {
	Year int
	Min  int
	Max  int
}

func (e *YearOutOfRangeError) Error() string {
	if e.Min == 0 && e.Max == 0 {
		return fmt.Sprintf("no data available for year %d", e.Year)
	}
	return fmt.Sprintf("year %d outside available range %d-%d", e.Year, e.Min, e.Max)
}

func (q *Querier) Cities(ctx context.Context) ([]City, error) {
	defer observe("cities", time.Now())

	conn, err := q.cfg.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, `
		SELECT geo_id, region_code, region_name, region_type, is_ruhr_area, area_km2, latitude, longitude
		FROM dim_geography
		ORDER BY region_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cities: %w", err)
	}
	defer rows.Close()

	cities := []City{}
	for rows.Next() {
		var (
			c                         City
			area, latitude, longitude sql.NullFloat64
		)
		if err := rows.Scan(&c.GeoID, &c.RegionCode, &c.Name, &c.RegionType, &c.RuhrArea, &area, &latitude, &longitude); err != nil {
			return nil, fmt.Errorf("failed to scan city: %w", err)
		}
		c.AreaKm2 = nullFloat(area)
		c.Latitude = nullFloat(latitude)
		c.Longitude = nullFloat(longitude)
		cities = append(cities, c)
	}
	return cities, rows.Err()
}

// CategorySnapshot returns the totals of every indicator of a category for one year,
// grouped by region and indicator and sorted by region name then indicator
// name. cities filters by region name or code; empty means all regions.
func (q *Querier) CategorySnapshot(ctx context.Context, category string, year int, cities []string) (*Snapshot, error) {
	defer observe("snapshot", time.Now())

	conn, err := q.cfg.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	if err := checkYear(ctx, conn, `i.indicator_category = $1`, []any{category}, year); err != nil {
		return nil, err
	}

	query := `
		SELECT g.region_code, g.region_name, i.indicator_code, i.indicator_name, i.unit_of_measure, t.year, SUM(f.value)
		FROM fact_demographics f
		JOIN dim_geography g ON g.geo_id = f.geo_id
		JOIN dim_time t ON t.time_id = f.time_id
		JOIN dim_indicator i ON i.indicator_id = f.indicator_id
		WHERE i.indicator_category = $1 AND t.year = $2 AND t.quarter = 0
			AND ` + totalsOnly
	args := []any{category, year}
	query, args = withCities(query, args, cities)
	query += `
		GROUP BY g.region_code, g.region_name, i.indicator_code, i.indicator_name, i.unit_of_measure, t.year
		ORDER BY g.region_name, i.indicator_name`

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	snap := &Snapshot{Category: category, Year: year, Rows: []SnapshotRow{}}
	for rows.Next() {
		var (
			r     SnapshotRow
			value sql.NullFloat64
		)
		if err := rows.Scan(&r.RegionCode, &r.RegionName, &r.IndicatorCode, &r.IndicatorName, &r.Unit, &r.Year, &value); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		r.Value = nullFloat(value)
		snap.Rows = append(snap.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot rows: %w", err)
	}

	if category == categoryLaborMarket {
		snap.CommuterBalance = commuterBalance(snap.Rows)
	}
	return snap, nil
}

func commuterBalance(rows []SnapshotRow) []CommuterBalance {
	type pair struct {
		in, out *float64
		name    string
		year    int
	}
	var order []string
	pairs := make(map[string]*pair)
	for _, r := range rows {
		if r.IndicatorCode != CommutersInCode && r.IndicatorCode != CommutersOutCode {
			continue
		}
		p, ok := pairs[r.RegionCode]
		if !ok {
			p = &pair{name: r.RegionName, year: r.Year}
			pairs[r.RegionCode] = p
			order = append(order, r.RegionCode)
		}
		if r.IndicatorCode == CommutersInCode {
			p.in = r.Value
		} else {
			p.out = r.Value
		}
	}

	balances := []CommuterBalance{}
	for _, code := range order {
		p := pairs[code]
		if p.in == nil || p.out == nil {
			continue
		}
		balances = append(balances, CommuterBalance{
			RegionCode:   code,
			RegionName:   p.name,
			Year:         p.year,
			CommutersIn:  *p.in,
			CommutersOut: *p.out,
			Balance:      *p.in - *p.out,
		})
	}
	return balances
}

// TimeSeries returns one total per region and year of an indicator. A range
// without data yields an empty slice.
func (q *Querier) TimeSeries(ctx context.Context, indicatorCode string, startYear, endYear int, cities []string) ([]TimeSeriesPoint, error) {
	defer observe("timeseries", time.Now())

	if startYear > endYear {
		return nil, fmt.Errorf("start year %d after end year %d", startYear, endYear)
	}
	conn, err := q.cfg.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	query := `
		SELECT g.region_code, g.region_name, t.year, SUM(f.value)
		FROM fact_demographics f
		JOIN dim_geography g ON g.geo_id = f.geo_id
		JOIN dim_time t ON t.time_id = f.time_id
		JOIN dim_indicator i ON i.indicator_id = f.indicator_id
		WHERE i.indicator_code = $1 AND t.year BETWEEN $2 AND $3 AND t.quarter = 0
			AND ` + totalsOnly
	args := []any{indicatorCode, startYear, endYear}
	query, args = withCities(query, args, cities)
	query += `
		GROUP BY g.region_code, g.region_name, t.year
		ORDER BY g.region_name, t.year`

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query time series: %w", err)
	}
	defer rows.Close()

	points := []TimeSeriesPoint{}
	for rows.Next() {
		var (
			p     TimeSeriesPoint
			value sql.NullFloat64
		)
		if err := rows.Scan(&p.RegionCode, &p.RegionName, &p.Year, &value); err != nil {
			return nil, fmt.Errorf("failed to scan time series row: %w", err)
		}
		p.Value = nullFloat(value)
		points = append(points, p)
	}
	return points, rows.Err()
}

func (q *Querier) Indicators(ctx context.Context) ([]Indicator, error) {
	defer observe("indicators", time.Now())

	conn, err := q.cfg.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, `
		SELECT indicator_code, indicator_name, indicator_category, unit_of_measure, source_table_id, breakdowns, description
		FROM dim_indicator
		WHERE is_active
		ORDER BY indicator_category, indicator_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query indicators: %w", err)
	}
	defer rows.Close()

	indicators := []Indicator{}
	for rows.Next() {
		var ind Indicator
		if err := rows.Scan(&ind.Code, &ind.Name, &ind.Category, &ind.Unit, &ind.SourceTableID, &ind.Breakdowns, &ind.Description); err != nil {
			return nil, fmt.Errorf("failed to scan indicator: %w", err)
		}
		indicators = append(indicators, ind)
	}
	return indicators, rows.Err()
}

// Years returns every year holding at least one fact.
func (q *Querier) Years(ctx context.Context) ([]int, error) {
	defer observe("years", time.Now())
	return q.years(ctx, `
		SELECT DISTINCT t.year
		FROM fact_demographics f
		JOIN dim_time t ON t.time_id = f.time_id
		ORDER BY t.year`)
}

// IndicatorYears returns the years holding facts of one indicator.
func (q *Querier) IndicatorYears(ctx context.Context, code string) ([]int, error) {
	defer observe("indicator_years", time.Now())
	return q.years(ctx, `
		SELECT DISTINCT t.year
		FROM fact_demographics f
		JOIN dim_time t ON t.time_id = f.time_id
		JOIN dim_indicator i ON i.indicator_id = f.indicator_id
		WHERE i.indicator_code = $1
		ORDER BY t.year`, code)
}

func (q *Querier) years(ctx context.Context, query string, args ...any) ([]int, error) {
	conn, err := q.cfg.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query years: %w", err)
	}
	defer rows.Close()

	years := []int{}
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, fmt.Errorf("failed to scan year: %w", err)
		}
		years = append(years, y)
	}
	return years, rows.Err()
}

// IndicatorMetadata returns the covered year range of every indicator with data.
func (q *Querier) IndicatorMetadata(ctx context.Context) ([]IndicatorRange, error) {
	defer observe("indicator_metadata", time.Now())

	conn, err := q.cfg.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, `
		SELECT i.indicator_code, i.indicator_name, i.indicator_category, MIN(t.year), MAX(t.year), COUNT(DISTINCT t.year)
		FROM fact_demographics f
		JOIN dim_time t ON t.time_id = f.time_id
		JOIN dim_indicator i ON i.indicator_id = f.indicator_id
		GROUP BY i.indicator_code, i.indicator_name, i.indicator_category
		ORDER BY i.indicator_category, i.indicator_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query indicator metadata: %w", err)
	}
	defer rows.Close()

	ranges := []IndicatorRange{}
	for rows.Next() {
		var r IndicatorRange
		if err := rows.Scan(&r.Code, &r.Name, &r.Category, &r.MinYear, &r.MaxYear, &r.Years); err != nil {
			return nil, fmt.Errorf("failed to scan indicator metadata: %w", err)
		}
		ranges = append(ranges, r)
	}
	return ranges, rows.Err()
}

// LatestYear returns the most recent year with data, limited to a category
// when given. It returns 0 when there is no data.
func (q *Querier) LatestYear(ctx context.Context, category string) (int, error) {
	defer observe("latest_year", time.Now())

	conn, err := q.cfg.DB.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	_, latest, err := yearRange(ctx, conn, `($1 = '' OR i.indicator_category = $1)`, []any{category})
	if err != nil {
		return 0, err
	}
	return latest, nil
}

// CheckYear returns a *YearOutOfRangeError when no indicator of the category
// covers year.
func (q *Querier) CheckYear(ctx context.Context, category string, year int) error {
	conn, err := q.cfg.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()
	return checkYear(ctx, conn, `i.indicator_category = $1`, []any{category}, year)
}

func checkYear(ctx context.Context, conn warehouse.Connection, where string, args []any, year int) error {
	lo, hi, err := yearRange(ctx, conn, where, args)
	if err != nil {
		return err
	}
	if lo == 0 || year < lo || year > hi {
		return &YearOutOfRangeError{Year: year, Min: lo, Max: hi}
	}
	return nil
}

func yearRange(ctx context.Context, conn warehouse.Connection, where string, args []any) (int, int, error) {
	var lo, hi sql.NullInt64
	err := conn.QueryRowContext(ctx, `
		SELECT MIN(t.year), MAX(t.year)
		FROM fact_demographics f
		JOIN dim_time t ON t.time_id = f.time_id
		JOIN dim_indicator i ON i.indicator_id = f.indicator_id
		WHERE `+where, args...).Scan(&lo, &hi)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query year range: %w", err)
	}
	return int(lo.Int64), int(hi.Int64), nil
}

// withCities appends a region filter matching names or codes.
func withCities(query string, args []any, cities []string) (string, []any) {
	if len(cities) == 0 {
		return query, args
	}
	placeholders := make([]string, len(cities))
	for i, c := range cities {
		args = append(args, c)
		placeholders[i] = "$" + strconv.Itoa(len(args))
	}
	list := strings.Join(placeholders, ", ")
	return query + `
			AND (g.region_name IN (` + list + `) OR g.region_code IN (` + list + `))`, args
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
