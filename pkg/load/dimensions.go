package load

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruhrdata/regiolake/pkg/geography"
)

type timeKey struct {
	year    int
	quarter int
}

// resolver maps natural keys to surrogate ids within one load transaction.
type resolver struct {
	log    *slog.Logger
	tx     *sql.Tx
	strict bool

	geo  map[string]int64
	time map[timeKey]int64

	newRegions []string
	newYears   []int
}

func newResolver(log *slog.Logger, tx *sql.Tx, strict bool) *resolver {
	return &resolver{
		log:    log,
		tx:     tx,
		strict: strict,
		geo:    make(map[string]int64),
		time:   make(map[timeKey]int64),
	}
}

// prefetch loads the ids of the given region codes in one query.
func (r *resolver) prefetch(ctx context.Context, codes []string) error {
	if len(codes) == 0 {
		return nil
	}
	placeholders, args := inList(codes, 1)
	rows, err := r.tx.QueryContext(ctx,
		`SELECT region_code, geo_id FROM dim_geography WHERE region_code IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			code string
			id   int64
		)
		if err := rows.Scan(&code, &id); err != nil {
			return err
		}
		r.geo[code] = id
	}
	return rows.Err()
}

// geography returns the geo_id of a region code. Unknown regions are created
// with the given name unless the resolver is strict, in which case a
// KeyResolutionError is returned.
func (r *resolver) geography(ctx context.Context, code, name string) (int64, error) {
	if id, ok := r.geo[code]; ok {
		return id, nil
	}
	var id int64
	err := r.tx.QueryRowContext(ctx, `SELECT geo_id FROM dim_geography WHERE region_code = $1`, code).Scan(&id)
	switch {
	case err == nil:
		r.geo[code] = id
		return id, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, err
	case r.strict:
		return 0, &KeyResolutionError{Kind: KeyKindGeography, Key: code}
	}

	if name == "" {
		name = code
	}
	regionType := geography.InferType(code)
	if _, err := r.tx.ExecContext(ctx, `
		INSERT INTO dim_geography (region_code, region_name, region_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (region_code) DO NOTHING`, code, name, regionType); err != nil {
		return 0, err
	}
	if err := r.tx.QueryRowContext(ctx, `SELECT geo_id FROM dim_geography WHERE region_code = $1`, code).Scan(&id); err != nil {
		return 0, err
	}
	r.log.Warn("load: created unseen region", "region_code", code, "region_name", name, "region_type", regionType)
	MetricNewDimensionKeys.WithLabelValues(KeyKindGeography).Inc()
	r.newRegions = append(r.newRegions, code)
	r.geo[code] = id
	return id, nil
}

// period returns the time_id of (year, quarter), creating the period if needed.
func (r *resolver) period(ctx context.Context, year, quarter int) (int64, error) {
	key := timeKey{year: year, quarter: quarter}
	if id, ok := r.time[key]; ok {
		return id, nil
	}
	if quarter < 0 || quarter > 4 {
		return 0, &KeyResolutionError{Kind: KeyKindTime, Key: fmt.Sprintf("%d/Q%d", year, quarter), Err: errors.New("quarter out of range")}
	}

	var id int64
	err := r.tx.QueryRowContext(ctx, `SELECT time_id FROM dim_time WHERE year = $1 AND quarter = $2`, year, quarter).Scan(&id)
	if err == nil {
		r.time[key] = id
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	if _, err := r.tx.ExecContext(ctx, `
		INSERT INTO dim_time (year, quarter, reference_date)
		VALUES ($1, $2, $3)
		ON CONFLICT (year, quarter) DO NOTHING`, year, quarter, ReferenceDate(year, quarter)); err != nil {
		return 0, err
	}
	if err := r.tx.QueryRowContext(ctx, `SELECT time_id FROM dim_time WHERE year = $1 AND quarter = $2`, year, quarter).Scan(&id); err != nil {
		return 0, err
	}
	r.log.Warn("load: created unseen period", "year", year, "quarter", quarter)
	MetricNewDimensionKeys.WithLabelValues(KeyKindTime).Inc()
	r.newYears = append(r.newYears, year)
	r.time[key] = id
	return id, nil
}

// ReferenceDate is the last day of the period. Quarter 0 is the whole year.
func ReferenceDate(year, quarter int) time.Time {
	month := time.December
	if quarter > 0 {
		month = time.Month(quarter * 3)
	}
	// Day 0 of the following month is the last day of month.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
}
