package load

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/ruhrdata/regiolake/pkg/transform"
	"github.com/ruhrdata/regiolake/pkg/warehouse"
)

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	DB     warehouse.DB
	// StrictGeography skips rows of regions missing from dim_geography instead
	// of creating them.
	StrictGeography bool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("db is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Batch is the transformed output of one indicator for one or more years.
type Batch struct {
	IndicatorID   int64
	IndicatorCode string
	Rows          []transform.Row
	ExtractedAt   time.Time
}

type Result struct {
	LoadID     string
	Received   int
	Duplicates int
	Skipped    int
	Deleted    int
	Loaded     int
	Years      []int
	Skips      []KeyResolutionError
	NewRegions []string
}

// Loader writes fact batches into the warehouse.
type Loader struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Loader{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Load replaces the indicator's facts for every year present in the batch.
// The batch is deduplicated by fact key first. Rows whose keys cannot be
// resolved are skipped. All writes happen in one transaction; any database
// error rolls the batch back and is returned as *ConnectionError.
func (l *Loader) Load(ctx context.Context, batch Batch) (*Result, error) {
	if batch.IndicatorID == 0 {
		return nil, errors.New("indicator id is required")
	}
	start := l.cfg.Clock.Now()

	rows, duplicates := dedupe(normalizeBreakdowns(batch.Rows))
	res := &Result{
		LoadID:     uuid.NewString(),
		Received:   len(batch.Rows),
		Duplicates: duplicates,
	}
	if duplicates > 0 {
		l.log.Debug("load: dropped duplicate rows", "indicator", batch.IndicatorCode, "duplicates", duplicates)
	}

	extractedAt := batch.ExtractedAt.UTC()
	if batch.ExtractedAt.IsZero() {
		extractedAt = start.UTC()
	}

	err := l.inTx(ctx, func(tx *sql.Tx) error {
		return l.load(ctx, tx, batch, rows, extractedAt, res)
	})
	status := "success"
	if err != nil {
		status = "error"
	}
	MetricBatchDuration.WithLabelValues(batch.IndicatorCode, status).Observe(l.cfg.Clock.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	MetricRowsTotal.WithLabelValues(batch.IndicatorCode, "loaded").Add(float64(res.Loaded))
	MetricRowsTotal.WithLabelValues(batch.IndicatorCode, "duplicate").Add(float64(res.Duplicates))
	MetricRowsTotal.WithLabelValues(batch.IndicatorCode, "skipped").Add(float64(res.Skipped))
	MetricRowsTotal.WithLabelValues(batch.IndicatorCode, "deleted").Add(float64(res.Deleted))

	l.log.Info("load: batch committed",
		"indicator", batch.IndicatorCode,
		"load_id", res.LoadID,
		"years", res.Years,
		"received", res.Received,
		"duplicates", res.Duplicates,
		"skipped", res.Skipped,
		"deleted", res.Deleted,
		"loaded", res.Loaded)
	return res, nil
}

func (l *Loader) load(ctx context.Context, tx *sql.Tx, batch Batch, rows []transform.Row, extractedAt time.Time, res *Result) error {
	resolve := newResolver(l.log, tx, l.cfg.StrictGeography)
	if err := resolve.prefetch(ctx, regionCodes(rows)); err != nil {
		return &ConnectionError{Op: "prefetch geography", Err: err}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fact_demographics (
			geo_id, time_id, indicator_id, gender, nationality, age_group,
			value, notes, data_quality_flag, load_id, extracted_at, loaded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (geo_id, time_id, indicator_id, gender, nationality, age_group) DO UPDATE SET
			value = EXCLUDED.value,
			notes = EXCLUDED.notes,
			data_quality_flag = EXCLUDED.data_quality_flag,
			load_id = EXCLUDED.load_id,
			extracted_at = EXCLUDED.extracted_at,
			loaded_at = EXCLUDED.loaded_at`)
	if err != nil {
		return &ConnectionError{Op: "prepare insert", Err: err}
	}
	defer stmt.Close()

	loadedAt := l.cfg.Clock.Now().UTC()
	timeIDs := make(map[int64]int)
	for _, row := range rows {
		geoID, err := resolve.geography(ctx, row.RegionCode, row.RegionName)
		if err != nil {
			if skipped := l.skip(err, row, res); skipped {
				continue
			}
			return &ConnectionError{Op: "resolve geography", Err: err}
		}
		timeID, err := resolve.period(ctx, row.Year, row.Quarter)
		if err != nil {
			if skipped := l.skip(err, row, res); skipped {
				continue
			}
			return &ConnectionError{Op: "resolve time", Err: err}
		}

		flag := row.QualityFlag
		if flag == "" {
			flag = transform.QualityFinal
		}
		if _, err := stmt.ExecContext(ctx,
			geoID, timeID, batch.IndicatorID, row.Gender, row.Nationality, row.AgeGroup,
			row.Value, row.Note, flag, res.LoadID, extractedAt, loadedAt,
		); err != nil {
			return &ConnectionError{Op: "insert fact", Err: err}
		}
		timeIDs[timeID] = row.Year
		res.Loaded++
	}
	res.NewRegions = resolve.newRegions

	if len(timeIDs) == 0 {
		return nil
	}

	// Facts of the covered years not written by this load are superseded.
	ids := make([]int64, 0, len(timeIDs))
	for id, year := range timeIDs {
		ids = append(ids, id)
		if !slices.Contains(res.Years, year) {
			res.Years = append(res.Years, year)
		}
	}
	slices.Sort(res.Years)
	placeholders, args := inList(ids, 3)
	result, err := tx.ExecContext(ctx,
		`DELETE FROM fact_demographics WHERE indicator_id = $1 AND load_id <> $2 AND time_id IN (`+placeholders+`)`,
		append([]any{batch.IndicatorID, res.LoadID}, args...)...)
	if err != nil {
		return &ConnectionError{Op: "delete superseded facts", Err: err}
	}
	if n, err := result.RowsAffected(); err == nil {
		res.Deleted = int(n)
	}
	return nil
}

func (l *Loader) skip(err error, row transform.Row, res *Result) bool {
	var kerr *KeyResolutionError
	if !errors.As(err, &kerr) {
		return false
	}
	l.log.Warn("load: skipped row", "indicator", row.IndicatorCode, "region_code", row.RegionCode, "year", row.Year, "error", err)
	res.Skipped++
	res.Skips = append(res.Skips, *kerr)
	return true
}

// DeleteIndicator removes the indicator's facts, limited to years when given.
func (l *Loader) DeleteIndicator(ctx context.Context, indicatorID int64, years ...int) (int, error) {
	query := `DELETE FROM fact_demographics WHERE indicator_id = $1`
	args := []any{indicatorID}
	if len(years) > 0 {
		placeholders, yearArgs := inList(years, 2)
		query += ` AND time_id IN (SELECT time_id FROM dim_time WHERE year IN (` + placeholders + `))`
		args = append(args, yearArgs...)
	}

	var deleted int
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return &ConnectionError{Op: "delete indicator", Err: err}
		}
		n, err := result.RowsAffected()
		if err != nil {
			return &ConnectionError{Op: "delete indicator", Err: err}
		}
		deleted = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	l.log.Info("load: deleted indicator facts", "indicator_id", indicatorID, "years", years, "deleted", deleted)
	return deleted, nil
}

func (l *Loader) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	conn, err := l.cfg.DB.Conn(ctx)
	if err != nil {
		return &ConnectionError{Op: "connect", Err: err}
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return &ConnectionError{Op: "begin", Err: err}
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			l.log.Error("load: rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return &ConnectionError{Op: "commit", Err: err}
	}
	return nil
}

func regionCodes(rows []transform.Row) []string {
	seen := make(map[string]struct{})
	var codes []string
	for _, r := range rows {
		if _, ok := seen[r.RegionCode]; ok {
			continue
		}
		seen[r.RegionCode] = struct{}{}
		codes = append(codes, r.RegionCode)
	}
	return codes
}

// normalizeBreakdowns returns a copy of rows with canonical breakdown values,
// so the dedup key and the stored columns agree.
func normalizeBreakdowns(rows []transform.Row) []transform.Row {
	out := make([]transform.Row, len(rows))
	for i, r := range rows {
		r.Gender = transform.Normalize(transform.BreakdownGender, r.Gender)
		r.Nationality = transform.Normalize(transform.BreakdownNationality, r.Nationality)
		r.AgeGroup = transform.Normalize(transform.BreakdownAgeGroup, r.AgeGroup)
		out[i] = r
	}
	return out
}

// inList renders "$first, $first+1, ..." placeholders for values.
func inList[T any](values []T, first int) (string, []any) {
	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = "$" + strconv.Itoa(first+i)
		args[i] = v
	}
	return strings.Join(placeholders, ", "), args
}
