package warehousetesting

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ruhrdata/regiolake/pkg/warehouse"
	"github.com/stretchr/testify/require"
)

// Fact is a single observation to seed. Empty breakdowns mean 'total',
// an empty Category means demographics and a nil Value is stored as NULL.
type Fact struct {
	RegionCode    string
	RegionName    string
	RuhrArea      bool
	Year          int
	IndicatorCode string
	IndicatorName string
	Category      string
	Gender        string
	Nationality   string
	AgeGroup      string
	Value         *float64
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// InsertFacts writes facts directly, creating missing dimension rows.
func InsertFacts(t testing.TB, db warehouse.DB, facts ...Fact) {
	t.Helper()
	ctx := t.Context()
	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	loadID := uuid.NewString()
	now := time.Now().UTC()
	for _, f := range facts {
		geoID := ensure(t, ctx, conn,
			`SELECT geo_id FROM dim_geography WHERE region_code = $1`, []any{f.RegionCode},
			`INSERT INTO dim_geography (region_code, region_name, region_type, is_ruhr_area) VALUES ($1, $2, 'urban_district', $3) RETURNING geo_id`,
			[]any{f.RegionCode, or(f.RegionName, f.RegionCode), f.RuhrArea})
		timeID := ensure(t, ctx, conn,
			`SELECT time_id FROM dim_time WHERE year = $1 AND quarter = 0`, []any{f.Year},
			`INSERT INTO dim_time (year, quarter) VALUES ($1, 0) RETURNING time_id`, []any{f.Year})
		indicatorID := ensure(t, ctx, conn,
			`SELECT indicator_id FROM dim_indicator WHERE indicator_code = $1`, []any{f.IndicatorCode},
			`INSERT INTO dim_indicator (indicator_code, indicator_name, indicator_category, source_table_id) VALUES ($1, $2, $3, 'seed') RETURNING indicator_id`,
			[]any{f.IndicatorCode, or(f.IndicatorName, f.IndicatorCode), or(f.Category, "demographics")})

		_, err := conn.ExecContext(ctx, `
			INSERT INTO fact_demographics (geo_id, time_id, indicator_id, gender, nationality, age_group, value, load_id, extracted_at, loaded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
			geoID, timeID, indicatorID, or(f.Gender, "total"), or(f.Nationality, "total"), or(f.AgeGroup, "total"),
			nullFloat(f.Value), loadID, now)
		require.NoError(t, err)
	}
}

func ensure(t testing.TB, ctx context.Context, conn warehouse.Connection, selectSQL string, selectArgs []any, insertSQL string, insertArgs []any) int64 {
	t.Helper()
	var id int64
	err := conn.QueryRowContext(ctx, selectSQL, selectArgs...).Scan(&id)
	if err == nil {
		return id
	}
	require.True(t, errors.Is(err, sql.ErrNoRows), "unexpected error: %v", err)
	require.NoError(t, conn.QueryRowContext(ctx, insertSQL, insertArgs...).Scan(&id))
	return id
}

func or(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
