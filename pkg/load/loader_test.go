package load_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/ruhrdata/regiolake/pkg/load"
	"github.com/ruhrdata/regiolake/pkg/transform"
	"github.com/ruhrdata/regiolake/pkg/warehouse"
	warehousetesting "github.com/ruhrdata/regiolake/pkg/warehouse/testing"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func newLoader(t *testing.T, db warehouse.DB, strict bool) *load.Loader {
	t.Helper()
	l, err := load.New(load.Config{
		Logger:          warehousetesting.NewLogger(),
		Clock:           clockwork.NewFakeClockAt(testNow),
		DB:              db,
		StrictGeography: strict,
	})
	require.NoError(t, err)
	return l
}

func insertIndicator(t *testing.T, db warehouse.DB, code string) int64 {
	t.Helper()
	conn, err := db.Conn(t.Context())
	require.NoError(t, err)
	defer conn.Close()

	var id int64
	require.NoError(t, conn.QueryRowContext(t.Context(), `
		INSERT INTO dim_indicator (indicator_code, indicator_name, indicator_category, source_table_id)
		VALUES ($1, $1, 'demographics', 'table-1')
		RETURNING indicator_id`, code).Scan(&id))
	return id
}

func row(region string, year int, value float64) transform.Row {
	return transform.Row{
		RegionCode:    region,
		RegionName:    "Region " + region,
		Year:          year,
		IndicatorCode: "population_total",
		Gender:        transform.Total,
		Nationality:   transform.Total,
		AgeGroup:      transform.Total,
		Value:         value,
		QualityFlag:   transform.QualityFinal,
	}
}

type fact struct {
	Region string
	Year   int
	Gender string
	Value  float64
	Flag   string
	Notes  string
}

func facts(t *testing.T, db warehouse.DB, indicatorID int64) []fact {
	t.Helper()
	conn, err := db.Conn(t.Context())
	require.NoError(t, err)
	defer conn.Close()

	rows, err := conn.QueryContext(t.Context(), `
		SELECT g.region_code, t.year, f.gender, f.value, f.data_quality_flag, f.notes
		FROM fact_demographics f
		JOIN dim_geography g ON g.geo_id = f.geo_id
		JOIN dim_time t ON t.time_id = f.time_id
		WHERE f.indicator_id = $1
		ORDER BY g.region_code, t.year, f.gender`, indicatorID)
	require.NoError(t, err)
	defer rows.Close()

	var out []fact
	for rows.Next() {
		var f fact
		require.NoError(t, rows.Scan(&f.Region, &f.Year, &f.Gender, &f.Value, &f.Flag, &f.Notes))
		out = append(out, f)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestLoader_Load(t *testing.T) {
	t.Parallel()

	db := warehousetesting.NewDB(t)
	id := insertIndicator(t, db, "population_total")
	l := newLoader(t, db, false)

	female := row("05113", 2020, 300)
	female.Gender = "female"
	female.Note = "Zensus"

	res, err := l.Load(t.Context(), load.Batch{
		IndicatorID:   id,
		IndicatorCode: "population_total",
		Rows:          []transform.Row{row("05113", 2020, 582), female, row("05112", 2020, 498)},
		ExtractedAt:   testNow.Add(-time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.Received)
	require.Equal(t, 3, res.Loaded)
	require.Equal(t, 0, res.Deleted)
	require.Equal(t, []int{2020}, res.Years)
	require.NotEmpty(t, res.LoadID)
	require.ElementsMatch(t, []string{"05112", "05113"}, res.NewRegions)

	require.Equal(t, []fact{
		{Region: "05112", Year: 2020, Gender: "total", Value: 498, Flag: "final"},
		{Region: "05113", Year: 2020, Gender: "female", Value: 300, Flag: "final", Notes: "Zensus"},
		{Region: "05113", Year: 2020, Gender: "total", Value: 582, Flag: "final"},
	}, facts(t, db, id))

	conn, err := db.Conn(t.Context())
	require.NoError(t, err)
	defer conn.Close()

	var regionType, regionName string
	require.NoError(t, conn.QueryRowContext(t.Context(),
		`SELECT region_type, region_name FROM dim_geography WHERE region_code = '05113'`).Scan(&regionType, &regionName))
	require.Equal(t, "urban_district", regionType)
	require.Equal(t, "Region 05113", regionName)

	var refDate time.Time
	require.NoError(t, conn.QueryRowContext(t.Context(),
		`SELECT reference_date FROM dim_time WHERE year = 2020 AND quarter = 0`).Scan(&refDate))
	require.Equal(t, time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC), refDate.UTC())

	var extractedAt, loadedAt time.Time
	require.NoError(t, conn.QueryRowContext(t.Context(),
		`SELECT extracted_at, loaded_at FROM fact_demographics LIMIT 1`).Scan(&extractedAt, &loadedAt))
	require.True(t, testNow.Add(-time.Hour).Equal(extractedAt.UTC()))
	require.True(t, testNow.Equal(loadedAt.UTC()))
}

func TestLoader_Load_Idempotent(t *testing.T) {
	t.Parallel()

	db := warehousetesting.NewDB(t)
	id := insertIndicator(t, db, "population_total")
	l := newLoader(t, db, false)

	batch := load.Batch{
		IndicatorID:   id,
		IndicatorCode: "population_total",
		Rows:          []transform.Row{row("05113", 2020, 10), row("05112", 2020, 7), row("05113", 2021, 11)},
	}

	_, err := l.Load(t.Context(), batch)
	require.NoError(t, err)
	first := facts(t, db, id)

	res, err := l.Load(t.Context(), batch)
	require.NoError(t, err)
	require.Equal(t, 3, res.Loaded)
	require.Equal(t, 0, res.Deleted)
	require.Empty(t, res.NewRegions)
	require.Equal(t, first, facts(t, db, id))
}

func TestLoader_Load_Dedupe(t *testing.T) {
	t.Parallel()

	db := warehousetesting.NewDB(t)
	id := insertIndicator(t, db, "population_total")
	l := newLoader(t, db, false)

	estimated := row("05113", 2020, 1)
	estimated.QualityFlag = transform.QualityEstimated
	final := row("05113", 2020, 2)
	provisional := row("05113", 2020, 3)
	provisional.QualityFlag = transform.QualityProvisional
	firstTie := row("05112", 2020, 4)
	secondTie := row("05112", 2020, 5)

	res, err := l.Load(t.Context(), load.Batch{
		IndicatorID:   id,
		IndicatorCode: "population_total",
		Rows:          []transform.Row{estimated, final, provisional, firstTie, secondTie},
	})
	require.NoError(t, err)
	require.Equal(t, 5, res.Received)
	require.Equal(t, 3, res.Duplicates)
	require.Equal(t, 2, res.Loaded)

	require.Equal(t, []fact{
		{Region: "05112", Year: 2020, Gender: "total", Value: 4, Flag: "final"},
		{Region: "05113", Year: 2020, Gender: "total", Value: 2, Flag: "final"},
	}, facts(t, db, id))
}

func TestLoader_Load_DedupeNormalizesBreakdowns(t *testing.T) {
	t.Parallel()

	db := warehousetesting.NewDB(t)
	id := insertIndicator(t, db, "population_total")
	l := newLoader(t, db, false)

	blank := row("05911", 2020, 1)
	blank.Gender = ""
	lower := row("05911", 2020, 2)
	lower.QualityFlag = transform.QualityEstimated
	mixedCase := row("05913", 2020, 3)
	mixedCase.Gender = "Total"
	mixedCase.Nationality = "Insgesamt"
	mixedCase.AgeGroup = "TOTAL"

	rows := []transform.Row{blank, lower, mixedCase}
	res, err := l.Load(t.Context(), load.Batch{
		IndicatorID:   id,
		IndicatorCode: "population_total",
		Rows:          rows,
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Duplicates)
	require.Equal(t, 2, res.Loaded)
	require.Empty(t, rows[0].Gender)
	require.Equal(t, "Total", rows[2].Gender)

	require.Equal(t, []fact{
		{Region: "05911", Year: 2020, Gender: "total", Value: 1, Flag: "final"},
		{Region: "05913", Year: 2020, Gender: "total", Value: 3, Flag: "final"},
	}, facts(t, db, id))

	conn, err := db.Conn(t.Context())
	require.NoError(t, err)
	defer conn.Close()
	var nonCanonical int
	require.NoError(t, conn.QueryRowContext(t.Context(), `
		SELECT COUNT(*) FROM fact_demographics
		WHERE indicator_id = $1 AND (nationality <> 'total' OR age_group <> 'total')`, id).Scan(&nonCanonical))
	require.Zero(t, nonCanonical)
}

func TestLoader_Load_SupersedesYears(t *testing.T) {
	t.Parallel()

	db := warehousetesting.NewDB(t)
	id := insertIndicator(t, db, "population_total")
	other := insertIndicator(t, db, "unemployment_rate")
	l := newLoader(t, db, false)

	_, err := l.Load(t.Context(), load.Batch{
		IndicatorID:   id,
		IndicatorCode: "population_total",
		Rows:          []transform.Row{row("05113", 2020, 10), row("05112", 2020, 7), row("05113", 2019, 9)},
	})
	require.NoError(t, err)
	_, err = l.Load(t.Context(), load.Batch{
		IndicatorID:   other,
		IndicatorCode: "unemployment_rate",
		Rows:          []transform.Row{row("05112", 2020, 12.4)},
	})
	require.NoError(t, err)

	res, err := l.Load(t.Context(), load.Batch{
		IndicatorID:   id,
		IndicatorCode: "population_total",
		Rows:          []transform.Row{row("05113", 2020, 12)},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Loaded)
	require.Equal(t, 1, res.Deleted)

	require.Equal(t, []fact{
		{Region: "05113", Year: 2019, Gender: "total", Value: 9, Flag: "final"},
		{Region: "05113", Year: 2020, Gender: "total", Value: 12, Flag: "final"},
	}, facts(t, db, id))
	require.Len(t, facts(t, db, other), 1)
}

func TestLoader_Load_StrictGeography(t *testing.T) {
	t.Parallel()

	db := warehousetesting.NewDB(t)
	id := insertIndicator(t, db, "population_total")

	conn, err := db.Conn(t.Context())
	require.NoError(t, err)
	_, err = conn.ExecContext(t.Context(), `INSERT INTO dim_geography (region_code, region_name, region_type) VALUES ('05113', 'Essen', 'urban_district')`)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	l := newLoader(t, db, true)
	res, err := l.Load(t.Context(), load.Batch{
		IndicatorID:   id,
		IndicatorCode: "population_total",
		Rows:          []transform.Row{row("05113", 2020, 10), row("99999", 2020, 7)},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Loaded)
	require.Equal(t, 1, res.Skipped)
	require.Len(t, res.Skips, 1)
	require.Equal(t, load.KeyKindGeography, res.Skips[0].Kind)
	require.Equal(t, "99999", res.Skips[0].Key)
	require.Len(t, facts(t, db, id), 1)
}

func TestLoader_Load_InvalidQuarterSkipped(t *testing.T) {
	t.Parallel()

	db := warehousetesting.NewDB(t)
	id := insertIndicator(t, db, "population_total")
	l := newLoader(t, db, false)

	bad := row("05113", 2020, 1)
	bad.Quarter = 7
	res, err := l.Load(t.Context(), load.Batch{
		IndicatorID:   id,
		IndicatorCode: "population_total",
		Rows:          []transform.Row{bad, row("05112", 2020, 2)},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, load.KeyKindTime, res.Skips[0].Kind)
	require.Equal(t, 1, res.Loaded)
}

type failingDB struct {
	warehouse.DB
}

func (failingDB) Conn(context.Context) (warehouse.Connection, error) {
	return nil, errors.New("connection refused")
}

func TestLoader_Load_ConnectionError(t *testing.T) {
	t.Parallel()

	l := newLoader(t, failingDB{}, false)
	_, err := l.Load(t.Context(), load.Batch{IndicatorID: 1, IndicatorCode: "x", Rows: []transform.Row{row("05113", 2020, 1)}})
	var connErr *load.ConnectionError
	require.ErrorAs(t, err, &connErr)
	require.Equal(t, "connect", connErr.Op)
}

func TestLoader_Load_RollsBackOnError(t *testing.T) {
	t.Parallel()

	db := warehousetesting.NewDB(t)
	id := insertIndicator(t, db, "population_total")
	l := newLoader(t, db, false)

	_, err := l.Load(t.Context(), load.Batch{IndicatorID: id, IndicatorCode: "population_total", Rows: []transform.Row{row("05113", 2020, 10)}})
	require.NoError(t, err)

	bad := row("05112", 2020, 7)
	bad.QualityFlag = "unknown"
	_, err = l.Load(t.Context(), load.Batch{
		IndicatorID:   id,
		IndicatorCode: "population_total",
		Rows:          []transform.Row{row("05113", 2020, 99), bad},
	})
	var connErr *load.ConnectionError
	require.ErrorAs(t, err, &connErr)

	require.Equal(t, []fact{{Region: "05113", Year: 2020, Gender: "total", Value: 10, Flag: "final"}}, facts(t, db, id))
}

func TestLoader_DeleteIndicator(t *testing.T) {
	t.Parallel()

	db := warehousetesting.NewDB(t)
	id := insertIndicator(t, db, "population_total")
	l := newLoader(t, db, false)

	_, err := l.Load(t.Context(), load.Batch{
		IndicatorID:   id,
		IndicatorCode: "population_total",
		Rows:          []transform.Row{row("05113", 2019, 1), row("05113", 2020, 2), row("05113", 2021, 3)},
	})
	require.NoError(t, err)

	deleted, err := l.DeleteIndicator(t.Context(), id, 2020)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
	require.Len(t, facts(t, db, id), 2)

	deleted, err = l.DeleteIndicator(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, 2, deleted)
	require.Empty(t, facts(t, db, id))
}

func TestReferenceDate(t *testing.T) {
	t.Parallel()

	require.Equal(t, time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC), load.ReferenceDate(2020, 0))
	require.Equal(t, time.Date(2020, 3, 31, 0, 0, 0, 0, time.UTC), load.ReferenceDate(2020, 1))
	require.Equal(t, time.Date(2020, 6, 30, 0, 0, 0, 0, time.UTC), load.ReferenceDate(2020, 2))
	require.Equal(t, time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC), load.ReferenceDate(2020, 4))
}
