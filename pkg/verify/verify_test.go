package verify_test

import (
	"fmt"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/ruhrdata/regiolake/pkg/geography"
	"github.com/ruhrdata/regiolake/pkg/load"
	"github.com/ruhrdata/regiolake/pkg/transform"
	"github.com/ruhrdata/regiolake/pkg/verify"
	"github.com/ruhrdata/regiolake/pkg/warehouse"
	warehousetesting "github.com/ruhrdata/regiolake/pkg/warehouse/testing"
	"github.com/stretchr/testify/require"
)

func regionCodes(n int) []string {
	codes := make([]string, n)
	for i := range codes {
		codes[i] = fmt.Sprintf("09%03d", i+1)
	}
	return codes
}

func seedIndicator(t *testing.T, db warehouse.DB, code string, regions []string, years ...int) int64 {
	t.Helper()
	conn, err := db.Conn(t.Context())
	require.NoError(t, err)
	defer conn.Close()

	var id int64
	require.NoError(t, conn.QueryRowContext(t.Context(), `
		INSERT INTO dim_indicator (indicator_code, indicator_name, indicator_category, source_table_id)
		VALUES ($1, $1, 'demographics', 'table-1')
		RETURNING indicator_id`, code).Scan(&id))

	if len(regions) == 0 {
		return id
	}
	var rows []transform.Row
	for _, year := range years {
		for i, region := range regions {
			rows = append(rows, transform.Row{
				RegionCode:    region,
				RegionName:    "Region " + region,
				Year:          year,
				IndicatorCode: code,
				Gender:        transform.Total,
				Nationality:   transform.Total,
				AgeGroup:      transform.Total,
				Value:         float64(100 + i),
				QualityFlag:   transform.QualityFinal,
			})
		}
	}
	l, err := load.New(load.Config{Logger: warehousetesting.NewLogger(), Clock: clockwork.NewFakeClock(), DB: db})
	require.NoError(t, err)
	_, err = l.Load(t.Context(), load.Batch{IndicatorID: id, IndicatorCode: code, Rows: rows})
	require.NoError(t, err)
	return id
}

func newVerifier(t *testing.T, db warehouse.DB, cfg verify.Config) *verify.Verifier {
	t.Helper()
	cfg.Logger = warehousetesting.NewLogger()
	cfg.DB = db
	v, err := verify.New(cfg)
	require.NoError(t, err)
	return v
}

func TestVerifier_Verify(t *testing.T) {
	t.Parallel()

	all := regionCodes(57)
	mustHave := all[:5]

	t.Run("warn_on_partial_completeness", func(t *testing.T) {
		t.Parallel()

		db := warehousetesting.NewDB(t)
		id := seedIndicator(t, db, "partial", all[:40], 2020)
		v := newVerifier(t, db, verify.Config{MustHaveRegions: mustHave, ExpectedRegions: all, MinYears: 1})

		report, err := v.Verify(t.Context(), id)
		require.NoError(t, err)
		require.Equal(t, verify.VerdictWarn, report.Verdict)
		require.Equal(t, 40, report.PopulatedCells)
		require.Equal(t, 57, report.ExpectedCells)
		require.InDelta(t, 40.0/57.0, report.Completeness, 1e-9)
		require.Empty(t, report.MustHaveMissing)
		require.NoError(t, report.Err())
	})

	t.Run("fail_on_missing_must_have", func(t *testing.T) {
		t.Parallel()

		db := warehousetesting.NewDB(t)
		id := seedIndicator(t, db, "no_essen", all[1:], 2020)
		v := newVerifier(t, db, verify.Config{MustHaveRegions: mustHave, ExpectedRegions: all, MinYears: 1})

		report, err := v.Verify(t.Context(), id)
		require.NoError(t, err)
		require.Equal(t, verify.VerdictFail, report.Verdict)
		require.Greater(t, report.Completeness, 0.85)
		require.Equal(t, []string{all[0]}, report.MustHaveMissing)

		var failure *verify.Failure
		require.ErrorAs(t, report.Err(), &failure)
		require.Contains(t, failure.Error(), all[0])
	})

	t.Run("fail_below_warn_threshold", func(t *testing.T) {
		t.Parallel()

		db := warehousetesting.NewDB(t)
		id := seedIndicator(t, db, "sparse", all[:30], 2020)
		v := newVerifier(t, db, verify.Config{MustHaveRegions: mustHave, ExpectedRegions: all, MinYears: 1})

		report, err := v.Verify(t.Context(), id)
		require.NoError(t, err)
		require.Equal(t, verify.VerdictFail, report.Verdict)
	})

	t.Run("pass", func(t *testing.T) {
		t.Parallel()

		db := warehousetesting.NewDB(t)
		id := seedIndicator(t, db, "complete", all, 2019, 2020)
		v := newVerifier(t, db, verify.Config{MustHaveRegions: mustHave, ExpectedRegions: all, MinYears: 2})

		report, err := v.Verify(t.Context(), id)
		require.NoError(t, err)
		require.Equal(t, verify.VerdictPass, report.Verdict)
		require.Equal(t, 114, report.RecordCount)
		require.Equal(t, []int{2019, 2020}, report.Years)
		require.Equal(t, 2019, report.MinYear)
		require.Equal(t, 2020, report.MaxYear)
		require.Equal(t, 57, report.RegionCount)
		require.InDelta(t, 1.0, report.Completeness, 1e-9)
		require.Zero(t, report.NullRatio)
		require.Empty(t, report.Reasons)
	})

	t.Run("warn_on_short_history", func(t *testing.T) {
		t.Parallel()

		db := warehousetesting.NewDB(t)
		id := seedIndicator(t, db, "short", all, 2020)
		v := newVerifier(t, db, verify.Config{MustHaveRegions: mustHave, ExpectedRegions: all})

		report, err := v.Verify(t.Context(), id)
		require.NoError(t, err)
		require.Equal(t, verify.VerdictWarn, report.Verdict)
		require.Len(t, report.Reasons, 1)
	})

	t.Run("fail_without_data", func(t *testing.T) {
		t.Parallel()

		db := warehousetesting.NewDB(t)
		id := seedIndicator(t, db, "empty", nil)
		v := newVerifier(t, db, verify.Config{ExpectedRegions: all})

		report, err := v.Verify(t.Context(), id)
		require.NoError(t, err)
		require.Equal(t, verify.VerdictFail, report.Verdict)
		require.Zero(t, report.RecordCount)
	})

	t.Run("unknown_indicator", func(t *testing.T) {
		t.Parallel()

		db := warehousetesting.NewDB(t)
		v := newVerifier(t, db, verify.Config{})

		_, err := v.Verify(t.Context(), 42)
		require.ErrorIs(t, err, verify.ErrUnknownIndicator)
		_, err = v.IndicatorID(t.Context(), "nope")
		require.ErrorIs(t, err, verify.ErrUnknownIndicator)
	})
}

func TestVerifier_Verify_DefaultExpectedRegions(t *testing.T) {
	t.Parallel()

	db := warehousetesting.NewDB(t)
	conn, err := db.Conn(t.Context())
	require.NoError(t, err)
	_, err = geography.Seed(t.Context(), warehousetesting.NewLogger(), conn)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	regions, err := geography.Regions()
	require.NoError(t, err)
	var districts []string
	for _, r := range regions {
		if r.Type == geography.TypeDistrict || r.Type == geography.TypeUrbanDistrict {
			districts = append(districts, r.Code)
		}
	}
	require.Len(t, districts, 53)

	id := seedIndicator(t, db, "nrw", append(districts, "05"), 2020)
	v := newVerifier(t, db, verify.Config{MustHaveRegions: []string{"05112", "05113", "05911", "05913", "05513"}, MinYears: 1})

	report, err := v.Verify(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, 53, report.ExpectedRegions)
	require.Equal(t, 54, report.RegionCount)
	require.InDelta(t, 1.0, report.Completeness, 1e-9)
	require.Equal(t, verify.VerdictPass, report.Verdict)

	byCode, err := v.IndicatorID(t.Context(), "nrw")
	require.NoError(t, err)
	require.Equal(t, id, byCode)
}
