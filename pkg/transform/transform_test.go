package transform_test

import (
	"sort"
	"testing"

	"github.com/ruhrdata/regiolake/pkg/extract"
	"github.com/ruhrdata/regiolake/pkg/transform"
	"github.com/stretchr/testify/require"
)

func longSpec() transform.Spec {
	return transform.Spec{
		IndicatorCode: "population_total",
		Breakdowns:    []string{transform.BreakdownGender, transform.BreakdownNationality},
		Layout: transform.Layout{
			Kind:              transform.LayoutLong,
			RegionCodeColumn:  "1_Auspraegung_Code",
			RegionNameColumn:  "1_Auspraegung_Label",
			YearColumn:        "Zeit",
			ValueColumn:       "BEV001__Bevoelkerungsstand__Anzahl",
			GenderColumn:      "2_Auspraegung_Label",
			NationalityColumn: "3_Auspraegung_Label",
		},
	}
}

func longTable(rows ...[]string) *extract.RawTable {
	header := []string{"Zeit", "1_Auspraegung_Code", "1_Auspraegung_Label", "2_Auspraegung_Label", "3_Auspraegung_Label", "BEV001__Bevoelkerungsstand__Anzahl"}
	return &extract.RawTable{TableID: "12411-01-01-4", Year: 2020, Rows: append([][]string{header}, rows...)}
}

func sortRows(rows []transform.Row) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.RegionCode != b.RegionCode {
			return a.RegionCode < b.RegionCode
		}
		if a.Gender != b.Gender {
			return a.Gender < b.Gender
		}
		return a.Nationality < b.Nationality
	})
}

func TestTransform_Long(t *testing.T) {
	t.Parallel()

	raw := longTable(
		[]string{"31.12.2020", "05113", "Essen, Stadt", "Insgesamt", "Insgesamt", "582.415"},
		[]string{"31.12.2020", "05113", "Essen, Stadt", "männlich", "Insgesamt", "284.020"},
		[]string{"31.12.2020", "05113", "Essen, Stadt", "weiblich", "Ausländer", "45.123"},
		[]string{"31.12.2020", "05112", "Duisburg, Stadt", "Insgesamt", "Deutsche", "1.234,5"},
	)

	res, err := transform.Transform(raw, longSpec())
	require.NoError(t, err)
	require.Empty(t, res.Dropped)
	require.Len(t, res.Rows, 4)

	require.Equal(t, transform.Row{
		RegionCode:    "05113",
		RegionName:    "Essen, Stadt",
		Year:          2020,
		IndicatorCode: "population_total",
		Gender:        transform.Total,
		Nationality:   transform.Total,
		AgeGroup:      transform.Total,
		Value:         582.415,
		QualityFlag:   transform.QualityFinal,
	}, res.Rows[0])
	require.Equal(t, "male", res.Rows[1].Gender)
	require.Equal(t, "female", res.Rows[2].Gender)
	require.Equal(t, "foreign", res.Rows[2].Nationality)
	require.Equal(t, "german", res.Rows[3].Nationality)
	require.InDelta(t, 1234.5, res.Rows[3].Value, 1e-9)
}

func TestTransform_TotalCasing(t *testing.T) {
	t.Parallel()

	for _, label := range []string{"Insgesamt", "insgesamt", "Total", "TOTAL", "total", "", "-", "  Insgesamt "} {
		raw := longTable([]string{"2020", "05113", "Essen", label, label, "10"})
		res, err := transform.Transform(raw, longSpec())
		require.NoError(t, err)
		require.Len(t, res.Rows, 1, label)
		require.Equal(t, "total", res.Rows[0].Gender, label)
		require.Equal(t, "total", res.Rows[0].Nationality, label)
		require.Equal(t, "total", res.Rows[0].AgeGroup, label)
	}
}

func TestTransform_DropsInvalidRows(t *testing.T) {
	t.Parallel()

	spec := longSpec()
	spec.Breakdowns = []string{transform.BreakdownGender}

	raw := longTable(
		[]string{"2020", "05113", "Essen", "Insgesamt", "Insgesamt", "100"},
		[]string{"2020", "", "Unknown", "Insgesamt", "Insgesamt", "100"},
		[]string{"", "05112", "Duisburg", "Insgesamt", "Insgesamt", "100"},
		[]string{"2020", "05911", "Bochum", "Insgesamt", "Insgesamt", "-"},
		[]string{"2020", "05913", "Dortmund", "Insgesamt", "Insgesamt", "..."},
		[]string{"2020", "05513", "Gelsenkirchen", "Insgesamt", "Insgesamt", "x"},
		[]string{"2020", "05513", "Gelsenkirchen", "Insgesamt", "Deutsche", "70"},
		[]string{"2020", "05117", "Mülheim", "Insgesamt", "Insgesamt", "abc"},
		[]string{"", "", "", "", "", ""},
	)

	res, err := transform.Transform(raw, spec)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Len(t, res.Dropped, 7)

	fields := make(map[string]int)
	for _, d := range res.Dropped {
		fields[d.Field]++
		require.NotEmpty(t, d.Error())
	}
	require.Equal(t, map[string]int{"region_code": 1, "year": 1, "value": 4, "nationality": 1}, fields)
}

func TestTransform_WideLongRoundTrip(t *testing.T) {
	t.Parallel()

	long := longTable(
		[]string{"2020", "05113", "Essen", "Insgesamt", "Insgesamt", "100"},
		[]string{"2020", "05113", "Essen", "männlich", "Insgesamt", "48"},
		[]string{"2020", "05113", "Essen", "weiblich", "Insgesamt", "52"},
		[]string{"2020", "05112", "Duisburg", "Insgesamt", "Insgesamt", "90"},
		[]string{"2020", "05112", "Duisburg", "männlich", "Insgesamt", "44"},
		[]string{"2020", "05112", "Duisburg", "weiblich", "Insgesamt", "46"},
	)
	wide := &extract.RawTable{
		TableID: "12411-01-01-4",
		Year:    2020,
		Rows: [][]string{
			{"Bevölkerung nach Geschlecht"},
			{"Kreise", "", "Insgesamt", "männlich", "weiblich"},
			{"05113", "Essen", "100", "48", "52"},
			{"05112", "Duisburg", "90", "44", "46"},
		},
	}
	wideSpec := transform.Spec{
		IndicatorCode: "population_total",
		Breakdowns:    []string{transform.BreakdownGender, transform.BreakdownNationality},
		Layout: transform.Layout{
			Kind:             transform.LayoutWide,
			SkipRows:         1,
			RegionCodeColumn: "#1",
			RegionNameColumn: "#2",
			ValueColumns: []transform.ValueColumn{
				{Column: "Insgesamt"},
				{Column: "männlich", Gender: "männlich"},
				{Column: "weiblich", Gender: "weiblich"},
			},
		},
	}

	fromLong, err := transform.Transform(long, longSpec())
	require.NoError(t, err)
	fromWide, err := transform.Transform(wide, wideSpec)
	require.NoError(t, err)

	sortRows(fromLong.Rows)
	sortRows(fromWide.Rows)
	require.Equal(t, fromLong.Rows, fromWide.Rows)
	require.Len(t, fromWide.Rows, 6)
}

func TestTransform_FilterAndQuality(t *testing.T) {
	t.Parallel()

	raw := &extract.RawTable{
		TableID: "13211-02-05-4",
		Year:    2021,
		Rows: [][]string{
			{"Zeit", "Kreis", "Merkmal", "Wert", "Qualitaet", "Fussnote"},
			{"2021", "05113", "Arbeitslose", "26.500", "v", ""},
			{"2021", "05113", "Arbeitslosenquote", "11,2", "e", "Jahresdurchschnitt"},
			{"2021", "05112", "Arbeitslosenquote", "12,4", "", ""},
		},
	}
	spec := transform.Spec{
		IndicatorCode: "unemployment_rate",
		QualityFlag:   transform.QualityValidated,
		Layout: transform.Layout{
			RegionCodeColumn: "Kreis",
			YearColumn:       "Zeit",
			ValueColumn:      "Wert",
			QualityColumn:    "Qualitaet",
			NoteColumns:      []string{"Fussnote"},
			Filter:           map[string]string{"Merkmal": "arbeitslosenquote"},
		},
	}

	res, err := transform.Transform(raw, spec)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	require.InDelta(t, 11.2, res.Rows[0].Value, 1e-9)
	require.Equal(t, transform.QualityFinal, res.Rows[0].QualityFlag)
	require.Equal(t, "Jahresdurchschnitt", res.Rows[0].Note)
	require.Equal(t, transform.QualityValidated, res.Rows[1].QualityFlag)
	require.Equal(t, "", res.Rows[1].Note)
}

func TestTransform_UsesRequestedYearWithoutYearColumn(t *testing.T) {
	t.Parallel()

	raw := &extract.RawTable{
		TableID: "t",
		Year:    2019,
		Rows:    [][]string{{"code", "value"}, {"  05113 ", "7"}},
	}
	res, err := transform.Transform(raw, transform.Spec{
		IndicatorCode: "x",
		Layout:        transform.Layout{RegionCodeColumn: "code", ValueColumn: "value"},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, 2019, res.Rows[0].Year)
	require.Equal(t, "05113", res.Rows[0].RegionCode)
}

func TestTransform_NumberFormat(t *testing.T) {
	t.Parallel()

	raw := &extract.RawTable{
		TableID: "t",
		Year:    2020,
		Rows:    [][]string{{"code", "value"}, {"05911", "12.345"}, {"05913", "1.234,5"}, {"05915", "12"}},
	}
	values := func(format string) []float64 {
		res, err := transform.Transform(raw, transform.Spec{
			IndicatorCode: "x",
			Layout:        transform.Layout{RegionCodeColumn: "code", ValueColumn: "value", NumberFormat: format},
		})
		require.NoError(t, err)
		require.Empty(t, res.Dropped)
		out := make([]float64, 0, len(res.Rows))
		for _, r := range res.Rows {
			out = append(out, r.Value)
		}
		return out
	}

	t.Run("auto", func(t *testing.T) {
		t.Parallel()
		require.InDeltaSlice(t, []float64{12.345, 1234.5, 12}, values(""), 1e-9)
	})

	t.Run("german", func(t *testing.T) {
		t.Parallel()
		require.InDeltaSlice(t, []float64{12345, 1234.5, 12}, values(transform.NumberFormatGerman), 1e-9)
	})
}

func TestTransform_LayoutMismatch(t *testing.T) {
	t.Parallel()

	t.Run("missing_column", func(t *testing.T) {
		t.Parallel()
		raw := &extract.RawTable{TableID: "t", Year: 2020, Rows: [][]string{{"a", "b"}}}
		_, err := transform.Transform(raw, longSpec())
		require.Error(t, err)
	})

	t.Run("no_header", func(t *testing.T) {
		t.Parallel()
		raw := &extract.RawTable{TableID: "t", Year: 2020}
		_, err := transform.Transform(raw, longSpec())
		require.ErrorIs(t, err, transform.ErrNoHeader)
	})
}

func TestSpec_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec transform.Spec
	}{
		{
			name: "unknown_breakdown",
			spec: transform.Spec{IndicatorCode: "x", Breakdowns: []string{"religion"}, Layout: transform.Layout{RegionCodeColumn: "a", ValueColumn: "b"}},
		},
		{
			name: "missing_value_column",
			spec: transform.Spec{IndicatorCode: "x", Layout: transform.Layout{RegionCodeColumn: "a"}},
		},
		{
			name: "duplicate_wide_breakdown",
			spec: transform.Spec{IndicatorCode: "x", Breakdowns: []string{"gender"}, Layout: transform.Layout{
				Kind:             transform.LayoutWide,
				RegionCodeColumn: "a",
				ValueColumns:     []transform.ValueColumn{{Column: "m", Gender: "m"}, {Column: "männlich", Gender: "männlich"}},
			}},
		},
		{
			name: "undeclared_wide_breakdown",
			spec: transform.Spec{IndicatorCode: "x", Layout: transform.Layout{
				Kind:             transform.LayoutWide,
				RegionCodeColumn: "a",
				ValueColumns:     []transform.ValueColumn{{Column: "w", Gender: "weiblich"}},
			}},
		},
		{
			name: "unknown_number_format",
			spec: transform.Spec{IndicatorCode: "x", Layout: transform.Layout{RegionCodeColumn: "a", ValueColumn: "b", NumberFormat: "fr"}},
		},
		{
			name: "invalid_quality_flag",
			spec: transform.Spec{IndicatorCode: "x", QualityFlag: "good", Layout: transform.Layout{RegionCodeColumn: "a", ValueColumn: "b"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			spec := tt.spec
			require.Error(t, spec.Validate())
		})
	}
}
