package geography_test

import (
	"testing"

	"github.com/ruhrdata/regiolake/pkg/geography"
	warehousetesting "github.com/ruhrdata/regiolake/pkg/warehouse/testing"
	"github.com/stretchr/testify/require"
)

func TestRegions(t *testing.T) {
	t.Parallel()

	regions, err := geography.Regions()
	require.NoError(t, err)

	byCode := make(map[string]geography.Region, len(regions))
	ruhr := 0
	for _, r := range regions {
		byCode[r.Code] = r
		if r.RuhrArea {
			ruhr++
		}
	}
	require.Equal(t, 15, ruhr)
	require.Len(t, byCode, 55)

	for _, code := range []string{"05112", "05113", "05911", "05913", "05513"} {
		r, ok := byCode[code]
		require.True(t, ok, code)
		require.True(t, r.RuhrArea, code)
	}
	require.Equal(t, geography.TypeCountry, byCode["DG"].Type)
	require.Equal(t, geography.TypeState, byCode["05"].Type)

	t.Run("returns_copy", func(t *testing.T) {
		t.Parallel()
		a, err := geography.Regions()
		require.NoError(t, err)
		a[0].Name = "changed"
		b, err := geography.Regions()
		require.NoError(t, err)
		require.NotEqual(t, "changed", b[0].Name)
	})
}

func TestInferType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code string
		want string
	}{
		{"DG", geography.TypeCountry},
		{"05", geography.TypeState},
		{"05113", geography.TypeUrbanDistrict},
		{"05562", geography.TypeDistrict},
		{"05978", geography.TypeDistrict},
		{"051130000", geography.TypeDistrict},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, geography.InferType(tt.code), tt.code)
	}
}

func TestSeed(t *testing.T) {
	t.Parallel()

	db := warehousetesting.NewDB(t)
	conn, err := db.Conn(t.Context())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ExecContext(t.Context(), `INSERT INTO dim_geography (region_code, region_name, region_type) VALUES ('05113', 'Essen (manual)', 'urban_district')`)
	require.NoError(t, err)

	inserted, err := geography.Seed(t.Context(), warehousetesting.NewLogger(), conn)
	require.NoError(t, err)
	require.Equal(t, 54, inserted)

	var name string
	require.NoError(t, conn.QueryRowContext(t.Context(), `SELECT region_name FROM dim_geography WHERE region_code = '05113'`).Scan(&name))
	require.Equal(t, "Essen (manual)", name)

	var ruhr int
	require.NoError(t, conn.QueryRowContext(t.Context(), `SELECT COUNT(*) FROM dim_geography WHERE is_ruhr_area`).Scan(&ruhr))
	require.Equal(t, 14, ruhr)

	inserted, err = geography.Seed(t.Context(), warehousetesting.NewLogger(), conn)
	require.NoError(t, err)
	require.Equal(t, 0, inserted)
}
