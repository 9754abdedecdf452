package cli_test

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ruhrdata/regiolake/internal/cli"
	"github.com/stretchr/testify/require"
)

const testRegistry = `
indicators:
  - code: population_total
    name: Bevölkerung insgesamt
    category: demographics
    source_table_id: 12411-01-01-4
    unit: Personen
    breakdowns: [gender]
    layout:
      region_code: Kreis
      region_name: Name
      value: Wert
      gender: Geschlecht
`

const testTable = "Kreis;Name;Geschlecht;Wert\n" +
	"05113;Essen;Insgesamt;582760\n" +
	"05113;Essen;weiblich;296000\n" +
	"05112;Duisburg;Insgesamt;498686\n"

func writeConfig(t *testing.T, sourceURL string) string {
	t.Helper()
	dir := t.TempDir()
	registryPath := filepath.Join(dir, "indicators.yaml")
	require.NoError(t, os.WriteFile(registryPath, []byte(testRegistry), 0o644))

	cfg := `
warehouse:
  dsn: duckdb://` + filepath.Join(dir, "warehouse.db") + `
source:
  env: regionalstatistik
  base_url: ` + sourceURL + `
  max_retries: 1
registry: ` + registryPath + `
verification:
  must_have_regions: ["05113"]
  expected_regions: ["05112", "05113"]
  min_years: 1
`
	path := filepath.Join(dir, "regiolake.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := cli.NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	return out.String(), err
}

func TestCLI_EndToEnd(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(testTable))
	}))
	t.Cleanup(upstream.Close)
	cfg := writeConfig(t, upstream.URL)

	out, err := execute(t, "--config", cfg, "migrate")
	require.NoError(t, err)
	require.Contains(t, out, "migrations applied")

	out, err = execute(t, "--config", cfg, "seed")
	require.NoError(t, err)
	require.Contains(t, out, "indicators registered: 1")

	out, err = execute(t, "--config", cfg, "seed")
	require.NoError(t, err)
	require.Contains(t, out, "regions inserted: 0")

	out, err = execute(t, "--config", cfg, "run", "--table", "12411-01-01-4", "--from", "2020")
	require.NoError(t, err)
	require.Contains(t, out, "population_total")
	require.Contains(t, out, "PASS")

	out, err = execute(t, "--config", cfg, "verify", "--indicator", "population_total")
	require.NoError(t, err)
	require.Contains(t, out, "PASS")
	require.Contains(t, out, "2020-2020 (1)")

	exportDir := t.TempDir() + "/"
	out, err = execute(t, "--config", cfg, "export", "--indicator", "population_total", "--out", exportDir)
	require.NoError(t, err)
	require.Contains(t, out, "exported population_total")
	data, err := os.ReadFile(filepath.Join(exportDir, "population_total.csv"))
	require.NoError(t, err)
	require.Equal(t, 4, strings.Count(string(data), "\n"))

	out, err = execute(t, "--config", cfg, "runs", "--limit", "5")
	require.NoError(t, err)
	require.Contains(t, out, "12411-01-01-4")
	require.Contains(t, out, "succeeded")

	out, err = execute(t, "--config", cfg, "reload", "--indicator", "population_total", "--delete-only")
	require.NoError(t, err)
	require.Contains(t, out, "deleted 3 facts of population_total")

	out, err = execute(t, "--config", cfg, "verify", "--indicator", "population_total")
	require.Error(t, err)
	require.Contains(t, out, "FAIL")

	out, err = execute(t, "--config", cfg, "reload", "--indicator", "population_total", "--year", "2020")
	require.NoError(t, err)
	require.Contains(t, out, "deleted 0 facts")
	require.Contains(t, out, "PASS")
}

func TestCLI_FlagValidation(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, "http://127.0.0.1:1")

	tests := []struct {
		name string
		args []string
	}{
		{"run_without_table", []string{"run", "--from", "2020"}},
		{"run_with_table_and_all", []string{"run", "--table", "x", "--all", "--from", "2020"}},
		{"run_inverted_years", []string{"run", "--table", "x", "--from", "2021", "--to", "2020"}},
		{"run_without_years", []string{"run", "--table", "x"}},
		{"export_without_indicator", []string{"export", "--out", "x.csv"}},
		{"reload_without_year", []string{"reload", "--indicator", "population_total"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := execute(t, append([]string{"--config", cfg}, tt.args...)...)
			require.Error(t, err)
		})
	}
}
