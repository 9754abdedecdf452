// Package chat answers free-text questions about the warehouse by mapping
// them onto a fixed set of parameterized query templates.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ruhrdata/regiolake/pkg/querier"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Querier is the read side the templates run against.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (querier.QueryResponse, error)
	LatestYear(ctx context.Context, category string) (int, error)
	Cities(ctx context.Context) ([]querier.City, error)
}

type Config struct {
	Logger  *slog.Logger
	Querier Querier
	// DefaultCities are region codes used when a question names no city.
	DefaultCities []string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Querier == nil {
		return errors.New("querier is required")
	}
	if len(cfg.DefaultCities) == 0 {
		return errors.New("default cities are required")
	}
	return nil
}

type Response struct {
	Intent      Intent             `json:"intent"`
	Answer      string             `json:"answer"`
	Explanation string             `json:"explanation"`
	SQL         string             `json:"sql,omitempty"`
	Year        int                `json:"year,omitempty"`
	Cities      []string           `json:"cities,omitempty"`
	Columns     []string           `json:"columns,omitempty"`
	Rows        []querier.QueryRow `json:"rows,omitempty"`
}

type Bot struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Bot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate chat config: %w", err)
	}
	return &Bot{log: cfg.Logger, cfg: cfg}, nil
}

// Answer classifies the question, fills the matching template and runs it.
// Questions matching no template get the help text without a query.
func (b *Bot) Answer(ctx context.Context, question string) (*Response, error) {
	start := time.Now()
	tmpl, lang := classify(question)
	defer func() {
		MetricQuestions.WithLabelValues(string(tmpl.intent)).Inc()
		MetricAnswerDuration.WithLabelValues(string(tmpl.intent)).Observe(time.Since(start).Seconds())
	}()

	resp := &Response{
		Intent:      tmpl.intent,
		Explanation: tmpl.explanation[lang],
	}
	if len(tmpl.indicators) == 0 {
		resp.Answer = tmpl.explanation[lang]
		return resp, nil
	}

	year, err := b.year(ctx, question, tmpl.category)
	if err != nil {
		return nil, err
	}
	cities, err := b.cities(ctx, question)
	if err != nil {
		return nil, err
	}
	resp.Year = year
	resp.Cities = cities

	sql, args := buildQuery(tmpl, year, cities)
	result, err := b.cfg.Querier.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run %s template: %w", tmpl.intent, err)
	}
	resp.SQL = sql
	resp.Columns = result.Columns
	resp.Rows = result.Rows
	resp.Answer = summarize(tmpl, lang, year, result.Rows)

	b.log.Debug("chat: answered question", "intent", tmpl.intent, "year", year, "cities", cities, "rows", result.Count)
	return resp, nil
}

// year returns the first plausible year in the question, else the latest
// year with data.
func (b *Bot) year(ctx context.Context, question, category string) (int, error) {
	if m := yearPattern.FindString(question); m != "" {
		y, err := strconv.Atoi(m)
		if err == nil {
			return y, nil
		}
	}
	y, err := b.cfg.Querier.LatestYear(ctx, category)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest year: %w", err)
	}
	return y, nil
}

// cities returns the region codes of every region named in the question.
func (b *Bot) cities(ctx context.Context, question string) ([]string, error) {
	all, err := b.cfg.Querier.Cities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cities: %w", err)
	}
	var codes []string
	for _, c := range all {
		if mentions(question, c.Name) {
			codes = append(codes, c.RegionCode)
		}
	}
	if len(codes) == 0 {
		return slices.Clone(b.cfg.DefaultCities), nil
	}
	return codes, nil
}

func mentions(question, name string) bool {
	if name == "" {
		return false
	}
	re, err := regexp.Compile(`(?i)(^|[^\pL])` + regexp.QuoteMeta(name) + `($|[^\pL])`)
	if err != nil {
		return false
	}
	return re.MatchString(question)
}

const totalsOnly = `COALESCE(f.gender, 'total') = 'total'
  AND COALESCE(f.nationality, 'total') = 'total'
  AND COALESCE(f.age_group, 'total') = 'total'`

func buildQuery(tmpl template, year int, cities []string) (string, []any) {
	args := make([]any, 0, len(tmpl.indicators)+len(cities)+1)
	indicators := placeholders(&args, tmpl.indicators)
	args = append(args, year)
	yearArg := "$" + strconv.Itoa(len(args))
	regions := placeholders(&args, cities)

	return `SELECT g.region_name, i.indicator_name, t.year, SUM(f.value) AS value, i.unit_of_measure AS unit
FROM fact_demographics f
JOIN dim_geography g ON g.geo_id = f.geo_id
JOIN dim_time t ON t.time_id = f.time_id
JOIN dim_indicator i ON i.indicator_id = f.indicator_id
WHERE i.indicator_code IN (` + indicators + `)
  AND t.year = ` + yearArg + ` AND t.quarter = 0
  AND ` + totalsOnly + `
  AND g.region_code IN (` + regions + `)
GROUP BY g.region_name, i.indicator_name, t.year, i.unit_of_measure
ORDER BY i.indicator_name, 4 DESC, g.region_name`, args
}

func placeholders(args *[]any, values []string) string {
	ph := make([]string, len(values))
	for i, v := range values {
		*args = append(*args, v)
		ph[i] = "$" + strconv.Itoa(len(*args))
	}
	return strings.Join(ph, ", ")
}

func summarize(tmpl template, lang language.Tag, year int, rows []querier.QueryRow) string {
	p := message.NewPrinter(lang)
	if len(rows) == 0 {
		if lang == language.German {
			return fmt.Sprintf("Für %d liegen zu dieser Frage keine Daten vor.", year)
		}
		return fmt.Sprintf("No data available for %d.", year)
	}

	var sb strings.Builder
	sb.WriteString(tmpl.headline[lang] + " " + strconv.Itoa(year) + ":")
	current := ""
	for _, row := range rows {
		indicator, _ := row["indicator_name"].(string)
		if len(tmpl.indicators) > 1 && indicator != current {
			current = indicator
			sb.WriteString("\n" + indicator + ":")
		}
		name, _ := row["region_name"].(string)
		unit, _ := row["unit"].(string)
		line := "\n- " + name + ": " + formatValue(p, row["value"])
		if unit != "" {
			line += " " + unit
		}
		sb.WriteString(line)
	}
	return sb.String()
}

func formatValue(p *message.Printer, v any) string {
	switch n := v.(type) {
	case nil:
		return "-"
	case float64:
		if n == float64(int64(n)) {
			return p.Sprintf("%d", int64(n))
		}
		return p.Sprintf("%.2f", n)
	case float32:
		return formatValue(p, float64(n))
	case int64:
		return p.Sprintf("%d", n)
	case int32:
		return p.Sprintf("%d", n)
	case int:
		return p.Sprintf("%d", n)
	default:
		return fmt.Sprint(n)
	}
}
