package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"
)

const (
	defaultTimeout    = 2 * time.Minute
	defaultMaxRetries = 5
	defaultLanguage   = "de"
	maxErrorBody      = 500
)

type Config struct {
	Logger     *slog.Logger
	Clock      clockwork.Clock
	BaseURL    string
	Username   string
	Password   string
	HTTPClient *http.Client
	Format     Format
	Language   string
	MaxRetries uint
	Timeout    time.Duration
	// NewBackOff returns the retry policy for one table year. Defaults to
	// exponential backoff.
	NewBackOff func() backoff.BackOff
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.BaseURL == "" {
		return errors.New("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Format == "" {
		cfg.Format = FormatFFCSV
	}
	switch cfg.Format {
	case FormatFFCSV, FormatDatenCSV, FormatXLSX:
	default:
		return fmt.Errorf("unsupported format %q", cfg.Format)
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	return nil
}

// Client downloads tables from a GENESIS-style statistics API.
type Client struct {
	log *slog.Logger
	cfg Config
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Client{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Extract downloads a single year of a table. Upstream only serves one year
// per request for district level tables.
func (c *Client) Extract(ctx context.Context, tableID string, year int) (*RawTable, error) {
	if tableID == "" {
		return nil, errors.New("table id is required")
	}

	start := c.cfg.Clock.Now()
	attempt := 0
	rows, err := backoff.Retry(ctx, func() ([][]string, error) {
		attempt++
		rows, err := c.fetch(ctx, tableID, year)
		if err == nil {
			return rows, nil
		}
		if !isRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		var se *statusError
		if errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests && se.retryAfter > 0 {
			return nil, backoff.RetryAfter(se.retryAfter)
		}
		return nil, err
	},
		backoff.WithBackOff(c.cfg.NewBackOff()),
		backoff.WithMaxTries(c.cfg.MaxRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			MetricRetriesTotal.WithLabelValues(tableID).Inc()
			c.log.Warn("extract: request failed, retrying", "table", tableID, "year", year, "attempt", attempt, "next", next, "error", err)
		}),
	)
	duration := c.cfg.Clock.Since(start)
	if err != nil {
		MetricRequestsTotal.WithLabelValues(tableID, "error").Inc()
		return nil, &ExtractionError{
			TableID:   tableID,
			Year:      year,
			Retryable: isRetryable(err),
			Err:       err,
		}
	}
	MetricRequestsTotal.WithLabelValues(tableID, "success").Inc()
	MetricRowsExtracted.WithLabelValues(tableID).Add(float64(len(rows)))

	c.log.Info("extract: table downloaded", "table", tableID, "year", year, "rows", len(rows), "attempts", attempt, "duration", duration.String())
	return &RawTable{
		TableID:     tableID,
		Year:        year,
		Format:      c.cfg.Format,
		Rows:        rows,
		ExtractedAt: c.cfg.Clock.Now().UTC(),
	}, nil
}

// ExtractRange downloads the years from..to one after another. It stops at the
// first failed year and returns no tables in that case.
func (c *Client) ExtractRange(ctx context.Context, tableID string, from, to int) ([]*RawTable, error) {
	if from > to {
		return nil, fmt.Errorf("invalid year range %d-%d", from, to)
	}
	tables := make([]*RawTable, 0, to-from+1)
	for year := from; year <= to; year++ {
		t, err := c.Extract(ctx, tableID, year)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func (c *Client) fetch(ctx context.Context, tableID string, year int) ([][]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	form := url.Values{}
	form.Set("name", tableID)
	form.Set("area", "all")
	form.Set("compress", "false")
	form.Set("transpose", "false")
	form.Set("startyear", strconv.Itoa(year))
	form.Set("endyear", strconv.Itoa(year))
	form.Set("format", string(c.cfg.Format))
	form.Set("language", c.cfg.Language)

	endpoint := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/data/tablefile"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrUnexpected, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.cfg.Username != "" {
		req.Header.Set("username", c.cfg.Username)
		req.Header.Set("password", c.cfg.Password)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody] + "..."
		}
		se := &statusError{StatusCode: resp.StatusCode, Body: msg}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			se.retryAfter = secs
		}
		if !isRetryable(se) {
			return nil, fmt.Errorf("%w: %v", ErrUnexpected, se)
		}
		return nil, se
	}

	return decode(c.cfg.Format, body)
}
