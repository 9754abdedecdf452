package querier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type Querier struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Querier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate querier config: %w", err)
	}
	return &Querier{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// ErrNotReadOnly is returned by Query for statements other than SELECT/WITH.
var ErrNotReadOnly = errors.New("only read-only statements are allowed")

// QueryResponse is a generic tabular result, keyed by column name.
type QueryResponse struct {
	Columns   []string   `json:"columns"`
	Rows      []QueryRow `json:"rows"`
	Count     int        `json:"count"`
	Truncated bool       `json:"truncated,omitempty"`
}

type QueryRow map[string]any

// Query runs a parameterized read query and returns generic rows, at most
// MaxRows of them.
func (q *Querier) Query(ctx context.Context, sql string, args ...any) (QueryResponse, error) {
	if !isReadOnly(sql) {
		return QueryResponse{}, ErrNotReadOnly
	}
	defer observe("query", time.Now())

	conn, err := q.cfg.DB.Conn(ctx)
	if err != nil {
		return QueryResponse{}, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, sql, args...)
	if err != nil {
		return QueryResponse{}, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return QueryResponse{}, fmt.Errorf("failed to get columns: %w", err)
	}

	resp := QueryResponse{Columns: columns, Rows: []QueryRow{}}
	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	for rows.Next() {
		if len(resp.Rows) == q.cfg.MaxRows {
			resp.Truncated = true
			break
		}
		if err := rows.Scan(dest...); err != nil {
			return QueryResponse{}, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(QueryRow, len(columns))
		for i, col := range columns {
			row[col] = jsonValue(values[i])
		}
		resp.Rows = append(resp.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return QueryResponse{}, fmt.Errorf("error iterating rows: %w", err)
	}
	resp.Count = len(resp.Rows)
	if resp.Truncated {
		q.log.Warn("querier: result truncated", "max_rows", q.cfg.MaxRows)
	}
	return resp, nil
}

// jsonValue maps driver values onto types that encode cleanly: text as
// string, all integer widths as int64 and float32 as float64.
func jsonValue(v any) any {
	switch v := v.(type) {
	case []byte:
		return string(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case float32:
		return float64(v)
	}
	return v
}

func isReadOnly(sql string) bool {
	fields := strings.Fields(strings.TrimLeft(sql, "( \t\r\n"))
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH":
		return !strings.Contains(strings.TrimRight(strings.TrimSpace(sql), ";"), ";")
	}
	return false
}

// Ping checks that the warehouse answers queries.
func (q *Querier) Ping(ctx context.Context) error {
	conn, err := q.cfg.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	var one int
	if err := conn.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("failed to ping warehouse: %w", err)
	}
	return nil
}
