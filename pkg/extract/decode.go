package extract

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// footerPrefix starts the legend block GENESIS appends below a CSV table.
const footerPrefix = "__________"

// upstreamStatus is the JSON document returned instead of a table on errors.
type upstreamStatus struct {
	Status struct {
		Code    int    `json:"Code"`
		Content string `json:"Content"`
		Type    string `json:"Type"`
	} `json:"Status"`
}

const (
	statusCodeJobCreated = 98
	statusCodeJobRunning = 99
	statusCodeTooLarge   = 104
)

// decodeStatus interprets a JSON status body. It always returns an error: a
// status document is never a table.
func decodeStatus(body []byte) error {
	var st upstreamStatus
	if err := json.Unmarshal(body, &st); err != nil {
		return fmt.Errorf("%w: invalid status document: %v", ErrUnexpected, err)
	}
	content := strings.ToLower(st.Status.Content)
	switch {
	case st.Status.Code == statusCodeTooLarge, strings.Contains(content, "zu groß"), strings.Contains(content, "too large"):
		return fmt.Errorf("%w: %s", ErrTooLarge, st.Status.Content)
	case st.Status.Code == statusCodeJobCreated, st.Status.Code == statusCodeJobRunning:
		return fmt.Errorf("%w: %s", ErrJobPending, st.Status.Content)
	case strings.Contains(content, "passwort"), strings.Contains(content, "password"), strings.Contains(content, "anmeldung"):
		return fmt.Errorf("%w: %s", ErrUnauthorized, st.Status.Content)
	}
	return fmt.Errorf("%w: status %d: %s", ErrUnexpected, st.Status.Code, st.Status.Content)
}

func isJSON(body []byte) bool {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(body, utf8BOM))
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// decodeCSV reads a semicolon separated table. Latin-1 input is converted to
// UTF-8; every cell is kept as a string.
func decodeCSV(body []byte) ([][]string, error) {
	body = bytes.TrimPrefix(body, utf8BOM)
	if !utf8.Valid(body) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode latin-1 table: %w", err)
		}
		body = decoded
	}

	r := csv.NewReader(bytes.NewReader(body))
	r.Comma = ';'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: malformed csv: %v", ErrUnexpected, err)
		}
		if len(record) > 0 && strings.HasPrefix(strings.TrimSpace(record[0]), footerPrefix) {
			break
		}
		rows = append(rows, record)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty table", ErrUnexpected)
	}
	return rows, nil
}

// decodeXLSX reads the first sheet of an Excel workbook.
func decodeXLSX(body []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid workbook: %v", ErrUnexpected, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrUnexpected)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read sheet %s: %v", ErrUnexpected, sheets[0], err)
	}
	for i, row := range rows {
		if len(row) > 0 && strings.HasPrefix(strings.TrimSpace(row[0]), footerPrefix) {
			rows = rows[:i]
			break
		}
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty table", ErrUnexpected)
	}
	return rows, nil
}

func decode(format Format, body []byte) ([][]string, error) {
	if isJSON(body) {
		return nil, decodeStatus(body)
	}
	switch format {
	case FormatXLSX:
		return decodeXLSX(body)
	case FormatFFCSV, FormatDatenCSV:
		return decodeCSV(body)
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}
