package extract

import "time"

// Format is the upstream tablefile format.
type Format string

const (
	FormatFFCSV    Format = "ffcsv"
	FormatDatenCSV Format = "datencsv"
	FormatXLSX     Format = "xlsx"
)

// RawTable is one year of an upstream table, decoded into string cells.
// Rows keeps the table as delivered, including preamble and header rows.
type RawTable struct {
	TableID     string
	Year        int
	Format      Format
	Rows        [][]string
	ExtractedAt time.Time
}
