package transform

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ruhrdata/regiolake/pkg/extract"
)

// Row is one normalized fact, keyed by natural keys.
type Row struct {
	RegionCode    string
	RegionName    string
	Year          int
	Quarter       int
	IndicatorCode string
	Gender        string
	Nationality   string
	AgeGroup      string
	Value         float64
	Note          string
	QualityFlag   string
}

// ValidationError describes a raw row the transformer dropped. Line is the
// 1-based row number in the raw table.
type ValidationError struct {
	Line   int
	Field  string
	Value  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("row %d: %s %q: %s", e.Line, e.Field, e.Value, e.Reason)
}

type Result struct {
	Rows    []Row
	Dropped []ValidationError
}

var ErrNoHeader = errors.New("table has no header row")

// columns holds resolved column positions; optional columns are -1 when unset.
type columns struct {
	regionCode, regionName, year, quality int
	value, gender, nationality, ageGroup  int
	notes                                 []int
	filter                                map[int]string
	wide                                  []wideColumn
}

type wideColumn struct {
	value, note                   int
	gender, nationality, ageGroup string
}

// Transform turns a raw table into fact rows for the indicator described by
// spec. Row-level problems never fail the batch; they are collected in
// Result.Dropped. An error is returned only when the table does not match the
// layout at all.
func Transform(raw *extract.RawTable, spec Spec) (*Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	l := spec.Layout
	if len(raw.Rows) <= l.SkipRows {
		return nil, ErrNoHeader
	}
	header := raw.Rows[l.SkipRows]
	cols, err := resolveColumns(header, l)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", raw.TableID, err)
	}

	res := &Result{}
	for i := l.SkipRows + 1; i < len(raw.Rows); i++ {
		record := raw.Rows[i]
		line := i + 1
		if blank(record) {
			continue
		}
		if !cols.matches(record) {
			continue
		}

		base, verr := baseRow(record, cols, spec, raw.Year, line)
		if verr != nil {
			res.Dropped = append(res.Dropped, *verr)
			continue
		}

		if l.Kind == LayoutWide {
			for _, wc := range cols.wide {
				row := base
				row.Gender, row.Nationality, row.AgeGroup = wc.gender, wc.nationality, wc.ageGroup
				if wc.note >= 0 {
					row.Note = joinNotes(row.Note, cell(record, wc.note))
				}
				v, err := parseNumber(cell(record, wc.value), l.NumberFormat)
				if err != nil {
					res.Dropped = append(res.Dropped, ValidationError{Line: line, Field: header[wc.value], Value: cell(record, wc.value), Reason: err.Error()})
					continue
				}
				row.Value = v
				res.Rows = append(res.Rows, row)
			}
			continue
		}

		row := base
		row.Gender = optional(record, cols.gender, BreakdownGender)
		row.Nationality = optional(record, cols.nationality, BreakdownNationality)
		row.AgeGroup = optional(record, cols.ageGroup, BreakdownAgeGroup)
		if b, v := undeclared(spec, row); b != "" {
			res.Dropped = append(res.Dropped, ValidationError{Line: line, Field: b, Value: v, Reason: "breakdown not declared for indicator"})
			continue
		}
		v, err := parseNumber(cell(record, cols.value), l.NumberFormat)
		if err != nil {
			res.Dropped = append(res.Dropped, ValidationError{Line: line, Field: "value", Value: cell(record, cols.value), Reason: err.Error()})
			continue
		}
		row.Value = v
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

func resolveColumns(header []string, l Layout) (*columns, error) {
	required := func(ref, name string) (int, error) {
		idx, ok := columnIndex(header, ref)
		if !ok {
			return 0, fmt.Errorf("%s column %q not found", name, ref)
		}
		return idx, nil
	}
	optionalCol := func(ref, name string) (int, error) {
		if ref == "" {
			return -1, nil
		}
		return required(ref, name)
	}

	c := &columns{filter: make(map[int]string)}
	var err error
	if c.regionCode, err = required(l.RegionCodeColumn, "region code"); err != nil {
		return nil, err
	}
	if c.regionName, err = optionalCol(l.RegionNameColumn, "region name"); err != nil {
		return nil, err
	}
	if c.year, err = optionalCol(l.YearColumn, "year"); err != nil {
		return nil, err
	}
	if c.quality, err = optionalCol(l.QualityColumn, "quality"); err != nil {
		return nil, err
	}
	for _, ref := range l.NoteColumns {
		idx, err := required(ref, "note")
		if err != nil {
			return nil, err
		}
		c.notes = append(c.notes, idx)
	}
	for ref, want := range l.Filter {
		idx, err := required(ref, "filter")
		if err != nil {
			return nil, err
		}
		c.filter[idx] = want
	}

	if l.Kind == LayoutWide {
		c.value, c.gender, c.nationality, c.ageGroup = -1, -1, -1, -1
		for _, vc := range l.ValueColumns {
			idx, err := required(vc.Column, "value")
			if err != nil {
				return nil, err
			}
			note, err := optionalCol(vc.NoteColumn, "note")
			if err != nil {
				return nil, err
			}
			c.wide = append(c.wide, wideColumn{
				value:       idx,
				note:        note,
				gender:      Normalize(BreakdownGender, vc.Gender),
				nationality: Normalize(BreakdownNationality, vc.Nationality),
				ageGroup:    Normalize(BreakdownAgeGroup, vc.AgeGroup),
			})
		}
		return c, nil
	}

	if c.value, err = required(l.ValueColumn, "value"); err != nil {
		return nil, err
	}
	if c.gender, err = optionalCol(l.GenderColumn, "gender"); err != nil {
		return nil, err
	}
	if c.nationality, err = optionalCol(l.NationalityColumn, "nationality"); err != nil {
		return nil, err
	}
	if c.ageGroup, err = optionalCol(l.AgeGroupColumn, "age group"); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *columns) matches(record []string) bool {
	for idx, want := range c.filter {
		if !strings.EqualFold(strings.TrimSpace(cell(record, idx)), strings.TrimSpace(want)) {
			return false
		}
	}
	return true
}

func baseRow(record []string, c *columns, spec Spec, requestedYear, line int) (Row, *ValidationError) {
	code := strings.TrimSpace(cell(record, c.regionCode))
	if code == "" {
		return Row{}, &ValidationError{Line: line, Field: "region_code", Reason: "missing region code"}
	}

	year := requestedYear
	if c.year >= 0 {
		y, err := ParseYear(cell(record, c.year))
		if err != nil {
			return Row{}, &ValidationError{Line: line, Field: "year", Value: cell(record, c.year), Reason: err.Error()}
		}
		year = y
	}
	if year == 0 {
		return Row{}, &ValidationError{Line: line, Field: "year", Reason: "missing year"}
	}

	row := Row{
		RegionCode:    code,
		Year:          year,
		IndicatorCode: spec.IndicatorCode,
		Gender:        Total,
		Nationality:   Total,
		AgeGroup:      Total,
		QualityFlag:   spec.QualityFlag,
	}
	if c.regionName >= 0 {
		row.RegionName = strings.TrimSpace(cell(record, c.regionName))
	}
	if c.quality >= 0 {
		row.QualityFlag = parseQuality(cell(record, c.quality), spec.QualityFlag)
	}
	for _, idx := range c.notes {
		row.Note = joinNotes(row.Note, cell(record, idx))
	}
	return row, nil
}

func undeclared(spec Spec, row Row) (string, string) {
	for _, b := range []struct{ name, value string }{
		{BreakdownGender, row.Gender},
		{BreakdownNationality, row.Nationality},
		{BreakdownAgeGroup, row.AgeGroup},
	} {
		if b.value != Total && !spec.HasBreakdown(b.name) {
			return b.name, b.value
		}
	}
	return "", ""
}

func optional(record []string, idx int, breakdown string) string {
	if idx < 0 {
		return Total
	}
	return Normalize(breakdown, cell(record, idx))
}

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return record[idx]
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func joinNotes(existing, note string) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return existing
	}
	if existing == "" {
		return note
	}
	return existing + "; " + note
}
