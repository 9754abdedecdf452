package transform

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	BreakdownGender      = "gender"
	BreakdownNationality = "nationality"
	BreakdownAgeGroup    = "age_group"

	LayoutLong = "long"
	LayoutWide = "wide"

	// NumberFormatAuto reads a lone dot as a decimal point ("12.5"), several
	// dots or a dot before a comma as thousands separators.
	NumberFormatAuto = "auto"
	// NumberFormatGerman always reads dots as thousands separators and the
	// comma as decimal separator, so "12.345" is 12345.
	NumberFormatGerman = "de"

	QualityFinal       = "final"
	QualityValidated   = "validated"
	QualityProvisional = "provisional"
	QualityEstimated   = "estimated"
)

var knownBreakdowns = []string{BreakdownGender, BreakdownNationality, BreakdownAgeGroup}

// Spec describes how one indicator is cut out of a raw table.
type Spec struct {
	IndicatorCode string
	// Breakdowns the indicator is published by. Any other breakdown must be total.
	Breakdowns  []string
	QualityFlag string
	Layout      Layout
}

// Layout maps raw table columns onto fact rows. Column references are header
// names, or "#N" for the 1-based column position.
type Layout struct {
	Kind     string `yaml:"kind"`
	SkipRows int    `yaml:"skip_rows"`
	// NumberFormat is NumberFormatAuto (default) or NumberFormatGerman.
	// German-locale exports with thousands separators need the latter.
	NumberFormat string `yaml:"number_format"`

	RegionCodeColumn string `yaml:"region_code"`
	RegionNameColumn string `yaml:"region_name"`
	// YearColumn is optional; the requested year is used when empty.
	YearColumn    string `yaml:"year"`
	QualityColumn string `yaml:"quality"`

	// Long layout.
	ValueColumn       string            `yaml:"value"`
	GenderColumn      string            `yaml:"gender"`
	NationalityColumn string            `yaml:"nationality"`
	AgeGroupColumn    string            `yaml:"age_group"`
	NoteColumns       []string          `yaml:"notes"`
	Filter            map[string]string `yaml:"filter"`

	// Wide layout.
	ValueColumns []ValueColumn `yaml:"value_columns"`
}

// ValueColumn is one value column of a wide table and the breakdown it holds.
type ValueColumn struct {
	Column      string `yaml:"column"`
	Gender      string `yaml:"gender"`
	Nationality string `yaml:"nationality"`
	AgeGroup    string `yaml:"age_group"`
	NoteColumn  string `yaml:"note"`
}

func (s *Spec) Validate() error {
	if s.IndicatorCode == "" {
		return errors.New("indicator code is required")
	}
	for _, b := range s.Breakdowns {
		if !slices.Contains(knownBreakdowns, b) {
			return fmt.Errorf("indicator %s: unknown breakdown %q", s.IndicatorCode, b)
		}
	}
	if s.QualityFlag == "" {
		s.QualityFlag = QualityFinal
	}
	if QualityRank(s.QualityFlag) == 0 {
		return fmt.Errorf("indicator %s: invalid quality flag %q", s.IndicatorCode, s.QualityFlag)
	}

	l := &s.Layout
	if l.Kind == "" {
		l.Kind = LayoutLong
	}
	switch l.NumberFormat {
	case "":
		l.NumberFormat = NumberFormatAuto
	case NumberFormatAuto, NumberFormatGerman:
	default:
		return fmt.Errorf("indicator %s: unknown number format %q", s.IndicatorCode, l.NumberFormat)
	}
	if l.SkipRows < 0 {
		return fmt.Errorf("indicator %s: skip_rows must not be negative", s.IndicatorCode)
	}
	if l.RegionCodeColumn == "" {
		return fmt.Errorf("indicator %s: layout.region_code is required", s.IndicatorCode)
	}

	switch l.Kind {
	case LayoutLong:
		if l.ValueColumn == "" {
			return fmt.Errorf("indicator %s: long layout requires layout.value", s.IndicatorCode)
		}
		if len(l.ValueColumns) > 0 {
			return fmt.Errorf("indicator %s: long layout does not take layout.value_columns", s.IndicatorCode)
		}
	case LayoutWide:
		if len(l.ValueColumns) == 0 {
			return fmt.Errorf("indicator %s: wide layout requires layout.value_columns", s.IndicatorCode)
		}
		seen := make(map[[3]string]string, len(l.ValueColumns))
		for _, vc := range l.ValueColumns {
			if vc.Column == "" {
				return fmt.Errorf("indicator %s: value column without name", s.IndicatorCode)
			}
			key := [3]string{
				Normalize(BreakdownGender, vc.Gender),
				Normalize(BreakdownNationality, vc.Nationality),
				Normalize(BreakdownAgeGroup, vc.AgeGroup),
			}
			for i, b := range knownBreakdowns {
				if key[i] != Total && !s.HasBreakdown(b) {
					return fmt.Errorf("indicator %s: value column %q sets undeclared breakdown %s", s.IndicatorCode, vc.Column, b)
				}
			}
			if other, ok := seen[key]; ok {
				return fmt.Errorf("indicator %s: value columns %q and %q map to the same breakdown", s.IndicatorCode, other, vc.Column)
			}
			seen[key] = vc.Column
		}
	default:
		return fmt.Errorf("indicator %s: unknown layout kind %q", s.IndicatorCode, l.Kind)
	}
	return nil
}

func (s *Spec) HasBreakdown(b string) bool {
	return slices.Contains(s.Breakdowns, b)
}

// columnIndex resolves a column reference against the header row.
func columnIndex(header []string, ref string) (int, bool) {
	if strings.HasPrefix(ref, "#") {
		var n int
		if _, err := fmt.Sscanf(ref, "#%d", &n); err == nil && n >= 1 && n <= len(header) {
			return n - 1, true
		}
		return 0, false
	}
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(ref)) {
			return i, true
		}
	}
	return 0, false
}

// QualityRank orders quality flags: final > validated > provisional > estimated.
// Unknown flags rank 0.
func QualityRank(flag string) int {
	switch flag {
	case QualityFinal:
		return 4
	case QualityValidated:
		return 3
	case QualityProvisional:
		return 2
	case QualityEstimated:
		return 1
	}
	return 0
}
