package transform

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Total is the breakdown value of an aggregate over all members.
const Total = "total"

var (
	errMissingValue = errors.New("missing or suppressed value")
	errInvalidYear  = errors.New("invalid year")
)

var totalAliases = map[string]struct{}{
	"":          {},
	"-":         {},
	"insgesamt": {},
	"total":     {},
	"gesamt":    {},
	"zusammen":  {},
}

var breakdownAliases = map[string]map[string]string{
	BreakdownGender: {
		"männlich":  "male",
		"maennlich": "male",
		"m":         "male",
		"male":      "male",
		"gesm":      "male",
		"weiblich":  "female",
		"w":         "female",
		"female":    "female",
		"gesw":      "female",
	},
	BreakdownNationality: {
		"deutsche":         "german",
		"deutsch":          "german",
		"german":           "german",
		"natd":             "german",
		"ausländer":        "foreign",
		"auslaender":       "foreign",
		"ausländer/-innen": "foreign",
		"foreign":          "foreign",
		"nata":             "foreign",
	},
}

// Normalize maps a raw breakdown label to its canonical lowercase value.
// Aggregate labels ("Insgesamt", "Total", empty, "-") become Total.
func Normalize(breakdown, raw string) string {
	v := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	if _, ok := totalAliases[v]; ok {
		return Total
	}
	if aliases, ok := breakdownAliases[breakdown]; ok {
		if canonical, ok := aliases[v]; ok {
			return canonical
		}
	}
	return v
}

// suppressionMarkers are cell values upstream publishes instead of a number.
var suppressionMarkers = map[string]struct{}{
	"":    {},
	"-":   {},
	".":   {},
	"...": {},
	"x":   {},
	"/":   {},
	"–":   {},
}

// ParseNumber parses plain ("1234.5") and German ("1.234,5") formatted numbers.
// A single dot without a comma is a decimal point; several dots are thousands
// separators.
func ParseNumber(raw string) (float64, error) {
	return parseNumber(raw, NumberFormatAuto)
}

// ParseGermanNumber parses German formatted numbers, where every dot is a
// thousands separator ("12.345" is 12345).
func ParseGermanNumber(raw string) (float64, error) {
	return parseNumber(raw, NumberFormatGerman)
}

func parseNumber(raw, format string) (float64, error) {
	s := strings.TrimSpace(strings.ReplaceAll(raw, "\u00a0", ""))
	if _, ok := suppressionMarkers[strings.ToLower(s)]; ok {
		return 0, errMissingValue
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.TrimPrefix(s, "+")

	switch {
	case format == NumberFormatGerman || strings.Contains(s, ","):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("unparseable number %q", raw)
	}
	f, _ := d.Float64()
	return f, nil
}

// ParseYear accepts "2020", "31.12.2020" and "2020-12-31".
func ParseYear(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, errInvalidYear
	}
	var year int
	if n, err := strconv.Atoi(s); err == nil {
		year = n
	} else if t, err := time.Parse("02.01.2006", s); err == nil {
		year = t.Year()
	} else if t, err := time.Parse("2006-01-02", s); err == nil {
		year = t.Year()
	} else {
		return 0, fmt.Errorf("%w: %q", errInvalidYear, raw)
	}
	if year < 1900 || year > 2100 {
		return 0, fmt.Errorf("%w: %q", errInvalidYear, raw)
	}
	return year, nil
}

// parseQuality maps upstream quality markers onto quality flags.
func parseQuality(raw, fallback string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "e", "final", "endgültig":
		return QualityFinal
	case "validated", "geprüft":
		return QualityValidated
	case "v", "p", "provisional", "vorläufig":
		return QualityProvisional
	case "g", "s", "estimated", "geschätzt":
		return QualityEstimated
	}
	return fallback
}
