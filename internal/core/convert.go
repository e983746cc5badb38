package core

// convert.go provides cell cleanup and conversion for spreadsheet data.
//
// These functions handle the messy reality of operator-prepared spreadsheets:
//   - Dates stored either as spreadsheet serial numbers or as text
//   - Identifiers typed with spaces, dashes and dots ("123-456-789 01")
//   - Formula prefixes (="value") and wrapping quotes from CSV round trips
//   - Trailing punctuation left over from copy/paste
//
// Every function is total: bad input degrades to an empty value, never an error.

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// dateLayouts are the textual date formats accepted in date columns.
var dateLayouts = []string{
	"02.01.2006", "2.1.2006",
	"02/01/2006", "2/1/2006",
	"2006-01-02",
}

// spreadsheetEpoch is day zero of the 1900 date system (with the leap-year bug folded in).
var spreadsheetEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// Serial numbers outside [minSerialDate, maxSerialDate] are not dates.
// minSerialDate is 1927-05-18: shorter numbers are years or day.month fragments.
// maxSerialDate is 9999-12-31 in the 1900 date system.
const (
	minSerialDate = 10000
	maxSerialDate = 2958465
)

// trailingPunct is stripped from the end of every string field.
const trailingPunct = ".,;:"

// ParseDate converts a date cell to a Date.
// Accepts a spreadsheet serial number or DD.MM.YYYY, DD/MM/YYYY, YYYY-MM-DD.
// Trailing punctuation is ignored. Returns nil for empty or unparseable input.
func ParseDate(s string) *Date {
	s = strings.TrimRight(CleanCell(s), trailingPunct)
	if s == "" {
		return nil
	}

	if d, ok := parseSerialDate(s); ok {
		return &d
	}

	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			d := DateOf(t)
			return &d
		}
	}

	// Cells formatted as datetime come through as "YYYY-MM-DD hh:mm:ss"
	if i := strings.IndexAny(s, " T"); i > 0 {
		if t, err := time.Parse("2006-01-02", s[:i]); err == nil {
			d := DateOf(t)
			return &d
		}
	}

	return nil
}

// parseSerialDate interprets s as a spreadsheet serial day number. Only plain
// decimals ("32947", "32947.75") qualify.
func parseSerialDate(s string) (Date, bool) {
	if !isPlainDecimal(s) {
		return Date{}, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < minSerialDate || f > maxSerialDate {
		return Date{}, false
	}
	days := int(math.Floor(f))
	return DateOf(spreadsheetEpoch.AddDate(0, 0, days)), true
}

// isPlainDecimal reports whether s is digits with an optional fraction.
func isPlainDecimal(s string) bool {
	intPart, frac, hasFrac := strings.Cut(s, ".")
	if intPart == "" || (hasFrac && frac == "") {
		return false
	}
	for _, r := range intPart + frac {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// SerialDate returns the spreadsheet serial number of d.
func SerialDate(d Date) float64 {
	return math.Round(d.Sub(spreadsheetEpoch).Hours() / 24)
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// - Trims whitespace (including non-breaking spaces)
// - Removes formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimFunc(s, unicode.IsSpace)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)
	return strings.TrimFunc(s, unicode.IsSpace)
}

// CleanString is CleanCell plus trailing punctuation removal and inner
// whitespace collapsing. Used for every string field of an ImportRecord.
func CleanString(s string) string {
	s = CleanCell(s)
	s = strings.TrimRight(s, trailingPunct)
	s = strings.TrimFunc(s, unicode.IsSpace)
	return strings.Join(strings.Fields(s), " ")
}

// DigitsOnly strips everything but ASCII digits.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Age returns full years between birth and on.
func Age(birth Date, on time.Time) int {
	years := on.Year() - birth.Year()
	if on.Month() < birth.Month() || (on.Month() == birth.Month() && on.Day() < birth.Day()) {
		years--
	}
	return years
}
