package core

// convert.go turns the messy text of exported transaction files into typed
// values:
//   - Brazilian amounts ("R$ 2.500,00") alongside plain decimals ("50.00")
//   - Day-first dates in several separators, ISO dates, spreadsheet serials
//   - Accounting parentheses for negatives
//
// Parse* functions return ok=false for blank or unparseable input so callers
// can count the value as missing instead of failing the row.

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// amountRegex validates an amount after separators have been normalized.
var amountRegex = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)$`)

// dotThousandsRegex matches "2.500" or "1.234.567": dots used only as grouping.
var dotThousandsRegex = regexp.MustCompile(`^[1-9]\d{0,2}(\.\d{3})+$`)

// commaThousandsRegex matches "1,234,567": several commas used only as grouping.
var commaThousandsRegex = regexp.MustCompile(`^\d{1,3}(,\d{3}){2,}$`)

// currencyPrefixes are stripped before parsing. Longer symbols first.
var currencyPrefixes = []string{"R$", "r$", "US$", "BRL", "USD", "EUR", "$", "€", "£"}

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

// Date layouts. ISO layouts lead with the year and are unambiguous; the rest
// are day-first.
var (
	isoDateLayouts = []string{
		"2006-1-2",
		"2006-1-2 15:04:05",
		"2006-1-2 15:04",
		"2006-1-2T15:04:05",
		"2006-1-2T15:04:05Z07:00",
		"2006/1/2",
		"2006/1/2 15:04:05",
		"2006.1.2",
	}
	dayFirstLayouts = []string{
		"2/1/2006", "2/1/2006 15:04:05", "2/1/2006 15:04",
		"2-1-2006", "2-1-2006 15:04:05", "2-1-2006 15:04",
		"2.1.2006", "2.1.2006 15:04:05",
		"2 Jan 2006", "2-Jan-2006", "Jan 2, 2006",
		"20060102",
	}
	twoDigitYearLayouts = []string{
		"2/1/06", "2-1-06", "2.1.06",
	}
)

// ParseAmount parses a locale-formatted amount into a 2-place decimal.
//
// When a comma is present alongside dots, whichever separator comes last is
// the decimal separator. A lone comma is a decimal comma. With dots only,
// "2.500" and "1.234.567" are grouping while "50.00" is a decimal point.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = CleanCell(s)
	if IsBlank(s) {
		return decimal.Zero, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	for _, p := range currencyPrefixes {
		s = strings.ReplaceAll(s, p, "")
	}
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' || r == '\t' {
			return -1
		}
		return r
	}, s)

	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = s[1:]
	} else if strings.HasSuffix(s, "-") {
		negative = !negative
		s = s[:len(s)-1]
	}
	s = strings.TrimPrefix(s, "+")

	hasComma := strings.Contains(s, ",")
	hasDot := strings.Contains(s, ".")
	switch {
	case hasComma && hasDot:
		if strings.LastIndex(s, ".") > strings.LastIndex(s, ",") {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		}
	case hasComma:
		if commaThousandsRegex.MatchString(s) {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case hasDot:
		if strings.Count(s, ".") > 1 || dotThousandsRegex.MatchString(s) {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	if !amountRegex.MatchString(s) {
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d.Round(2), true
}

// ParseMachineAmount parses a number written in machine format, such as the
// raw value of a numeric spreadsheet cell. A dot is always the decimal point.
func ParseMachineAmount(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, false
	}
	return d.Round(2), true
}

// ParseDate parses a date with day-first disambiguation. The result is a
// naive wall-clock time in UTC; no timezone conversion is applied.
func ParseDate(s string) (time.Time, bool) {
	return ParseDateAt(s, time.Now())
}

// ParseDateAt is ParseDate with two-digit years pivoted around now.
func ParseDateAt(s string, now time.Time) (time.Time, bool) {
	s = CleanCell(s)
	if IsBlank(s) {
		return time.Time{}, false
	}

	for _, layout := range isoDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return naive(t), true
		}
	}
	for _, layout := range dayFirstLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return naive(t), true
		}
	}

	pivotYear := now.Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return naive(t), true
		}
	}

	return parseSerialDate(s)
}

// parseSerialDate accepts spreadsheet serial day numbers ("45366" or
// "45366.5") that survive a CSV export of a date column.
func parseSerialDate(s string) (time.Time, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 1 || f > 2958465 {
		return time.Time{}, false
	}
	t, err := excelize.ExcelDateToTime(f, false)
	if err != nil {
		return time.Time{}, false
	}
	return naive(t), true
}

// naive drops any zone information and keeps the wall clock.
func naive(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// Quarter returns the calendar quarter (1-4) of a month.
func Quarter(m time.Month) int {
	return (int(m)-1)/3 + 1
}

// MondayWeekday returns the weekday with Monday=0 .. Sunday=6.
func MondayWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
