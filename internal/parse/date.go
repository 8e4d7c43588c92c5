package parse

import (
	"strings"
	"time"
)

// DateFormat tags which layout matched a parsed date. The tag is carried into
// similarity judgments so that same-day corrections can be reported as
// format conversions (e.g. ISO → European).
type DateFormat string

const (
	FormatISO        DateFormat = "iso"         // 2024-01-15
	FormatUS         DateFormat = "us"          // 01/15/2024
	FormatEU         DateFormat = "eu"          // 15/01/2024
	FormatSlashISO   DateFormat = "slash_iso"   // 2024/01/15
	FormatDashedEU   DateFormat = "dashed_eu"   // 15-01-2024
	FormatDashedUS   DateFormat = "dashed_us"   // 01-15-2024
	FormatCompact    DateFormat = "compact"     // 20240115
	FormatCJK        DateFormat = "cjk"         // 2024年1月15日
	FormatShortYear  DateFormat = "short_year"  // 15/01/24
	FormatDottedEU   DateFormat = "dotted_eu"   // 15.01.2024
	FormatGeneric    DateFormat = "generic"     // fallback layouts
)

// dateLayouts is the ordered list of explicit formats. First structurally
// matching and calendar-valid layout wins, so US takes precedence over EU for
// ambiguous day/month values.
var dateLayouts = []struct {
	layout string
	format DateFormat
}{
	{"2006-01-02", FormatISO},
	{"01/02/2006", FormatUS},
	{"02/01/2006", FormatEU},
	{"2006/01/02", FormatSlashISO},
	{"02-01-2006", FormatDashedEU},
	{"01-02-2006", FormatDashedUS},
	{"20060102", FormatCompact},
	{"2006年1月2日", FormatCJK},
	{"02/01/06", FormatShortYear},
	{"02.01.2006", FormatDottedEU},
}

// genericLayouts are tried after the explicit list as a last resort.
var genericLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
}

// Date parses an invoice date string against the explicit layout list, then
// the generic fallbacks. Accepted dates are confined to years 1900–2100.
// Two-digit years pivot at 50: YY > 50 lands in the 1900s, otherwise 2000s.
func Date(s string) (time.Time, DateFormat, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, "", false
	}

	for _, dl := range dateLayouts {
		t, err := time.Parse(dl.layout, s)
		if err != nil {
			continue
		}
		if dl.format == FormatShortYear {
			t = applyShortYearPivot(t)
		}
		if !calendarValid(t) {
			continue
		}
		return t, dl.format, true
	}

	for _, layout := range genericLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if !calendarValid(t) {
			continue
		}
		return t, FormatGeneric, true
	}

	return time.Time{}, "", false
}

// applyShortYearPivot moves a two-digit year parsed by Go's default pivot
// (69 → 1969, 68 → 2068) onto the domain pivot: YY > 50 belongs to the 1900s.
func applyShortYearPivot(t time.Time) time.Time {
	if t.Year() > 2050 {
		return t.AddDate(-100, 0, 0)
	}
	return t
}

func calendarValid(t time.Time) bool {
	y := t.Year()
	return y >= 1900 && y <= 2100
}
