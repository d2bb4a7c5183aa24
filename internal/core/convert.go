package core

// convert.go provides the conversion helpers every import mode relies on.
//
// Spreadsheet exports carry dates in whatever shape the author typed them:
//   - dd/mm/yyyy and d-m-yyyy (the canonical form)
//   - yyyy-mm-dd (ISO exports)
//   - mm/yyyy and mm/yy (month-only plans, day defaults to the 1st)
//
// All dates are stored in the canonical day/month/year text form so that
// equality comparisons in the diff builders are plain string comparisons.

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// CanonicalDateLayout is the time layout of the canonical date text.
const CanonicalDateLayout = "02/01/2006"

var (
	isoDatePattern       = regexp.MustCompile(`^(\d{4})/(\d{1,2})/(\d{1,2})$`)
	dayMonthYearPattern  = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	monthYearPattern     = regexp.MustCompile(`^(\d{1,2})/(\d{4})$`)
	monthShortPattern    = regexp.MustCompile(`^(\d{1,2})/(\d{2})$`)
	canonicalDatePattern = regexp.MustCompile(`^(\d{2})/(\d{2})/(\d{4})$`)
	whitespacePattern    = regexp.MustCompile(`\s+`)
	nonDigitPattern      = regexp.MustCompile(`[^0-9]`)
)

// NormalizeDate converts heterogeneous date text to the canonical dd/mm/yyyy form.
// Returns "" for blank input. Unrecognized formats are returned unchanged
// (trimmed) so callers can surface them as invalid downstream.
func NormalizeDate(input string) string {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return ""
	}
	s := whitespacePattern.ReplaceAllString(strings.ReplaceAll(raw, "-", "/"), "")

	if m := isoDatePattern.FindStringSubmatch(s); m != nil {
		return pad2(m[3]) + "/" + pad2(m[2]) + "/" + m[1]
	}
	if m := dayMonthYearPattern.FindStringSubmatch(s); m != nil {
		return pad2(m[1]) + "/" + pad2(m[2]) + "/" + m[3]
	}
	if m := monthYearPattern.FindStringSubmatch(s); m != nil {
		return "01/" + pad2(m[1]) + "/" + m[2]
	}
	if m := monthShortPattern.FindStringSubmatch(s); m != nil {
		return "01/" + pad2(m[1]) + "/20" + m[2]
	}

	return raw
}

// ParseDate decodes canonical date text into a calendar date at midnight UTC.
// Returns false when the text is not canonical or names an impossible date
// such as 31/02/2024.
func ParseDate(canonical string) (time.Time, bool) {
	m := canonicalDatePattern.FindStringSubmatch(strings.TrimSpace(canonical))
	if m == nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}

	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow, so a round-trip mismatch means the day was invalid.
	if d.Day() != day || int(d.Month()) != month {
		return time.Time{}, false
	}
	return d, true
}

// FormatDate renders a time as canonical date text.
func FormatDate(t time.Time) string {
	return t.Format(CanonicalDateLayout)
}

// AddDays returns the canonical date that is days after base.
// Returns "" if days is not positive or base does not parse.
func AddDays(base string, days int) string {
	if days <= 0 {
		return ""
	}
	d, ok := ParseDate(base)
	if !ok {
		return ""
	}
	return FormatDate(d.AddDate(0, 0, days))
}

// AddDaysText is AddDays for a day count read from a spreadsheet cell.
func AddDaysText(base, days string) string {
	n, err := strconv.Atoi(strings.TrimSpace(days))
	if err != nil {
		return ""
	}
	return AddDays(base, n)
}

// DaysUntil returns the whole number of days from today to the canonical date.
// Negative values mean the date is in the past.
func DaysUntil(canonical string, today time.Time) (int, bool) {
	d, ok := ParseDate(canonical)
	if !ok {
		return 0, false
	}
	t := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	return int(d.Sub(t).Hours() / 24), true
}

// ToPositiveIntText strips every non-digit character from v.
// Returns "" if no digits remain. Leading zeros are dropped ("007" -> "7").
// The result is text only; values too large for an int are kept and left
// to the caller to reject.
func ToPositiveIntText(v string) string {
	digits := nonDigitPattern.ReplaceAllString(v, "")
	if digits == "" {
		return ""
	}
	if trimmed := strings.TrimLeft(digits, "0"); trimmed != "" {
		return trimmed
	}
	return "0"
}

// EquipmentKey derives the natural key of an equipment record:
// "tasy:<identity tag>" when present, else "asset:<asset tag>", else "".
// An empty key means the record has no usable identity.
func EquipmentKey(identityTag, assetTag string) string {
	if t := strings.TrimSpace(identityTag); t != "" {
		return "tasy:" + t
	}
	if a := strings.TrimSpace(assetTag); a != "" {
		return "asset:" + a
	}
	return ""
}

// PlanKey derives the natural key of a maintenance plan.
// The activity is lowercased but keeps its diacritics.
func PlanKey(equipmentKey, activity string) string {
	a := strings.ToLower(strings.TrimSpace(activity))
	if a == "" {
		a = DefaultActivity
	}
	return equipmentKey + "::" + a
}

// sameText reports whether two values are equal ignoring case and
// runs of whitespace.
func sameText(a, b string) bool {
	return strings.EqualFold(collapseSpaces(a), collapseSpaces(b))
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
