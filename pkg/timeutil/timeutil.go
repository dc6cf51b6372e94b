// Package timeutil normalizes the heterogeneous timestamp and identifier
// representations that arrive from imported legacy records and client
// payloads into canonical forms the rest of the system can rely on.
package timeutil

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Layouts accepted by Parse, tried in order.
var parseLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Parse interprets s as a timestamp. Date-only values are taken as midnight
// UTC. The second return value reports whether parsing succeeded.
func Parse(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Normalize converts a timestamp-like value into a canonical RFC3339 UTC
// string. Absent or unparseable input yields the empty string; it is not an
// error, because legacy records routinely omit these fields.
func Normalize(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	case *time.Time:
		if t == nil || t.IsZero() {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	case string:
		if parsed, ok := Parse(t); ok {
			return parsed.UTC().Format(time.RFC3339)
		}
		return ""
	case int64:
		return fromUnixMilli(t)
	case float64:
		return fromUnixMilli(int64(t))
	default:
		return ""
	}
}

func fromUnixMilli(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// TrailingNumber extracts the trailing digit run from an identifier such as
// "S23" or "7". The second return value is false when no digits are present.
func TrailingNumber(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := len(s)
	start := end
	for start > 0 && unicode.IsDigit(rune(s[start-1])) {
		start--
	}
	if start == end {
		return 0, false
	}
	n, err := strconv.Atoi(s[start:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// NextOperatingDay returns from itself when it falls on one of the given
// clinic operating weekdays, otherwise the next calendar day that does.
// Bounded to 7 iterations; with an empty day set the input is returned
// unchanged after the bound is exhausted.
func NextOperatingDay(from time.Time, days []time.Weekday) time.Time {
	result := from
	for i := 0; i < 7; i++ {
		for _, d := range days {
			if result.Weekday() == d {
				return result
			}
		}
		result = result.AddDate(0, 0, 1)
	}
	return result
}

// IsOperatingDay reports whether t falls on one of the given weekdays.
func IsOperatingDay(t time.Time, days []time.Weekday) bool {
	for _, d := range days {
		if t.Weekday() == d {
			return true
		}
	}
	return false
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekdays parses a comma-separated weekday list such as "Tue,Wed,Thu".
func ParseWeekdays(s string) ([]time.Weekday, error) {
	var out []time.Weekday
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		d, ok := weekdayNames[part]
		if !ok {
			return nil, &UnknownWeekdayError{Name: part}
		}
		out = append(out, d)
	}
	return out, nil
}

// UnknownWeekdayError reports an unrecognized weekday name in configuration.
type UnknownWeekdayError struct {
	Name string
}

func (e *UnknownWeekdayError) Error() string {
	return "unknown weekday name: " + e.Name
}
