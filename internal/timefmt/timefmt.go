// Package timefmt converts between the compact numeric date/time encoding
// used on the Untis wire (YYYYMMDD dates, HMM/HHMM times) and calendar
// values. Everything here is pure and stateless.
package timefmt

import (
	"fmt"
	"strconv"
	"time"
)

// EncodeDate returns the YYYYMMDD integer form of d.
func EncodeDate(d time.Time) int {
	return d.Year()*10000 + int(d.Month())*100 + d.Day()
}

// DecodeDate converts a YYYYMMDD integer back into a calendar date at
// midnight in loc. It is the exact inverse of EncodeDate for valid dates;
// impossible dates (month 13, February 30, ...) are rejected.
func DecodeDate(v int, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	year := v / 10000
	month := v / 100 % 100
	day := v % 100

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	// time.Date normalizes out-of-range components; a changed round-trip
	// means the input was not a real date.
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, fmt.Errorf("timefmt: %d is not a valid YYYYMMDD date", v)
	}
	return t, nil
}

// FormatTime renders a compact HMM/HHMM integer as "H:MM" or "HH:MM".
// A 3-digit value takes its first digit as the hour ("800" -> "8:00"),
// a 4-digit value its first two ("1345" -> "13:45").
//
// No range validation is done. Values outside the HMM/HHMM shape produce
// garbled but well-formed-enough output rather than a panic; callers are
// expected to pass times as the server sent them.
func FormatTime(v int) string {
	s := strconv.Itoa(v)
	switch {
	case len(s) >= 4:
		return s[:2] + ":" + s[2:4]
	case len(s) == 3:
		return s[:1] + ":" + s[1:]
	default:
		// Fewer than three digits has no hour to split off.
		return "0:" + s
	}
}

// ClockTime splits a compact HMM/HHMM integer into hour and minute.
// Same caveat as FormatTime: no range validation.
func ClockTime(v int) (hour, minute int) {
	return v / 100, v % 100
}

// StartOfWeek returns the Sunday at or before d, at midnight in d's
// location. Untis week navigation counts weeks from Sunday, not Monday.
func StartOfWeek(d time.Time) time.Time {
	d = d.AddDate(0, 0, -int(d.Weekday()))
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
}

// FormatDayTitle builds the section header for a day bucket, e.g.
// "Monday, June 10 (Today)". The "(Today)" suffix is appended when d and
// today fall on the same calendar day.
func FormatDayTitle(d, today time.Time) string {
	title := fmt.Sprintf("%s, %s %d", d.Weekday(), d.Month(), d.Day())
	if sameDay(d, today) {
		title += " (Today)"
	}
	return title
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
