// Package schedule turns flat timetable entries into the per-day view
// the UI renders: filtered by user preferences, bucketed by calendar
// day and sorted by start time. Everything here is a pure
// transformation; no I/O and no hidden state.
package schedule

import (
	"sort"
	"time"

	"untisched/internal/model"
	"untisched/internal/timefmt"
)

// Options tweaks organization behavior.
type Options struct {
	// Now supplies the current time for "(Today)" detection. nil means
	// time.Now; tests inject a fixed clock.
	Now func() time.Time

	// IncludeEmptyDays emits empty buckets beyond the first week too.
	// The first seven buckets are always emitted regardless, so an
	// entirely free week still renders seven day sections.
	IncludeEmptyDays bool
}

// Organize builds the day-bucketed view for spanDays days starting at
// the Sunday of referenceDate's week.
//
// Rules:
//   - entries with no subject are unrenderable and dropped;
//   - an empty filter set means "show all", not "show none";
//   - ShowCancelledClasses=false drops cancelled entries;
//   - entries are matched to a bucket purely by date equality, so an
//     entry dated outside the span is silently omitted;
//   - within a bucket the sort by start time is stable: ties keep their
//     original relative order.
//
// The input slice is never mutated; buckets hold copies of the slice
// headers only.
func Organize(entries []model.Entry, prefs model.Preferences, referenceDate time.Time, spanDays int, opts Options) []model.OrganizedDay {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	start := timefmt.StartOfWeek(referenceDate)

	filtered := make([]model.Entry, 0, len(entries))
	for _, e := range entries {
		subject, ok := e.Subject()
		if !ok {
			continue
		}
		if len(prefs.FilteredClasses) > 0 && prefs.Filtered(subject) {
			continue
		}
		if !prefs.Settings.ShowCancelledClasses && e.Cancelled() {
			continue
		}
		filtered = append(filtered, e)
	}

	today := now()
	days := make([]model.OrganizedDay, 0, spanDays)

	for i := 0; i < spanDays; i++ {
		day := start.AddDate(0, 0, i)
		encoded := timefmt.EncodeDate(day)

		var bucket []model.Entry
		for _, e := range filtered {
			if e.Date == encoded {
				bucket = append(bucket, e)
			}
		}
		sort.SliceStable(bucket, func(a, b int) bool {
			return bucket[a].StartTime < bucket[b].StartTime
		})

		if len(bucket) == 0 && i >= 7 && !opts.IncludeEmptyDays {
			continue
		}
		days = append(days, model.OrganizedDay{
			Title:   timefmt.FormatDayTitle(day, today),
			Date:    day,
			Entries: bucket,
		})
	}

	return days
}

// DisplayLine renders an entry the way the schedule list shows it, e.g.
// "8:00 - 8:45 Math". Entries without a subject render their time range
// only.
func DisplayLine(e model.Entry) string {
	line := timefmt.FormatTime(e.StartTime) + " - " + timefmt.FormatTime(e.EndTime)
	if subject, ok := e.Subject(); ok {
		line += " " + subject
	}
	return line
}
