package schedule

import (
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"

	"untisched/internal/model"
	"untisched/internal/timefmt"
)

// ExportICS serializes an organized range as an iCalendar document so
// external calendar apps can import or subscribe to the timetable.
// Cancelled lessons are exported with a CANCELLED status rather than
// omitted, matching what the day view shows.
func ExportICS(days []model.OrganizedDay, loc *time.Location) (string, error) {
	if loc == nil {
		loc = time.Local
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)

	now := time.Now().In(loc)

	for _, day := range days {
		for i, e := range day.Entries {
			subject, ok := e.Subject()
			if !ok {
				continue
			}

			start, end, err := entryTimes(e, loc)
			if err != nil {
				return "", fmt.Errorf("export entry %q: %w", subject, err)
			}

			ev := cal.AddEvent(e.Key(i) + "@untisched")
			ev.SetDtStampTime(now)
			ev.SetStartAt(start)
			ev.SetEndAt(end)
			ev.SetSummary(subject)
			ev.SetLocation(e.Room())
			ev.SetDescription("Teacher: " + e.Teacher())
			if e.Cancelled() {
				ev.SetStatus(ics.ObjectStatusCancelled)
			}
		}
	}

	return cal.Serialize(), nil
}

// entryTimes materializes an entry's compact date/time fields into
// concrete timestamps in loc.
func entryTimes(e model.Entry, loc *time.Location) (start, end time.Time, err error) {
	day, err := timefmt.DecodeDate(e.Date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	sh, sm := timefmt.ClockTime(e.StartTime)
	eh, em := timefmt.ClockTime(e.EndTime)
	start = day.Add(time.Duration(sh)*time.Hour + time.Duration(sm)*time.Minute)
	end = day.Add(time.Duration(eh)*time.Hour + time.Duration(em)*time.Minute)
	return start, end, nil
}
