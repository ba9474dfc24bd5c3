// Package notify derives lesson reminders from timetable entries and
// manages their scheduling against a local notification subsystem.
package notify

import (
	"fmt"
	"sync"
	"time"

	appLog "untisched/internal/log"
	"untisched/internal/model"
	"untisched/internal/timefmt"
)

// DefaultLeadMinutes is how long before a lesson starts its reminder
// fires when the caller does not say otherwise.
const DefaultLeadMinutes = 15

// Payload is the content of one reminder.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Notifier is the local notification subsystem the scheduler drives.
// Schedule with an already-used dedupeID supersedes the earlier
// reminder; there are never two live reminders under one id.
type Notifier interface {
	Schedule(at time.Time, payload Payload, dedupeID string) error
	CancelAll() error
}

// Reminders derives trigger times from entries and keeps the notifier in
// sync with the current schedule.
type Reminders struct {
	notifier Notifier
	loc      *time.Location
	now      func() time.Time

	mu      sync.Mutex
	enabled bool
}

// NewReminders builds a scheduler delivering through n, interpreting
// entry dates in loc. Reminders start enabled.
func NewReminders(n Notifier, loc *time.Location) *Reminders {
	if loc == nil {
		loc = time.Local
	}
	return &Reminders{
		notifier: n,
		loc:      loc,
		now:      time.Now,
		enabled:  true,
	}
}

// SetEnabled flips reminder delivery, mirroring the user's notification
// setting. Disabling does not cancel what is already scheduled; callers
// wanting a clean slate call CancelAll.
func (r *Reminders) SetEnabled(enabled bool) {
	r.mu.Lock()
	r.enabled = enabled
	r.mu.Unlock()
}

// ScheduleAll replaces the whole reminder set: it cancels everything
// previously scheduled, then schedules one reminder per entry whose
// trigger time (start minus minutesBefore) is strictly in the future.
// Past triggers are skipped silently.
//
// The dedupe key is (date, startTime, subject); entries colliding on it
// supersede each other instead of producing duplicate alarms. If the
// process dies between cancel and reschedule the result is "no
// reminders", never duplicates.
func (r *Reminders) ScheduleAll(entries []model.Entry, minutesBefore int) error {
	r.mu.Lock()
	enabled := r.enabled
	r.mu.Unlock()
	if !enabled {
		return nil
	}
	if minutesBefore <= 0 {
		minutesBefore = DefaultLeadMinutes
	}

	if err := r.notifier.CancelAll(); err != nil {
		return fmt.Errorf("cancel existing reminders: %w", err)
	}

	now := r.now()
	scheduled := 0
	for _, e := range entries {
		subject, ok := e.Subject()
		if !ok {
			continue
		}

		start, err := entryStart(e, r.loc)
		if err != nil {
			appLog.Warn("skipping reminder for entry with bad date", "date", e.Date, "err", err)
			continue
		}
		trigger := start.Add(-time.Duration(minutesBefore) * time.Minute)
		if !trigger.After(now) {
			continue
		}

		dedupeID := fmt.Sprintf("%d-%d-%s", e.Date, e.StartTime, subject)
		payload := Payload{
			Title: "Class reminder: " + subject,
			Body:  fmt.Sprintf("Your class starts in %d minutes", minutesBefore),
		}
		if err := r.notifier.Schedule(trigger, payload, dedupeID); err != nil {
			return fmt.Errorf("schedule reminder %s: %w", dedupeID, err)
		}
		scheduled++
	}

	appLog.Info("reminders scheduled", "count", scheduled, "lead_minutes", minutesBefore)
	return nil
}

// CancelAll drops every scheduled reminder.
func (r *Reminders) CancelAll() error {
	return r.notifier.CancelAll()
}

func entryStart(e model.Entry, loc *time.Location) (time.Time, error) {
	day, err := timefmt.DecodeDate(e.Date, loc)
	if err != nil {
		return time.Time{}, err
	}
	h, m := timefmt.ClockTime(e.StartTime)
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute), nil
}
