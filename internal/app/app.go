// Package app wires the pipeline together: it owns the fetch →
// write-through snapshot → organize flow, the explicit fallback to the
// cached snapshot when a fetch fails, and keeping reminders in sync with
// the freshest schedule.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"untisched/internal/config"
	appLog "untisched/internal/log"
	"untisched/internal/model"
	"untisched/internal/notify"
	"untisched/internal/schedule"
	"untisched/internal/store"
	"untisched/internal/timefmt"
	"untisched/internal/untis"
)

// ScheduleView is what the UI layer consumes: organized days plus the
// staleness indicator and the user's color map.
type ScheduleView struct {
	Days []model.OrganizedDay `json:"days"`
	// Stale is true when the view was built from the cached snapshot
	// because the live fetch failed. Staleness is always visible; the
	// cache never serves silently.
	Stale  bool              `json:"stale"`
	Colors map[string]string `json:"colors"`
}

// App owns the pipeline components for one configured tenant.
type App struct {
	cfg       *config.Config
	store     *store.DB
	client    *untis.Client
	reminders *notify.Reminders
	loc       *time.Location
}

func New(cfg *config.Config, db *store.DB, client *untis.Client, reminders *notify.Reminders, loc *time.Location) *App {
	if loc == nil {
		loc = time.Local
	}
	return &App{
		cfg:       cfg,
		store:     db,
		client:    client,
		reminders: reminders,
		loc:       loc,
	}
}

// Store exposes the persistence layer to the API handlers.
func (a *App) Store() *store.DB { return a.store }

// Client exposes the timetable client to the API handlers.
func (a *App) Client() *untis.Client { return a.client }

// Location returns the canonical display timezone.
func (a *App) Location() *time.Location { return a.loc }

// Refresh runs one full pipeline pass for the week containing reference:
// fetch the horizon, write the snapshot through on success, fall back to
// the snapshot on transport failure, organize, and resync reminders.
//
// Error policy: auth errors (untis.ErrNotAuthenticated,
// untis.ErrAuthExpired) pass through untouched so the UI can prompt for
// re-login. A transport failure triggers cache fallback; only when that
// also fails does the caller see store.ErrCacheUnavailable.
func (a *App) Refresh(ctx context.Context, reference time.Time) (ScheduleView, error) {
	prefs := a.store.ReadPreferences()

	start := timefmt.StartOfWeek(reference.In(a.loc))
	end := start.AddDate(0, 0, a.cfg.HorizonDays-1)

	stale := false
	entries, err := a.client.Fetch(ctx, start, end, a.cfg.ElementID)
	switch {
	case err == nil:
		if prefs.Settings.CacheEnabled {
			if werr := a.store.WriteSnapshot(entries); werr != nil {
				// A broken cache must not break a successful fetch.
				appLog.Warn("snapshot write failed", "err", werr)
			}
		}

	case isFetchFailure(err):
		if !prefs.Settings.CacheEnabled {
			return ScheduleView{}, err
		}
		appLog.Error("fetch failed, falling back to cached snapshot", err)
		cached, cerr := a.store.ReadSnapshot()
		if cerr != nil {
			return ScheduleView{}, fmt.Errorf("%w (live fetch failed: %v)", store.ErrCacheUnavailable, err)
		}
		entries = cached
		stale = true

	default:
		// Auth errors surface for a user-facing re-login prompt.
		return ScheduleView{}, err
	}

	days := schedule.Organize(entries, prefs, reference.In(a.loc), a.cfg.HorizonDays, schedule.Options{})

	a.reminders.SetEnabled(prefs.Settings.NotificationsEnabled)
	if err := a.reminders.ScheduleAll(flatten(days), a.cfg.ReminderLeadMinutes); err != nil {
		// Reminder trouble is not worth failing the whole view over.
		appLog.Warn("reminder resync failed", "err", err)
	}

	return ScheduleView{Days: days, Stale: stale, Colors: prefs.ClassColors}, nil
}

// ExportICS renders the current week's organized schedule as an
// iCalendar document.
func (a *App) ExportICS(ctx context.Context, reference time.Time) (string, error) {
	view, err := a.Refresh(ctx, reference)
	if err != nil {
		return "", err
	}
	return schedule.ExportICS(view.Days, a.loc)
}

// isFetchFailure distinguishes transport/server failures (which permit
// cache fallback) from auth errors (which do not).
func isFetchFailure(err error) bool {
	var fe *untis.FetchError
	if errors.As(err, &fe) {
		return true
	}
	return !errors.Is(err, untis.ErrNotAuthenticated) && !errors.Is(err, untis.ErrAuthExpired)
}

// flatten collects the organized entries back into one list for the
// reminder scheduler, so filtered-out classes never ring.
func flatten(days []model.OrganizedDay) []model.Entry {
	var out []model.Entry
	for _, d := range days {
		out = append(out, d.Entries...)
	}
	return out
}
