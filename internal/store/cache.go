package store

import (
	"errors"

	appLog "untisched/internal/log"
	"untisched/internal/model"
)

// Storage keys. These mirror the keys the mobile app used in its local
// store so a reader of one codebase can find their way in the other.
const (
	keySnapshot      = "cachedSchedule"
	keyFilters       = "filteredClasses"
	keyColors        = "classColors"
	keySettings      = "appSettings"
	keyRecentSchools = "recentSchools"
)

const maxRecentSchools = 5

// WriteSnapshot persists the full entry list as the last-known-good
// timetable, replacing any prior snapshot. There is no merging with
// previous data.
func (db *DB) WriteSnapshot(entries []model.Entry) error {
	return db.Set(keySnapshot, entries)
}

// ReadSnapshot returns the last-known-good timetable, or
// ErrCacheUnavailable when none exists. The store never serves the
// snapshot on its own; falling back after a failed fetch is an explicit
// decision of the orchestrating layer so staleness stays visible.
func (db *DB) ReadSnapshot() ([]model.Entry, error) {
	var entries []model.Entry
	if err := db.Get(keySnapshot, &entries); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrCacheUnavailable
		}
		// A corrupt snapshot is as useless as a missing one.
		appLog.Warn("cached snapshot unreadable, treating as absent", "err", err)
		return nil, ErrCacheUnavailable
	}
	return entries, nil
}

// WriteFilters replaces the persisted class filter set.
func (db *DB) WriteFilters(filters []string) error {
	return db.Set(keyFilters, filters)
}

// WriteColors replaces the persisted subject color map.
func (db *DB) WriteColors(colors map[string]string) error {
	return db.Set(keyColors, colors)
}

// WriteSettings replaces the persisted app settings.
func (db *DB) WriteSettings(s model.AppSettings) error {
	return db.Set(keySettings, s)
}

// ReadPreferences assembles the full preference set. Missing or corrupt
// keys fall back to defaults: a read problem in preferences must never
// break the schedule flow, so errors are logged and swallowed here.
func (db *DB) ReadPreferences() model.Preferences {
	prefs := model.Preferences{
		ClassColors: map[string]string{},
		Settings:    model.DefaultSettings(),
	}

	if err := db.Get(keyFilters, &prefs.FilteredClasses); err != nil && !errors.Is(err, ErrNotFound) {
		appLog.Warn("stored filters unreadable, using none", "err", err)
	}
	if err := db.Get(keyColors, &prefs.ClassColors); err != nil {
		if !errors.Is(err, ErrNotFound) {
			appLog.Warn("stored colors unreadable, using none", "err", err)
		}
		prefs.ClassColors = map[string]string{}
	}
	if err := db.Get(keySettings, &prefs.Settings); err != nil {
		if !errors.Is(err, ErrNotFound) {
			appLog.Warn("stored settings unreadable, using defaults", "err", err)
		}
		prefs.Settings = model.DefaultSettings()
	}
	return prefs
}

// RememberSchool puts school at the front of the recent-school list,
// deduplicated by id and bounded to the five most recent.
func (db *DB) RememberSchool(school model.School) error {
	recent, _ := db.RecentSchools()

	updated := []model.School{school}
	for _, s := range recent {
		if s.ID == school.ID {
			continue
		}
		updated = append(updated, s)
	}
	if len(updated) > maxRecentSchools {
		updated = updated[:maxRecentSchools]
	}
	return db.Set(keyRecentSchools, updated)
}

// RecentSchools returns the recent-school list, most recent first. A
// missing or corrupt list reads as empty.
func (db *DB) RecentSchools() ([]model.School, error) {
	var recent []model.School
	if err := db.Get(keyRecentSchools, &recent); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		appLog.Warn("recent schools unreadable, using none", "err", err)
		return nil, nil
	}
	return recent, nil
}
