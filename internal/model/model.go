// Package model holds the shared data types of the timetable pipeline:
// raw entries as the server sends them, user preferences, session state
// and the organized per-day view.
package model

import (
	"fmt"
	"time"
)

// Element is a named entity referenced by a timetable entry (a subject,
// room or teacher). The server sends these as ordered lists; display
// always uses the first element.
type Element struct {
	ID       int    `json:"id,omitempty"`
	Name     string `json:"name"`
	LongName string `json:"longname,omitempty"`
}

// Entry status codes as sent by the server. An empty code means a normal
// lesson.
const (
	CodeCancelled = "cancelled"
	CodeIrregular = "irregular"
)

// Entry is one scheduled lesson occurrence. Field tags match the compact
// JSON-RPC wire names (su/ro/te).
//
// The server does not guarantee a usable unique id across all entries, so
// nothing in this codebase treats ID as a primary key; see Key.
type Entry struct {
	ID        int       `json:"id,omitempty"`
	Date      int       `json:"date"`      // YYYYMMDD
	StartTime int       `json:"startTime"` // HMM or HHMM
	EndTime   int       `json:"endTime"`
	Subjects  []Element `json:"su,omitempty"`
	Rooms     []Element `json:"ro,omitempty"`
	Teachers  []Element `json:"te,omitempty"`
	Code      string    `json:"code,omitempty"`
}

// Subject resolves the display subject name once, with explicit presence.
// Entries without a subject are unrenderable and get dropped by the
// organizer.
func (e Entry) Subject() (string, bool) {
	if len(e.Subjects) == 0 {
		return "", false
	}
	return e.Subjects[0].Name, true
}

// Room resolves the display room, defaulting to "No Room".
func (e Entry) Room() string {
	if len(e.Rooms) == 0 {
		return "No Room"
	}
	return e.Rooms[0].Name
}

// Teacher resolves the display teacher, defaulting to "No Teacher".
func (e Entry) Teacher() string {
	if len(e.Teachers) == 0 {
		return "No Teacher"
	}
	return e.Teachers[0].Name
}

// Cancelled reports whether the lesson was cancelled.
func (e Entry) Cancelled() bool {
	return e.Code == CodeCancelled
}

// Key returns a composite display/dedupe key. index disambiguates entries
// that collide on date, start time and subject within one list.
func (e Entry) Key(index int) string {
	subject, _ := e.Subject()
	return fmt.Sprintf("%d-%d-%s-%d", e.Date, e.StartTime, subject, index)
}

// AppSettings are the user-facing flags persisted under one key.
type AppSettings struct {
	DarkMode               bool `json:"darkMode"`
	NotificationsEnabled   bool `json:"notificationsEnabled"`
	AutoRefresh            bool `json:"autoRefresh"`
	RefreshIntervalMinutes int  `json:"refreshInterval"`
	CacheEnabled           bool `json:"cacheEnabled"`
	ShowCancelledClasses   bool `json:"showCancelledClasses"`
}

// DefaultSettings mirrors the first-run defaults of the mobile app.
func DefaultSettings() AppSettings {
	return AppSettings{
		DarkMode:               false,
		NotificationsEnabled:   true,
		AutoRefresh:            true,
		RefreshIntervalMinutes: 30,
		CacheEnabled:           true,
		ShowCancelledClasses:   true,
	}
}

// Preferences bundles everything the organizer needs besides raw entries.
type Preferences struct {
	// FilteredClasses lists subject names excluded from the organized
	// view. Empty means "show all", never "show none".
	FilteredClasses []string `json:"filteredClasses"`

	// ClassColors maps subject name to an opaque color value chosen by
	// the user. Absent subjects have no color.
	ClassColors map[string]string `json:"classColors"`

	Settings AppSettings `json:"appSettings"`
}

// Filtered reports whether the given subject is excluded by the filter
// set.
func (p Preferences) Filtered(subject string) bool {
	for _, name := range p.FilteredClasses {
		if name == subject {
			return true
		}
	}
	return false
}

// Session is the authenticated identity returned by the server. It is
// created on login, persisted immediately and invalidated only by logout
// or a remote rejection; the store has no TTL of its own.
type Session struct {
	SessionID  string `json:"sessionId"`
	PersonID   int    `json:"personId,omitempty"`
	PersonType int    `json:"personType,omitempty"`
	KlasseID   int    `json:"klasseId,omitempty"`
}

// ElementID picks the identity a timetable query is scoped to when the
// caller did not override it: the person id when present, otherwise the
// class id.
func (s Session) ElementID() int {
	if s.PersonID != 0 {
		return s.PersonID
	}
	return s.KlasseID
}

// Credentials are the stored login details used for silent re-login.
type Credentials struct {
	School   string `json:"school"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// School is one candidate from the school directory lookup.
type School struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	City      string `json:"city"`
	ServerURL string `json:"serverUrl"`
}

// OrganizedDay is one display bucket: a titled calendar day with its
// entries in ascending start-time order.
type OrganizedDay struct {
	Title   string    `json:"title"`
	Date    time.Time `json:"date"`
	Entries []Entry   `json:"entries"`
}
