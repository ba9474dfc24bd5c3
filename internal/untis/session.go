package untis

import (
	appLog "untisched/internal/log"
	"untisched/internal/model"
)

// KV is the persistent key/value contract the session store runs on.
// Values are JSON-serializable; Get returns an error for keys that are
// absent or unreadable.
type KV interface {
	Get(key string, dst any) error
	Set(key string, v any) error
	Remove(key string) error
}

const (
	keySession     = "sessionInfo"
	keyCredentials = "credentials"
)

// SessionStore is the single source of truth for "are we authenticated,
// and with what identity". It has no TTL logic of its own: a session is
// only ever considered expired when the client observes a remote auth
// rejection.
type SessionStore struct {
	kv KV
}

func NewSessionStore(kv KV) *SessionStore {
	return &SessionStore{kv: kv}
}

// Load reads the persisted session. Absent or corrupt data reads as nil,
// never as a fatal error.
func (s *SessionStore) Load() *model.Session {
	var sess model.Session
	if err := s.kv.Get(keySession, &sess); err != nil {
		return nil
	}
	if sess.SessionID == "" {
		return nil
	}
	return &sess
}

// Save persists the session as a whole-value overwrite; readers never
// observe a partial write.
func (s *SessionStore) Save(sess model.Session) error {
	return s.kv.Set(keySession, sess)
}

// Credentials reads the stored login credentials used for silent
// re-login, or nil when none exist.
func (s *SessionStore) Credentials() *model.Credentials {
	var creds model.Credentials
	if err := s.kv.Get(keyCredentials, &creds); err != nil {
		return nil
	}
	if creds.Username == "" {
		return nil
	}
	return &creds
}

// SaveCredentials persists the login credentials next to the session.
func (s *SessionStore) SaveCredentials(creds model.Credentials) error {
	return s.kv.Set(keyCredentials, creds)
}

// Clear removes the persisted session and credentials together. Logout
// clears both; clearing only one is not a supported state.
func (s *SessionStore) Clear() error {
	if err := s.kv.Remove(keySession); err != nil {
		appLog.Warn("failed to remove stored session", "err", err)
	}
	return s.kv.Remove(keyCredentials)
}
