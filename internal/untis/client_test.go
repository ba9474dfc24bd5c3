package untis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"untisched/internal/model"
)

// memKV is an in-memory KV for tests.
type memKV struct {
	mu sync.Mutex
	m  map[string]json.RawMessage
}

func newMemKV() *memKV {
	return &memKV{m: make(map[string]json.RawMessage)}
}

func (kv *memKV) Get(key string, dst any) error {
	kv.mu.Lock()
	raw, ok := kv.m[key]
	kv.mu.Unlock()
	if !ok {
		return errors.New("not found")
	}
	return json.Unmarshal(raw, dst)
}

func (kv *memKV) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	kv.mu.Lock()
	kv.m[key] = raw
	kv.mu.Unlock()
	return nil
}

func (kv *memKV) Remove(key string) error {
	kv.mu.Lock()
	delete(kv.m, key)
	kv.mu.Unlock()
	return nil
}

// fakeUntis is a minimal JSON-RPC server standing in for WebUntis.
type fakeUntis struct {
	mu             sync.Mutex
	authCalls      int
	timetableCalls int
	nextSession    int

	valid         map[string]bool
	rejectAuth    bool // authenticate returns 401
	rejectAllTT   bool // getTimetable rejects every session
	failTimetable bool // getTimetable returns HTTP 500

	entries []model.Entry
}

func newFakeUntis() *fakeUntis {
	return &fakeUntis{
		valid: make(map[string]bool),
		entries: []model.Entry{{
			Date:      20240610,
			StartTime: 800,
			EndTime:   845,
			Subjects:  []model.Element{{Name: "Math"}},
		}},
	}
}

func (f *fakeUntis) addSession(id string) {
	f.mu.Lock()
	f.valid[id] = true
	f.mu.Unlock()
}

func (f *fakeUntis) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		switch req.Method {
		case "authenticate":
			f.mu.Lock()
			f.authCalls++
			reject := f.rejectAuth
			f.nextSession++
			id := fmt.Sprintf("sess-%d", f.nextSession)
			if !f.rejectAllTT {
				f.valid[id] = true
			}
			f.mu.Unlock()

			if reject {
				http.Error(w, "bad credentials", http.StatusUnauthorized)
				return
			}
			writeRPCResult(w, model.Session{SessionID: id, PersonID: 7, PersonType: 5})

		case "getTimetable":
			f.mu.Lock()
			f.timetableCalls++
			fail := f.failTimetable
			ok := f.valid[sessionCookie(r)] && !f.rejectAllTT
			entries := f.entries
			f.mu.Unlock()

			if fail {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			if !ok {
				http.Error(w, "not authenticated", http.StatusUnauthorized)
				return
			}
			writeRPCResult(w, entries)

		case "getSubjects":
			writeRPCResult(w, []model.Element{{ID: 1, Name: "Math"}})

		case "logout":
			writeRPCResult(w, struct{}{})

		default:
			http.Error(w, "unknown method", http.StatusBadRequest)
		}
	})
}

func sessionCookie(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Cookie"), "JSESSIONID=")
}

func writeRPCResult(w http.ResponseWriter, v any) {
	raw, _ := json.Marshal(v)
	_ = json.NewEncoder(w).Encode(rpcResponse{Result: raw})
}

func (f *fakeUntis) counts() (auth, timetable int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authCalls, f.timetableCalls
}

func newTestClient(t *testing.T, f *fakeUntis, kv KV) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	client := NewClient(Config{
		ServerURL: srv.URL,
		School:    "test-school",
	}, NewSessionStore(kv))
	return client, srv
}

var fetchRange = struct{ start, end time.Time }{
	start: time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC),
	end:   time.Date(2024, 6, 22, 0, 0, 0, 0, time.UTC),
}

func TestFetchWithStoredSession(t *testing.T) {
	f := newFakeUntis()
	f.addSession("stored")

	kv := newMemKV()
	_ = kv.Set(keySession, model.Session{SessionID: "stored", PersonID: 7})

	client, _ := newTestClient(t, f, kv)
	entries, err := client.Fetch(context.Background(), fetchRange.start, fetchRange.end, 0)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}

	auth, tt := f.counts()
	if auth != 0 || tt != 1 {
		t.Errorf("calls = %d auth, %d timetable; want 0, 1", auth, tt)
	}
}

func TestFetchSilentLoginFromCredentials(t *testing.T) {
	f := newFakeUntis()
	kv := newMemKV()
	_ = kv.Set(keyCredentials, model.Credentials{School: "test-school", Username: "u", Password: "p"})

	client, _ := newTestClient(t, f, kv)
	if _, err := client.Fetch(context.Background(), fetchRange.start, fetchRange.end, 0); err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}

	auth, tt := f.counts()
	if auth != 1 || tt != 1 {
		t.Errorf("calls = %d auth, %d timetable; want 1, 1", auth, tt)
	}
}

func TestFetchNotAuthenticated(t *testing.T) {
	f := newFakeUntis()
	client, _ := newTestClient(t, f, newMemKV())

	_, err := client.Fetch(context.Background(), fetchRange.start, fetchRange.end, 0)
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("err = %v, want ErrNotAuthenticated", err)
	}

	auth, tt := f.counts()
	if auth != 0 || tt != 0 {
		t.Errorf("server was called (%d auth, %d timetable); want none", auth, tt)
	}
}

func TestFetchRetriesOnceAfterRejection(t *testing.T) {
	f := newFakeUntis()
	// The stored session is unknown to the server; credentials allow a
	// re-login that produces a valid one.
	kv := newMemKV()
	_ = kv.Set(keySession, model.Session{SessionID: "stale", PersonID: 7})
	_ = kv.Set(keyCredentials, model.Credentials{Username: "u", Password: "p"})

	client, _ := newTestClient(t, f, kv)
	entries, err := client.Fetch(context.Background(), fetchRange.start, fetchRange.end, 0)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}

	auth, tt := f.counts()
	if auth != 1 || tt != 2 {
		t.Errorf("calls = %d auth, %d timetable; want exactly 1 re-login and 2 fetches", auth, tt)
	}
}

func TestFetchAuthExpiredAfterSecondRejection(t *testing.T) {
	f := newFakeUntis()
	f.rejectAllTT = true // even freshly minted sessions get rejected

	kv := newMemKV()
	_ = kv.Set(keySession, model.Session{SessionID: "stale", PersonID: 7})
	_ = kv.Set(keyCredentials, model.Credentials{Username: "u", Password: "p"})

	client, _ := newTestClient(t, f, kv)
	_, err := client.Fetch(context.Background(), fetchRange.start, fetchRange.end, 0)
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("err = %v, want ErrAuthExpired", err)
	}

	// The retry bound: exactly 2 remote fetches and 1 re-login, no loop.
	auth, tt := f.counts()
	if auth != 1 || tt != 2 {
		t.Errorf("calls = %d auth, %d timetable; want 1, 2", auth, tt)
	}
}

func TestFetchTransportFailure(t *testing.T) {
	f := newFakeUntis()
	f.failTimetable = true
	f.addSession("stored")

	kv := newMemKV()
	_ = kv.Set(keySession, model.Session{SessionID: "stored", PersonID: 7})

	client, _ := newTestClient(t, f, kv)
	_, err := client.Fetch(context.Background(), fetchRange.start, fetchRange.end, 0)

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *FetchError", err)
	}
	if fe.Method != "getTimetable" {
		t.Errorf("FetchError.Method = %q, want getTimetable", fe.Method)
	}
	if errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrNotAuthenticated) {
		t.Error("transport failure must not masquerade as an auth error")
	}
}

func TestConcurrentExpiryTriggersSingleRelogin(t *testing.T) {
	f := newFakeUntis()
	kv := newMemKV()
	_ = kv.Set(keySession, model.Session{SessionID: "stale", PersonID: 7})
	_ = kv.Set(keyCredentials, model.Credentials{Username: "u", Password: "p"})

	client, _ := newTestClient(t, f, kv)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Fetch(context.Background(), fetchRange.start, fetchRange.end, 0)
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("concurrent Fetch() error: %v", err)
		}
	}

	auth, _ := f.counts()
	if auth != 1 {
		t.Errorf("got %d re-logins for concurrent expiry, want 1", auth)
	}
}

func TestLoginPersistsSessionAndCredentials(t *testing.T) {
	f := newFakeUntis()
	kv := newMemKV()
	client, _ := newTestClient(t, f, kv)

	sess, err := client.Login(context.Background(), "u", "p")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if sess.SessionID == "" {
		t.Fatal("empty session id")
	}

	store := NewSessionStore(kv)
	if got := store.Load(); got == nil || got.SessionID != sess.SessionID {
		t.Errorf("persisted session = %+v, want %+v", got, sess)
	}
	if creds := store.Credentials(); creds == nil || creds.Username != "u" {
		t.Errorf("persisted credentials = %+v", creds)
	}
}

func TestLoginRejectedCredentials(t *testing.T) {
	f := newFakeUntis()
	f.rejectAuth = true
	client, _ := newTestClient(t, f, newMemKV())

	_, err := client.Login(context.Background(), "u", "wrong")
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("err = %v, want ErrNotAuthenticated", err)
	}
}

func TestLogoutClearsSessionAndCredentials(t *testing.T) {
	f := newFakeUntis()
	f.addSession("stored")

	kv := newMemKV()
	_ = kv.Set(keySession, model.Session{SessionID: "stored", PersonID: 7})
	_ = kv.Set(keyCredentials, model.Credentials{Username: "u", Password: "p"})

	client, _ := newTestClient(t, f, kv)
	if err := client.Logout(context.Background()); err != nil {
		t.Fatalf("Logout() error: %v", err)
	}

	store := NewSessionStore(kv)
	if store.Load() != nil {
		t.Error("session survived logout")
	}
	if store.Credentials() != nil {
		t.Error("credentials survived logout")
	}
}

func TestSearchSchools(t *testing.T) {
	dir := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("search"); got != "gym" {
			t.Errorf("search param = %q, want gym", got)
		}
		_, _ = w.Write([]byte(`{"schools":[{"id":42,"displayName":"Gymnasium Test","city":"Berlin","server":"https://x.webuntis.com"}]}`))
	}))
	defer dir.Close()

	client := NewClient(Config{SearchURL: dir.URL}, NewSessionStore(newMemKV()))
	schools, err := client.SearchSchools(context.Background(), "gym")
	if err != nil {
		t.Fatalf("SearchSchools() error: %v", err)
	}
	if len(schools) != 1 {
		t.Fatalf("got %d schools, want 1", len(schools))
	}
	want := model.School{ID: 42, Name: "Gymnasium Test", City: "Berlin", ServerURL: "https://x.webuntis.com"}
	if schools[0] != want {
		t.Errorf("school = %+v, want %+v", schools[0], want)
	}
}
