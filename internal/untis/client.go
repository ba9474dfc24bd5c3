// Package untis talks to a WebUntis-style JSON-RPC timetable service:
// authentication, timetable queries, subject listing and the school
// directory lookup. Auth expiry is handled with a single bounded
// re-login retry; session state lives in a SessionStore.
package untis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	appLog "untisched/internal/log"
	"untisched/internal/model"
	"untisched/internal/timefmt"
)

// rpcNotAuthenticated is the JSON-RPC error code the server uses for a
// rejected or missing session.
const rpcNotAuthenticated = -8520

// errAuthRejected marks a call the server refused for auth reasons. It
// never escapes this package; Fetch converts it into ErrAuthExpired
// after the bounded retry.
var errAuthRejected = errors.New("untis: auth rejected by server")

// Config describes one Untis tenant. A Client is constructed per tenant
// and passed to callers explicitly; there is no package-level instance.
type Config struct {
	// ServerURL is the JSON-RPC endpoint, e.g.
	// "https://example.webuntis.com/WebUntis/jsonrpc.do".
	ServerURL string
	// School is the tenant identifier sent as the "school" query param.
	School string
	// SearchURL is the school directory lookup endpoint.
	SearchURL string
	// ClientName identifies this client to the server. Defaults to
	// "untisched".
	ClientName string
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client is the timetable client. Safe for concurrent use: re-login
// attempts are serialized so concurrent fetches that observe expiry at
// the same time share a single refresh instead of each logging in.
type Client struct {
	httpc      *http.Client
	serverURL  string
	school     string
	searchURL  string
	clientName string
	sessions   *SessionStore

	mu      sync.Mutex // guards session and gen
	session *model.Session
	gen     uint64 // bumped on every session change

	refreshMu sync.Mutex // single-flight guard for re-login
}

// NewClient constructs a client for one tenant.
func NewClient(cfg Config, sessions *SessionStore) *Client {
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	name := cfg.ClientName
	if name == "" {
		name = "untisched"
	}
	return &Client{
		httpc:      httpc,
		serverURL:  cfg.ServerURL,
		school:     cfg.School,
		searchURL:  cfg.SearchURL,
		clientName: name,
		sessions:   sessions,
	}
}

// Login authenticates with the server, stores the resulting session and
// the credentials (for later silent re-login), and makes the session the
// client's active one.
func (c *Client) Login(ctx context.Context, username, password string) (model.Session, error) {
	sess, err := c.login(ctx, username, password)
	if err != nil {
		return model.Session{}, err
	}
	return sess, nil
}

// Fetch returns the timetable entries for [start, end]. elementID
// overrides the element queried; 0 means the authenticated identity's
// own id.
//
// On an auth-rejected response it performs exactly one silent re-login
// from stored credentials and retries exactly once; a second rejection
// surfaces as ErrAuthExpired. Any other failure surfaces as *FetchError
// with the cause attached — fallback to cached data is the caller's
// decision, not this client's.
func (c *Client) Fetch(ctx context.Context, start, end time.Time, elementID int) ([]model.Entry, error) {
	var entries []model.Entry
	err := c.withSession(ctx, func(sess model.Session) error {
		return c.getTimetable(ctx, sess, start, end, elementID, &entries)
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Subjects lists the subjects known to the server, used to build the
// class filter UI.
func (c *Client) Subjects(ctx context.Context) ([]model.Element, error) {
	var subjects []model.Element
	err := c.withSession(ctx, func(sess model.Session) error {
		if err := c.call(ctx, sess.SessionID, "getSubjects", struct{}{}, &subjects); err != nil {
			return wrapCallError("getSubjects", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return subjects, nil
}

// Logout tells the server to drop the session (best effort) and clears
// the persisted session and credentials together.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.gen++
	c.mu.Unlock()

	if sess == nil {
		sess = c.sessions.Load()
	}
	if sess != nil {
		if err := c.call(ctx, sess.SessionID, "logout", struct{}{}, nil); err != nil {
			appLog.Warn("remote logout failed, clearing local state anyway", "err", err)
		}
	}
	return c.sessions.Clear()
}

// withSession runs fn with an authenticated session, applying the
// bounded re-login policy: at most one silent re-login and one retry per
// external call.
func (c *Client) withSession(ctx context.Context, fn func(sess model.Session) error) error {
	sess, gen, err := c.ensureSession(ctx)
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		err := fn(sess)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errAuthRejected) {
			return err
		}
		if attempt >= 1 {
			// Retry already happened; a loop here would hammer the
			// server with permanently invalid credentials.
			return ErrAuthExpired
		}
		sess, gen, err = c.refresh(ctx, gen)
		if err != nil {
			if errors.Is(err, ErrNotAuthenticated) {
				return err
			}
			return ErrAuthExpired
		}
	}
}

// ensureSession returns the active session, loading the persisted one or
// silently logging in from stored credentials when needed.
func (c *Client) ensureSession(ctx context.Context) (model.Session, uint64, error) {
	c.mu.Lock()
	if c.session != nil {
		sess, gen := *c.session, c.gen
		c.mu.Unlock()
		return sess, gen, nil
	}
	if sess := c.sessions.Load(); sess != nil {
		c.session = sess
		c.gen++
		s, gen := *sess, c.gen
		c.mu.Unlock()
		return s, gen, nil
	}
	gen := c.gen
	c.mu.Unlock()

	return c.refresh(ctx, gen)
}

// refresh performs a single-flight re-login. observedGen is the session
// generation the caller last saw: if another caller already refreshed
// past it while we waited on the guard, that session is reused instead
// of logging in again.
func (c *Client) refresh(ctx context.Context, observedGen uint64) (model.Session, uint64, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.Lock()
	if c.session != nil && c.gen > observedGen {
		sess, gen := *c.session, c.gen
		c.mu.Unlock()
		return sess, gen, nil
	}
	c.mu.Unlock()

	creds := c.sessions.Credentials()
	if creds == nil {
		return model.Session{}, 0, ErrNotAuthenticated
	}

	appLog.Info("re-login with stored credentials", "username", creds.Username)
	sess, err := c.login(ctx, creds.Username, creds.Password)
	if err != nil {
		return model.Session{}, 0, err
	}

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	return sess, gen, nil
}

// login issues the authenticate call and persists the outcome.
func (c *Client) login(ctx context.Context, username, password string) (model.Session, error) {
	params := struct {
		User     string `json:"user"`
		Password string `json:"password"`
		Client   string `json:"client"`
	}{User: username, Password: password, Client: c.clientName}

	var sess model.Session
	if err := c.call(ctx, "", "authenticate", params, &sess); err != nil {
		if errors.Is(err, errAuthRejected) {
			// Rejected credentials are not a transport problem; the
			// user has to log in again with usable ones.
			return model.Session{}, fmt.Errorf("%w: credentials rejected", ErrNotAuthenticated)
		}
		return model.Session{}, wrapCallError("authenticate", err)
	}
	if sess.SessionID == "" {
		return model.Session{}, &FetchError{Method: "authenticate", Err: errors.New("no session id in response")}
	}

	c.mu.Lock()
	c.session = &sess
	c.gen++
	c.mu.Unlock()

	// Persistence problems must not fail the login itself.
	if err := c.sessions.Save(sess); err != nil {
		appLog.Warn("failed to persist session", "err", err)
	}
	err := c.sessions.SaveCredentials(model.Credentials{
		School:   c.school,
		Username: username,
		Password: password,
	})
	if err != nil {
		appLog.Warn("failed to persist credentials", "err", err)
	}

	appLog.Info("authenticated", "person_id", sess.PersonID, "klasse_id", sess.KlasseID)
	return sess, nil
}

func (c *Client) getTimetable(ctx context.Context, sess model.Session, start, end time.Time, elementID int, out *[]model.Entry) error {
	// Element types on the wire: 1 = class, 5 = student.
	elemID, elemType := elementID, 1
	if elementID == 0 {
		if sess.PersonID != 0 {
			elemID, elemType = sess.PersonID, 5
		} else {
			elemID, elemType = sess.KlasseID, 1
		}
	}

	type element struct {
		ID   int `json:"id"`
		Type int `json:"type"`
	}
	params := struct {
		Options struct {
			StartDate        int     `json:"startDate"`
			EndDate          int     `json:"endDate"`
			Element          element `json:"element"`
			ShowLsText       bool    `json:"showLsText"`
			ShowStudentgroup bool    `json:"showStudentgroup"`
			ShowInfo         bool    `json:"showInfo"`
			ShowSubstText    bool    `json:"showSubstText"`
		} `json:"options"`
	}{}
	params.Options.StartDate = timefmt.EncodeDate(start)
	params.Options.EndDate = timefmt.EncodeDate(end)
	params.Options.Element = element{ID: elemID, Type: elemType}
	params.Options.ShowLsText = true
	params.Options.ShowStudentgroup = true
	params.Options.ShowInfo = true
	params.Options.ShowSubstText = true

	if err := c.call(ctx, sess.SessionID, "getTimetable", params, out); err != nil {
		return wrapCallError("getTimetable", err)
	}
	return nil
}

type rpcRequest struct {
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	JSONRPC string `json:"jsonrpc"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call issues one JSON-RPC request. sessionID, when non-empty, rides
// along as the JSESSIONID cookie. result may be nil for calls whose
// result is irrelevant (logout).
func (c *Client) call(ctx context.Context, sessionID, method string, params, result any) error {
	if params == nil {
		params = struct{}{}
	}
	body, err := json.Marshal(rpcRequest{
		ID:      "untisched",
		Method:  method,
		Params:  params,
		JSONRPC: "2.0",
	})
	if err != nil {
		return err
	}

	endpoint := c.serverURL
	if c.school != "" {
		sep := "?"
		if u, perr := url.Parse(endpoint); perr == nil && u.RawQuery != "" {
			sep = "&"
		}
		endpoint += sep + "school=" + url.QueryEscape(c.school)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("Cookie", "JSESSIONID="+sessionID)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: HTTP %d", errAuthRejected, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %s", resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var rpc rpcResponse
	if err := json.Unmarshal(raw, &rpc); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpc.Error != nil {
		if rpc.Error.Code == rpcNotAuthenticated {
			return fmt.Errorf("%w: rpc %d %s", errAuthRejected, rpc.Error.Code, rpc.Error.Message)
		}
		return fmt.Errorf("rpc %d: %s", rpc.Error.Code, rpc.Error.Message)
	}
	if result != nil && len(rpc.Result) > 0 {
		if err := json.Unmarshal(rpc.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// wrapCallError keeps auth rejections recognizable for the retry loop
// and wraps everything else as a FetchError.
func wrapCallError(method string, err error) error {
	if errors.Is(err, errAuthRejected) {
		return err
	}
	return &FetchError{Method: method, Err: err}
}
