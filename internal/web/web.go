// Package web exposes the pipeline over a small JSON HTTP API for UI
// layers. It renders no markup; everything is data.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"untisched/internal/app"
	"untisched/internal/config"
	appLog "untisched/internal/log"
	"untisched/internal/model"
	"untisched/internal/store"
	"untisched/internal/untis"
)

// scheduleCacheTTL bounds how often a schedule request triggers a full
// pipeline pass; POST /api/refresh bypasses it.
const scheduleCacheTTL = 60 * time.Second

type cachedView struct {
	view      app.ScheduleView
	fetchedAt time.Time
}

// Server provides the HTTP API.
type Server struct {
	cfg    *config.Config
	app    *app.App
	router chi.Router

	viewMu sync.Mutex
	views  map[int]cachedView // keyed by week offset
}

// NewServer constructs a Server around an assembled pipeline.
func NewServer(cfg *config.Config, application *app.App) *Server {
	s := &Server{
		cfg:   cfg,
		app:   application,
		views: make(map[int]cachedView),
	}
	s.router = s.routes()
	return s
}

// Handler returns the http.Handler, with basic auth wrapped around it
// when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/schedule", s.handleSchedule)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/export.ics", s.handleExportICS)

		r.Get("/preferences", s.handleGetPreferences)
		r.Put("/preferences", s.handlePutPreferences)

		r.Get("/schools", s.handleSchools)
		r.Post("/schools/select", s.handleSelectSchool)
		r.Get("/subjects", s.handleSubjects)

		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleSchedule returns the organized view for the requested week.
// ?week=N shifts the reference date by N weeks from today.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	week := 0
	if v := r.URL.Query().Get("week"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "week must be an integer")
			return
		}
		week = n
	}

	s.viewMu.Lock()
	cached, ok := s.views[week]
	s.viewMu.Unlock()
	if ok && time.Since(cached.fetchedAt) < scheduleCacheTTL {
		writeJSON(w, http.StatusOK, cached.view)
		return
	}

	view, err := s.refreshWeek(r, week)
	if err != nil {
		s.writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleRefresh forces a pipeline pass, bypassing the short view cache.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	week := 0
	if v := r.URL.Query().Get("week"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			week = n
		}
	}
	view, err := s.refreshWeek(r, week)
	if err != nil {
		s.writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) refreshWeek(r *http.Request, week int) (app.ScheduleView, error) {
	reference := time.Now().In(s.app.Location()).AddDate(0, 0, 7*week)
	view, err := s.app.Refresh(r.Context(), reference)
	if err != nil {
		return app.ScheduleView{}, err
	}
	s.viewMu.Lock()
	s.views[week] = cachedView{view: view, fetchedAt: time.Now()}
	s.viewMu.Unlock()
	return view, nil
}

func (s *Server) handleExportICS(w http.ResponseWriter, r *http.Request) {
	doc, err := s.app.ExportICS(r.Context(), time.Now().In(s.app.Location()))
	if err != nil {
		s.writeScheduleError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="timetable.ics"`)
	_, _ = w.Write([]byte(doc))
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Store().ReadPreferences())
}

// handlePutPreferences replaces preference keys wholesale. Filters and
// colors are independent keys; absent fields in the request leave the
// stored value untouched.
func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FilteredClasses *[]string          `json:"filteredClasses"`
		ClassColors     *map[string]string `json:"classColors"`
		Settings        *model.AppSettings `json:"appSettings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	db := s.app.Store()
	if body.FilteredClasses != nil {
		if err := db.WriteFilters(*body.FilteredClasses); err != nil {
			appLog.Error("filters write failed", err)
			writeError(w, http.StatusInternalServerError, "failed to save filters")
			return
		}
	}
	if body.ClassColors != nil {
		if err := db.WriteColors(*body.ClassColors); err != nil {
			appLog.Error("colors write failed", err)
			writeError(w, http.StatusInternalServerError, "failed to save colors")
			return
		}
	}
	if body.Settings != nil {
		if err := db.WriteSettings(*body.Settings); err != nil {
			appLog.Error("settings write failed", err)
			writeError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
	}

	s.invalidateViews()
	writeJSON(w, http.StatusOK, db.ReadPreferences())
}

// handleSchools runs a directory search when ?search= is given and
// always includes the recent-school list.
func (s *Server) handleSchools(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Results []model.School `json:"results"`
		Recent  []model.School `json:"recent"`
	}

	var resp response
	resp.Recent, _ = s.app.Store().RecentSchools()

	if query := r.URL.Query().Get("search"); query != "" {
		results, err := s.app.Client().SearchSchools(r.Context(), query)
		if err != nil {
			appLog.Error("school search failed", err, "query", query)
			writeError(w, http.StatusBadGateway, "school search failed")
			return
		}
		resp.Results = results
	}
	if resp.Results == nil {
		resp.Results = []model.School{}
	}
	if resp.Recent == nil {
		resp.Recent = []model.School{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSelectSchool(w http.ResponseWriter, r *http.Request) {
	var school model.School
	if err := json.NewDecoder(r.Body).Decode(&school); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.Store().RememberSchool(school); err != nil {
		appLog.Error("remember school failed", err)
		writeError(w, http.StatusInternalServerError, "failed to store school")
		return
	}
	recent, _ := s.app.Store().RecentSchools()
	writeJSON(w, http.StatusOK, recent)
}

func (s *Server) handleSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := s.app.Client().Subjects(r.Context())
	if err != nil {
		s.writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subjects)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Username == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	sess, err := s.app.Client().Login(r.Context(), body.Username, body.Password)
	if err != nil {
		if errors.Is(err, untis.ErrNotAuthenticated) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		appLog.Error("login failed", err)
		writeError(w, http.StatusBadGateway, "login failed")
		return
	}

	s.invalidateViews()
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Client().Logout(r.Context()); err != nil {
		appLog.Error("logout failed", err)
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	s.invalidateViews()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) invalidateViews() {
	s.viewMu.Lock()
	s.views = make(map[int]cachedView)
	s.viewMu.Unlock()
}

// writeScheduleError maps pipeline errors onto HTTP statuses: auth
// errors ask for re-login, a missing snapshot reads as offline, anything
// else is an upstream failure.
func (s *Server) writeScheduleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, untis.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "not authenticated")
	case errors.Is(err, untis.ErrAuthExpired):
		writeError(w, http.StatusUnauthorized, "session expired")
	case errors.Is(err, store.ErrCacheUnavailable):
		writeError(w, http.StatusServiceUnavailable, "offline and no cached schedule")
	default:
		appLog.Error("schedule request failed", err)
		writeError(w, http.StatusBadGateway, "upstream fetch failed")
	}
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password counts as disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health stays unauthenticated for probes.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="untisched", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("response encode failed", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
