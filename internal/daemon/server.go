// Package daemon serves the page-context message channel and the data
// management API over local HTTP.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/runnerr0/dwell/internal/app"
	"github.com/runnerr0/dwell/internal/channel"
	"github.com/runnerr0/dwell/internal/logging"
)

// Server is the HTTP + WebSocket surface of the daemon.
type Server struct {
	app      *app.App
	router   chi.Router
	handler  http.Handler
	upgrader websocket.Upgrader
	logger   *slog.Logger
	version  string
	started  time.Time
	now      func() time.Time
}

// New returns a Server over a.
func New(a *app.App, version string) *Server {
	c := cors.New(cors.Options{
		AllowedOrigins: a.Config.Daemon.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	})

	r := chi.NewRouter()
	s := &Server{
		app:     a,
		router:  r,
		handler: c.Handler(r),
		logger:  logging.OrDiscard(a.Logger).With("component", "daemon"),
		version: version,
		started: time.Now(),
		now:     time.Now,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// Non-browser clients send no Origin.
			return r.Header.Get("Origin") == "" || c.OriginAllowed(r)
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.Recoverer)
	if n := s.app.Config.Daemon.MaxRequestSize; n > 0 {
		r.Use(middleware.RequestSize(int64(n)))
	}

	r.Get("/status", s.handleStatus)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages", s.handleMessage)

		r.Get("/pageviews", s.handleListPageViews)
		r.Delete("/pageviews", s.handleDeletePage)
		r.Delete("/domains/{domain}", s.handleDeleteDomain)
		r.Delete("/dates/{date}", s.handleDeleteDate)
		r.Delete("/data", s.handleDeleteAll)

		r.Get("/stats", s.handleStats)
		r.Get("/stats/summary", s.handleSummary)
		r.Get("/visits", s.handleVisits)
		r.Get("/search", s.handleSearch)
		r.Get("/export", s.handleExport)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
		r.Put("/settings/retention", s.handlePutRetention)
		r.Get("/settings/watch", s.handleSettingsWS)

		r.Get("/merges", s.handleListMerges)
		r.Post("/merges/{id}/undo", s.handleUndoMerge)
		r.Post("/maintenance", s.handleMaintenance)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("http_request", "method", r.Method, "path", r.URL.Path)
	s.handler.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
	}
}

// Run serves on addr and runs the periodic alarm until ctx is done, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := s.HTTPServer(addr)

	alarmCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.RunAlarm(alarmCtx, time.Duration(s.app.Config.Daemon.AlarmMinutes)*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("daemon listening", "addr", addr, "version", s.version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	s.logger.Info("daemon shutting down")
	return srv.Shutdown(shutdownCtx)
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Channel ---

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var env channel.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	writeJSON(w, http.StatusOK, s.app.Router.Dispatch(r.Context(), env))
}

type statusResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Uptime     string `json:"uptime"`
	ActiveTabs int    `json:"activeTabs"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     "ok",
		Version:    s.version,
		Uptime:     s.now().Sub(s.started).Truncate(time.Second).String(),
		ActiveTabs: s.app.Aggregator.Active().Len(),
	})
}
