// Package server exposes a running session over local HTTP: the status
// snapshot, the alarm event stream, break actions and Prometheus metrics.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"break-scheduler/errors"
	"break-scheduler/formatter"
	"break-scheduler/metrics"
	"break-scheduler/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Session is what the HTTP surface drives.
type Session interface {
	Status() models.Status
	StartBreak(ctx context.Context, breakType models.BreakType) (*models.BreakSession, error)
	EndBreak(ctx context.Context) (*models.BreakSession, error)
	StartBio(ctx context.Context) (*models.BreakSession, error)
	StopBio(ctx context.Context) (time.Duration, error)
	UpdateSchedule(ctx context.Context, update models.ScheduleUpdate) (*models.BreakSchedule, error)
	SetAlarmEnabled(ctx context.Context, enabled bool) error
}

type Server struct {
	session Session
	events  http.Handler
	router  chi.Router
}

// New builds the router. events serves the notification stream.
func New(session Session, events http.Handler) *Server {
	s := &Server{session: session, events: events, router: chi.NewRouter()}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Handle("/events", s.events)

		r.Post("/breaks", s.handleStartBreak)
		r.Post("/breaks/end", s.handleEndBreak)
		r.Post("/bio/start", s.handleStartBio)
		r.Post("/bio/stop", s.handleStopBio)

		r.Put("/schedule", s.handleUpdateSchedule)
		r.Post("/alarm", s.handleSetAlarm)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down. Open event
// streams end with ctx.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.session.Status()
	switch r.URL.Query().Get("format") {
	case "", "json":
		writeJSON(w, http.StatusOK, status)
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, formatter.FormatText(&status))
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		fmt.Fprint(w, formatter.FormatCSV(&status))
	default:
		writeError(w, http.StatusBadRequest, "format must be one of: json, text, csv")
	}
}

type startBreakRequest struct {
	Type string `json:"type"`
}

func (s *Server) handleStartBreak(w http.ResponseWriter, r *http.Request) {
	var req startBreakRequest
	if !decode(w, r, &req) {
		return
	}
	breakType, err := models.ParseBreakType(req.Type)
	if err != nil {
		respondErr(w, err)
		return
	}
	session, err := s.session.StartBreak(r.Context(), breakType)
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleEndBreak(w http.ResponseWriter, r *http.Request) {
	session, err := s.session.EndBreak(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleStartBio(w http.ResponseWriter, r *http.Request) {
	session, err := s.session.StartBio(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

type stopBioResponse struct {
	UsedSeconds int              `json:"usedSeconds"`
	Bio         models.BioStatus `json:"bio"`
}

func (s *Server) handleStopBio(w http.ResponseWriter, r *http.Request) {
	used, err := s.session.StopBio(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stopBioResponse{
		UsedSeconds: int(used / time.Second),
		Bio:         s.session.Status().Bio,
	})
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var update models.ScheduleUpdate
	if !decode(w, r, &update) {
		return
	}
	schedule, err := s.session.UpdateSchedule(r.Context(), update)
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

type setAlarmRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleSetAlarm(w http.ResponseWriter, r *http.Request) {
	var req setAlarmRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := s.session.SetAlarmEnabled(r.Context(), *req.Enabled); err != nil {
		respondErr(w, err)
		return
	}
	status := s.session.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"alarmEnabled": *req.Enabled,
		"alarmState":   status.AlarmState,
		"nextAlarm":    status.NextAlarm,
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// respondErr maps session errors onto HTTP statuses.
func respondErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var apiErr *errors.APIError
	switch {
	case stderrors.Is(err, errors.ErrInvalidBreakType),
		stderrors.Is(err, errors.ErrInvalidVolume),
		stderrors.Is(err, errors.ErrInvalidTime),
		stderrors.Is(err, errors.ErrMissingFirstBreak),
		stderrors.Is(err, errors.ErrMissingLunch):
		status = http.StatusBadRequest
	case stderrors.Is(err, errors.ErrBreakAlreadyActive),
		stderrors.Is(err, errors.ErrBioAlreadyActive),
		stderrors.Is(err, errors.ErrNoActiveBreak),
		stderrors.Is(err, errors.ErrBreakNotConfigured),
		stderrors.Is(err, errors.ErrBioPoolExhausted):
		status = http.StatusConflict
	case stderrors.Is(err, errors.ErrSessionClosed):
		status = http.StatusServiceUnavailable
	case errors.IsConnection(err), stderrors.As(err, &apiErr):
		status = http.StatusBadGateway
	case stderrors.Is(err, errors.ErrNotFound):
		status = http.StatusNotFound
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("HTTP request")
	})
}
