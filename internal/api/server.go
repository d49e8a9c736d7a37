package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/wubwatch/internal/metrics"
	"github.com/JakeFAU/wubwatch/internal/monitor"
	"github.com/JakeFAU/wubwatch/internal/render"
	"github.com/JakeFAU/wubwatch/internal/store"
	"github.com/JakeFAU/wubwatch/internal/watch"
)

const defaultRequestTimeout = 60 * time.Second

// Sessions is the part of watch.Manager the API drives.
type Sessions interface {
	Start(jobID string) (watch.Entry, error)
	Get(jobID string) (watch.Entry, error)
	List() []watch.Info
	Stop(jobID string) error
}

// Options wires a Server. History and Monitor are optional.
type Options struct {
	Sessions Sessions
	History  store.SessionRepository
	Monitor  *monitor.Dashboard
	// RequestTimeout bounds each request; zero means one minute.
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Server wires HTTP handlers to the session manager and registry.
type Server struct {
	router   chi.Router
	sessions Sessions
	monitor  *monitor.Dashboard
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	s := &Server{
		sessions: opts.Sessions,
		monitor:  opts.Monitor,
		logger:   logger,
	}
	history := NewHistoryHandler(opts.History, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Post("/", s.startSession)
				r.Get("/", s.getSession)
				r.Delete("/", s.stopSession)
			})
		})
		r.Route("/history", func(r chi.Router) {
			r.Get("/", history.ListSessions)
			r.Get("/{session_id}", history.GetSession)
		})
		r.Route("/monitor", func(r chi.Router) {
			r.Get("/", s.monitorSnapshot)
			r.Post("/selection", s.monitorSelect)
			r.Delete("/selection", s.monitorClear)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session manager unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listSessions(w http.ResponseWriter, _ *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session manager unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.List()})
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session manager unavailable")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	entry, err := s.sessions.Start(jobID)
	if err != nil {
		switch {
		case errors.Is(err, watch.ErrSessionExists):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, watch.ErrCapacity):
			writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, watch.ErrShutdown):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.logger.Error("start session failed", zap.String("job_id", jobID), zap.Error(err))
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"session": entry.Session.Info()})
}

type sessionResponse struct {
	Session watch.Info      `json:"session"`
	View    render.Snapshot `json:"view"`
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session manager unavailable")
		return
	}
	entry, err := s.sessions.Get(chi.URLParam(r, "job_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	resp := sessionResponse{Session: entry.Session.Info()}
	if entry.View != nil {
		resp.View = entry.View.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session manager unavailable")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if err := s.sessions.Stop(jobID); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(store.SessionStopped)})
}

func (s *Server) monitorSnapshot(w http.ResponseWriter, _ *http.Request) {
	if s.monitor == nil {
		writeError(w, http.StatusNotFound, "monitor not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.monitor.Snapshot())
}

// monitorSelect handles POST /v1/monitor/selection?start=&end= with epoch
// seconds.
func (s *Server) monitorSelect(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		writeError(w, http.StatusNotFound, "monitor not configured")
		return
	}
	start, err := parseEpoch(r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start")
		return
	}
	end, err := parseEpoch(r.URL.Query().Get("end"))
	if err != nil || end.Before(start) {
		writeError(w, http.StatusBadRequest, "invalid end")
		return
	}
	changed, err := s.monitor.Select(r.Context(), start, end)
	if err != nil {
		s.logger.Warn("monitor selection failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "monitor request failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
}

func (s *Server) monitorClear(w http.ResponseWriter, _ *http.Request) {
	if s.monitor == nil {
		writeError(w, http.StatusNotFound, "monitor not configured")
		return
	}
	s.monitor.ClearSelection()
	w.WriteHeader(http.StatusNoContent)
}

func parseEpoch(raw string) (time.Time, error) {
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse epoch: %w", err)
	}
	return time.UnixMilli(int64(secs * 1000)).UTC(), nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
