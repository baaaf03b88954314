// Package api exposes the HTTP interface for the audit service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/calumnguyen/seo-crawler-sub001/internal/audit"
	"github.com/calumnguyen/seo-crawler-sub001/internal/backlink"
	"github.com/calumnguyen/seo-crawler-sub001/internal/dedup"
	"github.com/calumnguyen/seo-crawler-sub001/internal/metrics"
	"github.com/calumnguyen/seo-crawler-sub001/internal/seo"
)

// Server wires HTTP handlers to the audit manager and its satellites.
type Server struct {
	router    chi.Router
	manager   *audit.Manager
	backlinks *backlink.Indexer
	dedup     *dedup.Deduplicator
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	manager *audit.Manager,
	backlinks *backlink.Indexer,
	dd *dedup.Deduplicator,
	logger *zap.Logger,
) *Server {
	metrics.Init()
	s := &Server{
		manager:   manager,
		backlinks: backlinks,
		dedup:     dd,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/audits", func(r chi.Router) {
			r.Post("/force-stop", s.forceStop)
			r.Route("/{audit_id}", func(r chi.Router) {
				r.Get("/", s.getAudit)
				r.Get("/queue", s.getQueue)
				r.Post("/start", s.startAudit)
				r.Post("/approve", s.transition(manager.Approve))
				r.Post("/pause", s.transition(manager.Pause))
				r.Post("/resume", s.transition(manager.Resume))
				r.Post("/stop", s.transition(manager.Stop))
			})
		})
		r.Route("/maintenance", func(r chi.Router) {
			r.Post("/completion-sweep", s.completionSweep)
			r.Post("/auto-stop-sweep", s.autoStopSweep)
			r.Post("/dedup", s.runDedup)
		})
		r.Get("/pages/{page_id}/backlinks", s.getBacklinks)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// transition adapts a Manager lifecycle method into a handler. All five
// transition endpoints share the same shape: path param in, audit out.
func (s *Server) transition(fn func(context.Context, string) (seo.Audit, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auditID := chi.URLParam(r, "audit_id")
		a, err := fn(r.Context(), auditID)
		if err != nil {
			s.writeError(w, statusFromErr(err), err.Error())
			return
		}
		metrics.ObserveTransition(string(a.Status))
		s.writeJSON(w, http.StatusOK, map[string]any{"audit": a})
	}
}

type startAuditRequest struct {
	SeedURLs        []string `json:"seed_urls"`
	SkipRobotsCheck bool     `json:"skip_robots_check"`
}

func (s *Server) startAudit(w http.ResponseWriter, r *http.Request) {
	var req startAuditRequest
	if err := decodeOptional(r.Body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	auditID := chi.URLParam(r, "audit_id")
	a, err := s.manager.Start(r.Context(), auditID, audit.StartOptions{
		SeedURLs:        req.SeedURLs,
		SkipRobotsCheck: req.SkipRobotsCheck,
	})
	if err != nil {
		s.writeError(w, statusFromErr(err), err.Error())
		return
	}
	metrics.ObserveTransition(string(a.Status))
	s.writeJSON(w, http.StatusOK, map[string]any{"audit": a})
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	auditID := chi.URLParam(r, "audit_id")
	a, err := s.manager.Get(r.Context(), auditID)
	if err != nil {
		s.writeError(w, statusFromErr(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"audit": a})
}

func (s *Server) getQueue(w http.ResponseWriter, r *http.Request) {
	auditID := chi.URLParam(r, "audit_id")
	counts, err := s.manager.QueueCounts(r.Context(), auditID)
	if err != nil {
		s.writeError(w, statusFromErr(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"audit_id": auditID, "queue": counts})
}

type forceStopRequest struct {
	AuditID string `json:"audit_id"`
}

func (s *Server) forceStop(w http.ResponseWriter, r *http.Request) {
	var req forceStopRequest
	if err := decodeOptional(r.Body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.manager.ForceStop(r.Context(), req.AuditID); err != nil {
		s.writeError(w, statusFromErr(err), err.Error())
		return
	}
	scope := req.AuditID
	if scope == "" {
		scope = "all"
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "scope": scope})
}

func (s *Server) completionSweep(w http.ResponseWriter, r *http.Request) {
	completed, err := s.manager.CompletionSweep(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if completed == nil {
		completed = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"completed": completed})
}

func (s *Server) autoStopSweep(w http.ResponseWriter, r *http.Request) {
	stopped, err := s.manager.AutoStopSweep(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if stopped == nil {
		stopped = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"stopped": stopped})
}

type dedupRequest struct {
	AuditID string `json:"audit_id"`
}

func (s *Server) runDedup(w http.ResponseWriter, r *http.Request) {
	var req dedupRequest
	if err := decodeOptional(r.Body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	var (
		report dedup.Report
		err    error
	)
	if req.AuditID == "" {
		report, err = s.dedup.RunGlobal(r.Context())
	} else {
		report, err = s.dedup.Run(r.Context(), req.AuditID)
	}
	if err != nil {
		s.writeError(w, statusFromErr(err), err.Error())
		return
	}
	metrics.ObserveDuplicatesRemoved(report.Removed)
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) getBacklinks(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "page_id")
	views, err := s.backlinks.Backlinks(r.Context(), pageID)
	if err != nil {
		s.writeError(w, statusFromErr(err), err.Error())
		return
	}
	if views == nil {
		views = []backlink.View{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"page_id": pageID, "backlinks": views})
}

// decodeOptional reads a JSON body, treating an empty body as the zero
// value rather than an error.
func decodeOptional(body io.Reader, dst any) error {
	err := json.NewDecoder(body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func statusFromErr(err error) int {
	switch {
	case errors.Is(err, seo.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, seo.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
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
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal server error"}`))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
	})
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
