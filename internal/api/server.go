// Package api exposes the HTTP interface for the lead scrape service.
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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/config"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/manager"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/progress"
	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/scrape"
)

// Server wires HTTP handlers to the job manager and progress broadcaster.
type Server struct {
	router      chi.Router
	manager     *manager.Manager
	broadcaster *progress.Broadcaster
	cfg         config.Config
	logger      *zap.Logger
}

// NewServer constructs a Server with middleware and routes. registry may be
// nil, in which case /metrics serves the default gatherer.
func NewServer(
	mgr *manager.Manager,
	broadcaster *progress.Broadcaster,
	registry *prometheus.Registry,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		manager:     mgr,
		broadcaster: broadcaster,
		cfg:         cfg,
		logger:      logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	} else {
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}

	// The stream route skips the timeout handler: http.TimeoutHandler does
	// not support hijacking, which the WebSocket upgrade requires.
	withTimeout := timeoutMiddleware(60 * time.Second)
	r.Route("/v1/jobs", func(r chi.Router) {
		r.With(withTimeout).Post("/", s.createJob)
		r.With(withTimeout).Get("/", s.listJobs)
		r.With(withTimeout).Get("/{job_id}", s.getJob)
		r.With(withTimeout).Get("/{job_id}/leads", s.listLeads)
		r.With(withTimeout).Post("/{job_id}/start", s.startJob)
		r.With(withTimeout).Post("/{job_id}/cancel", s.cancelJob)
		r.With(withTimeout).Post("/{job_id}/pause", s.pauseJob)
		r.With(withTimeout).Post("/{job_id}/resume", s.resumeJob)
		r.Get("/{job_id}/stream", s.streamProgress)
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
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	key := req.IdempotencyKey
	if headerKey := r.Header.Get("Idempotency-Key"); headerKey != "" {
		key = headerKey
	}
	job, err := s.manager.Create(r.Context(), manager.CreateRequest{
		Sources:        req.Sources,
		Config:         req.toJobConfig(),
		IdempotencyKey: key,
	})
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	if req.Start {
		started, err := s.manager.Start(r.Context(), job.ID)
		if err != nil {
			s.writeManagerError(w, err)
			return
		}
		job = started
	}
	writeJSON(w, http.StatusAccepted, jobResponse(job))
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	var statusFilter *scrape.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := scrape.JobStatus(raw)
		statusFilter = &status
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	jobs, err := s.manager.ListJobs(r.Context(), statusFilter, limit, offset)
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, jobResponse(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.manager.GetStatus(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

func (s *Server) listLeads(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	leads, err := s.manager.ListLeads(r.Context(), jobID, limit, offset)
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "leads": leads})
}

func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.manager.Start)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.manager.Cancel)
}

func (s *Server) pauseJob(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.manager.Pause)
}

func (s *Server) resumeJob(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.manager.Resume)
}

func (s *Server) lifecycle(
	w http.ResponseWriter,
	r *http.Request,
	op func(context.Context, string) (scrape.Job, error),
) {
	job, err := op(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

func (s *Server) writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scrape.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, scrape.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, scrape.ErrInvalidConfiguration):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, "request timed out")
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type createJobRequest struct {
	Sources        []string          `json:"sources"`
	Locations      []string          `json:"locations"`
	Categories     []string          `json:"categories"`
	MaxRecords     int               `json:"max_records"`
	DedupGlobal    bool              `json:"dedup_global"`
	Options        map[string]string `json:"options"`
	IdempotencyKey string            `json:"idempotency_key"`
	Start          bool              `json:"start"`
}

func (req createJobRequest) toJobConfig() scrape.JobConfig {
	return scrape.JobConfig{
		Locations:   req.Locations,
		Categories:  req.Categories,
		MaxRecords:  req.MaxRecords,
		DedupGlobal: req.DedupGlobal,
		Options:     req.Options,
	}
}

func jobResponse(job scrape.Job) map[string]any {
	resp := map[string]any{
		"job_id":    job.ID,
		"status":    string(job.Status),
		"sources":   job.Sources,
		"progress":  job.Progress,
		"submitted": job.Submitted,
	}
	if job.Started != nil {
		resp["started"] = job.Started
	}
	if job.Completed != nil {
		resp["completed"] = job.Completed
	}
	if len(job.Errors) > 0 {
		resp["errors"] = job.Errors
	}
	return resp
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
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

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
