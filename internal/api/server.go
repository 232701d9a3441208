// Package api exposes the HTTP interface for the discovery service: job
// submission and inspection for operators, plus the push endpoints the
// message queue delivers worker messages to.
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
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scoutline/creator-discovery/internal/config"
	"github.com/scoutline/creator-discovery/internal/creator"
	"github.com/scoutline/creator-discovery/internal/dispatch"
	"github.com/scoutline/creator-discovery/internal/metrics"
)

const (
	defaultCreatorLimit = 100
	maxCreatorLimit     = 1000
	workerTimeout       = 10 * time.Minute
)

// Server wires HTTP handlers to the dispatcher, worker handlers and stores.
type Server struct {
	router     chi.Router
	tracker    dispatch.Tracker
	creators   creator.CreatorStore
	dispatcher *dispatch.Dispatcher
	workers    *dispatch.Handlers
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	tracker dispatch.Tracker,
	creators creator.CreatorStore,
	dispatcher *dispatch.Dispatcher,
	workers *dispatch.Handlers,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		tracker:    tracker,
		creators:   creators,
		dispatcher: dispatcher,
		workers:    workers,
		cfg:        cfg,
		logger:     logger,
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
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Use(timeoutMiddleware(60 * time.Second))
			r.Post("/", s.submitJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Get("/creators", s.listCreators)
			})
		})
		r.Route("/workers", func(r chi.Router) {
			r.Use(timeoutMiddleware(workerTimeout))
			r.Post("/dispatch", s.workerDispatch)
			r.Post("/search", s.workerSearch)
			r.Post("/enrich", s.workerEnrich)
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
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req dispatch.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		if isValidationError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("job submission failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.tracker.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	counts, err := s.creators.CountCreators(r.Context(), jobID)
	if err != nil {
		s.logger.Error("count creators failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job progress")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job": job,
		"progress": map[string]int{
			"creators_saved":    counts.Total,
			"creators_enriched": counts.Enriched,
		},
	})
}

func (s *Server) listCreators(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	limit, offset, err := parseLimitOffset(r, defaultCreatorLimit, maxCreatorLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.tracker.GetJob(r.Context(), jobID); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	rows, err := s.creators.ListCreators(r.Context(), jobID, limit, offset)
	if err != nil {
		s.logger.Error("list creators failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list creators")
		return
	}
	if rows == nil {
		rows = []creator.JobCreator{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"creators": rows})
}

// Worker endpoints receive queue push deliveries. A 2xx acknowledges the
// message; anything else makes the queue redeliver it, so handler errors map
// to 500 and permanently-invalid payloads to 400 for dead-lettering.

func (s *Server) workerDispatch(w http.ResponseWriter, r *http.Request) {
	var msg dispatch.DispatchMessage
	if !decodeWorkerMessage(w, r, &msg) {
		return
	}
	s.respondWorker(w, "dispatch", msg.JobID, s.workers.HandleDispatch(r.Context(), msg))
}

func (s *Server) workerSearch(w http.ResponseWriter, r *http.Request) {
	var msg dispatch.SearchMessage
	if !decodeWorkerMessage(w, r, &msg) {
		return
	}
	s.respondWorker(w, "search", msg.JobID, s.workers.HandleSearch(r.Context(), msg))
}

func (s *Server) workerEnrich(w http.ResponseWriter, r *http.Request) {
	var msg dispatch.EnrichMessage
	if !decodeWorkerMessage(w, r, &msg) {
		return
	}
	s.respondWorker(w, "enrich", msg.JobID, s.workers.HandleEnrich(r.Context(), msg))
}

func (s *Server) respondWorker(w http.ResponseWriter, worker, jobID string, err error) {
	if err != nil {
		if isValidationError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("worker handler failed",
			zap.String("worker", worker),
			zap.String("job_id", jobID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "worker": worker})
}

func decodeWorkerMessage(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func isValidationError(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}

func parseLimitOffset(r *http.Request, def, max int) (int, int, error) {
	limit := def
	offset := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		if v > max {
			v = max
		}
		limit = v
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
		offset = v
	}
	return limit, offset, nil
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

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unknown"
			}
			metrics.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
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

type requestIDKey struct{}

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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
