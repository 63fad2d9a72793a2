// Package api exposes the HTTP status interface for a running crawl.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pricepulse/shopcrawler/internal/control"
	"github.com/pricepulse/shopcrawler/internal/stats"
)

// ControlSource reports the adaptive controller's current state.
type ControlSource interface {
	Snapshot() control.State
}

// QueueSource reports frontier depth and admissions.
type QueueSource interface {
	Depth() int
	Admitted() int
}

// Server wires the read-only status endpoints for one crawl run.
type Server struct {
	router  chi.Router
	runID   string
	market  string
	mode    string
	stats   *stats.Stats
	control ControlSource
	queue   QueueSource
	logger  *zap.Logger
}

// NewServer constructs the status server over the run's live components.
func NewServer(
	runID, market, mode string,
	st *stats.Stats,
	ctrl ControlSource,
	q QueueSource,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runID:   runID,
		market:  market,
		mode:    mode,
		stats:   st,
		control: ctrl,
		queue:   q,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.status)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusResponse struct {
	RunID      string        `json:"runId"`
	Market     string        `json:"market"`
	Mode       string        `json:"mode"`
	QueueDepth int           `json:"queueDepth"`
	Admitted   int           `json:"admitted"`
	Controller control.State `json:"controller"`
	Summary    stats.Summary `json:"summary"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		RunID:      s.runID,
		Market:     s.market,
		Mode:       s.mode,
		Controller: s.control.Snapshot(),
		Summary:    s.stats.Summary(),
	}
	if s.queue != nil {
		resp.QueueDepth = s.queue.Depth()
		resp.Admitted = s.queue.Admitted()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
