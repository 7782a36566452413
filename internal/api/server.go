// Package api exposes the status HTTP endpoint served while a comparison
// run executes: health, Prometheus metrics, the recent progress feed, and
// the live run summary.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/trychlos/TheToolsProject-sub002/internal/crawl"
	"github.com/trychlos/TheToolsProject-sub002/internal/metrics"
	"github.com/trychlos/TheToolsProject-sub002/internal/progress/sinks"
)

// ResultFunc returns the current run result, or nil before a run starts.
type ResultFunc func() *crawl.Result

// Server wires the status routes.
type Server struct {
	router chi.Router
	logger *zap.Logger
	recent *sinks.MemorySink
	result ResultFunc
}

// NewServer builds the router. recent and result may be nil; the matching
// endpoints then answer 404.
func NewServer(logger *zap.Logger, recent *sinks.MemorySink, result ResultFunc) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{logger: logger, recent: recent, result: result}

	r := chi.NewRouter()
	r.Use(s.observe)
	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/progress", s.progress)
	r.Get("/summary", s.summary)
	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) progress(w http.ResponseWriter, _ *http.Request) {
	if s.recent == nil {
		writeError(w, http.StatusNotFound, "progress feed is not enabled")
		return
	}
	events := s.recent.Recent()
	out := make([]progressEntry, 0, len(events))
	for _, evt := range events {
		out = append(out, progressEntry{
			TS:      evt.TS,
			Stage:   string(evt.Stage),
			Role:    evt.Role,
			Ordinal: evt.Ordinal,
			Key:     evt.Key,
			Status:  evt.Status,
			Reason:  evt.Reason,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) summary(w http.ResponseWriter, _ *http.Request) {
	if s.result == nil {
		writeError(w, http.StatusNotFound, "summary is not enabled")
		return
	}
	result := s.result()
	if result == nil {
		writeError(w, http.StatusNotFound, "no run yet")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type progressEntry struct {
	TS      time.Time `json:"ts"`
	Stage   string    `json:"stage"`
	Role    string    `json:"role,omitempty"`
	Ordinal int       `json:"ordinal,omitempty"`
	Key     string    `json:"key,omitempty"`
	Status  int       `json:"status,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// observe logs each request and records the HTTP metrics.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)
		metrics.ObserveHTTPRequest(r.Method, r.URL.Path, rec.status, dur)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("dur", dur),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
