package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"TrendSentinel/internal/model"
)

// Health tracks liveness facts for the /healthz endpoint.
type Health struct {
	mu         sync.RWMutex
	StartedAt  time.Time
	LastCycle  time.Time
	Degraded   bool
	IndexState func() string
}

func NewHealth() *Health {
	return &Health{StartedAt: time.Now()}
}

// SetCycle records the last finished cycle.
func (h *Health) SetCycle(r *model.CycleReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LastCycle = r.FinishedAt
	h.Degraded = r.Degraded
}

// ServeHTTP handles the /healthz endpoint.
func (h *Health) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := struct {
		Status     string `json:"status"`
		Uptime     string `json:"uptime"`
		LastCycle  string `json:"last_cycle,omitempty"`
		IndexState string `json:"symbol_index,omitempty"`
	}{
		Status: "healthy",
		Uptime: time.Since(h.StartedAt).Round(time.Second).String(),
	}
	if !h.LastCycle.IsZero() {
		status.LastCycle = h.LastCycle.UTC().Format(time.RFC3339)
	}
	if h.IndexState != nil {
		status.IndexState = h.IndexState()
	}

	code := http.StatusOK
	if h.Degraded {
		status.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	srv *http.Server
}

// NewServer creates a metrics and health server on addr.
func NewServer(addr string, m *Metrics, health *Health) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("metrics server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
