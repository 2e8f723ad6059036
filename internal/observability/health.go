package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CheckFunc reports whether a dependency is usable.
type CheckFunc func(ctx context.Context) error

// HealthServer exposes /healthz and /readyz endpoints. Readiness requires
// SetReady(true) and every registered check to pass.
type HealthServer struct {
	ready        atomic.Bool
	mu           sync.RWMutex
	checks       map[string]CheckFunc
	checkTimeout time.Duration
}

// NewHealthServer creates a new health server.
func NewHealthServer() *HealthServer {
	return &HealthServer{
		checks:       make(map[string]CheckFunc),
		checkTimeout: 2 * time.Second,
	}
}

// SetReady marks the server as ready to receive traffic.
func (h *HealthServer) SetReady(ready bool) {
	h.ready.Store(ready)
}

// AddCheck registers a readiness check under name.
func (h *HealthServer) AddCheck(name string, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = fn
}

// Handler returns an http.Handler with health and readiness endpoints.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /readyz", h.handleReady)
	return mux
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		writeStatus(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready"})
		return
	}
	if failed := h.runChecks(r.Context()); len(failed) > 0 {
		writeStatus(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failed": failed})
		return
	}
	writeStatus(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (h *HealthServer) runChecks(ctx context.Context) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.checkTimeout)
	defer cancel()

	var failed []string
	for name, fn := range h.checks {
		if err := fn(ctx); err != nil {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return failed
}

func writeStatus(w http.ResponseWriter, code int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// NewRegistry returns a registry with the process and Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}

// OpsMux serves /metrics from gatherer next to the health endpoints.
func OpsMux(gatherer prometheus.Gatherer, health *HealthServer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("GET /healthz", health.Handler())
	mux.Handle("GET /readyz", health.Handler())
	return mux
}
