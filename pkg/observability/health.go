package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
)

// Probe is anything able to report its own health. Plugin instances backed
// by an external service implement it.
type Probe interface {
	HealthCheck(ctx context.Context) error
}

// HealthChecker aggregates plugin probes into liveness and readiness endpoints
type HealthChecker struct {
	mu      sync.RWMutex
	probes  map[string]registeredProbe
	metrics *Metrics
	version string
	ready   atomic.Bool
}

type registeredProbe struct {
	probe    Probe
	critical bool
}

// NewHealthChecker creates a new health checker. metrics may be nil.
func NewHealthChecker(version string, metrics *Metrics) *HealthChecker {
	return &HealthChecker{
		probes:  make(map[string]registeredProbe),
		metrics: metrics,
		version: version,
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusStarting  = "starting"
)

// AddProbe registers a probe under name. A failing critical probe makes the
// service unhealthy; any other failing probe only degrades it.
func (h *HealthChecker) AddProbe(name string, probe Probe, critical bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = registeredProbe{probe: probe, critical: critical}
}

// SetReady marks the service as able to take traffic
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Liveness returns a simple liveness probe (always returns 200 if server is running)
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness returns a readiness probe (checks all dependencies)
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")

	// Return 503 if unhealthy, 200 if healthy or degraded
	if status.Status == StatusUnhealthy || status.Status == StatusStarting {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(status)
}

// Check runs every probe concurrently and folds the results
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus),
	}
	if !h.ready.Load() {
		status.Status = StatusStarting
		return status
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	probes := make(map[string]registeredProbe, len(h.probes))
	for k, v := range h.probes {
		probes[k] = v
	}
	h.mu.RUnlock()
	sort.Strings(names)

	results := make([]DependencyStatus, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, name := range names {
		i, p := i, probes[name].probe
		g.Go(func() error {
			results[i] = runProbe(gctx, p)
			return nil
		})
	}
	_ = g.Wait()

	for i, name := range names {
		dep := results[i]
		status.Dependencies[name] = dep
		if h.metrics != nil {
			h.metrics.SetPluginHealth(name, dep.Status == StatusHealthy)
		}
		if dep.Status == StatusHealthy {
			continue
		}
		if probes[name].critical {
			status.Status = StatusUnhealthy
		} else if status.Status != StatusUnhealthy {
			status.Status = StatusDegraded
		}
	}

	return status
}

func runProbe(ctx context.Context, p Probe) (status DependencyStatus) {
	start := time.Now()
	status = DependencyStatus{
		Status:    StatusHealthy,
		Timestamp: start,
	}
	defer func() {
		if r := recover(); r != nil {
			status.Status = StatusUnhealthy
			status.Message = "health check panicked"
		}
	}()

	err := p.HealthCheck(ctx)
	status.Latency = time.Since(start)
	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
	}
	return status
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/health", checker.Readiness).Methods(http.MethodGet)
	router.HandleFunc("/health/live", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", checker.Readiness).Methods(http.MethodGet)
}
