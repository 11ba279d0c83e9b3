package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probeFunc func(ctx context.Context) error

func (f probeFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func TestHealthChecker_NotReady(t *testing.T) {
	checker := NewHealthChecker("test", nil)

	status := checker.Check(context.Background())
	assert.Equal(t, StatusStarting, status.Status)
}

func TestHealthChecker_Check(t *testing.T) {
	healthy := probeFunc(func(ctx context.Context) error { return nil })
	failing := probeFunc(func(ctx context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name   string
		setup  func(h *HealthChecker)
		status string
	}{
		{
			name:   "no probes",
			setup:  func(h *HealthChecker) {},
			status: StatusHealthy,
		},
		{
			name: "all healthy",
			setup: func(h *HealthChecker) {
				h.AddProbe("db", healthy, true)
				h.AddProbe("cache", healthy, false)
			},
			status: StatusHealthy,
		},
		{
			name: "optional probe failing degrades",
			setup: func(h *HealthChecker) {
				h.AddProbe("db", healthy, true)
				h.AddProbe("cache", failing, false)
			},
			status: StatusDegraded,
		},
		{
			name: "critical probe failing is unhealthy",
			setup: func(h *HealthChecker) {
				h.AddProbe("db", failing, true)
				h.AddProbe("cache", failing, false)
			},
			status: StatusUnhealthy,
		},
		{
			name: "panicking probe is unhealthy",
			setup: func(h *HealthChecker) {
				h.AddProbe("db", probeFunc(func(ctx context.Context) error { panic("boom") }), true)
			},
			status: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker("test", nil)
			h.SetReady(true)
			tt.setup(h)

			assert.Equal(t, tt.status, h.Check(context.Background()).Status)
		})
	}
}

func TestHealthChecker_UpdatesGauge(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	h := NewHealthChecker("test", metrics)
	h.SetReady(true)
	h.AddProbe("redis-cache", probeFunc(func(ctx context.Context) error { return errors.New("down") }), false)
	h.AddProbe("sql-database", probeFunc(func(ctx context.Context) error { return nil }), true)

	h.Check(context.Background())

	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.PluginHealthy.WithLabelValues("redis-cache")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PluginHealthy.WithLabelValues("sql-database")))
}

func TestHealthChecker_RealBackends(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()
	mock.ExpectPing()

	h := NewHealthChecker("test", nil)
	h.SetReady(true)
	h.AddProbe("redis", probeFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() }), false)
	h.AddProbe("db", probeFunc(db.PingContext), true)

	status := h.Check(context.Background())
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Len(t, status.Dependencies, 2)

	mr.Close()
	status = h.Check(context.Background())
	assert.Equal(t, StatusDegraded, status.Status)
	assert.Equal(t, StatusUnhealthy, status.Dependencies["redis"].Status)
}

func TestHealthRoutes(t *testing.T) {
	h := NewHealthChecker("1.2.3", nil)
	router := mux.NewRouter()
	RegisterHealthRoutes(router, h)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "not ready until plugins initialized")

	h.SetReady(true)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "1.2.3", status.Version)
}
