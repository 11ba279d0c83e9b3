package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_RecordDispatch(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDispatch("package-api", "GET", 200, 10*time.Millisecond)
	m.RecordDispatch("package-api", "GET", 200, 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DispatchRequestsTotal.WithLabelValues("package-api", "GET", "200")))
}

func TestMetrics_PluginHealth(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetPluginHealth("redis-cache", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PluginHealthy.WithLabelValues("redis-cache")))

	m.SetPluginHealth("redis-cache", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PluginHealthy.WithLabelValues("redis-cache")))
}

func TestMetrics_PluginInit(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordPluginInit("db", "sql-database", time.Millisecond)
	m.RecordPluginInit("fs", "filesystem-storage", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PluginsLoaded))
}

func TestMetrics_CacheLookup(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordCacheLookup("response", true)
	m.RecordCacheLookup("response", false)
	m.RecordCacheLookup("response", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("response")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheMissesTotal.WithLabelValues("response")))
}

func TestHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.DispatchUnhandledTotal.Inc()

	w := httptest.NewRecorder()
	Handler(registry).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "wharf_dispatch_unhandled_total 1")
}
