package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Dispatch metrics
	DispatchRequestsTotal  *prometheus.CounterVec
	DispatchDuration       *prometheus.HistogramVec
	DispatchUnhandledTotal prometheus.Counter
	DispatchFailuresTotal  *prometheus.CounterVec

	// Plugin metrics
	PluginInitDuration *prometheus.HistogramVec
	PluginsLoaded      prometheus.Gauge
	PluginHealthy      *prometheus.GaugeVec

	// Cache metrics
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec
	ResponseCacheWrites *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		DispatchRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wharf_dispatch_requests_total",
				Help: "Total number of requests by the middleware that handled them",
			},
			[]string{"middleware", "method", "status"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wharf_dispatch_duration_seconds",
				Help:    "Time spent dispatching a request through the middleware chain",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"middleware"},
		),
		DispatchUnhandledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wharf_dispatch_unhandled_total",
				Help: "Requests no middleware accepted",
			},
		),
		DispatchFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wharf_dispatch_failures_total",
				Help: "Middleware failures by kind (status, error, panic)",
			},
			[]string{"middleware", "kind"},
		),
		PluginInitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wharf_plugin_init_duration_seconds",
				Help:    "Plugin initialization duration in seconds",
				Buckets: []float64{.001, .01, .05, .1, .5, 1, 5, 15},
			},
			[]string{"plugin", "module"},
		),
		PluginsLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wharf_plugins_loaded",
				Help: "Number of initialized plugins",
			},
		),
		PluginHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wharf_plugin_healthy",
				Help: "1 when the plugin's last health check passed, 0 otherwise",
			},
			[]string{"plugin"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wharf_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wharf_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),
		ResponseCacheWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wharf_response_cache_writes_total",
				Help: "Response cache write-backs by outcome (queued, dropped, failed)",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.DispatchRequestsTotal,
		m.DispatchDuration,
		m.DispatchUnhandledTotal,
		m.DispatchFailuresTotal,
		m.PluginInitDuration,
		m.PluginsLoaded,
		m.PluginHealthy,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ResponseCacheWrites,
	)

	return m
}

// RecordDispatch records a completed request
func (m *Metrics) RecordDispatch(middleware, method string, status int, duration time.Duration) {
	m.DispatchRequestsTotal.WithLabelValues(middleware, method, strconv.Itoa(status)).Inc()
	m.DispatchDuration.WithLabelValues(middleware).Observe(duration.Seconds())
}

// RecordPluginInit records how long a plugin took to initialize
func (m *Metrics) RecordPluginInit(plugin, module string, duration time.Duration) {
	m.PluginInitDuration.WithLabelValues(plugin, module).Observe(duration.Seconds())
	m.PluginsLoaded.Inc()
}

// SetPluginHealth records the result of a plugin health check
func (m *Metrics) SetPluginHealth(plugin string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1
	}
	m.PluginHealthy.WithLabelValues(plugin).Set(value)
}

// RecordCacheLookup records a cache hit or miss
func (m *Metrics) RecordCacheLookup(cache string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

// Handler returns the Prometheus scrape handler for gatherer
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
