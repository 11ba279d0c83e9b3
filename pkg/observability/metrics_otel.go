package observability

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/platinummonkey/wharf"

// OTelMetrics mirrors the dispatch metrics as OpenTelemetry instruments, for
// deployments that push to a collector instead of being scraped
type OTelMetrics struct {
	dispatchRequests metric.Int64Counter
	dispatchDuration metric.Float64Histogram
	cacheLookups     metric.Int64Counter
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithProvider(otel.GetMeterProvider())
}

// NewOTelMetricsWithProvider creates the instruments on provider
func NewOTelMetricsWithProvider(provider metric.MeterProvider) (*OTelMetrics, error) {
	meter := provider.Meter(meterName)

	m := &OTelMetrics{}
	var err error

	m.dispatchRequests, err = meter.Int64Counter(
		"wharf.dispatch.requests",
		metric.WithDescription("Requests by the middleware that handled them"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch request counter: %w", err)
	}

	m.dispatchDuration, err = meter.Float64Histogram(
		"wharf.dispatch.duration",
		metric.WithDescription("Time spent dispatching a request through the middleware chain"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch duration histogram: %w", err)
	}

	m.cacheLookups, err = meter.Int64Counter(
		"wharf.cache.lookups",
		metric.WithDescription("Cache lookups by outcome"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache lookup counter: %w", err)
	}

	return m, nil
}

// RecordDispatch records a completed request
func (m *OTelMetrics) RecordDispatch(ctx context.Context, middleware, method string, status int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("middleware", middleware),
		attribute.String("http.method", method),
		attribute.String("http.status_code", strconv.Itoa(status)),
	)
	m.dispatchRequests.Add(ctx, 1, attrs)
	m.dispatchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("middleware", middleware)))
}

// RecordCacheLookup records a cache hit or miss
func (m *OTelMetrics) RecordCacheLookup(ctx context.Context, cache string, hit bool) {
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache", cache),
		attribute.Bool("hit", hit),
	))
}
