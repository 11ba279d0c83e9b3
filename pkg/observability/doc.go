// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Overview
//
// This package centralizes observability infrastructure including logrus logging,
// metrics collection, plugin health checks, tracing and graceful shutdown.
//
// # Structured Logging
//
//	log, err := observability.NewLogger("info", "json", os.Stdout)
//	log.WithField("plugin", id).Info("Loaded plugin")
//
// Request-scoped entries travel in the context:
//
//	ctx = observability.WithLogger(ctx, entry)
//	observability.FromContext(ctx).Warn("cache write failed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordDispatch("package-api", "GET", 200, elapsed)
//	router.Handle("/metrics", observability.Handler(registry))
//
// # Health Checks
//
// Plugin instances implementing HealthCheck(ctx) are registered as probes.
// Probes run concurrently; a failing critical probe makes readiness fail:
//
//	checker := observability.NewHealthChecker(version, metrics)
//	checker.AddProbe("sql-database", db, true)
//	checker.SetReady(true)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "wharf",
//	}, log)
//	defer observability.ShutdownOTel(ctx, providers, log)
//
// NewOTelMetricsWithProvider mirrors the dispatch metrics onto the meter
// provider for collectors that do not scrape /metrics.
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/dispatch: Records dispatch metrics and spans
package observability
