package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/wharf/pkg/async"
	"github.com/platinummonkey/wharf/pkg/config"
	"github.com/platinummonkey/wharf/pkg/dispatch"
	"github.com/platinummonkey/wharf/pkg/httputil"
	"github.com/platinummonkey/wharf/pkg/observability"
	"github.com/platinummonkey/wharf/pkg/plugins"
	"github.com/platinummonkey/wharf/pkg/plugins/builtin"
)

const (
	healthProbeTimeout = 30 * time.Second
	cacheWriteTimeout  = 5 * time.Second
)

func newServeCommand() *Command {
	flags, configPath := configFlags("serve")
	return &Command{
		Name:        "serve",
		Description: "Start the registry server",
		Flags:       flags,
		Run: func(args []string) error {
			if err := flags.Parse(args); err != nil {
				return err
			}
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := NewServer(ctx, cfg, builtin.NewRegistry(), log)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(log, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("plugins", srv.Close)

	if err := srv.StartHealthSchedule(ctx); err != nil {
		_ = srv.Close(context.Background())
		return err
	}

	if configPath != "" {
		go func() {
			if err := config.Watch(ctx, configPath, log, nil); err != nil {
				log.WithError(err).Warn("Config watcher stopped")
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", httpServer.Addr).Info("Starting Wharf registry server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server failed")
			serveErr <- err
			cancel()
		}
	}()

	srv.SetReady(true)

	if err := shutdown.WaitForShutdown(ctx); err != nil {
		return err
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	default:
		log.Info("Server stopped")
		return nil
	}
}

// Server is the assembled registry: the initialized plugin runtime behind a
// router that also serves health and metrics
type Server struct {
	cfg     *config.Config
	log     *logrus.Logger
	runtime *plugins.Runtime
	health  *observability.HealthChecker
	writes  *async.WorkerPool
	otel    *observability.OTelProviders
	handler http.Handler
	cron    *cron.Cron
}

// NewServer initializes every configured plugin and wires the dispatcher.
// Nothing listens until the caller serves Handler.
func NewServer(ctx context.Context, cfg *config.Config, reg *plugins.Registry, log *logrus.Logger) (*Server, error) {
	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(promRegistry)

	runtimeCfg, err := cfg.Runtime()
	if err != nil {
		_ = observability.ShutdownOTel(ctx, providers, log)
		return nil, err
	}

	initializer := plugins.NewInitializer(reg,
		plugins.WithLogger(log),
		plugins.WithLoadObserver(func(loaded plugins.Loaded, duration time.Duration) {
			metrics.RecordPluginInit(loaded.ID, loaded.Module, duration)
		}),
	)
	rt, err := initializer.Initialize(ctx, runtimeCfg)
	if err != nil {
		_ = observability.ShutdownOTel(ctx, providers, log)
		return nil, fmt.Errorf("plugin initialization failed: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		log:     log,
		runtime: rt,
		otel:    providers,
		health:  observability.NewHealthChecker(cfg.Observability.OTelServiceVersion, metrics),
	}

	opts := []dispatch.Option{dispatch.WithMetrics(metrics)}
	if providers != nil {
		otelMetrics, err := observability.NewOTelMetricsWithProvider(providers.MeterProvider)
		if err != nil {
			_ = rt.Close(ctx)
			_ = observability.ShutdownOTel(ctx, providers, log)
			return nil, err
		}
		opts = append(opts,
			dispatch.WithTracerProvider(providers.TracerProvider),
			dispatch.WithOTelMetrics(otelMetrics),
		)
	}
	if cfg.ResponseCache.Enabled {
		if cache, ok := rt.Metadata().Cache(); ok {
			// The pool outlives request contexts so queued writes can drain on shutdown
			s.writes = async.NewWorkerPool(context.Background(), log, cfg.ResponseCache.Workers, "response cache write", cacheWriteTimeout)
			opts = append(opts, dispatch.WithCacheWriter(
				dispatch.NewCacheWriter(cache, s.writes, cfg.ResponseCache.TTL, metrics, log),
			))
		} else {
			log.Warn("response_cache is enabled but no cache plugin is configured")
		}
	}
	dispatcher := dispatch.NewFromRuntime(rt, log, opts...)

	// A cache outage slows the registry down but does not break it
	cacheID, _ := rt.Selection().Get(plugins.CapabilityCache)
	for id, probe := range rt.HealthCheckers() {
		s.health.AddProbe(id, probe, id != cacheID)
	}

	router := mux.NewRouter()
	observability.RegisterHealthRoutes(router, s.health)
	if cfg.Observability.MetricsEnabled {
		router.Handle("/metrics", observability.Handler(promRegistry)).Methods(http.MethodGet)
	}
	router.PathPrefix("/").Handler(httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(log),
		httputil.RecoveryMiddleware(log),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
	)(dispatcher))
	s.handler = router
	if providers != nil {
		s.handler = otelhttp.NewHandler(router, "wharf",
			otelhttp.WithTracerProvider(providers.TracerProvider),
			otelhttp.WithMeterProvider(providers.MeterProvider),
		)
	}

	log.WithFields(logrus.Fields{
		"plugins":    len(rt.Instances()),
		"middleware": len(rt.Middleware()),
	}).Info("Plugins initialized")

	return s, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Runtime returns the initialized plugins
func (s *Server) Runtime() *plugins.Runtime {
	return s.runtime
}

// SetReady flips the readiness probe
func (s *Server) SetReady(ready bool) {
	s.health.SetReady(ready)
}

// StartHealthSchedule probes plugin health on the configured cron schedule so
// the health gauges stay current between readiness checks
func (s *Server) StartHealthSchedule(ctx context.Context) error {
	spec := s.cfg.Observability.HealthSchedule
	if spec == "" {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		async.SafeGo(ctx, s.log, healthProbeTimeout, "plugin health probe", func(ctx context.Context) error {
			status := s.health.Check(ctx)
			if status.Status == observability.StatusUnhealthy {
				return fmt.Errorf("plugins unhealthy")
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to schedule health probes: %w", err)
	}

	c.Start()
	s.cron = c
	s.log.WithField("schedule", spec).Info("Scheduled plugin health probes")
	return nil
}

// Close stops background work and releases every plugin. Pending cache
// writes are drained before the plugins they write to are closed.
func (s *Server) Close(ctx context.Context) error {
	s.health.SetReady(false)

	var errs []error
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
	}
	if s.writes != nil {
		timeout := cacheWriteTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := s.writes.Shutdown(timeout); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.runtime.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := observability.ShutdownOTel(ctx, s.otel, s.log); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
