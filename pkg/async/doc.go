// Package async provides safe concurrent execution primitives for background tasks.
//
// # Overview
//
// This package handles goroutine lifecycle management with panic recovery, timeout
// enforcement, context cancellation, and error logging through logrus.
//
// # Key Functions
//
// SafeGo: Execute function in goroutine with safety features
//
//	async.SafeGo(ctx, log, 10*time.Second, "plugin health probe", func(ctx context.Context) error {
//		return checker.CheckPlugins(ctx)
//	})
//
// WorkerPool: Bounded pool of workers; TrySubmit drops work when saturated
//
//	pool := async.NewWorkerPool(ctx, log, 4, "response cache write", 5*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//
//	pool.TrySubmit(func(ctx context.Context) error {
//		return cache.Set(ctx, key, body, opts)
//	})
//
// Lazy: Single-flight value computed on first use
//
//	provider := async.NewLazy(func(ctx context.Context) (*oidc.Provider, error) {
//		return oidc.NewProvider(ctx, issuer)
//	})
//
// # Related Packages
//
//   - pkg/dispatch: Uses WorkerPool for response cache write-back
//   - pkg/cli: Uses SafeGo for scheduled health probes
//   - pkg/plugins/builtin/oidcauth: Uses Lazy for provider discovery
package async
