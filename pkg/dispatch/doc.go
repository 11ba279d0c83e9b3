// Package dispatch routes inbound HTTP requests through the middleware
// plugins of an initialized runtime.
//
// Dispatch is first-match-wins: middleware is consulted in initialization
// order, the first whose ShouldHandle returns true handles the request, and
// nothing after it is consulted. A *plugins.StatusError returned by Handle
// becomes a response with that status and a {"error": message} body; any
// other error, or a panic, becomes a 500 without detail.
//
// Every response passes through a Capture, which forwards writes unchanged
// and builds a Snapshot once the handler has returned. The optional
// CacheWriter uses it to store successful GET responses in the selected
// cache.
//
//	d := dispatch.NewFromRuntime(rt, log,
//		dispatch.WithMetrics(metrics),
//		dispatch.WithCacheWriter(writer),
//	)
//	router.PathPrefix("/").Handler(d)
package dispatch
