// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding and request parsing.
//
// # Overview
//
// This package offers helper functions for JSON responses, error bodies,
// query parsing and the outer HTTP middleware wrapped around the plugin
// dispatcher.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, pkg)
//	httputil.WriteErrorMessage(w, http.StatusBadRequest, "invalid package name")
//	httputil.WriteDetailedError(w, http.StatusBadRequest, "invalid package", problems)
//
// Every error body has the shape {"error": "..."}.
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(log),
//		httputil.RecoveryMiddleware(log),
//		httputil.MaxBytesMiddleware(50*1024*1024),
//	)(dispatcher)
//
// # Related Packages
//
//   - pkg/dispatch: Renders middleware failures with these helpers
package httputil
