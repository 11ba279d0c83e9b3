package plugins

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Loaded is an initialized plugin
type Loaded struct {
	ID       string
	Module   string
	Instance Instance
}

// NamedMiddleware pairs a middleware instance with its plugin id
type NamedMiddleware struct {
	ID         string
	Middleware Middleware
}

// Runtime is the fully initialized plugin set. The runtime owns every
// instance for the lifetime of the process.
type Runtime struct {
	selection SelectionMap
	loaded    []Loaded
	meta      *EnvironmentMetadata
	log       *logrus.Logger
}

// Selection returns the capability -> plugin id map
func (r *Runtime) Selection() SelectionMap {
	return r.selection
}

// Metadata returns the frozen environment metadata
func (r *Runtime) Metadata() *EnvironmentMetadata {
	return r.meta
}

// Instances returns every initialized plugin in initialization order
func (r *Runtime) Instances() []Loaded {
	return append([]Loaded(nil), r.loaded...)
}

// Middleware returns the middleware instances in initialization order, which
// is the order the dispatcher consults them in
func (r *Runtime) Middleware() []NamedMiddleware {
	var result []NamedMiddleware
	for _, l := range r.loaded {
		if l.Instance.Type() != TypeMiddleware {
			continue
		}
		if mw, ok := l.Instance.(Middleware); ok {
			result = append(result, NamedMiddleware{ID: l.ID, Middleware: mw})
		}
	}
	return result
}

// HealthCheckers returns every instance able to report its health, by plugin id
func (r *Runtime) HealthCheckers() map[string]HealthChecker {
	result := make(map[string]HealthChecker)
	for _, l := range r.loaded {
		if hc, ok := l.Instance.(HealthChecker); ok {
			result[l.ID] = hc
		}
	}
	return result
}

// Close releases plugin resources in reverse initialization order, so a
// plugin is closed before the plugins it was loaded after
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(r.loaded) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		l := r.loaded[i]
		if err := closeInstance(l.Instance); err != nil {
			errs = append(errs, fmt.Errorf("plugin %s: %w", l.ID, err))
			continue
		}
		if r.log != nil {
			r.log.WithField("plugin", l.ID).Debug("Closed plugin")
		}
	}
	r.loaded = nil
	return errors.Join(errs...)
}
