// Package responsecache answers GET requests from the selected cache. The
// dispatcher writes successful responses back; this middleware replays them.
package responsecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/platinummonkey/wharf/pkg/dispatch"
	"github.com/platinummonkey/wharf/pkg/plugins"
)

// Module is the name configuration files use for this plugin
const Module = "response-cache"

type hitKey struct{}

// Export describes the plugin to the registry
func Export() plugins.Export {
	return plugins.Export{
		Module:    Module,
		LoadAfter: []string{string(plugins.CapabilityCache), "auth-gate", "rate-limit"},
		Init: func(ctx context.Context, p plugins.InitParams) (plugins.Instance, error) {
			return &Middleware{}, nil
		},
	}
}

// Middleware serves cached responses
type Middleware struct {
	cache plugins.Cache
}

// New creates the middleware over cache
func New(cache plugins.Cache) *Middleware {
	return &Middleware{cache: cache}
}

// Type implements plugins.Instance
func (m *Middleware) Type() plugins.Capability {
	return plugins.TypeMiddleware
}

// OnMetaLoaded picks up the selected cache
func (m *Middleware) OnMetaLoaded(ctx context.Context, meta *plugins.EnvironmentMetadata) error {
	cache, ok := meta.Cache()
	if !ok {
		return fmt.Errorf("%s requires a cache plugin", Module)
	}
	m.cache = cache
	return nil
}

// ShouldHandle claims anonymous GET requests with a usable cache entry
func (m *Middleware) ShouldHandle(rc *plugins.RequestContext) bool {
	r := rc.Request
	if r.Method != http.MethodGet || r.Header.Get("Authorization") != "" {
		return false
	}
	if r.Header.Get("Cache-Control") == "no-cache" {
		return false
	}

	key := plugins.ResponseCacheKey(r)
	data, err := m.cache.Get(rc.Context(), key)
	if err != nil {
		if !errors.Is(err, plugins.ErrCacheMiss) {
			rc.Logger.WithError(err).WithField("key", key).Warn("Response cache lookup failed")
		}
		return false
	}

	snap, err := dispatch.DecodeSnapshot(data)
	if err != nil {
		rc.Logger.WithError(err).WithField("key", key).Warn("Ignoring corrupt response cache entry")
		return false
	}
	rc.SetValue(hitKey{}, snap)
	return true
}

// Handle replays the cached response
func (m *Middleware) Handle(rc *plugins.RequestContext) error {
	v, ok := rc.Value(hitKey{})
	if !ok {
		return fmt.Errorf("response cache entry vanished")
	}
	return dispatch.Replay(rc.Response, v.(dispatch.Snapshot))
}
