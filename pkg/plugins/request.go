package plugins

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// RequestContext is scoped to one inbound request. It is created by the
// dispatcher and never shared between requests.
type RequestContext struct {
	// ID uniquely identifies the request
	ID      string
	Request *http.Request
	// Response is the capturing writer for this request
	Response http.ResponseWriter
	// Meta exposes the selected capability instances
	Meta   *EnvironmentMetadata
	Logger *logrus.Entry
	// Principal is set by middleware that authenticated the request
	Principal *Principal

	values map[interface{}]interface{}
}

// NewRequestContext creates the per-request context
func NewRequestContext(id string, r *http.Request, w http.ResponseWriter, meta *EnvironmentMetadata, logger *logrus.Entry) *RequestContext {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	if meta == nil {
		meta = NewEnvironmentMetadata()
	}
	return &RequestContext{
		ID:       id,
		Request:  r,
		Response: w,
		Meta:     meta,
		Logger:   logger,
	}
}

// Context returns the request's context; it is cancelled when the client goes away
func (rc *RequestContext) Context() context.Context {
	return rc.Request.Context()
}

// SetValue stores a request-scoped value. A middleware uses it to hand work
// done in ShouldHandle over to Handle.
func (rc *RequestContext) SetValue(key, value interface{}) {
	if rc.values == nil {
		rc.values = make(map[interface{}]interface{})
	}
	rc.values[key] = value
}

// Value returns a value stored with SetValue
func (rc *RequestContext) Value(key interface{}) (interface{}, bool) {
	v, ok := rc.values[key]
	return v, ok
}

// ResponseCacheKey is the cache key under which a GET response for r is stored
func ResponseCacheKey(r *http.Request) string {
	return responseCacheKey(r.Method, r.URL.RequestURI())
}

// PathCacheKeys returns the keys a cached GET of path can be stored under.
// A scoped path such as "/@acme/left-pad" is also reachable with the slash
// escaped, the way npm clients send it.
func PathCacheKeys(path string) []string {
	keys := []string{responseCacheKey(http.MethodGet, path)}
	if strings.HasPrefix(path, "/@") {
		if i := strings.Index(path[2:], "/"); i >= 0 {
			scope, rest := path[:i+2], path[i+3:]
			keys = append(keys,
				responseCacheKey(http.MethodGet, scope+"%2f"+rest),
				responseCacheKey(http.MethodGet, scope+"%2F"+rest),
			)
		}
	}
	return keys
}

func responseCacheKey(method, uri string) string {
	return "response:" + method + ":" + uri
}
