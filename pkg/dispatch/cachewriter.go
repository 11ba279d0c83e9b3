package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/wharf/pkg/async"
	"github.com/platinummonkey/wharf/pkg/observability"
	"github.com/platinummonkey/wharf/pkg/plugins"
)

// CacheHeader marks responses replayed from the response cache
const CacheHeader = "X-Wharf-Cache"

// headers that describe one exchange rather than the resource
var perRequestHeaders = map[string]bool{
	"X-Request-Id": true,
	"Set-Cookie":   true,
	"Date":         true,
	CacheHeader:    true,
}

// CacheWriter stores successful GET responses in the selected cache. Writes
// happen on a bounded worker pool after the client has its response; when
// the pool is saturated the write is dropped.
type CacheWriter struct {
	cache   plugins.Cache
	pool    *async.WorkerPool
	ttl     time.Duration
	metrics *observability.Metrics
	log     logrus.FieldLogger
}

// NewCacheWriter creates a write-back cache writer. metrics may be nil.
func NewCacheWriter(cache plugins.Cache, pool *async.WorkerPool, ttl time.Duration, metrics *observability.Metrics, log logrus.FieldLogger) *CacheWriter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CacheWriter{
		cache:   cache,
		pool:    pool,
		ttl:     ttl,
		metrics: metrics,
		log:     log,
	}
}

// Cacheable reports whether a response may be written back
func Cacheable(r *http.Request, snap Snapshot) bool {
	if r.Method != http.MethodGet || snap.Status != http.StatusOK || snap.Truncated {
		return false
	}
	// one key per resource, so a write can evict every cached copy
	if r.URL.RawQuery != "" {
		return false
	}
	// authenticated reads may be private
	if r.Header.Get("Authorization") != "" {
		return false
	}
	if snap.HeaderValue(CacheHeader) != "" {
		return false
	}
	return snap.HeaderValue("Cache-Control") != "no-store"
}

// Store queues snap for writing under the request's cache key. It reports
// whether the write was queued.
func (c *CacheWriter) Store(r *http.Request, snap Snapshot) bool {
	if !Cacheable(r, snap) {
		return false
	}

	key := plugins.ResponseCacheKey(r)
	value, err := EncodeSnapshot(snap)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("Failed to encode response for caching")
		return false
	}

	queued := c.pool.TrySubmit(func(ctx context.Context) error {
		if err := c.cache.Set(ctx, key, value, plugins.CacheOptions{TTL: c.ttl}); err != nil {
			c.record("failed")
			return fmt.Errorf("response cache write %s: %w", key, err)
		}
		return nil
	})
	if queued {
		c.record("queued")
	} else {
		c.record("dropped")
		c.log.WithField("key", key).Debug("Response cache write queue full, dropping write")
	}
	return queued
}

func (c *CacheWriter) record(outcome string) {
	if c.metrics != nil {
		c.metrics.ResponseCacheWrites.WithLabelValues(outcome).Inc()
	}
}

// EncodeSnapshot serializes a snapshot for the cache, without per-request headers
func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	stored := Snapshot{Status: snap.Status, Body: snap.Body}
	for _, h := range snap.Headers {
		if perRequestHeaders[h.Name] {
			continue
		}
		stored.Headers = append(stored.Headers, h)
	}
	return json.Marshal(stored)
}

// DecodeSnapshot parses a value written by EncodeSnapshot
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("invalid cached response: %w", err)
	}
	if snap.Status == 0 {
		return Snapshot{}, fmt.Errorf("invalid cached response: missing status")
	}
	return snap, nil
}

// Replay writes a snapshot to w
func Replay(w http.ResponseWriter, snap Snapshot) error {
	header := w.Header()
	for _, h := range snap.Headers {
		header.Add(h.Name, h.Value)
	}
	header.Set(CacheHeader, "hit")
	w.WriteHeader(snap.Status)
	_, err := w.Write(snap.Body)
	return err
}
