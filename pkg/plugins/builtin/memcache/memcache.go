// Package memcache provides an in-process cache capability backed by an
// expirable LRU. It is the zero-dependency choice for single-node servers.
package memcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/wharf/pkg/plugins"
)

// Module is the name configuration files use for this plugin
const Module = "memory-cache"

const (
	defaultSize = 10000
	defaultTTL  = 10 * time.Minute
)

// Config controls the cache bounds
type Config struct {
	// Size is the maximum number of entries
	Size int `yaml:"size"`
	// TTL caps the lifetime of every entry; writes may ask for less
	TTL time.Duration `yaml:"ttl"`
}

var schema = &plugins.Schema{
	Fields: map[string]*plugins.Field{
		"size": {Type: plugins.TypeNumber},
		"ttl":  {Type: plugins.TypeString},
	},
}

// Export describes the plugin to the registry
func Export() plugins.Export {
	return plugins.Export{
		Module:       Module,
		ConfigSchema: schema,
		Provides:     map[plugins.Capability]string{plugins.CapabilityCache: "memory"},
		Init:         initCache,
	}
}

func initCache(ctx context.Context, p plugins.InitParams) (plugins.Instance, error) {
	cfg := Config{Size: defaultSize, TTL: defaultTTL}
	if p.Config != nil {
		if err := p.Config.Decode(&cfg); err != nil {
			return nil, err
		}
	}
	return New(cfg), nil
}

type entry struct {
	value   []byte
	expires time.Time
}

// Cache is an LRU cache with per-entry expiry
type Cache struct {
	lru *expirable.LRU[string, entry]
	ttl time.Duration
	now func() time.Time
}

// New creates a cache. Zero values in cfg fall back to the defaults.
func New(cfg Config) *Cache {
	if cfg.Size <= 0 {
		cfg.Size = defaultSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	return &Cache{
		lru: expirable.NewLRU[string, entry](cfg.Size, nil, cfg.TTL),
		ttl: cfg.TTL,
		now: time.Now,
	}
}

// Type implements plugins.Instance
func (c *Cache) Type() plugins.Capability {
	return plugins.CapabilityCache
}

// Get returns the value stored under key, or plugins.ErrCacheMiss
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, plugins.ErrCacheMiss
	}
	if c.now().After(e.expires) {
		c.lru.Remove(key)
		return nil, plugins.ErrCacheMiss
	}
	return e.value, nil
}

// Set stores value under key. A TTL longer than the cache's own is capped.
func (c *Cache) Set(ctx context.Context, key string, value []byte, opts plugins.CacheOptions) error {
	ttl := opts.TTL
	if ttl <= 0 || ttl > c.ttl {
		ttl = c.ttl
	}
	c.lru.Add(key, entry{
		value:   append([]byte(nil), value...),
		expires: c.now().Add(ttl),
	})
	return nil
}

// Delete removes key
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

// Len returns the number of entries, including expired ones not yet evicted
func (c *Cache) Len() int {
	return c.lru.Len()
}
