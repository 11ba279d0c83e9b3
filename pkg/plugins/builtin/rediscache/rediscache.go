// Package rediscache provides a cache capability backed by Redis, for
// deployments that run more than one server against a shared cache.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/wharf/pkg/plugins"
)

// Module is the name configuration files use for this plugin
const Module = "redis-cache"

// Config holds the connection settings
type Config struct {
	URL        string `yaml:"url"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	PoolSize   int    `yaml:"pool_size"`
	MaxRetries int    `yaml:"max_retries"`
	// Prefix is prepended to every key
	Prefix string `yaml:"prefix"`
}

var schema = &plugins.Schema{
	Fields: map[string]*plugins.Field{
		"url":         {Type: plugins.TypeString, Required: true},
		"password":    {Type: plugins.TypeString, Nullable: true},
		"db":          {Type: plugins.TypeNumber},
		"pool_size":   {Type: plugins.TypeNumber},
		"max_retries": {Type: plugins.TypeNumber},
		"prefix":      {Type: plugins.TypeString},
	},
}

// Export describes the plugin to the registry
func Export() plugins.Export {
	return plugins.Export{
		Module:         Module,
		ConfigRequired: true,
		ConfigSchema:   schema,
		Provides:       map[plugins.Capability]string{plugins.CapabilityCache: "redis"},
		Init:           initCache,
	}
}

func initCache(ctx context.Context, p plugins.InitParams) (plugins.Instance, error) {
	var cfg Config
	if err := p.Config.Decode(&cfg); err != nil {
		return nil, err
	}
	return Connect(ctx, cfg, p.Log())
}

// Cache stores values in Redis
type Cache struct {
	client *redis.Client
	prefix string
	log    *logrus.Entry
}

// Connect dials Redis and verifies the connection. log may be nil.
func Connect(ctx context.Context, cfg Config, log *logrus.Entry) (*Cache, error) {
	if log == nil {
		log = plugins.InitParams{}.Log()
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.WithField("addr", opts.Addr).Info("Connected to redis")
	return &Cache{client: client, prefix: cfg.Prefix, log: log}, nil
}

// Type implements plugins.Instance
func (c *Cache) Type() plugins.Capability {
	return plugins.CapabilityCache
}

// Get returns the value stored under key, or plugins.ErrCacheMiss
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, plugins.ErrCacheMiss
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

// Set stores value under key. A zero TTL means no expiry.
func (c *Cache) Set(ctx context.Context, key string, value []byte, opts plugins.CacheOptions) error {
	if err := c.client.Set(ctx, c.prefix+key, value, opts.TTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete removes key
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// HealthCheck pings the server
func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool
func (c *Cache) Close() error {
	return c.client.Close()
}
