// Package ratelimit rejects clients that exceed a request budget with 429.
// It only claims requests it is going to reject, so everything within budget
// falls through to the next middleware.
package ratelimit

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/wharf/pkg/plugins"
)

// Module is the name configuration files use for this plugin
const Module = "rate-limit"

// Config defines the token bucket
type Config struct {
	// RequestsPerWindow is the sustained rate
	RequestsPerWindow int `yaml:"requests_per_window"`
	// Window is the period RequestsPerWindow refers to
	Window time.Duration `yaml:"window"`
	// Burst allows temporary bursts above the rate
	Burst int `yaml:"burst"`
	// TrustProxy keys clients by the first X-Forwarded-For address
	TrustProxy bool `yaml:"trust_proxy"`
}

// DefaultConfig returns the default limits
func DefaultConfig() Config {
	return Config{
		RequestsPerWindow: 600,
		Window:            time.Minute,
		Burst:             60,
	}
}

var schema = &plugins.Schema{
	Fields: map[string]*plugins.Field{
		"requests_per_window": {Type: plugins.TypeNumber},
		"window":              {Type: plugins.TypeString},
		"burst":               {Type: plugins.TypeNumber},
		"trust_proxy":         {Type: plugins.TypeBoolean},
	},
}

// Export describes the plugin to the registry
func Export() plugins.Export {
	return plugins.Export{
		Module:       Module,
		ConfigSchema: schema,
		Init:         initLimiter,
	}
}

func initLimiter(ctx context.Context, p plugins.InitParams) (plugins.Instance, error) {
	cfg := DefaultConfig()
	if p.Config != nil {
		if err := p.Config.Decode(&cfg); err != nil {
			return nil, err
		}
	}
	l := New(cfg, p.Log())
	l.StartCleanup()
	return l, nil
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// Limiter is a per-client token bucket middleware
type Limiter struct {
	cfg     Config
	log     *logrus.Entry
	now     func() time.Time
	mu      sync.Mutex
	buckets map[string]*bucket
	stop    context.CancelFunc
}

// New creates a limiter. Invalid values fall back to the defaults.
func New(cfg Config, log *logrus.Entry) *Limiter {
	def := DefaultConfig()
	if cfg.RequestsPerWindow <= 0 {
		cfg.RequestsPerWindow = def.RequestsPerWindow
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Burst < 0 {
		cfg.Burst = 0
	}
	if log == nil {
		log = plugins.InitParams{}.Log()
	}
	return &Limiter{
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Type implements plugins.Instance
func (l *Limiter) Type() plugins.Capability {
	return plugins.TypeMiddleware
}

func (l *Limiter) capacity() float64 {
	return float64(l.cfg.RequestsPerWindow + l.cfg.Burst)
}

func (l *Limiter) rate() float64 {
	return float64(l.cfg.RequestsPerWindow) / l.cfg.Window.Seconds()
}

// Allow takes a token for key
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity(), lastUpdate: now}
		l.buckets[key] = b
	}

	b.tokens = math.Min(l.capacity(), b.tokens+now.Sub(b.lastUpdate).Seconds()*l.rate())
	b.lastUpdate = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// retryAfter is how long until key has a token again
func (l *Limiter) retryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || b.tokens >= 1 {
		return 0
	}
	return time.Duration((1 - b.tokens) / l.rate() * float64(time.Second))
}

// ShouldHandle claims the request when the client is over budget
func (l *Limiter) ShouldHandle(rc *plugins.RequestContext) bool {
	return !l.Allow(l.clientKey(rc.Request))
}

// Handle rejects the request
func (l *Limiter) Handle(rc *plugins.RequestContext) error {
	key := l.clientKey(rc.Request)
	wait := l.retryAfter(key)
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	rc.Response.Header().Set("Retry-After", strconv.Itoa(seconds))
	rc.Logger.WithField("client", key).Info("Rate limit exceeded")
	return plugins.NewStatusError(http.StatusTooManyRequests, "rate limit exceeded")
}

func (l *Limiter) clientKey(r *http.Request) string {
	if l.cfg.TrustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			return strings.TrimSpace(strings.Split(xff, ",")[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Cleanup drops buckets that have been idle long enough to be full again
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.lastUpdate) > l.cfg.Window*2 {
			delete(l.buckets, key)
		}
	}
}

// StartCleanup runs Cleanup once per window until Close
func (l *Limiter) StartCleanup() {
	ctx, cancel := context.WithCancel(context.Background())
	l.stop = cancel

	ticker := time.NewTicker(l.cfg.Window)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops the cleanup loop
func (l *Limiter) Close() error {
	if l.stop != nil {
		l.stop()
	}
	return nil
}
