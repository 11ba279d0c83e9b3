// Package defaultresponse is the fallback middleware. It loads after every
// other plugin, so it is consulted last and answers whatever nobody else
// claimed.
package defaultresponse

import (
	"context"
	"net/http"

	"github.com/platinummonkey/wharf/pkg/plugins"
)

// Module is the name configuration files use for this plugin
const Module = "default-response"

// Config customizes the fallback answer
type Config struct {
	Status  int    `yaml:"status"`
	Message string `yaml:"message"`
}

var schema = &plugins.Schema{
	Fields: map[string]*plugins.Field{
		"status":  {Type: plugins.TypeNumber},
		"message": {Type: plugins.TypeString},
	},
}

// Export describes the plugin to the registry
func Export() plugins.Export {
	return plugins.Export{
		Module:       Module,
		ConfigSchema: schema,
		LoadAfter:    []string{plugins.LoadLast},
		Init:         initFallback,
	}
}

func initFallback(ctx context.Context, p plugins.InitParams) (plugins.Instance, error) {
	cfg := Config{Status: http.StatusNotFound}
	if p.Config != nil {
		if err := p.Config.Decode(&cfg); err != nil {
			return nil, err
		}
	}
	return New(cfg), nil
}

// Fallback answers every request with a fixed status
type Fallback struct {
	status  int
	message string
}

// New creates the fallback. Status defaults to 404.
func New(cfg Config) *Fallback {
	if cfg.Status < 400 || cfg.Status > 599 {
		cfg.Status = http.StatusNotFound
	}
	return &Fallback{status: cfg.Status, message: cfg.Message}
}

// Type implements plugins.Instance
func (f *Fallback) Type() plugins.Capability {
	return plugins.TypeMiddleware
}

// ShouldHandle accepts everything
func (f *Fallback) ShouldHandle(rc *plugins.RequestContext) bool {
	return true
}

// Handle fails the request with the configured status
func (f *Fallback) Handle(rc *plugins.RequestContext) error {
	return plugins.NewStatusError(f.status, f.message)
}
