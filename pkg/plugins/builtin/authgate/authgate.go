// Package authgate rejects requests that the selected authentication
// capability cannot attach an identity to. By default only writes are
// guarded; reads pass through unless protect_reads is set.
package authgate

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/platinummonkey/wharf/pkg/plugins"
)

// Module is the name configuration files use for this plugin
const Module = "auth-gate"

// Config controls what is guarded
type Config struct {
	ProtectReads bool `yaml:"protect_reads"`
	// PublishGroups, when set, restricts writes to members of these groups
	PublishGroups []string `yaml:"publish_groups"`
}

var schema = &plugins.Schema{
	Fields: map[string]*plugins.Field{
		"protect_reads":  {Type: plugins.TypeBoolean},
		"publish_groups": {Type: plugins.TypeArray, Items: &plugins.Field{Type: plugins.TypeString}},
	},
}

// Export describes the plugin to the registry
func Export() plugins.Export {
	return plugins.Export{
		Module:       Module,
		ConfigSchema: schema,
		LoadAfter:    []string{string(plugins.CapabilityAuthentication), "rate-limit"},
		Init:         initGate,
	}
}

func initGate(ctx context.Context, p plugins.InitParams) (plugins.Instance, error) {
	var cfg Config
	if p.Config != nil {
		if err := p.Config.Decode(&cfg); err != nil {
			return nil, err
		}
	}
	return New(cfg), nil
}

// Gate is the authentication middleware
type Gate struct {
	cfg    Config
	groups map[string]bool
	auth   plugins.Authentication
}

// New creates a gate. It needs an authentication capability, supplied by
// OnMetaLoaded or SetAuthentication.
func New(cfg Config) *Gate {
	g := &Gate{cfg: cfg, groups: make(map[string]bool, len(cfg.PublishGroups))}
	for _, group := range cfg.PublishGroups {
		g.groups[group] = true
	}
	return g
}

// Type implements plugins.Instance
func (g *Gate) Type() plugins.Capability {
	return plugins.TypeMiddleware
}

// OnMetaLoaded picks up the selected authentication capability
func (g *Gate) OnMetaLoaded(ctx context.Context, meta *plugins.EnvironmentMetadata) error {
	auth, ok := meta.Authentication()
	if !ok {
		return fmt.Errorf("%s requires an authentication plugin", Module)
	}
	g.auth = auth
	return nil
}

// SetAuthentication replaces the authentication capability
func (g *Gate) SetAuthentication(auth plugins.Authentication) {
	g.auth = auth
}

func isWrite(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// check authenticates rc and returns the failure to report, if any
func (g *Gate) check(rc *plugins.RequestContext) error {
	r := rc.Request
	write := isWrite(r.Method)
	if !write && !g.cfg.ProtectReads {
		return nil
	}

	principal, err := g.auth.Authenticate(rc.Context(), r)
	if err != nil {
		if errors.Is(err, plugins.ErrUnauthenticated) {
			return plugins.NewStatusError(http.StatusUnauthorized, "authentication required")
		}
		return fmt.Errorf("authentication failed: %w", err)
	}

	if write && len(g.groups) > 0 && !g.member(principal) {
		return plugins.Errorf(http.StatusForbidden, "%s may not publish", principal.Subject)
	}

	rc.Principal = principal
	return nil
}

func (g *Gate) member(p *plugins.Principal) bool {
	for _, group := range p.Groups {
		if g.groups[group] {
			return true
		}
	}
	return false
}

// ShouldHandle claims requests that must be rejected. An authenticated
// request passes through with rc.Principal set.
func (g *Gate) ShouldHandle(rc *plugins.RequestContext) bool {
	return g.check(rc) != nil
}

// Handle rejects the request
func (g *Gate) Handle(rc *plugins.RequestContext) error {
	err := g.check(rc)
	if err == nil {
		err = plugins.NewStatusError(http.StatusUnauthorized, "authentication required")
	}
	if se, ok := plugins.AsStatusError(err); ok && se.Code == http.StatusUnauthorized {
		rc.Response.Header().Set("WWW-Authenticate", `Bearer realm="wharf"`)
	}
	rc.Logger.WithError(err).Info("Rejected request")
	return err
}
