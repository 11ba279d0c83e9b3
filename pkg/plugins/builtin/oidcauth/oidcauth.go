// Package oidcauth authenticates requests carrying an OpenID Connect ID
// token issued by a configured provider. Provider discovery happens on the
// first request, not at startup, so an unreachable identity provider does
// not keep the registry from starting.
package oidcauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/wharf/pkg/async"
	"github.com/platinummonkey/wharf/pkg/httputil"
	"github.com/platinummonkey/wharf/pkg/plugins"
)

// Module is the name configuration files use for this plugin
const Module = "oidc-auth"

// Config identifies the provider and this relying party
type Config struct {
	Issuer   string `yaml:"issuer"`
	ClientID string `yaml:"client_id"`
	// GroupsClaim names the claim holding group memberships
	GroupsClaim string `yaml:"groups_claim"`
	// UserInfoFallback accepts opaque access tokens by asking the
	// provider's userinfo endpoint when ID token verification fails
	UserInfoFallback bool          `yaml:"userinfo_fallback"`
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
}

var schema = &plugins.Schema{
	Fields: map[string]*plugins.Field{
		"issuer":            {Type: plugins.TypeString, Required: true},
		"client_id":         {Type: plugins.TypeString, Required: true},
		"groups_claim":      {Type: plugins.TypeString},
		"userinfo_fallback": {Type: plugins.TypeBoolean},
		"discovery_timeout": {Type: plugins.TypeString},
	},
}

// Export describes the plugin to the registry
func Export() plugins.Export {
	return plugins.Export{
		Module:         Module,
		ConfigRequired: true,
		ConfigSchema:   schema,
		Provides:       map[plugins.Capability]string{plugins.CapabilityAuthentication: "oidc"},
		Init:           initAuth,
	}
}

func initAuth(ctx context.Context, p plugins.InitParams) (plugins.Instance, error) {
	cfg := Config{GroupsClaim: "groups", DiscoveryTimeout: 10 * time.Second}
	if err := p.Config.Decode(&cfg); err != nil {
		return nil, err
	}
	return New(cfg, p.Log()), nil
}

type discovered struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// Authenticator verifies bearer tokens against the provider
type Authenticator struct {
	cfg       Config
	discovery *async.Lazy[discovered]
	log       *logrus.Entry
}

// New creates an authenticator. log may be nil.
func New(cfg Config, log *logrus.Entry) *Authenticator {
	if log == nil {
		log = plugins.InitParams{}.Log()
	}
	if cfg.GroupsClaim == "" {
		cfg.GroupsClaim = "groups"
	}
	a := &Authenticator{cfg: cfg, log: log}
	a.discovery = async.NewLazy(a.discover)
	return a
}

func (a *Authenticator) discover(ctx context.Context) (discovered, error) {
	if a.cfg.DiscoveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.DiscoveryTimeout)
		defer cancel()
	}

	provider, err := oidc.NewProvider(ctx, a.cfg.Issuer)
	if err != nil {
		return discovered{}, fmt.Errorf("OIDC discovery for %s failed: %w", a.cfg.Issuer, err)
	}
	a.log.WithField("issuer", a.cfg.Issuer).Info("Discovered OIDC provider")

	return discovered{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: a.cfg.ClientID}),
	}, nil
}

// Type implements plugins.Instance
func (a *Authenticator) Type() plugins.Capability {
	return plugins.CapabilityAuthentication
}

// Authenticate verifies the bearer token and maps its claims to a principal
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*plugins.Principal, error) {
	raw, ok := httputil.BearerToken(r)
	if !ok {
		return nil, plugins.ErrUnauthenticated
	}

	d, err := a.discovery.Get(ctx)
	if err != nil {
		return nil, err
	}

	idToken, verifyErr := d.verifier.Verify(ctx, raw)
	if verifyErr == nil {
		claims := map[string]interface{}{}
		if err := idToken.Claims(&claims); err != nil {
			return nil, fmt.Errorf("failed to parse token claims: %w", err)
		}
		return a.principal(idToken.Subject, claims), nil
	}

	if !a.cfg.UserInfoFallback {
		a.log.WithError(verifyErr).Debug("Rejected bearer token")
		return nil, plugins.ErrUnauthenticated
	}

	info, err := d.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: raw,
		TokenType:   "Bearer",
	}))
	if err != nil {
		a.log.WithError(errors.Join(verifyErr, err)).Debug("Rejected bearer token")
		return nil, plugins.ErrUnauthenticated
	}

	claims := map[string]interface{}{}
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse userinfo claims: %w", err)
	}
	return a.principal(info.Subject, claims), nil
}

func (a *Authenticator) principal(subject string, claims map[string]interface{}) *plugins.Principal {
	p := &plugins.Principal{Subject: subject, Method: "oidc"}
	if raw, ok := claims[a.cfg.GroupsClaim].([]interface{}); ok {
		for _, g := range raw {
			if s, ok := g.(string); ok {
				p.Groups = append(p.Groups, s)
			}
		}
	}
	return p
}

// HealthCheck reports whether the provider has been, or can now be, discovered
func (a *Authenticator) HealthCheck(ctx context.Context) error {
	_, err := a.discovery.Get(ctx)
	return err
}
