// Package tokenauth authenticates requests carrying a static bearer token.
// Tokens are configured as SHA-256 hashes so the configuration file never
// holds a usable secret.
package tokenauth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/platinummonkey/wharf/pkg/httputil"
	"github.com/platinummonkey/wharf/pkg/plugins"
)

// Module is the name configuration files use for this plugin
const Module = "token-auth"

// TokenConfig binds one token hash to an identity
type TokenConfig struct {
	Subject string   `yaml:"subject"`
	Hash    string   `yaml:"sha256"`
	Groups  []string `yaml:"groups"`
}

// Config lists the accepted tokens
type Config struct {
	Tokens []TokenConfig `yaml:"tokens"`
}

var schema = &plugins.Schema{
	Fields: map[string]*plugins.Field{
		"tokens": {
			Type:     plugins.TypeArray,
			Required: true,
			Items: &plugins.Field{
				Type: plugins.TypeObject,
				Fields: map[string]*plugins.Field{
					"subject": {Type: plugins.TypeString, Required: true},
					"sha256":  {Type: plugins.TypeString, Required: true},
					"groups":  {Type: plugins.TypeArray, Items: &plugins.Field{Type: plugins.TypeString}},
				},
			},
		},
	},
}

// Export describes the plugin to the registry
func Export() plugins.Export {
	return plugins.Export{
		Module:         Module,
		ConfigRequired: true,
		ConfigSchema:   schema,
		Provides:       map[plugins.Capability]string{plugins.CapabilityAuthentication: "token"},
		Init:           initAuth,
	}
}

func initAuth(ctx context.Context, p plugins.InitParams) (plugins.Instance, error) {
	var cfg Config
	if err := p.Config.Decode(&cfg); err != nil {
		return nil, err
	}
	a, err := New(cfg.Tokens)
	if err != nil {
		return nil, err
	}
	p.Log().WithField("tokens", len(a.tokens)).Info("Loaded API tokens")
	return a, nil
}

type token struct {
	hash      []byte
	principal plugins.Principal
}

// Authenticator matches bearer tokens against configured hashes
type Authenticator struct {
	tokens []token
}

// New validates the configured hashes
func New(tokens []TokenConfig) (*Authenticator, error) {
	a := &Authenticator{}
	for i, t := range tokens {
		hash, err := hex.DecodeString(strings.ToLower(t.Hash))
		if err != nil || len(hash) != sha256.Size {
			return nil, fmt.Errorf("tokens[%d]: sha256 must be %d hex characters", i, sha256.Size*2)
		}
		a.tokens = append(a.tokens, token{
			hash: hash,
			principal: plugins.Principal{
				Subject: t.Subject,
				Groups:  append([]string(nil), t.Groups...),
				Method:  "token",
			},
		})
	}
	return a, nil
}

// HashToken returns the value to put in the sha256 field for a token
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Type implements plugins.Instance
func (a *Authenticator) Type() plugins.Capability {
	return plugins.CapabilityAuthentication
}

// Authenticate returns the identity bound to the request's bearer token
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*plugins.Principal, error) {
	raw, ok := httputil.BearerToken(r)
	if !ok {
		return nil, plugins.ErrUnauthenticated
	}
	sum := sha256.Sum256([]byte(raw))

	// every hash is compared so timing does not reveal which one matched
	var match *token
	for i := range a.tokens {
		if subtle.ConstantTimeCompare(sum[:], a.tokens[i].hash) == 1 {
			match = &a.tokens[i]
		}
	}
	if match == nil {
		return nil, plugins.ErrUnauthenticated
	}

	principal := match.principal
	principal.Groups = append([]string(nil), match.principal.Groups...)
	return &principal, nil
}
