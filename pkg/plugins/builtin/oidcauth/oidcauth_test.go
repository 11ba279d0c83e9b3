package oidcauth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/wharf/pkg/plugins"
)

type fakeProvider struct {
	srv         *httptest.Server
	key         *rsa.PrivateKey
	discoveries atomic.Int32
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	f := &fakeProvider{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		f.discoveries.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"issuer":                                f.srv.URL,
			"authorization_endpoint":                f.srv.URL + "/auth",
			"token_endpoint":                        f.srv.URL + "/token",
			"jwks_uri":                              f.srv.URL + "/keys",
			"userinfo_endpoint":                     f.srv.URL + "/userinfo",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kty": "RSA",
				"alg": "RS256",
				"use": "sig",
				"kid": "test",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer opaque-access-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"sub":    "bob",
			"groups": []string{"readers"},
		})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// sign builds an RS256 JWT
func (f *fakeProvider) sign(t *testing.T, claims map[string]interface{}) string {
	t.Helper()

	header, err := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT", "kid": "test"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	signingInput := base64.RawURLEncoding.EncodeToString(header) + "." + base64.RawURLEncoding.EncodeToString(payload)
	digest := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, f.key, crypto.SHA256, digest[:])
	require.NoError(t, err)

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func (f *fakeProvider) idToken(t *testing.T, subject, audience string, expiry time.Time) string {
	return f.sign(t, map[string]interface{}{
		"iss":    f.srv.URL,
		"sub":    subject,
		"aud":    audience,
		"iat":    time.Now().Unix(),
		"exp":    expiry.Unix(),
		"groups": []string{"publishers", "admins"},
	})
}

func request(token string) *http.Request {
	r := httptest.NewRequest(http.MethodPut, "/left-pad", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestAuthenticate_IDToken(t *testing.T) {
	f := newFakeProvider(t)
	inst, err := Export().Init(context.Background(), plugins.InitParams{
		Config: plugins.Config{"issuer": f.srv.URL, "client_id": "wharf"},
	})
	require.NoError(t, err)
	a := inst.(*Authenticator)
	ctx := context.Background()

	p, err := a.Authenticate(ctx, request(f.idToken(t, "alice", "wharf", time.Now().Add(time.Hour))))
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Subject)
	assert.Equal(t, "oidc", p.Method)
	assert.Equal(t, []string{"publishers", "admins"}, p.Groups)

	_, err = a.Authenticate(ctx, request(f.idToken(t, "alice", "someone-else", time.Now().Add(time.Hour))))
	assert.ErrorIs(t, err, plugins.ErrUnauthenticated, "wrong audience")

	_, err = a.Authenticate(ctx, request(f.idToken(t, "alice", "wharf", time.Now().Add(-time.Hour))))
	assert.ErrorIs(t, err, plugins.ErrUnauthenticated, "expired")

	_, err = a.Authenticate(ctx, request(""))
	assert.ErrorIs(t, err, plugins.ErrUnauthenticated)

	assert.Equal(t, int32(1), f.discoveries.Load(), "discovery runs once")
}

func TestAuthenticate_UserInfoFallback(t *testing.T) {
	f := newFakeProvider(t)
	a := New(Config{Issuer: f.srv.URL, ClientID: "wharf", UserInfoFallback: true}, nil)
	ctx := context.Background()

	p, err := a.Authenticate(ctx, request("opaque-access-token"))
	require.NoError(t, err)
	assert.Equal(t, "bob", p.Subject)
	assert.Equal(t, []string{"readers"}, p.Groups)

	_, err = a.Authenticate(ctx, request("revoked-token"))
	assert.ErrorIs(t, err, plugins.ErrUnauthenticated)
}

func TestAuthenticate_DiscoveryFailureIsRetried(t *testing.T) {
	f := newFakeProvider(t)
	a := New(Config{Issuer: f.srv.URL + "/wrong", ClientID: "wharf"}, nil)

	_, err := a.Authenticate(context.Background(), request("x"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, plugins.ErrUnauthenticated)
	assert.Error(t, a.HealthCheck(context.Background()))

	a.cfg.Issuer = f.srv.URL
	assert.NoError(t, a.HealthCheck(context.Background()))
}
