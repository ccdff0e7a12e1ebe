// Copyright 2025 Phillip Lindsay
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package authtest provides an in-process token issuer for tests. It serves a
// JSON Web Key Set and OpenID discovery document over httptest and mints RS256
// tokens signed with keys it publishes.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultAudience is the audience minted tokens carry unless overridden.
const DefaultAudience = "coffee"

// Issuer is a fake identity provider.
type Issuer struct {
	Server *httptest.Server

	mu      sync.RWMutex
	keys    map[string]*rsa.PrivateKey
	current string
	failing bool

	fetches atomic.Int64
}

// NewIssuer starts an issuer with a single signing key. The server is closed
// when the test finishes.
func NewIssuer(t testing.TB) *Issuer {
	t.Helper()

	iss := &Issuer{keys: make(map[string]*rsa.PrivateKey)}
	iss.Rotate(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", iss.serveJWKS)
	mux.HandleFunc("/.well-known/openid-configuration", iss.serveDiscovery)
	iss.Server = httptest.NewServer(mux)
	t.Cleanup(iss.Server.Close)

	return iss
}

// URL is the issuer identifier, with the trailing slash Auth0 uses.
func (iss *Issuer) URL() string {
	return iss.Server.URL + "/"
}

// JWKSURL is where the key set is published.
func (iss *Issuer) JWKSURL() string {
	return iss.Server.URL + "/.well-known/jwks.json"
}

// KeyID returns the kid of the key new tokens are signed with.
func (iss *Issuer) KeyID() string {
	iss.mu.RLock()
	defer iss.mu.RUnlock()
	return iss.current
}

// Fetches counts how many times the key set was requested.
func (iss *Issuer) Fetches() int64 {
	return iss.fetches.Load()
}

// SetFailing makes the key set endpoint answer 500 while failing is true.
func (iss *Issuer) SetFailing(failing bool) {
	iss.mu.Lock()
	defer iss.mu.Unlock()
	iss.failing = failing
}

// Rotate generates and publishes a new signing key; earlier keys stay published.
func (iss *Issuer) Rotate(t testing.TB) string {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}

	iss.mu.Lock()
	defer iss.mu.Unlock()
	kid := fmt.Sprintf("test-key-%d", len(iss.keys)+1)
	iss.keys[kid] = key
	iss.current = kid
	return kid
}

func (iss *Issuer) serveJWKS(w http.ResponseWriter, _ *http.Request) {
	iss.fetches.Add(1)

	iss.mu.RLock()
	defer iss.mu.RUnlock()
	if iss.failing {
		http.Error(w, "unavailable", http.StatusInternalServerError)
		return
	}

	var set jose.JSONWebKeySet
	for kid, key := range iss.keys {
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       &key.PublicKey,
			KeyID:     kid,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

func (iss *Issuer) serveDiscovery(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"issuer":                                iss.URL(),
		"jwks_uri":                              iss.JWKSURL(),
		"authorization_endpoint":                iss.Server.URL + "/authorize",
		"token_endpoint":                        iss.Server.URL + "/oauth/token",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

type tokenOptions struct {
	claims jwt.MapClaims
	kid    string
	signer *rsa.PrivateKey
	method jwt.SigningMethod
}

// TokenOption customizes a minted token.
type TokenOption func(*tokenOptions)

// WithPermissions sets the permissions claim. Calling it with no arguments
// produces an explicit empty list.
func WithPermissions(perms ...string) TokenOption {
	return func(o *tokenOptions) {
		if perms == nil {
			perms = []string{}
		}
		o.claims["permissions"] = perms
	}
}

// WithoutPermissions removes the permissions claim entirely.
func WithoutPermissions() TokenOption {
	return func(o *tokenOptions) { delete(o.claims, "permissions") }
}

// ExpiresIn sets exp relative to now; a negative duration yields an expired token.
func ExpiresIn(d time.Duration) TokenOption {
	return func(o *tokenOptions) { o.claims["exp"] = time.Now().Add(d).Unix() }
}

// WithAudience overrides the aud claim.
func WithAudience(aud string) TokenOption {
	return func(o *tokenOptions) { o.claims["aud"] = aud }
}

// WithIssuer overrides the iss claim.
func WithIssuer(iss string) TokenOption {
	return func(o *tokenOptions) { o.claims["iss"] = iss }
}

// WithSubject overrides the sub claim.
func WithSubject(sub string) TokenOption {
	return func(o *tokenOptions) { o.claims["sub"] = sub }
}

// WithClaim sets an arbitrary claim.
func WithClaim(name string, value any) TokenOption {
	return func(o *tokenOptions) { o.claims[name] = value }
}

// WithoutClaim removes a claim, including the registered ones set by default.
func WithoutClaim(name string) TokenOption {
	return func(o *tokenOptions) { delete(o.claims, name) }
}

// WithKeyID overrides the kid header without changing the signing key.
// An empty kid removes the header.
func WithKeyID(kid string) TokenOption {
	return func(o *tokenOptions) { o.kid = kid }
}

// SignedBy signs the token with a key the issuer does not publish.
func SignedBy(key *rsa.PrivateKey) TokenOption {
	return func(o *tokenOptions) { o.signer = key }
}

// WithSigningMethod overrides the RSA signing method, e.g. RS512.
func WithSigningMethod(method jwt.SigningMethod) TokenOption {
	return func(o *tokenOptions) { o.method = method }
}

// Token mints a signed token for the default audience, valid for an hour.
func (iss *Issuer) Token(t testing.TB, opts ...TokenOption) string {
	t.Helper()

	iss.mu.RLock()
	kid := iss.current
	signer := iss.keys[kid]
	iss.mu.RUnlock()

	now := time.Now()
	o := &tokenOptions{
		claims: jwt.MapClaims{
			"iss": iss.URL(),
			"aud": DefaultAudience,
			"sub": "auth0|barista",
			"iat": now.Unix(),
			"exp": now.Add(time.Hour).Unix(),
		},
		kid:    kid,
		signer: signer,
		method: jwt.SigningMethodRS256,
	}
	for _, opt := range opts {
		opt(o)
	}

	token := jwt.NewWithClaims(o.method, o.claims)
	if o.kid != "" {
		token.Header["kid"] = o.kid
	}
	signed, err := token.SignedString(o.signer)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// BearerHeader mints a token and formats it as an Authorization header value.
func (iss *Issuer) BearerHeader(t testing.TB, opts ...TokenOption) string {
	t.Helper()
	return "Bearer " + iss.Token(t, opts...)
}

// GenerateKey returns a fresh RSA key that no issuer publishes.
func GenerateKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return key
}
