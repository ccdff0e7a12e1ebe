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

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// IssuerForDomain returns the issuer identifier for a tenant domain such as
// "example.eu.auth0.com". A value that already carries a scheme is kept as is.
// The issuer always ends in a slash, as Auth0 issues it.
func IssuerForDomain(domain string) string {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return ""
	}
	if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
		domain = "https://" + domain
	}
	if !strings.HasSuffix(domain, "/") {
		domain += "/"
	}
	return domain
}

// DefaultJWKSURL returns the well-known key set location for an issuer.
func DefaultJWKSURL(issuer string) string {
	if issuer == "" {
		return ""
	}
	return strings.TrimSuffix(issuer, "/") + "/.well-known/jwks.json"
}

// DiscoverJWKSURL resolves the issuer's jwks_uri through OpenID Connect
// discovery. The discovered issuer must match the configured one.
func DiscoverJWKSURL(ctx context.Context, client *http.Client, issuer string) (string, error) {
	if issuer == "" {
		return "", errors.New("issuer is required")
	}
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return "", &KeyFetchError{URL: issuer, Err: fmt.Errorf("oidc discovery failed: %w", err)}
	}

	var meta struct {
		Issuer  string `json:"issuer"`
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return "", &KeyFetchError{URL: issuer, Err: fmt.Errorf("invalid discovery metadata: %w", err)}
	}
	if meta.JwksURI == "" {
		return "", &KeyFetchError{URL: issuer, Err: errors.New("discovery metadata has no jwks_uri")}
	}
	return meta.JwksURI, nil
}
