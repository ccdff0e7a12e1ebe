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
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/plindsay/coffeeshop/pkg/telemetry"
)

// maxJWKSBytes bounds how much of the issuer response is read.
const maxJWKSBytes = 1 << 20

// SigningKeySet maps a key identifier (kid) to the issuer's public key.
// A fetched set is never mutated; refreshing replaces the whole set.
type SigningKeySet map[string]any

// Key returns the public key registered under kid.
func (s SigningKeySet) Key(kid string) (any, bool) {
	key, ok := s[kid]
	return key, ok
}

// SigningKeys lets a fixed SigningKeySet act as its own KeyProvider.
func (s SigningKeySet) SigningKeys(_ context.Context) (SigningKeySet, error) {
	return s, nil
}

// KeyProvider supplies the signing keys a Verifier checks tokens against.
type KeyProvider interface {
	SigningKeys(ctx context.Context) (SigningKeySet, error)
}

// refresher is implemented by providers that can bypass their cache when a
// token names a key id they have not seen yet.
type refresher interface {
	Refresh(ctx context.Context) (SigningKeySet, error)
}

// FetchSigningKeys downloads the JSON Web Key Set published at jwksURL and
// indexes its public signing keys by key id. Keys without a kid, keys meant
// for encryption, symmetric keys and keys of an unsupported type are skipped. The request is bounded by
// ctx and by the client's own timeout. Any failure is a *KeyFetchError.
func FetchSigningKeys(ctx context.Context, client *http.Client, jwksURL string) (SigningKeySet, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, &KeyFetchError{URL: jwksURL, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &KeyFetchError{URL: jwksURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &KeyFetchError{URL: jwksURL, StatusCode: resp.StatusCode}
	}

	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSBytes)).Decode(&doc); err != nil {
		return nil, &KeyFetchError{URL: jwksURL, Err: err}
	}

	keys := make(SigningKeySet, len(doc.Keys))
	for _, raw := range doc.Keys {
		var jwk jose.JSONWebKey
		if err := json.Unmarshal(raw, &jwk); err != nil {
			continue
		}
		if jwk.KeyID == "" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}
		public := jwk.Public()
		if public.Key == nil {
			continue
		}
		keys[jwk.KeyID] = public.Key
	}
	return keys, nil
}

// RemoteKeyProvider fetches the key set on every call.
type RemoteKeyProvider struct {
	URL    string
	Client *http.Client
}

// SigningKeys implements KeyProvider.
func (p *RemoteKeyProvider) SigningKeys(ctx context.Context) (SigningKeySet, error) {
	return FetchSigningKeys(ctx, p.Client, p.URL)
}

// CachingKeyProvider keeps the last fetched key set for a TTL and refetches
// when it goes stale or when a token names an unknown key id, so issuer key
// rotation is picked up without a restart. It is safe for concurrent use.
type CachingKeyProvider struct {
	url                string
	client             *http.Client
	ttl                time.Duration
	minRefreshInterval time.Duration
	fetchTimeout       time.Duration
	logger             *slog.Logger
	observer           FetchObserver
	tracing            *telemetry.TracingHelper
	now                func() time.Time

	mu        sync.RWMutex
	keys      SigningKeySet
	fetchedAt time.Time

	refreshMu sync.Mutex
}

// KeyProviderOption configures a CachingKeyProvider.
type KeyProviderOption func(*CachingKeyProvider)

// WithHTTPClient sets the client used to reach the issuer.
func WithHTTPClient(client *http.Client) KeyProviderOption {
	return func(p *CachingKeyProvider) { p.client = client }
}

// WithCacheTTL sets how long a fetched key set is served before refetching.
func WithCacheTTL(ttl time.Duration) KeyProviderOption {
	return func(p *CachingKeyProvider) { p.ttl = ttl }
}

// WithMinRefreshInterval limits how often an unknown kid may force a refetch.
func WithMinRefreshInterval(d time.Duration) KeyProviderOption {
	return func(p *CachingKeyProvider) { p.minRefreshInterval = d }
}

// WithFetchTimeout bounds a single fetch of the key set.
func WithFetchTimeout(d time.Duration) KeyProviderOption {
	return func(p *CachingKeyProvider) { p.fetchTimeout = d }
}

// WithKeyLogger sets the logger used to report refresh failures.
func WithKeyLogger(logger *slog.Logger) KeyProviderOption {
	return func(p *CachingKeyProvider) { p.logger = logger }
}

// FetchObserver is told about every fetch of the key set, successful or not.
type FetchObserver func(ctx context.Context, url string, duration time.Duration, err error)

// WithFetchObserver registers fn to be called after each fetch.
func WithFetchObserver(fn FetchObserver) KeyProviderOption {
	return func(p *CachingKeyProvider) { p.observer = fn }
}

// WithKeyTracing wraps every fetch of the key set in an HTTP client span.
func WithKeyTracing(tracing *telemetry.TracingHelper) KeyProviderOption {
	return func(p *CachingKeyProvider) { p.tracing = tracing }
}

// NewCachingKeyProvider creates a provider for the key set published at jwksURL.
func NewCachingKeyProvider(jwksURL string, opts ...KeyProviderOption) *CachingKeyProvider {
	p := &CachingKeyProvider{
		url:                jwksURL,
		client:             http.DefaultClient,
		ttl:                time.Hour,
		minRefreshInterval: 10 * time.Second,
		fetchTimeout:       5 * time.Second,
		logger:             slog.Default(),
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SigningKeys returns the cached key set, fetching it first if it is missing or stale.
func (p *CachingKeyProvider) SigningKeys(ctx context.Context) (SigningKeySet, error) {
	p.mu.RLock()
	keys, fetchedAt := p.keys, p.fetchedAt
	p.mu.RUnlock()

	if keys != nil && p.now().Sub(fetchedAt) < p.ttl {
		return keys, nil
	}
	return p.refresh(ctx, false)
}

// Refresh refetches the key set unless another refresh finished within the
// minimum refresh interval, in which case that result is reused.
func (p *CachingKeyProvider) Refresh(ctx context.Context) (SigningKeySet, error) {
	return p.refresh(ctx, true)
}

func (p *CachingKeyProvider) refresh(ctx context.Context, forced bool) (SigningKeySet, error) {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	p.mu.RLock()
	keys, fetchedAt := p.keys, p.fetchedAt
	p.mu.RUnlock()

	// Another caller may have refreshed while we waited for the lock.
	if keys != nil {
		age := p.now().Sub(fetchedAt)
		if (forced && age < p.minRefreshInterval) || (!forced && age < p.ttl) {
			return keys, nil
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	var span trace.Span
	if p.tracing != nil {
		fetchCtx, span = p.tracing.StartHTTPClientSpan(fetchCtx, http.MethodGet, p.url)
	}

	started := time.Now()
	fresh, err := FetchSigningKeys(fetchCtx, p.client, p.url)
	if p.observer != nil {
		p.observer(ctx, p.url, time.Since(started), err)
	}
	if span != nil {
		if err != nil {
			telemetry.RecordError(span, err, "fetch signing keys")
		} else {
			telemetry.AddSpanEvent(span, "signing keys refreshed", attribute.Int("key_count", len(fresh)))
		}
		span.End()
	}
	if err != nil {
		if keys != nil {
			p.logger.Warn("signing key refresh failed, serving cached keys",
				slog.String("jwks_url", p.url),
				slog.Any("error", err))
			return keys, nil
		}
		return nil, err
	}

	p.mu.Lock()
	p.keys = fresh
	p.fetchedAt = p.now()
	p.mu.Unlock()

	p.logger.Debug("signing keys refreshed",
		slog.String("jwks_url", p.url),
		slog.Int("key_count", len(fresh)))

	return fresh, nil
}

// Lookup returns the key for kid, refetching the key set once when kid is
// unknown. A nil key with a nil error means the issuer does not publish kid.
func (p *CachingKeyProvider) Lookup(ctx context.Context, kid string) (any, error) {
	return lookupKey(ctx, p, kid)
}

func lookupKey(ctx context.Context, provider KeyProvider, kid string) (any, error) {
	keys, err := provider.SigningKeys(ctx)
	if err != nil {
		return nil, err
	}
	if key, ok := keys.Key(kid); ok {
		return key, nil
	}

	r, ok := provider.(refresher)
	if !ok {
		return nil, nil
	}
	keys, err = r.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	key, _ := keys.Key(kid)
	return key, nil
}
