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

package auth_test

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/plindsay/coffeeshop/pkg/auth"
	"github.com/plindsay/coffeeshop/pkg/auth/authtest"
	"github.com/plindsay/coffeeshop/pkg/telemetry"
)

func serveJSON(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		switch b := body.(type) {
		case string:
			_, _ = w.Write([]byte(b))
		default:
			_ = json.NewEncoder(w).Encode(b)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchSigningKeys(t *testing.T) {
	iss := authtest.NewIssuer(t)

	keys, err := auth.FetchSigningKeys(context.Background(), http.DefaultClient, iss.JWKSURL())
	require.NoError(t, err)
	require.Len(t, keys, 1)

	key, ok := keys.Key(iss.KeyID())
	require.True(t, ok)
	assert.IsType(t, &rsa.PublicKey{}, key)
}

func TestFetchSigningKeys_SkipsUnusableKeys(t *testing.T) {
	signing := authtest.GenerateKey(t)
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: &signing.PublicKey, KeyID: "good", Use: "sig", Algorithm: "RS256"},
		{Key: &signing.PublicKey, KeyID: "no-use", Algorithm: "RS256"},
		{Key: &signing.PublicKey, KeyID: "enc", Use: "enc"},
		{Key: &signing.PublicKey, Use: "sig"},
		{Key: []byte("shared-secret-shared-secret-1234"), KeyID: "hmac", Use: "sig"},
	}}
	srv := serveJSON(t, http.StatusOK, set)

	keys, err := auth.FetchSigningKeys(context.Background(), nil, srv.URL)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
	assert.Contains(t, keys, "good")
	assert.Contains(t, keys, "no-use")
}

func TestFetchSigningKeys_SkipsUnsupportedKeyTypes(t *testing.T) {
	signing := authtest.GenerateKey(t)
	good, err := json.Marshal(jose.JSONWebKey{Key: &signing.PublicKey, KeyID: "good", Use: "sig", Algorithm: "RS256"})
	require.NoError(t, err)

	body := `{"keys":[` +
		`{"kty":"OKP","crv":"X448","kid":"future","x":"AAAA"},` +
		`{"kty":"unknown","kid":"odd"},` +
		string(good) + `]}`
	srv := serveJSON(t, http.StatusOK, body)

	keys, err := auth.FetchSigningKeys(context.Background(), nil, srv.URL)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
	assert.Contains(t, keys, "good")
}

func TestFetchSigningKeys_EmptySetIsValid(t *testing.T) {
	srv := serveJSON(t, http.StatusOK, `{"keys":[]}`)

	keys, err := auth.FetchSigningKeys(context.Background(), nil, srv.URL)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFetchSigningKeys_Failures(t *testing.T) {
	tests := []struct {
		name   string
		url    func(t *testing.T) string
		status int
	}{
		{
			name:   "non-2xx",
			url:    func(t *testing.T) string { return serveJSON(t, http.StatusServiceUnavailable, `{}`).URL },
			status: http.StatusServiceUnavailable,
		},
		{
			name: "malformed json",
			url:  func(t *testing.T) string { return serveJSON(t, http.StatusOK, `{"keys": [`).URL },
		},
		{
			name: "unreachable",
			url: func(t *testing.T) string {
				srv := httptest.NewServer(http.NotFoundHandler())
				srv.Close()
				return srv.URL
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := tt.url(t)
			keys, err := auth.FetchSigningKeys(context.Background(), nil, url)
			require.Error(t, err)
			assert.Nil(t, keys)

			var fetchErr *auth.KeyFetchError
			require.True(t, errors.As(err, &fetchErr))
			assert.Equal(t, url, fetchErr.URL)
			assert.Equal(t, tt.status, fetchErr.StatusCode)
		})
	}
}

func TestFetchSigningKeys_HonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := auth.FetchSigningKeys(ctx, nil, srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCachingKeyProvider_CachesWithinTTL(t *testing.T) {
	iss := authtest.NewIssuer(t)
	provider := auth.NewCachingKeyProvider(iss.JWKSURL(), auth.WithCacheTTL(time.Hour))
	ctx := context.Background()

	for range 5 {
		keys, err := provider.SigningKeys(ctx)
		require.NoError(t, err)
		assert.Len(t, keys, 1)
	}
	assert.EqualValues(t, 1, iss.Fetches())
}

func TestCachingKeyProvider_RefetchesWhenStale(t *testing.T) {
	iss := authtest.NewIssuer(t)
	provider := auth.NewCachingKeyProvider(iss.JWKSURL(), auth.WithCacheTTL(time.Nanosecond))
	ctx := context.Background()

	_, err := provider.SigningKeys(ctx)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = provider.SigningKeys(ctx)
	require.NoError(t, err)

	assert.EqualValues(t, 2, iss.Fetches())
}

func TestCachingKeyProvider_ServesStaleKeysWhenRefreshFails(t *testing.T) {
	iss := authtest.NewIssuer(t)
	provider := auth.NewCachingKeyProvider(iss.JWKSURL(), auth.WithCacheTTL(time.Nanosecond))
	ctx := context.Background()

	first, err := provider.SigningKeys(ctx)
	require.NoError(t, err)

	iss.SetFailing(true)
	time.Sleep(time.Millisecond)

	keys, err := provider.SigningKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, keys)
	assert.EqualValues(t, 2, iss.Fetches())
}

func TestCachingKeyProvider_FailsWithoutCachedKeys(t *testing.T) {
	iss := authtest.NewIssuer(t)
	iss.SetFailing(true)
	provider := auth.NewCachingKeyProvider(iss.JWKSURL())

	_, err := provider.SigningKeys(context.Background())
	var fetchErr *auth.KeyFetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, http.StatusInternalServerError, fetchErr.StatusCode)
}

func TestCachingKeyProvider_FetchObserver(t *testing.T) {
	iss := authtest.NewIssuer(t)

	var mu sync.Mutex
	var results []error
	provider := auth.NewCachingKeyProvider(iss.JWKSURL(),
		auth.WithCacheTTL(time.Nanosecond),
		auth.WithFetchObserver(func(_ context.Context, url string, d time.Duration, err error) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, iss.JWKSURL(), url)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			results = append(results, err)
		}))
	ctx := context.Background()

	_, err := provider.SigningKeys(ctx)
	require.NoError(t, err)

	iss.SetFailing(true)
	time.Sleep(time.Millisecond)
	_, err = provider.SigningKeys(ctx)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 2)
	assert.NoError(t, results[0])
	var fetchErr *auth.KeyFetchError
	assert.ErrorAs(t, results[1], &fetchErr)
}

func TestCachingKeyProvider_Lookup(t *testing.T) {
	iss := authtest.NewIssuer(t)
	provider := auth.NewCachingKeyProvider(iss.JWKSURL(), auth.WithMinRefreshInterval(0))
	ctx := context.Background()

	key, err := provider.Lookup(ctx, iss.KeyID())
	require.NoError(t, err)
	assert.NotNil(t, key)
	assert.EqualValues(t, 1, iss.Fetches())

	rotated := iss.Rotate(t)
	key, err = provider.Lookup(ctx, rotated)
	require.NoError(t, err)
	assert.NotNil(t, key)
	assert.EqualValues(t, 2, iss.Fetches())

	key, err = provider.Lookup(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, key)
	assert.EqualValues(t, 3, iss.Fetches())
}

func TestCachingKeyProvider_UnknownKidRefreshIsThrottled(t *testing.T) {
	iss := authtest.NewIssuer(t)
	provider := auth.NewCachingKeyProvider(iss.JWKSURL(), auth.WithMinRefreshInterval(time.Hour))
	ctx := context.Background()

	for range 3 {
		key, err := provider.Lookup(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, key)
	}
	assert.EqualValues(t, 1, iss.Fetches())
}

func TestCachingKeyProvider_ConcurrentUse(t *testing.T) {
	iss := authtest.NewIssuer(t)
	provider := auth.NewCachingKeyProvider(iss.JWKSURL())
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keys, err := provider.SigningKeys(ctx)
			assert.NoError(t, err)
			assert.Len(t, keys, 1)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, iss.Fetches())
}

func TestRemoteKeyProvider_FetchesEveryCall(t *testing.T) {
	iss := authtest.NewIssuer(t)
	provider := &auth.RemoteKeyProvider{URL: iss.JWKSURL()}

	for range 3 {
		_, err := provider.SigningKeys(context.Background())
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, iss.Fetches())
}

func TestCachingKeyProvider_Tracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracing := telemetry.NewTracingHelperWithProvider(tp, "auth-test")

	iss := authtest.NewIssuer(t)
	provider := auth.NewCachingKeyProvider(iss.JWKSURL(), auth.WithKeyTracing(tracing))
	_, err := provider.SigningKeys(context.Background())
	require.NoError(t, err)

	failing := authtest.NewIssuer(t)
	failing.SetFailing(true)
	_, err = auth.NewCachingKeyProvider(failing.JWKSURL(), auth.WithKeyTracing(tracing)).SigningKeys(context.Background())
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "GET "+iss.JWKSURL(), spans[0].Name())
	assert.Equal(t, trace.SpanKindClient, spans[0].SpanKind())
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "signing keys refreshed", spans[0].Events()[0].Name)
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
