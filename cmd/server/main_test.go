// Copyright 2025 Paddy Lindsay
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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/plindsay/coffeeshop/internal/config"
	"github.com/plindsay/coffeeshop/internal/log"
	"github.com/plindsay/coffeeshop/pkg/auth/authtest"
	"github.com/plindsay/coffeeshop/pkg/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(t *testing.T, iss *authtest.Issuer) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.Issuer = iss.URL()
	cfg.Database.DSN = ":memory:"
	cfg.Database.ResetOnStart = true
	cfg.Server.GracefulShutdownTimeout = 5 * time.Second
	cfg.Telemetry.Enabled = false
	return cfg
}

func testLogger() (*log.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return log.New(&log.Config{Output: &buf}), &buf
}

func TestRun(t *testing.T) {
	iss := authtest.NewIssuer(t)
	cfg := testConfig(t, iss)
	logger, logs := testLogger()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	baseURL := "http://" + lis.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, logger, cfg, runOptions{listener: lis})
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	t.Run("public menu", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/drinks")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body struct {
			Success bool `json:"success"`
			Drinks  []struct {
				Title string `json:"title"`
			} `json:"drinks"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.True(t, body.Success)
		require.Len(t, body.Drinks, 1)
		assert.Equal(t, "water", body.Drinks[0].Title)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	})

	t.Run("detail requires a token", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/drinks-detail")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("detail with token", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, baseURL+"/drinks-detail", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", iss.BearerHeader(t, authtest.WithPermissions("get:drinks")))

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not complete within timeout")
	}
	assert.Contains(t, logs.String(), "shutting down server")
	assert.Contains(t, logs.String(), iss.JWKSURL())
	assert.Contains(t, logs.String(), `"operation":"reset_database"`)
	assert.Contains(t, logs.String(), "operation completed")
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
	}{
		{
			name: "unreachable database",
			mutate: func(cfg *config.Config) {
				cfg.Database.DSN = filepath.Join(t.TempDir(), "missing", "drinks.db")
			},
		},
		{
			name: "telemetry without collector",
			mutate: func(cfg *config.Config) {
				cfg.Telemetry.Enabled = true
				cfg.Telemetry.Endpoint = ""
			},
		},
		{
			name: "invalid rate limit",
			mutate: func(cfg *config.Config) {
				cfg.Security.RateLimit.Enabled = true
				cfg.Security.RateLimit.RequestsPerSecond = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iss := authtest.NewIssuer(t)
			cfg := testConfig(t, iss)
			tt.mutate(cfg)
			logger, _ := testLogger()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := run(ctx, logger, cfg, runOptions{})
			assert.Error(t, err)
		})
	}
}

func TestResolveJWKSURL(t *testing.T) {
	iss := authtest.NewIssuer(t)
	logger, logs := testLogger()

	tests := []struct {
		name string
		cfg  config.AuthConfig
		want string
	}{
		{
			name: "explicit url wins",
			cfg:  config.AuthConfig{Issuer: iss.URL(), JWKSURL: "https://keys.example.com/jwks.json", Discovery: true},
			want: "https://keys.example.com/jwks.json",
		},
		{
			name: "discovered from issuer",
			cfg:  config.AuthConfig{Issuer: iss.URL(), Discovery: true, KeyFetchTimeout: time.Second},
			want: iss.JWKSURL(),
		},
		{
			name: "well-known path without discovery",
			cfg:  config.AuthConfig{Domain: "coffee.eu.auth0.com"},
			want: "https://coffee.eu.auth0.com/.well-known/jwks.json",
		},
		{
			name: "falls back when discovery fails",
			cfg:  config.AuthConfig{Issuer: "http://127.0.0.1:1/", Discovery: true, KeyFetchTimeout: time.Second},
			want: "http://127.0.0.1:1/.well-known/jwks.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveJWKSURL(context.Background(), logger, tt.cfg, &http.Client{Timeout: time.Second})
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Contains(t, logs.String(), "issuer discovery failed")
}

func TestNewVerifier_RecordsKeyFetches(t *testing.T) {
	iss := authtest.NewIssuer(t)
	logger, _ := testLogger()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := telemetry.NewMetricsHelperWithMeter(provider.Meter("test"))
	require.NoError(t, err)

	cfg := config.Default().Auth
	cfg.Issuer = iss.URL()
	cfg.JWKSURL = iss.JWKSURL()

	verifier, err := newVerifier(context.Background(), logger, cfg, metrics, nil)
	require.NoError(t, err)

	claims, err := verifier.Verify(context.Background(), iss.BearerHeader(t, authtest.WithPermissions("get:drinks")), "get:drinks")
	require.NoError(t, err)
	assert.Equal(t, "auth0|barista", claims.Subject)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var found bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "external_call_duration" {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[float64])
			require.True(t, ok)
			require.Len(t, hist.DataPoints, 1)
			assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
			found = true
		}
	}
	assert.True(t, found, "external_call_duration recorded")
}
