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

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plindsay/coffeeshop/internal/config"
)

var envVars = []string{
	"AUTH0_DOMAIN", "AUTH_ISSUER", "API_AUDIENCE", "JWKS_URL", "DATABASE_DSN", "HTTP_PORT",
	"LOG_LEVEL", "LOG_FORMAT", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SERVICE_NAME", "ENVIRONMENT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range envVars {
		t.Setenv(name, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: 8080
  gracefulShutdownTimeout: 15s
auth:
  domain: coffee.eu.auth0.com
  audience: drinks-api
  leeway: 30s
database:
  dsn: "file:test.db"
log:
  level: debug
telemetry:
  enabled: true
  serviceName: test-service
  endpoint: localhost:4317
security:
  rate_limit:
    enabled: true
    requests_per_second: 5
    burst_size: 10
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.GracefulShutdownTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout, "unset keys keep their defaults")
	assert.Equal(t, "coffee.eu.auth0.com", cfg.Auth.Domain)
	assert.Equal(t, "https://coffee.eu.auth0.com/", cfg.Auth.IssuerURL())
	assert.Equal(t, "drinks-api", cfg.Auth.Audience)
	assert.Equal(t, 30*time.Second, cfg.Auth.Leeway)
	assert.Equal(t, []string{"RS256"}, cfg.Auth.Algorithms)
	assert.Equal(t, "file:test.db", cfg.Database.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "test-service", cfg.Telemetry.ServiceName)

	require.NotNil(t, cfg.Security)
	assert.Equal(t, 5.0, cfg.Security.RateLimit.RequestsPerSecond)
	assert.Equal(t, 10, cfg.Security.RateLimit.BurstSize)
	require.NotNil(t, cfg.Security.CORS, "sections missing from the file keep their defaults")
	assert.True(t, cfg.Security.CORS.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, ":5000", cfg.Server.Addr())
	assert.Equal(t, "coffee", cfg.Auth.Audience)
	assert.True(t, cfg.Auth.Discovery)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.NotNil(t, cfg.Security)

	err = cfg.Validate()
	require.Error(t, err, "the issuer has no default")
	assert.Contains(t, err.Error(), "AUTH0_DOMAIN")
}

func TestLoad_ReadsConfigFromWorkingDirectory(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.DefaultPath), []byte("server:\n  port: 9000\n"), 0o600))
	t.Chdir(dir)

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoad_EmptyFile(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Server.Port)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	clearEnv(t)
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	_, err := config.Load(writeConfig(t, "server: [port"))
	assert.Error(t, err)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "auth:\n  domain: file.auth0.com\n")

	t.Setenv("AUTH0_DOMAIN", "env.auth0.com")
	t.Setenv("API_AUDIENCE", "espresso")
	t.Setenv("JWKS_URL", "https://keys.example/jwks.json")
	t.Setenv("DATABASE_DSN", ":memory:")
	t.Setenv("HTTP_PORT", "8081")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_SERVICE_NAME", "coffeeshop-test")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env.auth0.com", cfg.Auth.Domain)
	assert.Equal(t, "espresso", cfg.Auth.Audience)
	assert.Equal(t, "https://keys.example/jwks.json", cfg.Auth.JWKSURL)
	assert.Equal(t, ":memory:", cfg.Database.DSN)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "collector:4317", cfg.Telemetry.Endpoint)
	assert.Equal(t, "coffeeshop-test", cfg.Telemetry.ServiceName)
}

func TestLoad_InvalidPortFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_PORT", "five-thousand")

	_, err := config.Load(writeConfig(t, ""))
	assert.ErrorContains(t, err, "HTTP_PORT")
}

func TestAuthConfig_IssuerURL(t *testing.T) {
	assert.Equal(t, "https://coffee.auth0.com/", config.AuthConfig{Domain: "coffee.auth0.com"}.IssuerURL())
	assert.Equal(t, "https://issuer.example/", config.AuthConfig{
		Domain: "coffee.auth0.com",
		Issuer: "https://issuer.example/",
	}.IssuerURL())
	assert.Empty(t, config.AuthConfig{}.IssuerURL())
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		cfg := config.Default()
		cfg.Auth.Domain = "coffee.auth0.com"
		return cfg
	}

	tests := []struct {
		name        string
		mutate      func(*config.Config)
		errorSubstr string
	}{
		{name: "valid config", mutate: func(*config.Config) {}},
		{name: "port too low", mutate: func(c *config.Config) { c.Server.Port = 0 }, errorSubstr: "server.port"},
		{name: "port too high", mutate: func(c *config.Config) { c.Server.Port = 70000 }, errorSubstr: "server.port"},
		{name: "no shutdown timeout", mutate: func(c *config.Config) { c.Server.GracefulShutdownTimeout = 0 }, errorSubstr: "gracefulShutdownTimeout"},
		{name: "no issuer", mutate: func(c *config.Config) { c.Auth.Domain = "" }, errorSubstr: "auth.domain"},
		{name: "issuer without domain", mutate: func(c *config.Config) {
			c.Auth.Domain = ""
			c.Auth.Issuer = "https://issuer.example/"
		}},
		{name: "no audience", mutate: func(c *config.Config) { c.Auth.Audience = "" }, errorSubstr: "auth.audience"},
		{name: "no algorithms", mutate: func(c *config.Config) { c.Auth.Algorithms = nil }, errorSubstr: "auth.algorithms"},
		{name: "negative leeway", mutate: func(c *config.Config) { c.Auth.Leeway = -time.Second }, errorSubstr: "auth.leeway"},
		{name: "no key fetch timeout", mutate: func(c *config.Config) { c.Auth.KeyFetchTimeout = 0 }, errorSubstr: "keyFetchTimeout"},
		{name: "no dsn", mutate: func(c *config.Config) { c.Database.DSN = "" }, errorSubstr: "database.dsn"},
		{name: "bad log level", mutate: func(c *config.Config) { c.Log.Level = "loud" }, errorSubstr: "log.level"},
		{name: "bad log format", mutate: func(c *config.Config) { c.Log.Format = "xml" }, errorSubstr: "log.format"},
		{name: "telemetry without endpoint", mutate: func(c *config.Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Endpoint = ""
		}, errorSubstr: "telemetry.endpoint"},
		{name: "sample ratio out of range", mutate: func(c *config.Config) { c.Telemetry.SampleRatio = 2 }, errorSubstr: "sampleRatio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errorSubstr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errorSubstr)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Auth.Audience = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "auth.audience")
	assert.Contains(t, err.Error(), "auth.domain")
}
