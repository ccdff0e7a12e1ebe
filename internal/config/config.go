package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/plindsay/coffeeshop/pkg/auth"
	"github.com/plindsay/coffeeshop/pkg/security"
)

// DefaultPath is the configuration file read when no path is given.
const DefaultPath = "config.yaml"

// Config holds the application configuration.
type Config struct {
	Server    ServerConfig             `yaml:"server"`
	Auth      AuthConfig               `yaml:"auth"`
	Database  DatabaseConfig           `yaml:"database"`
	Log       LogConfig                `yaml:"log"`
	Telemetry TelemetryConfig          `yaml:"telemetry"`
	Security  *security.SecurityConfig `yaml:"security"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host                    string        `yaml:"host"`
	Port                    int           `yaml:"port"`
	ReadTimeout             time.Duration `yaml:"readTimeout"`
	WriteTimeout            time.Duration `yaml:"writeTimeout"`
	IdleTimeout             time.Duration `yaml:"idleTimeout"`
	GracefulShutdownTimeout time.Duration `yaml:"gracefulShutdownTimeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AuthConfig identifies the token issuer and the API audience.
type AuthConfig struct {
	// Domain is the identity provider tenant, e.g. "coffee.eu.auth0.com".
	Domain string `yaml:"domain"`
	// Issuer overrides the issuer derived from Domain.
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
	// JWKSURL overrides the key set location. When empty the location is
	// discovered or derived from the issuer.
	JWKSURL            string        `yaml:"jwksURL"`
	Discovery          bool          `yaml:"discovery"`
	Algorithms         []string      `yaml:"algorithms"`
	Leeway             time.Duration `yaml:"leeway"`
	KeyCacheTTL        time.Duration `yaml:"keyCacheTTL"`
	KeyFetchTimeout    time.Duration `yaml:"keyFetchTimeout"`
	MinRefreshInterval time.Duration `yaml:"minRefreshInterval"`
}

// IssuerURL returns the configured issuer, or the one derived from Domain.
func (a AuthConfig) IssuerURL() string {
	if a.Issuer != "" {
		return a.Issuer
	}
	return auth.IssuerForDomain(a.Domain)
}

// DatabaseConfig configures the drinks store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
	// ResetOnStart drops the drinks table and seeds it at startup.
	ResetOnStart bool `yaml:"resetOnStart"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"addSource"`
}

// TelemetryConfig configures OTLP export. Export is off unless Enabled.
type TelemetryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ServiceName    string        `yaml:"serviceName"`
	ServiceVersion string        `yaml:"serviceVersion"`
	Environment    string        `yaml:"environment"`
	Endpoint       string        `yaml:"endpoint"`
	ExportInterval time.Duration `yaml:"exportInterval"`
	SampleRatio    float64       `yaml:"sampleRatio"`
}

// Default returns the configuration used before the file and environment are applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                    5000,
			ReadTimeout:             10 * time.Second,
			WriteTimeout:            10 * time.Second,
			IdleTimeout:             60 * time.Second,
			GracefulShutdownTimeout: 5 * time.Second,
		},
		Auth: AuthConfig{
			Audience:           "coffee",
			Discovery:          true,
			Algorithms:         []string{"RS256"},
			KeyCacheTTL:        time.Hour,
			KeyFetchTimeout:    5 * time.Second,
			MinRefreshInterval: 10 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "file:coffeeshop.db?_pragma=busy_timeout(5000)",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "coffeeshop",
			Environment:    "development",
			Endpoint:       "otel-collector:4317",
			ExportInterval: 10 * time.Second,
			SampleRatio:    1,
		},
		Security: security.DefaultSecurityConfig(),
	}
}

// Load reads the configuration file at path and applies environment
// overrides. An empty path reads config.yaml from the working directory when
// it exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.Security == nil {
		cfg.Security = security.DefaultSecurityConfig()
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if domain := os.Getenv("AUTH0_DOMAIN"); domain != "" {
		c.Auth.Domain = domain
	}
	if issuer := os.Getenv("AUTH_ISSUER"); issuer != "" {
		c.Auth.Issuer = issuer
	}
	if audience := os.Getenv("API_AUDIENCE"); audience != "" {
		c.Auth.Audience = audience
	}
	if jwksURL := os.Getenv("JWKS_URL"); jwksURL != "" {
		c.Auth.JWKSURL = jwksURL
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if port := os.Getenv("HTTP_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("HTTP_PORT: %w", err)
		}
		c.Server.Port = p
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		c.Telemetry.Endpoint = endpoint
		c.Telemetry.Enabled = true
	}
	if serviceName := os.Getenv("OTEL_SERVICE_NAME"); serviceName != "" {
		c.Telemetry.ServiceName = serviceName
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		c.Telemetry.Environment = env
	}
	return nil
}

// Validate reports every configuration problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.GracefulShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.gracefulShutdownTimeout must be positive"))
	}

	if c.Auth.IssuerURL() == "" {
		errs = append(errs, errors.New("auth.domain or auth.issuer is required (AUTH0_DOMAIN)"))
	}
	if c.Auth.Audience == "" {
		errs = append(errs, errors.New("auth.audience is required (API_AUDIENCE)"))
	}
	if len(c.Auth.Algorithms) == 0 {
		errs = append(errs, errors.New("auth.algorithms must name at least one algorithm"))
	}
	if c.Auth.Leeway < 0 {
		errs = append(errs, errors.New("auth.leeway must not be negative"))
	}
	if c.Auth.KeyCacheTTL <= 0 || c.Auth.KeyFetchTimeout <= 0 {
		errs = append(errs, errors.New("auth.keyCacheTTL and auth.keyFetchTimeout must be positive"))
	}

	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, errors.New("telemetry.sampleRatio must be between 0 and 1"))
	}

	return errors.Join(errs...)
}
