package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/plindsay/coffeeshop/internal/config"
	"github.com/plindsay/coffeeshop/internal/database"
	"github.com/plindsay/coffeeshop/internal/drinks"
	"github.com/plindsay/coffeeshop/internal/log"
	httpserver "github.com/plindsay/coffeeshop/internal/server/http"
	"github.com/plindsay/coffeeshop/pkg/auth"
	"github.com/plindsay/coffeeshop/pkg/security"
	"github.com/plindsay/coffeeshop/pkg/telemetry"
)

// rateLimitMaxIdle is how long a client's limiter is kept after its last request.
const rateLimitMaxIdle = 10 * time.Minute

var (
	configPath = flag.String("config", "", "Path to the YAML configuration file (default ./config.yaml if present)")
	resetDB    = flag.Bool("reset-db", false, "Drop and recreate the drinks table, seeding a single drink")
)

// runOptions carries the command line switches that are not part of the configuration file.
type runOptions struct {
	resetDB bool
	// listener overrides the address in the server configuration.
	listener net.Listener
}

// main is the entry point of the coffeeshop service.
func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	// Canceled on Ctrl+C or SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger, cfg, runOptions{resetDB: *resetDB}); err != nil {
		logger.ErrorWithError(ctx, "server error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *log.Logger {
	return log.New(&log.Config{
		Level:          log.ParseLevel(cfg.Log.Level),
		Format:         cfg.Log.Format,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Environment:    cfg.Telemetry.Environment,
		AddSource:      cfg.Log.AddSource,
		Output:         os.Stdout,
	})
}

// run wires the service together and serves HTTP until ctx is canceled.
func run(ctx context.Context, logger *log.Logger, cfg *config.Config, opts runOptions) error {
	providers, err := initTelemetry(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.ErrorWithError(shutdownCtx, "failed to shut down telemetry", err)
		}
	}()

	db, err := database.New(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if opts.resetDB || cfg.Database.ResetOnStart {
		op := logger.StartOperation(ctx, "reset_database", "dsn", cfg.Database.DSN)
		if err := database.Reset(ctx, db); err != nil {
			op.Fail(ctx, err)
			return fmt.Errorf("failed to reset database: %w", err)
		}
		op.Complete(ctx)
	}

	serviceName := cfg.Telemetry.ServiceName
	metrics, err := telemetry.NewMetricsHelper(serviceName)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}
	tracing := telemetry.NewTracingHelper(serviceName)

	verifier, err := newVerifier(ctx, logger, cfg.Auth, metrics, tracing)
	if err != nil {
		return err
	}

	sm, err := security.NewSecurityMiddleware(cfg.Security)
	if err != nil {
		return fmt.Errorf("failed to configure security middleware: %w", err)
	}
	if storage, ok := sm.Storage().(*security.MemoryRateLimitStorage); ok {
		go func() {
			defer log.LogPanic(ctx, logger)
			storage.StartCleanup(ctx, time.Minute, rateLimitMaxIdle)
		}()
	}

	router, err := httpserver.NewRouter(httpserver.Dependencies{
		Logger:   logger,
		Drinks:   drinks.NewService(drinks.NewRepository(db, logger, metrics, drinks.WithTracing(tracing)), logger),
		Verifier: verifier,
		Security: sm,
		Tracing:  tracing,
		Metrics:  metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	srv := httpserver.NewServer(cfg.Server, router)
	lis := opts.listener
	if lis == nil {
		lis, err = net.Listen("tcp", srv.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "starting HTTP server", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}
	return nil
}

// newVerifier builds the token verifier backed by a caching key provider.
func newVerifier(ctx context.Context, logger *log.Logger, cfg config.AuthConfig, metrics *telemetry.MetricsHelper, tracing *telemetry.TracingHelper) (*auth.Verifier, error) {
	client := &http.Client{Timeout: cfg.KeyFetchTimeout}
	issuer := cfg.IssuerURL()
	jwksURL := resolveJWKSURL(ctx, logger, cfg, client)

	opts := []auth.KeyProviderOption{
		auth.WithHTTPClient(client),
		auth.WithCacheTTL(cfg.KeyCacheTTL),
		auth.WithFetchTimeout(cfg.KeyFetchTimeout),
		auth.WithKeyLogger(logger.Slog()),
	}
	if cfg.MinRefreshInterval > 0 {
		opts = append(opts, auth.WithMinRefreshInterval(cfg.MinRefreshInterval))
	}
	if tracing != nil {
		opts = append(opts, auth.WithKeyTracing(tracing))
	}
	if metrics != nil {
		opts = append(opts, auth.WithFetchObserver(func(ctx context.Context, url string, d time.Duration, err error) {
			status := strconv.Itoa(http.StatusOK)
			if err != nil {
				status = "error"
			}
			metrics.RecordExternalCall(ctx, d, "identity_provider", url, status)
		}))
	}

	verifier, err := auth.NewVerifier(
		auth.NewCachingKeyProvider(jwksURL, opts...),
		auth.Config{
			Issuer:     issuer,
			Audience:   cfg.Audience,
			Algorithms: cfg.Algorithms,
			Leeway:     cfg.Leeway,
		},
		logger.Slog(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token verifier: %w", err)
	}

	logger.Info(ctx, "token verification configured", "issuer", issuer, "audience", cfg.Audience, "jwks_url", jwksURL)
	return verifier, nil
}

// resolveJWKSURL picks the key set location: the configured URL, then the
// issuer's discovery document, then the well-known path under the issuer.
func resolveJWKSURL(ctx context.Context, logger *log.Logger, cfg config.AuthConfig, client *http.Client) string {
	if cfg.JWKSURL != "" {
		return cfg.JWKSURL
	}

	issuer := cfg.IssuerURL()
	if cfg.Discovery {
		discoverCtx, cancel := context.WithTimeout(ctx, cfg.KeyFetchTimeout)
		defer cancel()

		url, err := auth.DiscoverJWKSURL(discoverCtx, client, issuer)
		if err == nil {
			return url
		}
		logger.Warn(ctx, "issuer discovery failed, using the well-known key set location",
			"issuer", issuer, "error", err.Error())
	}
	return auth.DefaultJWKSURL(issuer)
}
