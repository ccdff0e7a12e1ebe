package main

import (
	"context"
	"fmt"

	"github.com/plindsay/coffeeshop/internal/config"
	"github.com/plindsay/coffeeshop/internal/log"
	"github.com/plindsay/coffeeshop/pkg/telemetry"
)

// initTelemetry installs the OTLP tracer and meter providers when telemetry is
// enabled. It returns nil providers otherwise, which are safe to shut down.
func initTelemetry(ctx context.Context, logger *log.Logger, cfg *config.Config) (*telemetry.Providers, error) {
	if !cfg.Telemetry.Enabled {
		logger.Info(ctx, "telemetry disabled")
		return nil, nil
	}

	providers, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Environment:    cfg.Telemetry.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		ExportInterval: cfg.Telemetry.ExportInterval,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger.Info(ctx, "telemetry enabled", "endpoint", cfg.Telemetry.Endpoint)
	return providers, nil
}
