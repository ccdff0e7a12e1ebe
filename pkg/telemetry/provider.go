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

// Package telemetry wires OpenTelemetry tracing and metrics for the drinks service.
//
// Providers export over OTLP gRPC to a collector. The helpers in this package
// record HTTP request spans and metrics from a gin middleware, database
// operation metrics from the drinks repository, and signing key fetches from
// the token verifier.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DefaultExportInterval is how often metrics are pushed to the collector.
const DefaultExportInterval = 10 * time.Second

// Config describes where telemetry is exported and how the service identifies itself.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint       string
	ExportInterval time.Duration
	// SampleRatio is the fraction of root traces kept. Zero or one samples everything.
	SampleRatio float64
}

// TracerProvider wraps the OpenTelemetry tracer provider with additional functionality.
type TracerProvider struct {
	*sdktrace.TracerProvider
}

// MeterProvider wraps the OpenTelemetry meter provider with additional functionality.
type MeterProvider struct {
	*sdkmetric.MeterProvider
}

// Providers holds the tracer and meter providers sharing one collector connection.
type Providers struct {
	Tracer *TracerProvider
	Meter  *MeterProvider
	conn   *grpc.ClientConn
}

// NewResource builds the resource that identifies this service in exported telemetry.
func NewResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	version := cfg.ServiceVersion
	if version == "" {
		version = "dev"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// Dial opens the gRPC client connection used by both OTLP exporters.
// The connection is established lazily on first export.
func Dial(endpoint string) (*grpc.ClientConn, error) {
	if endpoint == "" {
		return nil, errors.New("telemetry endpoint is required")
	}
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}
	return conn, nil
}

// NewTracerProvider creates a tracer provider exporting spans over conn.
//
// Spans are batched before export. Sampling is parent based so that a trace
// started by the frontend keeps its sampling decision.
func NewTracerProvider(ctx context.Context, conn *grpc.ClientConn, res *resource.Resource, sampleRatio float64) (*TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if sampleRatio > 0 && sampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(sampleRatio)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	return &TracerProvider{TracerProvider: tp}, nil
}

// NewMeterProvider creates a meter provider pushing metrics over conn every interval.
// Duration histograms use base-2 exponential aggregation.
func NewMeterProvider(ctx context.Context, conn *grpc.ClientConn, res *resource.Resource, interval time.Duration) (*MeterProvider, error) {
	exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	if interval <= 0 {
		interval = DefaultExportInterval
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
		sdkmetric.WithView(ExponentialHistogramView()),
	)
	return &MeterProvider{MeterProvider: mp}, nil
}

// ExponentialHistogramView maps every duration histogram (unit "s") onto a
// base-2 exponential histogram.
func ExponentialHistogramView() sdkmetric.View {
	return sdkmetric.NewView(
		sdkmetric.Instrument{Name: "*", Kind: sdkmetric.InstrumentKindHistogram, Unit: "s"},
		sdkmetric.Stream{Aggregation: sdkmetric.AggregationBase2ExponentialHistogram{
			MaxSize:  160,
			MaxScale: 20,
		}},
	)
}

// Setup creates both providers, installs them as the global providers and sets
// the W3C trace context and baggage propagators.
//
// Example:
//
//	providers, err := telemetry.Setup(ctx, telemetry.Config{ServiceName: "coffeeshop", Endpoint: "localhost:4317"})
//	if err != nil {
//		return err
//	}
//	defer providers.Shutdown(context.Background())
func Setup(ctx context.Context, cfg Config) (*Providers, error) {
	res, err := NewResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	conn, err := Dial(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	tp, err := NewTracerProvider(ctx, conn, res, cfg.SampleRatio)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	mp, err := NewMeterProvider(ctx, conn, res, cfg.ExportInterval)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = conn.Close()
		return nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Providers{Tracer: tp, Meter: mp, conn: conn}, nil
}

// Shutdown flushes pending telemetry and closes the collector connection.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.Tracer != nil {
		if err := p.Tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	if p.Meter != nil {
		if err := p.Meter.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("collector connection: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Tracer returns a tracer for the given name and options.
func (tp *TracerProvider) Tracer(name string, options ...trace.TracerOption) trace.Tracer {
	return tp.TracerProvider.Tracer(name, options...)
}

// Meter returns a meter for the given name and options.
func (mp *MeterProvider) Meter(name string, options ...metric.MeterOption) metric.Meter {
	return mp.MeterProvider.Meter(name, options...)
}
