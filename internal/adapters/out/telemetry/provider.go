// Package telemetry provides OpenTelemetry initialization.
// It configures a metric provider that exports via OTLP/HTTP.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`   // OTLP HTTP endpoint, e.g. "http://localhost:4318"
	AuthToken string `mapstructure:"auth_token"` // Basic auth token (base64 encoded user:pass)
	Interval  int    `mapstructure:"interval"`   // export interval in seconds, default 30
}

// Provider holds the initialized OTel providers.
type Provider struct {
	MeterProvider *metric.MeterProvider
}

// NewProvider creates and configures an OTel meter provider.
// Returns a noop provider if telemetry is disabled.
// The returned shutdown function must be called on application exit.
func NewProvider(ctx context.Context, cfg Config, serviceName, version string) (*Provider, func(context.Context), error) {
	noop := func(context.Context) {}

	if !cfg.Enabled || cfg.Endpoint == "" {
		return &Provider{}, noop, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
		resource.WithOS(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, noop, fmt.Errorf("create resource: %w", err)
	}

	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, noop, fmt.Errorf("parse telemetry endpoint: %w", err)
	}

	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(u.Host),
	}
	if basePath := strings.TrimSuffix(u.Path, "/"); basePath != "" {
		opts = append(opts, otlpmetrichttp.WithURLPath(basePath+"/v1/metrics"))
	}
	if u.Scheme != "https" {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if cfg.AuthToken != "" {
		opts = append(opts, otlpmetrichttp.WithHeaders(map[string]string{
			"Authorization": "Basic " + cfg.AuthToken,
		}))
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, noop, fmt.Errorf("create metric exporter: %w", err)
	}

	interval := time.Duration(cfg.Interval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)

	shutdown := func(ctx context.Context) {
		_ = mp.Shutdown(ctx)
	}
	return &Provider{MeterProvider: mp}, shutdown, nil
}
