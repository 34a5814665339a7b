package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the daemon's OTel metric instruments.
type Metrics struct {
	// Builds
	BuildTotal    metric.Int64Counter
	BuildDuration metric.Float64Histogram
	BuildErrors   metric.Int64Counter

	// Supervision
	InstanceRestarts   metric.Int64Counter
	InstanceCrashLoops metric.Int64Counter
	SupervisedCount    metric.Int64UpDownCounter
	ProbeFailures      metric.Int64Counter
	ProbeDuration      metric.Float64Histogram

	// Edge
	CertRenewals      metric.Int64Counter
	CertRenewalErrors metric.Int64Counter
	ProxyRetries      metric.Int64Counter

	// Events
	EventsProcessed metric.Int64Counter
	EventsDropped   metric.Int64Counter
}

// NewMetrics creates and registers all metric instruments. All fields are
// always initialized: OTel hands back noop instruments when no MeterProvider
// is set.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("aiastra")
	m := &Metrics{}
	var err error

	if m.BuildTotal, err = meter.Int64Counter("aiastra.build.total",
		metric.WithDescription("Total image builds")); err != nil {
		return nil, err
	}
	if m.BuildDuration, err = meter.Float64Histogram("aiastra.build.duration_seconds",
		metric.WithDescription("Image build duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(5, 15, 30, 60, 120, 300, 600, 1800)); err != nil {
		return nil, err
	}
	if m.BuildErrors, err = meter.Int64Counter("aiastra.build.errors",
		metric.WithDescription("Total build failures")); err != nil {
		return nil, err
	}
	if m.InstanceRestarts, err = meter.Int64Counter("aiastra.instance.restarts",
		metric.WithDescription("Total supervised restarts")); err != nil {
		return nil, err
	}
	if m.InstanceCrashLoops, err = meter.Int64Counter("aiastra.instance.crash_loops",
		metric.WithDescription("Total restart budget and flap trips")); err != nil {
		return nil, err
	}
	if m.SupervisedCount, err = meter.Int64UpDownCounter("aiastra.instance.supervised",
		metric.WithDescription("Currently supervised instances")); err != nil {
		return nil, err
	}
	if m.ProbeFailures, err = meter.Int64Counter("aiastra.probe.failures",
		metric.WithDescription("Total failed liveness probes")); err != nil {
		return nil, err
	}
	if m.ProbeDuration, err = meter.Float64Histogram("aiastra.probe.duration_seconds",
		metric.WithDescription("Probe round-trip in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2, 5)); err != nil {
		return nil, err
	}
	if m.CertRenewals, err = meter.Int64Counter("aiastra.cert.renewals",
		metric.WithDescription("Total certificate renewals")); err != nil {
		return nil, err
	}
	if m.CertRenewalErrors, err = meter.Int64Counter("aiastra.cert.renewal_errors",
		metric.WithDescription("Total failed certificate renewals")); err != nil {
		return nil, err
	}
	if m.ProxyRetries, err = meter.Int64Counter("aiastra.proxy.retries",
		metric.WithDescription("Total proxied requests that needed a retry")); err != nil {
		return nil, err
	}
	if m.EventsProcessed, err = meter.Int64Counter("aiastra.events.processed",
		metric.WithDescription("Total events processed")); err != nil {
		return nil, err
	}
	if m.EventsDropped, err = meter.Int64Counter("aiastra.events.dropped",
		metric.WithDescription("Total events dropped")); err != nil {
		return nil, err
	}

	return m, nil
}
