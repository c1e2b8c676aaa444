// Package metrics exports closure scan and ballot counters through
// OpenTelemetry.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "consentline"

// Scan mirrors one closure scan summary.
type Scan struct {
	Processed     int
	Transitions   int
	Notifications int
	Closures      int
	Skipped       int
	Failures      int
}

// Recorder is safe to use as a nil pointer; every method is then a no-op.
type Recorder struct {
	scans         metric.Int64Counter
	processed     metric.Int64Counter
	transitions   metric.Int64Counter
	notifications metric.Int64Counter
	closures      metric.Int64Counter
	skipped       metric.Int64Counter
	failures      metric.Int64Counter
	ballots       metric.Int64Counter
}

// New builds a recorder on mp, or on the global provider when mp is nil.
func New(mp metric.MeterProvider) (*Recorder, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	r := &Recorder{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&r.scans, "consentline.scan.runs", "Closure scans executed", "{scan}"},
		{&r.processed, "consentline.scan.decisions_processed", "Open decisions examined by closure scans", "{decision}"},
		{&r.transitions, "consentline.scan.transitions", "Stage transitions committed", "{transition}"},
		{&r.notifications, "consentline.scan.notifications", "Notification requests issued", "{notification}"},
		{&r.closures, "consentline.scan.closures", "Decisions closed", "{decision}"},
		{&r.skipped, "consentline.scan.skipped", "Decisions skipped after losing a concurrent write", "{decision}"},
		{&r.failures, "consentline.scan.failures", "Decisions that failed during a scan", "{decision}"},
		{&r.ballots, "consentline.ballots.recorded", "Ballots recorded", "{ballot}"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", c.name, err)
		}
		*c.dst = counter
	}
	return r, nil
}

func (r *Recorder) RecordScan(ctx context.Context, trigger string, s Scan) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("trigger", trigger))
	r.scans.Add(ctx, 1, attrs)
	r.processed.Add(ctx, int64(s.Processed), attrs)
	r.transitions.Add(ctx, int64(s.Transitions), attrs)
	r.notifications.Add(ctx, int64(s.Notifications), attrs)
	r.closures.Add(ctx, int64(s.Closures), attrs)
	r.skipped.Add(ctx, int64(s.Skipped), attrs)
	r.failures.Add(ctx, int64(s.Failures), attrs)
}

func (r *Recorder) RecordBallot(ctx context.Context, algorithm string, updated bool) {
	if r == nil {
		return
	}
	r.ballots.Add(ctx, 1, metric.WithAttributes(
		attribute.String("algorithm", algorithm),
		attribute.Bool("updated", updated),
	))
}

// ExportConfig configures OTLP export. An empty endpoint disables export.
type ExportConfig struct {
	Endpoint string
	Insecure bool
	Interval time.Duration
}

// Setup installs a global meter provider exporting over OTLP/gRPC and returns
// its shutdown func.
func Setup(ctx context.Context, cfg ExportConfig) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}
