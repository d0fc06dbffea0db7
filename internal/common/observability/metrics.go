package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Observability records per-stage pipeline measurements through OpenTelemetry.
// The zero value is usable and records nothing.
type Observability struct {
	meterProvider *metric.MeterProvider
	meter         otelmetric.Meter
	turnCounter   otelmetric.Int64Counter
	stageDuration otelmetric.Float64Histogram
	candidates    otelmetric.Int64Histogram
}

// New registers a Prometheus-backed meter provider named serviceName.
func New(serviceName string) (*Observability, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return &Observability{}, err
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	turnCounter, err := meter.Int64Counter(
		"dining.turns",
		otelmetric.WithDescription("Number of conversation turns processed"),
	)
	if err != nil {
		return &Observability{}, err
	}

	stageDuration, err := meter.Float64Histogram(
		"dining.stage.duration",
		otelmetric.WithDescription("Pipeline stage duration"),
		otelmetric.WithUnit("ms"),
	)
	if err != nil {
		return &Observability{}, err
	}

	candidates, err := meter.Int64Histogram(
		"dining.candidates",
		otelmetric.WithDescription("Candidates returned per turn"),
	)
	if err != nil {
		return &Observability{}, err
	}

	return &Observability{
		meterProvider: provider,
		meter:         meter,
		turnCounter:   turnCounter,
		stageDuration: stageDuration,
		candidates:    candidates,
	}, nil
}

func (o *Observability) RecordTurn(ctx context.Context, outcome string) {
	if o == nil || o.turnCounter == nil {
		return
	}
	o.turnCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

func (o *Observability) RecordStage(ctx context.Context, stage string, duration time.Duration, status string) {
	if o == nil || o.stageDuration == nil {
		return
	}
	o.stageDuration.Record(ctx, float64(duration.Microseconds())/1000, otelmetric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", status),
	))
}

func (o *Observability) RecordCandidates(ctx context.Context, n int) {
	if o == nil || o.candidates == nil {
		return
	}
	o.candidates.Record(ctx, int64(n))
}

func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil || o.meterProvider == nil {
		return nil
	}
	return o.meterProvider.Shutdown(ctx)
}
