package conversion

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	outcomeCompleted = "completed"
	outcomeNoOutput  = "no_output"
	outcomeInvalid   = "invalid_input"
	outcomeFailed    = "failed"
)

type instruments struct {
	conversions metric.Int64Counter
	chunks      metric.Int64Counter
	duration    metric.Float64Histogram
}

func initMetrics() (*instruments, error) {
	meter := otel.Meter("github.com/loqalabs/loqa-vc/internal/conversion")
	conversions, err := meter.Int64Counter("loqa.vc.conversions",
		metric.WithDescription("Finished conversions by outcome"))
	if err != nil {
		return nil, err
	}
	chunks, err := meter.Int64Counter("loqa.vc.chunks",
		metric.WithDescription("Streamed audio chunks"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("loqa.vc.conversion.duration",
		metric.WithDescription("Wall time of a conversion"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &instruments{conversions: conversions, chunks: chunks, duration: duration}, nil
}

func (m *instruments) chunk(ctx context.Context, profile string) {
	if m == nil {
		return
	}
	m.chunks.Add(ctx, 1, metric.WithAttributes(attribute.String("profile", profile)))
}

func (m *instruments) finish(ctx context.Context, profile, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("profile", profile), attribute.String("outcome", outcome))
	m.conversions.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}
