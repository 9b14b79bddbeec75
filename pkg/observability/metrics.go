package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the pipeline's instruments.
type Metrics struct {
	submissions   metric.Int64Counter
	decisions     metric.Int64Counter
	compensations metric.Int64Counter
	replays       metric.Int64Counter
	latency       metric.Float64Histogram
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("github.com/nuvalla/gateway")

	m := &Metrics{}
	var err error
	if m.submissions, err = meter.Int64Counter("gateway.submissions",
		metric.WithDescription("Tool call submissions")); err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	if m.decisions, err = meter.Int64Counter("gateway.decisions",
		metric.WithDescription("Policy decisions by state")); err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	if m.compensations, err = meter.Int64Counter("gateway.compensations",
		metric.WithDescription("Compensating undos executed")); err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	if m.replays, err = meter.Int64Counter("gateway.idempotent_replays",
		metric.WithDescription("Submissions answered from the ledger")); err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	if m.latency, err = meter.Float64Histogram("gateway.submit.duration",
		metric.WithDescription("Submit latency"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	return m, nil
}

// RecordSubmission counts one submission for a target system.
func (m *Metrics) RecordSubmission(ctx context.Context, targetSystem string) {
	if m == nil {
		return
	}
	m.submissions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("target_system", targetSystem)))
}

// RecordDecision counts one decision outcome.
func (m *Metrics) RecordDecision(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", state)))
}

// RecordCompensation counts one compensating undo.
func (m *Metrics) RecordCompensation(ctx context.Context, targetSystem string) {
	if m == nil {
		return
	}
	m.compensations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("target_system", targetSystem)))
}

// RecordReplay counts one idempotent replay.
func (m *Metrics) RecordReplay(ctx context.Context) {
	if m == nil {
		return
	}
	m.replays.Add(ctx, 1)
}

// RecordLatency records one submit duration.
func (m *Metrics) RecordLatency(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.Record(ctx, float64(d.Milliseconds()))
}
