package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/tsarna/wsrelay/pkg/wsrelay/o11y"
)

type recordingUpDown struct {
	noop.Float64UpDownCounter
	deltas []float64
}

func (r *recordingUpDown) Add(_ context.Context, v float64, _ ...metric.AddOption) {
	r.deltas = append(r.deltas, v)
}

func TestGaugeSetsAbsoluteValues(t *testing.T) {
	rec := &recordingUpDown{}
	g := &otelGauge{gauge: rec, last: make(map[attribute.Distinct]float64)}
	ctx := context.Background()

	g.Set(ctx, 3)
	g.Set(ctx, 5)
	g.Set(ctx, 5)
	g.Set(ctx, 1)
	g.Set(ctx, 2, o11y.Label{Key: "k", Value: "v"})

	assert.Equal(t, []float64{3, 2, -4, 2}, rec.deltas)
}

func TestProviderWithNoopBackends(t *testing.T) {
	p := NewProviderFrom(noop.NewMeterProvider(), tracenoop.NewTracerProvider(), "wsrelay", "test")
	ctx := context.Background()

	assert.NotPanics(t, func() {
		p.Counter("c").Add(ctx, 1, o11y.Label{Key: "kind", Value: "text"})
		p.Histogram("h").Record(ctx, 1.5)
		p.Gauge("g").Set(ctx, 2)

		ctx, span := p.StartSpan(ctx, "session")
		assert.NotNil(t, ctx)
		span.SetAttributes(o11y.Label{Key: "conn_id", Value: "x"})
		span.SetStatus(o11y.SpanStatusError, "boom")
		span.End()
	})
}

func TestGlobalProvider(t *testing.T) {
	var _ o11y.MetricsProvider = NewProvider("wsrelay", "test")
	var _ o11y.TracingProvider = NewProvider("wsrelay", "test")
}
