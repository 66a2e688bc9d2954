package metrics

import (
	"context"
	"errors"

	constant "github.com/LerianStudio/lib-transact/transact/constants"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrNilCounter is returned when a counter builder has no instrument.
	ErrNilCounter = errors.New("counter instrument is nil")
	// ErrNilHistogram is returned when a histogram builder has no instrument.
	ErrNilHistogram = errors.New("histogram instrument is nil")
)

// CounterBuilder records counter increments with optional labels. Builders are
// immutable: WithLabels returns a new builder.
type CounterBuilder struct {
	counter metric.Int64Counter
	name    string
	attrs   []attribute.KeyValue
}

// WithLabels adds labels to the counter. Values are truncated to
// constant.MaxMetricLabelLength.
func (c *CounterBuilder) WithLabels(labels map[string]string) *CounterBuilder {
	return &CounterBuilder{
		counter: c.counter,
		name:    c.name,
		attrs:   appendLabels(c.attrs, labels),
	}
}

// Add records a counter increment.
func (c *CounterBuilder) Add(ctx context.Context, value int64) error {
	if c == nil || c.counter == nil {
		return ErrNilCounter
	}

	c.counter.Add(ctx, value, metric.WithAttributes(c.attrs...))

	return nil
}

// AddOne increments the counter by one.
func (c *CounterBuilder) AddOne(ctx context.Context) error {
	return c.Add(ctx, 1)
}

// HistogramBuilder records histogram values with optional labels.
type HistogramBuilder struct {
	histogram metric.Int64Histogram
	name      string
	attrs     []attribute.KeyValue
}

// WithLabels adds labels to the histogram.
func (h *HistogramBuilder) WithLabels(labels map[string]string) *HistogramBuilder {
	return &HistogramBuilder{
		histogram: h.histogram,
		name:      h.name,
		attrs:     appendLabels(h.attrs, labels),
	}
}

// Record records a histogram value.
func (h *HistogramBuilder) Record(ctx context.Context, value int64) error {
	if h == nil || h.histogram == nil {
		return ErrNilHistogram
	}

	h.histogram.Record(ctx, value, metric.WithAttributes(h.attrs...))

	return nil
}

func appendLabels(base []attribute.KeyValue, labels map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(base)+len(labels))
	attrs = append(attrs, base...)

	for key, value := range labels {
		attrs = append(attrs, attribute.String(key, constant.SanitizeMetricLabel(value)))
	}

	return attrs
}
