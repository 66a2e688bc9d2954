package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/LerianStudio/lib-transact/transact/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// ErrNilMeter indicates that a nil OTEL meter was provided.
var ErrNilMeter = errors.New("metric meter cannot be nil")

// Metric describes an instrument.
type Metric struct {
	Name        string
	Description string
	Unit        string
	// Buckets applies to histograms only. Nil selects DefaultLatencyBuckets.
	Buckets []float64
}

// DefaultLatencyBuckets are histogram boundaries in milliseconds.
var DefaultLatencyBuckets = []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500}

// MetricsFactory creates and caches counters and histograms. It is safe for
// concurrent use.
type MetricsFactory struct {
	meter      metric.Meter
	counters   sync.Map // string -> metric.Int64Counter
	histograms sync.Map // string -> metric.Int64Histogram
	logger     log.Logger
}

// NewMetricsFactory creates a MetricsFactory over meter.
func NewMetricsFactory(meter metric.Meter, logger log.Logger) (*MetricsFactory, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}

	return &MetricsFactory{
		meter:  meter,
		logger: log.OrNop(logger),
	}, nil
}

// NewNopFactory returns a MetricsFactory backed by the OpenTelemetry no-op meter.
func NewNopFactory() *MetricsFactory {
	return &MetricsFactory{
		meter:  noop.NewMeterProvider().Meter("nop"),
		logger: log.NewNop(),
	}
}

// Counter creates or retrieves a counter and returns a builder for it.
func (f *MetricsFactory) Counter(m Metric) (*CounterBuilder, error) {
	counter, err := loadOrCreate(f, &f.counters, m.Name, func() (metric.Int64Counter, error) {
		return f.meter.Int64Counter(m.Name, counterOptions(m)...)
	})
	if err != nil {
		return nil, err
	}

	return &CounterBuilder{counter: counter, name: m.Name}, nil
}

// Histogram creates or retrieves a histogram and returns a builder for it.
func (f *MetricsFactory) Histogram(m Metric) (*HistogramBuilder, error) {
	if m.Buckets == nil {
		m.Buckets = DefaultLatencyBuckets
	}

	histogram, err := loadOrCreate(f, &f.histograms, m.Name, func() (metric.Int64Histogram, error) {
		return f.meter.Int64Histogram(m.Name, histogramOptions(m)...)
	})
	if err != nil {
		return nil, err
	}

	return &HistogramBuilder{histogram: histogram, name: m.Name}, nil
}

func loadOrCreate[T any](f *MetricsFactory, cache *sync.Map, name string, create func() (T, error)) (T, error) {
	var zero T

	if cached, ok := cache.Load(name); ok {
		if instrument, ok := cached.(T); ok {
			return instrument, nil
		}

		return zero, fmt.Errorf("instrument cache contains invalid type for %q", name)
	}

	instrument, err := create()
	if err != nil {
		f.logger.Log(context.Background(), log.LevelError, "failed to create metric instrument",
			log.String("metric_name", name), log.Err(err))

		return zero, fmt.Errorf("create instrument %q: %w", name, err)
	}

	actual, _ := cache.LoadOrStore(name, instrument)
	if stored, ok := actual.(T); ok {
		return stored, nil
	}

	return zero, fmt.Errorf("instrument cache contains invalid type for %q", name)
}

func counterOptions(m Metric) []metric.Int64CounterOption {
	var opts []metric.Int64CounterOption
	if m.Description != "" {
		opts = append(opts, metric.WithDescription(m.Description))
	}

	if m.Unit != "" {
		opts = append(opts, metric.WithUnit(m.Unit))
	}

	return opts
}

func histogramOptions(m Metric) []metric.Int64HistogramOption {
	var opts []metric.Int64HistogramOption
	if m.Description != "" {
		opts = append(opts, metric.WithDescription(m.Description))
	}

	if m.Unit != "" {
		opts = append(opts, metric.WithUnit(m.Unit))
	}

	if len(m.Buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(m.Buckets...))
	}

	return opts
}
