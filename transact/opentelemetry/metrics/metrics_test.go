//go:build unit

package metrics

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LerianStudio/lib-transact/transact/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestFactory(t *testing.T) (*MetricsFactory, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	factory, err := NewMetricsFactory(mp.Meter("test"), log.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	return factory, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	require.NoError(t, reader.Collect(context.Background(), &rm))

	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}

	return nil
}

func sumFor(t *testing.T, m *metricdata.Metrics, key, value string) int64 {
	t.Helper()

	data, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum[int64], got %T", m.Data)

	var total int64

	for _, dp := range data.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			total += dp.Value
		}
	}

	return total
}

func TestNewMetricsFactoryNilMeter(t *testing.T) {
	f, err := NewMetricsFactory(nil, nil)
	require.ErrorIs(t, err, ErrNilMeter)
	assert.Nil(t, f)
}

func TestNopFactoryAcceptsRecords(t *testing.T) {
	f := NewNopFactory()
	ctx := context.Background()

	require.NoError(t, f.RecordStatusTransition(ctx, "queued"))
	require.NoError(t, f.RecordNotification(ctx, "status", false))
	require.NoError(t, f.RecordStoreFailure(ctx, "get"))
	require.NoError(t, f.RecordOperationDuration(ctx, "start", time.Millisecond))
}

func TestCounterIsCachedByName(t *testing.T) {
	f, _ := newTestFactory(t)

	first, err := f.Counter(MetricStatusTransitions)
	require.NoError(t, err)

	second, err := f.Counter(MetricStatusTransitions)
	require.NoError(t, err)

	assert.Equal(t, first.counter, second.counter)
}

func TestRecordStatusTransition(t *testing.T) {
	f, reader := newTestFactory(t)
	ctx := context.Background()

	require.NoError(t, f.RecordStatusTransition(ctx, "processing"))
	require.NoError(t, f.RecordStatusTransition(ctx, "processing"))
	require.NoError(t, f.RecordStatusTransition(ctx, "success"))

	m := findMetric(collect(t, reader), MetricStatusTransitions.Name)
	require.NotNil(t, m)
	assert.Equal(t, int64(2), sumFor(t, m, "status", "processing"))
	assert.Equal(t, int64(1), sumFor(t, m, "status", "success"))
}

func TestRecordNotificationResults(t *testing.T) {
	f, reader := newTestFactory(t)
	ctx := context.Background()

	require.NoError(t, f.RecordNotification(ctx, "status", false))
	require.NoError(t, f.RecordNotification(ctx, "status", true))
	require.NoError(t, f.RecordNotification(ctx, "status", true))

	m := findMetric(collect(t, reader), MetricNotifications.Name)
	require.NotNil(t, m)
	assert.Equal(t, int64(1), sumFor(t, m, "result", ResultOK))
	assert.Equal(t, int64(2), sumFor(t, m, "result", ResultError))
}

func TestRecordConnectionFailure(t *testing.T) {
	f, reader := newTestFactory(t)
	ctx := context.Background()

	require.NoError(t, f.RecordConnectionFailure(ctx, "redis", "connect"))
	require.NoError(t, f.RecordConnectionFailure(ctx, "redis", "reconnect"))
	require.NoError(t, f.RecordConnectionFailure(ctx, "nats", "connect"))

	m := findMetric(collect(t, reader), MetricConnectionFailures.Name)
	require.NotNil(t, m)
	assert.Equal(t, int64(2), sumFor(t, m, "backend", "redis"))
	assert.Equal(t, int64(1), sumFor(t, m, "backend", "nats"))
}

func TestLabelsAreTruncated(t *testing.T) {
	f, reader := newTestFactory(t)

	long := strings.Repeat("s", 100)
	require.NoError(t, f.RecordStatusTransition(context.Background(), long))

	m := findMetric(collect(t, reader), MetricStatusTransitions.Name)
	require.NotNil(t, m)
	assert.Equal(t, int64(1), sumFor(t, m, "status", long[:64]))
}

func TestHistogramRecords(t *testing.T) {
	f, reader := newTestFactory(t)

	require.NoError(t, f.RecordOperationDuration(context.Background(), "finish", 12*time.Millisecond))

	m := findMetric(collect(t, reader), MetricOperationDuration.Name)
	require.NotNil(t, m)

	data, ok := m.Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, data.DataPoints, 1)
	assert.Equal(t, uint64(1), data.DataPoints[0].Count)
	assert.Equal(t, int64(12), data.DataPoints[0].Sum)
}

func TestNilBuilders(t *testing.T) {
	var c *CounterBuilder

	var h *HistogramBuilder

	assert.ErrorIs(t, c.AddOne(context.Background()), ErrNilCounter)
	assert.ErrorIs(t, h.Record(context.Background(), 1), ErrNilHistogram)
}

func TestConcurrentCounterCreation(t *testing.T) {
	f, reader := newTestFactory(t)

	var wg sync.WaitGroup

	for range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_ = f.RecordStatusTransition(context.Background(), "queued")
		}()
	}

	wg.Wait()

	m := findMetric(collect(t, reader), MetricStatusTransitions.Name)
	require.NotNil(t, m)
	assert.Equal(t, int64(20), sumFor(t, m, "status", "queued"))
}
