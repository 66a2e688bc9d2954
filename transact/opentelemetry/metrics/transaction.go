package metrics

import (
	"context"
	"time"

	constant "github.com/LerianStudio/lib-transact/transact/constants"
)

// Pre-configured transaction metrics.
var (
	MetricStatusTransitions = Metric{
		Name:        constant.MetricStatusTransitionsTotal,
		Unit:        "1",
		Description: "Number of transaction status changes, by resulting status.",
	}

	MetricNotifications = Metric{
		Name:        constant.MetricNotificationsTotal,
		Unit:        "1",
		Description: "Number of notifier publishes, by result.",
	}

	MetricStoreFailures = Metric{
		Name:        constant.MetricStoreFailuresTotal,
		Unit:        "1",
		Description: "Number of failed store operations, by operation.",
	}

	MetricConnectionFailures = Metric{
		Name:        constant.MetricConnectionFailures,
		Unit:        "1",
		Description: "Number of failed backend connection attempts, by backend and operation.",
	}

	MetricOperationDuration = Metric{
		Name:        "transaction_operation_duration_ms",
		Unit:        "ms",
		Description: "Latency of transaction client operations.",
	}
)

// Notification results used as the "result" label.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// RecordStatusTransition counts a persisted change to status.
func (f *MetricsFactory) RecordStatusTransition(ctx context.Context, status string) error {
	b, err := f.Counter(MetricStatusTransitions)
	if err != nil {
		return err
	}

	return b.WithLabels(map[string]string{"status": status}).AddOne(ctx)
}

// RecordNotification counts a notifier publish with its result.
func (f *MetricsFactory) RecordNotification(ctx context.Context, event string, failed bool) error {
	b, err := f.Counter(MetricNotifications)
	if err != nil {
		return err
	}

	result := ResultOK
	if failed {
		result = ResultError
	}

	return b.WithLabels(map[string]string{"result": result, "event": event}).AddOne(ctx)
}

// RecordStoreFailure counts a failed store operation ("get", "set", "delete").
func (f *MetricsFactory) RecordStoreFailure(ctx context.Context, operation string) error {
	b, err := f.Counter(MetricStoreFailures)
	if err != nil {
		return err
	}

	return b.WithLabels(map[string]string{"operation": operation}).AddOne(ctx)
}

// RecordConnectionFailure counts a failed dial or redial against backend
// ("redis", "mongodb", "nats", "rabbitmq").
func (f *MetricsFactory) RecordConnectionFailure(ctx context.Context, backend, operation string) error {
	b, err := f.Counter(MetricConnectionFailures)
	if err != nil {
		return err
	}

	return b.WithLabels(map[string]string{"backend": backend, "operation": operation}).AddOne(ctx)
}

// RecordOperationDuration records how long a client operation took.
func (f *MetricsFactory) RecordOperationDuration(ctx context.Context, operation string, elapsed time.Duration) error {
	b, err := f.Histogram(MetricOperationDuration)
	if err != nil {
		return err
	}

	return b.WithLabels(map[string]string{"operation": operation}).Record(ctx, elapsed.Milliseconds())
}
