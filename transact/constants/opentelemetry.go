package constant

// TelemetrySDKName identifies this library in OTEL instrumentation scopes.
const TelemetrySDKName = "lib-transact"

// MaxMetricLabelLength caps metric label values to keep cardinality bounded.
const MaxMetricLabelLength = 64

// Telemetry attribute keys.
const (
	// AttrDBSystem is the OTEL semantic convention key for the storage system name.
	AttrDBSystem = "db.system"
	// AttrDBCollection is the OTEL semantic convention key for the table or collection name.
	AttrDBCollection = "db.collection.name"
	// AttrMessagingSystem is the OTEL semantic convention key for the messaging system name.
	AttrMessagingSystem = "messaging.system"
	// AttrMessagingDestination is the OTEL semantic convention key for the publish destination.
	AttrMessagingDestination = "messaging.destination.name"
	// AttrTransactionID is the span attribute carrying the transaction id.
	AttrTransactionID = "transaction.id"
	// AttrTransactionStatus is the span attribute carrying the transaction status.
	AttrTransactionStatus = "transaction.status"
	// AttrTransactionEvent is the span attribute carrying the notifier event name.
	AttrTransactionEvent = "transaction.event"
)

// Storage and messaging system identifiers used as attribute values.
const (
	DBSystemRedis    = "redis"
	DBSystemMongoDB  = "mongodb"
	DBSystemSQLite   = "sqlite"
	DBSystemNATSKV   = "nats_kv"
	DBSystemMemory   = "memory"
	MessagingNATS    = "nats"
	MessagingAMQP    = "rabbitmq"
	MessagingUnknown = "custom"
)

// Metric names.
const (
	MetricStatusTransitionsTotal = "transaction_status_transitions_total"
	MetricNotificationsTotal     = "transaction_notifications_total"
	MetricStoreFailuresTotal     = "transaction_store_failures_total"
	MetricConnectionFailures     = "transaction_backend_connection_failures_total"
)

// SanitizeMetricLabel truncates a label value to MaxMetricLabelLength.
func SanitizeMetricLabel(value string) string {
	if len(value) > MaxMetricLabelLength {
		return value[:MaxMetricLabelLength]
	}

	return value
}
