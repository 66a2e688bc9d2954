// Package opentelemetry provides the span and propagation helpers used by the
// transaction client and its backends.
//
// Queue helpers carry W3C trace context through AMQP tables and NATS headers so
// a notification can be correlated with the status change that produced it.
package opentelemetry
