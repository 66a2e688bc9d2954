// Package metrics provides a small fluent factory over OpenTelemetry metric
// instruments.
//
// Instruments are created lazily and cached by name, so callers can ask for the
// same counter on every operation. The transaction client records its status
// transitions, notification outcomes and operation latency through the helpers
// in transaction.go.
package metrics
