// Package http exposes transaction records over a read-only Fiber API.
//
// Observers that cannot subscribe to a notifier poll
// GET /v1/transactions/:id, which answers {"id", "status", "attributes"},
// 404 when the record is absent and 422 when the stored value is malformed.
// GET /health pings the configured dependencies.
//
// Errors are rendered through a single contract, ErrorResponse, by
// FiberErrorHandler.
package http
