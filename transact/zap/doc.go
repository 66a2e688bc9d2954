// Package zap adapts go.uber.org/zap to the lib-transact log.Logger interface.
//
// Log entries carry the active OpenTelemetry trace and span ids, and New tees
// every entry into the OpenTelemetry log bridge.
package zap
