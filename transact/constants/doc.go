// Package constant holds the shared names used across lib-transact: telemetry
// attribute keys, backend identifiers, and metric names.
package constant
