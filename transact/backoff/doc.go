// Package backoff provides jittered exponential delays and a reconnect gate
// used by the backend connection managers.
//
// It is never applied to store or notifier operations: those fail fast and
// surface their errors to the caller.
package backoff
