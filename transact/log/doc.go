// Package log defines the logging interface used across lib-transact and its
// typed logging fields.
//
// Adapters (such as the zap package) implement Logger so the transaction client
// and the store/notifier backends log through one abstraction.
package log
