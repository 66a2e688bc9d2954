// Package redis provides the Redis/Valkey backend for transaction records.
//
// Client manages the connection (standalone, sentinel or cluster, optional
// static password and TLS) and reconnects on demand with a rate limit. Store
// adapts any connection to transaction.Store, one string key per transaction.
package redis
