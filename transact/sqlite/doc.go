// Package sqlite stores transaction records in a local SQLite database.
//
// It suits single-node deployments and tests that want durability without a
// server. Each record is one row keyed by transaction id; writes are upserts
// and deletes of missing rows succeed.
package sqlite
