// Package mongo stores transaction records in a MongoDB collection.
//
// Client manages the driver connection: connect, ping, close, index creation
// and lazy reconnects spaced by a backoff gate. Store keeps one document per
// transaction, {_id: <id>, value: <json bytes>, updated_at: <time>}, and can
// expire stale records through a TTL index on updated_at.
package mongo
