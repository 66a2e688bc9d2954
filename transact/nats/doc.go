// Package nats backs transactions with NATS.
//
// Store keeps records in a JetStream key-value bucket; Notifier publishes
// events on the subject "<channel>.<event>", either as core NATS messages or,
// with WithJetStream, as acknowledged stream publishes.
package nats
