// Package transaction tracks the lifecycle of a named unit of asynchronous work
// as one JSON object per id in a shared key-value store.
//
// A Client loads (or creates) the record for an id, validates status changes
// against the closed set queued, processing, success and error, writes the whole
// record back on every change and, when a notifier is configured, publishes an
// event after the write.
//
//	client, err := transaction.New(ctx, transaction.Config{Store: store})
//	if err != nil {
//		return err
//	}
//
//	if err := client.Start(ctx); err != nil {
//		return err
//	}
//
//	// ... do the work ...
//
//	return client.Finish(ctx, transaction.WithData(map[string]any{"rows": 42}))
//
// There is no locking between handles: the last write to reach the store wins,
// and a handle only observes other writers after Refresh.
package transaction
