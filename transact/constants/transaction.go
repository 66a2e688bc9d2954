package constant

// Wire names shared by the client, the notifiers and the HTTP handler.
const (
	// IDPrefix prefixes generated transaction ids.
	IDPrefix = "transact-"
	// StatusKey is the attribute key holding the status in the persisted record.
	StatusKey = "status"
	// MessageKey is the payload key holding the human-readable notification message.
	MessageKey = "message"
	// DefaultEvent is the notifier event name used when none is configured.
	DefaultEvent = "status"
	// MessageProcessing is the notification message sent by Start.
	MessageProcessing = "Processing"
	// MessageDone is the notification message sent by Finish.
	MessageDone = "Done"
)

// Message headers set by the broker-backed notifiers.
const (
	HeaderEvent         = "x-transact-event"
	HeaderChannel       = "x-transact-channel"
	HeaderTransactionID = "x-transact-id"
)

// HTTP headers read and written by the status API.
const (
	HeaderRequestID = "X-Request-Id"
	HeaderUserAgent = "User-Agent"
)
