package transaction

import (
	"context"

	constant "github.com/LerianStudio/lib-transact/transact/constants"
)

// Notifier publishes transaction events to an external pub/sub system.
type Notifier interface {
	Publish(ctx context.Context, channel, event string, payload map[string]any) error
}

// NotifierFunc adapts a function to the Notifier interface, so any client
// method with the right shape can be selected as the trigger.
type NotifierFunc func(ctx context.Context, channel, event string, payload map[string]any) error

// Publish calls f.
func (f NotifierFunc) Publish(ctx context.Context, channel, event string, payload map[string]any) error {
	return f(ctx, channel, event, payload)
}

// NotifierConfig selects the notifier and where events go.
type NotifierConfig struct {
	Notifier Notifier
	// Channel overrides the destination. Empty publishes on the transaction id.
	Channel string
	// Event overrides the event name. Empty uses "status".
	Event string
}

type idContextKey struct{}

// ContextWithID records the id of the transaction an event belongs to.
// Client.Notify sets it before calling the notifier.
func ContextWithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, idContextKey{}, id)
}

// IDFromContext returns the id stored by ContextWithID.
func IDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	id, ok := ctx.Value(idContextKey{}).(string)

	return id, ok && id != ""
}

func (n *NotifierConfig) channelFor(id string) string {
	if n.Channel != "" {
		return n.Channel
	}

	return id
}

func (n *NotifierConfig) event() string {
	if n.Event != "" {
		return n.Event
	}

	return constant.DefaultEvent
}
