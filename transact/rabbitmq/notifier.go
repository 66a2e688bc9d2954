package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	constant "github.com/LerianStudio/lib-transact/transact/constants"
	"github.com/LerianStudio/lib-transact/transact/internal/nilcheck"
	"github.com/LerianStudio/lib-transact/transact/log"
	libOpentelemetry "github.com/LerianStudio/lib-transact/transact/opentelemetry"
	"github.com/LerianStudio/lib-transact/transact/transaction"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ChannelProvider opens channels for the notifier. *Connection implements it.
type ChannelProvider interface {
	Channel(ctx context.Context) (ConfirmableChannel, error)
}

// Notifier implements transaction.Notifier by publishing confirmed messages.
// The routing key is the transaction channel and the event name travels in the
// x-transact-event header and as the message type.
type Notifier struct {
	provider       ChannelProvider
	exchange       string
	mandatory      bool
	persistent     bool
	confirmTimeout time.Duration
	logger         log.Logger
	appID          string

	mu        sync.Mutex
	publisher *ConfirmablePublisher
}

var _ transaction.Notifier = (*Notifier)(nil)

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithExchange publishes to exchange. Empty uses the default exchange, where
// the routing key names the queue.
func WithExchange(exchange string) NotifierOption {
	return func(n *Notifier) {
		n.exchange = exchange
	}
}

// WithMandatory asks the broker to return unroutable messages.
func WithMandatory() NotifierOption {
	return func(n *Notifier) {
		n.mandatory = true
	}
}

// WithTransientDelivery publishes non-persistent messages.
func WithTransientDelivery() NotifierOption {
	return func(n *Notifier) {
		n.persistent = false
	}
}

// WithNotifierConfirmTimeout bounds the wait for each broker ack.
func WithNotifierConfirmTimeout(timeout time.Duration) NotifierOption {
	return func(n *Notifier) {
		if timeout > 0 {
			n.confirmTimeout = timeout
		}
	}
}

// WithNotifierLogger sets the logger.
func WithNotifierLogger(logger log.Logger) NotifierOption {
	return func(n *Notifier) {
		if !nilcheck.Interface(logger) {
			n.logger = logger
		}
	}
}

// WithAppID sets the AMQP app-id property.
func WithAppID(appID string) NotifierOption {
	return func(n *Notifier) {
		n.appID = appID
	}
}

// NewNotifier builds a Notifier. No channel is opened until the first Publish.
func NewNotifier(provider ChannelProvider, opts ...NotifierOption) (*Notifier, error) {
	if nilcheck.Interface(provider) {
		return nil, ErrNilConnection
	}

	n := &Notifier{
		provider:       provider,
		persistent:     true,
		confirmTimeout: DefaultConfirmTimeout,
		logger:         log.NewNop(),
		appID:          constant.TelemetrySDKName,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}

	return n, nil
}

// Publish implements transaction.Notifier.
func (n *Notifier) Publish(ctx context.Context, channel, event string, payload map[string]any) error {
	ctx, span := libOpentelemetry.Tracer("rabbitmq").Start(ctx, "rabbitmq.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String(constant.AttrMessagingSystem, constant.MessagingAMQP),
			attribute.String(constant.AttrMessagingDestination, channel),
			attribute.String(constant.AttrTransactionEvent, event),
		))
	defer span.End()

	msg, err := n.buildMessage(ctx, channel, event, payload)
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "failed to encode notification", err)

		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	pub, err := n.publisherLocked(ctx)
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "rabbitmq unavailable", err)

		return fmt.Errorf("rabbitmq publish: %w", err)
	}

	if err := pub.Publish(ctx, n.exchange, channel, n.mandatory, msg); err != nil {
		libOpentelemetry.HandleSpanError(&span, "failed to publish notification", err)

		return fmt.Errorf("rabbitmq publish: %w", err)
	}

	return nil
}

// Close closes the current publisher channel. The connection is left open.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.publisher == nil {
		return nil
	}

	err := n.publisher.Close()
	n.publisher = nil

	return err
}

func (n *Notifier) buildMessage(ctx context.Context, channel, event string, payload map[string]any) (amqp.Publishing, error) {
	if payload == nil {
		payload = map[string]any{}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("rabbitmq encode payload: %w", err)
	}

	base := map[string]any{
		constant.HeaderEvent:   event,
		constant.HeaderChannel: channel,
	}

	if id, ok := transaction.IDFromContext(ctx); ok {
		base[constant.HeaderTransactionID] = id
	}

	deliveryMode := amqp.Persistent
	if !n.persistent {
		deliveryMode = amqp.Transient
	}

	return amqp.Publishing{
		Headers:      amqp.Table(libOpentelemetry.PrepareQueueHeaders(ctx, base)),
		ContentType:  "application/json",
		DeliveryMode: deliveryMode,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Type:         event,
		AppId:        n.appID,
		Body:         body,
	}, nil
}

// publisherLocked returns the live publisher, replacing one whose channel closed.
func (n *Notifier) publisherLocked(ctx context.Context) (*ConfirmablePublisher, error) {
	if n.publisher != nil && !n.publisher.IsClosed() {
		return n.publisher, nil
	}

	if n.publisher != nil {
		n.logger.Log(ctx, log.LevelWarn, "rabbitmq publisher channel closed, reopening")
		n.publisher = nil
	}

	ch, err := n.provider.Channel(ctx)
	if err != nil {
		return nil, err
	}

	pub, err := NewConfirmablePublisher(ch,
		WithLogger(n.logger),
		WithConfirmTimeout(n.confirmTimeout),
	)
	if err != nil {
		_ = ch.Close()

		return nil, err
	}

	n.publisher = pub

	return pub, nil
}
