package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LerianStudio/lib-transact/transact/internal/nilcheck"
	"github.com/LerianStudio/lib-transact/transact/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher confirm errors.
var (
	ErrChannelRequired        = errors.New("rabbitmq channel is required")
	ErrPublisherRequired      = errors.New("confirmable publisher is required")
	ErrConfirmModeUnavailable = errors.New("channel does not support confirm mode")
	ErrPublishNacked          = errors.New("message was nacked by broker")
	ErrConfirmTimeout         = errors.New("confirmation timed out")
	ErrPublisherClosed        = errors.New("publisher is closed")
)

const (
	// DefaultConfirmTimeout bounds the wait for a broker ack.
	DefaultConfirmTimeout = 5 * time.Second

	// Must be >= the number of unconfirmed messages, which is one per publisher.
	confirmChannelBuffer = 16
)

// ConfirmableChannel is the subset of *amqp.Channel used for confirmed publishing.
type ConfirmableChannel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	PublishWithContext(
		ctx context.Context,
		exchange, key string,
		mandatory, immediate bool,
		msg amqp.Publishing,
	) error
	Close() error
}

// ConfirmablePublisher publishes on a channel in confirm mode and waits for the
// broker's ack before returning. Publishes are serialized so the next
// confirmation always belongs to the message just sent.
//
// A publisher whose channel closed stays closed; build a new one on a fresh
// channel.
type ConfirmablePublisher struct {
	ch             ConfirmableChannel
	confirms       chan amqp.Confirmation
	closedCh       chan struct{}
	closeOnce      sync.Once
	logger         log.Logger
	confirmTimeout time.Duration

	publishMu sync.Mutex
	mu        sync.RWMutex
	closed    bool
}

// PublisherOption configures a ConfirmablePublisher.
type PublisherOption func(*ConfirmablePublisher)

// WithLogger sets a structured logger for the publisher.
func WithLogger(logger log.Logger) PublisherOption {
	return func(pub *ConfirmablePublisher) {
		if !nilcheck.Interface(logger) {
			pub.logger = logger
		}
	}
}

// WithConfirmTimeout sets the timeout for waiting on broker confirmation.
// Non-positive values keep DefaultConfirmTimeout.
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(pub *ConfirmablePublisher) {
		if timeout > 0 {
			pub.confirmTimeout = timeout
		}
	}
}

// NewConfirmablePublisher puts ch into confirm mode and starts watching for
// its closure.
func NewConfirmablePublisher(ch ConfirmableChannel, opts ...PublisherOption) (*ConfirmablePublisher, error) {
	if nilcheck.Interface(ch) {
		return nil, ErrChannelRequired
	}

	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfirmModeUnavailable, err)
	}

	confirms := make(chan amqp.Confirmation, confirmChannelBuffer)
	ch.NotifyPublish(confirms)

	closeNotify := ch.NotifyClose(make(chan *amqp.Error, 1))

	pub := &ConfirmablePublisher{
		ch:             ch,
		confirms:       confirms,
		closedCh:       make(chan struct{}),
		logger:         log.NewNop(),
		confirmTimeout: DefaultConfirmTimeout,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(pub)
		}
	}

	go pub.watchClose(closeNotify)

	return pub, nil
}

func (pub *ConfirmablePublisher) watchClose(closeNotify <-chan *amqp.Error) {
	select {
	case amqpErr, ok := <-closeNotify:
		if ok && amqpErr != nil {
			pub.logger.Log(context.Background(), log.LevelWarn, "rabbitmq channel closed",
				log.Int("code", amqpErr.Code), log.String("reason", amqpErr.Reason))
		}

		pub.markClosed()
	case <-pub.closedCh:
	}
}

func (pub *ConfirmablePublisher) markClosed() {
	pub.mu.Lock()
	pub.closed = true
	pub.mu.Unlock()

	pub.closeOnce.Do(func() { close(pub.closedCh) })
}

// Publish sends msg and blocks until the broker acks it, nacks it, the
// confirm timeout passes, or ctx ends.
func (pub *ConfirmablePublisher) Publish(
	ctx context.Context,
	exchange, routingKey string,
	mandatory bool,
	msg amqp.Publishing,
) error {
	if pub == nil {
		return ErrPublisherRequired
	}

	pub.publishMu.Lock()
	defer pub.publishMu.Unlock()

	if pub.IsClosed() {
		return ErrPublisherClosed
	}

	if err := pub.ch.PublishWithContext(ctx, exchange, routingKey, mandatory, false, msg); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	err := waitForConfirm(ctx, pub.confirms, pub.closedCh, pub.confirmTimeout)
	if err != nil && isConfirmStreamCorrupted(err) {
		// A late confirmation would be read as the next message's.
		pub.invalidate()
	}

	return err
}

// IsClosed reports whether the publisher can no longer publish.
func (pub *ConfirmablePublisher) IsClosed() bool {
	if pub == nil {
		return true
	}

	pub.mu.RLock()
	defer pub.mu.RUnlock()

	return pub.closed
}

// Close closes the channel. It is safe to call more than once.
func (pub *ConfirmablePublisher) Close() error {
	if pub == nil {
		return ErrPublisherRequired
	}

	pub.publishMu.Lock()
	defer pub.publishMu.Unlock()

	if pub.IsClosed() {
		return nil
	}

	pub.markClosed()

	if err := pub.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("closing publisher channel: %w", err)
	}

	return nil
}

func (pub *ConfirmablePublisher) invalidate() {
	pub.markClosed()

	if err := pub.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		pub.logger.Log(context.Background(), log.LevelWarn, "failed to close rabbitmq channel", log.Err(err))
	}
}

func isConfirmStreamCorrupted(err error) bool {
	return errors.Is(err, ErrConfirmTimeout) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func waitForConfirm(
	ctx context.Context,
	confirms <-chan amqp.Confirmation,
	closedCh <-chan struct{},
	confirmTimeout time.Duration,
) error {
	timeout := time.NewTimer(confirmTimeout)
	defer timeout.Stop()

	select {
	case confirmed, ok := <-confirms:
		if !ok {
			return ErrPublisherClosed
		}

		if !confirmed.Ack {
			return fmt.Errorf("%w: delivery_tag=%d", ErrPublishNacked, confirmed.DeliveryTag)
		}

		return nil
	case <-closedCh:
		return ErrPublisherClosed
	case <-timeout.C:
		return ErrConfirmTimeout
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	}
}
