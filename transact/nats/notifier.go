package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	constant "github.com/LerianStudio/lib-transact/transact/constants"
	libOpentelemetry "github.com/LerianStudio/lib-transact/transact/opentelemetry"
	"github.com/LerianStudio/lib-transact/transact/transaction"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrInvalidSubject is returned when channel or event cannot form a subject.
var ErrInvalidSubject = errors.New("invalid nats subject")

// msgPublisher is the subset of *nats.Conn used for core publishes.
type msgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// streamPublisher is the subset of jetstream.JetStream used for acked publishes.
type streamPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Notifier implements transaction.Notifier on NATS subjects.
type Notifier struct {
	conn          msgPublisher
	js            streamPublisher
	subjectPrefix string
}

var _ transaction.Notifier = (*Notifier)(nil)

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier) error

// WithSubjectPrefix prepends prefix and a dot to every subject.
func WithSubjectPrefix(prefix string) NotifierOption {
	return func(n *Notifier) error {
		prefix = strings.Trim(prefix, ".")
		if prefix != "" && !validSubjectToken(prefix, true) {
			return fmt.Errorf("%w: prefix %q", ErrInvalidSubject, prefix)
		}

		n.subjectPrefix = prefix

		return nil
	}
}

// WithJetStream publishes through JetStream and waits for the stream's ack.
// A stream must capture the notifier's subjects.
func WithJetStream(js jetstream.JetStream) NotifierOption {
	return func(n *Notifier) error {
		if js == nil {
			return errors.New("jetstream context is nil")
		}

		n.js = js

		return nil
	}
}

// NewNotifier builds a Notifier on conn.
func NewNotifier(conn *nats.Conn, opts ...NotifierOption) (*Notifier, error) {
	if conn == nil {
		return nil, ErrNilConnection
	}

	return newNotifier(conn, opts...)
}

func newNotifier(conn msgPublisher, opts ...NotifierOption) (*Notifier, error) {
	n := &Notifier{conn: conn}

	for _, opt := range opts {
		if opt == nil {
			continue
		}

		if err := opt(n); err != nil {
			return nil, err
		}
	}

	return n, nil
}

// Subject returns the subject events for channel and event are published on.
func (n *Notifier) Subject(channel, event string) (string, error) {
	if !validSubjectToken(channel, true) {
		return "", fmt.Errorf("%w: channel %q", ErrInvalidSubject, channel)
	}

	if !validSubjectToken(event, false) {
		return "", fmt.Errorf("%w: event %q", ErrInvalidSubject, event)
	}

	subject := channel + "." + event
	if n.subjectPrefix != "" {
		subject = n.subjectPrefix + "." + subject
	}

	return subject, nil
}

// Publish implements transaction.Notifier.
func (n *Notifier) Publish(ctx context.Context, channel, event string, payload map[string]any) error {
	subject, err := n.Subject(channel, event)
	if err != nil {
		return err
	}

	ctx, span := libOpentelemetry.Tracer("nats").Start(ctx, "nats.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String(constant.AttrMessagingSystem, constant.MessagingNATS),
			attribute.String(constant.AttrMessagingDestination, subject),
			attribute.String(constant.AttrTransactionEvent, event),
		))
	defer span.End()

	msg, err := buildMsg(ctx, subject, channel, event, payload)
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "failed to encode notification", err)

		return err
	}

	if n.js != nil {
		if _, err := n.js.PublishMsg(ctx, msg); err != nil {
			libOpentelemetry.HandleSpanError(&span, "jetstream publish failed", err)

			return fmt.Errorf("jetstream publish: %w", err)
		}

		return nil
	}

	if err := n.conn.PublishMsg(msg); err != nil {
		libOpentelemetry.HandleSpanError(&span, "nats publish failed", err)

		return fmt.Errorf("nats publish: %w", err)
	}

	return nil
}

func buildMsg(ctx context.Context, subject, channel, event string, payload map[string]any) (*nats.Msg, error) {
	if payload == nil {
		payload = map[string]any{}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("nats encode payload: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = body

	msg.Header.Set(constant.HeaderEvent, event)
	msg.Header.Set(constant.HeaderChannel, channel)
	msg.Header.Set(nats.MsgIdHdr, uuid.NewString())

	if id, ok := transaction.IDFromContext(ctx); ok {
		msg.Header.Set(constant.HeaderTransactionID, id)
	}

	for k, v := range libOpentelemetry.InjectQueueTraceContext(ctx) {
		msg.Header.Set(k, v)
	}

	return msg, nil
}

// validSubjectToken rejects wildcards, whitespace and empty tokens. Dots are
// allowed only when multi is set.
func validSubjectToken(s string, multi bool) bool {
	if s == "" {
		return false
	}

	if strings.ContainsAny(s, " \t\r\n*>") {
		return false
	}

	if !multi {
		return !strings.Contains(s, ".")
	}

	for _, tok := range strings.Split(s, ".") {
		if tok == "" {
			return false
		}
	}

	return true
}
