package transaction

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	constant "github.com/LerianStudio/lib-transact/transact/constants"
	"github.com/LerianStudio/lib-transact/transact/log"
	libOpentelemetry "github.com/LerianStudio/lib-transact/transact/opentelemetry"
	"github.com/LerianStudio/lib-transact/transact/opentelemetry/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = constant.TelemetrySDKName + "/transaction"

// Client is an in-memory view of one transaction record. The store is the
// durable owner; the view is only updated after a successful write and can go
// stale relative to other handles until Refresh.
//
// A Client serializes its own calls. Separate Clients on the same id do not
// coordinate.
type Client struct {
	mu sync.Mutex

	id         string
	attributes Attributes
	status     Status

	store      Store
	notifier   *NotifierConfig
	logger     log.Logger
	metrics    *metrics.MetricsFactory
	tracer     trace.Tracer
	production bool
}

// Option configures New.
type Option func(*clientOptions)

type clientOptions struct {
	id         string
	attributes any
	hasAttrs   bool
}

// WithID selects the transaction id. Without it a fresh id is generated.
func WithID(id string) Option {
	return func(o *clientOptions) {
		o.id = id
	}
}

// WithAttributes sets the initial attributes used when the record does not
// exist yet. They are ignored when the record is found in the store.
func WithAttributes(attrs any) Option {
	return func(o *clientOptions) {
		o.attributes = attrs
		o.hasAttrs = true
	}
}

// New loads the record for the selected id, or creates and persists it.
//
// A record that exists but cannot be decoded fails with ErrMalformedState and is
// left untouched.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o clientOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	var initial Attributes

	if o.hasAttrs {
		attrs, err := NormalizeAttributes(o.attributes)
		if err != nil {
			return nil, newError(ErrorInvalidArgument, o.id, "initial attributes rejected", err)
		}

		initial = attrs
	}

	id := o.id
	if id == "" {
		generated, err := NewID()
		if err != nil {
			return nil, err
		}

		id = generated
	}

	c := newClient(id, cfg)

	ctx, span := c.startSpan(ctx, "new")
	defer span.End()

	start := time.Now()
	defer c.observe(ctx, "new", start)

	attrs, err := c.load(ctx)

	switch {
	case err == nil:
		c.attributes = attrs
		c.status = attrs.Status()

		c.logger.Log(ctx, log.LevelDebug, "transaction loaded", log.String("status", c.status.String()))

		return c, nil
	case !errors.Is(err, ErrNotFound):
		libOpentelemetry.HandleSpanError(&span, "failed to load transaction", err)

		return nil, err
	}

	base := merge(Attributes{constant.StatusKey: StatusQueued.String()}, cfg.DefaultAttributes)

	if err := c.write(ctx, merge(base, initial)); err != nil {
		libOpentelemetry.HandleSpanError(&span, "failed to create transaction", err)

		return nil, err
	}

	c.logger.Log(ctx, log.LevelDebug, "transaction created", log.String("status", c.status.String()))

	return c, nil
}

func newClient(id string, cfg Config) *Client {
	factory := cfg.MetricsFactory
	if factory == nil {
		factory = metrics.NewNopFactory()
	}

	provider := cfg.TracerProvider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}

	notifier := cfg.Notifier
	if notifier != nil {
		copied := *notifier
		notifier = &copied
	}

	return &Client{
		id:         id,
		store:      cfg.Store,
		notifier:   notifier,
		logger:     log.OrNop(cfg.Logger).With(log.TransactionID(id)),
		metrics:    factory,
		tracer:     provider.Tracer(tracerName),
		production: cfg.Production,
	}
}

// ID returns the transaction id.
func (c *Client) ID() string {
	return c.id
}

// Status returns the current in-memory status. It is "" after Clear.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status
}

// Attributes returns a copy of the current in-memory attributes.
func (c *Client) Attributes() Attributes {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.attributes.Clone()
}

// Exists reports whether the in-memory view holds a record. It turns false after Clear.
func (c *Client) Exists() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.attributes != nil
}

// UpdateAttributes merges partial into the record and replaces the stored value.
// partial must be a mapping with string-like keys.
func (c *Client) UpdateAttributes(ctx context.Context, partial any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, span := c.startSpan(ctx, "update_attributes")
	defer span.End()

	defer c.observe(ctx, "update_attributes", time.Now())

	attrs, err := NormalizeAttributes(partial)
	if err != nil {
		err = newError(ErrorInvalidArgument, c.id, "attributes rejected", err)
		libOpentelemetry.HandleSpanError(&span, "invalid attributes", err)

		return err
	}

	if err := c.write(ctx, merge(c.attributes, attrs)); err != nil {
		libOpentelemetry.HandleSpanError(&span, "failed to update attributes", err)

		return err
	}

	return nil
}

// UpdateStatus sets the status. It accepts a Status, a string or a fmt.Stringer.
func (c *Client) UpdateStatus(ctx context.Context, status any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, span := c.startSpan(ctx, "update_status")
	defer span.End()

	defer c.observe(ctx, "update_status", time.Now())

	if err := c.setStatus(ctx, status); err != nil {
		libOpentelemetry.HandleSpanError(&span, "failed to update status", err)

		return err
	}

	return nil
}

// Start moves the transaction to processing and notifies.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, span := c.startSpan(ctx, "start")
	defer span.End()

	defer c.observe(ctx, "start", time.Now())

	if err := c.setStatus(ctx, StatusProcessing); err != nil {
		libOpentelemetry.HandleSpanError(&span, "failed to start transaction", err)

		return err
	}

	if err := c.notify(ctx, map[string]any{constant.MessageKey: constant.MessageProcessing}); err != nil {
		libOpentelemetry.HandleSpanError(&span, "failed to notify start", err)

		return err
	}

	return nil
}

// FinishOption configures Finish.
type FinishOption func(*finishOptions)

type finishOptions struct {
	status Status
	clear  bool
	data   map[string]any
}

// WithFinishStatus selects the final status. Defaults to StatusSuccess.
func WithFinishStatus(status Status) FinishOption {
	return func(o *finishOptions) {
		o.status = status
	}
}

// WithClear deletes the stored record after the final notification.
func WithClear() FinishOption {
	return func(o *finishOptions) {
		o.clear = true
	}
}

// WithData adds data to the final write and notification. A "status" key in
// data is ignored.
func WithData(data map[string]any) FinishOption {
	return func(o *finishOptions) {
		o.data = data
	}
}

// Finish persists the final status together with any extra data, notifies
// {message: "Done"} merged with the data, and optionally deletes the record.
//
// A clearing Finish leaves the in-memory view in place; only Clear resets it.
// When the notification fails the record is not deleted.
func (c *Client) Finish(ctx context.Context, opts ...FinishOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, span := c.startSpan(ctx, "finish")
	defer span.End()

	defer c.observe(ctx, "finish", time.Now())

	o := finishOptions{status: StatusSuccess}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	status, err := ParseStatus(o.status.String())
	if err != nil {
		err = newError(ErrorInvalidStatus, c.id, "finish status rejected", err)
		libOpentelemetry.HandleSpanError(&span, "invalid finish status", err)

		return err
	}

	data, err := NormalizeAttributes(orEmpty(o.data))
	if err != nil {
		err = newError(ErrorInvalidArgument, c.id, "finish data rejected", err)
		libOpentelemetry.HandleSpanError(&span, "invalid finish data", err)

		return err
	}

	delete(data, constant.StatusKey)

	partial := data.Clone()
	partial[constant.StatusKey] = status.String()

	if err := c.write(ctx, merge(c.attributes, partial)); err != nil {
		libOpentelemetry.HandleSpanError(&span, "failed to finish transaction", err)

		return err
	}

	payload := map[string]any{constant.MessageKey: constant.MessageDone}
	maps.Copy(payload, data)

	if err := c.notify(ctx, payload); err != nil {
		libOpentelemetry.HandleSpanError(&span, "failed to notify finish", err)

		return err
	}

	if !o.clear {
		return nil
	}

	if err := c.delete(ctx); err != nil {
		libOpentelemetry.HandleSpanError(&span, "failed to clear finished transaction", err)

		return err
	}

	return nil
}

// Clear deletes the stored record and resets the in-memory view. Clearing an
// absent record is not an error.
func (c *Client) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, span := c.startSpan(ctx, "clear")
	defer span.End()

	defer c.observe(ctx, "clear", time.Now())

	if err := c.delete(ctx); err != nil {
		libOpentelemetry.HandleSpanError(&span, "failed to clear transaction", err)

		return err
	}

	c.attributes = nil
	c.status = ""

	return nil
}

// Refresh replaces the in-memory view with the stored record. It fails with
// ErrExpired when the record is gone.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, span := c.startSpan(ctx, "refresh")
	defer span.End()

	defer c.observe(ctx, "refresh", time.Now())

	attrs, err := c.load(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			err = newError(ErrorExpired, c.id, "record no longer present", nil)
		}

		libOpentelemetry.HandleSpanError(&span, "failed to refresh transaction", err)

		return err
	}

	c.attributes = attrs
	c.status = attrs.Status()

	return nil
}

// Notify publishes payload with the current status injected. It is a no-op
// when no notifier is configured.
func (c *Client) Notify(ctx context.Context, payload map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.notify(ctx, payload)
}

func (c *Client) setStatus(ctx context.Context, v any) error {
	status, err := resolveStatus(v)
	if err != nil {
		return newError(ErrorInvalidStatus, c.id, "status rejected", err)
	}

	return c.write(ctx, merge(c.attributes, Attributes{constant.StatusKey: status.String()}))
}

// write validates next, replaces the stored record and only then commits next
// as the in-memory view.
func (c *Client) write(ctx context.Context, next Attributes) error {
	status, err := resolveStatus(next[constant.StatusKey])
	if err != nil {
		return newError(ErrorInvalidStatus, c.id, "status rejected", err)
	}

	next[constant.StatusKey] = status.String()

	data, err := EncodeAttributes(next)
	if err != nil {
		return newError(ErrorInvalidArgument, c.id, "record is not JSON-serializable", err)
	}

	if err := c.store.Set(ctx, c.id, data); err != nil {
		c.storeFailed(ctx, "set", err)

		return newError(ErrorStoreFailure, c.id, "store set", err)
	}

	previous := c.status
	c.attributes = next
	c.status = status

	if previous != status {
		c.recorded(ctx, "status transition", c.metrics.RecordStatusTransition(ctx, status.String()))
		c.logger.Log(ctx, log.LevelDebug, "transaction status changed",
			log.String("from", previous.String()), log.String("to", status.String()))
	}

	return nil
}

// load returns ErrNotFound unwrapped so callers can decide what absence means.
func (c *Client) load(ctx context.Context) (Attributes, error) {
	data, err := c.store.Get(ctx, c.id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}

		c.storeFailed(ctx, "get", err)

		return nil, newError(ErrorStoreFailure, c.id, "store get", err)
	}

	attrs, err := DecodeAttributes(data)
	if err != nil {
		c.logger.Log(ctx, log.LevelWarn, "stored transaction is malformed", log.Int("bytes", len(data)))

		return nil, newError(ErrorMalformedState, c.id, "stored record rejected", err)
	}

	return attrs, nil
}

func (c *Client) delete(ctx context.Context) error {
	if err := c.store.Delete(ctx, c.id); err != nil {
		c.storeFailed(ctx, "delete", err)

		return newError(ErrorStoreFailure, c.id, "store delete", err)
	}

	c.logger.Log(ctx, log.LevelDebug, "transaction record deleted")

	return nil
}

func (c *Client) notify(ctx context.Context, payload map[string]any) error {
	if c.notifier == nil {
		return nil
	}

	channel := c.notifier.channelFor(c.id)
	event := c.notifier.event()

	ctx, span := c.tracer.Start(ctx, "transaction.notify", trace.WithAttributes(
		attribute.String(constant.AttrTransactionID, c.id),
		attribute.String(constant.AttrMessagingDestination, channel),
		attribute.String(constant.AttrTransactionEvent, event),
	))
	defer span.End()

	message := make(map[string]any, len(payload)+1)
	maps.Copy(message, payload)
	message[constant.StatusKey] = c.status.String()

	if err := c.notifier.Notifier.Publish(ContextWithID(ctx, c.id), channel, event, message); err != nil {
		c.recorded(ctx, "notification", c.metrics.RecordNotification(ctx, event, true))

		log.SafeError(ctx, c.logger, "transaction notification failed", err, c.production)
		libOpentelemetry.HandleSpanError(&span, "failed to publish notification", err)

		return newError(ErrorNotifierFailure, c.id, "publish on "+channel, err)
	}

	c.recorded(ctx, "notification", c.metrics.RecordNotification(ctx, event, false))

	return nil
}

func (c *Client) storeFailed(ctx context.Context, operation string, err error) {
	c.recorded(ctx, "store failure", c.metrics.RecordStoreFailure(ctx, operation))

	log.SafeError(ctx, c.logger, "transaction store "+operation+" failed", err, c.production)
}

func (c *Client) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "transaction."+operation, trace.WithAttributes(
		attribute.String(constant.AttrTransactionID, c.id),
	))
}

func (c *Client) observe(ctx context.Context, operation string, start time.Time) {
	c.recorded(ctx, "operation duration", c.metrics.RecordOperationDuration(ctx, operation, time.Since(start)))
}

func (c *Client) recorded(ctx context.Context, metric string, err error) {
	if err != nil {
		c.logger.Log(ctx, log.LevelWarn, "error recording "+metric+" metric", log.Err(err))
	}
}

func orEmpty(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}

	return data
}
