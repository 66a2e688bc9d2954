package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/LerianStudio/lib-transact/transact/backoff"
	constant "github.com/LerianStudio/lib-transact/transact/constants"
	"github.com/LerianStudio/lib-transact/transact/log"
	libOpentelemetry "github.com/LerianStudio/lib-transact/transact/opentelemetry"
	"github.com/LerianStudio/lib-transact/transact/opentelemetry/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrNilConnection is returned when a method is called on a nil Connection.
	ErrNilConnection = errors.New("rabbitmq connection is nil")
	// ErrInvalidConfig indicates the provided rabbitmq configuration is invalid.
	ErrInvalidConfig = errors.New("invalid rabbitmq config")
	// ErrReconnectRateLimited is returned while a reconnect is held back after failures.
	ErrReconnectRateLimited = errors.New("rabbitmq reconnect rate-limited")
	// ErrConnectionClosed is returned after Close.
	ErrConnectionClosed = errors.New("rabbitmq connection closed")
)

const (
	reconnectBackoffBase = 500 * time.Millisecond
	reconnectBackoffCap  = 30 * time.Second
	defaultHeartbeat     = 10 * time.Second
)

// Config configures a Connection.
type Config struct {
	// URL is an amqp:// or amqps:// connection string. See BuildConnectionString.
	URL            string `json:"-"`
	Heartbeat      time.Duration
	Logger         log.Logger
	MetricsFactory *metrics.MetricsFactory
}

// Connection keeps a single AMQP connection and opens channels on it.
// A dropped connection is redialed lazily by the next Channel call.
type Connection struct {
	mu      sync.Mutex
	url     string
	config  amqp.Config
	logger  log.Logger
	metrics *metrics.MetricsFactory
	conn    *amqp.Connection
	gate    *backoff.Gate
	closed  bool

	dial func(url string, cfg amqp.Config) (*amqp.Connection, error)
}

// NewConnection validates cfg. It does not dial; call Connect or Channel.
func NewConnection(cfg Config) (*Connection, error) {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, sanitizeAMQPErr(err, raw))
	}

	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return nil, fmt.Errorf("%w: url scheme must be amqp or amqps", ErrInvalidConfig)
	}

	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	return &Connection{
		url: raw,
		config: amqp.Config{
			Heartbeat: heartbeat,
			Locale:    "en_US",
		},
		logger:  log.OrNop(cfg.Logger),
		metrics: cfg.MetricsFactory,
		gate:    backoff.NewGate(reconnectBackoffBase, reconnectBackoffCap),
		dial:    amqp.DialConfig,
	}, nil
}

// Connect dials the broker unless a live connection already exists.
func (c *Connection) Connect(ctx context.Context) error {
	if c == nil {
		return ErrNilConnection
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.ensureLocked(ctx, "connect")

	return err
}

// Channel opens a fresh channel, redialing first when the connection dropped.
// Redials after a failure are spaced by a jittered exponential delay.
func (c *Connection) Channel(ctx context.Context) (ConfirmableChannel, error) {
	if c == nil {
		return nil, ErrNilConnection
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.ensureLocked(ctx, "channel")
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		c.recordConnectionFailure(ctx, "channel")

		return nil, fmt.Errorf("rabbitmq open channel: %w", err)
	}

	return ch, nil
}

// IsConnected reports whether a live connection is held.
func (c *Connection) IsConnected() bool {
	if c == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn != nil && !c.conn.IsClosed()
}

// Close closes the connection. Channels opened from it close with it.
func (c *Connection) Close() error {
	if c == nil {
		return ErrNilConnection
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.closed = true
	c.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	if err := conn.Close(); err != nil {
		c.logger.Log(context.Background(), log.LevelWarn, "failed to close rabbitmq connection", log.Err(err))

		return fmt.Errorf("rabbitmq close: %w", err)
	}

	return nil
}

func (c *Connection) ensureLocked(ctx context.Context, operation string) (*amqp.Connection, error) {
	if c.closed {
		return nil, ErrConnectionClosed
	}

	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn, nil
	}

	if wait, ok := c.gate.Allow(); !ok {
		return nil, fmt.Errorf("%w: next attempt in %s", ErrReconnectRateLimited, wait)
	}

	c.gate.Begin()

	ctx, span := libOpentelemetry.Tracer("rabbitmq").Start(ctx, "rabbitmq.connect")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrMessagingSystem, constant.MessagingAMQP))

	c.logger.Log(ctx, log.LevelInfo, "connecting to rabbitmq")

	conn, err := c.dial(c.url, c.config)
	if err != nil {
		c.gate.Fail()
		c.recordConnectionFailure(ctx, operation)

		sanitized := newSanitizedError(err, c.url, "failed to connect to rabbitmq")

		c.logger.Log(ctx, log.LevelError, "failed to connect to rabbitmq",
			log.String("error_detail", sanitizeAMQPErr(err, c.url)),
			log.Int("consecutive_failures", c.gate.Failures()))
		libOpentelemetry.HandleSpanError(&span, "Failed to connect to rabbitmq", sanitized)

		return nil, sanitized
	}

	c.gate.Succeed()
	c.conn = conn

	c.logger.Log(ctx, log.LevelInfo, "connected to rabbitmq")

	return conn, nil
}

func (c *Connection) recordConnectionFailure(ctx context.Context, operation string) {
	if c.metrics == nil {
		return
	}

	if err := c.metrics.RecordConnectionFailure(ctx, constant.MessagingAMQP, operation); err != nil {
		c.logger.Log(ctx, log.LevelWarn, "failed to record rabbitmq connection failure", log.Err(err))
	}
}

// sanitizedError keeps the original error reachable through Unwrap while
// printing a message with credentials removed.
type sanitizedError struct {
	original error
	message  string
}

func (e *sanitizedError) Error() string { return e.message }

func (e *sanitizedError) Unwrap() error { return e.original }

func newSanitizedError(err error, connectionString, prefix string) error {
	return fmt.Errorf("%s: %w", prefix, &sanitizedError{
		original: err,
		message:  sanitizeAMQPErr(err, connectionString),
	})
}

func sanitizeAMQPErr(err error, connectionString string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	if connectionString == "" {
		return msg
	}

	ref, parseErr := url.Parse(connectionString)
	if parseErr != nil {
		return msg
	}

	redacted := ref.Redacted()
	msg = strings.ReplaceAll(msg, connectionString, redacted)
	msg = strings.ReplaceAll(msg, ref.String(), redacted)

	if ref.User != nil {
		if pass, ok := ref.User.Password(); ok && pass != "" {
			msg = strings.ReplaceAll(msg, pass, "xxxxx")
		}
	}

	return msg
}

// BuildConnectionString assembles an AMQP URL, escaping credentials and the
// vhost. An empty vhost selects the broker default "/".
func BuildConnectionString(protocol, user, pass, host, port, vhost string) string {
	u := &url.URL{Scheme: protocol}
	if user != "" || pass != "" {
		u.User = url.UserPassword(user, pass)
	}

	switch {
	case port != "":
		u.Host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":") && !strings.HasPrefix(host, "["):
		u.Host = "[" + host + "]"
	default:
		u.Host = host
	}

	if vhost != "" {
		// vhost names may contain '/', which must travel as %2F.
		escaped := strings.ReplaceAll(url.QueryEscape(vhost), "+", "%20")
		u.Path = "/" + vhost
		u.RawPath = "/" + escaped
	}

	return u.String()
}
