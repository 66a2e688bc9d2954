package mongo

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/LerianStudio/lib-transact/transact/backoff"
	constant "github.com/LerianStudio/lib-transact/transact/constants"
	"github.com/LerianStudio/lib-transact/transact/internal/tlsconfig"
	"github.com/LerianStudio/lib-transact/transact/log"
	libOpentelemetry "github.com/LerianStudio/lib-transact/transact/opentelemetry"
	"github.com/LerianStudio/lib-transact/transact/opentelemetry/metrics"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultServerSelectionTimeout = 5 * time.Second
	defaultHeartbeatInterval      = 10 * time.Second
	maxMaxPoolSize                = 1000

	reconnectBackoffBase = time.Second
	reconnectBackoffCap  = 30 * time.Second
)

var (
	// ErrNilClient is returned when a *Client receiver is nil.
	ErrNilClient = errors.New("mongo client is nil")
	// ErrClientClosed is returned when the client is not connected.
	ErrClientClosed = errors.New("mongo client is closed")
	// ErrInvalidConfig indicates the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid mongo config")
	// ErrConnect wraps connection establishment failures.
	ErrConnect = errors.New("mongo connect failed")
	// ErrPing wraps connectivity probe failures.
	ErrPing = errors.New("mongo ping failed")
	// ErrDisconnect wraps disconnection failures.
	ErrDisconnect = errors.New("mongo disconnect failed")
	// ErrCreateIndex wraps index creation failures.
	ErrCreateIndex = errors.New("mongo create index failed")
	// ErrReconnectRateLimited is returned while a reconnect is held back after failures.
	ErrReconnectRateLimited = errors.New("mongo reconnect rate-limited")
)

// TLSConfig configures TLS validation for MongoDB connections.
type TLSConfig struct {
	CACertBase64 string
	MinVersion   uint16
}

// Config defines MongoDB connection and pool behavior.
type Config struct {
	URI                    string `json:"-"`
	Database               string
	MaxPoolSize            uint64
	ServerSelectionTimeout time.Duration
	HeartbeatInterval      time.Duration
	TLS                    *TLSConfig
	Logger                 log.Logger
	MetricsFactory         *metrics.MetricsFactory
}

func (cfg Config) validate() error {
	if strings.TrimSpace(cfg.URI) == "" {
		return configError("uri is required")
	}

	if strings.TrimSpace(cfg.Database) == "" {
		return configError("database is required")
	}

	if cfg.TLS != nil && strings.TrimSpace(cfg.TLS.CACertBase64) == "" {
		return configError("TLS CA cert is required when TLS is configured")
	}

	return nil
}

// Option customizes driver hooks, mainly for tests.
type Option func(*clientDeps)

type clientDeps struct {
	connect     func(context.Context, *options.ClientOptions) (*mongo.Client, error)
	ping        func(context.Context, *mongo.Client) error
	disconnect  func(context.Context, *mongo.Client) error
	createIndex func(context.Context, *mongo.Client, string, string, mongo.IndexModel) error
}

func defaultDeps() clientDeps {
	return clientDeps{
		connect: func(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
			return mongo.Connect(ctx, opts)
		},
		ping: func(ctx context.Context, client *mongo.Client) error {
			return client.Ping(ctx, nil)
		},
		disconnect: func(ctx context.Context, client *mongo.Client) error {
			return client.Disconnect(ctx)
		},
		createIndex: func(ctx context.Context, client *mongo.Client, database, collection string, index mongo.IndexModel) error {
			_, err := client.Database(database).Collection(collection).Indexes().CreateOne(ctx, index)

			return err
		},
	}
}

// Client wraps a MongoDB client with lifecycle and index helpers.
type Client struct {
	mu       sync.RWMutex
	client   *mongo.Client
	database string
	uri      string
	cfg      Config
	logger   log.Logger
	metrics  *metrics.MetricsFactory
	deps     clientDeps
	gate     *backoff.Gate
	closed   bool
}

// NewClient validates cfg, connects, and returns a ready client.
func NewClient(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	cfg = normalizeConfig(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	deps := defaultDeps()

	for _, opt := range opts {
		if opt != nil {
			opt(&deps)
		}
	}

	c := &Client{
		database: cfg.Database,
		uri:      cfg.URI,
		cfg:      cfg,
		logger:   log.OrNop(cfg.Logger),
		metrics:  cfg.MetricsFactory,
		deps:     deps,
		gate:     backoff.NewGate(reconnectBackoffBase, reconnectBackoffCap),
	}

	c.cfg.URI = ""

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// Connect establishes a connection if one is not already open.
func (c *Client) Connect(ctx context.Context) error {
	if c == nil {
		return ErrNilClient
	}

	ctx, span := libOpentelemetry.Tracer("mongo").Start(ctx, "mongo.connect")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemMongoDB))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	c.closed = false

	if err := c.connectLocked(ctx); err != nil {
		c.recordConnectionFailure(ctx, "connect")
		libOpentelemetry.HandleSpanError(&span, "Failed to connect to mongo", err)

		return err
	}

	return nil
}

func (c *Client) connectLocked(ctx context.Context) error {
	clientOptions := options.Client().ApplyURI(c.uri)

	serverSelectionTimeout := c.cfg.ServerSelectionTimeout
	if serverSelectionTimeout <= 0 {
		serverSelectionTimeout = defaultServerSelectionTimeout
	}

	heartbeatInterval := c.cfg.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatInterval
	}

	clientOptions.SetServerSelectionTimeout(serverSelectionTimeout)
	clientOptions.SetHeartbeatInterval(heartbeatInterval)

	if c.cfg.MaxPoolSize > 0 {
		clientOptions.SetMaxPoolSize(c.cfg.MaxPoolSize)
	}

	if c.cfg.TLS != nil {
		tlsCfg, err := buildTLSConfig(*c.cfg.TLS)
		if err != nil {
			return fmt.Errorf("%w: TLS configuration: %w", ErrConnect, err)
		}

		clientOptions.SetTLSConfig(tlsCfg)
	}

	mongoClient, err := c.deps.connect(ctx, clientOptions)
	if err != nil {
		c.logger.Log(ctx, log.LevelError, "mongo connect failed", log.Err(err))

		return fmt.Errorf("%w: %w", ErrConnect, err)
	}

	if err := c.deps.ping(ctx, mongoClient); err != nil {
		if disconnectErr := c.deps.disconnect(ctx, mongoClient); disconnectErr != nil {
			c.logger.Log(ctx, log.LevelWarn, "failed to disconnect after ping failure", log.Err(disconnectErr))
		}

		c.logger.Log(ctx, log.LevelError, "mongo ping failed", log.Err(err))

		return fmt.Errorf("%w: %w", ErrPing, err)
	}

	c.client = mongoClient

	if c.cfg.TLS == nil && !isTLSImplied(c.uri) {
		c.logger.Log(ctx, log.LevelWarn, "mongo connection established without TLS")
	}

	return nil
}

// ResolveClient returns the connected driver client, reconnecting when an
// earlier connect failed. Reconnects after failures are spaced by a jittered
// exponential delay. After Close it returns ErrClientClosed until Connect is
// called again.
func (c *Client) ResolveClient(ctx context.Context) (*mongo.Client, error) {
	if c == nil {
		return nil, ErrNilClient
	}

	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client != nil {
		return client, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	if c.closed {
		return nil, ErrClientClosed
	}

	if wait, ok := c.gate.Allow(); !ok {
		return nil, fmt.Errorf("%w: next attempt in %s", ErrReconnectRateLimited, wait)
	}

	c.gate.Begin()

	ctx, span := libOpentelemetry.Tracer("mongo").Start(ctx, "mongo.resolve")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemMongoDB))

	if err := c.connectLocked(ctx); err != nil {
		c.gate.Fail()
		c.recordConnectionFailure(ctx, "resolve")
		libOpentelemetry.HandleSpanError(&span, "Failed to resolve mongo connection", err)

		return nil, err
	}

	c.gate.Succeed()

	return c.client, nil
}

// Database returns a handle on the configured database.
func (c *Client) Database(ctx context.Context) (*mongo.Database, error) {
	client, err := c.ResolveClient(ctx)
	if err != nil {
		return nil, err
	}

	return client.Database(c.database), nil
}

// DatabaseName returns the configured database name.
func (c *Client) DatabaseName() string {
	if c == nil {
		return ""
	}

	return c.database
}

// Ping checks MongoDB availability.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return ErrNilClient
	}

	ctx, span := libOpentelemetry.Tracer("mongo").Start(ctx, "mongo.ping")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemMongoDB))

	client, err := c.ResolveClient(ctx)
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to get mongo client for ping", err)

		return err
	}

	if err := c.deps.ping(ctx, client); err != nil {
		pingErr := fmt.Errorf("%w: %w", ErrPing, err)
		libOpentelemetry.HandleSpanError(&span, "Mongo ping failed", pingErr)

		return pingErr
	}

	return nil
}

// Close disconnects and marks the client closed; ResolveClient then refuses
// to redial. The client is closed even when the disconnect itself fails.
func (c *Client) Close(ctx context.Context) error {
	if c == nil {
		return ErrNilClient
	}

	c.mu.Lock()
	client := c.client
	c.client, c.closed = nil, true
	c.mu.Unlock()

	if client == nil {
		return nil
	}

	ctx, span := libOpentelemetry.Tracer("mongo").Start(ctx, "mongo.close")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemMongoDB))

	if err := c.deps.disconnect(ctx, client); err != nil {
		err = fmt.Errorf("%w: %w", ErrDisconnect, err)
		c.logger.Log(ctx, log.LevelWarn, "mongo disconnect failed", log.Err(err))
		libOpentelemetry.HandleSpanError(&span, "Mongo disconnect failed", err)

		return err
	}

	return nil
}

// EnsureIndexes creates indexes on collection in the configured database.
// The server ignores indexes that already exist with the same definition.
// A failing index does not stop the rest; all failures are joined.
func (c *Client) EnsureIndexes(ctx context.Context, collection string, indexes ...mongo.IndexModel) error {
	if c == nil {
		return ErrNilClient
	}

	collection = strings.TrimSpace(collection)
	if collection == "" {
		return configError("collection is required")
	}

	if len(indexes) == 0 {
		return nil
	}

	ctx, span := libOpentelemetry.Tracer("mongo").Start(ctx, "mongo.ensure_indexes")
	defer span.End()

	span.SetAttributes(
		attribute.String(constant.AttrDBSystem, constant.DBSystemMongoDB),
		attribute.String(constant.AttrDBCollection, collection),
		attribute.Int("db.mongodb.index_count", len(indexes)),
	)

	client, err := c.ResolveClient(ctx)
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "Mongo unavailable for index creation", err)

		return err
	}

	errs := make([]error, 0, len(indexes))

	for _, index := range indexes {
		errs = append(errs, c.ensureIndex(ctx, client, collection, index))
	}

	if err := errors.Join(errs...); err != nil {
		libOpentelemetry.HandleSpanError(&span, "Mongo index creation failed", err)

		return err
	}

	return nil
}

func (c *Client) ensureIndex(ctx context.Context, client *mongo.Client, collection string, index mongo.IndexModel) error {
	keys := indexKeysString(index.Keys)

	c.logger.Log(ctx, log.LevelDebug, "ensuring mongo index",
		log.String("collection", collection), log.String("keys", keys))

	if err := c.deps.createIndex(ctx, client, c.database, collection, index); err != nil {
		return fmt.Errorf("%w: %s(%s): %w", ErrCreateIndex, collection, keys, err)
	}

	return nil
}

func (c *Client) recordConnectionFailure(ctx context.Context, operation string) {
	if c.metrics == nil {
		return
	}

	if err := c.metrics.RecordConnectionFailure(ctx, constant.DBSystemMongoDB, operation); err != nil {
		c.logger.Log(ctx, log.LevelWarn, "failed to record mongo connection failure", log.Err(err))
	}
}

func normalizeConfig(cfg Config) Config {
	if cfg.MaxPoolSize > maxMaxPoolSize {
		cfg.MaxPoolSize = maxMaxPoolSize
	}

	if cfg.TLS != nil {
		tlsCopy := *cfg.TLS
		tlsCopy.MinVersion = tlsconfig.Clamp(tlsCopy.MinVersion)
		cfg.TLS = &tlsCopy
	}

	return cfg
}

func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	tlsCfg, err := tlsconfig.FromBase64CA(cfg.CACertBase64, cfg.MinVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return tlsCfg, nil
}

func isTLSImplied(uri string) bool {
	return strings.HasPrefix(uri, "mongodb+srv://") ||
		strings.Contains(uri, "tls=true") ||
		strings.Contains(uri, "ssl=true")
}

func configError(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}

func indexKeysString(keys any) string {
	switch k := keys.(type) {
	case bson.D:
		parts := make([]string, 0, len(k))
		for _, e := range k {
			parts = append(parts, e.Key)
		}

		return strings.Join(parts, ",")
	case bson.M:
		parts := make([]string, 0, len(k))
		for key := range k {
			parts = append(parts, key)
		}

		sort.Strings(parts)

		return strings.Join(parts, ",")
	default:
		return "<unknown>"
	}
}
