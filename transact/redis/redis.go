package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/LerianStudio/lib-transact/transact/backoff"
	constant "github.com/LerianStudio/lib-transact/transact/constants"
	"github.com/LerianStudio/lib-transact/transact/internal/tlsconfig"
	"github.com/LerianStudio/lib-transact/transact/log"
	libOpentelemetry "github.com/LerianStudio/lib-transact/transact/opentelemetry"
	"github.com/LerianStudio/lib-transact/transact/opentelemetry/metrics"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrNilClient is returned when a redis client receiver is nil.
	ErrNilClient = errors.New("redis client is nil")
	// ErrInvalidConfig indicates the provided redis configuration is invalid.
	ErrInvalidConfig = errors.New("invalid redis config")
	// ErrReconnectRateLimited is returned by ResolveClient while a reconnect is held back.
	ErrReconnectRateLimited = errors.New("redis reconnect rate-limited")
)

const (
	reconnectBackoffBase = 500 * time.Millisecond
	reconnectBackoffCap  = 30 * time.Second

	defaultPoolSize     = 10
	maxPoolSize         = 1000
	defaultDialTimeout  = 5 * time.Second
	defaultIOTimeout    = 3 * time.Second
	defaultMaxRetries   = 3
	disabledRetries     = -1
	redactedPassword    = "REDACTED"
	connectionComponent = "redis"
)

// Mode selects how Addresses are interpreted.
type Mode string

const (
	// ModeStandalone dials the first address.
	ModeStandalone Mode = "standalone"
	// ModeSentinel asks the sentinels at Addresses for MasterName.
	ModeSentinel Mode = "sentinel"
	// ModeCluster treats Addresses as cluster seed nodes.
	ModeCluster Mode = "cluster"
)

// TLSConfig configures TLS validation for Redis connections.
type TLSConfig struct {
	CACertBase64 string
	MinVersion   uint16
}

// Config describes one Redis deployment. An empty Mode is inferred:
// sentinel when MasterName is set, standalone otherwise.
type Config struct {
	Addresses  []string
	Mode       Mode
	MasterName string
	Password   string `json:"-"`
	DB         int
	TLS        *TLSConfig

	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MaxRetries is the driver retry budget per command. Negative disables retries.
	MaxRetries int

	Logger         log.Logger
	MetricsFactory *metrics.MetricsFactory
}

// String redacts the password.
func (c Config) String() string {
	password := ""
	if c.Password != "" {
		password = redactedPassword
	}

	return fmt.Sprintf("redis.Config{Mode:%s Addresses:%v MasterName:%q DB:%d Password:%s TLS:%t}",
		c.Mode, c.Addresses, c.MasterName, c.DB, password, c.TLS != nil)
}

// GoString redacts the password for %#v.
func (c Config) GoString() string { return c.String() }

// Client owns a go-redis UniversalClient for a Store and redials it on demand.
type Client struct {
	mu      sync.RWMutex
	cfg     Config
	logger  log.Logger
	metrics *metrics.MetricsFactory
	rdb     redis.UniversalClient
	gate    *backoff.Gate
}

// New validates cfg, dials Redis and returns a ready client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	normalized, err := normalizeConfig(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     normalized,
		logger:  normalized.Logger,
		metrics: normalized.MetricsFactory,
		gate:    backoff.NewGate(reconnectBackoffBase, reconnectBackoffCap),
	}

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// Connect dials Redis, replacing any live connection.
func (c *Client) Connect(ctx context.Context) error {
	if c == nil {
		return ErrNilClient
	}

	ctx, span := libOpentelemetry.Tracer(connectionComponent).Start(ctx, "redis.connect")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemRedis))

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.dialLocked(ctx); err != nil {
		c.recordConnectionFailure(ctx, "connect")
		libOpentelemetry.HandleSpanError(&span, "Failed to connect to redis", err)

		return err
	}

	return nil
}

// ResolveClient returns the live client. After Close, or after the previous
// dial failed, it redials; redials following a failure are spaced by the
// reconnect gate and fail fast with ErrReconnectRateLimited inside the window.
func (c *Client) ResolveClient(ctx context.Context) (redis.UniversalClient, error) {
	if c == nil {
		return nil, ErrNilClient
	}

	c.mu.RLock()
	rdb := c.rdb
	c.mu.RUnlock()

	if rdb != nil {
		return rdb, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rdb != nil {
		return c.rdb, nil
	}

	if wait, ok := c.gate.Allow(); !ok {
		return nil, fmt.Errorf("%w: next attempt in %s", ErrReconnectRateLimited, wait)
	}

	c.gate.Begin()

	ctx, span := libOpentelemetry.Tracer(connectionComponent).Start(ctx, "redis.reconnect")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemRedis))

	if err := c.dialLocked(ctx); err != nil {
		c.gate.Fail()
		c.recordConnectionFailure(ctx, "reconnect")
		libOpentelemetry.HandleSpanError(&span, "Failed to reconnect redis", err)

		return nil, err
	}

	c.gate.Succeed()

	return c.rdb, nil
}

// Ping round-trips a PING, redialing first when needed.
func (c *Client) Ping(ctx context.Context) error {
	rdb, err := c.ResolveClient(ctx)
	if err != nil {
		return err
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	return nil
}

// Close releases the connection pool. A later ResolveClient redials.
func (c *Client) Close() error {
	if c == nil {
		return ErrNilClient
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rdb == nil {
		return nil
	}

	err := c.rdb.Close()
	c.rdb = nil

	if err != nil {
		return fmt.Errorf("redis close: %w", err)
	}

	return nil
}

// Connected reports whether a live connection is held.
func (c *Client) Connected() bool {
	if c == nil {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.rdb != nil
}

func (c *Client) dialLocked(ctx context.Context) error {
	if c.rdb != nil {
		if err := c.rdb.Close(); err != nil {
			c.logger.Log(ctx, log.LevelWarn, "closing previous redis connection failed", log.Err(err))
		}

		c.rdb = nil
	}

	opts, err := universalOptions(c.cfg)
	if err != nil {
		return err
	}

	rdb := newUniversalClient(c.cfg.Mode, opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()

		return fmt.Errorf("redis connect: ping: %w", err)
	}

	c.rdb = rdb

	c.logger.Log(ctx, log.LevelInfo, "connected to redis",
		log.String("mode", string(c.cfg.Mode)),
		log.Int("addresses", len(c.cfg.Addresses)),
		log.Bool("tls", c.cfg.TLS != nil))

	if c.cfg.TLS == nil {
		c.logger.Log(ctx, log.LevelWarn, "redis connection established without TLS")
	}

	return nil
}

func universalOptions(cfg Config) (*redis.UniversalOptions, error) {
	opts := &redis.UniversalOptions{
		Addrs:        cfg.Addresses,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
	}

	switch cfg.Mode {
	case ModeStandalone:
		opts.Addrs = cfg.Addresses[:1]
	case ModeSentinel:
		opts.MasterName = cfg.MasterName
	}

	if cfg.TLS != nil {
		tlsCfg, err := buildTLSConfig(*cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("redis TLS config: %w", err)
		}

		opts.TLSConfig = tlsCfg
	}

	return opts, nil
}

// newUniversalClient picks the client type from mode. NewUniversalClient alone
// would build a single-node client for a one-seed cluster.
func newUniversalClient(mode Mode, opts *redis.UniversalOptions) redis.UniversalClient {
	switch mode {
	case ModeCluster:
		return redis.NewClusterClient(opts.Cluster())
	case ModeSentinel:
		return redis.NewFailoverClient(opts.Failover())
	default:
		return redis.NewClient(opts.Simple())
	}
}

func normalizeConfig(cfg Config) (Config, error) {
	cfg.Logger = log.OrNop(cfg.Logger)

	addresses := make([]string, 0, len(cfg.Addresses))

	for _, address := range cfg.Addresses {
		if address = strings.TrimSpace(address); address != "" {
			addresses = append(addresses, address)
		}
	}

	// go-redis dials localhost:6379 when no address is given.
	if len(addresses) == 0 {
		return Config{}, configError("at least one address is required")
	}

	cfg.Addresses = addresses
	cfg.MasterName = strings.TrimSpace(cfg.MasterName)

	if cfg.Mode == "" {
		cfg.Mode = ModeStandalone
		if cfg.MasterName != "" {
			cfg.Mode = ModeSentinel
		}
	}

	switch cfg.Mode {
	case ModeStandalone, ModeCluster:
	case ModeSentinel:
		if cfg.MasterName == "" {
			return Config{}, configError("sentinel mode requires a master name")
		}
	default:
		return Config{}, configError(fmt.Sprintf("unknown mode %q", cfg.Mode))
	}

	switch {
	case cfg.PoolSize <= 0:
		cfg.PoolSize = defaultPoolSize
	case cfg.PoolSize > maxPoolSize:
		cfg.PoolSize = maxPoolSize
	}

	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultIOTimeout
	}

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultIOTimeout
	}

	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = defaultMaxRetries
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = disabledRetries
	}

	if cfg.TLS != nil {
		tlsCfg := *cfg.TLS
		if strings.TrimSpace(tlsCfg.CACertBase64) == "" {
			return Config{}, configError("TLS requires a CA certificate")
		}

		tlsCfg.MinVersion = tlsconfig.Clamp(tlsCfg.MinVersion)
		cfg.TLS = &tlsCfg
	}

	return cfg, nil
}

func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	return tlsconfig.FromBase64CA(cfg.CACertBase64, cfg.MinVersion)
}

func (c *Client) recordConnectionFailure(ctx context.Context, operation string) {
	if c.metrics == nil {
		return
	}

	if err := c.metrics.RecordConnectionFailure(ctx, constant.DBSystemRedis, operation); err != nil {
		c.logger.Log(ctx, log.LevelWarn, "failed to record redis connection failure", log.Err(err))
	}
}

func configError(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}
