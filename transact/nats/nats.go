package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	constant "github.com/LerianStudio/lib-transact/transact/constants"
	"github.com/LerianStudio/lib-transact/transact/log"
	libOpentelemetry "github.com/LerianStudio/lib-transact/transact/opentelemetry"
	"github.com/LerianStudio/lib-transact/transact/opentelemetry/metrics"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrNilConnection is returned when no NATS connection is supplied.
	ErrNilConnection = errors.New("nats connection is nil")
	// ErrConnectionClosed is returned when the connection was closed.
	ErrConnectionClosed = errors.New("nats connection closed")
)

// Config holds NATS connection settings.
type Config struct {
	// URL is the server URL, e.g. "nats://localhost:4222". Empty uses nats.DefaultURL.
	URL  string
	Name string

	Token    string `json:"-"`
	User     string
	Password string `json:"-"`

	// ReconnectWait is the delay between reconnect attempts.
	ReconnectWait time.Duration
	// MaxReconnects caps reconnect attempts; -1 retries forever.
	MaxReconnects  int
	ConnectTimeout time.Duration

	Logger         log.Logger
	MetricsFactory *metrics.MetricsFactory
}

// DefaultConfig returns the connection defaults.
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
	}
}

// Connect dials NATS. Reconnects after the first successful connect are
// handled by the client library and logged through cfg.Logger.
func Connect(ctx context.Context, cfg Config) (*nats.Conn, error) {
	cfg = withDefaults(cfg)
	logger := log.OrNop(cfg.Logger)

	ctx, span := libOpentelemetry.Tracer("nats").Start(ctx, "nats.connect")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrMessagingSystem, constant.MessagingNATS))

	logger.Log(ctx, log.LevelInfo, "connecting to nats", log.String("url", cfg.URL))

	conn, err := nats.Connect(cfg.URL, buildOptions(cfg, logger)...)
	if err != nil {
		recordConnectionFailure(ctx, cfg.MetricsFactory, logger)
		libOpentelemetry.HandleSpanError(&span, "Failed to connect to nats", err)

		return nil, fmt.Errorf("nats connect: %w", err)
	}

	logger.Log(ctx, log.LevelInfo, "connected to nats", log.String("server", conn.ConnectedUrlRedacted()))

	return conn, nil
}

func withDefaults(cfg Config) Config {
	defaults := DefaultConfig()

	if cfg.URL == "" {
		cfg.URL = defaults.URL
	}

	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = defaults.ReconnectWait
	}

	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = defaults.MaxReconnects
	}

	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}

	return cfg
}

func buildOptions(cfg Config, logger log.Logger) []nats.Option {
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Log(context.Background(), log.LevelWarn, "nats disconnected", log.Err(err))
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Log(context.Background(), log.LevelInfo, "nats reconnected",
				log.String("server", conn.ConnectedUrlRedacted()))
		}),
	}

	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	return opts
}

func recordConnectionFailure(ctx context.Context, factory *metrics.MetricsFactory, logger log.Logger) {
	if factory == nil {
		return
	}

	if err := factory.RecordConnectionFailure(ctx, constant.MessagingNATS, "connect"); err != nil {
		logger.Log(ctx, log.LevelWarn, "failed to record nats connection failure", log.Err(err))
	}
}
