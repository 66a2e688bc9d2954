package transaction

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/LerianStudio/lib-transact/transact/internal/nilcheck"
	"github.com/LerianStudio/lib-transact/transact/log"
	"github.com/LerianStudio/lib-transact/transact/opentelemetry/metrics"
	"go.opentelemetry.io/otel/trace"
)

// Config carries the collaborators of a Client. Build it once at bootstrap and
// pass it to New, or register it with SetDefaultConfig.
type Config struct {
	// Store persists records. Required.
	Store Store
	// Notifier publishes events after Start, Finish and Notify. Optional.
	Notifier *NotifierConfig
	// Logger defaults to a no-op logger.
	Logger log.Logger
	// MetricsFactory defaults to a no-op factory.
	MetricsFactory *metrics.MetricsFactory
	// TracerProvider defaults to the global otel provider.
	TracerProvider trace.TracerProvider
	// DefaultAttributes are merged over {status: queued} when a record is created.
	DefaultAttributes Attributes
	// Production limits error logs to the error type.
	Production bool
}

// Validate checks the required collaborators.
func (cfg Config) Validate() error {
	if nilcheck.Interface(cfg.Store) {
		return ErrNilStore
	}

	if cfg.Notifier != nil && nilcheck.Interface(cfg.Notifier.Notifier) {
		return ErrNilNotifier
	}

	if cfg.DefaultAttributes != nil {
		if _, err := EncodeAttributes(cfg.DefaultAttributes); err != nil {
			return fmt.Errorf("default attributes: %w", err)
		}
	}

	return nil
}

var defaultConfig atomic.Value // stores *Config

// SetDefaultConfig registers the process-wide configuration used by
// NewFromDefault. It is meant to be called once during bootstrap.
func SetDefaultConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	cfg.DefaultAttributes = cfg.DefaultAttributes.Clone()
	defaultConfig.Store(&cfg)

	return nil
}

// DefaultConfig returns the registered configuration, or ErrNotConfigured.
func DefaultConfig() (Config, error) {
	if v := defaultConfig.Load(); v != nil {
		if cfg, ok := v.(*Config); ok && cfg != nil {
			return *cfg, nil
		}
	}

	return Config{}, ErrNotConfigured
}

// NewFromDefault constructs a Client from the registered configuration.
func NewFromDefault(ctx context.Context, opts ...Option) (*Client, error) {
	cfg, err := DefaultConfig()
	if err != nil {
		return nil, err
	}

	return New(ctx, cfg, opts...)
}
