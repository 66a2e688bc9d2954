package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	constant "github.com/LerianStudio/lib-transact/transact/constants"
	"github.com/LerianStudio/lib-transact/transact/internal/nilcheck"
	libOpentelemetry "github.com/LerianStudio/lib-transact/transact/opentelemetry"
	"github.com/LerianStudio/lib-transact/transact/transaction"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ClientProvider hands out a connected redis client. *Client implements it.
type ClientProvider interface {
	ResolveClient(ctx context.Context) (redis.UniversalClient, error)
}

type staticProvider struct {
	client redis.UniversalClient
}

func (p staticProvider) ResolveClient(context.Context) (redis.UniversalClient, error) {
	return p.client, nil
}

// Store implements transaction.Store on Redis string keys.
type Store struct {
	provider ClientProvider
	prefix   string
	ttl      time.Duration
}

var _ transaction.Store = (*Store)(nil)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithKeyPrefix namespaces every key, e.g. "transact:".
func WithKeyPrefix(prefix string) StoreOption {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithTTL expires records that are not rewritten within ttl. Zero keeps them
// until deleted. An expired record makes Refresh fail with ErrExpired.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewStore builds a Store over a managed connection.
func NewStore(provider ClientProvider, opts ...StoreOption) (*Store, error) {
	if nilcheck.Interface(provider) {
		return nil, ErrNilClient
	}

	s := &Store{provider: provider}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s, nil
}

// NewStoreFromClient builds a Store over an existing go-redis client.
func NewStoreFromClient(client redis.UniversalClient, opts ...StoreOption) (*Store, error) {
	if nilcheck.Interface(client) {
		return nil, ErrNilClient
	}

	return NewStore(staticProvider{client: client}, opts...)
}

// Get implements transaction.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := s.startSpan(ctx, "redis.get")
	defer span.End()

	rdb, err := s.provider.ResolveClient(ctx)
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "redis unavailable", err)

		return nil, fmt.Errorf("redis get: %w", err)
	}

	value, err := rdb.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, transaction.ErrNotFound
		}

		libOpentelemetry.HandleSpanError(&span, "redis get failed", err)

		return nil, fmt.Errorf("redis get: %w", err)
	}

	return value, nil
}

// Set implements transaction.Store.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	ctx, span := s.startSpan(ctx, "redis.set")
	defer span.End()

	rdb, err := s.provider.ResolveClient(ctx)
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "redis unavailable", err)

		return fmt.Errorf("redis set: %w", err)
	}

	if err := rdb.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		libOpentelemetry.HandleSpanError(&span, "redis set failed", err)

		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete implements transaction.Store. DEL on a missing key returns 0, which
// is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, span := s.startSpan(ctx, "redis.delete")
	defer span.End()

	rdb, err := s.provider.ResolveClient(ctx)
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "redis unavailable", err)

		return fmt.Errorf("redis delete: %w", err)
	}

	if err := rdb.Del(ctx, s.key(key)).Err(); err != nil {
		libOpentelemetry.HandleSpanError(&span, "redis delete failed", err)

		return fmt.Errorf("redis delete: %w", err)
	}

	return nil
}

// Ping checks that the backing server answers.
func (s *Store) Ping(ctx context.Context) error {
	rdb, err := s.provider.ResolveClient(ctx)
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	return nil
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

func (s *Store) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return libOpentelemetry.Tracer("redis").Start(ctx, name, trace.WithAttributes(
		attribute.String(constant.AttrDBSystem, constant.DBSystemRedis),
	))
}
