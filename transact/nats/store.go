package nats

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	constant "github.com/LerianStudio/lib-transact/transact/constants"
	libOpentelemetry "github.com/LerianStudio/lib-transact/transact/opentelemetry"
	"github.com/LerianStudio/lib-transact/transact/transaction"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultBucket is the key-value bucket used when none is configured.
	DefaultBucket = "transactions"

	defaultMaxValueSize = 1024 * 1024
	bucketSetupTimeout  = 10 * time.Second

	// encodedKeyMarker starts keys whose id had to be encoded. It is outside
	// the base64url alphabet, so encoded keys cannot collide with raw ones.
	encodedKeyMarker = "="
)

// keyValue is the subset of jetstream.KeyValue used by Store.
type keyValue interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
	Bucket() string
}

// StoreConfig configures the JetStream key-value bucket.
type StoreConfig struct {
	Bucket string
	// TTL expires records not rewritten within the window. It applies to the
	// whole bucket.
	TTL          time.Duration
	MaxValueSize int32
	// KeyPrefix namespaces keys inside a shared bucket. It must itself be a
	// valid key fragment, e.g. "billing.".
	KeyPrefix string
}

// Store implements transaction.Store on a JetStream key-value bucket.
type Store struct {
	kv     keyValue
	prefix string
}

var _ transaction.Store = (*Store)(nil)

// NewStore creates or updates the bucket described by cfg and returns a Store on it.
func NewStore(ctx context.Context, conn *nats.Conn, cfg StoreConfig) (*Store, error) {
	if conn == nil {
		return nil, ErrNilConnection
	}

	if conn.IsClosed() {
		return nil, ErrConnectionClosed
	}

	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}

	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = defaultMaxValueSize
	}

	if cfg.KeyPrefix != "" && !validKey(cfg.KeyPrefix+"x") {
		return nil, fmt.Errorf("nats store: invalid key prefix %q", cfg.KeyPrefix)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, bucketSetupTimeout)
	defer cancel()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:       cfg.Bucket,
		Description:  "transaction records",
		TTL:          cfg.TTL,
		History:      1,
		MaxValueSize: cfg.MaxValueSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket: %w", err)
	}

	return &Store{kv: kv, prefix: cfg.KeyPrefix}, nil
}

// Get implements transaction.Store.
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	ctx, span := s.startSpan(ctx, "nats.kv.get")
	defer span.End()

	entry, err := s.kv.Get(ctx, s.key(id))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return nil, transaction.ErrNotFound
		}

		libOpentelemetry.HandleSpanError(&span, "nats kv get failed", err)

		return nil, fmt.Errorf("kv get: %w", err)
	}

	return entry.Value(), nil
}

// Set implements transaction.Store.
func (s *Store) Set(ctx context.Context, id string, value []byte) error {
	ctx, span := s.startSpan(ctx, "nats.kv.put")
	defer span.End()

	if _, err := s.kv.Put(ctx, s.key(id), value); err != nil {
		libOpentelemetry.HandleSpanError(&span, "nats kv put failed", err)

		return fmt.Errorf("kv put: %w", err)
	}

	return nil
}

// Delete implements transaction.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, span := s.startSpan(ctx, "nats.kv.delete")
	defer span.End()

	err := s.kv.Delete(ctx, s.key(id))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		libOpentelemetry.HandleSpanError(&span, "nats kv delete failed", err)

		return fmt.Errorf("kv delete: %w", err)
	}

	return nil
}

// key maps a transaction id onto a valid KV key. Ids that are not valid keys
// on their own are base64url-encoded behind a marker.
func (s *Store) key(id string) string {
	if !strings.HasPrefix(id, encodedKeyMarker) && validKey(s.prefix+id) {
		return s.prefix + id
	}

	return s.prefix + encodedKeyMarker + base64.RawURLEncoding.EncodeToString([]byte(id))
}

// validKey applies the JetStream KV key rules: [-/_=.a-zA-Z0-9]+ without a
// leading or trailing dot.
func validKey(key string) bool {
	if key == "" || key[0] == '.' || key[len(key)-1] == '.' {
		return false
	}

	for i := 0; i < len(key); i++ {
		c := key[i]

		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '/', c == '_', c == '=', c == '.':
		default:
			return false
		}
	}

	return true
}

func (s *Store) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return libOpentelemetry.Tracer("nats").Start(ctx, name, trace.WithAttributes(
		attribute.String(constant.AttrDBSystem, constant.DBSystemNATSKV),
		attribute.String("db.namespace", s.kv.Bucket()),
	))
}
