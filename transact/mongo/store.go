package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	constant "github.com/LerianStudio/lib-transact/transact/constants"
	"github.com/LerianStudio/lib-transact/transact/internal/nilcheck"
	libOpentelemetry "github.com/LerianStudio/lib-transact/transact/opentelemetry"
	"github.com/LerianStudio/lib-transact/transact/transaction"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultCollection is used when StoreConfig.Collection is empty.
const DefaultCollection = "transactions"

const updatedAtField = "updated_at"

// collection is the subset of *mongo.Collection the store needs.
type collection interface {
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) *mongo.SingleResult
	ReplaceOne(ctx context.Context, filter, replacement any, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter any, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

type record struct {
	ID        string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// StoreConfig configures a Store.
type StoreConfig struct {
	Collection string
	KeyPrefix  string
	// TTL removes records whose updated_at is older than TTL. The server's
	// TTL monitor runs about once a minute, so expiry is approximate.
	TTL time.Duration
}

// Store implements transaction.Store on a MongoDB collection.
type Store struct {
	client     *Client
	collection string
	prefix     string
	ttl        time.Duration
	resolve    func(ctx context.Context) (collection, error)
	now        func() time.Time
}

var _ transaction.Store = (*Store)(nil)

// NewStore builds a Store on client. Call EnsureIndexes once at startup when
// cfg.TTL is set.
func NewStore(client *Client, cfg StoreConfig) (*Store, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	s := newStore(cfg, nil)
	s.client = client
	s.resolve = func(ctx context.Context) (collection, error) {
		db, err := client.Database(ctx)
		if err != nil {
			return nil, err
		}

		return db.Collection(s.collection), nil
	}

	return s, nil
}

func newStore(cfg StoreConfig, coll collection) *Store {
	name := strings.TrimSpace(cfg.Collection)
	if name == "" {
		name = DefaultCollection
	}

	s := &Store{
		collection: name,
		prefix:     cfg.KeyPrefix,
		ttl:        cfg.TTL,
		now:        time.Now,
	}

	if !nilcheck.Interface(coll) {
		s.resolve = func(context.Context) (collection, error) { return coll, nil }
	}

	return s
}

// EnsureIndexes creates the TTL index on updated_at when a TTL is configured.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if s.ttl <= 0 || s.client == nil {
		return nil
	}

	seconds := int32(s.ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	return s.client.EnsureIndexes(ctx, s.collection, mongo.IndexModel{
		Keys:    bson.D{{Key: updatedAtField, Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(seconds).SetName("transact_ttl"),
	})
}

// Get implements transaction.Store.
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	ctx, span := s.startSpan(ctx, "mongo.get")
	defer span.End()

	coll, err := s.resolve(ctx)
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "mongo unavailable", err)

		return nil, fmt.Errorf("mongo get: %w", err)
	}

	var doc record

	if err := coll.FindOne(ctx, bson.D{{Key: "_id", Value: s.key(id)}}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, transaction.ErrNotFound
		}

		libOpentelemetry.HandleSpanError(&span, "mongo find failed", err)

		return nil, fmt.Errorf("mongo get: %w", err)
	}

	if s.expired(doc) {
		return nil, transaction.ErrNotFound
	}

	return doc.Value, nil
}

// Set implements transaction.Store. It upserts the whole document.
func (s *Store) Set(ctx context.Context, id string, value []byte) error {
	ctx, span := s.startSpan(ctx, "mongo.set")
	defer span.End()

	coll, err := s.resolve(ctx)
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "mongo unavailable", err)

		return fmt.Errorf("mongo set: %w", err)
	}

	key := s.key(id)
	doc := record{ID: key, Value: value, UpdatedAt: s.now().UTC()}

	if _, err := coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: key}}, doc, options.Replace().SetUpsert(true)); err != nil {
		libOpentelemetry.HandleSpanError(&span, "mongo replace failed", err)

		return fmt.Errorf("mongo set: %w", err)
	}

	return nil
}

// Delete implements transaction.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, span := s.startSpan(ctx, "mongo.delete")
	defer span.End()

	coll, err := s.resolve(ctx)
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "mongo unavailable", err)

		return fmt.Errorf("mongo delete: %w", err)
	}

	if _, err := coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: s.key(id)}}); err != nil {
		libOpentelemetry.HandleSpanError(&span, "mongo delete failed", err)

		return fmt.Errorf("mongo delete: %w", err)
	}

	return nil
}

// Ping checks the backing deployment.
func (s *Store) Ping(ctx context.Context) error {
	if s.client == nil {
		_, err := s.resolve(ctx)

		return err
	}

	return s.client.Ping(ctx)
}

// expired hides documents the TTL monitor has not swept yet.
func (s *Store) expired(doc record) bool {
	if s.ttl <= 0 || doc.UpdatedAt.IsZero() {
		return false
	}

	return s.now().Sub(doc.UpdatedAt) > s.ttl
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

func (s *Store) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return libOpentelemetry.Tracer("mongo").Start(ctx, name, trace.WithAttributes(
		attribute.String(constant.AttrDBSystem, constant.DBSystemMongoDB),
		attribute.String(constant.AttrDBCollection, s.collection),
	))
}
