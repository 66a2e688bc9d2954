//go:build unit

package mongo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LerianStudio/lib-transact/transact/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type fakeCollection struct {
	mu      sync.Mutex
	docs    map[string]record
	upserts []bool
	findErr error
	failErr error
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: make(map[string]record)}
}

func filterID(filter any) string {
	d, ok := filter.(bson.D)
	if !ok || len(d) != 1 || d[0].Key != "_id" {
		return ""
	}

	id, _ := d[0].Value.(string)

	return id
}

func (f *fakeCollection) FindOne(_ context.Context, filter any, _ ...*options.FindOneOptions) *mongo.SingleResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.findErr != nil {
		return mongo.NewSingleResultFromDocument(bson.D{}, f.findErr, nil)
	}

	doc, ok := f.docs[filterID(filter)]
	if !ok {
		return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
	}

	return mongo.NewSingleResultFromDocument(doc, nil, nil)
}

func (f *fakeCollection) ReplaceOne(_ context.Context, filter, replacement any, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failErr != nil {
		return nil, f.failErr
	}

	upsert := false
	for _, o := range opts {
		if o != nil && o.Upsert != nil {
			upsert = *o.Upsert
		}
	}

	f.upserts = append(f.upserts, upsert)

	doc, ok := replacement.(record)
	if !ok {
		return nil, errors.New("unexpected replacement type")
	}

	f.docs[filterID(filter)] = doc

	return &mongo.UpdateResult{UpsertedCount: 1}, nil
}

func (f *fakeCollection) DeleteOne(_ context.Context, filter any, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failErr != nil {
		return nil, f.failErr
	}

	id := filterID(filter)
	if _, ok := f.docs[id]; !ok {
		return &mongo.DeleteResult{}, nil
	}

	delete(f.docs, id)

	return &mongo.DeleteResult{DeletedCount: 1}, nil
}

func TestStore_GetSetDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	coll := newFakeCollection()
	store := newStore(StoreConfig{KeyPrefix: "tx:"}, coll)

	_, err := store.Get(ctx, "t1")
	require.ErrorIs(t, err, transaction.ErrNotFound)

	require.NoError(t, store.Set(ctx, "t1", []byte(`{"status":"queued"}`)))

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"queued"}`, string(got))

	assert.Contains(t, coll.docs, "tx:t1")
	assert.Equal(t, []bool{true}, coll.upserts)

	require.NoError(t, store.Delete(ctx, "t1"))
	require.NoError(t, store.Delete(ctx, "t1"))

	_, err = store.Get(ctx, "t1")
	require.ErrorIs(t, err, transaction.ErrNotFound)
}

func TestStore_WrapsBackendErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	boom := errors.New("connection reset")

	coll := newFakeCollection()
	coll.failErr = boom
	coll.findErr = boom
	store := newStore(StoreConfig{}, coll)

	_, err := store.Get(ctx, "t1")
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, transaction.ErrNotFound)
	assert.Contains(t, err.Error(), "mongo get")

	err = store.Set(ctx, "t1", []byte(`{}`))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "mongo set")

	err = store.Delete(ctx, "t1")
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "mongo delete")
}

func TestStore_UnresolvedCollection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(StoreConfig{}, nil)
	store.resolve = func(context.Context) (collection, error) { return nil, ErrClientClosed }

	_, err := store.Get(ctx, "t1")
	require.ErrorIs(t, err, ErrClientClosed)
	require.ErrorIs(t, store.Set(ctx, "t1", []byte(`{}`)), ErrClientClosed)
	require.ErrorIs(t, store.Delete(ctx, "t1"), ErrClientClosed)
	require.ErrorIs(t, store.Ping(ctx), ErrClientClosed)
}

func TestStore_HidesRecordsPastTTL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	store := newStore(StoreConfig{TTL: time.Minute}, newFakeCollection())
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, "t1", []byte(`{"status":"queued"}`)))

	_, err := store.Get(ctx, "t1")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	_, err = store.Get(ctx, "t1")
	require.ErrorIs(t, err, transaction.ErrNotFound)
}

func TestNewStore_Defaults(t *testing.T) {
	t.Parallel()

	_, err := NewStore(nil, StoreConfig{})
	require.ErrorIs(t, err, ErrNilClient)

	client := newTestClient(t, successDeps())

	store, err := NewStore(client, StoreConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultCollection, store.collection)
	assert.NoError(t, store.Ping(context.Background()))
	assert.NoError(t, store.EnsureIndexes(context.Background()))
}

func TestStore_EnsureIndexesCreatesTTLIndex(t *testing.T) {
	t.Parallel()

	var captured []mongo.IndexModel

	deps := successDeps()
	deps.createIndex = func(_ context.Context, _ *mongo.Client, _, collection string, index mongo.IndexModel) error {
		assert.Equal(t, "records", collection)
		captured = append(captured, index)

		return nil
	}

	client := newTestClient(t, deps)

	store, err := NewStore(client, StoreConfig{Collection: "records", TTL: 90 * time.Second})
	require.NoError(t, err)
	require.NoError(t, store.EnsureIndexes(context.Background()))

	require.Len(t, captured, 1)
	assert.Equal(t, "updated_at", indexKeysString(captured[0].Keys))
	require.NotNil(t, captured[0].Options.ExpireAfterSeconds)
	assert.EqualValues(t, 90, *captured[0].Options.ExpireAfterSeconds)
}

func TestStore_BacksTransactionClient(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(StoreConfig{}, newFakeCollection())

	writer, err := transaction.New(ctx, transaction.Config{Store: store})
	require.NoError(t, err)
	require.NoError(t, writer.Start(ctx))

	reader, err := transaction.New(ctx, transaction.Config{Store: store}, transaction.WithID(writer.ID()))
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusProcessing, reader.Status())

	require.NoError(t, writer.Finish(ctx, transaction.WithClear()))

	_, err = store.Get(ctx, writer.ID())
	require.ErrorIs(t, err, transaction.ErrNotFound)
}
