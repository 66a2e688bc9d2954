//go:build unit

package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LerianStudio/lib-transact/transact/transaction"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisStore(t *testing.T, opts ...StoreOption) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() { _ = rdb.Close() })

	store, err := NewStoreFromClient(rdb, opts...)
	require.NoError(t, err)

	return store, mr
}

func TestStoreGetSetDelete(t *testing.T) {
	ctx := context.Background()
	store, mr := newMiniredisStore(t, WithKeyPrefix("transact:"))

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, transaction.ErrNotFound)

	require.NoError(t, store.Set(ctx, "job-1", []byte(`{"status":"queued"}`)))

	raw, err := mr.Get("transact:job-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"queued"}`, raw)

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"queued"}`, string(got))

	require.NoError(t, store.Delete(ctx, "job-1"))
	require.NoError(t, store.Delete(ctx, "job-1"))
	assert.False(t, mr.Exists("transact:job-1"))
}

func TestStoreTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newMiniredisStore(t, WithTTL(time.Minute))

	require.NoError(t, store.Set(ctx, "job", []byte(`{"status":"queued"}`)))
	assert.Equal(t, time.Minute, mr.TTL("job"))

	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "job")
	require.ErrorIs(t, err, transaction.ErrNotFound)
}

func TestStoreBackendFailure(t *testing.T) {
	ctx := context.Background()
	store, mr := newMiniredisStore(t)

	mr.SetError("ERR simulated failure")

	_, err := store.Get(ctx, "job")
	require.Error(t, err)
	assert.NotErrorIs(t, err, transaction.ErrNotFound)
	assert.Contains(t, err.Error(), "redis get")

	require.Error(t, store.Set(ctx, "job", []byte(`{}`)))
	require.Error(t, store.Delete(ctx, "job"))
	require.Error(t, store.Ping(ctx))

	mr.SetError("")
	require.NoError(t, store.Ping(ctx))
}

func TestStoreProviderFailure(t *testing.T) {
	providerErr := errors.New("no connection")

	store, err := NewStore(failingProvider{err: providerErr})
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "k")
	require.ErrorIs(t, err, providerErr)
	require.ErrorIs(t, store.Set(context.Background(), "k", nil), providerErr)
	require.ErrorIs(t, store.Delete(context.Background(), "k"), providerErr)
}

func TestNewStoreNilProvider(t *testing.T) {
	_, err := NewStore(nil)
	require.ErrorIs(t, err, ErrNilClient)

	var typedNil *Client

	_, err = NewStore(typedNil)
	require.ErrorIs(t, err, ErrNilClient)

	_, err = NewStoreFromClient(nil)
	require.ErrorIs(t, err, ErrNilClient)
}

func TestTransactionLifecycleOnRedis(t *testing.T) {
	ctx := context.Background()
	store, mr := newMiniredisStore(t, WithKeyPrefix("tx:"))

	client, err := transaction.New(ctx, transaction.Config{Store: store})
	require.NoError(t, err)

	require.NoError(t, client.Start(ctx))
	require.NoError(t, client.Finish(ctx, transaction.WithFinishStatus(transaction.StatusError),
		transaction.WithData(map[string]any{"code": 500})))

	raw, err := mr.Get("tx:" + client.ID())
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error","code":500}`, raw)

	require.NoError(t, client.Finish(ctx, transaction.WithClear()))
	assert.False(t, mr.Exists("tx:"+client.ID()))
	require.ErrorIs(t, client.Refresh(ctx), transaction.ErrExpired)
}

func TestClientProvidesStore(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := New(context.Background(), Config{Addresses: []string{mr.Addr()}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewStore(client)
	require.NoError(t, err)

	require.NoError(t, store.Set(context.Background(), "k", []byte(`{"status":"queued"}`)))
	assert.True(t, mr.Exists("k"))
}

type failingProvider struct {
	err error
}

func (p failingProvider) ResolveClient(context.Context) (redis.UniversalClient, error) {
	return nil, p.err
}
