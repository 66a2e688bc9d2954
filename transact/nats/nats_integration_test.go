//go:build integration

package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	constant "github.com/LerianStudio/lib-transact/transact/constants"
	"github.com/LerianStudio/lib-transact/transact/transaction"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func natsURL() string {
	if url := os.Getenv("NATS_URL"); url != "" {
		return url
	}

	return nats.DefaultURL
}

// connectOrSkip needs a server started with JetStream enabled (nats-server -js).
func connectOrSkip(t *testing.T) *nats.Conn {
	t.Helper()

	conn, err := Connect(context.Background(), Config{URL: natsURL(), MaxReconnects: 1, ConnectTimeout: time.Second})
	if err != nil {
		t.Skipf("NATS not available: %v", err)
	}

	t.Cleanup(conn.Close)

	return conn
}

func TestIntegration_StoreLifecycle(t *testing.T) {
	conn := connectOrSkip(t)
	ctx := context.Background()

	store, err := NewStore(ctx, conn, StoreConfig{Bucket: fmt.Sprintf("transact-it-%d", time.Now().UnixNano())})
	require.NoError(t, err)

	a, err := transaction.New(ctx, transaction.Config{Store: store})
	require.NoError(t, err)

	b, err := transaction.New(ctx, transaction.Config{Store: store}, transaction.WithID(a.ID()))
	require.NoError(t, err)

	require.NoError(t, a.UpdateAttributes(ctx, map[string]any{"progress": 50}))
	assert.NotContains(t, b.Attributes(), "progress")

	require.NoError(t, b.Refresh(ctx))
	assert.Equal(t, json.Number("50"), b.Attributes()["progress"])

	require.NoError(t, a.Finish(ctx, transaction.WithClear()))
	require.ErrorIs(t, b.Refresh(ctx), transaction.ErrExpired)
}

func TestIntegration_NotifierCoreAndJetStream(t *testing.T) {
	conn := connectOrSkip(t)
	ctx := context.Background()

	prefix := fmt.Sprintf("it%d", time.Now().UnixNano())

	sub, err := conn.SubscribeSync(prefix + ".>")
	require.NoError(t, err)

	core, err := NewNotifier(conn, WithSubjectPrefix(prefix))
	require.NoError(t, err)

	require.NoError(t, core.Publish(transaction.ContextWithID(ctx, "transact-it"), "jobs", "status",
		map[string]any{"status": "processing"}))

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, prefix+".jobs.status", msg.Subject)
	assert.Equal(t, "transact-it", msg.Header.Get(constant.HeaderTransactionID))

	js, err := jetstream.New(conn)
	require.NoError(t, err)

	stream, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     "IT_" + prefix,
		Subjects: []string{prefix + ".>"},
		Storage:  jetstream.MemoryStorage,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = js.DeleteStream(context.Background(), stream.CachedInfo().Config.Name) })

	acked, err := NewNotifier(conn, WithSubjectPrefix(prefix), WithJetStream(js))
	require.NoError(t, err)

	require.NoError(t, acked.Publish(ctx, "jobs", "status", map[string]any{"status": "success"}))

	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.State.Msgs)
}
