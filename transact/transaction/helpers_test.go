//go:build unit

package transaction

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type publishCall struct {
	channel string
	event   string
	payload map[string]any
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

func (n *recordingNotifier) Publish(_ context.Context, channel, event string, payload map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls = append(n.calls, publishCall{channel: channel, event: event, payload: payload})

	return n.err
}

func (n *recordingNotifier) Calls() []publishCall {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]publishCall(nil), n.calls...)
}

// faultyStore wraps a MemoryStore with injectable failures and a write counter.
type faultyStore struct {
	*MemoryStore

	mu        sync.Mutex
	getErr    error
	setErr    error
	deleteErr error
	sets      int
	deletes   int
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: NewMemoryStore()}
}

func (s *faultyStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	err := s.getErr
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}

	return s.MemoryStore.Get(ctx, key)
}

func (s *faultyStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.sets++
	err := s.setErr
	s.mu.Unlock()

	if err != nil {
		return err
	}

	return s.MemoryStore.Set(ctx, key, value)
}

func (s *faultyStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	s.deletes++
	err := s.deleteErr
	s.mu.Unlock()

	if err != nil {
		return err
	}

	return s.MemoryStore.Delete(ctx, key)
}

func (s *faultyStore) Sets() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sets
}

func storedJSON(t *testing.T, store Store, id string) string {
	t.Helper()

	data, err := store.Get(context.Background(), id)
	require.NoError(t, err)

	return string(data)
}
