//go:build unit

package transaction

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetDefaultConfig(t *testing.T) {
	t.Helper()

	defaultConfig.Store((*Config)(nil))
	t.Cleanup(func() { defaultConfig.Store((*Config)(nil)) })
}

func TestConfigValidate(t *testing.T) {
	assert.ErrorIs(t, Config{}.Validate(), ErrNilStore)
	assert.ErrorIs(t, Config{Store: NewMemoryStore(), Notifier: &NotifierConfig{}}.Validate(), ErrNilNotifier)
	assert.ErrorIs(t, Config{
		Store:             NewMemoryStore(),
		DefaultAttributes: Attributes{"bad": math.Inf(1)},
	}.Validate(), ErrInvalidArgument)
	assert.NoError(t, Config{Store: NewMemoryStore()}.Validate())
}

func TestDefaultConfigProvider(t *testing.T) {
	resetDefaultConfig(t)

	_, err := DefaultConfig()
	require.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewFromDefault(context.Background())
	require.ErrorIs(t, err, ErrNotConfigured)

	require.ErrorIs(t, SetDefaultConfig(Config{}), ErrNilStore)

	store := NewMemoryStore()
	defaults := Attributes{"tenant": "acme"}

	require.NoError(t, SetDefaultConfig(Config{Store: store, DefaultAttributes: defaults}))

	defaults["tenant"] = "mutated"

	client, err := NewFromDefault(context.Background(), WithID("from-default"))
	require.NoError(t, err)

	assert.Equal(t, "from-default", client.ID())
	assert.Equal(t, "acme", client.Attributes()["tenant"])
	assert.Equal(t, 1, store.Len())

	cfg, err := DefaultConfig()
	require.NoError(t, err)
	assert.Same(t, store, cfg.Store)
}
