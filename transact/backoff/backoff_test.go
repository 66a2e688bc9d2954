//go:build unit

package backoff

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		base     time.Duration
		attempt  int
		expected time.Duration
	}{
		{name: "attempt 0 returns base", base: 100 * time.Millisecond, attempt: 0, expected: 100 * time.Millisecond},
		{name: "attempt 3 multiplies by eight", base: 100 * time.Millisecond, attempt: 3, expected: 800 * time.Millisecond},
		{name: "negative attempt treated as zero", base: time.Second, attempt: -4, expected: time.Second},
		{name: "zero base", base: 0, attempt: 5, expected: 0},
		{name: "overflow saturates", base: time.Hour, attempt: 100, expected: time.Duration(math.MaxInt64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, Exponential(tt.base, tt.attempt))
		})
	}
}

func TestFullJitterRange(t *testing.T) {
	t.Parallel()

	assert.Zero(t, FullJitter(0))
	assert.Zero(t, FullJitter(-time.Second))

	for range 100 {
		d := FullJitter(50 * time.Millisecond)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, 50*time.Millisecond)
	}
}

func TestExponentialWithJitterBounded(t *testing.T) {
	t.Parallel()

	for range 50 {
		assert.Less(t, ExponentialWithJitter(10*time.Millisecond, 2), 40*time.Millisecond)
	}
}

func TestWaitContext(t *testing.T) {
	t.Parallel()

	require.NoError(t, WaitContext(context.Background(), 0))
	require.NoError(t, WaitContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WaitContext(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}

func TestGate(t *testing.T) {
	t.Parallel()

	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	gate := NewGate(100*time.Millisecond, time.Second)
	gate.now = func() time.Time { return current }
	gate.Jitter = func(d time.Duration) time.Duration { return d }

	_, ok := gate.Allow()
	require.True(t, ok, "first attempt is always allowed")

	gate.Begin()
	gate.Fail()
	assert.Equal(t, 1, gate.Failures())

	wait, ok := gate.Allow()
	assert.False(t, ok)
	assert.Equal(t, 200*time.Millisecond, wait)

	current = current.Add(250 * time.Millisecond)
	_, ok = gate.Allow()
	assert.True(t, ok)

	for range 10 {
		gate.Begin()
		gate.Fail()
	}

	wait, ok = gate.Allow()
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait, "delay is capped")

	gate.Succeed()
	_, ok = gate.Allow()
	assert.True(t, ok)
}
