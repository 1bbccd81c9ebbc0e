package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCounter(t *testing.T, tier Tier, base, maxDelay time.Duration) *CallCounter {
	t.Helper()
	c, err := NewCallCounter(&CallCounterConfig{Tier: tier, BaseDelay: base, MaxDelay: maxDelay})
	require.NoError(t, err)
	return c
}

func TestNewCallCounter(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		c := newTestCounter(t, TierStarter, 0, 0)
		assert.Equal(t, TierStarter, c.Tier())
		assert.Equal(t, time.Duration(0), c.CurrentDelay())
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		tests := []struct {
			name string
			cfg  *CallCounterConfig
		}{
			{"nil", nil},
			{"zero max", &CallCounterConfig{Tier: Tier{Max: 0, Decay: 1}}},
			{"zero decay", &CallCounterConfig{Tier: Tier{Max: 10}}},
			{"negative delay", &CallCounterConfig{Tier: TierPro, BaseDelay: -time.Second}},
			{"base above max", &CallCounterConfig{Tier: TierPro, BaseDelay: time.Minute, MaxDelay: time.Second}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := NewCallCounter(tt.cfg)
				assert.Error(t, err)
			})
		}
	})
}

func TestParseTier(t *testing.T) {
	for name, want := range map[string]Tier{
		"":             TierStarter,
		"starter":      TierStarter,
		"Intermediate": TierIntermediate,
		" pro ":        TierPro,
	} {
		got, err := ParseTier(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseTier("gold")
	assert.Error(t, err)
}

func TestCallCounter_WaitWithinBurst(t *testing.T) {
	c := newTestCounter(t, Tier{Name: "t", Max: 4, Decay: 0.01}, time.Millisecond, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// 2 + 2 fills the counter without waiting
	start := time.Now()
	require.NoError(t, c.Wait(ctx, EndpointTradesHistory))
	require.NoError(t, c.Wait(ctx, EndpointTradesHistory))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestCallCounter_WaitBlocksWhenFull(t *testing.T) {
	c := newTestCounter(t, Tier{Name: "t", Max: 2, Decay: 0.01}, time.Millisecond, time.Millisecond)

	require.NoError(t, c.Wait(context.Background(), EndpointTradesHistory))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Wait(ctx, EndpointBalance), ErrContextCancelled)
}

func TestCallCounter_CostAboveMaxIsCapped(t *testing.T) {
	registry := NewCostRegistry(&CostRegistryConfig{Overrides: map[string]int{"/0/private/Huge": 100}})
	c, err := NewCallCounter(&CallCounterConfig{Tier: Tier{Name: "t", Max: 5, Decay: 1}, Registry: registry})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, c.Wait(ctx, "/0/private/Huge"))
}

func TestCallCounter_Backoff(t *testing.T) {
	c := newTestCounter(t, TierPro, 10*time.Millisecond, 35*time.Millisecond)

	c.RecordFailure()
	assert.Equal(t, 10*time.Millisecond, c.CurrentDelay())
	c.RecordFailure()
	assert.Equal(t, 20*time.Millisecond, c.CurrentDelay())
	c.RecordFailure()
	assert.Equal(t, 35*time.Millisecond, c.CurrentDelay(), "capped at max")

	start := time.Now()
	require.NoError(t, c.Wait(context.Background(), EndpointBalance))
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)

	c.RecordSuccess()
	assert.Equal(t, time.Duration(0), c.CurrentDelay())
}

func TestCallCounter_BackoffRespectsContext(t *testing.T) {
	c := newTestCounter(t, TierPro, time.Minute, time.Minute)
	c.RecordFailure()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Wait(ctx, EndpointBalance), ErrContextCancelled)
}
