package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pnl-tracker/internal/exchange"
	"github.com/pnl-tracker/internal/logging"
	"github.com/pnl-tracker/internal/models"
)

var syncAccount = models.Account{Exchange: "kraken", ID: "main"}

func rawTrade(id string, ts time.Time) exchange.RawTrade {
	return exchange.RawTrade{
		ID:        id,
		Timestamp: ts.UnixMilli(),
		Symbol:    "BTC/USD",
		Side:      "buy",
		Type:      "limit",
		Price:     "40000",
		Amount:    "0.01",
		Cost:      "400",
		Fee:       &exchange.RawFee{Cost: "0.64", Currency: "USD"},
	}
}

func TestTradeSync_InitialBackfillUsesInitialLimit(t *testing.T) {
	store := newMemStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	client := &fakeClient{trades: []exchange.RawTrade{rawTrade("A", base), rawTrade("B", base.Add(time.Hour))}}

	sync := NewTradeSync(store, 0, 0, logging.Nop())
	n, err := sync.Sync(context.Background(), client, syncAccount)
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	require.Len(t, client.tradeCalls, 1)
	assert.Nil(t, client.tradeCalls[0].since)
	assert.Equal(t, DefaultInitialTradeLimit, client.tradeCalls[0].limit)
}

func TestTradeSync_IncrementalFromWatermark(t *testing.T) {
	store := newMemStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	client := &fakeClient{trades: []exchange.RawTrade{rawTrade("A", base), rawTrade("B", base.Add(time.Hour))}}
	sync := NewTradeSync(store, 100, 50, logging.Nop())

	_, err := sync.Sync(context.Background(), client, syncAccount)
	require.NoError(t, err)

	// the inclusive window returns B again alongside a new trade
	client.trades = []exchange.RawTrade{rawTrade("B", base.Add(time.Hour)), rawTrade("C", base.Add(2*time.Hour))}
	n, err := sync.Sync(context.Background(), client, syncAccount)
	require.NoError(t, err)

	assert.Equal(t, 1, n, "duplicates are not counted")
	assert.Len(t, store.trades, 3)

	require.Len(t, client.tradeCalls, 2)
	second := client.tradeCalls[1]
	require.NotNil(t, second.since)
	assert.True(t, second.since.Equal(base.Add(time.Hour)))
	assert.Equal(t, 50, second.limit)
}

func TestTradeSync_DuplicateTradeIDStoredOnce(t *testing.T) {
	store := newMemStore()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	client := &fakeClient{trades: []exchange.RawTrade{rawTrade("A", ts), rawTrade("A", ts)}}

	n, err := NewTradeSync(store, 0, 0, logging.Nop()).Sync(context.Background(), client, syncAccount)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, store.trades, 1)
}

func TestTradeSync_Errors(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("fetch", func(t *testing.T) {
		client := &fakeClient{tradeErr: errors.New("down")}
		_, err := NewTradeSync(newMemStore(), 0, 0, logging.Nop()).Sync(context.Background(), client, syncAccount)
		assert.Error(t, err)
	})

	t.Run("malformed", func(t *testing.T) {
		bad := rawTrade("A", ts)
		bad.Price = "nope"
		client := &fakeClient{trades: []exchange.RawTrade{bad}}
		_, err := NewTradeSync(newMemStore(), 0, 0, logging.Nop()).Sync(context.Background(), client, syncAccount)
		assert.Error(t, err)
	})

	t.Run("insert", func(t *testing.T) {
		store := newMemStore()
		store.insertErr = errors.New("db down")
		client := &fakeClient{trades: []exchange.RawTrade{rawTrade("A", ts)}}
		_, err := NewTradeSync(store, 0, 0, logging.Nop()).Sync(context.Background(), client, syncAccount)
		assert.Error(t, err)
	})
}

func TestTradeSync_EmptyFetch(t *testing.T) {
	n, err := NewTradeSync(newMemStore(), 0, 0, logging.Nop()).Sync(context.Background(), &fakeClient{}, syncAccount)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTradeSync_PassesTradedAssetsToScopedClients(t *testing.T) {
	store := newMemStore()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sold := rawTrade("S1", ts)
	sold.Symbol = "SOL/USDT"
	first := &scopedClient{fakeClient: &fakeClient{trades: []exchange.RawTrade{rawTrade("A", ts), sold}}}

	sync := NewTradeSync(store, 0, 0, logging.Nop())
	_, err := sync.Sync(context.Background(), first, syncAccount)
	require.NoError(t, err)
	assert.Empty(t, first.known, "nothing stored before the first sync")

	// SOL was sold down to zero; its stored trades keep it in scope
	next := &scopedClient{fakeClient: &fakeClient{}}
	_, err = sync.Sync(context.Background(), next, syncAccount)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "SOL"}, next.known)
}
