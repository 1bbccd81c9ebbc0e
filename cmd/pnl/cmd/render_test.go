package cmd

import (
	"bytes"
	"encoding/csv"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pnl-tracker/internal/models"
	"github.com/pnl-tracker/internal/service"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func snapshot() *models.BalanceSnapshot {
	return &models.BalanceSnapshot{
		Exchange:        "kraken",
		AccountID:       "main",
		SnapshotDate:    time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		TotalBalanceUSD: d("20500"),
		Balances: map[string]models.AssetBalance{
			"BTC":  {Amount: d("0.3"), USDValue: d("19500")},
			"USD":  {Amount: d("1000"), USDValue: d("1000")},
			"DOGE": {Amount: d("0.01"), USDValue: d("0.001")},
		},
	}
}

func TestRenderBalance(t *testing.T) {
	out := renderBalance(snapshot(), false)
	assert.Contains(t, out, "kraken/main")
	assert.Contains(t, out, "$20,500.00")
	assert.Contains(t, out, "$19,500.00")
	assert.NotContains(t, out, "DOGE")
	assert.Contains(t, out, "1 dust balance(s) hidden")

	out = renderBalance(snapshot(), true)
	assert.Contains(t, out, "DOGE")
	assert.NotContains(t, out, "hidden")
}

func TestRenderReturns_Footer(t *testing.T) {
	returns := []*models.DailyReturn{
		{ReturnDate: time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), PreviousDate: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), CurrentBalanceUSD: d("1050"), DailyReturnUSD: d("50"), DailyReturnPct: d("5")},
		{ReturnDate: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), PreviousDate: time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), CurrentBalanceUSD: d("1000"), DailyReturnUSD: d("-20"), DailyReturnPct: d("-1")},
	}

	out := renderReturns(returns)
	assert.Contains(t, out, "2024-03-08", "gap baseline is shown")
	assert.Contains(t, out, "+$50.00 (+5.00%)")
	assert.Contains(t, out, "2 day(s)")
	assert.Contains(t, out, "total +$30.00")
	assert.Contains(t, out, "average +2.00%")

	assert.Contains(t, renderReturns(nil), "No returns stored")
}

func TestRenderPull(t *testing.T) {
	res := &service.PullResult{
		Snapshot:       snapshot(),
		TradesInserted: 4,
		Warnings:       []string{"no USD price for FOO"},
	}
	out := renderPull(res, nil)
	assert.Contains(t, out, "First snapshot")
	assert.Contains(t, out, "Trades synced: 4 new")
	assert.Contains(t, out, "no USD price for FOO")

	out = renderPull(res, errors.New("rate limited"))
	assert.Contains(t, out, "Trade sync failed: rate limited")
	assert.NotContains(t, out, "Trades synced")
}

func TestRenderTrades(t *testing.T) {
	trades := []*models.Trade{{
		TradeTimestamp: time.Date(2024, 3, 10, 12, 30, 0, 0, time.UTC),
		Symbol:         "BTC/USD",
		Side:           models.SideBuy,
		Price:          d("65000"),
		Amount:         d("0.01"),
		Cost:           d("650"),
		FeeCost:        d("1.04"),
		FeeCurrency:    "USD",
	}}
	out := renderTrades(trades)
	assert.Contains(t, out, "2024-03-10 12:30:00")
	assert.Contains(t, out, "BTC/USD")
	assert.Contains(t, out, "1.04 USD")
}

func TestWriteBalancesCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeBalancesCSV(&buf, []*models.BalanceSnapshot{snapshot()}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4, "header plus every asset including dust")

	assert.Equal(t, []string{"date", "exchange", "account_id", "asset", "amount", "usd_value", "total_usd"}, records[0])
	assert.Equal(t, []string{"2024-03-10", "kraken", "main", "BTC", "0.3", "19500.00", "20500.00"}, records[1])
	assert.Equal(t, "USD", records[2][3])
	assert.Equal(t, "DOGE", records[3][3])
}
