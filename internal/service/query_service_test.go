package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pnl-tracker/internal/config"
	apperrors "github.com/pnl-tracker/internal/errors"
	"github.com/pnl-tracker/internal/models"
)

func TestPageNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      Page
		want    Page
		wantErr bool
	}{
		{"defaults", Page{}, Page{Limit: DefaultHistoryLimit}, false},
		{"explicit", Page{Limit: 5, Offset: 10}, Page{Limit: 5, Offset: 10}, false},
		{"max", Page{Limit: MaxHistoryLimit}, Page{Limit: MaxHistoryLimit}, false},
		{"too large", Page{Limit: MaxHistoryLimit + 1}, Page{}, true},
		{"negative limit", Page{Limit: -1}, Page{}, true},
		{"negative offset", Page{Limit: 1, Offset: -1}, Page{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsCategory(err, apperrors.CategoryValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQueryService_ResolveAccount(t *testing.T) {
	svc := NewQueryService(newMemStore(), []config.AccountConfig{
		{Exchange: "kraken", Name: "main", APIKey: "k1"},
		{Exchange: "binance", Name: "spot", APIKey: "k2"},
		{Exchange: "binance", Name: "alt", APIKey: "k3"},
	})

	acc, err := svc.ResolveAccount("", "")
	require.NoError(t, err)
	assert.Equal(t, models.Account{Exchange: "kraken", ID: "main"}, acc)

	acc, err = svc.ResolveAccount("binance", "spot")
	require.NoError(t, err)
	assert.Equal(t, "spot", acc.ID)

	_, err = svc.ResolveAccount("binance", "")
	require.Error(t, err, "two binance accounts need an explicit id")

	acc, err = svc.ResolveAccount("kraken", "unconfigured")
	require.NoError(t, err, "stored accounts can be queried without config")
	assert.Equal(t, "unconfigured", acc.ID)
}

func TestQueryService_LatestNotFound(t *testing.T) {
	svc := NewQueryService(newMemStore(), nil)
	acc := models.Account{Exchange: "kraken", ID: "main"}

	_, err := svc.LatestBalance(context.Background(), acc)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryNotFound))

	_, err = svc.LatestReturn(context.Background(), acc)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryNotFound))
}

func TestQueryService_Histories(t *testing.T) {
	store := newMemStore()
	for _, d := range []string{"2024-01-01", "2024-01-02", "2024-01-03"} {
		store.seed("kraken", "main", d, "100")
	}
	svc := NewQueryService(store, nil)
	acc := models.Account{Exchange: "kraken", ID: "main"}
	ctx := context.Background()

	latest, err := svc.LatestBalance(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-03", models.DateString(latest.SnapshotDate))

	page, err := svc.BalanceHistory(ctx, acc, Page{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "2024-01-02", models.DateString(page[0].SnapshotDate))

	_, err = svc.ReturnHistory(ctx, acc, Page{Limit: -3})
	assert.Error(t, err)

	accounts, err := svc.Accounts(ctx, "")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, int64(3), accounts[0].SnapshotCount)
}

func TestSummarizeReturns(t *testing.T) {
	summary := SummarizeReturns([]*models.DailyReturn{
		{DailyReturnUSD: mustDecimal("50"), DailyReturnPct: mustDecimal("5")},
		{DailyReturnUSD: mustDecimal("-20"), DailyReturnPct: mustDecimal("-1.5")},
		{DailyReturnUSD: mustDecimal("10.25"), DailyReturnPct: mustDecimal("0.5")},
	})

	assert.Equal(t, 3, summary.Days)
	assert.True(t, summary.TotalUSD.Equal(mustDecimal("40.25")))
	assert.True(t, summary.AveragePct.Equal(mustDecimal("1.3333333333333333")), summary.AveragePct.String())

	empty := SummarizeReturns(nil)
	assert.Zero(t, empty.Days)
	assert.True(t, empty.TotalUSD.IsZero())
	assert.True(t, empty.AveragePct.IsZero())
}

func TestBreakdown(t *testing.T) {
	snapshot := &models.BalanceSnapshot{Balances: map[string]models.AssetBalance{
		"BTC":  {Amount: mustDecimal("0.5"), USDValue: mustDecimal("20000")},
		"USDT": {Amount: mustDecimal("500"), USDValue: mustDecimal("500")},
		"DUST": {Amount: mustDecimal("3"), USDValue: mustDecimal("0.01")},
		"XYZ":  {Amount: mustDecimal("10"), USDValue: mustDecimal("0")},
	}}

	rows := Breakdown(snapshot, false)
	require.Len(t, rows, 2)
	assert.Equal(t, "BTC", rows[0].Symbol)
	assert.Equal(t, "USDT", rows[1].Symbol)

	all := Breakdown(snapshot, true)
	require.Len(t, all, 4)
	assert.Equal(t, "DUST", all[2].Symbol)
	assert.Equal(t, "XYZ", all[3].Symbol)
}
