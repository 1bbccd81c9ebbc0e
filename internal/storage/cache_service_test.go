package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pnl-tracker/internal/logging"
	"github.com/pnl-tracker/internal/models"
)

// countingRepo serves one snapshot and return and counts reads. Methods the
// cache does not touch fall through to the nil embedded Repository.
type countingRepo struct {
	Repository
	snapshot      *models.BalanceSnapshot
	dailyReturn   *models.DailyReturn
	snapshotReads int
	returnReads   int
}

func (r *countingRepo) LatestSnapshot(ctx context.Context, exchange, accountID string) (*models.BalanceSnapshot, error) {
	r.snapshotReads++
	return r.snapshot, nil
}

func (r *countingRepo) LatestReturn(ctx context.Context, exchange, accountID string) (*models.DailyReturn, error) {
	r.returnReads++
	return r.dailyReturn, nil
}

func (r *countingRepo) UpsertSnapshot(ctx context.Context, s *models.BalanceSnapshot) error {
	r.snapshot = s
	return nil
}

func (r *countingRepo) UpsertDailyReturn(ctx context.Context, dr *models.DailyReturn) error {
	r.dailyReturn = dr
	return nil
}

func newTestCachedStore(t *testing.T, repo Repository) (*CachedStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache := NewCacheService(NewRedisCacheFromClient(client), time.Minute)
	return NewCachedStore(repo, cache, logging.Nop()), mr
}

func cacheSnapshot(total string) *models.BalanceSnapshot {
	d := day("2024-03-10")
	return &models.BalanceSnapshot{
		Exchange:        "kraken",
		AccountID:       "Main",
		SnapshotDate:    d,
		Timestamp:       d.Add(5 * time.Minute),
		TotalBalanceUSD: decimal.RequireFromString(total),
		Balances: map[string]models.AssetBalance{
			"BTC": {Amount: decimal.RequireFromString("0.3"), USDValue: decimal.RequireFromString(total)},
		},
	}
}

func TestCachedStore_LatestSnapshotReadsThrough(t *testing.T) {
	repo := &countingRepo{snapshot: cacheSnapshot("19500")}
	store, mr := newTestCachedStore(t, repo)
	ctx := testContext(t)

	first, err := store.LatestSnapshot(ctx, "kraken", "Main")
	require.NoError(t, err)
	second, err := store.LatestSnapshot(ctx, "kraken", "Main")
	require.NoError(t, err)

	assert.Equal(t, 1, repo.snapshotReads, "second read is served from Redis")
	assert.True(t, second.TotalBalanceUSD.Equal(first.TotalBalanceUSD))
	assert.True(t, second.SnapshotDate.Equal(first.SnapshotDate))
	assert.True(t, second.Balances["BTC"].Amount.Equal(decimal.RequireFromString("0.3")))

	key := "pnl:cache:latest_balance:kraken:main"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Minute, mr.TTL(key))
}

func TestCachedStore_UpsertInvalidates(t *testing.T) {
	repo := &countingRepo{snapshot: cacheSnapshot("19500")}
	store, mr := newTestCachedStore(t, repo)
	ctx := testContext(t)

	_, err := store.LatestSnapshot(ctx, "kraken", "Main")
	require.NoError(t, err)

	require.NoError(t, store.UpsertSnapshot(ctx, cacheSnapshot("20000")))
	assert.False(t, mr.Exists("pnl:cache:latest_balance:kraken:main"))

	latest, err := store.LatestSnapshot(ctx, "kraken", "Main")
	require.NoError(t, err)
	assert.True(t, latest.TotalBalanceUSD.Equal(decimal.RequireFromString("20000")))
	assert.Equal(t, 2, repo.snapshotReads)
}

func TestCachedStore_MissingValuesAreNotCached(t *testing.T) {
	repo := &countingRepo{}
	store, mr := newTestCachedStore(t, repo)
	ctx := testContext(t)

	dr, err := store.LatestReturn(ctx, "kraken", "Main")
	require.NoError(t, err)
	assert.Nil(t, dr)
	assert.False(t, mr.Exists("pnl:cache:latest_return:kraken:main"))

	d := day("2024-03-10")
	require.NoError(t, store.UpsertDailyReturn(ctx, &models.DailyReturn{
		Exchange: "kraken", AccountID: "Main", ReturnDate: d, PreviousDate: d.AddDate(0, 0, -1),
		DailyReturnUSD: decimal.NewFromInt(50), DailyReturnPct: decimal.NewFromInt(5),
	}))

	dr, err = store.LatestReturn(ctx, "kraken", "Main")
	require.NoError(t, err)
	require.NotNil(t, dr)
	assert.True(t, dr.DailyReturnPct.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, 2, repo.returnReads)
}

func TestCachedStore_FallsBackWhenRedisDown(t *testing.T) {
	repo := &countingRepo{snapshot: cacheSnapshot("19500")}
	store, mr := newTestCachedStore(t, repo)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	latest, err := store.LatestSnapshot(ctx, "kraken", "Main")
	require.NoError(t, err)
	assert.True(t, latest.TotalBalanceUSD.Equal(decimal.RequireFromString("19500")))

	require.NoError(t, store.UpsertSnapshot(ctx, cacheSnapshot("20000")))
}

func TestCacheService_CorruptEntry(t *testing.T) {
	_, mr := newTestCachedStore(t, &countingRepo{})
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()
	cache := NewCacheService(NewRedisCacheFromClient(client), 0)

	require.NoError(t, mr.Set("pnl:cache:latest_balance:kraken:main", "{not json"))

	var s models.BalanceSnapshot
	hit, err := cache.Get(testContext(t), "pnl:cache:latest_balance:kraken:main", &s)
	assert.False(t, hit)
	assert.Error(t, err)
}
