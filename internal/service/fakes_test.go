package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pnl-tracker/internal/config"
	"github.com/pnl-tracker/internal/exchange"
	"github.com/pnl-tracker/internal/models"
)

type fakeClient struct {
	mu         sync.Mutex
	balance    exchange.RawBalance
	tickers    exchange.RawTickers
	trades     []exchange.RawTrade
	balanceErr error
	tickerErr  error
	tradeErr   error

	tradeCalls []tradeCall
}

type tradeCall struct {
	since *time.Time
	limit int
}

func (c *fakeClient) Name() string { return exchange.ExchangeKraken }

func (c *fakeClient) FetchBalance(ctx context.Context) (exchange.RawBalance, error) {
	return c.balance, c.balanceErr
}

func (c *fakeClient) FetchTickers(ctx context.Context) (exchange.RawTickers, error) {
	return c.tickers, c.tickerErr
}

func (c *fakeClient) FetchMyTrades(ctx context.Context, since *time.Time, limit int) ([]exchange.RawTrade, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tradeCalls = append(c.tradeCalls, tradeCall{since: since, limit: limit})
	if c.tradeErr != nil {
		return nil, c.tradeErr
	}
	return c.trades, nil
}

// scopedClient lists trades only for the assets it is handed
type scopedClient struct {
	*fakeClient
	known []string
}

func (c *scopedClient) FetchMyTradesForAssets(ctx context.Context, known []string, since *time.Time, limit int) ([]exchange.RawTrade, error) {
	c.known = known
	return c.FetchMyTrades(ctx, since, limit)
}

type staticClients struct {
	client exchange.Client
	err    error
}

func (p staticClients) Client(acc config.AccountConfig) (exchange.Client, error) {
	return p.client, p.err
}

// memStore is an in-memory snapshot, return and trade store
type memStore struct {
	mu        sync.Mutex
	snapshots map[string]*models.BalanceSnapshot
	returns   map[string]*models.DailyReturn
	trades    map[string]*models.Trade

	upsertErr       error
	returnUpsertErr error
	insertErr       error
}

func newMemStore() *memStore {
	return &memStore{
		snapshots: make(map[string]*models.BalanceSnapshot),
		returns:   make(map[string]*models.DailyReturn),
		trades:    make(map[string]*models.Trade),
	}
}

func dateKey(exchange, accountID string, d time.Time) string {
	return exchange + "/" + accountID + "/" + models.DateString(d)
}

func (m *memStore) UpsertSnapshot(ctx context.Context, s *models.BalanceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	cp := *s
	m.snapshots[dateKey(s.Exchange, s.AccountID, s.SnapshotDate)] = &cp
	return nil
}

func (m *memStore) seed(exchange, accountID, date, total string) {
	d, _ := time.Parse("2006-01-02", date)
	m.snapshots[dateKey(exchange, accountID, d)] = &models.BalanceSnapshot{
		Exchange:        exchange,
		AccountID:       accountID,
		SnapshotDate:    d,
		TotalBalanceUSD: mustDecimal(total),
	}
}

func (m *memStore) SnapshotPoint(ctx context.Context, exchange, accountID string, date time.Time) (*models.SnapshotPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[dateKey(exchange, accountID, date)]
	if !ok {
		return nil, nil
	}
	p := s.Point()
	return &p, nil
}

func (m *memStore) NearestPriorSnapshot(ctx context.Context, exchange, accountID string, date time.Time) (*models.SnapshotPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.BalanceSnapshot
	for _, s := range m.snapshots {
		if s.Exchange != exchange || s.AccountID != accountID || !s.SnapshotDate.Before(date) {
			continue
		}
		if best == nil || s.SnapshotDate.After(best.SnapshotDate) {
			best = s
		}
	}
	if best == nil {
		return nil, nil
	}
	p := best.Point()
	return &p, nil
}

func (m *memStore) UpsertDailyReturn(ctx context.Context, r *models.DailyReturn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.returnUpsertErr != nil {
		return m.returnUpsertErr
	}
	cp := *r
	m.returns[dateKey(r.Exchange, r.AccountID, r.ReturnDate)] = &cp
	return nil
}

func (m *memStore) LatestTradeTimestamp(ctx context.Context, exchange, accountID string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *time.Time
	for _, t := range m.trades {
		if t.Exchange != exchange || t.AccountID != accountID {
			continue
		}
		if latest == nil || t.TradeTimestamp.After(*latest) {
			ts := t.TradeTimestamp
			latest = &ts
		}
	}
	return latest, nil
}

func (m *memStore) TradedAssets(ctx context.Context, exchange, accountID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, t := range m.trades {
		if t.Exchange != exchange || t.AccountID != accountID {
			continue
		}
		base := strings.SplitN(t.Symbol, "/", 2)[0]
		if base != "" && !seen[base] {
			seen[base] = true
			out = append(out, base)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) InsertTradesIfAbsent(ctx context.Context, trades []*models.Trade) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	n := 0
	for _, t := range trades {
		key := t.Exchange + "/" + t.AccountID + "/" + t.TradeID
		if _, ok := m.trades[key]; ok {
			continue
		}
		cp := *t
		m.trades[key] = &cp
		n++
	}
	return n, nil
}

func (m *memStore) LatestSnapshot(ctx context.Context, exchange, accountID string) (*models.BalanceSnapshot, error) {
	list, _ := m.SnapshotHistory(ctx, exchange, accountID, 1, 0)
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (m *memStore) SnapshotHistory(ctx context.Context, exchange, accountID string, limit, offset int) ([]*models.BalanceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.BalanceSnapshot
	for _, s := range m.snapshots {
		if s.Exchange == exchange && s.AccountID == accountID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SnapshotDate.After(out[j].SnapshotDate) })
	return window(out, limit, offset), nil
}

func (m *memStore) LatestReturn(ctx context.Context, exchange, accountID string) (*models.DailyReturn, error) {
	list, _ := m.ReturnHistory(ctx, exchange, accountID, 1, 0)
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (m *memStore) ReturnHistory(ctx context.Context, exchange, accountID string, limit, offset int) ([]*models.DailyReturn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.DailyReturn
	for _, r := range m.returns {
		if r.Exchange == exchange && r.AccountID == accountID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReturnDate.After(out[j].ReturnDate) })
	return window(out, limit, offset), nil
}

func (m *memStore) TradeHistory(ctx context.Context, exchange, accountID string, limit, offset int) ([]*models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Trade
	for _, t := range m.trades {
		if t.Exchange == exchange && t.AccountID == accountID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TradeTimestamp.After(out[j].TradeTimestamp) })
	return window(out, limit, offset), nil
}

func (m *memStore) ListAccounts(ctx context.Context, exchange string) ([]models.AccountSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byKey := map[string]*models.AccountSummary{}
	for _, s := range m.snapshots {
		if exchange != "" && s.Exchange != exchange {
			continue
		}
		key := s.Exchange + "/" + s.AccountID
		a, ok := byKey[key]
		if !ok {
			a = &models.AccountSummary{Exchange: s.Exchange, AccountID: s.AccountID}
			byKey[key] = a
		}
		a.SnapshotCount++
		if s.SnapshotDate.After(a.LastSnapshot) {
			a.LastSnapshot = s.SnapshotDate
		}
	}
	var out []models.AccountSummary
	for _, a := range byKey {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		return fmt.Sprint(out[i].Exchange, out[i].AccountID) < fmt.Sprint(out[j].Exchange, out[j].AccountID)
	})
	return out, nil
}

func window[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit < len(items) {
		items = items[:limit]
	}
	return items
}
