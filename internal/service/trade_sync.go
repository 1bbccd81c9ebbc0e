package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pnl-tracker/internal/exchange"
	"github.com/pnl-tracker/internal/logging"
	"github.com/pnl-tracker/internal/models"
)

// Trade fetch sizes when the store is empty and after a watermark exists
const (
	DefaultInitialTradeLimit     = 1000
	DefaultIncrementalTradeLimit = 500
)

// TradeStore is the persistence trade sync needs
type TradeStore interface {
	// LatestTradeTimestamp returns the newest stored trade time, or nil
	LatestTradeTimestamp(ctx context.Context, exchange, accountID string) (*time.Time, error)
	// TradedAssets returns the base assets of stored trades
	TradedAssets(ctx context.Context, exchange, accountID string) ([]string, error)
	// InsertTradesIfAbsent stores new trades and returns how many were inserted
	InsertTradesIfAbsent(ctx context.Context, trades []*models.Trade) (int, error)
}

// TradeSync ingests trades incrementally from a high-water mark
type TradeSync struct {
	store            TradeStore
	initialLimit     int
	incrementalLimit int
	logger           *logging.Logger
}

// NewTradeSync creates a trade sync. Non-positive limits use the defaults.
func NewTradeSync(store TradeStore, initialLimit, incrementalLimit int, logger *logging.Logger) *TradeSync {
	if initialLimit <= 0 {
		initialLimit = DefaultInitialTradeLimit
	}
	if incrementalLimit <= 0 {
		incrementalLimit = DefaultIncrementalTradeLimit
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &TradeSync{
		store:            store,
		initialLimit:     initialLimit,
		incrementalLimit: incrementalLimit,
		logger:           logger,
	}
}

// Sync fetches trades newer than the stored watermark and inserts those not
// already present. The window may overlap stored trades; duplicates are
// skipped and excluded from the returned count.
func (s *TradeSync) Sync(ctx context.Context, client exchange.Client, account models.Account) (int, error) {
	log := s.logger.ForAccount(account.Exchange, account.ID)

	since, err := s.store.LatestTradeTimestamp(ctx, account.Exchange, account.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to load trade watermark: %w", err)
	}

	limit := s.initialLimit
	if since != nil {
		limit = s.incrementalLimit
	}

	raw, err := s.fetch(ctx, client, account, since, limit)
	if err != nil {
		return 0, err
	}

	parsed, err := exchange.ParseTrades(account.Exchange, account.ID, raw)
	if err != nil {
		return 0, err
	}

	trades := make([]*models.Trade, len(parsed))
	for i := range parsed {
		trades[i] = &parsed[i]
	}

	inserted, err := s.store.InsertTradesIfAbsent(ctx, trades)
	if err != nil {
		return 0, fmt.Errorf("failed to store trades: %w", err)
	}

	log.WithFields(map[string]interface{}{
		"fetched":  len(trades),
		"inserted": inserted,
		"initial":  since == nil,
	}).Info("trades synced")

	return inserted, nil
}

// fetch reads trades, handing per-asset clients the assets already traded
func (s *TradeSync) fetch(ctx context.Context, client exchange.Client, account models.Account, since *time.Time, limit int) ([]exchange.RawTrade, error) {
	scoped, ok := client.(exchange.AssetScopedTrades)
	if !ok {
		raw, err := client.FetchMyTrades(ctx, since, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch trades: %w", err)
		}
		return raw, nil
	}

	known, err := s.store.TradedAssets(ctx, account.Exchange, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load traded assets: %w", err)
	}
	raw, err := scoped.FetchMyTradesForAssets(ctx, known, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trades: %w", err)
	}
	return raw, nil
}
