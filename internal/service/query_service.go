package service

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/pnl-tracker/internal/config"
	apperrors "github.com/pnl-tracker/internal/errors"
	"github.com/pnl-tracker/internal/models"
)

// Pagination bounds for history queries
const (
	DefaultHistoryLimit = 30
	MaxHistoryLimit     = 1000
)

// DustThreshold hides breakdown rows worth this much USD or less
var DustThreshold = decimal.RequireFromString("0.01")

// QueryStore is the read side of the store
type QueryStore interface {
	LatestSnapshot(ctx context.Context, exchange, accountID string) (*models.BalanceSnapshot, error)
	SnapshotHistory(ctx context.Context, exchange, accountID string, limit, offset int) ([]*models.BalanceSnapshot, error)
	LatestReturn(ctx context.Context, exchange, accountID string) (*models.DailyReturn, error)
	ReturnHistory(ctx context.Context, exchange, accountID string, limit, offset int) ([]*models.DailyReturn, error)
	TradeHistory(ctx context.Context, exchange, accountID string, limit, offset int) ([]*models.Trade, error)
	ListAccounts(ctx context.Context, exchange string) ([]models.AccountSummary, error)
}

// Page selects a window of a newest-first history
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Normalize applies the default limit and rejects out-of-range values
func (p Page) Normalize() (Page, error) {
	if p.Limit == 0 {
		p.Limit = DefaultHistoryLimit
	}
	if p.Limit < 0 || p.Limit > MaxHistoryLimit {
		return p, apperrors.NewInvalidParameterError("limit", "must be between 1 and 1000")
	}
	if p.Offset < 0 {
		return p, apperrors.NewInvalidParameterError("offset", "must not be negative")
	}
	return p, nil
}

// QueryService is the read-only surface used by the CLI and the API
type QueryService struct {
	store    QueryStore
	accounts []config.AccountConfig
}

// NewQueryService creates a query service. accounts are used to resolve an
// omitted account id.
func NewQueryService(store QueryStore, accounts []config.AccountConfig) *QueryService {
	return &QueryService{store: store, accounts: accounts}
}

// ResolveAccount picks the account to query. An explicit id is used as is;
// otherwise the single configured account for the exchange is chosen.
func (s *QueryService) ResolveAccount(exchange, id string) (models.Account, error) {
	if exchange == "" {
		exchange = config.ExchangeKraken
	}
	if id != "" {
		return models.Account{Exchange: exchange, ID: id}, nil
	}

	cfg := config.Config{Accounts: s.accounts}
	acc, err := cfg.FindAccount(exchange, "")
	if err != nil {
		return models.Account{}, apperrors.NewInvalidParameterError("account", err.Error())
	}
	return models.Account{Exchange: acc.Exchange, ID: acc.AccountID()}, nil
}

// LatestBalance returns the newest snapshot or a not-found error
func (s *QueryService) LatestBalance(ctx context.Context, account models.Account) (*models.BalanceSnapshot, error) {
	snapshot, err := s.store.LatestSnapshot(ctx, account.Exchange, account.ID)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, apperrors.NewNotFoundError("balance snapshot", account.Key())
	}
	return snapshot, nil
}

// BalanceHistory returns snapshots newest first
func (s *QueryService) BalanceHistory(ctx context.Context, account models.Account, page Page) ([]*models.BalanceSnapshot, error) {
	page, err := page.Normalize()
	if err != nil {
		return nil, err
	}
	return s.store.SnapshotHistory(ctx, account.Exchange, account.ID, page.Limit, page.Offset)
}

// LatestReturn returns the newest daily return or a not-found error
func (s *QueryService) LatestReturn(ctx context.Context, account models.Account) (*models.DailyReturn, error) {
	dr, err := s.store.LatestReturn(ctx, account.Exchange, account.ID)
	if err != nil {
		return nil, err
	}
	if dr == nil {
		return nil, apperrors.NewNotFoundError("daily return", account.Key())
	}
	return dr, nil
}

// ReturnHistory returns daily returns newest first
func (s *QueryService) ReturnHistory(ctx context.Context, account models.Account, page Page) ([]*models.DailyReturn, error) {
	page, err := page.Normalize()
	if err != nil {
		return nil, err
	}
	return s.store.ReturnHistory(ctx, account.Exchange, account.ID, page.Limit, page.Offset)
}

// TradeHistory returns trades newest first
func (s *QueryService) TradeHistory(ctx context.Context, account models.Account, page Page) ([]*models.Trade, error) {
	page, err := page.Normalize()
	if err != nil {
		return nil, err
	}
	return s.store.TradeHistory(ctx, account.Exchange, account.ID, page.Limit, page.Offset)
}

// Accounts lists accounts with stored snapshots
func (s *QueryService) Accounts(ctx context.Context, exchange string) ([]models.AccountSummary, error) {
	return s.store.ListAccounts(ctx, exchange)
}

// ReturnSummary is the footer shown under a return history
type ReturnSummary struct {
	Days       int             `json:"days"`
	TotalUSD   decimal.Decimal `json:"totalUsd"`
	AveragePct decimal.Decimal `json:"averagePct"`
}

// SummarizeReturns totals the USD returns and averages the percentages
func SummarizeReturns(returns []*models.DailyReturn) ReturnSummary {
	summary := ReturnSummary{Days: len(returns)}
	if len(returns) == 0 {
		return summary
	}

	pctSum := decimal.Zero
	for _, r := range returns {
		summary.TotalUSD = summary.TotalUSD.Add(r.DailyReturnUSD)
		pctSum = pctSum.Add(r.DailyReturnPct)
	}
	summary.AveragePct = pctSum.Div(decimal.NewFromInt(int64(len(returns))))
	return summary
}

// BreakdownRow is one asset line of a snapshot
type BreakdownRow struct {
	Symbol   string          `json:"symbol"`
	Amount   decimal.Decimal `json:"amount"`
	USDValue decimal.Decimal `json:"usdValue"`
}

// Breakdown lists the snapshot's assets by USD value, largest first. Dust
// rows are dropped unless includeDust is set.
func Breakdown(snapshot *models.BalanceSnapshot, includeDust bool) []BreakdownRow {
	rows := make([]BreakdownRow, 0, len(snapshot.Balances))
	for symbol, b := range snapshot.Balances {
		if !includeDust && b.USDValue.LessThanOrEqual(DustThreshold) {
			continue
		}
		rows = append(rows, BreakdownRow{Symbol: symbol, Amount: b.Amount, USDValue: b.USDValue})
	}

	sort.Slice(rows, func(i, j int) bool {
		if c := rows[i].USDValue.Cmp(rows[j].USDValue); c != 0 {
			return c > 0
		}
		return rows[i].Symbol < rows[j].Symbol
	})
	return rows
}
