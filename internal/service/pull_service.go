package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pnl-tracker/internal/config"
	apperrors "github.com/pnl-tracker/internal/errors"
	"github.com/pnl-tracker/internal/exchange"
	"github.com/pnl-tracker/internal/logging"
	"github.com/pnl-tracker/internal/models"
	"github.com/pnl-tracker/internal/valuation"
)

// ClientProvider returns the exchange client for a configured account
type ClientProvider interface {
	Client(acc config.AccountConfig) (exchange.Client, error)
}

// ClientPool builds one client per account and reuses it, so breaker and
// nonce state survive across runs
type ClientPool struct {
	cfg     config.ExchangeConfig
	build   func(config.ExchangeConfig, config.AccountConfig) (exchange.Client, error)
	mu      sync.Mutex
	clients map[string]exchange.Client
}

// NewClientPool creates a pool using exchange.NewClient
func NewClientPool(cfg config.ExchangeConfig) *ClientPool {
	return &ClientPool{
		cfg:     cfg,
		build:   exchange.NewClient,
		clients: make(map[string]exchange.Client),
	}
}

// Client returns the cached client for acc, creating it on first use
func (p *ClientPool) Client(acc config.AccountConfig) (exchange.Client, error) {
	key := acc.Exchange + "/" + acc.AccountID()

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[key]; ok {
		return c, nil
	}
	c, err := p.build(p.cfg, acc)
	if err != nil {
		return nil, err
	}
	p.clients[key] = c
	return c, nil
}

// DefaultCommitTimeout bounds the persist, compute-return and sync-trades
// stages once the caller's context no longer applies to them
const DefaultCommitTimeout = 2 * time.Minute

// SnapshotStore persists balance snapshots
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, s *models.BalanceSnapshot) error
}

// ReturnReconciler computes and stores the return for a committed snapshot
type ReturnReconciler interface {
	Reconcile(ctx context.Context, exchange, accountID string, date time.Time) (*models.DailyReturn, error)
}

// PullResult describes one pipeline run
type PullResult struct {
	RunID          uuid.UUID               `json:"runId"`
	Account        models.Account          `json:"account"`
	Snapshot       *models.BalanceSnapshot `json:"snapshot"`
	Return         *models.DailyReturn     `json:"return,omitempty"`
	TradesInserted int                     `json:"tradesInserted"`
	Warnings       []string                `json:"warnings,omitempty"`
	ReturnError    error                   `json:"-"`
}

// PullService runs fetch, normalize, persist-snapshot, compute-return and
// sync-trades for one account
type PullService struct {
	clients    ClientProvider
	normalizer *valuation.Normalizer
	snapshots  SnapshotStore
	returns    ReturnReconciler
	trades     *TradeSync
	locker     Locker
	loc        *time.Location
	now        func() time.Time
	commit     time.Duration
	logger     *logging.Logger
}

// NewPullService creates the pipeline. loc decides which calendar day a
// snapshot belongs to.
func NewPullService(
	clients ClientProvider,
	snapshots SnapshotStore,
	returns ReturnReconciler,
	trades *TradeSync,
	locker Locker,
	loc *time.Location,
	logger *logging.Logger,
) *PullService {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if loc == nil {
		loc = time.UTC
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &PullService{
		clients:    clients,
		normalizer: valuation.NewNormalizer(logger),
		snapshots:  snapshots,
		returns:    returns,
		trades:     trades,
		locker:     locker,
		loc:        loc,
		now:        time.Now,
		commit:     DefaultCommitTimeout,
		logger:     logger,
	}
}

// PullAndReconcile fetches the account's balance, stores today's snapshot,
// reconciles the daily return and syncs trades.
//
// Failures in fetch, normalize or persist-snapshot abort the run with a
// StageError. A compute-return failure is recorded on the result only. A
// sync-trades failure returns the populated result together with its
// StageError.
//
// ctx can cancel the run until the account lock is held. From the snapshot
// write on, the remaining stages run to completion under DefaultCommitTimeout
// so a stored snapshot always gets its return and trade sync attempted.
func (s *PullService) PullAndReconcile(ctx context.Context, acc config.AccountConfig) (*PullResult, error) {
	account := models.Account{Exchange: acc.Exchange, ID: acc.AccountID()}
	result := &PullResult{RunID: uuid.New(), Account: account}

	log := s.logger.ForAccount(account.Exchange, account.ID).WithField(logging.FieldRunID, result.RunID.String())
	fail := func(stage apperrors.Stage, err error) error {
		log.WithField(logging.FieldStage, string(stage)).WithError(err).Error("pull failed")
		return apperrors.NewStageError(stage, account.Exchange, account.ID, err)
	}

	log.Info("pull started")

	client, err := s.clients.Client(acc)
	if err != nil {
		return nil, fail(apperrors.StageFetch, err)
	}

	rawBalance, err := client.FetchBalance(ctx)
	if err != nil {
		return nil, fail(apperrors.StageFetch, err)
	}
	rawTickers, err := client.FetchTickers(ctx)
	if err != nil {
		return nil, fail(apperrors.StageFetch, err)
	}

	holdings, err := exchange.ParseBalance(account.Exchange, rawBalance)
	if err != nil {
		return nil, fail(apperrors.StageNormalize, err)
	}
	prices, err := exchange.ParseTickers(account.Exchange, rawTickers)
	if err != nil {
		return nil, fail(apperrors.StageNormalize, err)
	}
	val := s.normalizer.Normalize(holdings, prices)
	result.Warnings = append(result.Warnings, val.Warnings...)

	rawData, err := json.Marshal(map[string]interface{}{"balance": rawBalance})
	if err != nil {
		return nil, fail(apperrors.StageNormalize, fmt.Errorf("failed to encode raw balance: %w", err))
	}

	ts := s.now()
	snapshot := &models.BalanceSnapshot{
		Exchange:        account.Exchange,
		AccountID:       account.ID,
		SnapshotDate:    models.CalendarDate(ts, s.loc),
		Timestamp:       ts.UTC(),
		TotalBalanceUSD: val.TotalUSD,
		Balances:        val.Balances,
		RawData:         rawData,
	}

	release, err := s.locker.Lock(ctx, account.Key())
	if err != nil {
		return nil, fail(apperrors.StagePersistSnapshot, err)
	}
	defer release()

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.commit)
	defer cancel()

	if err := s.persistAndReconcile(commitCtx, account, snapshot, result, log); err != nil {
		return nil, fail(apperrors.StagePersistSnapshot, err)
	}
	result.Snapshot = snapshot

	if s.trades != nil {
		inserted, err := s.trades.Sync(commitCtx, client, account)
		if err != nil {
			return result, fail(apperrors.StageSyncTrades, err)
		}
		result.TradesInserted = inserted
	}

	log.WithFields(map[string]interface{}{
		"snapshot_date":   models.DateString(snapshot.SnapshotDate),
		"total_usd":       snapshot.TotalBalanceUSD.StringFixed(2),
		"trades_inserted": result.TradesInserted,
		"warnings":        len(result.Warnings),
	}).Info("pull completed")

	return result, nil
}

// persistAndReconcile writes the snapshot and reconciles its return. The
// caller holds the account lock. Only persistence errors are returned.
func (s *PullService) persistAndReconcile(ctx context.Context, account models.Account, snapshot *models.BalanceSnapshot, result *PullResult, log *logging.Logger) error {
	if err := s.snapshots.UpsertSnapshot(ctx, snapshot); err != nil {
		return err
	}

	dr, err := s.returns.Reconcile(ctx, account.Exchange, account.ID, snapshot.SnapshotDate)
	if err != nil {
		stageErr := apperrors.NewStageError(apperrors.StageComputeReturn, account.Exchange, account.ID, err)
		result.ReturnError = stageErr
		result.Warnings = append(result.Warnings, stageErr.Error())
		log.WithField(logging.FieldStage, string(apperrors.StageComputeReturn)).WithError(err).
			Warn("daily return not stored, snapshot kept")
		return nil
	}
	result.Return = dr
	return nil
}
