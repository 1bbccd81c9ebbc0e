// Package returns computes and persists day-over-day account returns.
package returns

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pnl-tracker/internal/logging"
	"github.com/pnl-tracker/internal/models"
)

var hundred = decimal.NewFromInt(100)

// Store is the persistence the calculator needs
type Store interface {
	// SnapshotPoint returns the committed snapshot for the exact date, or nil
	SnapshotPoint(ctx context.Context, exchange, accountID string, date time.Time) (*models.SnapshotPoint, error)
	// NearestPriorSnapshot returns the latest snapshot strictly before date, or nil
	NearestPriorSnapshot(ctx context.Context, exchange, accountID string, date time.Time) (*models.SnapshotPoint, error)
	UpsertDailyReturn(ctx context.Context, r *models.DailyReturn) error
}

// Compute derives the return of current against previous. A zero baseline
// yields a zero percentage rather than an undefined one.
func Compute(current, previous models.SnapshotPoint, now time.Time) *models.DailyReturn {
	delta := current.TotalBalanceUSD.Sub(previous.TotalBalanceUSD)

	pct := decimal.Zero
	if !previous.TotalBalanceUSD.IsZero() {
		pct = delta.Div(previous.TotalBalanceUSD).Mul(hundred)
	}

	return &models.DailyReturn{
		Exchange:           current.Exchange,
		AccountID:          current.AccountID,
		ReturnDate:         current.SnapshotDate,
		PreviousDate:       previous.SnapshotDate,
		CurrentBalanceUSD:  current.TotalBalanceUSD,
		PreviousBalanceUSD: previous.TotalBalanceUSD,
		DailyReturnUSD:     delta,
		DailyReturnPct:     pct,
		Timestamp:          now,
	}
}

// Calculator reconciles a stored snapshot against its baseline
type Calculator struct {
	store  Store
	logger *logging.Logger
	now    func() time.Time
}

// NewCalculator creates a calculator backed by store
func NewCalculator(store Store, logger *logging.Logger) *Calculator {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Calculator{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Reconcile computes and upserts the return for the snapshot stored on date.
// It returns nil, nil when no earlier snapshot exists. The current snapshot
// is read back from the store so only committed data is compared.
func (c *Calculator) Reconcile(ctx context.Context, exchange, accountID string, date time.Time) (*models.DailyReturn, error) {
	log := c.logger.ForAccount(exchange, accountID).WithField("date", models.DateString(date))

	current, err := c.store.SnapshotPoint(ctx, exchange, accountID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to load current snapshot: %w", err)
	}
	if current == nil {
		return nil, fmt.Errorf("no committed snapshot for %s/%s on %s", exchange, accountID, models.DateString(date))
	}

	previous, err := c.store.NearestPriorSnapshot(ctx, exchange, accountID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline snapshot: %w", err)
	}
	if previous == nil {
		log.Info("no earlier snapshot, first day for account")
		return nil, nil
	}

	if previous.TotalBalanceUSD.IsZero() {
		log.WithField("previous_date", models.DateString(previous.SnapshotDate)).
			Warn("baseline balance is zero, daily return percentage set to 0")
	}

	r := Compute(*current, *previous, c.now().UTC())
	if err := c.store.UpsertDailyReturn(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to store daily return: %w", err)
	}

	log.WithFields(map[string]interface{}{
		"previous_date":    models.DateString(r.PreviousDate),
		"daily_return_usd": r.DailyReturnUSD.String(),
		"daily_return_pct": r.DailyReturnPct.StringFixed(4),
	}).Info("daily return stored")

	return r, nil
}
