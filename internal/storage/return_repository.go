package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	apperrors "github.com/pnl-tracker/internal/errors"
	"github.com/pnl-tracker/internal/models"
)

const returnColumns = `exchange, account_id, return_date, previous_date,
	current_balance_usd::text, previous_balance_usd::text,
	daily_return_usd::text, daily_return_pct::text, timestamp`

// ReturnRepository handles daily return storage operations
type ReturnRepository struct {
	pool *pgxpool.Pool
}

// NewReturnRepository creates a new return repository
func NewReturnRepository(pool *pgxpool.Pool) *ReturnRepository {
	return &ReturnRepository{pool: pool}
}

// UpsertDailyReturn stores the return, overwriting any row for the same date
func (r *ReturnRepository) UpsertDailyReturn(ctx context.Context, dr *models.DailyReturn) error {
	query := `
		INSERT INTO daily_returns (
			exchange,
			account_id,
			return_date,
			previous_date,
			current_balance_usd,
			previous_balance_usd,
			daily_return_usd,
			daily_return_pct,
			timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (exchange, account_id, return_date)
		DO UPDATE SET
			previous_date = EXCLUDED.previous_date,
			current_balance_usd = EXCLUDED.current_balance_usd,
			previous_balance_usd = EXCLUDED.previous_balance_usd,
			daily_return_usd = EXCLUDED.daily_return_usd,
			daily_return_pct = EXCLUDED.daily_return_pct,
			timestamp = EXCLUDED.timestamp
	`

	_, err := r.pool.Exec(ctx, query,
		dr.Exchange,
		dr.AccountID,
		dr.ReturnDate,
		dr.PreviousDate,
		dr.CurrentBalanceUSD.String(),
		dr.PreviousBalanceUSD.String(),
		dr.DailyReturnUSD.String(),
		dr.DailyReturnPct.String(),
		dr.Timestamp,
	)
	if err != nil {
		return apperrors.NewDatabaseError("upsert daily return", err)
	}
	return nil
}

// LatestReturn returns the most recent daily return, or nil
func (r *ReturnRepository) LatestReturn(ctx context.Context, exchange, accountID string) (*models.DailyReturn, error) {
	query := `
		SELECT ` + returnColumns + `
		FROM daily_returns
		WHERE exchange = $1 AND account_id = $2
		ORDER BY return_date DESC
		LIMIT 1
	`

	dr, err := scanReturn(r.pool.QueryRow(ctx, query, exchange, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return dr, err
}

// ReturnHistory returns daily returns newest first
func (r *ReturnRepository) ReturnHistory(ctx context.Context, exchange, accountID string, limit, offset int) ([]*models.DailyReturn, error) {
	query := `
		SELECT ` + returnColumns + `
		FROM daily_returns
		WHERE exchange = $1 AND account_id = $2
		ORDER BY return_date DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.pool.Query(ctx, query, exchange, accountID, limit, offset)
	if err != nil {
		return nil, apperrors.NewDatabaseError("query return history", err)
	}
	defer rows.Close()

	var out []*models.DailyReturn
	for rows.Next() {
		dr, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dr)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate return history", err)
	}
	return out, nil
}

func scanReturn(row pgx.Row) (*models.DailyReturn, error) {
	var dr models.DailyReturn
	var current, previous, delta, pct string

	err := row.Scan(
		&dr.Exchange,
		&dr.AccountID,
		&dr.ReturnDate,
		&dr.PreviousDate,
		&current,
		&previous,
		&delta,
		&pct,
		&dr.Timestamp,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("scan daily return", err)
	}

	targets := []struct {
		src string
		dst *decimal.Decimal
	}{
		{current, &dr.CurrentBalanceUSD},
		{previous, &dr.PreviousBalanceUSD},
		{delta, &dr.DailyReturnUSD},
		{pct, &dr.DailyReturnPct},
	}
	for _, t := range targets {
		v, err := decimal.NewFromString(t.src)
		if err != nil {
			key := dr.Exchange + "/" + dr.AccountID + "/" + models.DateString(dr.ReturnDate)
			return nil, apperrors.NewCorruptDataError("daily_returns", key, err)
		}
		*t.dst = v
	}

	return &dr, nil
}
