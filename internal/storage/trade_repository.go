package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	apperrors "github.com/pnl-tracker/internal/errors"
	"github.com/pnl-tracker/internal/models"
)

// TradeRepository handles trade storage operations
type TradeRepository struct {
	pool *pgxpool.Pool
}

// NewTradeRepository creates a new trade repository
func NewTradeRepository(pool *pgxpool.Pool) *TradeRepository {
	return &TradeRepository{pool: pool}
}

// LatestTradeTimestamp returns the newest stored trade time for the account,
// or nil when no trades are stored
func (r *TradeRepository) LatestTradeTimestamp(ctx context.Context, exchange, accountID string) (*time.Time, error) {
	var ts *time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT MAX(trade_timestamp) FROM trades WHERE exchange = $1 AND account_id = $2`,
		exchange, accountID,
	).Scan(&ts)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load trade watermark", err)
	}
	return ts, nil
}

// TradedAssets returns the distinct base assets of the account's stored
// trades, sorted
func (r *TradeRepository) TradedAssets(ctx context.Context, exchange, accountID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT split_part(symbol, '/', 1) AS asset
		FROM trades
		WHERE exchange = $1 AND account_id = $2 AND symbol <> ''
		ORDER BY asset`,
		exchange, accountID,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load traded assets", err)
	}
	assets, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, apperrors.NewDatabaseError("load traded assets", err)
	}
	return assets, nil
}

// InsertTradesIfAbsent inserts trades, skipping any already stored under the
// same exchange, account and trade id. Returns the number of new rows.
func (r *TradeRepository) InsertTradesIfAbsent(ctx context.Context, trades []*models.Trade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO trades (
			exchange,
			account_id,
			trade_id,
			trade_timestamp,
			symbol,
			side,
			type,
			price,
			amount,
			cost,
			fee_cost,
			fee_currency,
			raw_data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (exchange, account_id, trade_id) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(query,
			t.Exchange,
			t.AccountID,
			t.TradeID,
			t.TradeTimestamp,
			t.Symbol,
			t.Side,
			nullableString(t.Type),
			t.Price.String(),
			t.Amount.String(),
			t.Cost.String(),
			t.FeeCost.String(),
			nullableString(t.FeeCurrency),
			nullableJSON(t.RawData),
		)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, apperrors.NewDatabaseError("begin trade insert", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	results := tx.SendBatch(ctx, batch)
	inserted := 0
	for range trades {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return 0, apperrors.NewDatabaseError("insert trade", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, apperrors.NewDatabaseError("close trade batch", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, apperrors.NewDatabaseError("commit trades", err)
	}

	return inserted, nil
}

// TradeHistory returns trades newest first
func (r *TradeRepository) TradeHistory(ctx context.Context, exchange, accountID string, limit, offset int) ([]*models.Trade, error) {
	query := `
		SELECT exchange, account_id, trade_id, trade_timestamp, symbol, side,
			COALESCE(type, ''), price::text, amount::text, cost::text,
			COALESCE(fee_cost, 0)::text, COALESCE(fee_currency, ''), raw_data, created_at
		FROM trades
		WHERE exchange = $1 AND account_id = $2
		ORDER BY trade_timestamp DESC, trade_id DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.pool.Query(ctx, query, exchange, accountID, limit, offset)
	if err != nil {
		return nil, apperrors.NewDatabaseError("query trades", err)
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		var t models.Trade
		var price, amount, cost, feeCost string
		var raw []byte

		if err := rows.Scan(
			&t.Exchange,
			&t.AccountID,
			&t.TradeID,
			&t.TradeTimestamp,
			&t.Symbol,
			&t.Side,
			&t.Type,
			&price,
			&amount,
			&cost,
			&feeCost,
			&t.FeeCurrency,
			&raw,
			&t.CreatedAt,
		); err != nil {
			return nil, apperrors.NewDatabaseError("scan trade", err)
		}

		key := t.Exchange + "/" + t.AccountID + "/" + t.TradeID
		for _, f := range []struct {
			src string
			dst *decimal.Decimal
		}{{price, &t.Price}, {amount, &t.Amount}, {cost, &t.Cost}, {feeCost, &t.FeeCost}} {
			if *f.dst, err = decimal.NewFromString(f.src); err != nil {
				return nil, apperrors.NewCorruptDataError("trades", key, err)
			}
		}
		if len(raw) > 0 {
			t.RawData = raw
		}

		trades = append(trades, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate trades", err)
	}

	return trades, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableJSON(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
