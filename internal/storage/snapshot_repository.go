package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	apperrors "github.com/pnl-tracker/internal/errors"
	"github.com/pnl-tracker/internal/models"
)

const snapshotColumns = `exchange, account_id, snapshot_date, timestamp, total_balance_usd::text, balances, raw_data, created_at`

// SnapshotRepository handles balance snapshot storage operations
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{
		pool: pool,
	}
}

// UpsertSnapshot stores the snapshot, replacing any earlier one for the same
// exchange, account and date
func (r *SnapshotRepository) UpsertSnapshot(ctx context.Context, s *models.BalanceSnapshot) error {
	balancesJSON, err := json.Marshal(s.Balances)
	if err != nil {
		return fmt.Errorf("failed to marshal balances: %w", err)
	}

	var rawData []byte
	if len(s.RawData) > 0 {
		rawData = s.RawData
	}

	query := `
		INSERT INTO balance_snapshots (
			exchange,
			account_id,
			snapshot_date,
			timestamp,
			total_balance_usd,
			balances,
			raw_data
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (exchange, account_id, snapshot_date)
		DO UPDATE SET
			timestamp = EXCLUDED.timestamp,
			total_balance_usd = EXCLUDED.total_balance_usd,
			balances = EXCLUDED.balances,
			raw_data = EXCLUDED.raw_data
	`

	_, err = r.pool.Exec(ctx, query,
		s.Exchange,
		s.AccountID,
		s.SnapshotDate,
		s.Timestamp,
		s.TotalBalanceUSD.String(),
		balancesJSON,
		rawData,
	)
	if err != nil {
		return apperrors.NewDatabaseError("upsert snapshot", err)
	}

	return nil
}

// SnapshotPoint returns the committed total for the exact date, or nil
func (r *SnapshotRepository) SnapshotPoint(ctx context.Context, exchange, accountID string, date time.Time) (*models.SnapshotPoint, error) {
	query := `
		SELECT exchange, account_id, snapshot_date, timestamp, total_balance_usd::text
		FROM balance_snapshots
		WHERE exchange = $1 AND account_id = $2 AND snapshot_date = $3
	`
	return r.queryPoint(ctx, "load snapshot", query, exchange, accountID, date)
}

// NearestPriorSnapshot returns the latest snapshot strictly before date, or nil
func (r *SnapshotRepository) NearestPriorSnapshot(ctx context.Context, exchange, accountID string, date time.Time) (*models.SnapshotPoint, error) {
	query := `
		SELECT exchange, account_id, snapshot_date, timestamp, total_balance_usd::text
		FROM balance_snapshots
		WHERE exchange = $1 AND account_id = $2 AND snapshot_date < $3
		ORDER BY snapshot_date DESC
		LIMIT 1
	`
	return r.queryPoint(ctx, "load baseline snapshot", query, exchange, accountID, date)
}

func (r *SnapshotRepository) queryPoint(ctx context.Context, op, query string, args ...interface{}) (*models.SnapshotPoint, error) {
	var p models.SnapshotPoint
	var total string

	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&p.Exchange,
		&p.AccountID,
		&p.SnapshotDate,
		&p.Timestamp,
		&total,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError(op, err)
	}

	p.TotalBalanceUSD, err = decimal.NewFromString(total)
	if err != nil {
		return nil, apperrors.NewCorruptDataError("balance_snapshots", pointKey(&p), err)
	}
	return &p, nil
}

// LatestSnapshot returns the most recent snapshot with its breakdown, or nil
func (r *SnapshotRepository) LatestSnapshot(ctx context.Context, exchange, accountID string) (*models.BalanceSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM balance_snapshots
		WHERE exchange = $1 AND account_id = $2
		ORDER BY snapshot_date DESC
		LIMIT 1
	`

	s, err := scanSnapshot(r.pool.QueryRow(ctx, query, exchange, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SnapshotHistory returns snapshots newest first
func (r *SnapshotRepository) SnapshotHistory(ctx context.Context, exchange, accountID string, limit, offset int) ([]*models.BalanceSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM balance_snapshots
		WHERE exchange = $1 AND account_id = $2
		ORDER BY snapshot_date DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.pool.Query(ctx, query, exchange, accountID, limit, offset)
	if err != nil {
		return nil, apperrors.NewDatabaseError("query snapshot history", err)
	}
	defer rows.Close()

	var snapshots []*models.BalanceSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate snapshot history", err)
	}

	return snapshots, nil
}

// ListAccounts returns every account with stored snapshots. An empty
// exchange lists all exchanges.
func (r *SnapshotRepository) ListAccounts(ctx context.Context, exchange string) ([]models.AccountSummary, error) {
	query := `
		SELECT exchange, account_id, MAX(snapshot_date), COUNT(*)
		FROM balance_snapshots
		WHERE $1 = '' OR exchange = $1
		GROUP BY exchange, account_id
		ORDER BY exchange, account_id
	`

	rows, err := r.pool.Query(ctx, query, exchange)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list accounts", err)
	}
	defer rows.Close()

	var accounts []models.AccountSummary
	for rows.Next() {
		var a models.AccountSummary
		if err := rows.Scan(&a.Exchange, &a.AccountID, &a.LastSnapshot, &a.SnapshotCount); err != nil {
			return nil, apperrors.NewDatabaseError("scan account", err)
		}
		accounts = append(accounts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate accounts", err)
	}

	return accounts, nil
}

// scanSnapshot decodes a full snapshot row. Only read paths decode the
// breakdown; a row that fails to decode is reported as corrupt.
func scanSnapshot(row pgx.Row) (*models.BalanceSnapshot, error) {
	var s models.BalanceSnapshot
	var total string
	var balancesJSON, rawData []byte

	err := row.Scan(
		&s.Exchange,
		&s.AccountID,
		&s.SnapshotDate,
		&s.Timestamp,
		&total,
		&balancesJSON,
		&rawData,
		&s.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("scan snapshot", err)
	}

	key := pointKey(&models.SnapshotPoint{Exchange: s.Exchange, AccountID: s.AccountID, SnapshotDate: s.SnapshotDate})

	s.TotalBalanceUSD, err = decimal.NewFromString(total)
	if err != nil {
		return nil, apperrors.NewCorruptDataError("balance_snapshots", key, err)
	}

	if err := json.Unmarshal(balancesJSON, &s.Balances); err != nil {
		return nil, apperrors.NewCorruptDataError("balance_snapshots", key, err)
	}
	if len(rawData) > 0 {
		s.RawData = rawData
	}

	return &s, nil
}

func pointKey(p *models.SnapshotPoint) string {
	return p.Exchange + "/" + p.AccountID + "/" + models.DateString(p.SnapshotDate)
}
