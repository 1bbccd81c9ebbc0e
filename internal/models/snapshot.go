package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// AssetBalance is one asset's entry in a snapshot breakdown
type AssetBalance struct {
	Amount   decimal.Decimal `json:"amount"`
	USDValue decimal.Decimal `json:"usd_value"`
}

// BalanceSnapshot is the valued state of one account on one calendar day
type BalanceSnapshot struct {
	Exchange        string                  `json:"exchange" db:"exchange"`
	AccountID       string                  `json:"accountId" db:"account_id"`
	SnapshotDate    time.Time               `json:"snapshotDate" db:"snapshot_date"`
	Timestamp       time.Time               `json:"timestamp" db:"timestamp"`
	TotalBalanceUSD decimal.Decimal         `json:"totalBalanceUsd" db:"total_balance_usd"`
	Balances        map[string]AssetBalance `json:"balances" db:"balances"`
	RawData         json.RawMessage         `json:"rawData,omitempty" db:"raw_data"`
	CreatedAt       time.Time               `json:"createdAt" db:"created_at"`
}

// Point returns the comparison-relevant projection of the snapshot
func (s *BalanceSnapshot) Point() SnapshotPoint {
	return SnapshotPoint{
		Exchange:        s.Exchange,
		AccountID:       s.AccountID,
		SnapshotDate:    s.SnapshotDate,
		Timestamp:       s.Timestamp,
		TotalBalanceUSD: s.TotalBalanceUSD,
	}
}

// SnapshotPoint carries what the return calculation needs from a snapshot.
// Read paths that only compare totals use it so they never decode the
// breakdown.
type SnapshotPoint struct {
	Exchange        string
	AccountID       string
	SnapshotDate    time.Time
	Timestamp       time.Time
	TotalBalanceUSD decimal.Decimal
}

// DailyReturn is the day-over-day change between two snapshots
type DailyReturn struct {
	Exchange           string          `json:"exchange" db:"exchange"`
	AccountID          string          `json:"accountId" db:"account_id"`
	ReturnDate         time.Time       `json:"returnDate" db:"return_date"`
	PreviousDate       time.Time       `json:"previousDate" db:"previous_date"`
	CurrentBalanceUSD  decimal.Decimal `json:"currentBalanceUsd" db:"current_balance_usd"`
	PreviousBalanceUSD decimal.Decimal `json:"previousBalanceUsd" db:"previous_balance_usd"`
	DailyReturnUSD     decimal.Decimal `json:"dailyReturnUsd" db:"daily_return_usd"`
	DailyReturnPct     decimal.Decimal `json:"dailyReturnPct" db:"daily_return_pct"`
	Timestamp          time.Time       `json:"timestamp" db:"timestamp"`
}

// AccountSummary lists an account that has stored snapshots
type AccountSummary struct {
	Exchange      string    `json:"exchange" db:"exchange"`
	AccountID     string    `json:"accountId" db:"account_id"`
	LastSnapshot  time.Time `json:"lastSnapshot" db:"last_snapshot"`
	SnapshotCount int64     `json:"snapshotCount" db:"snapshot_count"`
}

// Account identifies one exchange account
type Account struct {
	Exchange string `json:"exchange"`
	ID       string `json:"accountId"`
}

// Key returns the exchange/account string used for locks and log lines
func (a Account) Key() string {
	return a.Exchange + "/" + a.ID
}

func (a Account) String() string {
	return a.Key()
}

// CalendarDate returns midnight UTC of the calendar day ts falls on in loc.
// Dates are stored without a zone, so the UTC midnight form keeps equality
// and ordering stable regardless of the process timezone.
func CalendarDate(ts time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := ts.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateString formats a calendar date as YYYY-MM-DD
func DateString(t time.Time) string {
	return t.Format("2006-01-02")
}
