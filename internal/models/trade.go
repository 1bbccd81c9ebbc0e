package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Trade side values
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Trade represents one executed fill as reported by the exchange.
// Trades are immutable once stored; (Exchange, AccountID, TradeID) is unique.
type Trade struct {
	Exchange       string          `json:"exchange" db:"exchange"`
	AccountID      string          `json:"accountId" db:"account_id"`
	TradeID        string          `json:"tradeId" db:"trade_id"`
	TradeTimestamp time.Time       `json:"tradeTimestamp" db:"trade_timestamp"`
	Symbol         string          `json:"symbol" db:"symbol"`
	Side           string          `json:"side" db:"side"`
	Type           string          `json:"type" db:"type"`
	Price          decimal.Decimal `json:"price" db:"price"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Cost           decimal.Decimal `json:"cost" db:"cost"`
	FeeCost        decimal.Decimal `json:"feeCost" db:"fee_cost"`
	FeeCurrency    string          `json:"feeCurrency" db:"fee_currency"`
	RawData        json.RawMessage `json:"rawData,omitempty" db:"raw_data"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
}
