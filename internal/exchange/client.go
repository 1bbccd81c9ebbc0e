// Package exchange holds the exchange API clients and the boundary step that
// turns their loosely typed payloads into domain values.
package exchange

import (
	"context"
	"encoding/json"
	"time"
)

// Client is the exchange surface the pull pipeline depends on
type Client interface {
	Name() string
	// FetchBalance returns total quantity per asset code, as decimal strings
	FetchBalance(ctx context.Context) (RawBalance, error)
	// FetchTickers returns last prices keyed "BASE/QUOTE"
	FetchTickers(ctx context.Context) (RawTickers, error)
	// FetchMyTrades returns fills at or after since, oldest first, at most limit.
	// A nil since asks for the most recent limit fills.
	FetchMyTrades(ctx context.Context, since *time.Time, limit int) ([]RawTrade, error)
}

// AssetScopedTrades is implemented by clients that can only list trades per
// asset. known names assets with stored trades that may no longer be held.
type AssetScopedTrades interface {
	FetchMyTradesForAssets(ctx context.Context, known []string, since *time.Time, limit int) ([]RawTrade, error)
}

// RawBalance maps an asset code to its total quantity
type RawBalance map[string]string

// RawTicker is the part of a ticker the tracker reads
type RawTicker struct {
	Last string `json:"last"`
}

// RawTickers maps "BASE/QUOTE" to its ticker
type RawTickers map[string]RawTicker

// RawFee is the fee charged on a fill
type RawFee struct {
	Cost     string `json:"cost"`
	Currency string `json:"currency"`
}

// RawTrade is one fill as returned by an exchange client
type RawTrade struct {
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
	Datetime  string          `json:"datetime"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Type      string          `json:"type"`
	Price     string          `json:"price"`
	Amount    string          `json:"amount"`
	Cost      string          `json:"cost"`
	Fee       *RawFee         `json:"fee,omitempty"`
	Info      json.RawMessage `json:"info,omitempty"`
}
