package exchange

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/pnl-tracker/internal/errors"
	"github.com/pnl-tracker/internal/models"
	"github.com/pnl-tracker/internal/valuation"
)

// ParseBalance validates a raw balance. Empty quantities read as zero.
func ParseBalance(exchange string, raw RawBalance) (valuation.Holdings, error) {
	holdings := make(valuation.Holdings, len(raw))
	for code, qty := range raw {
		if strings.TrimSpace(code) == "" {
			return nil, apperrors.NewMalformedResponseError(exchange, "balance", fmt.Errorf("empty asset code"))
		}
		amount, err := parseDecimal(qty)
		if err != nil {
			return nil, apperrors.NewMalformedResponseError(exchange, "balance."+code, err)
		}
		holdings[code] = amount
	}
	return holdings, nil
}

// ParseTickers validates a raw ticker table. Tickers without a positive last
// price are left out so the asset is reported as unpriced.
func ParseTickers(exchange string, raw RawTickers) (valuation.PriceTable, error) {
	prices := make(valuation.PriceTable, len(raw))
	for symbol, ticker := range raw {
		if strings.TrimSpace(ticker.Last) == "" {
			continue
		}
		last, err := decimal.NewFromString(ticker.Last)
		if err != nil {
			return nil, apperrors.NewMalformedResponseError(exchange, "ticker."+symbol, err)
		}
		if !last.IsPositive() {
			continue
		}
		prices[symbol] = last
	}
	return prices, nil
}

// ParseTrades validates raw fills into trades for accountID, oldest first
func ParseTrades(exchange, accountID string, raw []RawTrade) ([]models.Trade, error) {
	trades := make([]models.Trade, 0, len(raw))
	for i := range raw {
		t, err := parseTrade(exchange, accountID, &raw[i])
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}

	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].TradeTimestamp.Before(trades[j].TradeTimestamp)
	})
	return trades, nil
}

func parseTrade(exchange, accountID string, r *RawTrade) (models.Trade, error) {
	if r.ID == "" {
		return models.Trade{}, apperrors.NewMalformedResponseError(exchange, "trade.id", fmt.Errorf("missing trade id"))
	}
	if r.Timestamp <= 0 {
		return models.Trade{}, apperrors.NewMalformedResponseError(exchange, "trade.timestamp", fmt.Errorf("trade %s has no timestamp", r.ID))
	}

	fields := map[string]string{"price": r.Price, "amount": r.Amount, "cost": r.Cost}
	values := make(map[string]decimal.Decimal, len(fields))
	for name, s := range fields {
		v, err := parseDecimal(s)
		if err != nil {
			return models.Trade{}, apperrors.NewMalformedResponseError(exchange, "trade."+name, fmt.Errorf("trade %s: %w", r.ID, err))
		}
		values[name] = v
	}

	feeCost := decimal.Zero
	feeCurrency := ""
	if r.Fee != nil {
		v, err := parseDecimal(r.Fee.Cost)
		if err != nil {
			return models.Trade{}, apperrors.NewMalformedResponseError(exchange, "trade.fee", fmt.Errorf("trade %s: %w", r.ID, err))
		}
		feeCost = v
		feeCurrency = r.Fee.Currency
	}

	raw, err := tradeRawData(r)
	if err != nil {
		return models.Trade{}, err
	}

	return models.Trade{
		Exchange:       exchange,
		AccountID:      accountID,
		TradeID:        r.ID,
		TradeTimestamp: time.UnixMilli(r.Timestamp).UTC(),
		Symbol:         r.Symbol,
		Side:           strings.ToLower(r.Side),
		Type:           strings.ToLower(r.Type),
		Price:          values["price"],
		Amount:         values["amount"],
		Cost:           values["cost"],
		FeeCost:        feeCost,
		FeeCurrency:    feeCurrency,
		RawData:        raw,
	}, nil
}

// tradeRawData keeps the exchange payload when present, else the normalized
// fill, so raw_data is never empty
func tradeRawData(r *RawTrade) (json.RawMessage, error) {
	if len(r.Info) > 0 && json.Valid(r.Info) {
		return r.Info, nil
	}
	clean := *r
	clean.Info = nil
	b, err := json.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to encode trade %s: %w", r.ID, err)
	}
	return b, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
