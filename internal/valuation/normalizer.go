// Package valuation turns raw exchange holdings and a ticker table into the
// canonical USD-valued snapshot form.
package valuation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pnl-tracker/internal/logging"
	"github.com/pnl-tracker/internal/models"
)

// QuoteCurrency is the quote side of every price lookup
const QuoteCurrency = "USD"

// usdEquivalents are valued 1:1 against USD without a price lookup. Matching
// uses the raw exchange code, suffix included.
var usdEquivalents = map[string]bool{
	"USD":    true,
	"ZUSD":   true,
	"USDT":   true,
	"USDC":   true,
	"USD.F":  true,
	"ZUSD.F": true,
	"USDT.F": true,
	"USDC.F": true,
}

// Holdings maps a raw exchange asset code to its total quantity
type Holdings map[string]decimal.Decimal

// PriceTable maps "BASE/USD" to the last traded price
type PriceTable map[string]decimal.Decimal

// Valuation is the normalized result for one account
type Valuation struct {
	TotalUSD decimal.Decimal
	Balances map[string]models.AssetBalance
	Warnings []string
}

// Normalizer values holdings against a price table
type Normalizer struct {
	logger *logging.Logger
}

// NewNormalizer creates a normalizer logging missing prices to logger
func NewNormalizer(logger *logging.Logger) *Normalizer {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Normalizer{logger: logger}
}

// Normalize values every positive holding. Assets without a price are kept
// at zero USD and reported in Warnings. Raw codes collapsing to the same
// display symbol are summed so the breakdown always reconciles to TotalUSD.
func (n *Normalizer) Normalize(holdings Holdings, prices PriceTable) *Valuation {
	v := &Valuation{
		TotalUSD: decimal.Zero,
		Balances: make(map[string]models.AssetBalance),
	}

	codes := make([]string, 0, len(holdings))
	for code := range holdings {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		qty := holdings[code]
		if !qty.IsPositive() {
			continue
		}

		symbol := DisplaySymbol(code)
		usd, ok := n.value(code, symbol, qty, prices)
		if !ok {
			msg := fmt.Sprintf("no %s/%s price for %s, valued at 0", symbol, QuoteCurrency, code)
			v.Warnings = append(v.Warnings, msg)
			n.logger.WithFields(map[string]interface{}{
				"asset":  code,
				"amount": qty.String(),
			}).Warn(msg)
		}

		entry := v.Balances[symbol]
		entry.Amount = entry.Amount.Add(qty)
		entry.USDValue = entry.USDValue.Add(usd)
		v.Balances[symbol] = entry

		v.TotalUSD = v.TotalUSD.Add(usd)
	}

	return v
}

func (n *Normalizer) value(code, symbol string, qty decimal.Decimal, prices PriceTable) (decimal.Decimal, bool) {
	if IsUSDEquivalent(code) {
		return qty, true
	}
	last, ok := prices[PairKey(symbol)]
	if !ok {
		return decimal.Zero, false
	}
	return qty.Mul(last), true
}

// DisplaySymbol strips any suffix after the first '.' (ETH.F becomes ETH)
func DisplaySymbol(code string) string {
	if i := strings.IndexByte(code, '.'); i >= 0 {
		return code[:i]
	}
	return code
}

// IsUSDEquivalent reports whether the raw code is valued 1:1 with USD
func IsUSDEquivalent(code string) bool {
	return usdEquivalents[code]
}

// PairKey returns the price table key for a base symbol
func PairKey(symbol string) string {
	return symbol + "/" + QuoteCurrency
}
