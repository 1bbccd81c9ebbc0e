// Package format renders decimal amounts for the CLI and the API.
package format

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

var usd = money.GetCurrency(money.USD)

// USD renders d as dollars rounded to cents, e.g. "$1,234.56"
func USD(d decimal.Decimal) string {
	cents := d.Shift(int32(usd.Fraction)).Round(0).IntPart()
	return usd.Formatter().Format(cents)
}

// SignedUSD is USD with an explicit "+" on gains
func SignedUSD(d decimal.Decimal) string {
	s := USD(d)
	if d.Round(int32(usd.Fraction)).IsPositive() {
		return "+" + s
	}
	return s
}

// Percent renders d with two decimals and a sign on gains, e.g. "+5.00%"
func Percent(d decimal.Decimal) string {
	s := d.StringFixed(2) + "%"
	if d.Round(2).IsPositive() {
		return "+" + s
	}
	return s
}

// Amount renders an asset quantity with at most 8 decimals
func Amount(d decimal.Decimal) string {
	return d.Round(8).String()
}
