package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	apperrors "github.com/pnl-tracker/internal/errors"
	"github.com/pnl-tracker/internal/valuation"
)

// ExchangeBinance is the name stored with Binance rows
const ExchangeBinance = "binance"

const (
	binanceMaxTradeLimit     = 1000
	binanceInvalidSymbolCode = -1121
	binanceRateLimitCode     = -1003
)

// binanceQuotes are stablecoin quotes treated as USD for valuation, in
// order of preference
var binanceQuotes = []string{"USDT", "USDC", "USD"}

// BinanceClient reads a Binance spot account through go-binance
type BinanceClient struct {
	client *binance.Client
}

// NewBinanceClient creates a Binance client. An empty baseURL keeps the
// library default.
func NewBinanceClient(apiKey, secretKey, baseURL string) *BinanceClient {
	c := binance.NewClient(apiKey, secretKey)
	if baseURL != "" {
		c.BaseURL = baseURL
	}
	return &BinanceClient{client: c}
}

// Name returns the exchange name
func (b *BinanceClient) Name() string {
	return ExchangeBinance
}

// FetchBalance returns free plus locked quantity per asset
func (b *BinanceClient) FetchBalance(ctx context.Context) (RawBalance, error) {
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, classifyBinanceError(err)
	}

	balance := make(RawBalance, len(account.Balances))
	for _, bal := range account.Balances {
		free, err := parseDecimal(bal.Free)
		if err != nil {
			return nil, apperrors.NewMalformedResponseError(ExchangeBinance, "balances."+bal.Asset+".free", err)
		}
		locked, err := parseDecimal(bal.Locked)
		if err != nil {
			return nil, apperrors.NewMalformedResponseError(ExchangeBinance, "balances."+bal.Asset+".locked", err)
		}
		total := free.Add(locked)
		if total.IsZero() {
			continue
		}
		balance[bal.Asset] = total.String()
	}
	return balance, nil
}

// FetchTickers exposes stablecoin-quoted pairs as BASE/USD
func (b *BinanceClient) FetchTickers(ctx context.Context) (RawTickers, error) {
	prices, err := b.client.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, classifyBinanceError(err)
	}
	return binancePricesToTickers(prices), nil
}

func binancePricesToTickers(prices []*binance.SymbolPrice) RawTickers {
	// rank keeps the most preferred quote when several map to one base
	rank := make(map[string]int)
	tickers := make(RawTickers)
	for _, p := range prices {
		for i, quote := range binanceQuotes {
			if !strings.HasSuffix(p.Symbol, quote) || len(p.Symbol) == len(quote) {
				continue
			}
			key := valuation.PairKey(strings.TrimSuffix(p.Symbol, quote))
			if r, ok := rank[key]; ok && r <= i {
				break
			}
			rank[key] = i
			tickers[key] = RawTicker{Last: p.Price}
			break
		}
	}
	return tickers
}

// FetchMyTrades reads fills for every held asset against USDT
func (b *BinanceClient) FetchMyTrades(ctx context.Context, since *time.Time, limit int) ([]RawTrade, error) {
	return b.FetchMyTradesForAssets(ctx, nil, since, limit)
}

// FetchMyTradesForAssets reads fills for every held asset plus known. Binance
// only lists trades per symbol, so an asset sold down to zero is reached
// through known.
func (b *BinanceClient) FetchMyTradesForAssets(ctx context.Context, known []string, since *time.Time, limit int) ([]RawTrade, error) {
	balance, err := b.FetchBalance(ctx)
	if err != nil {
		return nil, err
	}
	assets := tradeAssets(balance, known)

	perSymbol := limit
	if perSymbol <= 0 || perSymbol > binanceMaxTradeLimit {
		perSymbol = binanceMaxTradeLimit
	}

	var trades []RawTrade
	for _, asset := range assets {
		symbol := asset + "USDT"
		svc := b.client.NewListTradesService().Symbol(symbol).Limit(perSymbol)
		if since != nil {
			svc = svc.StartTime(since.UnixMilli())
		}

		fills, err := svc.Do(ctx)
		if err != nil {
			var apiErr *common.APIError
			if errors.As(err, &apiErr) && apiErr.Code == binanceInvalidSymbolCode {
				continue
			}
			return nil, classifyBinanceError(err)
		}

		for _, f := range fills {
			t, err := binanceToRawTrade(asset, f)
			if err != nil {
				return nil, err
			}
			trades = append(trades, t)
		}
	}

	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Timestamp < trades[j].Timestamp
	})
	if limit > 0 && len(trades) > limit {
		if since == nil {
			trades = trades[len(trades)-limit:]
		} else {
			trades = trades[:limit]
		}
	}
	return trades, nil
}

// tradeAssets merges held and known assets, without USD equivalents
func tradeAssets(balance RawBalance, known []string) []string {
	seen := make(map[string]struct{}, len(balance)+len(known))
	add := func(asset string) {
		asset = strings.ToUpper(strings.TrimSpace(asset))
		if asset == "" || valuation.IsUSDEquivalent(asset) {
			return
		}
		seen[asset] = struct{}{}
	}
	for asset := range balance {
		add(asset)
	}
	for _, asset := range known {
		add(asset)
	}

	assets := make([]string, 0, len(seen))
	for asset := range seen {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

func binanceToRawTrade(asset string, f *binance.TradeV3) (RawTrade, error) {
	info, err := json.Marshal(f)
	if err != nil {
		return RawTrade{}, fmt.Errorf("failed to encode binance trade %d: %w", f.ID, err)
	}

	side := "sell"
	if f.IsBuyer {
		side = "buy"
	}
	// Binance reports maker/taker, not the order type
	orderType := "taker"
	if f.IsMaker {
		orderType = "maker"
	}

	return RawTrade{
		ID:        f.Symbol + ":" + strconv.FormatInt(f.ID, 10),
		Timestamp: f.Time,
		Datetime:  time.UnixMilli(f.Time).UTC().Format(time.RFC3339Nano),
		Symbol:    asset + "/" + strings.TrimPrefix(f.Symbol, asset),
		Side:      side,
		Type:      orderType,
		Price:     f.Price,
		Amount:    f.Quantity,
		Cost:      f.QuoteQuantity,
		Fee:       &RawFee{Cost: f.Commission, Currency: f.CommissionAsset},
		Info:      info,
	}, nil
}

func classifyBinanceError(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == binanceRateLimitCode:
			return apperrors.NewProviderRateLimitError(ExchangeBinance)
		case apiErr.Code == -2014 || apiErr.Code == -2015 || apiErr.Code == -1022:
			return apperrors.NewProviderAuthError(ExchangeBinance, err)
		}
	}
	return apperrors.NewProviderError(ExchangeBinance, err)
}
