package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	apperrors "github.com/pnl-tracker/internal/errors"
	"github.com/pnl-tracker/internal/ratelimit"
)

// ExchangeKraken is the name stored with Kraken rows
const ExchangeKraken = "kraken"

const (
	krakenBalancePath       = "/0/private/Balance"
	krakenTradesHistoryPath = "/0/private/TradesHistory"
	krakenAssetPairsPath    = "/0/public/AssetPairs"
	krakenTickerPath        = "/0/public/Ticker"
	krakenTradesPageSize    = 50
	krakenPairsTTL          = time.Hour
)

// krakenAssets maps Kraken's legacy X/Z prefixed codes to common symbols
var krakenAssets = map[string]string{
	"XXBT": "BTC",
	"XBT":  "BTC",
	"XXDG": "DOGE",
	"XDG":  "DOGE",
	"XETH": "ETH",
	"XETC": "ETC",
	"XLTC": "LTC",
	"XXRP": "XRP",
	"XXLM": "XLM",
	"XXMR": "XMR",
	"XZEC": "ZEC",
	"XREP": "REP",
	"XMLN": "MLN",
	"ZUSD": "USD",
	"ZEUR": "EUR",
	"ZGBP": "GBP",
	"ZCAD": "CAD",
	"ZJPY": "JPY",
	"ZAUD": "AUD",
	"ZCHF": "CHF",
}

// NormalizeKrakenAsset maps a Kraken asset code to its common symbol. Any
// ".X" suffix is preserved (XETH.F becomes ETH.F).
func NormalizeKrakenAsset(code string) string {
	base, suffix := code, ""
	if i := strings.IndexByte(code, '.'); i >= 0 {
		base, suffix = code[:i], code[i:]
	}
	if mapped, ok := krakenAssets[base]; ok {
		base = mapped
	}
	return base + suffix
}

// KrakenConfig configures a Kraken client
type KrakenConfig struct {
	BaseURL           string
	APIKey            string
	APISecret         string // base64, as issued by Kraken
	RequestsPerSecond float64
	Timeout           time.Duration
	// Counter paces private calls. Default: a starter tier counter.
	Counter *ratelimit.CallCounter
}

// KrakenClient talks to the Kraken REST API
type KrakenClient struct {
	baseURL string
	apiKey  string
	secret  []byte
	client  *http.Client
	limiter *rate.Limiter
	counter *ratelimit.CallCounter
	nonce   atomic.Int64
	now     func() time.Time

	pairsMu      sync.Mutex
	pairs        map[string]krakenPair
	pairsFetched time.Time
}

type krakenPair struct {
	Altname string `json:"altname"`
	Wsname  string `json:"wsname"`
	Base    string `json:"base"`
	Quote   string `json:"quote"`
}

func (p krakenPair) symbol() string {
	return NormalizeKrakenAsset(p.Base) + "/" + NormalizeKrakenAsset(p.Quote)
}

type krakenEnvelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

type krakenTicker struct {
	Close []string `json:"c"`
}

type krakenTrade struct {
	OrderTxID string      `json:"ordertxid"`
	Pair      string      `json:"pair"`
	Time      json.Number `json:"time"`
	Type      string      `json:"type"`
	OrderType string      `json:"ordertype"`
	Price     string      `json:"price"`
	Cost      string      `json:"cost"`
	Fee       string      `json:"fee"`
	Vol       string      `json:"vol"`
}

type krakenTradesResult struct {
	Trades map[string]json.RawMessage `json:"trades"`
	Count  int                        `json:"count"`
}

// NewKrakenClient creates a Kraken client. The secret must be valid base64.
func NewKrakenClient(cfg KrakenConfig) (*KrakenClient, error) {
	secret, err := base64.StdEncoding.DecodeString(cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("kraken api secret is not valid base64: %w", err)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.kraken.com"
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Counter == nil {
		cfg.Counter, err = ratelimit.NewCallCounter(&ratelimit.CallCounterConfig{Tier: ratelimit.TierStarter})
		if err != nil {
			return nil, err
		}
	}

	return &KrakenClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		secret:  secret,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		counter: cfg.Counter,
		now:     time.Now,
	}, nil
}

// Name returns the exchange name
func (k *KrakenClient) Name() string {
	return ExchangeKraken
}

// FetchBalance returns the account's total balance per normalized asset
func (k *KrakenClient) FetchBalance(ctx context.Context) (RawBalance, error) {
	var result map[string]string
	if err := k.private(ctx, krakenBalancePath, url.Values{}, &result); err != nil {
		return nil, err
	}

	balance := make(RawBalance, len(result))
	for code, qty := range result {
		symbol := NormalizeKrakenAsset(code)
		if prev, ok := balance[symbol]; ok {
			// two legacy codes for one asset; keep the sum
			a, errA := decimal.NewFromString(prev)
			b, errB := decimal.NewFromString(qty)
			if errA != nil || errB != nil {
				return nil, apperrors.NewMalformedResponseError(ExchangeKraken, "balance."+code, fmt.Errorf("non-numeric quantity"))
			}
			balance[symbol] = a.Add(b).String()
			continue
		}
		balance[symbol] = qty
	}
	return balance, nil
}

// FetchTickers returns last prices for every USD-quoted pair
func (k *KrakenClient) FetchTickers(ctx context.Context) (RawTickers, error) {
	pairs, err := k.assetPairs(ctx)
	if err != nil {
		return nil, err
	}

	var result map[string]krakenTicker
	if err := k.public(ctx, krakenTickerPath, url.Values{}, &result); err != nil {
		return nil, err
	}

	tickers := make(RawTickers)
	for name, t := range result {
		pair, ok := pairs[name]
		if !ok {
			continue
		}
		if len(t.Close) == 0 {
			continue
		}
		symbol := pair.symbol()
		if !strings.HasSuffix(symbol, "/USD") {
			continue
		}
		tickers[symbol] = RawTicker{Last: t.Close[0]}
	}
	return tickers, nil
}

// FetchMyTrades pages through TradesHistory. Kraken returns newest first, so
// with a since bound every page after it is read and the oldest limit fills
// are kept; without one, paging stops once limit fills are collected.
func (k *KrakenClient) FetchMyTrades(ctx context.Context, since *time.Time, limit int) ([]RawTrade, error) {
	pairs, err := k.assetPairs(ctx)
	if err != nil {
		return nil, err
	}

	var trades []RawTrade
	seen := make(map[string]bool)
	for ofs := 0; ; {
		params := url.Values{}
		params.Set("ofs", strconv.Itoa(ofs))
		if since != nil {
			// start is exclusive; step back so a fill at the watermark is re-read
			params.Set("start", strconv.FormatInt(since.Add(-time.Second).Unix(), 10))
		}

		var page krakenTradesResult
		if err := k.private(ctx, krakenTradesHistoryPath, params, &page); err != nil {
			return nil, err
		}
		if len(page.Trades) == 0 {
			break
		}

		for txid, raw := range page.Trades {
			if seen[txid] {
				continue
			}
			seen[txid] = true
			t, err := krakenToRawTrade(txid, raw, pairs)
			if err != nil {
				return nil, err
			}
			trades = append(trades, t)
		}

		ofs += len(page.Trades)
		if ofs >= page.Count {
			break
		}
		if since == nil && limit > 0 && len(trades) >= limit {
			break
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

func krakenToRawTrade(txid string, raw json.RawMessage, pairs map[string]krakenPair) (RawTrade, error) {
	var kt krakenTrade
	if err := json.Unmarshal(raw, &kt); err != nil {
		return RawTrade{}, apperrors.NewMalformedResponseError(ExchangeKraken, "trades."+txid, err)
	}

	seconds, err := decimal.NewFromString(kt.Time.String())
	if err != nil {
		return RawTrade{}, apperrors.NewMalformedResponseError(ExchangeKraken, "trades."+txid+".time", err)
	}
	ms := seconds.Mul(decimal.NewFromInt(1000)).IntPart()

	symbol := kt.Pair
	feeCurrency := ""
	if pair, ok := lookupPair(pairs, kt.Pair); ok {
		symbol = pair.symbol()
		feeCurrency = NormalizeKrakenAsset(pair.Quote)
	}

	return RawTrade{
		ID:        txid,
		Timestamp: ms,
		Datetime:  time.UnixMilli(ms).UTC().Format(time.RFC3339Nano),
		Symbol:    symbol,
		Side:      kt.Type,
		Type:      kt.OrderType,
		Price:     kt.Price,
		Amount:    kt.Vol,
		Cost:      kt.Cost,
		Fee:       &RawFee{Cost: kt.Fee, Currency: feeCurrency},
		Info:      raw,
	}, nil
}

func lookupPair(pairs map[string]krakenPair, name string) (krakenPair, bool) {
	if p, ok := pairs[name]; ok {
		return p, true
	}
	for _, p := range pairs {
		if p.Altname == name {
			return p, true
		}
	}
	return krakenPair{}, false
}

// assetPairs returns the cached pair table, refreshing it hourly
func (k *KrakenClient) assetPairs(ctx context.Context) (map[string]krakenPair, error) {
	k.pairsMu.Lock()
	defer k.pairsMu.Unlock()

	if k.pairs != nil && k.now().Sub(k.pairsFetched) < krakenPairsTTL {
		return k.pairs, nil
	}

	var result map[string]krakenPair
	if err := k.public(ctx, krakenAssetPairsPath, url.Values{}, &result); err != nil {
		return nil, err
	}
	k.pairs = result
	k.pairsFetched = k.now()
	return result, nil
}

func (k *KrakenClient) public(ctx context.Context, path string, params url.Values, out interface{}) error {
	endpoint := k.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return k.do(ctx, req, out)
}

// private signs and sends a call that counts against the account's call
// counter. The nonce is taken after waiting so nonces reach Kraken in order.
func (k *KrakenClient) private(ctx context.Context, path string, params url.Values, out interface{}) error {
	if err := k.counter.Wait(ctx, path); err != nil {
		return err
	}

	nonce := k.nextNonce()
	params.Set("nonce", nonce)
	body := params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+path, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	req.Header.Set("API-Key", k.apiKey)
	req.Header.Set("API-Sign", SignKrakenRequest(k.secret, path, nonce, body))

	err = k.do(ctx, req, out)
	switch {
	case err == nil:
		k.counter.RecordSuccess()
	case apperrors.Categorize(err).Code == "PROVIDER_RATE_LIMIT":
		k.counter.RecordFailure()
	}
	return err
}

func (k *KrakenClient) do(ctx context.Context, req *http.Request, out interface{}) error {
	if err := k.limiter.Wait(ctx); err != nil {
		return err
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return apperrors.NewProviderError(ExchangeKraken, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewProviderError(ExchangeKraken, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return apperrors.NewProviderRateLimitError(ExchangeKraken)
	}
	if resp.StatusCode >= 500 {
		return apperrors.NewProviderError(ExchangeKraken, fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	var env krakenEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return apperrors.NewMalformedResponseError(ExchangeKraken, "envelope", err)
	}
	if len(env.Error) > 0 {
		return classifyKrakenError(env.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return apperrors.NewProviderError(ExchangeKraken, fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	if err := json.Unmarshal(env.Result, out); err != nil {
		return apperrors.NewMalformedResponseError(ExchangeKraken, "result", err)
	}
	return nil
}

func classifyKrakenError(errs []string) error {
	cause := fmt.Errorf("%s", strings.Join(errs, "; "))
	for _, e := range errs {
		switch {
		case strings.Contains(e, "Rate limit"), strings.Contains(e, "Throttled"):
			return apperrors.NewProviderRateLimitError(ExchangeKraken)
		case strings.HasPrefix(e, "EAPI:Invalid key"),
			strings.HasPrefix(e, "EAPI:Invalid signature"),
			strings.HasPrefix(e, "EGeneral:Permission denied"):
			return apperrors.NewProviderAuthError(ExchangeKraken, cause)
		}
	}
	return apperrors.NewProviderError(ExchangeKraken, cause)
}

// nextNonce returns a strictly increasing microsecond nonce
func (k *KrakenClient) nextNonce() string {
	for {
		prev := k.nonce.Load()
		next := k.now().UnixMicro()
		if next <= prev {
			next = prev + 1
		}
		if k.nonce.CompareAndSwap(prev, next) {
			return strconv.FormatInt(next, 10)
		}
	}
}

// SignKrakenRequest computes the API-Sign header:
// base64(HMAC-SHA512(path + SHA256(nonce + body), secret))
func SignKrakenRequest(secret []byte, path, nonce, body string) string {
	sha := sha256.Sum256([]byte(nonce + body))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(sha[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
