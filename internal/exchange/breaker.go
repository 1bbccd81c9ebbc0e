package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pnl-tracker/internal/circuitbreaker"
	"github.com/pnl-tracker/internal/config"
	apperrors "github.com/pnl-tracker/internal/errors"
	"github.com/pnl-tracker/internal/ratelimit"
)

// BreakerClient guards a Client with a circuit breaker. Only transient
// exchange failures count toward opening it.
type BreakerClient struct {
	next    Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewBreakerClient wraps next
func NewBreakerClient(next Client, breaker *circuitbreaker.CircuitBreaker) *BreakerClient {
	return &BreakerClient{next: next, breaker: breaker}
}

// Name returns the wrapped exchange name
func (b *BreakerClient) Name() string {
	return b.next.Name()
}

// FetchBalance delegates through the breaker
func (b *BreakerClient) FetchBalance(ctx context.Context) (RawBalance, error) {
	var out RawBalance
	err := b.execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = b.next.FetchBalance(ctx)
		return err
	})
	return out, err
}

// FetchTickers delegates through the breaker
func (b *BreakerClient) FetchTickers(ctx context.Context) (RawTickers, error) {
	var out RawTickers
	err := b.execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = b.next.FetchTickers(ctx)
		return err
	})
	return out, err
}

// FetchMyTrades delegates through the breaker
func (b *BreakerClient) FetchMyTrades(ctx context.Context, since *time.Time, limit int) ([]RawTrade, error) {
	var out []RawTrade
	err := b.execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = b.next.FetchMyTrades(ctx, since, limit)
		return err
	})
	return out, err
}

// FetchMyTradesForAssets delegates through the breaker. Clients that list
// trades account-wide ignore known.
func (b *BreakerClient) FetchMyTradesForAssets(ctx context.Context, known []string, since *time.Time, limit int) ([]RawTrade, error) {
	scoped, ok := b.next.(AssetScopedTrades)
	if !ok {
		return b.FetchMyTrades(ctx, since, limit)
	}
	var out []RawTrade
	err := b.execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = scoped.FetchMyTradesForAssets(ctx, known, since, limit)
		return err
	})
	return out, err
}

func (b *BreakerClient) execute(ctx context.Context, fn func(ctx context.Context) error) error {
	err := b.breaker.Execute(ctx, fn)
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return apperrors.NewProviderError(b.next.Name(), err)
	}
	return err
}

// NewClient builds the guarded client for one configured account
func NewClient(cfg config.ExchangeConfig, acc config.AccountConfig) (Client, error) {
	var client Client
	switch acc.Exchange {
	case config.ExchangeKraken:
		tier, err := ratelimit.ParseTier(cfg.KrakenTier)
		if err != nil {
			return nil, err
		}
		counter, err := ratelimit.NewCallCounter(&ratelimit.CallCounterConfig{Tier: tier})
		if err != nil {
			return nil, err
		}
		k, err := NewKrakenClient(KrakenConfig{
			BaseURL:           cfg.KrakenBaseURL,
			APIKey:            acc.APIKey,
			APISecret:         acc.APISecret,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Timeout:           cfg.Timeout,
			Counter:           counter,
		})
		if err != nil {
			return nil, err
		}
		client = k
	case config.ExchangeBinance:
		client = NewBinanceClient(acc.APIKey, acc.APISecret, "")
	default:
		return nil, fmt.Errorf("unsupported exchange %q", acc.Exchange)
	}

	breaker := circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
		Name:        acc.Exchange + "/" + acc.AccountID(),
		MaxFailures: cfg.BreakerFailures,
		Timeout:     cfg.BreakerCooldown,
		Counts:      apperrors.IsRetryable,
	})
	return NewBreakerClient(client, breaker), nil
}
