package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pnl-tracker/internal/circuitbreaker"
	"github.com/pnl-tracker/internal/config"
	apperrors "github.com/pnl-tracker/internal/errors"
)

type stubClient struct {
	calls int
	err   error
}

func (s *stubClient) Name() string { return "stub" }

func (s *stubClient) FetchBalance(ctx context.Context) (RawBalance, error) {
	s.calls++
	return RawBalance{"BTC": "1"}, s.err
}

func (s *stubClient) FetchTickers(ctx context.Context) (RawTickers, error) {
	s.calls++
	return RawTickers{}, s.err
}

func (s *stubClient) FetchMyTrades(ctx context.Context, since *time.Time, limit int) ([]RawTrade, error) {
	s.calls++
	return nil, s.err
}

func TestBreakerClientOpensOnTransientFailures(t *testing.T) {
	stub := &stubClient{err: apperrors.NewProviderError("stub", nil)}
	client := NewBreakerClient(stub, circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
		Name:        "stub",
		MaxFailures: 2,
		Timeout:     time.Hour,
		Counts:      apperrors.IsRetryable,
	}))

	ctx := context.Background()
	_, _ = client.FetchBalance(ctx)
	_, _ = client.FetchTickers(ctx)
	assert.Equal(t, 2, stub.calls)

	_, err := client.FetchMyTrades(ctx, nil, 10)
	require.Error(t, err)
	assert.Equal(t, 2, stub.calls, "open breaker short-circuits")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestBreakerClientIgnoresPermanentFailures(t *testing.T) {
	stub := &stubClient{err: apperrors.NewProviderAuthError("stub", nil)}
	client := NewBreakerClient(stub, circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
		Name:        "stub",
		MaxFailures: 1,
		Timeout:     time.Hour,
		Counts:      apperrors.IsRetryable,
	}))

	for i := 0; i < 3; i++ {
		_, err := client.FetchBalance(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, 3, stub.calls)
}

func TestBreakerClientPassesValues(t *testing.T) {
	client := NewBreakerClient(&stubClient{}, circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("stub")))
	bal, err := client.FetchBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", bal["BTC"])
	assert.Equal(t, "stub", client.Name())
}

func TestNewClient(t *testing.T) {
	cfg := config.ExchangeConfig{RequestsPerSecond: 1, BreakerFailures: 3, BreakerCooldown: time.Minute}

	c, err := NewClient(cfg, config.AccountConfig{Exchange: config.ExchangeKraken, APIKey: "k", APISecret: "c2VjcmV0"})
	require.NoError(t, err)
	assert.Equal(t, ExchangeKraken, c.Name())

	c, err = NewClient(cfg, config.AccountConfig{Exchange: config.ExchangeBinance, APIKey: "k", APISecret: "s"})
	require.NoError(t, err)
	assert.Equal(t, ExchangeBinance, c.Name())

	_, err = NewClient(cfg, config.AccountConfig{Exchange: "ftx"})
	assert.Error(t, err)

	_, err = NewClient(cfg, config.AccountConfig{Exchange: config.ExchangeKraken, APISecret: "%%%"})
	assert.Error(t, err)

	cfg.KrakenTier = "platinum"
	_, err = NewClient(cfg, config.AccountConfig{Exchange: config.ExchangeKraken, APIKey: "k", APISecret: "c2VjcmV0"})
	assert.Error(t, err)
}

type scopedStub struct {
	stubClient
	known []string
}

func (s *scopedStub) FetchMyTradesForAssets(ctx context.Context, known []string, since *time.Time, limit int) ([]RawTrade, error) {
	s.known = known
	return s.FetchMyTrades(ctx, since, limit)
}

func TestBreakerClientForwardsKnownAssets(t *testing.T) {
	ctx := context.Background()

	scoped := &scopedStub{}
	client := NewBreakerClient(scoped, circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("stub")))
	_, err := client.FetchMyTradesForAssets(ctx, []string{"SOL"}, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"SOL"}, scoped.known)

	plain := &stubClient{}
	client = NewBreakerClient(plain, circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("stub")))
	_, err = client.FetchMyTradesForAssets(ctx, []string{"SOL"}, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, plain.calls)
}
