package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default backoff applied after the exchange reports the counter exceeded.
const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = time.Minute
)

// ErrContextCancelled is returned when the context ends while waiting for counter room.
var ErrContextCancelled = errors.New("context cancelled while waiting for call counter")

// Tier describes a verification tier's call counter: the counter may not
// exceed Max and decays by Decay per second.
type Tier struct {
	Name  string
	Max   int
	Decay float64
}

// Kraken verification tiers
var (
	TierStarter      = Tier{Name: "starter", Max: 15, Decay: 0.33}
	TierIntermediate = Tier{Name: "intermediate", Max: 20, Decay: 0.5}
	TierPro          = Tier{Name: "pro", Max: 20, Decay: 1}
)

// ParseTier returns the tier named name. An empty name is starter.
func ParseTier(name string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", TierStarter.Name:
		return TierStarter, nil
	case TierIntermediate.Name:
		return TierIntermediate, nil
	case TierPro.Name:
		return TierPro, nil
	default:
		return Tier{}, fmt.Errorf("unknown rate limit tier %q", name)
	}
}

// CallCounter mirrors the exchange's call counter locally so requests wait
// instead of being rejected. After a rejection it backs off exponentially
// until a call succeeds again.
type CallCounter struct {
	limiter  *rate.Limiter
	registry *CostRegistry
	tier     Tier

	baseDelay        time.Duration
	maxDelay         time.Duration
	currentDelay     time.Duration
	consecutiveFails int
	mu               sync.Mutex
}

// CallCounterConfig holds configuration for the counter.
type CallCounterConfig struct {
	Tier Tier

	// Registry supplies per-endpoint costs. Default: NewCostRegistry(nil).
	Registry *CostRegistry

	// BaseDelay is the first backoff after a rejection. Default: 1s.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Default: 1m.
	MaxDelay time.Duration
}

// Validate checks if the configuration is valid.
func (c *CallCounterConfig) Validate() error {
	if c.Tier.Max <= 0 {
		return errors.New("tier max must be positive")
	}
	if c.Tier.Decay <= 0 {
		return errors.New("tier decay must be positive")
	}
	if c.BaseDelay < 0 || c.MaxDelay < 0 {
		return errors.New("delays cannot be negative")
	}
	if c.MaxDelay > 0 && c.BaseDelay > c.MaxDelay {
		return errors.New("base delay cannot exceed max delay")
	}
	return nil
}

// NewCallCounter creates a counter with the given configuration.
func NewCallCounter(cfg *CallCounterConfig) (*CallCounter, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewCostRegistry(nil)
	}
	baseDelay := cfg.BaseDelay
	if baseDelay == 0 {
		baseDelay = DefaultBaseDelay
	}
	maxDelay := cfg.MaxDelay
	if maxDelay == 0 {
		maxDelay = DefaultMaxDelay
	}

	return &CallCounter{
		limiter:   rate.NewLimiter(rate.Limit(cfg.Tier.Decay), cfg.Tier.Max),
		registry:  registry,
		tier:      cfg.Tier,
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
	}, nil
}

// Wait blocks until endpoint can be called without exceeding the counter,
// including any backoff left by a previous rejection.
func (c *CallCounter) Wait(ctx context.Context, endpoint string) error {
	c.mu.Lock()
	delay := c.currentDelay
	c.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ErrContextCancelled
		case <-timer.C:
		}
	}

	cost := c.registry.Cost(endpoint)
	if cost > c.tier.Max {
		cost = c.tier.Max
	}
	// WaitN also fails early when the wait would outlast ctx's deadline
	if err := c.limiter.WaitN(ctx, cost); err != nil {
		return fmt.Errorf("%w: %v", ErrContextCancelled, err)
	}
	return nil
}

// RecordSuccess resets the backoff.
func (c *CallCounter) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFails = 0
	c.currentDelay = 0
}

// RecordFailure doubles the backoff after the exchange rejected a call for
// exceeding the counter: baseDelay * 2^(failures-1), capped at maxDelay.
func (c *CallCounter) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFails++

	delay := c.baseDelay
	for i := 1; i < c.consecutiveFails; i++ {
		delay *= 2
		if delay > c.maxDelay {
			delay = c.maxDelay
			break
		}
	}
	c.currentDelay = delay
}

// CurrentDelay returns the backoff the next Wait will apply.
func (c *CallCounter) CurrentDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentDelay
}

// Tier returns the configured tier.
func (c *CallCounter) Tier() Tier {
	return c.tier
}
