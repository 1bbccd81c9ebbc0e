// Package ratelimit paces calls against exchange APIs that meter requests
// with a decaying call counter, such as Kraken's private endpoints.
package ratelimit

import (
	"sync"
)

// Default call counter costs for Kraken private endpoints.
const (
	DefaultCallCost = 1 // Default cost for unknown endpoints

	CostBalance       = 1
	CostTradesHistory = 2
	CostLedgers       = 2
)

// Kraken private endpoint paths
const (
	EndpointBalance       = "/0/private/Balance"
	EndpointTradesHistory = "/0/private/TradesHistory"
	EndpointLedgers       = "/0/private/Ledgers"
)

// CostRegistry maps endpoints to the counter increment they cause.
// It is safe for concurrent use.
type CostRegistry struct {
	mu          sync.RWMutex
	costs       map[string]int
	defaultCost int
}

// CostRegistryConfig holds configuration for the registry.
type CostRegistryConfig struct {
	// DefaultCost is the cost of endpoints without an entry.
	// If zero, uses DefaultCallCost.
	DefaultCost int

	// Overrides replace or extend the built-in costs.
	Overrides map[string]int
}

// NewCostRegistry creates a registry with the Kraken costs.
// If cfg is nil, default configuration is used.
func NewCostRegistry(cfg *CostRegistryConfig) *CostRegistry {
	costs := map[string]int{
		EndpointBalance:       CostBalance,
		EndpointTradesHistory: CostTradesHistory,
		EndpointLedgers:       CostLedgers,
	}

	defaultCost := DefaultCallCost

	if cfg != nil {
		if cfg.DefaultCost > 0 {
			defaultCost = cfg.DefaultCost
		}
		for endpoint, cost := range cfg.Overrides {
			if cost > 0 {
				costs[endpoint] = cost
			}
		}
	}

	return &CostRegistry{
		costs:       costs,
		defaultCost: defaultCost,
	}
}

// Cost returns the counter cost of endpoint, or the default for unknown ones.
func (r *CostRegistry) Cost(endpoint string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cost, ok := r.costs[endpoint]; ok {
		return cost
	}
	return r.defaultCost
}

// SetCost updates the cost of one endpoint. Non-positive costs are ignored.
func (r *CostRegistry) SetCost(endpoint string, cost int) {
	if cost <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.costs[endpoint] = cost
}

// DefaultCost returns the cost used for unknown endpoints.
func (r *CostRegistry) DefaultCost() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.defaultCost
}
