package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EXCHANGE RATE RESOLVER - Converted amounts with a defined failure
// =============================================================================

type ratePair struct{ from, to string }

type rateKey struct {
	pair ratePair
	on   Date
}

// ExchangeRateResolver converts amounts between currencies on a date.
//
// Rates are preloaded per currency pair and window before a day walk starts
// so the walk itself is pure in-memory computation. A lookup outside every
// preloaded window falls through to the provider once and is memoized,
// including misses.
//
// A nil provider is valid: same-currency conversions still succeed and any
// other lookup fails with ErrMissingExchangeRateProvider.
type ExchangeRateResolver struct {
	provider RateProvider

	mu     sync.RWMutex
	rates  map[rateKey]decimal.Decimal
	misses map[rateKey]bool
	loaded map[ratePair][]dateRange
}

type dateRange struct{ start, end Date }

func (r dateRange) contains(d Date) bool { return !d.Before(r.start) && !d.After(r.end) }

// NewExchangeRateResolver creates a resolver over provider (which may be nil).
func NewExchangeRateResolver(provider RateProvider) *ExchangeRateResolver {
	return &ExchangeRateResolver{
		provider: provider,
		rates:    make(map[rateKey]decimal.Decimal),
		misses:   make(map[rateKey]bool),
		loaded:   make(map[ratePair][]dateRange),
	}
}

// HasProvider reports whether a rate provider is configured.
func (r *ExchangeRateResolver) HasProvider() bool { return r != nil && r.provider != nil }

// Preload fetches every rate from->to in [start, end] in one provider call.
func (r *ExchangeRateResolver) Preload(ctx context.Context, from, to string, start, end Date) error {
	if from == to || !r.HasProvider() {
		return nil
	}
	rates, err := r.provider.FindRates(ctx, from, to, start, end)
	if err != nil {
		return fmt.Errorf("preload rates %s->%s: %w", from, to, err)
	}
	pair := ratePair{from, to}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rate := range rates {
		r.rates[rateKey{pair, rate.Date}] = rate.Rate
	}
	r.loaded[pair] = append(r.loaded[pair], dateRange{start, end})
	return nil
}

// Rate returns the from->to rate on the day.
func (r *ExchangeRateResolver) Rate(ctx context.Context, from, to string, on Date) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if !r.HasProvider() {
		return decimal.Zero, ErrMissingExchangeRateProvider
	}
	key := rateKey{ratePair{from, to}, on}

	r.mu.RLock()
	rate, ok := r.rates[key]
	missed := r.misses[key]
	preloaded := r.isPreloaded(key)
	r.mu.RUnlock()

	if ok {
		return rate, nil
	}
	if missed || preloaded {
		return decimal.Zero, &MissingExchangeRateError{From: from, To: to, Date: on}
	}

	found, err := r.provider.FindRate(ctx, from, to, on)
	if err != nil {
		return decimal.Zero, fmt.Errorf("find rate %s->%s on %s: %w", from, to, on, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if found == nil {
		r.misses[key] = true
		return decimal.Zero, &MissingExchangeRateError{From: from, To: to, Date: on}
	}
	r.rates[key] = found.Rate
	return found.Rate, nil
}

func (r *ExchangeRateResolver) isPreloaded(key rateKey) bool {
	for _, rng := range r.loaded[key.pair] {
		if rng.contains(key.on) {
			return true
		}
	}
	return false
}

// Convert converts amount, failing when no rate exists.
func (r *ExchangeRateResolver) Convert(ctx context.Context, amount decimal.Decimal, from, to string, on Date) (decimal.Decimal, error) {
	rate, err := r.Rate(ctx, from, to, on)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate), nil
}

// ConvertOr converts amount using fallback as the rate when none is found.
// Used for low-stakes lookups (entry flows, prices) where a sync must not stop.
// Provider errors are treated like a missing rate.
func (r *ExchangeRateResolver) ConvertOr(ctx context.Context, amount decimal.Decimal, from, to string, on Date, fallback decimal.Decimal) decimal.Decimal {
	converted, err := r.Convert(ctx, amount, from, to, on)
	if err != nil {
		return amount.Mul(fallback)
	}
	return converted
}

// one is the fallback rate for best-effort conversions.
var one = decimal.NewFromInt(1)
