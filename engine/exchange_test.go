package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/balance-engine/engine"
)

// countingRates counts provider calls.
type countingRates struct {
	rates     map[engine.Date]engine.Rate
	findRate  int
	findRates int
	failWith  error
}

func (c *countingRates) FindRate(_ context.Context, from, to string, on engine.Date) (*engine.Rate, error) {
	c.findRate++
	if c.failWith != nil {
		return nil, c.failWith
	}
	r, ok := c.rates[on]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (c *countingRates) FindRates(_ context.Context, from, to string, start, end engine.Date) ([]engine.Rate, error) {
	c.findRates++
	var out []engine.Rate
	engine.Walk(engine.Forward, start, end, func(d engine.Date) bool {
		if r, ok := c.rates[d]; ok {
			out = append(out, r)
		}
		return true
	})
	return out, nil
}

func TestExchangeRateResolver_SameCurrencyNeedsNoProvider(t *testing.T) {
	r := engine.NewExchangeRateResolver(nil)

	got, err := r.Convert(context.Background(), dec("12.5"), "USD", "USD", today)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("12.5")))
}

func TestExchangeRateResolver_NoProvider(t *testing.T) {
	r := engine.NewExchangeRateResolver(nil)

	_, err := r.Rate(context.Background(), "EUR", "USD", today)
	assert.ErrorIs(t, err, engine.ErrMissingExchangeRateProvider)
	assert.True(t, engine.IsDataGap(err))
}

func TestExchangeRateResolver_MemoizesMisses(t *testing.T) {
	// GIVEN: a provider with a rate yesterday only
	provider := &countingRates{rates: map[engine.Date]engine.Rate{ago(1): rate("EUR", "USD", ago(1), "1.1")}}
	r := engine.NewExchangeRateResolver(provider)
	ctx := context.Background()

	// WHEN: looking up today twice
	_, err1 := r.Rate(ctx, "EUR", "USD", today)
	_, err2 := r.Rate(ctx, "EUR", "USD", today)

	// THEN: both fail with the date, and the provider was asked once
	var missing *engine.MissingExchangeRateError
	require.True(t, errors.As(err1, &missing))
	assert.Equal(t, today, missing.Date)
	assert.ErrorIs(t, err2, engine.ErrMissingExchangeRate)
	assert.Equal(t, 1, provider.findRate)

	got, err := r.Rate(ctx, "EUR", "USD", ago(1))
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("1.1")))
	assert.Equal(t, 2, provider.findRate)
}

func TestExchangeRateResolver_PreloadedWindowAnswersLocally(t *testing.T) {
	provider := &countingRates{rates: map[engine.Date]engine.Rate{
		ago(2): rate("EUR", "USD", ago(2), "1.1"),
		ago(1): rate("EUR", "USD", ago(1), "1.2"),
	}}
	r := engine.NewExchangeRateResolver(provider)
	ctx := context.Background()

	require.NoError(t, r.Preload(ctx, "EUR", "USD", ago(3), today))

	got, err := r.Convert(ctx, dec("10"), "EUR", "USD", ago(1))
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("12")))

	_, err = r.Rate(ctx, "EUR", "USD", ago(3))
	assert.ErrorIs(t, err, engine.ErrMissingExchangeRate)

	assert.Equal(t, 1, provider.findRates)
	assert.Zero(t, provider.findRate, "no single lookups inside a preloaded window")
}

func TestExchangeRateResolver_ConvertOrFallsBack(t *testing.T) {
	provider := &countingRates{failWith: errors.New("provider down")}
	r := engine.NewExchangeRateResolver(provider)

	got := r.ConvertOr(context.Background(), dec("42"), "EUR", "USD", today, dec("1"))
	assert.True(t, got.Equal(dec("42")))
}
