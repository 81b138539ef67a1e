package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/balance-engine/engine"
	"github.com/warp/balance-engine/engine/store"
)

var day = engine.NewDate(2025, time.June, 15)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	mem := store.NewTxMemory()
	mem.SaveAccount(engine.Account{ID: "a", Currency: "USD"})

	// GIVEN: a committed row
	require.NoError(t, mem.UpsertBalances(ctx, []engine.Balance{{AccountID: "a", Date: day, Currency: "USD", Balance: dec("1")}}))

	// WHEN: a transaction writes and then fails
	boom := errors.New("boom")
	err := mem.WithTx(ctx, func(s engine.Store) error {
		if err := s.UpsertBalances(ctx, []engine.Balance{{AccountID: "a", Date: day, Currency: "USD", Balance: dec("2")}}); err != nil {
			return err
		}
		if err := s.UpdateAccountBalance(ctx, "a", dec("2"), dec("2")); err != nil {
			return err
		}
		return boom
	})

	// THEN: nothing from the transaction is visible
	require.ErrorIs(t, err, boom)
	b, err := mem.BalanceOn(ctx, "a", day, "USD")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.True(t, b.Balance.Equal(dec("1")))
	acct, err := mem.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.True(t, acct.Balance.IsZero())
}

func TestPurge_KeepsListedSecuritiesAndCurrencies(t *testing.T) {
	ctx := context.Background()
	mem := store.NewTxMemory()

	require.NoError(t, mem.UpsertHoldings(ctx, []engine.Holding{
		{AccountID: "a", SecurityID: "VOO", Date: day.AddDays(-5), Currency: "USD"},
		{AccountID: "a", SecurityID: "VOO", Date: day, Currency: "USD"},
		{AccountID: "a", SecurityID: "AAPL", Date: day, Currency: "USD"},
	}))
	require.NoError(t, mem.UpsertBalances(ctx, []engine.Balance{
		{AccountID: "a", Date: day, Currency: "USD"},
		{AccountID: "a", Date: day, Currency: "GBP"},
		{AccountID: "a", Date: day.AddDays(-5), Currency: "USD"},
	}))

	n, err := mem.PurgeHoldings(ctx, "a", day.AddDays(-1), []engine.SecurityID{"VOO"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "stale VOO row and the untracked AAPL row")

	n, err = mem.PurgeBalances(ctx, "a", day.AddDays(-1), []string{"USD"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	holdings, err := mem.LoadHoldings(ctx, "a")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, engine.SecurityID("VOO"), holdings[0].SecurityID)
}

func TestMarketData_Lookups(t *testing.T) {
	ctx := context.Background()
	mem := store.NewTxMemory()
	mem.AddPrices(
		engine.Price{SecurityID: "VOO", Date: day.AddDays(-1), Price: dec("500"), Currency: "USD"},
		engine.Price{SecurityID: "VOO", Date: day, Price: dec("510"), Currency: "USD"},
	)
	mem.AddRates(engine.Rate{From: "EUR", To: "USD", Date: day, Rate: dec("1.1")})

	prices, err := mem.FindPrices(ctx, "VOO", day, day)
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.True(t, prices[0].Price.Equal(dec("510")))

	rate, err := mem.FindRate(ctx, "EUR", "USD", day)
	require.NoError(t, err)
	require.NotNil(t, rate)

	missing, err := mem.FindRate(ctx, "EUR", "USD", day.AddDays(-1))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDeleteEntry(t *testing.T) {
	mem := store.NewTxMemory()
	mem.AddEntries(engine.NewTransactionEntry("e1", "a", day, dec("5"), "USD"))

	assert.True(t, mem.DeleteEntry("a", "e1"))
	assert.False(t, mem.DeleteEntry("a", "e1"))

	entries, err := mem.LoadEntries(context.Background(), "a")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
