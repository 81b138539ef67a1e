package engine_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/balance-engine/engine"
)

// =============================================================================
// FORWARD
// =============================================================================

func TestHoldingCalculator_Forward_ReferenceScenario(t *testing.T) {
	// GIVEN: buy 20 @ 470, sell 15 @ 480, buy 5 @ 490, VOO at 500 today
	acct, entries, prices := vooScenario()
	cache := newTestCache(t, acct, newMemory(acct, entries, prices), nil, false)

	// WHEN
	calc := &engine.HoldingCalculator{Account: &acct, Cache: cache, Direction: engine.Forward, Today: today}
	series, err := calc.Calculate()
	require.NoError(t, err)

	// THEN: one row per day from the day before the first trade
	require.Len(t, series.Holdings, 5)
	assert.Empty(t, series.MissingPrices)

	voo := holdingsOf(series.Holdings, "VOO")
	expected := []struct {
		on     engine.Date
		qty    string
		amount string
	}{
		{ago(4), "0", "0"},
		{ago(3), "20", "9400"},
		{ago(2), "5", "2400"},
		{ago(1), "10", "4900"},
		{today, "10", "5000"},
	}
	for _, e := range expected {
		h, ok := voo[e.on]
		require.True(t, ok, "missing row on %s", e.on)
		assert.True(t, h.Quantity.Equal(dec(e.qty)), "qty on %s: %s", e.on, h.Quantity)
		assert.True(t, h.Amount.Equal(dec(e.amount)), "amount on %s: %s", e.on, h.Amount)
		assert.Equal(t, "USD", h.Currency)
	}
}

func TestHoldingCalculator_Forward_NoTradesNoRows(t *testing.T) {
	acct := investmentAccount()
	cache := newTestCache(t, acct, newMemory(acct, nil, nil), nil, false)

	series, err := (&engine.HoldingCalculator{Account: &acct, Cache: cache, Direction: engine.Forward, Today: today}).Calculate()

	require.NoError(t, err)
	assert.Empty(t, series.Holdings)
}

// =============================================================================
// REVERSE
// =============================================================================

func TestHoldingCalculator_ReverseMatchesForward(t *testing.T) {
	// GIVEN: the same scenario, known only through today's holding
	acct, entries, prices := vooScenario()
	mem := newMemory(acct, entries, prices)
	current := []engine.Holding{
		{AccountID: acct.ID, SecurityID: "VOO", Date: today, Currency: "USD", Quantity: dec("10"), Price: dec("500"), Amount: dec("5000")},
	}

	forward, err := (&engine.HoldingCalculator{
		Account: &acct, Cache: newTestCache(t, acct, mem, nil, false), Direction: engine.Forward, Today: today,
	}).Calculate()
	require.NoError(t, err)

	// WHEN: walking back from today's holdings to the same start
	reverse, err := (&engine.HoldingCalculator{
		Account:   &acct,
		Cache:     newTestCache(t, acct, mem, current, true),
		Direction: engine.Reverse,
		Today:     today,
		StartDate: ago(4),
		Current:   current,
	}).Calculate()
	require.NoError(t, err)

	// THEN
	if diff := cmp.Diff(forward.Holdings, reverse.Holdings, cmpOpts); diff != "" {
		t.Errorf("forward/reverse holdings differ (-forward +reverse):\n%s", diff)
	}
}

func TestHoldingCalculator_Reverse_UnknownAnchorSecurity(t *testing.T) {
	acct := investmentAccount()
	current := []engine.Holding{
		{AccountID: acct.ID, SecurityID: "GHOST", Date: today, Currency: "USD", Quantity: dec("1"), Price: dec("1"), Amount: dec("1")},
	}
	// Cache built without use_holdings never learns about GHOST.
	cache := newTestCache(t, acct, newMemory(acct, nil, nil), current, false)

	_, err := (&engine.HoldingCalculator{
		Account: &acct, Cache: cache, Direction: engine.Reverse, Today: today, StartDate: ago(2), Current: current,
	}).Calculate()

	assert.ErrorIs(t, err, engine.ErrSecurityNotFound)
}

func TestHoldingCalculator_Reverse_MissingPricesAreReportedAndFilled(t *testing.T) {
	// GIVEN: Y is held today with a single provider price two days ago
	acct := investmentAccount()
	current := []engine.Holding{
		{AccountID: acct.ID, SecurityID: "Y", Date: today, Currency: "USD", Quantity: dec("3"), Price: dec("50"), Amount: dec("150")},
	}
	mem := newMemory(acct, nil, []engine.Price{price("Y", ago(2), "45")})

	// WHEN
	series, err := (&engine.HoldingCalculator{
		Account:   &acct,
		Cache:     newTestCache(t, acct, mem, current, true),
		Direction: engine.Reverse,
		Today:     today,
		StartDate: ago(3),
		Current:   current,
	}).Calculate()
	require.NoError(t, err)

	// THEN: yesterday is carried forward from two days ago; three days ago
	// precedes the first priced row and stays empty
	y := holdingsOf(series.Holdings, "Y")
	require.Len(t, y, 3)
	assert.True(t, y[ago(1)].Price.Equal(dec("45")))
	assert.True(t, y[ago(1)].Amount.Equal(dec("135")))
	assert.True(t, y[today].Amount.Equal(dec("150")))
	_, ok := y[ago(3)]
	assert.False(t, ok)

	require.Len(t, series.MissingPrices, 1)
	assert.Equal(t, engine.SecurityID("Y"), series.MissingPrices[0].SecurityID)
	assert.Equal(t, []engine.Date{ago(3), ago(1)}, series.MissingPrices[0].Dates)
}

// =============================================================================
// GAP FILL
// =============================================================================

func TestGapfill_CarriesLastRowForward(t *testing.T) {
	rows := []engine.Holding{
		{SecurityID: "B", Date: ago(1), Quantity: dec("2"), Price: dec("5"), Amount: dec("10")},
		{SecurityID: "A", Date: ago(3), Quantity: dec("1"), Price: dec("7"), Amount: dec("7")},
	}

	filled := engine.Gapfill(rows, today)

	// A: ago(3)..today = 4 rows, B: ago(1)..today = 2 rows
	require.Len(t, filled, 6)
	assert.Equal(t, ago(3), filled[0].Date)
	a := holdingsOf(filled, "A")
	assert.True(t, a[today].Amount.Equal(dec("7")))
	b := holdingsOf(filled, "B")
	assert.True(t, b[today].Amount.Equal(dec("10")))

	// sorted by date then security
	last := filled[len(filled)-2:]
	assert.Equal(t, engine.SecurityID("A"), last[0].SecurityID)
	assert.Equal(t, engine.SecurityID("B"), last[1].SecurityID)
}

func TestCurrentPortfolio_LatestDateOnly(t *testing.T) {
	rows := []engine.Holding{
		{SecurityID: "A", Date: ago(2)},
		{SecurityID: "A", Date: ago(1)},
		{SecurityID: "B", Date: ago(1)},
		{SecurityID: "C", Date: today.AddDays(1)},
	}

	current := engine.CurrentPortfolio(rows, today)

	require.Len(t, current, 2)
	for _, h := range current {
		assert.Equal(t, ago(1), h.Date)
	}
}
