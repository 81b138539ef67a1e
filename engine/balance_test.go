package engine_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/balance-engine/engine"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func calculateBalances(acct engine.Account, entries []engine.Entry, holdings []engine.Holding, dir engine.Direction, start engine.Date, rates engine.RateProvider) []engine.Balance {
	calc := &engine.BalanceCalculator{
		Account:   &acct,
		Entries:   entries,
		Holdings:  holdings,
		Direction: dir,
		StartDate: start,
		Today:     today,
		Rates:     engine.NewExchangeRateResolver(rates),
	}
	return calc.Calculate(context.Background())
}

func assertBalance(t *testing.T, byDate map[engine.Date]engine.Balance, on engine.Date, balance, cash string) {
	t.Helper()
	b, ok := byDate[on]
	require.True(t, ok, "missing balance on %s", on)
	assert.True(t, b.Balance.Equal(dec(balance)), "balance on %s: got %s want %s", on, b.Balance, balance)
	assert.True(t, b.CashBalance.Equal(dec(cash)), "cash on %s: got %s want %s", on, b.CashBalance, cash)
}

// =============================================================================
// FORWARD
// =============================================================================

func TestBalanceCalculator_Forward_AssetFlowsAndConservation(t *testing.T) {
	// GIVEN: a checking account with an outflow and an inflow
	acct := checkingAccount()
	entries := []engine.Entry{
		txn(acct.ID, ago(4), "100"),
		txn(acct.ID, ago(2), "-500"),
		txn(acct.ID, ago(2), "25"),
	}

	// WHEN
	balances := calculateBalances(acct, entries, nil, engine.Forward, ago(5), nil)

	// THEN: dense from start through today, positive amounts reduce cash
	require.Len(t, balances, 6)
	assert.Equal(t, ago(5), balances[0].Date)
	assert.Equal(t, today, balances[len(balances)-1].Date)

	byDate := balancesByDate(balances)
	assertBalance(t, byDate, ago(5), "0", "0")
	assertBalance(t, byDate, ago(4), "-100", "-100")
	assertBalance(t, byDate, ago(2), "375", "375")
	assertBalance(t, byDate, today, "375", "375")

	// Conservation: each day moves by the negated sum of its flows.
	flows := map[engine.Date]string{ago(4): "-100", ago(2): "475"}
	for i := 1; i < len(balances); i++ {
		want := dec("0")
		if f, ok := flows[balances[i].Date]; ok {
			want = dec(f)
		}
		delta := balances[i].Balance.Sub(balances[i-1].Balance)
		assert.True(t, delta.Equal(want), "delta on %s: %s", balances[i].Date, delta)
	}
}

func TestBalanceCalculator_Forward_ValuationOverrides(t *testing.T) {
	// GIVEN: a flow, then a 10,000 valuation, then an inflow
	acct := checkingAccount()
	entries := []engine.Entry{
		txn(acct.ID, ago(5), "100"),
		valuation(acct.ID, ago(3), "10000"),
		txn(acct.ID, ago(1), "-500"),
	}

	balances := balancesByDate(calculateBalances(acct, entries, nil, engine.Forward, ago(6), nil))

	assertBalance(t, balances, ago(4), "-100", "-100")
	assertBalance(t, balances, ago(3), "10000", "10000")
	assertBalance(t, balances, ago(2), "10000", "10000")
	assertBalance(t, balances, today, "10500", "10500")
}

func TestBalanceCalculator_Forward_ValuationBacksOutHoldings(t *testing.T) {
	// GIVEN: an investment account holding 4,000 of securities on X
	acct := investmentAccount()
	x := ago(2)
	holdings := []engine.Holding{
		{AccountID: acct.ID, SecurityID: "VOO", Date: x, Currency: "USD", Quantity: dec("8"), Price: dec("500"), Amount: dec("4000")},
	}
	entries := []engine.Entry{valuation(acct.ID, x, "10000")}

	balances := balancesByDate(calculateBalances(acct, entries, holdings, engine.Forward, x, nil))

	// THEN: balance[X] == V and cash == V - holdings value
	assertBalance(t, balances, x, "10000", "6000")
	// the next day has no holdings row in this fixture
	assertBalance(t, balances, ago(1), "6000", "6000")
}

func TestBalanceCalculator_Forward_SameDayValuationWins(t *testing.T) {
	acct := checkingAccount()
	entries := []engine.Entry{
		txn(acct.ID, ago(1), "999"),
		valuation(acct.ID, ago(1), "50"),
	}

	balances := balancesByDate(calculateBalances(acct, entries, nil, engine.Forward, ago(2), nil))

	assertBalance(t, balances, ago(1), "50", "50")
}

func TestBalanceCalculator_Forward_LiabilityFlowsIncreaseDebt(t *testing.T) {
	acct := engine.Account{ID: "cc", Currency: "USD", Classification: engine.Liability, AccountableType: engine.CreditCard}
	entries := []engine.Entry{
		txn(acct.ID, ago(2), "300"),
		txn(acct.ID, ago(1), "-100"),
	}

	balances := balancesByDate(calculateBalances(acct, entries, nil, engine.Forward, ago(3), nil))

	assertBalance(t, balances, ago(3), "0", "0")
	assertBalance(t, balances, ago(2), "300", "300")
	assertBalance(t, balances, today, "200", "200")
}

func TestBalanceCalculator_Forward_LoanFlowsMoveNonCash(t *testing.T) {
	// GIVEN: a loan valued at 10,000 and a 500 payment
	acct := engine.Account{ID: "loan", Currency: "USD", Classification: engine.Liability, AccountableType: engine.Loan}
	entries := []engine.Entry{
		valuation(acct.ID, ago(3), "10000"),
		txn(acct.ID, ago(2), "-500"),
	}

	balances := calculateBalances(acct, entries, nil, engine.Forward, ago(3), nil)
	byDate := balancesByDate(balances)

	// THEN: the principal is non-cash and the payment reduces it
	assertBalance(t, byDate, ago(3), "10000", "0")
	assertBalance(t, byDate, ago(2), "9500", "0")
	assertBalance(t, byDate, today, "9500", "0")
	assert.True(t, byDate[today].NonCashBalance().Equal(dec("9500")))
}

func TestBalanceCalculator_Forward_InvestmentNonCashIsHoldingsValue(t *testing.T) {
	acct, entries, prices := vooScenario()
	cache := newTestCache(t, acct, newMemory(acct, entries, prices), nil, false)
	series, err := (&engine.HoldingCalculator{Account: &acct, Cache: cache, Direction: engine.Forward, Today: today}).Calculate()
	require.NoError(t, err)

	balances := balancesByDate(calculateBalances(acct, entries, series.Holdings, engine.Forward, ago(4), nil))

	assertBalance(t, balances, ago(4), "0", "0")
	assertBalance(t, balances, ago(3), "0", "-9400")
	assertBalance(t, balances, ago(2), "200", "-2200")
	assertBalance(t, balances, ago(1), "250", "-4650")
	assertBalance(t, balances, today, "350", "-4650")
}

func TestBalanceCalculator_Forward_ConvertsEntryCurrencies(t *testing.T) {
	// GIVEN: a USD account with a EUR outflow, EUR->USD 1.1 on the day
	acct := checkingAccount()
	entries := []engine.Entry{engine.NewTransactionEntry("eur", acct.ID, ago(1), dec("100"), "EUR")}
	mem := newMemory(acct, entries, nil, rate("EUR", "USD", ago(1), "1.1"))

	balances := balancesByDate(calculateBalances(acct, entries, nil, engine.Forward, ago(2), mem))

	assertBalance(t, balances, ago(1), "-110", "-110")
}

func TestBalanceCalculator_Forward_AnchorsOnPreviousRow(t *testing.T) {
	acct := checkingAccount()
	entries := []engine.Entry{txn(acct.ID, ago(1), "50")}
	calc := &engine.BalanceCalculator{
		Account:   &acct,
		Entries:   entries,
		Direction: engine.Forward,
		StartDate: ago(2),
		Today:     today,
		Anchor:    &engine.Balance{Date: ago(3), Balance: dec("1000"), CashBalance: dec("1000")},
	}

	balances := balancesByDate(calc.Calculate(context.Background()))

	require.Len(t, balances, 3)
	assertBalance(t, balances, ago(2), "1000", "1000")
	assertBalance(t, balances, today, "950", "950")
}

// =============================================================================
// REVERSE
// =============================================================================

func TestBalanceCalculator_ReverseMatchesForward(t *testing.T) {
	// GIVEN: a complete trade history and the forward result as today's anchor
	acct, entries, prices := vooScenario()
	cache := newTestCache(t, acct, newMemory(acct, entries, prices), nil, false)
	series, err := (&engine.HoldingCalculator{Account: &acct, Cache: cache, Direction: engine.Forward, Today: today}).Calculate()
	require.NoError(t, err)

	forward := calculateBalances(acct, entries, series.Holdings, engine.Forward, ago(4), nil)
	latest := forward[len(forward)-1]
	acct.Balance, acct.CashBalance = latest.Balance, latest.CashBalance

	// WHEN
	reverse := calculateBalances(acct, entries, series.Holdings, engine.Reverse, ago(4), nil)

	// THEN
	if diff := cmp.Diff(forward, reverse, cmpOpts); diff != "" {
		t.Errorf("forward/reverse balances differ (-forward +reverse):\n%s", diff)
	}
}

func TestBalanceCalculator_Reverse_ValuationSetsItsDay(t *testing.T) {
	// GIVEN: today's cash is 10,500; a 10,000 valuation three days ago
	acct := checkingAccount()
	acct.Balance, acct.CashBalance = dec("10500"), dec("10500")
	entries := []engine.Entry{
		txn(acct.ID, ago(5), "100"),
		valuation(acct.ID, ago(3), "10000"),
		txn(acct.ID, ago(1), "-500"),
	}

	balances := balancesByDate(calculateBalances(acct, entries, nil, engine.Reverse, ago(6), nil))

	// THEN: flows are undone walking back, the valuation resets its own day
	assertBalance(t, balances, today, "10500", "10500")
	assertBalance(t, balances, ago(1), "10500", "10500")
	assertBalance(t, balances, ago(2), "10000", "10000")
	assertBalance(t, balances, ago(3), "10000", "10000")
	assertBalance(t, balances, ago(5), "10000", "10000")
	assertBalance(t, balances, ago(6), "10100", "10100")
}

func TestBalanceCalculator_Reverse_LiabilityUndoesCharges(t *testing.T) {
	acct := engine.Account{ID: "cc", Currency: "USD", Classification: engine.Liability, AccountableType: engine.CreditCard,
		Balance: dec("200"), CashBalance: dec("200")}
	entries := []engine.Entry{
		txn(acct.ID, ago(2), "300"),
		txn(acct.ID, ago(1), "-100"),
	}

	balances := balancesByDate(calculateBalances(acct, entries, nil, engine.Reverse, ago(3), nil))

	assertBalance(t, balances, today, "200", "200")
	assertBalance(t, balances, ago(1), "200", "200")
	assertBalance(t, balances, ago(2), "300", "300")
	assertBalance(t, balances, ago(3), "0", "0")
}

func TestBalanceCalculator_Reverse_LoanAnchorsOnNonCash(t *testing.T) {
	acct := engine.Account{ID: "loan", Currency: "USD", Classification: engine.Liability, AccountableType: engine.Loan,
		Balance: dec("9500"), CashBalance: dec("0")}
	entries := []engine.Entry{txn(acct.ID, ago(1), "-500")}

	balances := balancesByDate(calculateBalances(acct, entries, nil, engine.Reverse, ago(2), nil))

	assertBalance(t, balances, today, "9500", "0")
	assertBalance(t, balances, ago(1), "9500", "0")
	assertBalance(t, balances, ago(2), "10000", "0")
}
