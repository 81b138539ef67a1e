/*
balance.go - Daily balance series from entries and holdings

PER-DAY RULE (forward):
  1. Valuation on the day: it is the total. cash = V - holdings_value(d)
  2. Otherwise:           cash = prior_cash + signed_flows(d)
  3. non_cash:            holdings_value(d)
  4. balance:             cash + non_cash

SIGNED FLOWS:
  Flows are negated for (forward, asset) and (reverse, liability). Walking
  forward on a checking account, a positive transaction (money out) lowers
  cash; on a credit card it raises the debt.

LOANS:
  For a Loan, principal movement is the flow itself: flows move non_cash
  and a valuation sets non_cash = V - cash.

REVERSE:
  Starts from the account's cached cash_balance for today and walks back.
  A day is emitted with the state as of its close, then that day's flows
  are undone. A valuation sets the state for its day and is carried to the
  previous day without undoing the valuation day's flows.

CURRENCY:
  Every entry amount is converted into the account currency on its date
  before summing. The conversion is best effort (fallback rate 1).
*/
package engine

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE CALCULATOR
// =============================================================================

// BalanceCalculator derives one Balance per day from StartDate through Today.
type BalanceCalculator struct {
	Account   *Account
	Entries   []Entry
	Holdings  []Holding
	Direction Direction
	StartDate Date
	Today     Date

	// Anchor is the persisted row for StartDate-1 when a forward sync
	// starts inside the window. Nil starts from zero.
	Anchor *Balance

	Rates *ExchangeRateResolver
}

type balanceState struct {
	cash    decimal.Decimal
	nonCash decimal.Decimal
}

type dayEntries struct {
	flows     []Entry
	valuation *Entry
}

// Calculate returns the series sorted by date ascending, in the account currency.
func (c *BalanceCalculator) Calculate(ctx context.Context) []Balance {
	rates := c.Rates
	if rates == nil {
		rates = NewExchangeRateResolver(nil)
	}
	byDate := c.groupEntries()
	holdingsValue := HoldingsValue(c.Holdings)

	state := c.startingState()
	var balances []Balance
	if n := DaysBetween(c.StartDate, c.Today) + 1; n > 0 && !c.StartDate.IsZero() {
		balances = make([]Balance, 0, n)
	}

	Walk(c.Direction, c.StartDate, c.Today, func(on Date) bool {
		day := byDate[on]
		hv := holdingsValue[on]

		if day.valuation != nil {
			state = c.fromValuation(ctx, rates, state, *day.valuation, hv)
		} else if c.Direction == Forward {
			state = c.applyFlows(ctx, rates, state, day.flows)
		}
		if !c.Account.AbsorbsFlowsInNonCash() {
			state.nonCash = hv
		}

		balances = append(balances, Balance{
			AccountID:   c.Account.ID,
			Date:        on,
			Currency:    c.Account.Currency,
			Balance:     state.cash.Add(state.nonCash),
			CashBalance: state.cash,
		})

		if day.valuation == nil && c.Direction == Reverse {
			state = c.applyFlows(ctx, rates, state, day.flows)
		}
		return true
	})

	if c.Direction == Reverse {
		for i, j := 0, len(balances)-1; i < j; i, j = i+1, j-1 {
			balances[i], balances[j] = balances[j], balances[i]
		}
	}
	return balances
}

func (c *BalanceCalculator) startingState() balanceState {
	if c.Direction == Reverse {
		return balanceState{
			cash:    c.Account.CashBalance,
			nonCash: c.Account.Balance.Sub(c.Account.CashBalance),
		}
	}
	if c.Anchor != nil {
		return balanceState{cash: c.Anchor.CashBalance, nonCash: c.Anchor.NonCashBalance()}
	}
	return balanceState{}
}

func (c *BalanceCalculator) groupEntries() map[Date]dayEntries {
	byDate := make(map[Date]dayEntries)
	for i := range c.Entries {
		e := c.Entries[i]
		if e.Date.Before(c.StartDate) || e.Date.After(c.Today) {
			continue
		}
		day := byDate[e.Date]
		switch {
		case e.Kind == KindValuation:
			// The last valuation of the day wins.
			day.valuation = &e
		case e.IsFlow():
			day.flows = append(day.flows, e)
		}
		byDate[e.Date] = day
	}
	return byDate
}

// SignedFlows returns the net flow of the entries in the account currency,
// signed for the direction of the walk.
func (c *BalanceCalculator) SignedFlows(ctx context.Context, rates *ExchangeRateResolver, entries []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if !e.IsFlow() {
			continue
		}
		total = total.Add(rates.ConvertOr(ctx, e.Amount(), e.Currency(), c.Account.Currency, e.Date, one))
	}
	if c.Direction.negatesFlows(c.Account) {
		return total.Neg()
	}
	return total
}

func (c *BalanceCalculator) applyFlows(ctx context.Context, rates *ExchangeRateResolver, s balanceState, flows []Entry) balanceState {
	if len(flows) == 0 {
		return s
	}
	delta := c.SignedFlows(ctx, rates, flows)
	if c.Account.AbsorbsFlowsInNonCash() {
		s.nonCash = s.nonCash.Add(delta)
	} else {
		s.cash = s.cash.Add(delta)
	}
	return s
}

func (c *BalanceCalculator) fromValuation(ctx context.Context, rates *ExchangeRateResolver, s balanceState, v Entry, holdingsValue decimal.Decimal) balanceState {
	total := rates.ConvertOr(ctx, v.Amount(), v.Currency(), c.Account.Currency, v.Date, one)
	if c.Account.AbsorbsFlowsInNonCash() {
		s.nonCash = total.Sub(s.cash)
		return s
	}
	s.cash = total.Sub(holdingsValue)
	return s
}
