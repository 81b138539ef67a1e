/*
Package engine provides the account balance and holding reconciliation engine.

PURPOSE:
  Given a sparse, out-of-order stream of financial events for one account
  (transactions, trades, valuations), the engine rebuilds a dense daily
  time series of holdings and balances. Derived rows are never patched
  in place: every sync recomputes the affected window and replaces it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: the owner of entries, with a native currency and classification
  - Entry: a dated event, exactly one of Transaction | Trade | Valuation
  - Holding: a security position on one day (quantity x price = amount)
  - Balance: cash / non-cash / total for one day and one currency
  - Direction: forward (oldest to today) or reverse (today to oldest)

DESIGN PRINCIPLES:
  1. Precision: every amount is a decimal.Decimal
  2. Derived state: holdings and balances are a pure function of entries
  3. Explicit caches: prices and rates are preloaded once per sync and
     passed to the calculators, never looked up lazily in the day loop

SEE ALSO:
  - portfolio.go: price and trade preload
  - holding.go / balance.go: the daily walks
  - materializer.go: calculate -> persist -> purge orchestration
*/
package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type SecurityID string
type EntryID string

// =============================================================================
// ACCOUNT
// =============================================================================

type Classification string

const (
	Asset     Classification = "asset"
	Liability Classification = "liability"
)

// AccountableType is the kind of product behind an account.
type AccountableType string

const (
	Depository     AccountableType = "Depository"
	CreditCard     AccountableType = "CreditCard"
	Investment     AccountableType = "Investment"
	Crypto         AccountableType = "Crypto"
	Property       AccountableType = "Property"
	Vehicle        AccountableType = "Vehicle"
	OtherAsset     AccountableType = "OtherAsset"
	Loan           AccountableType = "Loan"
	OtherLiability AccountableType = "OtherLiability"
)

// BalanceType groups accountable types by how their balance is composed.
type BalanceType string

const (
	BalanceCash       BalanceType = "cash"
	BalanceInvestment BalanceType = "investment"
	BalanceNonCash    BalanceType = "non_cash"
)

// BalanceType returns how balances of this accountable type are composed.
func (t AccountableType) BalanceType() BalanceType {
	switch t {
	case Investment, Crypto:
		return BalanceInvestment
	case Property, Vehicle, OtherAsset, Loan, OtherLiability:
		return BalanceNonCash
	default:
		return BalanceCash
	}
}

// DefaultClassification returns the usual classification for the type.
func (t AccountableType) DefaultClassification() Classification {
	switch t {
	case CreditCard, Loan, OtherLiability:
		return Liability
	default:
		return Asset
	}
}

// Account is owned outside the engine. The engine reads it and only writes
// the cached Balance and CashBalance fields.
type Account struct {
	ID              AccountID
	Name            string
	Currency        string
	FamilyCurrency  string // reporting currency; empty means same as Currency
	Classification  Classification
	AccountableType AccountableType
	StartDate       Date // nominal start; zero when unknown
	Balance         decimal.Decimal
	CashBalance     decimal.Decimal
}

func (a *Account) IsAsset() bool     { return a.Classification != Liability }
func (a *Account) IsLiability() bool { return a.Classification == Liability }

// AbsorbsFlowsInNonCash reports whether transaction flows move the non-cash
// balance instead of cash (loan principal is the flow).
func (a *Account) AbsorbsFlowsInNonCash() bool { return a.AccountableType == Loan }

// ReportingCurrency returns the family currency, defaulting to the native one.
func (a *Account) ReportingCurrency() string {
	if a.FamilyCurrency == "" {
		return a.Currency
	}
	return a.FamilyCurrency
}

// =============================================================================
// ENTRY - Tagged union over Transaction | Trade | Valuation
// =============================================================================

type EntryKind string

const (
	KindTransaction EntryKind = "transaction"
	KindTrade       EntryKind = "trade"
	KindValuation   EntryKind = "valuation"
)

// Transaction is a signed cash flow. Positive amounts are outflows for an
// asset account and new debt for a liability account.
type Transaction struct {
	Amount   decimal.Decimal
	Currency string
}

// Trade is a securities trade. Quantity is signed: buys are positive.
type Trade struct {
	SecurityID SecurityID
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Currency   string
}

// Amount is the cash flow of the trade (quantity x price).
func (t Trade) Amount() decimal.Decimal { return t.Quantity.Mul(t.Price) }

// Valuation is an absolute total balance snapshot, not a flow.
type Valuation struct {
	Amount   decimal.Decimal
	Currency string
}

// Entry is a dated event for an account. Kind selects which one of
// Transaction, Trade or Valuation is set.
type Entry struct {
	ID        EntryID
	AccountID AccountID
	Date      Date
	Kind      EntryKind
	Name      string

	Transaction *Transaction
	Trade       *Trade
	Valuation   *Valuation
}

// NewTransactionEntry builds a transaction entry.
func NewTransactionEntry(id EntryID, account AccountID, on Date, amount decimal.Decimal, currency string) Entry {
	return Entry{ID: id, AccountID: account, Date: on, Kind: KindTransaction,
		Transaction: &Transaction{Amount: amount, Currency: currency}}
}

// NewTradeEntry builds a trade entry.
func NewTradeEntry(id EntryID, account AccountID, on Date, security SecurityID, qty, price decimal.Decimal, currency string) Entry {
	return Entry{ID: id, AccountID: account, Date: on, Kind: KindTrade,
		Trade: &Trade{SecurityID: security, Quantity: qty, Price: price, Currency: currency}}
}

// NewValuationEntry builds a valuation entry.
func NewValuationEntry(id EntryID, account AccountID, on Date, amount decimal.Decimal, currency string) Entry {
	return Entry{ID: id, AccountID: account, Date: on, Kind: KindValuation,
		Valuation: &Valuation{Amount: amount, Currency: currency}}
}

// Amount returns the entry's amount: the flow for transactions and trades,
// the absolute total for valuations.
func (e Entry) Amount() decimal.Decimal {
	switch e.Kind {
	case KindTransaction:
		return e.Transaction.Amount
	case KindTrade:
		return e.Trade.Amount()
	case KindValuation:
		return e.Valuation.Amount
	}
	return decimal.Zero
}

// Currency returns the currency the entry is denominated in.
func (e Entry) Currency() string {
	switch e.Kind {
	case KindTransaction:
		return e.Transaction.Currency
	case KindTrade:
		return e.Trade.Currency
	case KindValuation:
		return e.Valuation.Currency
	}
	return ""
}

// IsFlow reports whether the entry moves the balance (transactions and trades).
func (e Entry) IsFlow() bool { return e.Kind == KindTransaction || e.Kind == KindTrade }

// Validate checks the discriminant matches exactly one populated variant.
func (e Entry) Validate() error {
	invalid := func(msg string) error { return &InvalidEntryError{EntryID: e.ID, Reason: msg} }
	if e.Date.IsZero() {
		return invalid("missing date")
	}
	set := 0
	for _, ok := range []bool{e.Transaction != nil, e.Trade != nil, e.Valuation != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return invalid(fmt.Sprintf("expected exactly one variant, got %d", set))
	}
	switch e.Kind {
	case KindTransaction:
		if e.Transaction == nil {
			return invalid("kind transaction without transaction data")
		}
	case KindTrade:
		if e.Trade == nil {
			return invalid("kind trade without trade data")
		}
		if e.Trade.SecurityID == "" {
			return invalid("trade without security")
		}
		if e.Trade.Quantity.IsZero() {
			return invalid("trade with zero quantity")
		}
	case KindValuation:
		if e.Valuation == nil {
			return invalid("kind valuation without valuation data")
		}
	default:
		return invalid(fmt.Sprintf("unknown kind %q", e.Kind))
	}
	if e.Currency() == "" {
		return invalid("missing currency")
	}
	return nil
}

// =============================================================================
// DERIVED ROWS
// =============================================================================

// Holding is one security position on one day.
// Unique key: (AccountID, SecurityID, Date, Currency).
type Holding struct {
	AccountID  AccountID
	SecurityID SecurityID
	Date       Date
	Currency   string
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Amount     decimal.Decimal
}

// Balance is the account balance on one day in one currency.
// Unique key: (AccountID, Date, Currency).
type Balance struct {
	AccountID   AccountID
	Date        Date
	Currency    string
	Balance     decimal.Decimal
	CashBalance decimal.Decimal
}

// NonCashBalance is the holdings / non-cash part of the total.
func (b Balance) NonCashBalance() decimal.Decimal { return b.Balance.Sub(b.CashBalance) }

// =============================================================================
// MARKET DATA
// =============================================================================

// Price is a security close price on one day.
type Price struct {
	SecurityID SecurityID
	Date       Date
	Price      decimal.Decimal
	Currency   string
}

// Rate converts one unit of From into Rate units of To on Date.
type Rate struct {
	From string
	To   string
	Date Date
	Rate decimal.Decimal
}

// =============================================================================
// DIRECTION
// =============================================================================

// Direction is the time direction of a sync walk. It doubles as the sync strategy.
type Direction string

const (
	Forward Direction = "forward"
	Reverse Direction = "reverse"
)

// ParseDirection accepts "forward" or "reverse"; empty means forward.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case "", Forward:
		return Forward, nil
	case Reverse:
		return Reverse, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

// negatesFlows reports whether entry flows are subtracted during this walk.
// Forward on an asset and reverse on a liability negate flows.
func (d Direction) negatesFlows(a *Account) bool {
	if d == Reverse {
		return a.IsLiability()
	}
	return a.IsAsset()
}
