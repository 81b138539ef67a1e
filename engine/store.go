/*
store.go - Persistence and market-data interfaces

PURPOSE:
  Defines the boundary between the engine and its collaborators. The engine
  reads entries and existing derived rows, and writes derived rows back with
  upsert-by-unique-key semantics plus range purges.

KEY INTERFACES:
  Store:         Reads (accounts, entries, holdings, balances) + writes
  TxStore:       Store with an atomic unit (WithTx)
  PriceProvider: Daily security prices
  RateProvider:  Daily exchange rates

MATERIALIZED VIEW CONTRACT:
  Holdings and balances are derived. A sync upserts the recomputed rows and
  purges rows outside the valid window, all inside one WithTx call. If any
  step fails nothing is visible.

UNIQUE KEYS:
  holdings: (account_id, security_id, date, currency)
  balances: (account_id, date, currency)

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - engine/store/memory.go: In-memory for testing
*/
package engine

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Account data and derived rows
// =============================================================================

type Store interface {
	// GetAccount returns ErrAccountNotFound when the account does not exist.
	GetAccount(ctx context.Context, id AccountID) (*Account, error)

	// ListAccounts returns every account id, sorted.
	ListAccounts(ctx context.Context) ([]AccountID, error)

	// LoadEntries returns every entry of the account, ordered by date then id.
	LoadEntries(ctx context.Context, id AccountID) ([]Entry, error)

	// LoadHoldings returns persisted holdings, ordered by date then security.
	LoadHoldings(ctx context.Context, id AccountID) ([]Holding, error)

	// LoadBalances returns persisted balances in one currency, ordered by date.
	LoadBalances(ctx context.Context, id AccountID, currency string) ([]Balance, error)

	// BalanceOn returns the persisted balance row or nil.
	BalanceOn(ctx context.Context, id AccountID, on Date, currency string) (*Balance, error)

	// LoadIssues returns the open issues of the account.
	LoadIssues(ctx context.Context, id AccountID) ([]Issue, error)

	Writer
}

// Writer holds every write the materializer performs.
type Writer interface {
	// UpsertHoldings inserts or overwrites rows by unique key.
	UpsertHoldings(ctx context.Context, holdings []Holding) error

	// UpsertBalances inserts or overwrites rows by unique key.
	UpsertBalances(ctx context.Context, balances []Balance) error

	// PurgeHoldings deletes holdings dated before `before` or whose security
	// is not in keep. Returns the number of deleted rows.
	PurgeHoldings(ctx context.Context, id AccountID, before Date, keep []SecurityID) (int64, error)

	// PurgeBalances deletes balances dated before `before`, and rows of any
	// currency not in currencies. Returns the number of deleted rows.
	PurgeBalances(ctx context.Context, id AccountID, before Date, currencies []string) (int64, error)

	// UpdateAccountBalance writes the cached summary fields.
	UpdateAccountBalance(ctx context.Context, id AccountID, balance, cash decimal.Decimal) error

	// ReplaceIssues replaces every open issue of the account.
	ReplaceIssues(ctx context.Context, id AccountID, issues []Issue) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// MARKET DATA PROVIDERS
// =============================================================================

// PriceProvider returns stored or provider-fetched daily prices.
type PriceProvider interface {
	FindPrices(ctx context.Context, security SecurityID, start, end Date) ([]Price, error)
}

// RateProvider returns daily exchange rates.
type RateProvider interface {
	// FindRate returns nil, nil when no rate exists for the day.
	FindRate(ctx context.Context, from, to string, on Date) (*Rate, error)

	// FindRates returns every known rate in [start, end], ordered by date.
	FindRates(ctx context.Context, from, to string, start, end Date) ([]Rate, error)
}
