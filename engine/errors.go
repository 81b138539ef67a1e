/*
errors.go - Centralized error types for the reconciliation engine

ERROR CATEGORIES:
  1. Data-integrity gaps - missing price, missing exchange rate on a date.
     Absorbed by the engine and reported as Issues.
  2. Configuration gaps - no exchange rate provider at all.
  3. Programmer errors - a security was never preloaded into the cache.
     Returned immediately; the sync aborts.
  4. Store errors - wrapped with context and returned; the transaction rolls back.

USAGE:
    if errors.Is(err, engine.ErrMissingExchangeRates) {
        var missing *engine.MissingExchangeRatesError
        errors.As(err, &missing) // missing.Dates
    }
*/
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAccountNotFound is returned when the account to sync does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrSecurityNotFound means a price was requested for a security the
	// PortfolioCache never preloaded. This is a preload bug, not a data gap.
	ErrSecurityNotFound = errors.New("security not found in portfolio cache")

	// ErrMissingExchangeRate is returned by a single rate lookup with no rate.
	ErrMissingExchangeRate = errors.New("missing exchange rate")

	// ErrMissingExchangeRates is returned when a series conversion lacks
	// rates for one or more dates.
	ErrMissingExchangeRates = errors.New("missing exchange rates")

	// ErrMissingExchangeRateProvider is returned when conversion is needed
	// but no rate provider is configured.
	ErrMissingExchangeRateProvider = errors.New("missing exchange rate provider")

	// ErrInvalidEntry is returned for malformed entries.
	ErrInvalidEntry = errors.New("invalid entry")

	// ErrInvalidDirection is returned for an unknown sync strategy.
	ErrInvalidDirection = errors.New("invalid sync strategy")

	// ErrSyncInProgress is returned when the account is already syncing.
	ErrSyncInProgress = errors.New("sync already in progress for account")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// SecurityNotFoundError names the security and account of a cache miss.
type SecurityNotFoundError struct {
	SecurityID SecurityID
	AccountID  AccountID
}

func (e *SecurityNotFoundError) Error() string {
	return fmt.Sprintf("security %s not found in portfolio cache for account %s", e.SecurityID, e.AccountID)
}

func (e *SecurityNotFoundError) Unwrap() error { return ErrSecurityNotFound }

// MissingExchangeRateError is a single failed lookup.
type MissingExchangeRateError struct {
	From string
	To   string
	Date Date
}

func (e *MissingExchangeRateError) Error() string {
	return fmt.Sprintf("no exchange rate %s->%s on %s", e.From, e.To, e.Date)
}

func (e *MissingExchangeRateError) Unwrap() error { return ErrMissingExchangeRate }

// MissingExchangeRatesError lists every date of a series without a rate.
type MissingExchangeRatesError struct {
	From  string
	To    string
	Dates []Date
}

func (e *MissingExchangeRatesError) Error() string {
	ds := make([]string, len(e.Dates))
	for i, d := range e.Dates {
		ds[i] = d.String()
	}
	return fmt.Sprintf("missing exchange rates %s->%s for %d date(s): %s", e.From, e.To, len(e.Dates), strings.Join(ds, ", "))
}

func (e *MissingExchangeRatesError) Unwrap() error { return ErrMissingExchangeRates }

// InvalidEntryError describes why an entry was rejected.
type InvalidEntryError struct {
	EntryID EntryID
	Reason  string
}

func (e *InvalidEntryError) Error() string {
	if e.EntryID == "" {
		return "invalid entry: " + e.Reason
	}
	return fmt.Sprintf("invalid entry %s: %s", e.EntryID, e.Reason)
}

func (e *InvalidEntryError) Unwrap() error { return ErrInvalidEntry }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsDataGap returns true for missing market data that a sync absorbs.
func IsDataGap(err error) bool {
	return errors.Is(err, ErrMissingExchangeRate) ||
		errors.Is(err, ErrMissingExchangeRates) ||
		errors.Is(err, ErrMissingExchangeRateProvider)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidEntry) || errors.Is(err, ErrInvalidDirection)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}
