package engine

import (
	"errors"
	"fmt"
	"sort"
)

// =============================================================================
// ISSUES - Data gaps observed during a sync, attached to the account
// =============================================================================

type IssueCode string

const (
	IssueMissingExchangeRateProvider IssueCode = "missing_exchange_rate_provider"
	IssueMissingExchangeRates        IssueCode = "missing_exchange_rates"
	IssueMissingPrices               IssueCode = "missing_prices"
)

// Issue is a structured observation that lets the account show a
// "balances may be incomplete" notice. Issues are replaced on every sync.
type Issue struct {
	AccountID  AccountID
	Code       IssueCode
	Message    string
	SecurityID SecurityID // set for missing_prices
	Dates      []Date
	ObservedAt Date
}

// MissingPrice records days a security had no resolvable price.
type MissingPrice struct {
	SecurityID SecurityID
	Dates      []Date
}

func issueFromConversion(account *Account, err error, on Date) Issue {
	issue := Issue{AccountID: account.ID, ObservedAt: on, Message: err.Error()}
	var missing *MissingExchangeRatesError
	if errors.As(err, &missing) {
		issue.Code = IssueMissingExchangeRates
		issue.Dates = missing.Dates
		return issue
	}
	issue.Code = IssueMissingExchangeRateProvider
	issue.Message = fmt.Sprintf("cannot convert %s balances to %s: %v", account.Currency, account.ReportingCurrency(), err)
	return issue
}

func issuesFromMissingPrices(account AccountID, missing []MissingPrice, on Date) []Issue {
	issues := make([]Issue, 0, len(missing))
	for _, m := range missing {
		issues = append(issues, Issue{
			AccountID:  account,
			Code:       IssueMissingPrices,
			SecurityID: m.SecurityID,
			Dates:      m.Dates,
			ObservedAt: on,
			Message:    fmt.Sprintf("no price for %s on %d day(s)", m.SecurityID, len(m.Dates)),
		})
	}
	sort.Slice(issues, func(i, j int) bool { return issues[i].SecurityID < issues[j].SecurityID })
	return issues
}
