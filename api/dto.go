/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Account and entry
  payloads reuse the factory JSON types so the write and read shapes match.
  Derived rows (balances, holdings) carry decimals as strings plus a
  display string formatted in the row currency.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Accounts:  AccountDTO
  Entries:   factory.EntryJSON
  Sync:      SyncRequestDTO, SyncResultDTO
  Derived:   BalanceDTO, HoldingDTO, IssueDTO
  Market:    PriceDTO, RateDTO
  Scenarios: ScenarioDTO, LoadScenarioRequest

SEE ALSO:
  - handlers.go: Uses these types
  - factory/factory.go: AccountJSON, EntryJSON
*/
package api

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/warp/balance-engine/engine"
	"github.com/warp/balance-engine/factory"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	factory.AccountJSON
	BalanceType    string `json:"balance_type"`
	BalanceDisplay string `json:"balance_display"`
	IssueCount     int    `json:"issue_count"`
}

// =============================================================================
// SYNC
// =============================================================================

// SyncRequestDTO is the body of POST /api/accounts/{id}/sync.
type SyncRequestDTO struct {
	Strategy  string       `json:"strategy,omitempty"`
	StartDate *engine.Date `json:"start_date,omitempty"`
}

// SyncResultDTO summarizes a finished sync.
type SyncResultDTO struct {
	AccountID         string     `json:"account_id"`
	Strategy          string     `json:"strategy"`
	ValidStart        string     `json:"valid_start"`
	CalcStart         string     `json:"calc_start"`
	End               string     `json:"end"`
	Partial           bool       `json:"partial"`
	Holdings          int        `json:"holdings"`
	Balances          int        `json:"balances"`
	ConvertedBalances int        `json:"converted_balances"`
	PurgedHoldings    int64      `json:"purged_holdings"`
	PurgedBalances    int64      `json:"purged_balances"`
	Issues            []IssueDTO `json:"issues"`
}

// =============================================================================
// DERIVED ROWS
// =============================================================================

// BalanceDTO is one daily balance row.
type BalanceDTO struct {
	Date           string `json:"date"`
	Currency       string `json:"currency"`
	Balance        string `json:"balance"`
	CashBalance    string `json:"cash_balance"`
	NonCashBalance string `json:"non_cash_balance"`
	BalanceDisplay string `json:"balance_display"`
}

// HoldingDTO is one daily holding row.
type HoldingDTO struct {
	Date          string `json:"date"`
	SecurityID    string `json:"security_id"`
	Currency      string `json:"currency"`
	Quantity      string `json:"quantity"`
	Price         string `json:"price"`
	Amount        string `json:"amount"`
	AmountDisplay string `json:"amount_display"`
}

// IssueDTO is an open data-gap observation.
type IssueDTO struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	SecurityID string   `json:"security_id,omitempty"`
	Dates      []string `json:"dates,omitempty"`
	ObservedAt string   `json:"observed_at"`
}

// =============================================================================
// MARKET DATA
// =============================================================================

// PriceDTO is a security close price in POST /api/prices.
type PriceDTO struct {
	SecurityID string          `json:"security_id"`
	Date       engine.Date     `json:"date"`
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency"`
}

// RateDTO is an exchange rate in POST /api/exchange-rates.
type RateDTO struct {
	From string          `json:"from"`
	To   string          `json:"to"`
	Date engine.Date     `json:"date"`
	Rate decimal.Decimal `json:"rate"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toBalanceDTO(b engine.Balance) BalanceDTO {
	return BalanceDTO{
		Date:           b.Date.String(),
		Currency:       b.Currency,
		Balance:        b.Balance.String(),
		CashBalance:    b.CashBalance.String(),
		NonCashBalance: b.NonCashBalance().String(),
		BalanceDisplay: displayMoney(b.Balance, b.Currency),
	}
}

func toHoldingDTO(h engine.Holding) HoldingDTO {
	return HoldingDTO{
		Date:          h.Date.String(),
		SecurityID:    string(h.SecurityID),
		Currency:      h.Currency,
		Quantity:      h.Quantity.String(),
		Price:         h.Price.String(),
		Amount:        h.Amount.String(),
		AmountDisplay: displayMoney(h.Amount, h.Currency),
	}
}

func toIssueDTOs(issues []engine.Issue) []IssueDTO {
	dtos := make([]IssueDTO, len(issues))
	for i, is := range issues {
		dates := make([]string, len(is.Dates))
		for j, d := range is.Dates {
			dates[j] = d.String()
		}
		dtos[i] = IssueDTO{
			Code:       string(is.Code),
			Message:    is.Message,
			SecurityID: string(is.SecurityID),
			Dates:      dates,
			ObservedAt: is.ObservedAt.String(),
		}
	}
	return dtos
}

func toSyncResultDTO(res *engine.SyncResult) SyncResultDTO {
	return SyncResultDTO{
		AccountID:         string(res.AccountID),
		Strategy:          string(res.Strategy),
		ValidStart:        res.Window.ValidStart.String(),
		CalcStart:         res.Window.CalcStart.String(),
		End:               res.Window.End.String(),
		Partial:           res.Partial,
		Holdings:          res.Holdings,
		Balances:          res.Balances,
		ConvertedBalances: res.ConvertedBalances,
		PurgedHoldings:    res.PurgedHoldings,
		PurgedBalances:    res.PurgedBalances,
		Issues:            toIssueDTOs(res.Issues),
	}
}

// displayMoney formats an amount in its currency, e.g. "$1,234.50".
// Unknown currencies fall back to the plain decimal.
func displayMoney(amount decimal.Decimal, code string) string {
	c := money.GetCurrency(code)
	if c == nil {
		return amount.String() + " " + code
	}
	minor := amount.Shift(int32(c.Fraction)).Round(0).IntPart()
	return money.New(minor, c.Code).Display()
}
