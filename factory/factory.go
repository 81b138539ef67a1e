/*
Package factory provides JSON to engine conversion for accounts and entries.

PURPOSE:
  Converts JSON account and entry payloads (API bodies, demo fixtures,
  provider feeds) into engine.Account and engine.Entry values, applying
  defaults and validating the result before anything reaches the store.

JSON SCHEMA:
  Account:
  {
    "id": "acct-brokerage",
    "name": "Brokerage",
    "currency": "USD",
    "family_currency": "EUR",
    "accountable_type": "Investment",
    "classification": "asset",        // optional, derived from the type
    "start_date": "2025-01-01",         // optional
    "balance": "0", "cash_balance": "0" // optional cached summary
  }

  Entry (kind selects which fields apply):
  {"kind": "transaction", "date": "2025-03-01", "amount": "42.10", "currency": "USD"}
  {"kind": "trade", "date": "2025-03-01", "security_id": "VOO", "quantity": "10", "price": "470"}
  {"kind": "valuation", "date": "2025-03-01", "amount": "10000"}

KEY FEATURES:
  - Decimals accepted as JSON strings or numbers
  - Currency codes upper-cased and checked against ISO 4217
  - Entry currency defaults to the account currency
  - Classification defaults from the accountable type

USAGE:
  f := factory.NewFactory()
  account, err := f.ParseAccount(jsonString)
  entry, err := f.EntryFromJSON(account, entryJSON)
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/warp/balance-engine/engine"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// AccountJSON is the JSON representation of an account.
type AccountJSON struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Currency        string           `json:"currency"`
	FamilyCurrency  string           `json:"family_currency,omitempty"`
	Classification  string           `json:"classification,omitempty"`
	AccountableType string           `json:"accountable_type"`
	StartDate       engine.Date      `json:"start_date,omitempty"`
	Balance         *decimal.Decimal `json:"balance,omitempty"`
	CashBalance     *decimal.Decimal `json:"cash_balance,omitempty"`
}

// EntryJSON is the JSON representation of an entry.
type EntryJSON struct {
	ID         string           `json:"id,omitempty"`
	Date       engine.Date      `json:"date"`
	Kind       string           `json:"kind"` // transaction, trade, valuation
	Name       string           `json:"name,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Currency   string           `json:"currency,omitempty"`
	SecurityID string           `json:"security_id,omitempty"`
	Quantity   *decimal.Decimal `json:"quantity,omitempty"`
	Price      *decimal.Decimal `json:"price,omitempty"`
}

// =============================================================================
// FACTORY
// =============================================================================

// Factory converts JSON payloads to engine values.
type Factory struct{}

// NewFactory creates a new factory.
func NewFactory() *Factory {
	return &Factory{}
}

// ParseAccount parses a JSON string into an Account.
func (f *Factory) ParseAccount(jsonStr string) (*engine.Account, error) {
	var aj AccountJSON
	if err := json.Unmarshal([]byte(jsonStr), &aj); err != nil {
		return nil, fmt.Errorf("failed to parse account JSON: %w", err)
	}
	return f.AccountFromJSON(aj)
}

// AccountFromJSON converts AccountJSON to an engine.Account.
func (f *Factory) AccountFromJSON(aj AccountJSON) (*engine.Account, error) {
	if aj.ID == "" {
		return nil, fmt.Errorf("account id is required")
	}
	accountable, err := parseAccountableType(aj.AccountableType)
	if err != nil {
		return nil, err
	}
	currency, err := parseCurrency(aj.Currency)
	if err != nil {
		return nil, err
	}

	account := &engine.Account{
		ID:              engine.AccountID(aj.ID),
		Name:            aj.Name,
		Currency:        currency,
		AccountableType: accountable,
		Classification:  accountable.DefaultClassification(),
		StartDate:       aj.StartDate,
	}
	if account.Name == "" {
		account.Name = aj.ID
	}
	if aj.FamilyCurrency != "" {
		if account.FamilyCurrency, err = parseCurrency(aj.FamilyCurrency); err != nil {
			return nil, err
		}
	}
	if aj.Classification != "" {
		if account.Classification, err = parseClassification(aj.Classification); err != nil {
			return nil, err
		}
	}
	if aj.Balance != nil {
		account.Balance = *aj.Balance
	}
	if aj.CashBalance != nil {
		account.CashBalance = *aj.CashBalance
	} else {
		account.CashBalance = account.Balance
	}
	return account, nil
}

// AccountToJSON converts an Account to AccountJSON.
func (f *Factory) AccountToJSON(a *engine.Account) AccountJSON {
	balance, cash := a.Balance, a.CashBalance
	return AccountJSON{
		ID:              string(a.ID),
		Name:            a.Name,
		Currency:        a.Currency,
		FamilyCurrency:  a.FamilyCurrency,
		Classification:  string(a.Classification),
		AccountableType: string(a.AccountableType),
		StartDate:       a.StartDate,
		Balance:         &balance,
		CashBalance:     &cash,
	}
}

// ParseEntry parses a JSON string into an Entry for the account.
func (f *Factory) ParseEntry(account *engine.Account, jsonStr string) (engine.Entry, error) {
	var ej EntryJSON
	if err := json.Unmarshal([]byte(jsonStr), &ej); err != nil {
		return engine.Entry{}, fmt.Errorf("failed to parse entry JSON: %w", err)
	}
	return f.EntryFromJSON(account, ej)
}

// EntryFromJSON converts EntryJSON to a validated engine.Entry. The id may
// be empty; the store assigns one.
func (f *Factory) EntryFromJSON(account *engine.Account, ej EntryJSON) (engine.Entry, error) {
	invalid := func(msg string) error { return &engine.InvalidEntryError{EntryID: engine.EntryID(ej.ID), Reason: msg} }

	currency := account.Currency
	if ej.Currency != "" {
		var err error
		if currency, err = parseCurrency(ej.Currency); err != nil {
			return engine.Entry{}, invalid(err.Error())
		}
	}
	id := engine.EntryID(ej.ID)

	var e engine.Entry
	switch engine.EntryKind(ej.Kind) {
	case engine.KindTransaction:
		if ej.Amount == nil {
			return engine.Entry{}, invalid("transaction requires amount")
		}
		e = engine.NewTransactionEntry(id, account.ID, ej.Date, *ej.Amount, currency)
	case engine.KindTrade:
		if ej.Quantity == nil || ej.Price == nil {
			return engine.Entry{}, invalid("trade requires quantity and price")
		}
		if ej.Price.IsNegative() {
			return engine.Entry{}, invalid("trade price must not be negative")
		}
		e = engine.NewTradeEntry(id, account.ID, ej.Date, engine.SecurityID(ej.SecurityID), *ej.Quantity, *ej.Price, currency)
	case engine.KindValuation:
		if ej.Amount == nil {
			return engine.Entry{}, invalid("valuation requires amount")
		}
		e = engine.NewValuationEntry(id, account.ID, ej.Date, *ej.Amount, currency)
	default:
		return engine.Entry{}, invalid(fmt.Sprintf("unknown kind %q", ej.Kind))
	}
	e.Name = ej.Name

	if err := e.Validate(); err != nil {
		return engine.Entry{}, err
	}
	return e, nil
}

// EntryToJSON converts an Entry to EntryJSON.
func (f *Factory) EntryToJSON(e engine.Entry) EntryJSON {
	ej := EntryJSON{
		ID:       string(e.ID),
		Date:     e.Date,
		Kind:     string(e.Kind),
		Name:     e.Name,
		Currency: e.Currency(),
	}
	switch e.Kind {
	case engine.KindTrade:
		qty, price := e.Trade.Quantity, e.Trade.Price
		ej.SecurityID = string(e.Trade.SecurityID)
		ej.Quantity, ej.Price = &qty, &price
	default:
		amount := e.Amount()
		ej.Amount = &amount
	}
	return ej
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseAccountableType(s string) (engine.AccountableType, error) {
	for _, t := range []engine.AccountableType{
		engine.Depository, engine.CreditCard, engine.Investment, engine.Crypto,
		engine.Property, engine.Vehicle, engine.OtherAsset, engine.Loan, engine.OtherLiability,
	} {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown accountable_type %q", s)
}

func parseClassification(s string) (engine.Classification, error) {
	switch engine.Classification(strings.ToLower(s)) {
	case engine.Asset:
		return engine.Asset, nil
	case engine.Liability:
		return engine.Liability, nil
	}
	return "", fmt.Errorf("unknown classification %q", s)
}

// parseCurrency upper-cases and checks an ISO 4217 code.
func parseCurrency(s string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(s))
	if code == "" {
		return "", fmt.Errorf("currency is required")
	}
	if money.GetCurrency(code) == nil {
		return "", fmt.Errorf("unknown currency %q", s)
	}
	return code, nil
}
