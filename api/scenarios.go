/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	accounts, entries and market data, then run a forward sync so the
	balances and holdings endpoints have data immediately.

AVAILABLE SCENARIOS:

	investment:     Brokerage with deposits, buys and a sell; daily prices
	multi_currency: EUR checking reported in USD, with a GBP purchase
	loan:           Mortgage anchored by a valuation, paid down monthly

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create accounts via the factory
 3. Add entries dated relative to today
 4. Add prices and exchange rates
 5. Sync every account forward

SIGN CONVENTION:

	For assets a positive transaction amount is money leaving the account.
	Trades carry signed quantities: positive buys, negative sells.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "investment"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase
  - factory/factory.go: Account JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/balance-engine/engine"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "investment",
		Name:        "Brokerage Account",
		Description: "Cash deposits, VOO and AAPL trades with daily provider prices",
		Category:    "investment",
	},
	{
		ID:          "multi_currency",
		Name:        "Multi-Currency Checking",
		Description: "EUR checking account reported in USD with a GBP card purchase",
		Category:    "cash",
	},
	{
		ID:          "loan",
		Name:        "Mortgage",
		Description: "Loan principal set by a valuation and reduced by monthly payments",
		Category:    "liability",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.getCurrentScenario()
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var loader func(context.Context, engine.Date) error
	switch req.ScenarioID {
	case "investment":
		loader = h.loadInvestmentScenario
	case "multi_currency":
		loader = h.loadMultiCurrencyScenario
	case "loan":
		loader = h.loadLoanScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.setCurrentScenario("")

	if err := loader(ctx, h.Clock()); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	outcomes, err := h.Runner.SyncAll(ctx, engine.Forward)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to sync scenario", err)
		return
	}
	for _, o := range outcomes {
		if o.Err != nil {
			writeEngineError(w, "Failed to sync scenario account "+string(o.AccountID), o.Err)
			return
		}
	}

	h.setCurrentScenario(req.ScenarioID)
	h.Logger.Info().Str("scenario", req.ScenarioID).Int("accounts", len(outcomes)).Msg("scenario loaded")

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

func (h *Handler) getCurrentScenario() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentScenario
}

func (h *Handler) setCurrentScenario(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentScenario = id
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadInvestmentScenario: deposit 10,000, buy VOO, buy AAPL, trim VOO.
func (h *Handler) loadInvestmentScenario(ctx context.Context, today engine.Date) error {
	account, err := h.createAccountFromJSON(ctx, fmt.Sprintf(`{
		"id": "brokerage",
		"name": "Brokerage",
		"currency": "USD",
		"accountable_type": "Investment",
		"start_date": %q
	}`, today.AddDays(-31)))
	if err != nil {
		return err
	}

	entries := []engine.Entry{
		engine.NewTransactionEntry("", account.ID, today.AddDays(-30), d("-10000"), "USD"),
		engine.NewTradeEntry("", account.ID, today.AddDays(-25), "VOO", d("10"), d("470"), "USD"),
		engine.NewTradeEntry("", account.ID, today.AddDays(-10), "AAPL", d("5"), d("190"), "USD"),
		engine.NewTradeEntry("", account.ID, today.AddDays(-5), "VOO", d("-2"), d("480"), "USD"),
		engine.NewTransactionEntry("", account.ID, today.AddDays(-2), d("250"), "USD"),
	}
	entries[4].Name = "Advisory fee"
	if err := h.saveEntries(ctx, entries); err != nil {
		return err
	}

	var prices []engine.Price
	for i := 25; i >= 0; i-- {
		on := today.AddDays(-i)
		prices = append(prices, engine.Price{SecurityID: "VOO", Date: on, Price: d("470").Add(decimal.NewFromInt(int64(25 - i))), Currency: "USD"})
		if i <= 10 {
			prices = append(prices, engine.Price{SecurityID: "AAPL", Date: on, Price: d("190").Sub(decimal.NewFromInt(int64(10-i)).Div(d("2"))), Currency: "USD"})
		}
	}
	return h.Store.SavePrices(ctx, prices)
}

// loadMultiCurrencyScenario: EUR salary and rent, one GBP purchase, USD reporting.
func (h *Handler) loadMultiCurrencyScenario(ctx context.Context, today engine.Date) error {
	account, err := h.createAccountFromJSON(ctx, `{
		"id": "eur-checking",
		"name": "Girokonto",
		"currency": "EUR",
		"family_currency": "USD",
		"accountable_type": "Depository"
	}`)
	if err != nil {
		return err
	}

	entries := []engine.Entry{
		engine.NewValuationEntry("", account.ID, today.AddDays(-20), d("1500"), "EUR"),
		engine.NewTransactionEntry("", account.ID, today.AddDays(-15), d("-3200"), "EUR"),
		engine.NewTransactionEntry("", account.ID, today.AddDays(-14), d("1100"), "EUR"),
		engine.NewTransactionEntry("", account.ID, today.AddDays(-6), d("85.40"), "GBP"),
	}
	entries[1].Name = "Salary"
	entries[2].Name = "Rent"
	entries[3].Name = "London bookshop"
	if err := h.saveEntries(ctx, entries); err != nil {
		return err
	}

	var rates []engine.Rate
	for i := 20; i >= 0; i-- {
		on := today.AddDays(-i)
		drift := decimal.NewFromInt(int64(i)).Div(d("1000"))
		rates = append(rates,
			engine.Rate{From: "EUR", To: "USD", Date: on, Rate: d("1.08").Add(drift)},
			engine.Rate{From: "GBP", To: "EUR", Date: on, Rate: d("1.17").Sub(drift)},
		)
	}
	return h.Store.SaveRates(ctx, rates)
}

// loadLoanScenario: 250,000 principal, three monthly payments.
func (h *Handler) loadLoanScenario(ctx context.Context, today engine.Date) error {
	account, err := h.createAccountFromJSON(ctx, `{
		"id": "mortgage",
		"name": "Mortgage",
		"currency": "USD",
		"accountable_type": "Loan"
	}`)
	if err != nil {
		return err
	}

	entries := []engine.Entry{
		engine.NewValuationEntry("", account.ID, today.AddDays(-90), d("250000"), "USD"),
		engine.NewTransactionEntry("", account.ID, today.AddDays(-60), d("-1450"), "USD"),
		engine.NewTransactionEntry("", account.ID, today.AddDays(-30), d("-1450"), "USD"),
		engine.NewTransactionEntry("", account.ID, today.AddDays(-1), d("-1450"), "USD"),
	}
	for i := 1; i < len(entries); i++ {
		entries[i].Name = "Monthly payment"
	}
	return h.saveEntries(ctx, entries)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) createAccountFromJSON(ctx context.Context, jsonStr string) (*engine.Account, error) {
	account, err := h.Factory.ParseAccount(jsonStr)
	if err != nil {
		return nil, err
	}
	if err := h.Store.SaveAccount(ctx, *account); err != nil {
		return nil, err
	}
	return account, nil
}

func (h *Handler) saveEntries(ctx context.Context, entries []engine.Entry) error {
	for _, e := range entries {
		if _, err := h.Store.SaveEntry(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }
