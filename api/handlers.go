/*
handlers.go - HTTP API handlers for the balance engine

PURPOSE:
  Exposes accounts, entries, market data and derived rows over REST, and
  triggers syncs through the SyncRunner. Handles HTTP request/response and
  JSON serialization; all computation lives in the engine.

ENDPOINTS:
  Accounts:
    GET    /api/accounts                         List accounts
    POST   /api/accounts                         Create or replace an account
    GET    /api/accounts/{id}                    Account with cached summary

  Entries:
    GET    /api/accounts/{id}/entries            Entries ordered by date
    POST   /api/accounts/{id}/entries            Add an entry
    DELETE /api/accounts/{id}/entries/{entryID}  Remove an entry

  Sync and derived rows:
    POST   /api/accounts/{id}/sync               Materialize holdings and balances
    GET    /api/accounts/{id}/balances?currency= Daily balances (default: native)
    GET    /api/accounts/{id}/holdings?date=     Daily holdings (all or one day)
    GET    /api/accounts/{id}/issues             Open data-gap observations

  Market data:
    POST   /api/prices                           Upsert security prices
    POST   /api/exchange-rates                   Upsert exchange rates

ERROR HANDLING:
  Errors are returned as JSON {error, details} with:
  - 400: Invalid entry, strategy, date or body
  - 404: Account or entry not found
  - 409: Sync already running for the account
  - 500: Internal errors

SECURITY NOTE:
  No authentication. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/balance-engine/engine"
	"github.com/warp/balance-engine/factory"
	"github.com/warp/balance-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Factory *factory.Factory
	Runner  *SyncRunner
	Logger  zerolog.Logger

	// Clock dates demo scenarios relative to today.
	Clock engine.Clock

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler. The runner's materializer must use store.
func NewHandler(store *sqlite.Store, runner *SyncRunner, logger zerolog.Logger) *Handler {
	clock := engine.Clock(engine.Today)
	if runner.Materializer.Clock != nil {
		clock = runner.Materializer.Clock
	}
	return &Handler{
		Store:   store,
		Factory: factory.NewFactory(),
		Runner:  runner,
		Logger:  logger.With().Str("component", "api").Logger(),
		Clock:   clock,
	}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns all accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Store.Accounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, 0, len(accounts))
	for i := range accounts {
		dto, err := h.accountDTO(r, &accounts[i])
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load issues", err)
			return
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAccount returns a single account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := h.loadAccount(w, r)
	if !ok {
		return
	}
	dto, err := h.accountDTO(r, account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load issues", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// CreateAccount creates or replaces an account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req factory.AccountJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	account, err := h.Factory.AccountFromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid account", err)
		return
	}
	if err := h.Store.SaveAccount(r.Context(), *account); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save account", err)
		return
	}

	dto, err := h.accountDTO(r, account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load issues", err)
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

func (h *Handler) accountDTO(r *http.Request, a *engine.Account) (AccountDTO, error) {
	issues, err := h.Store.LoadIssues(r.Context(), a.ID)
	if err != nil {
		return AccountDTO{}, err
	}
	return AccountDTO{
		AccountJSON:    h.Factory.AccountToJSON(a),
		BalanceType:    string(a.AccountableType.BalanceType()),
		BalanceDisplay: displayMoney(a.Balance, a.Currency),
		IssueCount:     len(issues),
	}, nil
}

// =============================================================================
// ENTRY HANDLERS
// =============================================================================

// ListEntries returns the account's entries ordered by date.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	account, ok := h.loadAccount(w, r)
	if !ok {
		return
	}
	entries, err := h.Store.LoadEntries(r.Context(), account.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load entries", err)
		return
	}

	dtos := make([]factory.EntryJSON, len(entries))
	for i, e := range entries {
		dtos[i] = h.Factory.EntryToJSON(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEntry adds an entry. Derived rows change on the next sync.
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	account, ok := h.loadAccount(w, r)
	if !ok {
		return
	}

	var req factory.EntryJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := h.Factory.EntryFromJSON(account, req)
	if err != nil {
		writeEngineError(w, "Invalid entry", err)
		return
	}
	saved, err := h.Store.SaveEntry(r.Context(), entry)
	if err != nil {
		writeEngineError(w, "Failed to save entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.Factory.EntryToJSON(saved))
}

// DeleteEntry removes an entry.
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	account, ok := h.loadAccount(w, r)
	if !ok {
		return
	}
	entryID := engine.EntryID(chi.URLParam(r, "entryID"))

	deleted, err := h.Store.DeleteEntry(r.Context(), account.ID, entryID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete entry", err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "Entry not found", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SYNC AND DERIVED ROWS
// =============================================================================

// SyncAccount materializes the account's holdings and balances.
func (h *Handler) SyncAccount(w http.ResponseWriter, r *http.Request) {
	id := engine.AccountID(chi.URLParam(r, "id"))

	var req SyncRequestDTO
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	strategy, err := engine.ParseDirection(req.Strategy)
	if err != nil {
		writeEngineError(w, "Invalid strategy", err)
		return
	}

	res, err := h.Runner.Sync(r.Context(), engine.SyncRequest{
		AccountID: id,
		Strategy:  strategy,
		StartDate: req.StartDate,
	})
	if err != nil {
		writeEngineError(w, "Sync failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toSyncResultDTO(res))
}

// ListBalances returns daily balances in one currency.
func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	account, ok := h.loadAccount(w, r)
	if !ok {
		return
	}
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		currency = account.Currency
	}

	balances, err := h.Store.LoadBalances(r.Context(), account.ID, currency)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load balances", err)
		return
	}
	dtos := make([]BalanceDTO, len(balances))
	for i, b := range balances {
		dtos[i] = toBalanceDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListHoldings returns daily holdings, optionally for a single date.
func (h *Handler) ListHoldings(w http.ResponseWriter, r *http.Request) {
	account, ok := h.loadAccount(w, r)
	if !ok {
		return
	}

	var (
		holdings []engine.Holding
		err      error
	)
	if ds := r.URL.Query().Get("date"); ds != "" {
		on, perr := engine.ParseDate(ds)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", perr)
			return
		}
		holdings, err = h.Store.HoldingsOn(r.Context(), account.ID, on)
	} else {
		holdings, err = h.Store.LoadHoldings(r.Context(), account.ID)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load holdings", err)
		return
	}

	dtos := make([]HoldingDTO, len(holdings))
	for i, hd := range holdings {
		dtos[i] = toHoldingDTO(hd)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListIssues returns the account's open issues.
func (h *Handler) ListIssues(w http.ResponseWriter, r *http.Request) {
	account, ok := h.loadAccount(w, r)
	if !ok {
		return
	}
	issues, err := h.Store.LoadIssues(r.Context(), account.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load issues", err)
		return
	}
	writeJSON(w, http.StatusOK, toIssueDTOs(issues))
}

// =============================================================================
// MARKET DATA
// =============================================================================

// SavePrices upserts security prices.
func (h *Handler) SavePrices(w http.ResponseWriter, r *http.Request) {
	var req []PriceDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	prices := make([]engine.Price, len(req))
	for i, p := range req {
		if p.SecurityID == "" || p.Date.IsZero() || p.Currency == "" {
			writeError(w, http.StatusBadRequest, "Price requires security_id, date and currency", nil)
			return
		}
		prices[i] = engine.Price{SecurityID: engine.SecurityID(p.SecurityID), Date: p.Date, Price: p.Price, Currency: p.Currency}
	}
	if err := h.Store.SavePrices(r.Context(), prices); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save prices", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": len(prices)})
}

// SaveRates upserts exchange rates.
func (h *Handler) SaveRates(w http.ResponseWriter, r *http.Request) {
	var req []RateDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rates := make([]engine.Rate, len(req))
	for i, rt := range req {
		if rt.From == "" || rt.To == "" || rt.Date.IsZero() || !rt.Rate.IsPositive() {
			writeError(w, http.StatusBadRequest, "Rate requires from, to, date and a positive rate", nil)
			return
		}
		rates[i] = engine.Rate{From: rt.From, To: rt.To, Date: rt.Date, Rate: rt.Rate}
	}
	if err := h.Store.SaveRates(r.Context(), rates); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save rates", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": len(rates)})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.setCurrentScenario("")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// loadAccount resolves {id}, writing a 404 when it does not exist.
func (h *Handler) loadAccount(w http.ResponseWriter, r *http.Request) (*engine.Account, bool) {
	id := engine.AccountID(chi.URLParam(r, "id"))
	account, err := h.Store.GetAccount(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to get account", err)
		return nil, false
	}
	return account, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError picks the status from the engine error class.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case engine.IsClientError(err):
		status = http.StatusBadRequest
	case engine.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrSyncInProgress):
		status = http.StatusConflict
	}
	writeError(w, status, message, err)
}
