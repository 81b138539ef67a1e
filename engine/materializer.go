/*
materializer.go - Sync orchestration: calculate -> convert -> persist -> purge

FLOW (one account, one call):
  1. Load account, entries and persisted holdings
  2. Derive the window (valid start, calc start, today)
  3. Preload exchange rates and build the PortfolioCache
  4. HoldingCalculator -> dense holdings
  5. BalanceCalculator -> dense native balances (consumes holdings)
  6. BalanceConverter  -> reporting-currency balances, when they differ
  7. WithTx: upsert holdings + balances, purge stale rows, update the
     account summary (forward only), replace issues

FAILURE SEMANTICS:
  Missing prices and missing exchange rates are data gaps. They never abort
  the sync: they become Issues and, for conversion, the converted dimension
  is skipped while native rows persist. Store errors and preload bugs
  (SecurityNotFoundError) abort the sync; the transaction rolls back.

IDEMPOTENCE:
  The result is a pure function of the stored entries, prices and rates, so
  re-running a sync rewrites the same rows. A cancelled sync can simply be
  retried.
*/
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// =============================================================================
// MATERIALIZER
// =============================================================================

// Materializer is the sync orchestrator for a single account.
//
// Concurrent syncs of the same account must be serialized by the caller.
type Materializer struct {
	Store  TxStore
	Prices PriceProvider // nil: trade-implied and holding prices only
	Rates  RateProvider  // nil: no conversion possible

	// Clock returns today. Nil means the wall clock.
	Clock Clock

	// Logger receives sync diagnostics. The zero value discards them.
	Logger zerolog.Logger

	// UseHoldings widens forward syncs to securities that only appear in
	// persisted holdings. Reverse syncs always use them.
	UseHoldings bool
}

// SyncRequest is the job payload: account, strategy and optional start date.
type SyncRequest struct {
	AccountID AccountID
	Strategy  Direction
	StartDate *Date
}

// SyncResult summarizes one materialization.
type SyncResult struct {
	AccountID AccountID
	Strategy  Direction
	Window    Window

	// Partial is false when a partial forward sync had to widen to the full
	// window because the previous day's row was missing.
	Partial bool

	Holdings          int
	Balances          int
	ConvertedBalances int
	PurgedHoldings    int64
	PurgedBalances    int64

	Issues []Issue
}

// Materialize recomputes and persists the holdings and balances of one account.
func (m *Materializer) Materialize(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	strategy := req.Strategy
	if strategy == "" {
		strategy = Forward
	}
	if strategy != Forward && strategy != Reverse {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDirection, strategy)
	}
	today := m.today()
	log := m.Logger.With().
		Str("component", "materializer").
		Str("account_id", string(req.AccountID)).
		Str("strategy", string(strategy)).
		Logger()

	account, err := m.Store.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	entries, err := m.Store.LoadEntries(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	existing, err := m.Store.LoadHoldings(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("load holdings: %w", err)
	}

	window := NewWindow(account, entries, req.StartDate, today)
	if strategy == Reverse {
		// Reverse always walks from today back to the valid start.
		window.CalcStart = window.ValidStart
	}
	log.Debug().
		Stringer("valid_start", window.ValidStart).
		Stringer("calc_start", window.CalcStart).
		Int("entries", len(entries)).
		Msg("sync started")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ---- Preload ----
	rates := NewExchangeRateResolver(m.Rates)
	for _, cur := range entryCurrencies(entries) {
		if err := rates.Preload(ctx, cur, account.Currency, window.ValidStart, today); err != nil {
			return nil, err
		}
	}
	useHoldings := m.UseHoldings || strategy == Reverse
	cache, err := NewPortfolioCache(ctx, account, PortfolioCacheOptions{
		Entries:     entries,
		Holdings:    existing,
		UseHoldings: useHoldings,
		Prices:      m.Prices,
		Rates:       rates,
		Start:       window.ValidStart,
		End:         today,
	})
	if err != nil {
		return nil, err
	}

	// ---- Holdings ----
	holdingCalc := &HoldingCalculator{
		Account:   account,
		Cache:     cache,
		Direction: strategy,
		Today:     today,
		Current:   existing,
	}
	if strategy == Reverse {
		holdingCalc.StartDate = window.ValidStart
	}
	series, err := holdingCalc.Calculate()
	if err != nil {
		return nil, fmt.Errorf("calculate holdings: %w", err)
	}
	holdings := holdingsFrom(series.Holdings, window.ValidStart)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ---- Balances ----
	anchor, calcStart, err := m.anchor(ctx, account, strategy, window)
	if err != nil {
		return nil, err
	}
	balanceCalc := &BalanceCalculator{
		Account:   account,
		Entries:   entries,
		Holdings:  holdings,
		Direction: strategy,
		StartDate: calcStart,
		Today:     today,
		Anchor:    anchor,
		Rates:     rates,
	}
	balances := balanceCalc.Calculate(ctx)

	issues := issuesFromMissingPrices(account.ID, series.MissingPrices, today)
	if len(series.MissingPrices) > 0 {
		log.Warn().Int("securities", len(series.MissingPrices)).Msg("missing prices")
	}

	// ---- Conversion ----
	var converted []Balance
	if target := account.ReportingCurrency(); target != account.Currency {
		converter := &BalanceConverter{Rates: rates}
		converted, err = converter.Convert(ctx, balances, target)
		switch {
		case err == nil:
		case IsDataGap(err):
			log.Warn().Err(err).Str("target", target).Msg("conversion skipped")
			issues = append(issues, issueFromConversion(account, err, today))
			converted = nil
		default:
			return nil, fmt.Errorf("convert balances: %w", err)
		}
	}

	// ---- Persist ----
	result := &SyncResult{
		AccountID:         account.ID,
		Strategy:          strategy,
		Window:            Window{ValidStart: window.ValidStart, CalcStart: calcStart, End: today},
		Partial:           calcStart.After(window.ValidStart),
		Holdings:          len(holdings),
		Balances:          len(balances),
		ConvertedBalances: len(converted),
		Issues:            issues,
	}
	err = m.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.UpsertHoldings(ctx, holdings); err != nil {
			return fmt.Errorf("upsert holdings: %w", err)
		}
		if err := tx.UpsertBalances(ctx, append(append([]Balance{}, balances...), converted...)); err != nil {
			return fmt.Errorf("upsert balances: %w", err)
		}

		purged, err := tx.PurgeHoldings(ctx, account.ID, window.ValidStart, cache.Securities())
		if err != nil {
			return fmt.Errorf("purge holdings: %w", err)
		}
		result.PurgedHoldings = purged

		currencies := []string{account.Currency}
		if target := account.ReportingCurrency(); target != account.Currency {
			currencies = append(currencies, target)
		}
		purged, err = tx.PurgeBalances(ctx, account.ID, window.ValidStart, currencies)
		if err != nil {
			return fmt.Errorf("purge balances: %w", err)
		}
		result.PurgedBalances = purged

		if strategy == Forward && len(balances) > 0 {
			latest := balances[len(balances)-1]
			if err := tx.UpdateAccountBalance(ctx, account.ID, latest.Balance, latest.CashBalance); err != nil {
				return fmt.Errorf("update account balance: %w", err)
			}
		}
		if err := tx.ReplaceIssues(ctx, account.ID, issues); err != nil {
			return fmt.Errorf("replace issues: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("sync rolled back")
		return nil, err
	}

	log.Info().
		Int("holdings", result.Holdings).
		Int("balances", result.Balances).
		Int("converted", result.ConvertedBalances).
		Int64("purged_holdings", result.PurgedHoldings).
		Int64("purged_balances", result.PurgedBalances).
		Int("issues", len(result.Issues)).
		Msg("sync finished")
	return result, nil
}

func (m *Materializer) today() Date {
	if m.Clock != nil {
		return m.Clock()
	}
	return Today()
}

// anchor resolves the starting row of a partial forward sync. It returns the
// persisted balance of the day before calc start, or widens to the full
// window when that row is missing.
func (m *Materializer) anchor(ctx context.Context, account *Account, strategy Direction, w Window) (*Balance, Date, error) {
	if strategy != Forward || !w.IsPartial() {
		return nil, w.ValidStart, nil
	}
	prev, err := m.Store.BalanceOn(ctx, account.ID, w.CalcStart.AddDays(-1), account.Currency)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return nil, Date{}, fmt.Errorf("load anchor balance: %w", err)
	}
	if prev == nil {
		m.Logger.Debug().
			Str("component", "materializer").
			Str("account_id", string(account.ID)).
			Stringer("calc_start", w.CalcStart).
			Msg("no anchor row, widening to full window")
		return nil, w.ValidStart, nil
	}
	return prev, w.CalcStart, nil
}

// holdingsFrom drops rows dated before the valid start.
func holdingsFrom(holdings []Holding, from Date) []Holding {
	out := holdings[:0:0]
	for _, h := range holdings {
		if !h.Date.Before(from) {
			out = append(out, h)
		}
	}
	return out
}

// entryCurrencies returns the distinct entry currencies in first-seen order.
func entryCurrencies(entries []Entry) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range entries {
		cur := e.Currency()
		if cur == "" || seen[cur] {
			continue
		}
		seen[cur] = true
		out = append(out, cur)
	}
	return out
}
