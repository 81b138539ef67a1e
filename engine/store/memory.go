// Package store provides in-memory engine.TxStore, PriceProvider and
// RateProvider implementations for tests and demos.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/balance-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	state *memoryState
}

type holdingKey struct {
	AccountID  engine.AccountID
	SecurityID engine.SecurityID
	Date       engine.Date
	Currency   string
}

type balanceKey struct {
	AccountID engine.AccountID
	Date      engine.Date
	Currency  string
}

type pairKey struct{ From, To string }

type memoryState struct {
	accounts map[engine.AccountID]engine.Account
	entries  map[engine.AccountID][]engine.Entry
	holdings map[holdingKey]engine.Holding
	balances map[balanceKey]engine.Balance
	issues   map[engine.AccountID][]engine.Issue
	prices   map[engine.SecurityID]map[engine.Date]engine.Price
	rates    map[pairKey]map[engine.Date]engine.Rate
}

func newMemoryState() *memoryState {
	return &memoryState{
		accounts: make(map[engine.AccountID]engine.Account),
		entries:  make(map[engine.AccountID][]engine.Entry),
		holdings: make(map[holdingKey]engine.Holding),
		balances: make(map[balanceKey]engine.Balance),
		issues:   make(map[engine.AccountID][]engine.Issue),
		prices:   make(map[engine.SecurityID]map[engine.Date]engine.Price),
		rates:    make(map[pairKey]map[engine.Date]engine.Rate),
	}
}

func NewMemory() *Memory {
	return &Memory{state: newMemoryState()}
}

// =============================================================================
// SETUP - Account data and market data owned outside the engine
// =============================================================================

// SaveAccount inserts or replaces an account.
func (m *Memory) SaveAccount(a engine.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.accounts[a.ID] = a
}

// AddEntries appends entries to their accounts.
func (m *Memory) AddEntries(entries ...engine.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.state.entries[e.AccountID] = append(m.state.entries[e.AccountID], e)
	}
}

// DeleteEntry removes an entry. Returns false if it does not exist.
func (m *Memory) DeleteEntry(account engine.AccountID, id engine.EntryID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.state.entries[account]
	for i, e := range entries {
		if e.ID == id {
			m.state.entries[account] = append(entries[:i:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

// AddPrices stores daily prices; a later price for the same day wins.
func (m *Memory) AddPrices(prices ...engine.Price) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range prices {
		byDate := m.state.prices[p.SecurityID]
		if byDate == nil {
			byDate = make(map[engine.Date]engine.Price)
			m.state.prices[p.SecurityID] = byDate
		}
		byDate[p.Date] = p
	}
}

// AddRates stores daily exchange rates; a later rate for the same day wins.
func (m *Memory) AddRates(rates ...engine.Rate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rates {
		k := pairKey{r.From, r.To}
		byDate := m.state.rates[k]
		if byDate == nil {
			byDate = make(map[engine.Date]engine.Rate)
			m.state.rates[k] = byDate
		}
		byDate[r.Date] = r
	}
}

// =============================================================================
// engine.Store
// =============================================================================

func (m *Memory) GetAccount(_ context.Context, id engine.AccountID) (*engine.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getAccount(id)
}

func (m *Memory) ListAccounts(_ context.Context) ([]engine.AccountID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listAccounts(), nil
}

func (m *Memory) LoadEntries(_ context.Context, id engine.AccountID) ([]engine.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.loadEntries(id), nil
}

func (m *Memory) LoadHoldings(_ context.Context, id engine.AccountID) ([]engine.Holding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.loadHoldings(id), nil
}

func (m *Memory) LoadBalances(_ context.Context, id engine.AccountID, currency string) ([]engine.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.loadBalances(id, currency), nil
}

func (m *Memory) BalanceOn(_ context.Context, id engine.AccountID, on engine.Date, currency string) (*engine.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.balanceOn(id, on, currency), nil
}

func (m *Memory) LoadIssues(_ context.Context, id engine.AccountID) ([]engine.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]engine.Issue(nil), m.state.issues[id]...), nil
}

func (m *Memory) UpsertHoldings(_ context.Context, holdings []engine.Holding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.upsertHoldings(holdings)
	return nil
}

func (m *Memory) UpsertBalances(_ context.Context, balances []engine.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.upsertBalances(balances)
	return nil
}

func (m *Memory) PurgeHoldings(_ context.Context, id engine.AccountID, before engine.Date, keep []engine.SecurityID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.purgeHoldings(id, before, keep), nil
}

func (m *Memory) PurgeBalances(_ context.Context, id engine.AccountID, before engine.Date, currencies []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.purgeBalances(id, before, currencies), nil
}

func (m *Memory) UpdateAccountBalance(_ context.Context, id engine.AccountID, balance, cash decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.updateAccountBalance(id, balance, cash)
}

func (m *Memory) ReplaceIssues(_ context.Context, id engine.AccountID, issues []engine.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.replaceIssues(id, issues)
	return nil
}

// =============================================================================
// engine.PriceProvider / engine.RateProvider
// =============================================================================

func (m *Memory) FindPrices(_ context.Context, security engine.SecurityID, start, end engine.Date) ([]engine.Price, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.Price
	for d, p := range m.state.prices[security] {
		if inRange(d, start, end) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *Memory) FindRate(_ context.Context, from, to string, on engine.Date) (*engine.Rate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.state.rates[pairKey{from, to}][on]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) FindRates(_ context.Context, from, to string, start, end engine.Date) ([]engine.Rate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.Rate
	for d, r := range m.state.rates[pairKey{from, to}] {
		if inRange(d, start, end) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func inRange(d, start, end engine.Date) bool {
	return (start.IsZero() || !d.Before(start)) && (end.IsZero() || !d.After(end))
}

// =============================================================================
// STATE OPERATIONS - Callers hold the lock
// =============================================================================

func (s *memoryState) getAccount(id engine.AccountID) (*engine.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, engine.ErrAccountNotFound
	}
	return &a, nil
}

func (s *memoryState) listAccounts() []engine.AccountID {
	ids := make([]engine.AccountID, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *memoryState) loadEntries(id engine.AccountID) []engine.Entry {
	out := append([]engine.Entry(nil), s.entries[id]...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *memoryState) loadHoldings(id engine.AccountID) []engine.Holding {
	var out []engine.Holding
	for k, h := range s.holdings {
		if k.AccountID == id {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].SecurityID < out[j].SecurityID
	})
	return out
}

func (s *memoryState) loadBalances(id engine.AccountID, currency string) []engine.Balance {
	var out []engine.Balance
	for k, b := range s.balances {
		if k.AccountID == id && k.Currency == currency {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func (s *memoryState) balanceOn(id engine.AccountID, on engine.Date, currency string) *engine.Balance {
	b, ok := s.balances[balanceKey{id, on, currency}]
	if !ok {
		return nil
	}
	return &b
}

func (s *memoryState) upsertHoldings(holdings []engine.Holding) {
	for _, h := range holdings {
		s.holdings[holdingKey{h.AccountID, h.SecurityID, h.Date, h.Currency}] = h
	}
}

func (s *memoryState) upsertBalances(balances []engine.Balance) {
	for _, b := range balances {
		s.balances[balanceKey{b.AccountID, b.Date, b.Currency}] = b
	}
}

func (s *memoryState) purgeHoldings(id engine.AccountID, before engine.Date, keep []engine.SecurityID) int64 {
	kept := make(map[engine.SecurityID]bool, len(keep))
	for _, sec := range keep {
		kept[sec] = true
	}
	var n int64
	for k := range s.holdings {
		if k.AccountID == id && (k.Date.Before(before) || !kept[k.SecurityID]) {
			delete(s.holdings, k)
			n++
		}
	}
	return n
}

func (s *memoryState) purgeBalances(id engine.AccountID, before engine.Date, currencies []string) int64 {
	kept := make(map[string]bool, len(currencies))
	for _, c := range currencies {
		kept[c] = true
	}
	var n int64
	for k := range s.balances {
		if k.AccountID == id && (k.Date.Before(before) || !kept[k.Currency]) {
			delete(s.balances, k)
			n++
		}
	}
	return n
}

func (s *memoryState) updateAccountBalance(id engine.AccountID, balance, cash decimal.Decimal) error {
	a, ok := s.accounts[id]
	if !ok {
		return engine.ErrAccountNotFound
	}
	a.Balance, a.CashBalance = balance, cash
	s.accounts[id] = a
	return nil
}

func (s *memoryState) replaceIssues(id engine.AccountID, issues []engine.Issue) {
	if len(issues) == 0 {
		delete(s.issues, id)
		return
	}
	s.issues[id] = append([]engine.Issue(nil), issues...)
}

// clone copies every map. Entries, prices and rates are values, so a
// shallow copy of each slice and inner map is a full snapshot.
func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = append([]engine.Entry(nil), v...)
	}
	for k, v := range s.holdings {
		c.holdings[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.issues {
		c.issues[k] = append([]engine.Issue(nil), v...)
	}
	for k, v := range s.prices {
		inner := make(map[engine.Date]engine.Price, len(v))
		for d, p := range v {
			inner[d] = p
		}
		c.prices[k] = inner
	}
	for k, v := range s.rates {
		inner := make(map[engine.Date]engine.Rate, len(v))
		for d, r := range v {
			inner[d] = r
		}
		c.rates[k] = inner
	}
	return c
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.state.clone()
	if err := fn(&txMemoryView{state: tm.state}); err != nil {
		tm.state = snapshot
		return err
	}
	return nil
}

// txMemoryView is the store handed to WithTx callbacks. The parent lock is
// already held, so it works on the state directly.
type txMemoryView struct {
	state *memoryState
}

func (tv *txMemoryView) GetAccount(_ context.Context, id engine.AccountID) (*engine.Account, error) {
	return tv.state.getAccount(id)
}

func (tv *txMemoryView) ListAccounts(_ context.Context) ([]engine.AccountID, error) {
	return tv.state.listAccounts(), nil
}

func (tv *txMemoryView) LoadEntries(_ context.Context, id engine.AccountID) ([]engine.Entry, error) {
	return tv.state.loadEntries(id), nil
}

func (tv *txMemoryView) LoadHoldings(_ context.Context, id engine.AccountID) ([]engine.Holding, error) {
	return tv.state.loadHoldings(id), nil
}

func (tv *txMemoryView) LoadBalances(_ context.Context, id engine.AccountID, currency string) ([]engine.Balance, error) {
	return tv.state.loadBalances(id, currency), nil
}

func (tv *txMemoryView) BalanceOn(_ context.Context, id engine.AccountID, on engine.Date, currency string) (*engine.Balance, error) {
	return tv.state.balanceOn(id, on, currency), nil
}

func (tv *txMemoryView) LoadIssues(_ context.Context, id engine.AccountID) ([]engine.Issue, error) {
	return append([]engine.Issue(nil), tv.state.issues[id]...), nil
}

func (tv *txMemoryView) UpsertHoldings(_ context.Context, holdings []engine.Holding) error {
	tv.state.upsertHoldings(holdings)
	return nil
}

func (tv *txMemoryView) UpsertBalances(_ context.Context, balances []engine.Balance) error {
	tv.state.upsertBalances(balances)
	return nil
}

func (tv *txMemoryView) PurgeHoldings(_ context.Context, id engine.AccountID, before engine.Date, keep []engine.SecurityID) (int64, error) {
	return tv.state.purgeHoldings(id, before, keep), nil
}

func (tv *txMemoryView) PurgeBalances(_ context.Context, id engine.AccountID, before engine.Date, currencies []string) (int64, error) {
	return tv.state.purgeBalances(id, before, currencies), nil
}

func (tv *txMemoryView) UpdateAccountBalance(_ context.Context, id engine.AccountID, balance, cash decimal.Decimal) error {
	return tv.state.updateAccountBalance(id, balance, cash)
}

func (tv *txMemoryView) ReplaceIssues(_ context.Context, id engine.AccountID, issues []engine.Issue) error {
	tv.state.replaceIssues(id, issues)
	return nil
}

var (
	_ engine.TxStore       = (*TxMemory)(nil)
	_ engine.PriceProvider = (*Memory)(nil)
	_ engine.RateProvider  = (*Memory)(nil)
)
