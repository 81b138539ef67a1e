/*
Package sqlite provides a SQLite-backed implementation of the engine storage
and market-data interfaces.

PURPOSE:
  Implements engine.TxStore, engine.PriceProvider and engine.RateProvider
  using SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences (ON CONFLICT is portable).

INTERFACES IMPLEMENTED:
  engine.TxStore:       Accounts, entries, derived rows, issues, WithTx
  engine.PriceProvider: security_prices
  engine.RateProvider:  exchange_rates

MATERIALIZED ROWS:
  holdings and balances are derived and rewritten on every sync:
  - Upsert by unique key (the row id survives the conflict)
  - Range purge by date and by security / currency

KEY TABLES:
  accounts:        Account records and cached summary fields
  entries:         Transactions, trades and valuations (one row, kind column)
  security_prices: Daily close per security
  exchange_rates:  Daily rate per currency pair
  holdings:        UNIQUE(account_id, security_id, date, currency)
  balances:        UNIQUE(account_id, date, currency)
  issues:          Data gaps observed by the last sync

NUMBERS AND DATES:
  Decimals are stored as TEXT (exact), dates as TEXT YYYY-MM-DD, so range
  predicates compare lexicographically.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. The pool is limited to one
  connection: an in-memory database exists per connection.

USAGE:
  store, err := sqlite.New("./data/balances.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  m := &engine.Materializer{Store: store, Prices: store, Rates: store}
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/balance-engine/engine"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		currency TEXT NOT NULL,
		family_currency TEXT,
		classification TEXT NOT NULL,
		accountable_type TEXT NOT NULL,
		start_date TEXT,
		balance TEXT NOT NULL DEFAULT '0',
		cash_balance TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Entries: kind selects which columns are set
	--   transaction: amount, currency
	--   trade:       security_id, quantity, price, currency
	--   valuation:   amount, currency
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		date TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('transaction', 'trade', 'valuation')),
		name TEXT,
		amount TEXT,
		currency TEXT NOT NULL,
		security_id TEXT,
		quantity TEXT,
		price TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_account_date
		ON entries(account_id, date);

	CREATE TABLE IF NOT EXISTS security_prices (
		security_id TEXT NOT NULL,
		date TEXT NOT NULL,
		price TEXT NOT NULL,
		currency TEXT NOT NULL,
		PRIMARY KEY (security_id, date)
	);

	CREATE TABLE IF NOT EXISTS exchange_rates (
		from_currency TEXT NOT NULL,
		to_currency TEXT NOT NULL,
		date TEXT NOT NULL,
		rate TEXT NOT NULL,
		PRIMARY KEY (from_currency, to_currency, date)
	);

	CREATE TABLE IF NOT EXISTS holdings (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		security_id TEXT NOT NULL,
		date TEXT NOT NULL,
		currency TEXT NOT NULL,
		quantity TEXT NOT NULL,
		price TEXT NOT NULL,
		amount TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(account_id, security_id, date, currency)
	);

	CREATE INDEX IF NOT EXISTS idx_holdings_account_date
		ON holdings(account_id, date);

	CREATE TABLE IF NOT EXISTS balances (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		date TEXT NOT NULL,
		currency TEXT NOT NULL,
		balance TEXT NOT NULL,
		cash_balance TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(account_id, date, currency)
	);

	CREATE TABLE IF NOT EXISTS issues (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		code TEXT NOT NULL,
		message TEXT NOT NULL,
		security_id TEXT,
		dates_json TEXT NOT NULL,
		observed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_issues_account
		ON issues(account_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries runs every statement against one querier.
type queries struct {
	q querier
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// SaveAccount inserts or updates an account.
func (s *Store) SaveAccount(ctx context.Context, a engine.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := timestamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts
		(id, name, currency, family_currency, classification, accountable_type,
		 start_date, balance, cash_balance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			currency = excluded.currency,
			family_currency = excluded.family_currency,
			classification = excluded.classification,
			accountable_type = excluded.accountable_type,
			start_date = excluded.start_date,
			balance = excluded.balance,
			cash_balance = excluded.cash_balance,
			updated_at = excluded.updated_at
	`, a.ID, a.Name, a.Currency, nullString(a.FamilyCurrency), a.Classification, a.AccountableType,
		a.StartDate, a.Balance, a.CashBalance, now, now)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id engine.AccountID) (*engine.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.getAccount(ctx, id)
}

func (s *Store) ListAccounts(ctx context.Context) ([]engine.AccountID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.listAccounts(ctx)
}

// Accounts returns every account record, ordered by id.
func (s *Store) Accounts(ctx context.Context) ([]engine.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, accountSelect+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []engine.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

const accountSelect = `
	SELECT id, name, currency, family_currency, classification, accountable_type,
	       start_date, balance, cash_balance
	FROM accounts`

func (q queries) getAccount(ctx context.Context, id engine.AccountID) (*engine.Account, error) {
	a, err := scanAccount(q.q.QueryRowContext(ctx, accountSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

func (q queries) listAccounts(ctx context.Context) ([]engine.AccountID, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var ids []engine.AccountID
	for rows.Next() {
		var id engine.AccountID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*engine.Account, error) {
	var (
		a      engine.Account
		family sql.NullString
	)
	err := row.Scan(&a.ID, &a.Name, &a.Currency, &family, &a.Classification, &a.AccountableType,
		&a.StartDate, &a.Balance, &a.CashBalance)
	if err != nil {
		return nil, err
	}
	a.FamilyCurrency = family.String
	return &a, nil
}

func (q queries) updateAccountBalance(ctx context.Context, id engine.AccountID, balance, cash decimal.Decimal) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE accounts SET balance = ?, cash_balance = ?, updated_at = ? WHERE id = ?`,
		balance, cash, timestamp(), id)
	if err != nil {
		return fmt.Errorf("failed to update account balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrAccountNotFound
	}
	return nil
}

// =============================================================================
// ENTRIES
// =============================================================================

// SaveEntry inserts or replaces an entry. An empty id is assigned a UUID.
// Returns engine.ErrAccountNotFound when the account does not exist.
func (s *Store) SaveEntry(ctx context.Context, e engine.Entry) (engine.Entry, error) {
	if e.ID == "" {
		e.ID = engine.EntryID(uuid.NewString())
	}
	if err := e.Validate(); err != nil {
		return engine.Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		amount   decimal.NullDecimal
		security sql.NullString
		qty      decimal.NullDecimal
		price    decimal.NullDecimal
	)
	switch e.Kind {
	case engine.KindTransaction:
		amount = decimal.NewNullDecimal(e.Transaction.Amount)
	case engine.KindValuation:
		amount = decimal.NewNullDecimal(e.Valuation.Amount)
	case engine.KindTrade:
		security = nullString(string(e.Trade.SecurityID))
		qty = decimal.NewNullDecimal(e.Trade.Quantity)
		price = decimal.NewNullDecimal(e.Trade.Price)
		amount = decimal.NewNullDecimal(e.Trade.Amount())
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entries
		(id, account_id, date, kind, name, amount, currency, security_id, quantity, price, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			kind = excluded.kind,
			name = excluded.name,
			amount = excluded.amount,
			currency = excluded.currency,
			security_id = excluded.security_id,
			quantity = excluded.quantity,
			price = excluded.price
	`, e.ID, e.AccountID, e.Date, e.Kind, nullString(e.Name), amount, e.Currency(), security, qty, price, timestamp())
	if err != nil {
		if isForeignKeyError(err) {
			return engine.Entry{}, engine.ErrAccountNotFound
		}
		return engine.Entry{}, fmt.Errorf("failed to save entry: %w", err)
	}
	return e, nil
}

// DeleteEntry removes an entry. Returns false if it does not exist.
func (s *Store) DeleteEntry(ctx context.Context, account engine.AccountID, id engine.EntryID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE account_id = ? AND id = ?`, account, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete entry: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) LoadEntries(ctx context.Context, id engine.AccountID) ([]engine.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.loadEntries(ctx, id)
}

func (q queries) loadEntries(ctx context.Context, id engine.AccountID) ([]engine.Entry, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, account_id, date, kind, name, amount, currency, security_id, quantity, price
		FROM entries
		WHERE account_id = ?
		ORDER BY date ASC, id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []engine.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(row scanner) (engine.Entry, error) {
	var (
		e        engine.Entry
		name     sql.NullString
		amount   decimal.NullDecimal
		currency string
		security sql.NullString
		qty      decimal.NullDecimal
		price    decimal.NullDecimal
	)
	if err := row.Scan(&e.ID, &e.AccountID, &e.Date, &e.Kind, &name, &amount, &currency, &security, &qty, &price); err != nil {
		return engine.Entry{}, fmt.Errorf("failed to scan entry: %w", err)
	}
	e.Name = name.String
	switch e.Kind {
	case engine.KindTransaction:
		e.Transaction = &engine.Transaction{Amount: amount.Decimal, Currency: currency}
	case engine.KindTrade:
		e.Trade = &engine.Trade{
			SecurityID: engine.SecurityID(security.String),
			Quantity:   qty.Decimal,
			Price:      price.Decimal,
			Currency:   currency,
		}
	case engine.KindValuation:
		e.Valuation = &engine.Valuation{Amount: amount.Decimal, Currency: currency}
	default:
		return engine.Entry{}, fmt.Errorf("entry %s has unknown kind %q", e.ID, e.Kind)
	}
	return e, nil
}

// =============================================================================
// HOLDINGS
// =============================================================================

func (s *Store) LoadHoldings(ctx context.Context, id engine.AccountID) ([]engine.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.loadHoldings(ctx, id, engine.Date{})
}

// HoldingsOn returns the holdings of one day.
func (s *Store) HoldingsOn(ctx context.Context, id engine.AccountID, on engine.Date) ([]engine.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.loadHoldings(ctx, id, on)
}

func (q queries) loadHoldings(ctx context.Context, id engine.AccountID, on engine.Date) ([]engine.Holding, error) {
	query := `
		SELECT account_id, security_id, date, currency, quantity, price, amount
		FROM holdings
		WHERE account_id = ?`
	args := []any{id}
	if !on.IsZero() {
		query += ` AND date = ?`
		args = append(args, on)
	}
	query += ` ORDER BY date ASC, security_id ASC`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	var holdings []engine.Holding
	for rows.Next() {
		var h engine.Holding
		if err := rows.Scan(&h.AccountID, &h.SecurityID, &h.Date, &h.Currency, &h.Quantity, &h.Price, &h.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func (s *Store) UpsertHoldings(ctx context.Context, holdings []engine.Holding) error {
	return s.WithTx(ctx, func(tx engine.Store) error { return tx.UpsertHoldings(ctx, holdings) })
}

func (q queries) upsertHoldings(ctx context.Context, holdings []engine.Holding) error {
	now := timestamp()
	for _, h := range holdings {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO holdings
			(id, account_id, security_id, date, currency, quantity, price, amount, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(account_id, security_id, date, currency) DO UPDATE SET
				quantity = excluded.quantity,
				price = excluded.price,
				amount = excluded.amount,
				updated_at = excluded.updated_at
		`, uuid.NewString(), h.AccountID, h.SecurityID, h.Date, h.Currency, h.Quantity, h.Price, h.Amount, now)
		if err != nil {
			return fmt.Errorf("failed to upsert holding %s/%s: %w", h.SecurityID, h.Date, err)
		}
	}
	return nil
}

func (q queries) purgeHoldings(ctx context.Context, id engine.AccountID, before engine.Date, keep []engine.SecurityID) (int64, error) {
	query := `DELETE FROM holdings WHERE account_id = ?`
	args := []any{id}
	if len(keep) > 0 {
		query += ` AND (date < ? OR security_id NOT IN (` + placeholders(len(keep)) + `))`
		args = append(args, before)
		for _, sec := range keep {
			args = append(args, sec)
		}
	}
	res, err := q.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to purge holdings: %w", err)
	}
	return res.RowsAffected()
}

// =============================================================================
// BALANCES
// =============================================================================

func (s *Store) LoadBalances(ctx context.Context, id engine.AccountID, currency string) ([]engine.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.loadBalances(ctx, id, currency)
}

func (s *Store) BalanceOn(ctx context.Context, id engine.AccountID, on engine.Date, currency string) (*engine.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.balanceOn(ctx, id, on, currency)
}

func (q queries) loadBalances(ctx context.Context, id engine.AccountID, currency string) ([]engine.Balance, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT account_id, date, currency, balance, cash_balance
		FROM balances
		WHERE account_id = ? AND currency = ?
		ORDER BY date ASC
	`, id, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []engine.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (q queries) balanceOn(ctx context.Context, id engine.AccountID, on engine.Date, currency string) (*engine.Balance, error) {
	b, err := scanBalance(q.q.QueryRowContext(ctx, `
		SELECT account_id, date, currency, balance, cash_balance
		FROM balances
		WHERE account_id = ? AND date = ? AND currency = ?
	`, id, on, currency))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanBalance(row scanner) (engine.Balance, error) {
	var b engine.Balance
	if err := row.Scan(&b.AccountID, &b.Date, &b.Currency, &b.Balance, &b.CashBalance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, err
		}
		return b, fmt.Errorf("failed to scan balance: %w", err)
	}
	return b, nil
}

func (s *Store) UpsertBalances(ctx context.Context, balances []engine.Balance) error {
	return s.WithTx(ctx, func(tx engine.Store) error { return tx.UpsertBalances(ctx, balances) })
}

func (q queries) upsertBalances(ctx context.Context, balances []engine.Balance) error {
	now := timestamp()
	for _, b := range balances {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO balances
			(id, account_id, date, currency, balance, cash_balance, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(account_id, date, currency) DO UPDATE SET
				balance = excluded.balance,
				cash_balance = excluded.cash_balance,
				updated_at = excluded.updated_at
		`, uuid.NewString(), b.AccountID, b.Date, b.Currency, b.Balance, b.CashBalance, now)
		if err != nil {
			return fmt.Errorf("failed to upsert balance %s/%s: %w", b.Date, b.Currency, err)
		}
	}
	return nil
}

func (q queries) purgeBalances(ctx context.Context, id engine.AccountID, before engine.Date, currencies []string) (int64, error) {
	query := `DELETE FROM balances WHERE account_id = ?`
	args := []any{id}
	if len(currencies) > 0 {
		query += ` AND (date < ? OR currency NOT IN (` + placeholders(len(currencies)) + `))`
		args = append(args, before)
		for _, c := range currencies {
			args = append(args, c)
		}
	}
	res, err := q.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to purge balances: %w", err)
	}
	return res.RowsAffected()
}

// =============================================================================
// ISSUES
// =============================================================================

func (s *Store) LoadIssues(ctx context.Context, id engine.AccountID) ([]engine.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.loadIssues(ctx, id)
}

func (q queries) loadIssues(ctx context.Context, id engine.AccountID) ([]engine.Issue, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT account_id, code, message, security_id, dates_json, observed_at
		FROM issues
		WHERE account_id = ?
		ORDER BY code ASC, security_id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer rows.Close()

	var issues []engine.Issue
	for rows.Next() {
		var (
			issue    engine.Issue
			security sql.NullString
			dates    string
		)
		if err := rows.Scan(&issue.AccountID, &issue.Code, &issue.Message, &security, &dates, &issue.ObservedAt); err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issue.SecurityID = engine.SecurityID(security.String)
		if err := json.Unmarshal([]byte(dates), &issue.Dates); err != nil {
			return nil, fmt.Errorf("failed to decode issue dates: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func (q queries) replaceIssues(ctx context.Context, id engine.AccountID, issues []engine.Issue) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM issues WHERE account_id = ?`, id); err != nil {
		return fmt.Errorf("failed to clear issues: %w", err)
	}
	for _, issue := range issues {
		dates, err := json.Marshal(issue.Dates)
		if err != nil {
			return err
		}
		_, err = q.q.ExecContext(ctx, `
			INSERT INTO issues (id, account_id, code, message, security_id, dates_json, observed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, uuid.NewString(), id, issue.Code, issue.Message, nullString(string(issue.SecurityID)), string(dates), issue.ObservedAt)
		if err != nil {
			return fmt.Errorf("failed to insert issue: %w", err)
		}
	}
	return nil
}

// =============================================================================
// MARKET DATA (engine.PriceProvider / engine.RateProvider)
// =============================================================================

// SavePrices upserts daily security prices.
func (s *Store) SavePrices(ctx context.Context, prices []engine.Price) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withSQLTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, p := range prices {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO security_prices (security_id, date, price, currency)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(security_id, date) DO UPDATE SET
					price = excluded.price,
					currency = excluded.currency
			`, p.SecurityID, p.Date, p.Price, p.Currency)
			if err != nil {
				return fmt.Errorf("failed to save price %s/%s: %w", p.SecurityID, p.Date, err)
			}
		}
		return nil
	})
}

// SaveRates upserts daily exchange rates.
func (s *Store) SaveRates(ctx context.Context, rates []engine.Rate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withSQLTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, r := range rates {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO exchange_rates (from_currency, to_currency, date, rate)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(from_currency, to_currency, date) DO UPDATE SET
					rate = excluded.rate
			`, r.From, r.To, r.Date, r.Rate)
			if err != nil {
				return fmt.Errorf("failed to save rate %s->%s/%s: %w", r.From, r.To, r.Date, err)
			}
		}
		return nil
	})
}

func (s *Store) FindPrices(ctx context.Context, security engine.SecurityID, start, end engine.Date) ([]engine.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT security_id, date, price, currency
		FROM security_prices
		WHERE security_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, security, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	var prices []engine.Price
	for rows.Next() {
		var p engine.Price
		if err := rows.Scan(&p.SecurityID, &p.Date, &p.Price, &p.Currency); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

func (s *Store) FindRate(ctx context.Context, from, to string, on engine.Date) (*engine.Rate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := engine.Rate{From: from, To: to, Date: on}
	err := s.db.QueryRowContext(ctx, `
		SELECT rate FROM exchange_rates
		WHERE from_currency = ? AND to_currency = ? AND date = ?
	`, from, to, on).Scan(&r.Rate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find rate: %w", err)
	}
	return &r, nil
}

func (s *Store) FindRates(ctx context.Context, from, to string, start, end engine.Date) ([]engine.Rate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT date, rate FROM exchange_rates
		WHERE from_currency = ? AND to_currency = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, from, to, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query rates: %w", err)
	}
	defer rows.Close()

	var rates []engine.Rate
	for rows.Next() {
		r := engine.Rate{From: from, To: to}
		if err := rows.Scan(&r.Date, &r.Rate); err != nil {
			return nil, fmt.Errorf("failed to scan rate: %w", err)
		}
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

// =============================================================================
// WRITER (non-transactional entry points)
// =============================================================================

func (s *Store) PurgeHoldings(ctx context.Context, id engine.AccountID, before engine.Date, keep []engine.SecurityID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.purgeHoldings(ctx, id, before, keep)
}

func (s *Store) PurgeBalances(ctx context.Context, id engine.AccountID, before engine.Date, currencies []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.purgeBalances(ctx, id, before, currencies)
}

func (s *Store) UpdateAccountBalance(ctx context.Context, id engine.AccountID, balance, cash decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.updateAccountBalance(ctx, id, balance, cash)
}

func (s *Store) ReplaceIssues(ctx context.Context, id engine.AccountID, issues []engine.Issue) error {
	return s.WithTx(ctx, func(tx engine.Store) error { return tx.ReplaceIssues(ctx, id, issues) })
}

// =============================================================================
// TRANSACTIONAL STORE (engine.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withSQLTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(&txStore{queries{tx}})
	})
}

func withSQLTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore runs every call on the open transaction. The parent lock is held.
type txStore struct {
	queries
}

func (ts *txStore) GetAccount(ctx context.Context, id engine.AccountID) (*engine.Account, error) {
	return ts.getAccount(ctx, id)
}

func (ts *txStore) ListAccounts(ctx context.Context) ([]engine.AccountID, error) {
	return ts.listAccounts(ctx)
}

func (ts *txStore) LoadEntries(ctx context.Context, id engine.AccountID) ([]engine.Entry, error) {
	return ts.loadEntries(ctx, id)
}

func (ts *txStore) LoadHoldings(ctx context.Context, id engine.AccountID) ([]engine.Holding, error) {
	return ts.loadHoldings(ctx, id, engine.Date{})
}

func (ts *txStore) LoadBalances(ctx context.Context, id engine.AccountID, currency string) ([]engine.Balance, error) {
	return ts.loadBalances(ctx, id, currency)
}

func (ts *txStore) BalanceOn(ctx context.Context, id engine.AccountID, on engine.Date, currency string) (*engine.Balance, error) {
	return ts.balanceOn(ctx, id, on, currency)
}

func (ts *txStore) LoadIssues(ctx context.Context, id engine.AccountID) ([]engine.Issue, error) {
	return ts.loadIssues(ctx, id)
}

func (ts *txStore) UpsertHoldings(ctx context.Context, holdings []engine.Holding) error {
	return ts.upsertHoldings(ctx, holdings)
}

func (ts *txStore) UpsertBalances(ctx context.Context, balances []engine.Balance) error {
	return ts.upsertBalances(ctx, balances)
}

func (ts *txStore) PurgeHoldings(ctx context.Context, id engine.AccountID, before engine.Date, keep []engine.SecurityID) (int64, error) {
	return ts.purgeHoldings(ctx, id, before, keep)
}

func (ts *txStore) PurgeBalances(ctx context.Context, id engine.AccountID, before engine.Date, currencies []string) (int64, error) {
	return ts.purgeBalances(ctx, id, before, currencies)
}

func (ts *txStore) UpdateAccountBalance(ctx context.Context, id engine.AccountID, balance, cash decimal.Decimal) error {
	return ts.updateAccountBalance(ctx, id, balance, cash)
}

func (ts *txStore) ReplaceIssues(ctx context.Context, id engine.AccountID, issues []engine.Issue) error {
	return ts.replaceIssues(ctx, id, issues)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"issues", "balances", "holdings", "entries", "accounts", "security_prices", "exchange_rates"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

var (
	_ engine.TxStore       = (*Store)(nil)
	_ engine.PriceProvider = (*Store)(nil)
	_ engine.RateProvider  = (*Store)(nil)
)
