package engine_test

import (
	"fmt"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/warp/balance-engine/engine"
	"github.com/warp/balance-engine/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var today = engine.NewDate(2025, time.June, 15)

// ago returns the day n days before today.
func ago(n int) engine.Date { return today.AddDays(-n) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// cmpOpts compares decimals by value and dates by day.
var cmpOpts = cmp.Options{
	cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) }),
	cmp.Comparer(func(a, b engine.Date) bool { return a == b }),
}

func investmentAccount() engine.Account {
	return engine.Account{
		ID:              "inv",
		Name:            "Brokerage",
		Currency:        "USD",
		Classification:  engine.Asset,
		AccountableType: engine.Investment,
	}
}

func checkingAccount() engine.Account {
	return engine.Account{
		ID:              "chk",
		Name:            "Checking",
		Currency:        "USD",
		Classification:  engine.Asset,
		AccountableType: engine.Depository,
	}
}

var entrySeq int

func nextID() engine.EntryID {
	entrySeq++
	return engine.EntryID(fmt.Sprintf("e%04d", entrySeq))
}

func txn(account engine.AccountID, on engine.Date, amount string) engine.Entry {
	return engine.NewTransactionEntry(nextID(), account, on, dec(amount), "USD")
}

func trade(account engine.AccountID, on engine.Date, security engine.SecurityID, qty, price string) engine.Entry {
	return engine.NewTradeEntry(nextID(), account, on, security, dec(qty), dec(price), "USD")
}

func valuation(account engine.AccountID, on engine.Date, amount string) engine.Entry {
	return engine.NewValuationEntry(nextID(), account, on, dec(amount), "USD")
}

func price(security engine.SecurityID, on engine.Date, p string) engine.Price {
	return engine.Price{SecurityID: security, Date: on, Price: dec(p), Currency: "USD"}
}

func rate(from, to string, on engine.Date, r string) engine.Rate {
	return engine.Rate{From: from, To: to, Date: on, Rate: dec(r)}
}

// vooScenario is the reference investment fixture: buy 20 @ 470 three days
// ago, sell 15 @ 480 two days ago, buy 5 @ 490 yesterday; VOO closes at 500
// today.
func vooScenario() (engine.Account, []engine.Entry, []engine.Price) {
	acct := investmentAccount()
	entries := []engine.Entry{
		trade(acct.ID, ago(3), "VOO", "20", "470"),
		trade(acct.ID, ago(2), "VOO", "-15", "480"),
		trade(acct.ID, ago(1), "VOO", "5", "490"),
	}
	prices := []engine.Price{
		price("VOO", ago(4), "460"),
		price("VOO", ago(3), "470"),
		price("VOO", ago(2), "480"),
		price("VOO", ago(1), "490"),
		price("VOO", today, "500"),
	}
	return acct, entries, prices
}

// newMemory seeds an in-memory store with one account and its data.
func newMemory(acct engine.Account, entries []engine.Entry, prices []engine.Price, rates ...engine.Rate) *store.TxMemory {
	mem := store.NewTxMemory()
	mem.SaveAccount(acct)
	mem.AddEntries(entries...)
	mem.AddPrices(prices...)
	mem.AddRates(rates...)
	return mem
}

// balancesByDate indexes a series for assertions.
func balancesByDate(balances []engine.Balance) map[engine.Date]engine.Balance {
	out := make(map[engine.Date]engine.Balance, len(balances))
	for _, b := range balances {
		out[b.Date] = b
	}
	return out
}

func holdingsOf(holdings []engine.Holding, security engine.SecurityID) map[engine.Date]engine.Holding {
	out := make(map[engine.Date]engine.Holding)
	for _, h := range holdings {
		if h.SecurityID == security {
			out[h.Date] = h
		}
	}
	return out
}
