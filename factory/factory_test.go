package factory_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/balance-engine/engine"
	"github.com/warp/balance-engine/factory"
)

func TestParseAccount_Defaults(t *testing.T) {
	f := factory.NewFactory()

	account, err := f.ParseAccount(`{
		"id": "loan-1",
		"currency": "usd",
		"accountable_type": "loan",
		"start_date": "2025-01-01",
		"balance": "10000"
	}`)
	require.NoError(t, err)

	assert.Equal(t, engine.AccountID("loan-1"), account.ID)
	assert.Equal(t, "loan-1", account.Name)
	assert.Equal(t, "USD", account.Currency)
	assert.Equal(t, engine.Loan, account.AccountableType)
	assert.Equal(t, engine.Liability, account.Classification)
	assert.Equal(t, "USD", account.ReportingCurrency())
	assert.True(t, account.CashBalance.Equal(account.Balance))
	assert.Equal(t, "2025-01-01", account.StartDate.String())
}

func TestParseAccount_Rejects(t *testing.T) {
	f := factory.NewFactory()

	cases := map[string]string{
		"missing id":       `{"currency": "USD", "accountable_type": "Depository"}`,
		"unknown type":     `{"id": "a", "currency": "USD", "accountable_type": "Piggybank"}`,
		"unknown currency": `{"id": "a", "currency": "XXQ", "accountable_type": "Depository"}`,
		"bad family":       `{"id": "a", "currency": "USD", "family_currency": "??", "accountable_type": "Depository"}`,
		"bad class":        `{"id": "a", "currency": "USD", "classification": "equity", "accountable_type": "Depository"}`,
		"bad date":         `{"id": "a", "currency": "USD", "accountable_type": "Depository", "start_date": "01/02/2025"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.ParseAccount(body)
			assert.Error(t, err)
		})
	}
}

func TestEntryFromJSON_EveryKind(t *testing.T) {
	f := factory.NewFactory()
	account := &engine.Account{ID: "inv", Currency: "USD"}

	txn, err := f.ParseEntry(account, `{"kind": "transaction", "date": "2025-03-01", "amount": 42.5, "currency": "eur"}`)
	require.NoError(t, err)
	assert.Equal(t, engine.KindTransaction, txn.Kind)
	assert.Equal(t, "EUR", txn.Currency())
	assert.Equal(t, "42.5", txn.Amount().String())

	trade, err := f.ParseEntry(account, `{"kind": "trade", "date": "2025-03-01", "security_id": "VOO", "quantity": "-2", "price": "470"}`)
	require.NoError(t, err)
	assert.Equal(t, "USD", trade.Currency(), "defaults to the account currency")
	assert.Equal(t, "-940", trade.Amount().String())

	val, err := f.ParseEntry(account, `{"kind": "valuation", "date": "2025-03-01", "amount": "10000"}`)
	require.NoError(t, err)
	assert.False(t, val.IsFlow())
}

func TestEntryFromJSON_Rejects(t *testing.T) {
	f := factory.NewFactory()
	account := &engine.Account{ID: "inv", Currency: "USD"}

	cases := map[string]string{
		"unknown kind":      `{"kind": "dividend", "date": "2025-03-01", "amount": "1"}`,
		"missing amount":    `{"kind": "transaction", "date": "2025-03-01"}`,
		"missing date":      `{"kind": "valuation", "amount": "1"}`,
		"trade no security": `{"kind": "trade", "date": "2025-03-01", "quantity": "1", "price": "1"}`,
		"trade zero qty":    `{"kind": "trade", "date": "2025-03-01", "security_id": "X", "quantity": "0", "price": "1"}`,
		"negative price":    `{"kind": "trade", "date": "2025-03-01", "security_id": "X", "quantity": "1", "price": "-1"}`,
		"bad currency":      `{"kind": "transaction", "date": "2025-03-01", "amount": "1", "currency": "ZZZZ"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.ParseEntry(account, body)
			require.Error(t, err)
			assert.ErrorIs(t, err, engine.ErrInvalidEntry)
		})
	}
}

func TestEntryToJSON_RoundTrip(t *testing.T) {
	f := factory.NewFactory()
	account := &engine.Account{ID: "inv", Currency: "USD"}
	in := engine.NewTradeEntry("t1", account.ID, engine.MustParseDate("2025-03-01"),
		"VOO", decimal.RequireFromString("3"), decimal.RequireFromString("10"), "USD")

	out, err := f.EntryFromJSON(account, f.EntryToJSON(in))

	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.True(t, out.Trade.Quantity.Equal(in.Trade.Quantity))
	assert.Equal(t, in.Date, out.Date)
}
