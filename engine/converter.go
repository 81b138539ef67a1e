package engine

import (
	"context"
	"errors"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE CONVERTER - Re-express a native series in the reporting currency
// =============================================================================

// BalanceConverter converts a balance series with exact-date rates.
//
// Conversion fails closed: when any date lacks a rate nothing is converted,
// because a partially converted series would silently skew net-worth
// rollups that sum accounts per day.
type BalanceConverter struct {
	Rates *ExchangeRateResolver
}

// Convert returns the series expressed in target.
//
//   - same currency: the input, unchanged
//   - no provider: ErrMissingExchangeRateProvider
//   - any day without a rate: *MissingExchangeRatesError naming every such day
//
// Converted amounts are rounded to the target currency's minor unit.
func (c *BalanceConverter) Convert(ctx context.Context, balances []Balance, target string) ([]Balance, error) {
	if len(balances) == 0 {
		return nil, nil
	}
	source := balances[0].Currency
	if source == target {
		return balances, nil
	}
	if !c.Rates.HasProvider() {
		return nil, ErrMissingExchangeRateProvider
	}

	first, last := balances[0].Date, balances[0].Date
	for _, b := range balances {
		first, last = MinDate(first, b.Date), MaxDate(last, b.Date)
	}
	if err := c.Rates.Preload(ctx, source, target, first, last); err != nil {
		return nil, err
	}

	places := CurrencyFraction(target)
	converted := make([]Balance, 0, len(balances))
	var missing []Date
	for _, b := range balances {
		rate, err := c.Rates.Rate(ctx, b.Currency, target, b.Date)
		if errors.Is(err, ErrMissingExchangeRate) {
			missing = append(missing, b.Date)
			continue
		}
		if err != nil {
			return nil, err
		}
		converted = append(converted, Balance{
			AccountID:   b.AccountID,
			Date:        b.Date,
			Currency:    target,
			Balance:     b.Balance.Mul(rate).Round(places),
			CashBalance: b.CashBalance.Mul(rate).Round(places),
		})
	}
	if len(missing) > 0 {
		return nil, &MissingExchangeRatesError{From: source, To: target, Dates: missing}
	}
	return converted, nil
}

// CurrencyFraction returns the number of minor-unit digits of the currency,
// 2 when the code is unknown.
func CurrencyFraction(code string) int32 {
	if cur := money.GetCurrency(code); cur != nil {
		return int32(cur.Fraction)
	}
	return 2
}

// RoundMoney rounds amount to the currency's minor unit.
func RoundMoney(amount decimal.Decimal, code string) decimal.Decimal {
	return amount.Round(CurrencyFraction(code))
}
