package engine

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// HOLDING CALCULATOR - Daily positions from trades, in either direction
// =============================================================================

// HoldingCalculator derives a dense daily holdings table from trades.
//
// Forward starts from an empty portfolio one day before the first trade and
// walks to today. Each day's trades are applied before the day's snapshot,
// so a row carries the quantity held at the end of that day.
//
// Reverse starts from today's known portfolio (Current) and walks back to
// StartDate. The day's snapshot is taken first and the day's trades are then
// undone to get the previous day's quantities. Both directions therefore
// emit end-of-day quantities and agree when the trade history is complete.
//
// Valuations never touch quantities.
type HoldingCalculator struct {
	Account   *Account
	Cache     *PortfolioCache
	Direction Direction
	Today     Date

	// StartDate is the oldest day of a reverse walk. Zero means one day
	// before the first trade, like forward.
	StartDate Date

	// Current is the account's latest known holdings, the reverse anchor.
	Current []Holding
}

// HoldingSeries is the calculator output.
type HoldingSeries struct {
	Holdings      []Holding
	MissingPrices []MissingPrice
}

// Calculate runs the walk and gap-fills the result.
func (c *HoldingCalculator) Calculate() (HoldingSeries, error) {
	start := c.portfolioStartDate()
	if c.Direction == Reverse && !c.StartDate.IsZero() {
		start = c.StartDate
	}

	portfolio, err := c.startingPortfolio()
	if err != nil {
		return HoldingSeries{}, err
	}

	var (
		raw     []Holding
		missing = make(map[SecurityID][]Date)
		walkErr error
	)
	Walk(c.Direction, start, c.Today, func(on Date) bool {
		if c.Direction == Forward {
			c.applyTrades(portfolio, on, decimal.NewFromInt(1))
		}
		rows, err := c.buildHoldings(portfolio, on, missing)
		if err != nil {
			walkErr = err
			return false
		}
		raw = append(raw, rows...)
		if c.Direction == Reverse {
			c.applyTrades(portfolio, on, decimal.NewFromInt(-1))
		}
		return true
	})
	if walkErr != nil {
		return HoldingSeries{}, walkErr
	}

	return HoldingSeries{
		Holdings:      Gapfill(raw, c.Today),
		MissingPrices: collectMissing(missing),
	}, nil
}

// portfolioStartDate is one day before the first trade, or today.
func (c *HoldingCalculator) portfolioStartDate() Date {
	if first, ok := c.Cache.FirstTradeDate(); ok {
		return MinDate(first.AddDays(-1), c.Today)
	}
	return c.Today
}

func (c *HoldingCalculator) startingPortfolio() (map[SecurityID]decimal.Decimal, error) {
	portfolio := make(map[SecurityID]decimal.Decimal, len(c.Cache.Securities()))
	for _, id := range c.Cache.Securities() {
		portfolio[id] = decimal.Zero
	}
	if c.Direction != Reverse {
		return portfolio, nil
	}
	for _, h := range CurrentPortfolio(c.Current, c.Today) {
		if !c.Cache.Has(h.SecurityID) {
			return nil, &SecurityNotFoundError{SecurityID: h.SecurityID, AccountID: c.Account.ID}
		}
		portfolio[h.SecurityID] = h.Quantity
	}
	return portfolio, nil
}

func (c *HoldingCalculator) applyTrades(portfolio map[SecurityID]decimal.Decimal, on Date, sign decimal.Decimal) {
	for _, e := range c.Cache.TradesOn(on) {
		id := e.Trade.SecurityID
		portfolio[id] = portfolio[id].Add(e.Trade.Quantity.Mul(sign))
	}
}

func (c *HoldingCalculator) buildHoldings(portfolio map[SecurityID]decimal.Decimal, on Date, missing map[SecurityID][]Date) ([]Holding, error) {
	rows := make([]Holding, 0, len(portfolio))
	for _, id := range c.Cache.Securities() {
		qty := portfolio[id]
		price, ok, err := c.resolvePrice(id, on)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing[id] = append(missing[id], on)
			continue
		}
		rows = append(rows, Holding{
			AccountID:  c.Account.ID,
			SecurityID: id,
			Date:       on,
			Currency:   c.Account.Currency,
			Quantity:   qty,
			Price:      price.Price,
			Amount:     qty.Mul(price.Price),
		})
	}
	return rows, nil
}

// resolvePrice prefers the provider-reported holding price for today's row
// of a reverse walk; history uses the normal priority chain.
func (c *HoldingCalculator) resolvePrice(id SecurityID, on Date) (ResolvedPrice, bool, error) {
	if c.Direction == Reverse && on == c.Today {
		p, ok, err := c.Cache.PriceFrom(id, on, SourceHolding)
		if err != nil || ok {
			return p, ok, err
		}
	}
	return c.Cache.Price(id, on)
}

// CurrentPortfolio returns the holdings on the latest date at or before today.
func CurrentPortfolio(holdings []Holding, today Date) []Holding {
	var latest Date
	for _, h := range holdings {
		if h.Date.After(today) {
			continue
		}
		if h.Date.After(latest) {
			latest = h.Date
		}
	}
	if latest.IsZero() {
		return nil
	}
	var current []Holding
	for _, h := range holdings {
		if h.Date == latest {
			current = append(current, h)
		}
	}
	return current
}

// =============================================================================
// GAP FILL
// =============================================================================

// Gapfill makes every security's series dense from its first row through
// today by carrying the last known row forward. Output is sorted by date
// then security.
func Gapfill(holdings []Holding, today Date) []Holding {
	bySecurity := make(map[SecurityID][]Holding)
	var order []SecurityID
	for _, h := range holdings {
		if _, ok := bySecurity[h.SecurityID]; !ok {
			order = append(order, h.SecurityID)
		}
		bySecurity[h.SecurityID] = append(bySecurity[h.SecurityID], h)
	}

	var filled []Holding
	for _, id := range order {
		rows := bySecurity[id]
		sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
		byDate := make(map[Date]Holding, len(rows))
		for _, h := range rows {
			byDate[h.Date] = h
		}
		previous := rows[0]
		Walk(Forward, rows[0].Date, today, func(on Date) bool {
			if h, ok := byDate[on]; ok {
				previous = h
				filled = append(filled, h)
				return true
			}
			carried := previous
			carried.Date = on
			filled = append(filled, carried)
			return true
		})
	}

	sort.Slice(filled, func(i, j int) bool {
		if filled[i].Date != filled[j].Date {
			return filled[i].Date.Before(filled[j].Date)
		}
		return filled[i].SecurityID < filled[j].SecurityID
	})
	return filled
}

// HoldingsValue sums holding amounts per day.
func HoldingsValue(holdings []Holding) map[Date]decimal.Decimal {
	values := make(map[Date]decimal.Decimal)
	for _, h := range holdings {
		values[h.Date] = values[h.Date].Add(h.Amount)
	}
	return values
}

func collectMissing(missing map[SecurityID][]Date) []MissingPrice {
	out := make([]MissingPrice, 0, len(missing))
	for id, dates := range missing {
		sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
		out = append(out, MissingPrice{SecurityID: id, Dates: dates})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SecurityID < out[j].SecurityID })
	return out
}
