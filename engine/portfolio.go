package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PORTFOLIO CACHE - Trades and prices preloaded once per sync
// =============================================================================

// PriceSource identifies where a resolved price came from.
type PriceSource string

const (
	SourceProvider PriceSource = "provider" // stored / data-provider daily price
	SourceTrade    PriceSource = "trade"    // implied by a trade in the security
	SourceHolding  PriceSource = "holding"  // price on an existing holding row
)

// ResolvedPrice is a price already converted into the account currency.
type ResolvedPrice struct {
	SecurityID SecurityID
	Date       Date
	Price      decimal.Decimal
	Currency   string
	Source     PriceSource
}

type securityPrices struct {
	provider map[Date]decimal.Decimal
	trades   []tradePrice // chronological
	holdings map[Date]decimal.Decimal
}

type tradePrice struct {
	on    Date
	price decimal.Decimal
}

// PortfolioCacheOptions configures NewPortfolioCache.
type PortfolioCacheOptions struct {
	// Entries are all entries of the account; trades are selected from them.
	Entries []Entry

	// Holdings are the persisted holdings of the account.
	Holdings []Holding

	// UseHoldings widens the security universe to securities that only
	// appear in Holdings and enables holding prices as a last resort.
	UseHoldings bool

	Prices PriceProvider
	Rates  *ExchangeRateResolver

	// Start and End bound the provider price preload.
	Start, End Date
}

// PortfolioCache holds, for one account, every trade and every known price
// of every security in the sync window. It is never mutated after
// NewPortfolioCache returns.
type PortfolioCache struct {
	account      *Account
	trades       []Entry
	tradesByDate map[Date][]Entry
	securities   map[SecurityID]*securityPrices
	order        []SecurityID
	useHoldings  bool
}

// NewPortfolioCache preloads trades, provider prices, trade-implied prices
// and (optionally) holding prices, converting each into the account currency.
// Price conversion is best effort: a missing rate falls back to 1.
func NewPortfolioCache(ctx context.Context, account *Account, opts PortfolioCacheOptions) (*PortfolioCache, error) {
	c := &PortfolioCache{
		account:      account,
		tradesByDate: make(map[Date][]Entry),
		securities:   make(map[SecurityID]*securityPrices),
		useHoldings:  opts.UseHoldings,
	}
	rates := opts.Rates
	if rates == nil {
		rates = NewExchangeRateResolver(nil)
	}

	for _, e := range opts.Entries {
		if e.Kind != KindTrade {
			continue
		}
		c.trades = append(c.trades, e)
	}
	sort.SliceStable(c.trades, func(i, j int) bool { return c.trades[i].Date.Before(c.trades[j].Date) })
	for _, e := range c.trades {
		c.tradesByDate[e.Date] = append(c.tradesByDate[e.Date], e)
		c.register(e.Trade.SecurityID)
	}
	if opts.UseHoldings {
		for _, h := range opts.Holdings {
			c.register(h.SecurityID)
		}
	}

	// Provider prices.
	provider := make(map[SecurityID][]Price)
	currencies := make(map[string]bool)
	if opts.Prices != nil {
		for _, id := range c.order {
			prices, err := opts.Prices.FindPrices(ctx, id, opts.Start, opts.End)
			if err != nil {
				return nil, fmt.Errorf("load prices for %s: %w", id, err)
			}
			provider[id] = prices
			for _, p := range prices {
				currencies[p.Currency] = true
			}
		}
	}
	for _, e := range c.trades {
		currencies[e.Trade.Currency] = true
	}
	for cur := range currencies {
		if err := rates.Preload(ctx, cur, account.Currency, opts.Start, opts.End); err != nil {
			return nil, err
		}
	}

	convert := func(amount decimal.Decimal, from string, on Date) decimal.Decimal {
		return rates.ConvertOr(ctx, amount, from, account.Currency, on, one)
	}

	for id, prices := range provider {
		sp := c.securities[id]
		for _, p := range prices {
			sp.provider[p.Date] = convert(p.Price, p.Currency, p.Date)
		}
	}
	for _, e := range c.trades {
		sp := c.securities[e.Trade.SecurityID]
		sp.trades = append(sp.trades, tradePrice{on: e.Date, price: convert(e.Trade.Price, e.Trade.Currency, e.Date)})
	}
	if opts.UseHoldings {
		for _, h := range opts.Holdings {
			c.securities[h.SecurityID].holdings[h.Date] = convert(h.Price, h.Currency, h.Date)
		}
	}
	return c, nil
}

func (c *PortfolioCache) register(id SecurityID) {
	if _, ok := c.securities[id]; ok {
		return
	}
	c.securities[id] = &securityPrices{
		provider: make(map[Date]decimal.Decimal),
		holdings: make(map[Date]decimal.Decimal),
	}
	c.order = append(c.order, id)
	sort.Slice(c.order, func(i, j int) bool { return c.order[i] < c.order[j] })
}

// Trades returns every trade entry, chronologically.
func (c *PortfolioCache) Trades() []Entry { return c.trades }

// TradesOn returns the trades dated on the day, in entry order.
func (c *PortfolioCache) TradesOn(on Date) []Entry { return c.tradesByDate[on] }

// FirstTradeDate returns the date of the oldest trade, if any.
func (c *PortfolioCache) FirstTradeDate() (Date, bool) {
	if len(c.trades) == 0 {
		return Date{}, false
	}
	return c.trades[0].Date, true
}

// Securities returns the preloaded security universe, sorted.
func (c *PortfolioCache) Securities() []SecurityID { return c.order }

// Has reports whether the security was preloaded.
func (c *PortfolioCache) Has(id SecurityID) bool {
	_, ok := c.securities[id]
	return ok
}

// Price resolves the best-known price for the day by priority:
// provider price, then trade-implied price, then (with UseHoldings) the
// price on an existing holding row. ok is false when nothing is known.
func (c *PortfolioCache) Price(id SecurityID, on Date) (ResolvedPrice, bool, error) {
	for _, source := range []PriceSource{SourceProvider, SourceTrade, SourceHolding} {
		p, ok, err := c.PriceFrom(id, on, source)
		if err != nil || ok {
			return p, ok, err
		}
	}
	return ResolvedPrice{}, false, nil
}

// PriceFrom resolves the price from one source only.
func (c *PortfolioCache) PriceFrom(id SecurityID, on Date, source PriceSource) (ResolvedPrice, bool, error) {
	sp, ok := c.securities[id]
	if !ok {
		return ResolvedPrice{}, false, &SecurityNotFoundError{SecurityID: id, AccountID: c.account.ID}
	}
	resolved := func(p decimal.Decimal) (ResolvedPrice, bool, error) {
		return ResolvedPrice{SecurityID: id, Date: on, Price: p, Currency: c.account.Currency, Source: source}, true, nil
	}
	switch source {
	case SourceProvider:
		if p, ok := sp.provider[on]; ok {
			return resolved(p)
		}
	case SourceTrade:
		if p, ok := sp.tradePriceAsOf(on); ok {
			return resolved(p)
		}
	case SourceHolding:
		if !c.useHoldings {
			break
		}
		if p, ok := sp.holdings[on]; ok {
			return resolved(p)
		}
	}
	return ResolvedPrice{}, false, nil
}

// tradePriceAsOf returns the price of the latest trade on or before the day,
// or the earliest trade's price when no trade precedes it.
func (sp *securityPrices) tradePriceAsOf(on Date) (decimal.Decimal, bool) {
	if len(sp.trades) == 0 {
		return decimal.Zero, false
	}
	i := sort.Search(len(sp.trades), func(i int) bool { return sp.trades[i].on.After(on) })
	if i == 0 {
		return sp.trades[0].price, true
	}
	return sp.trades[i-1].price, true
}
