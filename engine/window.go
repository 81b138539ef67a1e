package engine

// =============================================================================
// SYNC WINDOW - Which days a sync computes and which rows are stale
// =============================================================================

// Window describes the date range of one sync.
type Window struct {
	// ValidStart is the oldest day that may hold derived rows. Every
	// persisted row dated before it is stale and purged.
	ValidStart Date

	// CalcStart is the first day recomputed. Equal to ValidStart for a full
	// sync, later for a partial sync.
	CalcStart Date

	// End is today.
	End Date
}

// IsPartial reports whether the sync recomputes only the tail of the window.
func (w Window) IsPartial() bool { return w.CalcStart.After(w.ValidStart) }

// ValidStartDate derives the valid start date of an account from its
// oldest entry: the entry's own day if only valuations fall on it (the valuation
// anchors that day), otherwise the day before so the first flow has a
// zero-balance day to move from. Accounts with no entries fall back to the
// nominal start date, then to today. Entries dated after today are ignored.
func ValidStartDate(account *Account, entries []Entry, today Date) Date {
	var (
		oldest     Date
		onlyValued bool
	)
	for _, e := range entries {
		if e.Date.After(today) {
			continue
		}
		switch {
		case oldest.IsZero() || e.Date.Before(oldest):
			oldest = e.Date
			onlyValued = e.Kind == KindValuation
		case e.Date == oldest && e.Kind != KindValuation:
			onlyValued = false
		}
	}
	if oldest.IsZero() {
		if !account.StartDate.IsZero() && !account.StartDate.After(today) {
			return account.StartDate
		}
		return today
	}
	if onlyValued {
		return oldest
	}
	return oldest.AddDays(-1)
}

// NewWindow computes the window for a sync. A requested start date earlier
// than the valid start date is clamped to it; a later one (up to today)
// makes the sync partial.
func NewWindow(account *Account, entries []Entry, requested *Date, today Date) Window {
	valid := ValidStartDate(account, entries, today)
	calc := valid
	if requested != nil && !requested.IsZero() {
		calc = MinDate(MaxDate(*requested, valid), today)
	}
	return Window{ValidStart: valid, CalcStart: calc, End: today}
}
