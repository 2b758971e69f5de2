package core

import (
	"sort"
	"time"
)

const (
	TabRegular Tab = "regular"
	TabHistory Tab = "history"
	TabTravel  Tab = "travel"
)

// Tab selects which view of a member's ledger is shown.
type Tab string

// FilterOptions narrows a member's ledger to one view and one calendar month.
type FilterOptions struct {
	Tab   Tab
	Year  int
	Month time.Month
}

// CurrencyTotal aggregates unpaid credits and debits for one currency.
// Amounts of different currencies are never combined.
type CurrencyTotal struct {
	Currency    string
	CreditCents int64
	DebitCents  int64
	NetCents    int64
}

// FilterInvoice returns the subset of a member's lines appropriate for the
// active view, newest first. The member's sharing scope is applied before the
// tab rules, so a trips_only member never leaks non-trip lines regardless of
// tab or month.
func FilterInvoice(items []LineItem, m Member, opt FilterOptions) []LineItem {
	out := make([]LineItem, 0, len(items))
	for _, it := range items {
		if !scopeAllows(m, it) {
			continue
		}
		switch opt.Tab {
		case TabTravel:
			if it.TripID == "" {
				continue
			}
		case TabHistory:
			if !it.Paid || !sameMonth(it.Date, opt.Year, opt.Month) {
				continue
			}
		default: // regular
			if it.Paid || it.TripID != "" || !sameMonth(it.Date, opt.Year, opt.Month) {
				continue
			}
		}
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date)
	})
	return out
}

func scopeAllows(m Member, it LineItem) bool {
	switch m.Scope {
	case ScopeTripsOnly:
		return it.TripID != ""
	case ScopeSpecificTrip:
		return it.TripID == m.ScopeTripID
	case ScopeDateRange:
		if it.Date.Before(m.ScopeStart) {
			return false
		}
		return !it.Date.After(m.ScopeEnd)
	}
	return true
}

func sameMonth(d time.Time, year int, month time.Month) bool {
	return d.Year() == year && d.Month() == month
}

// Totals groups the unpaid lines by currency. Paid lines are excluded: the
// pending balance is what settlement acts on. Results are sorted by currency
// code for stable output.
func Totals(items []LineItem) []CurrencyTotal {
	byCurrency := make(map[string]*CurrencyTotal)
	for _, it := range items {
		if it.Paid {
			continue
		}
		ct, ok := byCurrency[it.Amount.Currency]
		if !ok {
			ct = &CurrencyTotal{Currency: it.Amount.Currency}
			byCurrency[it.Amount.Currency] = ct
		}
		switch it.Direction {
		case DirectionCredit:
			ct.CreditCents += it.Amount.Cents
		case DirectionDebit:
			ct.DebitCents += it.Amount.Cents
		}
	}
	out := make([]CurrencyTotal, 0, len(byCurrency))
	for _, ct := range byCurrency {
		ct.NetCents = ct.CreditCents - ct.DebitCents
		out = append(out, *ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}
