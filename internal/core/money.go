// Package core holds the domain model and the pure ledger logic:
// settlement state, invoice projection, filtering, and money handling.
package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	SettlementFull    SettlementKind = "full"
	SettlementPartial SettlementKind = "partial"
)

// SettlementKind classifies a settlement as covering the whole pending total
// or only part of it.
type SettlementKind string

// ParseAmountToCents converts a user-entered decimal string to positive cents.
// Both dot (12.34) and comma (12,34) separators are accepted; anything past
// the second decimal place is rounded half-up. Zero, negative, and malformed
// amounts are rejected.
func ParseAmountToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if d.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	cents := d.Shift(2).Round(0)
	if !cents.IsInteger() || !cents.BigInt().IsInt64() {
		return 0, ErrInvalidAmount
	}
	n := cents.IntPart()
	if n <= 0 {
		return 0, ErrInvalidAmount
	}
	return n, nil
}

// Format renders the amount with its currency code, e.g. "BRL 150.00".
func (m Money) Format() string {
	return fmt.Sprintf("%s %s", m.Currency, decimal.New(m.Cents, -2).StringFixed(2))
}

// ClassifySettlement decides full vs partial settlement. An amount covering at
// least 99% of the pending total counts as full, tolerating rounding drift in
// amounts typed by hand.
func ClassifySettlement(amountCents, totalCents int64) SettlementKind {
	if totalCents > 0 && amountCents*100 >= totalCents*99 {
		return SettlementFull
	}
	return SettlementPartial
}
