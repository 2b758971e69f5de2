// Package export mirrors settled history to external sinks. The Google
// Sheets writer keeps a family's settlement log in a spreadsheet the
// non-technical side of the household actually reads.
package export

import (
	"context"
	"time"
)

// SettlementRecord is one settled payment as it appears in the history sheet.
type SettlementRecord struct {
	SettledAt   time.Time
	MemberName  string
	Kind        string
	AmountCents int64
	Currency    string
	ItemCount   int
}

// HistoryWriter appends settlement records to a sink.
type HistoryWriter interface {
	AppendSettlement(ctx context.Context, rec SettlementRecord) (rowRef string, err error)
}
