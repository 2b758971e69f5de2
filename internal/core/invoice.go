package core

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// LineItem is one derived ledger entry for one member. It is never persisted;
// the projection is recomputed from scratch on every fetch.
type LineItem struct {
	ID                string
	TransactionID     string
	SplitID           string
	MemberID          string
	Direction         Direction
	Description       string
	Amount            Money
	Date              time.Time
	TripID            string
	Installment       string
	Paid              bool
	SettledByDebtor   bool
	SettledByCreditor bool
	Status            Status
}

// Invoice maps a member ID to that member's ledger lines in insertion order.
type Invoice map[string][]LineItem

// InvoiceInput carries the raw facts the projection folds over.
type InvoiceInput struct {
	UserID       string
	Members      []Member
	Transactions []Transaction
	Splits       []Split
}

// LineItemID builds the composite key that deduplicates ledger lines: a
// transaction contributes at most one line per (direction, member) pair.
func LineItemID(txID string, dir Direction, memberID string) string {
	return txID + ":" + string(dir) + ":" + memberID
}

// ParseLineItemID splits a composite line item ID back into its parts.
func ParseLineItemID(id string) (txID string, dir Direction, memberID string, err error) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("malformed line item id %q", id)
	}
	dir = Direction(parts[1])
	if dir != DirectionCredit && dir != DirectionDebit {
		return "", "", "", fmt.Errorf("malformed line item id %q", id)
	}
	return parts[0], dir, parts[2], nil
}

// BuildInvoice folds transactions and splits into a per-member ledger of
// credit (they owe me) and debit (I owe them) lines.
//
// Three passes feed the fold:
//  1. my own shared expenses: one credit line per attached split
//  2. other members' expenses with a split assigned to me: one debit line
//     keyed by the creator's member identity
//  3. expenses someone else paid on my behalf (payer set, not a settlement
//     byproduct): one whole-amount debit line
//
// Only EXPENSE transactions participate; shared accounting does not track
// income or transfers. Lines whose counterpart cannot be resolved to a known
// member are logged and skipped rather than failing the whole projection.
func BuildInvoice(in InvoiceInput) Invoice {
	inv := make(Invoice, len(in.Members))
	byID := make(map[string]Member, len(in.Members))
	byUser := make(map[string]Member, len(in.Members))
	for _, m := range in.Members {
		if m.Deleted {
			continue
		}
		inv[m.ID] = []LineItem{}
		byID[m.ID] = m
		if m.LinkedUserID != "" {
			byUser[m.LinkedUserID] = m
		}
	}

	splitsByTx := make(map[string][]Split, len(in.Transactions))
	for _, sp := range in.Splits {
		splitsByTx[sp.TransactionID] = append(splitsByTx[sp.TransactionID], sp)
	}

	seen := make(map[string]struct{})
	emit := func(memberID string, item LineItem) {
		if _, dup := seen[item.ID]; dup {
			return
		}
		seen[item.ID] = struct{}{}
		inv[memberID] = append(inv[memberID], item)
	}

	for _, tx := range in.Transactions {
		if tx.Type != TypeExpense {
			continue
		}

		// Pass 1: credits from my own shared expenses.
		if tx.UserID == in.UserID && tx.IsShared {
			for _, sp := range splitsByTx[tx.ID] {
				sp := sp
				m, ok := byID[sp.MemberID]
				if !ok {
					slog.Warn("skipping credit line for unknown member",
						"transaction_id", tx.ID, "member_id", sp.MemberID)
					continue
				}
				emit(m.ID, newLineItem(tx, &sp, DirectionCredit, m.ID))
			}
		}

		// Pass 2: debits from other members' expenses split with me.
		if tx.UserID != in.UserID {
			for _, sp := range splitsByTx[tx.ID] {
				sp := sp
				if sp.UserID != in.UserID {
					continue
				}
				creator, ok := byUser[tx.UserID]
				if !ok {
					slog.Warn("skipping debit line: creator is not a known member",
						"transaction_id", tx.ID, "creator_user_id", tx.UserID)
					continue
				}
				emit(creator.ID, newLineItem(tx, &sp, DirectionDebit, creator.ID))
			}
		}

		// Pass 3: whole-amount debts where another member paid on my behalf.
		// Settlement byproducts carry a source transaction and never re-enter
		// the ledger.
		if tx.PayerID != "" && tx.SourceTransactionID == "" {
			payer, ok := byID[tx.PayerID]
			if !ok {
				slog.Warn("skipping payer debt line for unknown member",
					"transaction_id", tx.ID, "payer_id", tx.PayerID)
				continue
			}
			if payer.LinkedUserID == in.UserID {
				continue
			}
			emit(payer.ID, newLineItem(tx, nil, DirectionDebit, payer.ID))
		}
	}

	return inv
}

func newLineItem(tx Transaction, split *Split, dir Direction, memberID string) LineItem {
	st := ResolveStatus(tx, split, dir)
	item := LineItem{
		ID:            LineItemID(tx.ID, dir, memberID),
		TransactionID: tx.ID,
		MemberID:      memberID,
		Direction:     dir,
		Description:   tx.Description,
		Amount:        tx.Amount,
		Date:          tx.DisplayDate(),
		TripID:        tx.TripID,
		Paid:          st.IsSettled,
		Status:        st,
	}
	if tx.InstallmentTotal > 1 {
		item.Installment = fmt.Sprintf("%d/%d", tx.InstallmentNum, tx.InstallmentTotal)
	}
	if split != nil {
		item.SplitID = split.ID
		item.Amount = split.Amount
		item.SettledByDebtor = split.State.ByDebtor()
		item.SettledByCreditor = split.State.ByCreditor()
	} else {
		item.SettledByDebtor = tx.IsSettled
		item.SettledByCreditor = tx.IsSettled
	}
	return item
}
