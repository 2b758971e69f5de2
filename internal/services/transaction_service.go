package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"contas/internal/core"
	"contas/internal/storage"
	"contas/internal/websocket"
)

// TransactionService creates shared transactions and manages installment
// series.
type TransactionService struct {
	store    storage.Store
	invoices *InvoiceService
	hub      Broadcaster
}

func NewTransactionService(store storage.Store, invoices *InvoiceService, hub Broadcaster) *TransactionService {
	return &TransactionService{store: store, invoices: invoices, hub: hub}
}

// Create validates and persists a transaction with its splits. Installment
// purchases expand into one row per installment, each pinned to its own
// competence month; splits attach to every installment proportionally.
func (s *TransactionService) Create(ctx context.Context, familyID string, tx core.Transaction, splits []core.Split) (string, error) {
	if err := tx.Validate(); err != nil {
		return "", err
	}
	if err := tx.ValidateSplits(splits); err != nil {
		return "", err
	}
	if tx.AccountID != "" {
		account, err := s.store.GetAccount(ctx, tx.AccountID)
		if err != nil {
			return "", fmt.Errorf("resolve account %s: %w", tx.AccountID, err)
		}
		if account.Currency != tx.Amount.Currency {
			return "", core.ErrCurrencyMismatch
		}
	}

	splits, err := s.resolveSplitUsers(ctx, familyID, splits)
	if err != nil {
		return "", err
	}

	if tx.InstallmentTotal > 1 {
		return s.createInstallments(ctx, familyID, tx, splits)
	}

	if err := s.store.CreateTransaction(ctx, &tx, splits); err != nil {
		return "", err
	}

	s.notifyChange(ctx, familyID, tx)
	return tx.ID, nil
}

func (s *TransactionService) createInstallments(ctx context.Context, familyID string, tx core.Transaction, splits []core.Split) (string, error) {
	if tx.SeriesID == "" {
		tx.SeriesID = uuid.New().String()
	}
	total := tx.InstallmentTotal

	// Divide cents across installments; the first takes the remainder so
	// the series sums exactly to the original amount.
	per := tx.Amount.Cents / int64(total)
	first := tx.Amount.Cents - per*int64(total-1)

	baseMonth := tx.DisplayDate()
	var firstID string
	for i := 1; i <= total; i++ {
		inst := tx
		inst.ID = ""
		inst.InstallmentNum = i
		inst.Amount.Cents = per
		if i == 1 {
			inst.Amount.Cents = first
		}
		inst.CompetenceDate = time.Date(baseMonth.Year(), baseMonth.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, i-1, 0)

		instSplits := proratedSplits(splits, inst.Amount.Cents, tx.Amount.Cents)
		if err := s.store.CreateTransaction(ctx, &inst, instSplits); err != nil {
			return "", fmt.Errorf("create installment %d/%d: %w", i, total, err)
		}
		if i == 1 {
			firstID = inst.ID
		}
	}

	slog.InfoContext(ctx, "Installment series created",
		"series_id", tx.SeriesID,
		"installments", total,
		"total_cents", tx.Amount.Cents)

	s.notifyChange(ctx, familyID, tx)
	return firstID, nil
}

// Anticipate pulls a series' remaining unsettled installments into the given
// competence month, so the whole balance lands on one invoice.
func (s *TransactionService) Anticipate(ctx context.Context, seriesID string, year int, month time.Month) (int, error) {
	moved, err := s.store.AnticipateSeries(ctx, seriesID, year, month)
	if err != nil {
		return 0, err
	}
	if moved == 0 {
		return 0, core.ErrNothingToSettle
	}

	slog.InfoContext(ctx, "Installments anticipated",
		"series_id", seriesID,
		"moved", moved,
		"target", fmt.Sprintf("%04d-%02d", year, month))

	if s.hub != nil {
		s.hub.BroadcastTo(websocket.NewMessage("transaction", "updated", seriesID, nil))
	}
	return moved, nil
}

// resolveSplitUsers stamps each split with its member's linked account ID.
// The counterpart's ledger is keyed on the split's user_id, so a split
// persisted without it would be invisible to the member it belongs to.
// Unlinked members keep an empty user_id; unknown members are rejected.
func (s *TransactionService) resolveSplitUsers(ctx context.Context, familyID string, splits []core.Split) ([]core.Split, error) {
	if len(splits) == 0 {
		return splits, nil
	}
	members, err := s.invoices.Members(ctx, familyID)
	if err != nil {
		return nil, err
	}
	resolved := make([]core.Split, len(splits))
	for i, sp := range splits {
		m, ok := findMember(members, sp.MemberID)
		if !ok {
			return nil, core.ErrUnknownMember
		}
		sp.UserID = m.LinkedUserID
		resolved[i] = sp
	}
	return resolved, nil
}

// proratedSplits scales each split to one installment's share, keeping the
// member assignment and currency.
func proratedSplits(splits []core.Split, instCents, totalCents int64) []core.Split {
	if len(splits) == 0 || totalCents == 0 {
		return nil
	}
	out := make([]core.Split, len(splits))
	for i, sp := range splits {
		scaled := sp
		scaled.ID = ""
		scaled.TransactionID = ""
		scaled.Amount.Cents = sp.Amount.Cents * instCents / totalCents
		out[i] = scaled
	}
	return out
}

func (s *TransactionService) notifyChange(ctx context.Context, familyID string, tx core.Transaction) {
	if s.hub == nil {
		return
	}
	targets := []string{tx.UserID}
	if members, err := s.invoices.Members(ctx, familyID); err == nil {
		for _, m := range members {
			if m.LinkedUserID != "" {
				targets = append(targets, m.LinkedUserID)
			}
		}
	}
	s.hub.BroadcastTo(websocket.NewMessage("transaction", "created", tx.ID, nil), targets...)
}
