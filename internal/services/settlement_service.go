package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"contas/internal/amqp"
	"contas/internal/core"
	"contas/internal/metrics"
	"contas/internal/storage"
	"contas/internal/websocket"
)

// EventPublisher publishes settlement events for the notification worker.
type EventPublisher interface {
	PublishSettlementEvent(ctx context.Context, msg *amqp.SettlementEventMessage) error
}

// Broadcaster pushes refresh events to connected browsers.
type Broadcaster interface {
	BroadcastTo(msg websocket.Message, userIDs ...string)
}

// SettlementService executes and reverses settlements against one member's
// open invoice.
type SettlementService struct {
	store     storage.Store
	invoices  *InvoiceService
	publisher EventPublisher
	hub       Broadcaster
	now       func() time.Time
}

func NewSettlementService(store storage.Store, invoices *InvoiceService, publisher EventPublisher, hub Broadcaster) *SettlementService {
	return &SettlementService{
		store:     store,
		invoices:  invoices,
		publisher: publisher,
		hub:       hub,
		now:       time.Now,
	}
}

// SettleRequest selects what to settle with one member. Empty ItemIDs means
// every open line on the member's invoice. Amount is the user-entered payment
// ("150,00" accepted); empty means the selection's net total.
type SettleRequest struct {
	UserID   string
	FamilyID string
	MemberID string
	ItemIDs  []string
	Amount   string
	Tab      core.Tab
	Year     int
	Month    time.Month
}

type SettleResult struct {
	SettlementID string
	Kind         core.SettlementKind
	AmountCents  int64
	Currency     string
	ItemCount    int
}

// Settle executes one settlement: it selects the open items, classifies the
// payment as full or partial against their net total, writes the balancing
// transaction and every flag flip atomically, then fans out the event.
func (s *SettlementService) Settle(ctx context.Context, req SettleRequest) (*SettleResult, error) {
	members, err := s.invoices.Members(ctx, req.FamilyID)
	if err != nil {
		return nil, err
	}
	member, ok := findMember(members, req.MemberID)
	if !ok {
		return nil, core.ErrUnknownMember
	}

	inv, err := s.invoices.Invoice(ctx, req.UserID, req.FamilyID)
	if err != nil {
		return nil, err
	}
	open := core.FilterInvoice(inv[req.MemberID], member, core.FilterOptions{
		Tab:   req.Tab,
		Year:  req.Year,
		Month: req.Month,
	})

	selected, err := selectItems(open, req.ItemIDs)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, core.ErrNothingToSettle
	}

	currency, netCents, err := netTotal(selected)
	if err != nil {
		return nil, err
	}

	amountCents := abs(netCents)
	if req.Amount != "" {
		amountCents, err = core.ParseAmountToCents(req.Amount)
		if err != nil {
			return nil, err
		}
	}
	// A selection whose credits and debits cancel out nets to zero. There is
	// no money to move and no valid zero-cent transaction to record.
	if amountCents <= 0 {
		return nil, core.ErrInvalidAmount
	}
	kind := core.ClassifySettlement(amountCents, abs(netCents))

	// Money received from the member is income; money paid out is an expense.
	txType := core.TypeIncome
	if netCents < 0 {
		txType = core.TypeExpense
	}

	settlement := core.Transaction{
		UserID:              req.UserID,
		Type:                txType,
		Amount:              core.Money{Cents: amountCents, Currency: currency},
		Description:         fmt.Sprintf("Settlement (%s) - %s", kind, member.DisplayName),
		Date:                s.now(),
		RelatedMemberID:     member.ID,
		SourceTransactionID: selected[0].TransactionID,
	}

	params := storage.SettleParams{
		Settlement: settlement,
		SplitRoles: make(map[string]core.SettleRole),
		Now:        s.now(),
	}
	for _, it := range selected {
		if it.SplitID != "" {
			params.SplitRoles[it.SplitID] = core.SettleRoleFor(it.Direction)
		} else {
			params.TransactionIDs = append(params.TransactionIDs, it.TransactionID)
		}
	}

	settlementID, err := s.store.SettleItems(ctx, params)
	if err != nil {
		var conflict *core.ConflictError
		if errors.As(err, &conflict) {
			metrics.SettlementConflictsTotal.Inc()
		}
		return nil, err
	}

	metrics.SettlementsTotal.WithLabelValues(string(kind)).Inc()
	metrics.SettledAmountCents.WithLabelValues(currency).Add(float64(amountCents))

	s.publishEvent(ctx, &amqp.SettlementEventMessage{
		SettlementID: settlementID,
		UserID:       req.UserID,
		FamilyID:     req.FamilyID,
		MemberID:     member.ID,
		Kind:         string(kind),
		AmountCents:  amountCents,
		Currency:     currency,
		ItemCount:    len(selected),
	})
	s.broadcast(websocket.NewMessage("settlement", "created", settlementID,
		map[string]any{"member_id": member.ID}), req.UserID, member.LinkedUserID)

	slog.InfoContext(ctx, "Settlement executed",
		"settlement_id", settlementID,
		"member_id", member.ID,
		"kind", kind,
		"amount_cents", amountCents,
		"currency", currency,
		"items", len(selected))

	return &SettleResult{
		SettlementID: settlementID,
		Kind:         kind,
		AmountCents:  amountCents,
		Currency:     currency,
		ItemCount:    len(selected),
	}, nil
}

// UndoRequest reverses the settlement of one invoice line.
type UndoRequest struct {
	UserID   string
	FamilyID string
	ItemID   string
}

// Undo clears the settled flag behind one line item. The balancing settlement
// transaction stays in the ledger; only the flag, timestamp, and link go.
func (s *SettlementService) Undo(ctx context.Context, req UndoRequest) error {
	txID, dir, memberID, err := core.ParseLineItemID(req.ItemID)
	if err != nil {
		return err
	}

	splits, err := s.store.ListSplitsForTransactions(ctx, []string{txID})
	if err != nil {
		return fmt.Errorf("list splits: %w", err)
	}

	params := storage.UndoParams{TransactionID: txID, Role: core.SettleRoleFor(dir)}
	for _, sp := range splits {
		// A credit line is keyed by the split's own member. A debit line is
		// keyed by the creditor's member identity while the split belongs to
		// the current user, so it is matched through the split's user_id.
		matched := sp.MemberID == memberID
		if dir == core.DirectionDebit {
			matched = sp.UserID == req.UserID
		}
		if matched {
			params.SplitID = sp.ID
			params.TransactionID = ""
			break
		}
	}

	if err := s.store.UndoSettlement(ctx, params); err != nil {
		return err
	}

	var linkedUser string
	if members, err := s.invoices.Members(ctx, req.FamilyID); err == nil {
		if m, ok := findMember(members, memberID); ok {
			linkedUser = m.LinkedUserID
		}
	}
	s.broadcast(websocket.NewMessage("settlement", "undone", req.ItemID,
		map[string]any{"member_id": memberID}), req.UserID, linkedUser)

	slog.InfoContext(ctx, "Settlement undone",
		"item_id", req.ItemID,
		"member_id", memberID)
	return nil
}

func (s *SettlementService) publishEvent(ctx context.Context, msg *amqp.SettlementEventMessage) {
	if s.publisher == nil {
		slog.WarnContext(ctx, "Event publisher not available, skipping settlement event")
		return
	}
	if err := s.publisher.PublishSettlementEvent(ctx, msg); err != nil {
		// The settlement is already committed; the notification is lost,
		// not the money.
		slog.ErrorContext(ctx, "Failed to publish settlement event",
			"settlement_id", msg.SettlementID,
			"error", err)
	}
}

func (s *SettlementService) broadcast(msg websocket.Message, userIDs ...string) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastTo(msg, userIDs...)
}

// selectItems resolves the requested line IDs against the open invoice.
// An empty request selects everything open; a stale or paid ID is a conflict.
func selectItems(open []core.LineItem, itemIDs []string) ([]core.LineItem, error) {
	unpaid := make([]core.LineItem, 0, len(open))
	byID := make(map[string]core.LineItem, len(open))
	for _, it := range open {
		byID[it.ID] = it
		if !it.Paid {
			unpaid = append(unpaid, it)
		}
	}

	if len(itemIDs) == 0 {
		return unpaid, nil
	}

	selected := make([]core.LineItem, 0, len(itemIDs))
	conflicts := 0
	for _, id := range itemIDs {
		it, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("item not on invoice: %s", id)
		}
		if it.Paid {
			conflicts++
			continue
		}
		selected = append(selected, it)
	}
	if conflicts > 0 {
		return nil, &core.ConflictError{Count: conflicts}
	}
	return selected, nil
}

// netTotal sums the selection relative to the current user: credits add,
// debits subtract. A selection spanning currencies cannot settle in one
// payment.
func netTotal(items []core.LineItem) (currency string, netCents int64, err error) {
	for _, it := range items {
		if currency == "" {
			currency = it.Amount.Currency
		} else if it.Amount.Currency != currency {
			return "", 0, core.ErrCurrencyMismatch
		}
		if it.Direction == core.DirectionCredit {
			netCents += it.Amount.Cents
		} else {
			netCents -= it.Amount.Cents
		}
	}
	return currency, netCents, nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
