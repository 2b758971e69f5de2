// Package worker consumes settlement events and turns them into
// notifications and history exports, off the request path.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"contas/internal/amqp"
	"contas/internal/core"
	"contas/internal/export"
	"contas/internal/metrics"
	"contas/internal/storage"
)

// NotificationWorker handles settlement events from AMQP. For every
// settlement it notifies the counterpart (when they have a linked account)
// and mirrors the record to the optional history sink.
type NotificationWorker struct {
	store   storage.Store
	history export.HistoryWriter
}

func NewNotificationWorker(store storage.Store, history export.HistoryWriter) *NotificationWorker {
	return &NotificationWorker{store: store, history: history}
}

// HandleSettlementEvent processes a single settlement event. Notification
// failures return an error so the delivery is retried; history-mirror
// failures only log, since the notification is the primary effect and a
// retry would duplicate it.
func (w *NotificationWorker) HandleSettlementEvent(ctx context.Context, msg *amqp.SettlementEventMessage) error {
	slog.InfoContext(ctx, "Processing settlement event",
		"settlement_id", msg.SettlementID,
		"member_id", msg.MemberID,
		"kind", msg.Kind)

	members, err := w.store.ListMembers(ctx, msg.FamilyID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	var member *core.Member
	for i := range members {
		if members[i].ID == msg.MemberID {
			member = &members[i]
			break
		}
	}
	if member == nil {
		// The member was removed between settle and consume; nothing to
		// notify and never will be.
		slog.WarnContext(ctx, "Settlement event references unknown member",
			"settlement_id", msg.SettlementID,
			"member_id", msg.MemberID)
		return nil
	}

	if member.LinkedUserID != "" {
		amount := core.Money{Cents: msg.AmountCents, Currency: msg.Currency}
		n := core.Notification{
			UserID: member.LinkedUserID,
			Kind:   "settlement",
			Title:  "Settlement recorded",
			Body: fmt.Sprintf("A %s settlement of %s covering %d item(s) was recorded with you.",
				msg.Kind, amount.Format(), msg.ItemCount),
		}
		if err := w.store.CreateNotification(ctx, &n); err != nil {
			return fmt.Errorf("create notification: %w", err)
		}
		metrics.NotificationsCreatedTotal.Inc()
		slog.InfoContext(ctx, "Notification created",
			"notification_id", n.ID,
			"user_id", member.LinkedUserID,
			"settlement_id", msg.SettlementID)
	}

	w.mirrorHistory(ctx, msg, member.DisplayName)
	return nil
}

func (w *NotificationWorker) mirrorHistory(ctx context.Context, msg *amqp.SettlementEventMessage, memberName string) {
	if w.history == nil {
		return
	}
	ref, err := w.history.AppendSettlement(ctx, export.SettlementRecord{
		SettledAt:   msg.Timestamp,
		MemberName:  memberName,
		Kind:        msg.Kind,
		AmountCents: msg.AmountCents,
		Currency:    msg.Currency,
		ItemCount:   msg.ItemCount,
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to mirror settlement to history sink",
			"settlement_id", msg.SettlementID,
			"error", err)
		return
	}
	slog.InfoContext(ctx, "Settlement mirrored to history sink",
		"settlement_id", msg.SettlementID,
		"row_ref", ref)
}
