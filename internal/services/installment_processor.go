package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"contas/internal/core"
	"contas/internal/metrics"
	"contas/internal/storage"
)

// InstallmentProcessor completes installment series that are missing future
// rows. Purchases created through the API expand up-front; series imported
// from card statements arrive one installment at a time, and this processor
// materializes each following installment once its competence month starts.
type InstallmentProcessor struct {
	store storage.Store
}

func NewInstallmentProcessor(store storage.Store) *InstallmentProcessor {
	return &InstallmentProcessor{store: store}
}

// ProcessDue creates the next installment for every series whose next
// competence month is due at now. Failures on one series do not stop the
// others.
func (p *InstallmentProcessor) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	if p.store == nil {
		return 0, fmt.Errorf("processor not properly initialized")
	}

	heads, err := p.store.ListOpenInstallmentSeries(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open installment series: %w", err)
	}

	slog.InfoContext(ctx, "Processing installment series",
		"open_series", len(heads),
		"processing_date", now.Format("2006-01-02"))

	processed := 0
	for _, head := range heads {
		next, due := nextInstallment(head, now)
		if !due {
			continue
		}

		if err := p.store.CreateTransaction(ctx, &next, nil); err != nil {
			slog.ErrorContext(ctx, "Failed to materialize installment",
				"series_id", head.SeriesID,
				"installment", next.InstallmentNum,
				"error", err)
			continue
		}

		processed++
		metrics.InstallmentsMaterializedTotal.Inc()
		slog.InfoContext(ctx, "Materialized installment",
			"series_id", head.SeriesID,
			"installment", fmt.Sprintf("%d/%d", next.InstallmentNum, next.InstallmentTotal),
			"competence", next.CompetenceDate.Format("2006-01"))
	}

	slog.InfoContext(ctx, "Installment processing complete",
		"processed", processed,
		"series_checked", len(heads))
	return processed, nil
}

// nextInstallment derives the installment that follows head, due one
// competence month later. It is due once that month has started.
func nextInstallment(head core.Transaction, now time.Time) (core.Transaction, bool) {
	base := head.DisplayDate()
	nextMonth := time.Date(base.Year(), base.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	if now.Before(nextMonth) {
		return core.Transaction{}, false
	}

	next := head
	next.ID = ""
	next.InstallmentNum = head.InstallmentNum + 1
	next.CompetenceDate = nextMonth
	next.IsSettled = false
	next.SettledAt = time.Time{}
	return next, true
}
