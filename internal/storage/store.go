// Package storage persists members, transactions, and splits, and executes
// the atomic settlement write path.
package storage

import (
	"context"
	"time"

	"contas/internal/core"
)

// SettleParams describes one settlement write: the balancing transaction to
// create plus the split/transaction flags to flip. The whole batch is applied
// inside a single database transaction; any item found already settled aborts
// everything.
type SettleParams struct {
	Settlement core.Transaction

	// SplitRoles maps split IDs to the role flag the current user flips.
	SplitRoles map[string]core.SettleRole

	// TransactionIDs are whole-amount payer debts settled via the
	// transaction's own flag (no split involved).
	TransactionIDs []string

	Now time.Time
}

// UndoParams identifies the single split or transaction whose settlement is
// being reversed. Exactly one of SplitID or TransactionID is set.
type UndoParams struct {
	SplitID       string
	Role          core.SettleRole
	TransactionID string
}

// Store is the persistence surface the services depend on. The SQLite
// implementation is the only one shipped; the interface keeps the settlement
// workflow testable against a fake.
type Store interface {
	ListMembers(ctx context.Context, familyID string) ([]core.Member, error)
	GetAccount(ctx context.Context, id string) (core.Account, error)

	ListSharedTransactions(ctx context.Context, userID string) ([]core.Transaction, error)
	ListSplitsForTransactions(ctx context.Context, txIDs []string) ([]core.Split, error)
	GetTransaction(ctx context.Context, id string) (core.Transaction, error)

	CreateTransaction(ctx context.Context, tx *core.Transaction, splits []core.Split) error
	SettleItems(ctx context.Context, p SettleParams) (settlementID string, err error)
	UndoSettlement(ctx context.Context, p UndoParams) error
	AnticipateSeries(ctx context.Context, seriesID string, year int, month time.Month) (int, error)
	ListOpenInstallmentSeries(ctx context.Context) ([]core.Transaction, error)

	CreateNotification(ctx context.Context, n *core.Notification) error
	ListNotifications(ctx context.Context, userID string) ([]core.Notification, error)

	Close() error
}
