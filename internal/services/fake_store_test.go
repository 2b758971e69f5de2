package services

import (
	"context"
	"fmt"
	"time"

	"contas/internal/core"
	"contas/internal/storage"
)

// fakeStore is an in-memory Store for service tests. Settlement writes mutate
// the held slices the same way the SQLite implementation mutates rows.
type fakeStore struct {
	members      []core.Member
	transactions []core.Transaction
	splits       []core.Split

	settleCalls   []storage.SettleParams
	createdTxs    []core.Transaction
	notifications []core.Notification

	accountCurrency string

	settleErr error
}

func (f *fakeStore) ListMembers(ctx context.Context, familyID string) ([]core.Member, error) {
	return f.members, nil
}

func (f *fakeStore) GetAccount(ctx context.Context, id string) (core.Account, error) {
	currency := f.accountCurrency
	if currency == "" {
		currency = "BRL"
	}
	return core.Account{ID: id, Currency: currency}, nil
}

func (f *fakeStore) ListSharedTransactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	return f.transactions, nil
}

func (f *fakeStore) ListSplitsForTransactions(ctx context.Context, txIDs []string) ([]core.Split, error) {
	want := make(map[string]struct{}, len(txIDs))
	for _, id := range txIDs {
		want[id] = struct{}{}
	}
	var out []core.Split
	for _, sp := range f.splits {
		if _, ok := want[sp.TransactionID]; ok {
			out = append(out, sp)
		}
	}
	return out, nil
}

func (f *fakeStore) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	for _, tx := range f.transactions {
		if tx.ID == id {
			return tx, nil
		}
	}
	return core.Transaction{}, fmt.Errorf("transaction not found: %s", id)
}

func (f *fakeStore) CreateTransaction(ctx context.Context, tx *core.Transaction, splits []core.Split) error {
	if tx.ID == "" {
		tx.ID = fmt.Sprintf("tx-%d", len(f.createdTxs)+1)
	}
	f.createdTxs = append(f.createdTxs, *tx)
	f.transactions = append(f.transactions, *tx)
	for i, sp := range splits {
		sp.TransactionID = tx.ID
		if sp.ID == "" {
			sp.ID = fmt.Sprintf("%s-sp-%d", tx.ID, i+1)
		}
		f.splits = append(f.splits, sp)
	}
	return nil
}

func (f *fakeStore) SettleItems(ctx context.Context, p storage.SettleParams) (string, error) {
	f.settleCalls = append(f.settleCalls, p)
	if f.settleErr != nil {
		return "", f.settleErr
	}
	for i := range f.splits {
		role, ok := p.SplitRoles[f.splits[i].ID]
		if !ok {
			continue
		}
		next, err := f.splits[i].State.Settle(role)
		if err != nil {
			return "", &core.ConflictError{Count: 1}
		}
		f.splits[i].State = next
		f.splits[i].SettledAt = p.Now
	}
	for _, txID := range p.TransactionIDs {
		for i := range f.transactions {
			if f.transactions[i].ID == txID {
				f.transactions[i].IsSettled = true
				f.transactions[i].SettledAt = p.Now
			}
		}
	}
	if p.Settlement.ID == "" {
		p.Settlement.ID = "settlement-1"
	}
	f.transactions = append(f.transactions, p.Settlement)
	return p.Settlement.ID, nil
}

func (f *fakeStore) UndoSettlement(ctx context.Context, p storage.UndoParams) error {
	if p.SplitID != "" {
		for i := range f.splits {
			if f.splits[i].ID != p.SplitID {
				continue
			}
			next, err := f.splits[i].State.Clear(p.Role)
			if err != nil {
				return err
			}
			f.splits[i].State = next
			return nil
		}
		return fmt.Errorf("split not found: %s", p.SplitID)
	}
	for i := range f.transactions {
		if f.transactions[i].ID == p.TransactionID {
			if !f.transactions[i].IsSettled {
				return core.ErrNotSettled
			}
			f.transactions[i].IsSettled = false
			return nil
		}
	}
	return fmt.Errorf("transaction not found: %s", p.TransactionID)
}

func (f *fakeStore) AnticipateSeries(ctx context.Context, seriesID string, year int, month time.Month) (int, error) {
	target := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	moved := 0
	for i := range f.transactions {
		tx := &f.transactions[i]
		if tx.SeriesID != seriesID || tx.IsSettled || !tx.CompetenceDate.After(target) {
			continue
		}
		tx.CompetenceDate = target
		moved++
	}
	return moved, nil
}

func (f *fakeStore) ListOpenInstallmentSeries(ctx context.Context) ([]core.Transaction, error) {
	heads := make(map[string]core.Transaction)
	for _, tx := range f.transactions {
		if tx.SeriesID == "" || tx.InstallmentTotal == 0 {
			continue
		}
		if head, ok := heads[tx.SeriesID]; !ok || tx.InstallmentNum > head.InstallmentNum {
			heads[tx.SeriesID] = tx
		}
	}
	var out []core.Transaction
	for _, head := range heads {
		if head.InstallmentNum < head.InstallmentTotal {
			out = append(out, head)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateNotification(ctx context.Context, n *core.Notification) error {
	if n.ID == "" {
		n.ID = fmt.Sprintf("notif-%d", len(f.notifications)+1)
	}
	f.notifications = append(f.notifications, *n)
	return nil
}

func (f *fakeStore) ListNotifications(ctx context.Context, userID string) ([]core.Notification, error) {
	var out []core.Notification
	for _, n := range f.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeStore) Close() error { return nil }
