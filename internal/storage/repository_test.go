package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"contas/internal/core"
)

func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "contas-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	repo, err := NewSQLiteRepository(filepath.Join(tempDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedMember(t *testing.T, repo *SQLiteRepository, id, familyID, name, linkedUser string) {
	t.Helper()
	_, err := repo.db.Exec(
		`INSERT INTO family_members (id, family_id, display_name, linked_user_id, sharing_scope)
		 VALUES (?, ?, ?, ?, 'all')`,
		id, familyID, name, nullable(linkedUser),
	)
	if err != nil {
		t.Fatalf("Failed to seed member: %v", err)
	}
}

func seedAccount(t *testing.T, repo *SQLiteRepository, id, userID string) {
	t.Helper()
	_, err := repo.db.Exec(
		`INSERT INTO accounts (id, user_id, name, currency) VALUES (?, ?, 'Checking', 'BRL')`,
		id, userID,
	)
	if err != nil {
		t.Fatalf("Failed to seed account: %v", err)
	}
}

func expenseOn(userID string, cents int64, day int) core.Transaction {
	return core.Transaction{
		UserID:      userID,
		Type:        core.TypeExpense,
		Amount:      core.Money{Cents: cents, Currency: "BRL"},
		Description: "Groceries",
		Date:        time.Date(2026, time.February, day, 0, 0, 0, 0, time.UTC),
		IsShared:    true,
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	seedMember(t, repo, "mem-alice", "fam-1", "Alice", "user-alice")
	seedMember(t, repo, "mem-bob", "fam-1", "Bob", "")
	seedAccount(t, repo, "acc-1", "user-me")

	t.Run("ListMembers returns family directory in name order", func(t *testing.T) {
		members, err := repo.ListMembers(ctx, "fam-1")
		if err != nil {
			t.Fatalf("ListMembers failed: %v", err)
		}
		if len(members) != 2 {
			t.Fatalf("Expected 2 members, got %d", len(members))
		}
		if members[0].DisplayName != "Alice" || members[1].DisplayName != "Bob" {
			t.Errorf("Unexpected order: %s, %s", members[0].DisplayName, members[1].DisplayName)
		}
		if members[0].LinkedUserID != "user-alice" {
			t.Errorf("Expected linked user, got %q", members[0].LinkedUserID)
		}
		if members[1].LinkedUserID != "" {
			t.Errorf("Expected unlinked member, got %q", members[1].LinkedUserID)
		}
	})

	t.Run("CreateTransaction generates IDs and round-trips fields", func(t *testing.T) {
		tx := expenseOn("user-me", 10000, 10)
		tx.AccountID = "acc-1"
		tx.CompetenceDate = time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
		splits := []core.Split{
			{MemberID: "mem-alice", UserID: "user-alice", Amount: core.Money{Cents: 4000, Currency: "BRL"}, Percentage: 40},
		}

		if err := repo.CreateTransaction(ctx, &tx, splits); err != nil {
			t.Fatalf("CreateTransaction failed: %v", err)
		}
		if tx.ID == "" {
			t.Fatal("Expected transaction ID to be generated")
		}

		got, err := repo.GetTransaction(ctx, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if got.Amount.Cents != 10000 || got.Amount.Currency != "BRL" {
			t.Errorf("Amount mismatch: %+v", got.Amount)
		}
		if !got.CompetenceDate.Equal(tx.CompetenceDate) {
			t.Errorf("CompetenceDate mismatch: got %v", got.CompetenceDate)
		}
		if got.IsSettled {
			t.Error("New transaction should not be settled")
		}

		fetched, err := repo.ListSplitsForTransactions(ctx, []string{tx.ID})
		if err != nil {
			t.Fatalf("ListSplitsForTransactions failed: %v", err)
		}
		if len(fetched) != 1 {
			t.Fatalf("Expected 1 split, got %d", len(fetched))
		}
		if fetched[0].State != core.Unsettled {
			t.Errorf("Expected unsettled split, got %v", fetched[0].State)
		}
		if fetched[0].Amount.Cents != 4000 {
			t.Errorf("Split amount mismatch: %d", fetched[0].Amount.Cents)
		}
	})

	t.Run("ListSharedTransactions covers splits assigned to the user", func(t *testing.T) {
		theirs := expenseOn("user-alice", 6000, 12)
		splits := []core.Split{
			{MemberID: "mem-bob", UserID: "user-me", Amount: core.Money{Cents: 3000, Currency: "BRL"}},
		}
		if err := repo.CreateTransaction(ctx, &theirs, splits); err != nil {
			t.Fatalf("CreateTransaction failed: %v", err)
		}

		txs, err := repo.ListSharedTransactions(ctx, "user-me")
		if err != nil {
			t.Fatalf("ListSharedTransactions failed: %v", err)
		}
		found := false
		for _, tx := range txs {
			if tx.ID == theirs.ID {
				found = true
			}
		}
		if !found {
			t.Error("Expected the other user's transaction to appear via its split")
		}
	})

	t.Run("ListSharedTransactions covers payer debts without splits", func(t *testing.T) {
		debt := expenseOn("user-me", 2500, 14)
		debt.IsShared = false
		debt.PayerID = "mem-alice"
		if err := repo.CreateTransaction(ctx, &debt, nil); err != nil {
			t.Fatalf("CreateTransaction failed: %v", err)
		}

		txs, err := repo.ListSharedTransactions(ctx, "user-me")
		if err != nil {
			t.Fatalf("ListSharedTransactions failed: %v", err)
		}
		found := false
		for _, tx := range txs {
			if tx.ID == debt.ID {
				found = true
			}
		}
		if !found {
			t.Error("Expected payer-debt transaction to appear without a split")
		}
	})
}

func TestSettleItems(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedMember(t, repo, "mem-alice", "fam-1", "Alice", "user-alice")

	createSplitExpense := func(t *testing.T) (core.Transaction, core.Split) {
		t.Helper()
		tx := expenseOn("user-me", 10000, 5)
		splits := []core.Split{
			{MemberID: "mem-alice", UserID: "user-alice", Amount: core.Money{Cents: 5000, Currency: "BRL"}},
		}
		if err := repo.CreateTransaction(ctx, &tx, splits); err != nil {
			t.Fatalf("CreateTransaction failed: %v", err)
		}
		return tx, splits[0]
	}

	settlement := func() core.Transaction {
		return core.Transaction{
			UserID:              "user-me",
			Type:                core.TypeIncome,
			Amount:              core.Money{Cents: 5000, Currency: "BRL"},
			Description:         "Settlement (full) - Alice",
			Date:                time.Date(2026, time.February, 20, 0, 0, 0, 0, time.UTC),
			RelatedMemberID:     "mem-alice",
			SourceTransactionID: "settlement",
		}
	}

	t.Run("settles splits and records the settlement transaction", func(t *testing.T) {
		_, sp := createSplitExpense(t)

		id, err := repo.SettleItems(ctx, SettleParams{
			Settlement: settlement(),
			SplitRoles: map[string]core.SettleRole{sp.ID: core.RoleCreditor},
		})
		if err != nil {
			t.Fatalf("SettleItems failed: %v", err)
		}
		if id == "" {
			t.Fatal("Expected settlement ID")
		}

		got, err := repo.GetTransaction(ctx, id)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if got.Type != core.TypeIncome {
			t.Errorf("Expected INCOME settlement, got %s", got.Type)
		}

		splits, err := repo.ListSplitsForTransactions(ctx, []string{sp.TransactionID})
		if err != nil {
			t.Fatalf("ListSplitsForTransactions failed: %v", err)
		}
		if splits[0].State != core.SettledByCreditor {
			t.Errorf("Expected SettledByCreditor, got %v", splits[0].State)
		}
		if splits[0].SettledTransactionID != id {
			t.Errorf("Expected settlement link %s, got %s", id, splits[0].SettledTransactionID)
		}
		if splits[0].SettledAt.IsZero() {
			t.Error("Expected SettledAt to be set")
		}
	})

	t.Run("settles whole-amount payer debts via the transaction flag", func(t *testing.T) {
		debt := expenseOn("user-me", 2500, 8)
		debt.IsShared = false
		debt.PayerID = "mem-alice"
		if err := repo.CreateTransaction(ctx, &debt, nil); err != nil {
			t.Fatalf("CreateTransaction failed: %v", err)
		}

		_, err := repo.SettleItems(ctx, SettleParams{
			Settlement:     settlement(),
			TransactionIDs: []string{debt.ID},
		})
		if err != nil {
			t.Fatalf("SettleItems failed: %v", err)
		}

		got, err := repo.GetTransaction(ctx, debt.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if !got.IsSettled {
			t.Error("Expected transaction to be settled")
		}
		if got.SettledAt.IsZero() {
			t.Error("Expected SettledAt to be set")
		}
	})

	t.Run("rejects the whole batch when an item is already settled", func(t *testing.T) {
		_, settled := createSplitExpense(t)
		_, fresh := createSplitExpense(t)

		if _, err := repo.SettleItems(ctx, SettleParams{
			Settlement: settlement(),
			SplitRoles: map[string]core.SettleRole{settled.ID: core.RoleCreditor},
		}); err != nil {
			t.Fatalf("First SettleItems failed: %v", err)
		}

		_, err := repo.SettleItems(ctx, SettleParams{
			Settlement: settlement(),
			SplitRoles: map[string]core.SettleRole{
				settled.ID: core.RoleCreditor,
				fresh.ID:   core.RoleCreditor,
			},
		})
		if err == nil {
			t.Fatal("Expected conflict error")
		}
		var conflict *core.ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("Expected ConflictError, got %v", err)
		}
		if conflict.Count != 1 {
			t.Errorf("Expected 1 conflict, got %d", conflict.Count)
		}
		if !errors.Is(err, core.ErrAlreadySettled) {
			t.Error("Expected ConflictError to unwrap to ErrAlreadySettled")
		}

		// The fresh split must be untouched: the batch is atomic.
		splits, err := repo.ListSplitsForTransactions(ctx, []string{fresh.TransactionID})
		if err != nil {
			t.Fatalf("ListSplitsForTransactions failed: %v", err)
		}
		if splits[0].State != core.Unsettled {
			t.Errorf("Expected fresh split untouched, got %v", splits[0].State)
		}
	})

	t.Run("different roles settle independently", func(t *testing.T) {
		_, sp := createSplitExpense(t)

		if _, err := repo.SettleItems(ctx, SettleParams{
			Settlement: settlement(),
			SplitRoles: map[string]core.SettleRole{sp.ID: core.RoleCreditor},
		}); err != nil {
			t.Fatalf("Creditor settle failed: %v", err)
		}
		if _, err := repo.SettleItems(ctx, SettleParams{
			Settlement: settlement(),
			SplitRoles: map[string]core.SettleRole{sp.ID: core.RoleDebtor},
		}); err != nil {
			t.Fatalf("Debtor settle failed: %v", err)
		}

		splits, err := repo.ListSplitsForTransactions(ctx, []string{sp.TransactionID})
		if err != nil {
			t.Fatalf("ListSplitsForTransactions failed: %v", err)
		}
		if splits[0].State != core.SettledByBoth {
			t.Errorf("Expected SettledByBoth, got %v", splits[0].State)
		}
	})
}

func TestUndoSettlement(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedMember(t, repo, "mem-alice", "fam-1", "Alice", "user-alice")

	tx := expenseOn("user-me", 10000, 5)
	splits := []core.Split{
		{MemberID: "mem-alice", UserID: "user-alice", Amount: core.Money{Cents: 5000, Currency: "BRL"}},
	}
	if err := repo.CreateTransaction(ctx, &tx, splits); err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}

	if _, err := repo.SettleItems(ctx, SettleParams{
		Settlement: core.Transaction{
			UserID:      "user-me",
			Type:        core.TypeIncome,
			Amount:      core.Money{Cents: 5000, Currency: "BRL"},
			Description: "Settlement (full) - Alice",
			Date:        time.Date(2026, time.February, 20, 0, 0, 0, 0, time.UTC),
		},
		SplitRoles: map[string]core.SettleRole{splits[0].ID: core.RoleCreditor},
	}); err != nil {
		t.Fatalf("SettleItems failed: %v", err)
	}

	t.Run("clears flags, timestamp, and settlement link", func(t *testing.T) {
		err := repo.UndoSettlement(ctx, UndoParams{SplitID: splits[0].ID, Role: core.RoleCreditor})
		if err != nil {
			t.Fatalf("UndoSettlement failed: %v", err)
		}

		got, err := repo.ListSplitsForTransactions(ctx, []string{tx.ID})
		if err != nil {
			t.Fatalf("ListSplitsForTransactions failed: %v", err)
		}
		if got[0].State != core.Unsettled {
			t.Errorf("Expected Unsettled, got %v", got[0].State)
		}
		if !got[0].SettledAt.IsZero() {
			t.Error("Expected SettledAt cleared")
		}
		if got[0].SettledTransactionID != "" {
			t.Error("Expected settlement link cleared")
		}
	})

	t.Run("undoing an unsettled split fails", func(t *testing.T) {
		err := repo.UndoSettlement(ctx, UndoParams{SplitID: splits[0].ID, Role: core.RoleCreditor})
		if !errors.Is(err, core.ErrNotSettled) {
			t.Fatalf("Expected ErrNotSettled, got %v", err)
		}
	})
}

func TestAnticipateSeries(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	series := "series-1"
	for i := 1; i <= 4; i++ {
		tx := expenseOn("user-me", 2500, 1)
		tx.Description = "Sofa"
		tx.SeriesID = series
		tx.InstallmentNum = i
		tx.InstallmentTotal = 4
		tx.CompetenceDate = time.Date(2026, time.Month(i), 1, 0, 0, 0, 0, time.UTC)
		if i == 1 {
			tx.IsSettled = true
			tx.SettledAt = time.Now()
		}
		if err := repo.CreateTransaction(ctx, &tx, nil); err != nil {
			t.Fatalf("CreateTransaction failed: %v", err)
		}
	}

	moved, err := repo.AnticipateSeries(ctx, series, 2026, time.February)
	if err != nil {
		t.Fatalf("AnticipateSeries failed: %v", err)
	}
	// Installments 3 and 4 move to February; 1 is settled, 2 already there.
	if moved != 2 {
		t.Errorf("Expected 2 installments moved, got %d", moved)
	}

	txs, err := repo.ListSharedTransactions(ctx, "user-me")
	if err != nil {
		t.Fatalf("ListSharedTransactions failed: %v", err)
	}
	feb := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	for _, tx := range txs {
		if tx.SeriesID != series {
			continue
		}
		if tx.IsSettled {
			if tx.CompetenceDate.Equal(feb) && tx.InstallmentNum == 1 {
				t.Error("Settled installment must not be re-dated")
			}
			continue
		}
		if !tx.CompetenceDate.Equal(feb) {
			t.Errorf("Installment %d not anticipated: %v", tx.InstallmentNum, tx.CompetenceDate)
		}
	}
}

func TestListOpenInstallmentSeries(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	open := expenseOn("user-me", 2500, 1)
	open.SeriesID = "series-open"
	open.InstallmentNum = 2
	open.InstallmentTotal = 4
	if err := repo.CreateTransaction(ctx, &open, nil); err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}

	done := expenseOn("user-me", 2500, 1)
	done.SeriesID = "series-done"
	done.InstallmentNum = 3
	done.InstallmentTotal = 3
	if err := repo.CreateTransaction(ctx, &done, nil); err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}

	got, err := repo.ListOpenInstallmentSeries(ctx)
	if err != nil {
		t.Fatalf("ListOpenInstallmentSeries failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 open series, got %d", len(got))
	}
	if got[0].SeriesID != "series-open" || got[0].InstallmentNum != 2 {
		t.Errorf("Unexpected series head: %+v", got[0])
	}
}

func TestNotifications(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	n := core.Notification{
		UserID: "user-alice",
		Kind:   "settlement",
		Title:  "Settlement received",
		Body:   "Bruno settled BRL 50.00 with you",
	}
	if err := repo.CreateNotification(ctx, &n); err != nil {
		t.Fatalf("CreateNotification failed: %v", err)
	}
	if n.ID == "" {
		t.Fatal("Expected notification ID to be generated")
	}

	list, err := repo.ListNotifications(ctx, "user-alice")
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("Expected 1 notification, got %d", len(list))
	}
	if list[0].Read {
		t.Error("Expected unread notification")
	}

	other, err := repo.ListNotifications(ctx, "user-bob")
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("Expected no notifications for other user, got %d", len(other))
	}
}
