package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"contas/internal/core"
)

func newTransactionFixture() (*TransactionService, *fakeStore, *fakeHub) {
	store := &fakeStore{
		members: []core.Member{
			{ID: "mem-alice", FamilyID: "fam-1", DisplayName: "Alice", LinkedUserID: "user-alice", Scope: core.ScopeAll},
		},
	}
	hub := &fakeHub{}
	return NewTransactionService(store, NewInvoiceService(store), hub), store, hub
}

func TestCreateTransaction(t *testing.T) {
	svc, store, hub := newTransactionFixture()
	ctx := context.Background()

	tx := core.Transaction{
		UserID:      "user-me",
		Type:        core.TypeExpense,
		Amount:      core.Money{Cents: 10000, Currency: "BRL"},
		Description: "Groceries",
		Date:        febDate(10),
		IsShared:    true,
	}
	splits := []core.Split{
		{MemberID: "mem-alice", Amount: core.Money{Cents: 5000, Currency: "BRL"}},
	}

	id, err := svc.Create(ctx, "fam-1", tx, splits)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected transaction ID")
	}
	if len(store.createdTxs) != 1 {
		t.Fatalf("Expected 1 created transaction, got %d", len(store.createdTxs))
	}
	if len(hub.messages) != 1 || hub.messages[0].Type != "transaction_created" {
		t.Error("Expected transaction_created broadcast")
	}
}

func TestCreateSharedSplitReachesCounterpart(t *testing.T) {
	store := &fakeStore{
		members: []core.Member{
			{ID: "mem-bruno", FamilyID: "fam-1", DisplayName: "Bruno", LinkedUserID: "user-me", Scope: core.ScopeAll},
			{ID: "mem-alice", FamilyID: "fam-1", DisplayName: "Alice", LinkedUserID: "user-alice", Scope: core.ScopeAll},
		},
	}
	invoices := NewInvoiceService(store)
	svc := NewTransactionService(store, invoices, &fakeHub{})
	ctx := context.Background()

	tx := core.Transaction{
		UserID:      "user-me",
		Type:        core.TypeExpense,
		Amount:      core.Money{Cents: 10000, Currency: "BRL"},
		Description: "Groceries",
		Date:        febDate(10),
		IsShared:    true,
	}
	splits := []core.Split{
		{MemberID: "mem-alice", Amount: core.Money{Cents: 5000, Currency: "BRL"}},
	}

	id, err := svc.Create(ctx, "fam-1", tx, splits)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// The persisted split must carry the member's linked account; the
	// counterpart ledger is keyed on it.
	if len(store.splits) != 1 {
		t.Fatalf("Expected 1 persisted split, got %d", len(store.splits))
	}
	if store.splits[0].UserID != "user-alice" {
		t.Fatalf("Split should carry the linked account of its member, got %q", store.splits[0].UserID)
	}

	// From Alice's side the expense shows up as a debit owed to the creator.
	inv, err := invoices.Invoice(ctx, "user-alice", "fam-1")
	if err != nil {
		t.Fatalf("Invoice failed: %v", err)
	}
	lines := inv["mem-bruno"]
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line in the counterpart ledger, got %d", len(lines))
	}
	if lines[0].Direction != core.DirectionDebit {
		t.Errorf("Expected a debit line, got %s", lines[0].Direction)
	}
	if lines[0].Amount.Cents != 5000 {
		t.Errorf("Expected the split amount 5000, got %d", lines[0].Amount.Cents)
	}
	if want := core.LineItemID(id, core.DirectionDebit, "mem-bruno"); lines[0].ID != want {
		t.Errorf("Expected line %q, got %q", want, lines[0].ID)
	}
}

func TestCreateTransactionValidation(t *testing.T) {
	svc, store, _ := newTransactionFixture()
	ctx := context.Background()

	base := core.Transaction{
		UserID:      "user-me",
		Type:        core.TypeExpense,
		Amount:      core.Money{Cents: 10000, Currency: "BRL"},
		Description: "Groceries",
		Date:        febDate(10),
		IsShared:    true,
	}

	t.Run("empty description", func(t *testing.T) {
		tx := base
		tx.Description = "  "
		if _, err := svc.Create(ctx, "fam-1", tx, nil); !errors.Is(err, core.ErrEmptyDescription) {
			t.Fatalf("Expected ErrEmptyDescription, got %v", err)
		}
	})

	t.Run("splits exceeding the total", func(t *testing.T) {
		splits := []core.Split{
			{MemberID: "mem-alice", Amount: core.Money{Cents: 7000, Currency: "BRL"}},
			{MemberID: "mem-alice", Amount: core.Money{Cents: 7000, Currency: "BRL"}},
		}
		if _, err := svc.Create(ctx, "fam-1", base, splits); !errors.Is(err, core.ErrSplitsExceedTotal) {
			t.Fatalf("Expected ErrSplitsExceedTotal, got %v", err)
		}
	})

	t.Run("split currency mismatch", func(t *testing.T) {
		splits := []core.Split{
			{MemberID: "mem-alice", Amount: core.Money{Cents: 500, Currency: "EUR"}},
		}
		if _, err := svc.Create(ctx, "fam-1", base, splits); !errors.Is(err, core.ErrCurrencyMismatch) {
			t.Fatalf("Expected ErrCurrencyMismatch, got %v", err)
		}
	})

	t.Run("unknown split member", func(t *testing.T) {
		splits := []core.Split{
			{MemberID: "mem-ghost", Amount: core.Money{Cents: 500, Currency: "BRL"}},
		}
		if _, err := svc.Create(ctx, "fam-1", base, splits); !errors.Is(err, core.ErrUnknownMember) {
			t.Fatalf("Expected ErrUnknownMember, got %v", err)
		}
	})

	t.Run("account currency mismatch", func(t *testing.T) {
		store.accountCurrency = "EUR"
		defer func() { store.accountCurrency = "" }()

		tx := base
		tx.AccountID = "acc-1"
		if _, err := svc.Create(ctx, "fam-1", tx, nil); !errors.Is(err, core.ErrCurrencyMismatch) {
			t.Fatalf("Expected ErrCurrencyMismatch, got %v", err)
		}
	})

	if len(store.createdTxs) != 0 {
		t.Errorf("Nothing should persist on validation failure, got %d rows", len(store.createdTxs))
	}
}

func TestCreateInstallmentSeries(t *testing.T) {
	svc, store, _ := newTransactionFixture()
	ctx := context.Background()

	tx := core.Transaction{
		UserID:           "user-me",
		Type:             core.TypeExpense,
		Amount:           core.Money{Cents: 10000, Currency: "BRL"},
		Description:      "Sofa",
		Date:             febDate(15),
		IsShared:         true,
		InstallmentNum:   1,
		InstallmentTotal: 3,
	}
	splits := []core.Split{
		{MemberID: "mem-alice", Amount: core.Money{Cents: 6000, Currency: "BRL"}},
	}

	if _, err := svc.Create(ctx, "fam-1", tx, splits); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if len(store.createdTxs) != 3 {
		t.Fatalf("Expected 3 installments, got %d", len(store.createdTxs))
	}

	var totalCents, splitCents int64
	for i, inst := range store.createdTxs {
		totalCents += inst.Amount.Cents
		if inst.SeriesID == "" {
			t.Error("Installment missing series ID")
		}
		if inst.InstallmentNum != i+1 {
			t.Errorf("Installment %d has number %d", i+1, inst.InstallmentNum)
		}
		wantMonth := time.February + time.Month(i)
		if inst.CompetenceDate.Month() != wantMonth {
			t.Errorf("Installment %d competence month = %v, want %v", i+1, inst.CompetenceDate.Month(), wantMonth)
		}
	}
	// 10000 over 3: first takes the remainder.
	if store.createdTxs[0].Amount.Cents != 3334 {
		t.Errorf("First installment should take the remainder, got %d", store.createdTxs[0].Amount.Cents)
	}
	if totalCents != 10000 {
		t.Errorf("Series must sum to the purchase amount, got %d", totalCents)
	}

	for _, sp := range store.splits {
		splitCents += sp.Amount.Cents
	}
	if splitCents > 6000 {
		t.Errorf("Prorated splits must not exceed the original split, got %d", splitCents)
	}
}

func TestAnticipate(t *testing.T) {
	svc, store, hub := newTransactionFixture()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		store.transactions = append(store.transactions, core.Transaction{
			ID: "tx-" + string(rune('0'+i)), UserID: "user-me", Type: core.TypeExpense,
			Amount: core.Money{Cents: 2000, Currency: "BRL"}, Description: "TV",
			Date:           febDate(1),
			CompetenceDate: time.Date(2026, time.Month(i+1), 1, 0, 0, 0, 0, time.UTC),
			SeriesID:       "series-tv", InstallmentNum: i, InstallmentTotal: 3,
		})
	}

	moved, err := svc.Anticipate(ctx, "series-tv", 2026, time.February)
	if err != nil {
		t.Fatalf("Anticipate failed: %v", err)
	}
	if moved != 2 {
		t.Errorf("Expected 2 installments moved, got %d", moved)
	}
	if len(hub.messages) == 0 || hub.messages[len(hub.messages)-1].Type != "transaction_updated" {
		t.Error("Expected transaction_updated broadcast")
	}

	t.Run("nothing to move", func(t *testing.T) {
		if _, err := svc.Anticipate(ctx, "series-tv", 2026, time.February); !errors.Is(err, core.ErrNothingToSettle) {
			t.Fatalf("Expected ErrNothingToSettle, got %v", err)
		}
	})
}
