// Package services orchestrates the shared-expense workflows on top of the
// storage, messaging, and real-time layers.
package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"contas/internal/cache"
	"contas/internal/core"
	"contas/internal/metrics"
	"contas/internal/storage"
)

const (
	memberCacheSize = 128
	memberCacheTTL  = 5 * time.Minute
)

// InvoiceService builds per-member invoice projections from the shared
// transaction set. The member directory is cached; transactions and splits
// are fetched fresh on every build.
type InvoiceService struct {
	store   storage.Store
	members *cache.LRUCache[[]core.Member]
}

func NewInvoiceService(store storage.Store) *InvoiceService {
	return &InvoiceService{
		store:   store,
		members: cache.NewLRUCache[[]core.Member](memberCacheSize, memberCacheTTL),
	}
}

// Members returns the family's member directory, served from cache when warm.
func (s *InvoiceService) Members(ctx context.Context, familyID string) ([]core.Member, error) {
	if cached, ok := s.members.Get(familyID); ok {
		return cached, nil
	}

	members, err := s.store.ListMembers(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	s.members.Set(familyID, members)
	return members, nil
}

// InvalidateMembers drops the cached directory after a membership change.
func (s *InvoiceService) InvalidateMembers(familyID string) {
	s.members.Delete(familyID)
}

// RegisterCaches attaches the service's caches to a cleanup manager.
func (s *InvoiceService) RegisterCaches(m *cache.Manager) {
	m.Register(s.members)
}

// Invoice fetches everything the projection needs and folds it into the
// per-member ledger. Members and transactions load concurrently; splits
// depend on the transaction IDs and load after.
func (s *InvoiceService) Invoice(ctx context.Context, userID, familyID string) (core.Invoice, error) {
	var (
		members []core.Member
		txs     []core.Transaction
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		members, err = s.Members(gctx, familyID)
		return err
	})
	g.Go(func() error {
		var err error
		txs, err = s.store.ListSharedTransactions(gctx, userID)
		if err != nil {
			return fmt.Errorf("list shared transactions: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	txIDs := make([]string, len(txs))
	for i, tx := range txs {
		txIDs[i] = tx.ID
	}
	splits, err := s.store.ListSplitsForTransactions(ctx, txIDs)
	if err != nil {
		return nil, fmt.Errorf("list splits: %w", err)
	}

	inv := core.BuildInvoice(core.InvoiceInput{
		UserID:       userID,
		Members:      members,
		Transactions: txs,
		Splits:       splits,
	})
	metrics.InvoicesBuiltTotal.Inc()
	return inv, nil
}

// MemberInvoice returns one member's filtered line items plus per-currency
// totals over the unpaid lines.
func (s *InvoiceService) MemberInvoice(ctx context.Context, userID, familyID, memberID string, opt core.FilterOptions) ([]core.LineItem, []core.CurrencyTotal, error) {
	members, err := s.Members(ctx, familyID)
	if err != nil {
		return nil, nil, err
	}
	member, ok := findMember(members, memberID)
	if !ok {
		return nil, nil, core.ErrUnknownMember
	}

	inv, err := s.Invoice(ctx, userID, familyID)
	if err != nil {
		return nil, nil, err
	}

	items := core.FilterInvoice(inv[memberID], member, opt)
	return items, core.Totals(items), nil
}

// MemberSummary is one member's position in the summary view.
type MemberSummary struct {
	MemberID    string
	DisplayName string
	Linked      bool
	Totals      []core.CurrencyTotal
}

// Summary resolves every member's filtered totals for the given view.
// Deleted members with no open items are omitted.
func (s *InvoiceService) Summary(ctx context.Context, userID, familyID string, opt core.FilterOptions) ([]MemberSummary, error) {
	members, err := s.Members(ctx, familyID)
	if err != nil {
		return nil, err
	}

	inv, err := s.Invoice(ctx, userID, familyID)
	if err != nil {
		return nil, err
	}

	var out []MemberSummary
	for _, m := range members {
		items := core.FilterInvoice(inv[m.ID], m, opt)
		if m.Deleted && len(items) == 0 {
			continue
		}
		out = append(out, MemberSummary{
			MemberID:    m.ID,
			DisplayName: m.DisplayName,
			Linked:      m.LinkedUserID != "",
			Totals:      core.Totals(items),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

func findMember(members []core.Member, id string) (core.Member, bool) {
	for _, m := range members {
		if m.ID == id {
			return m, true
		}
	}
	return core.Member{}, false
}
