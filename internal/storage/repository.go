package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"contas/internal/core"
)

const dateLayout = "2006-01-02"

// Ensure SQLiteRepository implements Store.
var _ Store = (*SQLiteRepository)(nil)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) ListMembers(ctx context.Context, familyID string) ([]core.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, family_id, display_name, linked_user_id, sharing_scope,
		        scope_start, scope_end, scope_trip_id, deleted_at
		 FROM family_members WHERE family_id = ? ORDER BY display_name`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []core.Member
	for rows.Next() {
		var m core.Member
		var linkedUser, scopeStart, scopeEnd, scopeTrip, deletedAt sql.NullString
		var scope string
		if err := rows.Scan(&m.ID, &m.FamilyID, &m.DisplayName, &linkedUser, &scope,
			&scopeStart, &scopeEnd, &scopeTrip, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.LinkedUserID = linkedUser.String
		m.Scope = core.SharingScope(scope)
		m.ScopeStart = parseDate(scopeStart)
		m.ScopeEnd = parseDate(scopeEnd)
		m.ScopeTripID = scopeTrip.String
		m.Deleted = deletedAt.Valid
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, id string) (core.Account, error) {
	var a core.Account
	var closingDay, dueDay sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, currency, is_credit_card, closing_day, due_day
		 FROM accounts WHERE id = ?`, id,
	).Scan(&a.ID, &a.UserID, &a.Name, &a.Currency, &a.IsCreditCard, &closingDay, &dueDay)
	if err == sql.ErrNoRows {
		return core.Account{}, fmt.Errorf("account not found: %s", id)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	a.ClosingDay = int(closingDay.Int64)
	a.DueDay = int(dueDay.Int64)
	return a, nil
}

const transactionColumns = `id, user_id, account_id, type, amount_cents, currency, description,
	date, competence_date, trip_id, is_shared, payer_id, source_transaction_id,
	related_member_id, installment_num, installment_total, series_id, is_settled, settled_at`

func scanTransaction(scan func(...any) error) (core.Transaction, error) {
	var t core.Transaction
	var accountID, competence, trip, payer, source, related, series, settledAt sql.NullString
	var txType string
	var date string
	err := scan(&t.ID, &t.UserID, &accountID, &txType, &t.Amount.Cents, &t.Amount.Currency,
		&t.Description, &date, &competence, &trip, &t.IsShared, &payer, &source,
		&related, &t.InstallmentNum, &t.InstallmentTotal, &series, &t.IsSettled, &settledAt)
	if err != nil {
		return core.Transaction{}, err
	}
	t.AccountID = accountID.String
	t.Type = core.TransactionType(txType)
	t.Date, _ = time.Parse(dateLayout, date)
	t.CompetenceDate = parseDate(competence)
	t.TripID = trip.String
	t.PayerID = payer.String
	t.SourceTransactionID = source.String
	t.RelatedMemberID = related.String
	t.SeriesID = series.String
	t.SettledAt = parseTime(settledAt)
	return t, nil
}

// ListSharedTransactions returns every transaction relevant to the user's
// shared ledger: their own shared expenses, their own expenses paid by
// another member, and other members' transactions carrying a split assigned
// to the user.
func (r *SQLiteRepository) ListSharedTransactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions t
		 WHERE (t.user_id = ? AND (t.is_shared = 1 OR (t.payer_id IS NOT NULL AND t.payer_id != '')))
		    OR t.id IN (SELECT transaction_id FROM transaction_splits WHERE user_id = ?)
		 ORDER BY t.date DESC, t.id`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list shared transactions: %w", err)
	}
	defer rows.Close()

	var txs []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions t WHERE t.id = ?`, id)
	t, err := scanTransaction(row.Scan)
	if err == sql.ErrNoRows {
		return core.Transaction{}, fmt.Errorf("transaction not found: %s", id)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

func (r *SQLiteRepository) ListSplitsForTransactions(ctx context.Context, txIDs []string) ([]core.Split, error) {
	if len(txIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(txIDs)), ",")
	args := make([]any, len(txIDs))
	for i, id := range txIDs {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, transaction_id, member_id, user_id, amount_cents, currency, percentage,
		        settled_by_debtor, settled_by_creditor, settled_at, settled_transaction_id
		 FROM transaction_splits WHERE transaction_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list splits: %w", err)
	}
	defer rows.Close()

	var splits []core.Split
	for rows.Next() {
		var sp core.Split
		var user, settledAt, settledTx sql.NullString
		var pct sql.NullFloat64
		var byDebtor, byCreditor bool
		if err := rows.Scan(&sp.ID, &sp.TransactionID, &sp.MemberID, &user,
			&sp.Amount.Cents, &sp.Amount.Currency, &pct,
			&byDebtor, &byCreditor, &settledAt, &settledTx); err != nil {
			return nil, fmt.Errorf("scan split: %w", err)
		}
		sp.UserID = user.String
		sp.Percentage = pct.Float64
		sp.State = core.StateFromFlags(byDebtor, byCreditor)
		sp.SettledAt = parseTime(settledAt)
		sp.SettledTransactionID = settledTx.String
		splits = append(splits, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate splits: %w", err)
	}
	return splits, nil
}

func (r *SQLiteRepository) CreateTransaction(ctx context.Context, t *core.Transaction, splits []core.Split) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer dbtx.Rollback()

	if err := insertTransaction(ctx, dbtx, t); err != nil {
		return err
	}

	for i := range splits {
		sp := &splits[i]
		if sp.ID == "" {
			sp.ID = uuid.New().String()
		}
		sp.TransactionID = t.ID
		byDebtor, byCreditor := sp.State.Flags()
		_, err = dbtx.ExecContext(ctx,
			`INSERT INTO transaction_splits
			 (id, transaction_id, member_id, user_id, amount_cents, currency, percentage,
			  settled_by_debtor, settled_by_creditor)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sp.ID, sp.TransactionID, sp.MemberID, nullable(sp.UserID),
			sp.Amount.Cents, sp.Amount.Currency, sp.Percentage, byDebtor, byCreditor,
		)
		if err != nil {
			return fmt.Errorf("insert split: %w", err)
		}
	}

	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func insertTransaction(ctx context.Context, dbtx *sql.Tx, t *core.Transaction) error {
	var settledAt any
	if !t.SettledAt.IsZero() {
		settledAt = t.SettledAt.UTC().Format(time.RFC3339)
	}
	_, err := dbtx.ExecContext(ctx,
		`INSERT INTO transactions (`+strings.ReplaceAll(transactionColumns, "\n\t", " ")+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, nullable(t.AccountID), string(t.Type), t.Amount.Cents, t.Amount.Currency,
		t.Description, t.Date.Format(dateLayout), nullableDate(t.CompetenceDate),
		nullable(t.TripID), t.IsShared, nullable(t.PayerID), nullable(t.SourceTransactionID),
		nullable(t.RelatedMemberID), t.InstallmentNum, t.InstallmentTotal,
		nullable(t.SeriesID), t.IsSettled, settledAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// SettleItems re-verifies every referenced split and transaction against the
// stored flags, creates the balancing settlement transaction, and flips all
// flags, all inside one database transaction. A single already-settled item
// rolls the whole batch back with a core.ConflictError.
func (r *SQLiteRepository) SettleItems(ctx context.Context, p SettleParams) (string, error) {
	if p.Settlement.ID == "" {
		p.Settlement.ID = uuid.New().String()
	}
	if p.Now.IsZero() {
		p.Now = time.Now()
	}
	settledAt := p.Now.UTC().Format(time.RFC3339)

	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin settlement: %w", err)
	}
	defer dbtx.Rollback()

	// Re-check against the source of truth before any write: a concurrent
	// settlement that won the race turns this whole attempt into a conflict.
	conflicts := 0
	newStates := make(map[string]core.SettlementState, len(p.SplitRoles))
	for splitID, role := range p.SplitRoles {
		var byDebtor, byCreditor bool
		err := dbtx.QueryRowContext(ctx,
			`SELECT settled_by_debtor, settled_by_creditor FROM transaction_splits WHERE id = ?`,
			splitID,
		).Scan(&byDebtor, &byCreditor)
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("split not found: %s", splitID)
		}
		if err != nil {
			return "", fmt.Errorf("check split %s: %w", splitID, err)
		}
		next, err := core.StateFromFlags(byDebtor, byCreditor).Settle(role)
		if err != nil {
			conflicts++
			continue
		}
		newStates[splitID] = next
	}
	for _, txID := range p.TransactionIDs {
		var settled bool
		err := dbtx.QueryRowContext(ctx,
			`SELECT is_settled FROM transactions WHERE id = ?`, txID,
		).Scan(&settled)
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("transaction not found: %s", txID)
		}
		if err != nil {
			return "", fmt.Errorf("check transaction %s: %w", txID, err)
		}
		if settled {
			conflicts++
		}
	}
	if conflicts > 0 {
		return "", &core.ConflictError{Count: conflicts}
	}

	if err := insertTransaction(ctx, dbtx, &p.Settlement); err != nil {
		return "", err
	}

	for splitID, state := range newStates {
		byDebtor, byCreditor := state.Flags()
		_, err = dbtx.ExecContext(ctx,
			`UPDATE transaction_splits
			 SET settled_by_debtor = ?, settled_by_creditor = ?, settled_at = ?, settled_transaction_id = ?
			 WHERE id = ?`,
			byDebtor, byCreditor, settledAt, p.Settlement.ID, splitID,
		)
		if err != nil {
			return "", fmt.Errorf("settle split %s: %w", splitID, err)
		}
	}
	for _, txID := range p.TransactionIDs {
		_, err = dbtx.ExecContext(ctx,
			`UPDATE transactions SET is_settled = 1, settled_at = ? WHERE id = ?`,
			settledAt, txID,
		)
		if err != nil {
			return "", fmt.Errorf("settle transaction %s: %w", txID, err)
		}
	}

	if err := dbtx.Commit(); err != nil {
		return "", fmt.Errorf("commit settlement: %w", err)
	}

	slog.InfoContext(ctx, "Settlement recorded",
		"settlement_id", p.Settlement.ID,
		"splits", len(newStates),
		"transactions", len(p.TransactionIDs))
	return p.Settlement.ID, nil
}

// UndoSettlement clears the settled flag, timestamp, and settlement link on
// one split or transaction. The settlement transaction the flags pointed at
// is left untouched.
func (r *SQLiteRepository) UndoSettlement(ctx context.Context, p UndoParams) error {
	if p.SplitID != "" {
		var byDebtor, byCreditor bool
		err := r.db.QueryRowContext(ctx,
			`SELECT settled_by_debtor, settled_by_creditor FROM transaction_splits WHERE id = ?`,
			p.SplitID,
		).Scan(&byDebtor, &byCreditor)
		if err == sql.ErrNoRows {
			return fmt.Errorf("split not found: %s", p.SplitID)
		}
		if err != nil {
			return fmt.Errorf("check split: %w", err)
		}
		next, err := core.StateFromFlags(byDebtor, byCreditor).Clear(p.Role)
		if err != nil {
			return err
		}
		newByDebtor, newByCreditor := next.Flags()
		if next == core.Unsettled {
			_, err = r.db.ExecContext(ctx,
				`UPDATE transaction_splits
				 SET settled_by_debtor = 0, settled_by_creditor = 0, settled_at = NULL, settled_transaction_id = NULL
				 WHERE id = ?`, p.SplitID)
		} else {
			_, err = r.db.ExecContext(ctx,
				`UPDATE transaction_splits SET settled_by_debtor = ?, settled_by_creditor = ? WHERE id = ?`,
				newByDebtor, newByCreditor, p.SplitID)
		}
		if err != nil {
			return fmt.Errorf("undo split settlement: %w", err)
		}
		return nil
	}

	var settled bool
	err := r.db.QueryRowContext(ctx,
		`SELECT is_settled FROM transactions WHERE id = ?`, p.TransactionID,
	).Scan(&settled)
	if err == sql.ErrNoRows {
		return fmt.Errorf("transaction not found: %s", p.TransactionID)
	}
	if err != nil {
		return fmt.Errorf("check transaction: %w", err)
	}
	if !settled {
		return core.ErrNotSettled
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE transactions SET is_settled = 0, settled_at = NULL WHERE id = ?`,
		p.TransactionID)
	if err != nil {
		return fmt.Errorf("undo transaction settlement: %w", err)
	}
	return nil
}

// AnticipateSeries pulls the remaining unsettled installments of a series
// forward to the given competence month. Settled installments are never
// re-dated.
func (r *SQLiteRepository) AnticipateSeries(ctx context.Context, seriesID string, year int, month time.Month) (int, error) {
	competence := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Format(dateLayout)
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET competence_date = ?
		 WHERE series_id = ? AND is_settled = 0 AND competence_date > ?`,
		competence, seriesID, competence,
	)
	if err != nil {
		return 0, fmt.Errorf("anticipate series: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// ListOpenInstallmentSeries returns the latest installment of every series
// that has installments left to materialize.
func (r *SQLiteRepository) ListOpenInstallmentSeries(ctx context.Context) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions t
		 WHERE t.series_id IS NOT NULL AND t.series_id != '' AND t.installment_total > 0
		   AND t.installment_num < t.installment_total
		   AND t.installment_num = (
		       SELECT MAX(installment_num) FROM transactions WHERE series_id = t.series_id)`,
	)
	if err != nil {
		return nil, fmt.Errorf("list open installment series: %w", err)
	}
	defer rows.Close()

	var txs []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate series: %w", err)
	}
	return txs, nil
}

func (r *SQLiteRepository) CreateNotification(ctx context.Context, n *core.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, kind, title, body, read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Kind, n.Title, n.Body, n.Read, n.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListNotifications(ctx context.Context, userID string) ([]core.Notification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, kind, title, body, read, created_at
		 FROM notifications WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []core.Notification
	for rows.Next() {
		var n core.Notification
		var created string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Body, &n.Read, &created); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(dateLayout)
}

func parseDate(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, _ := time.Parse(dateLayout, s.String)
	return t
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, s.String)
	return t
}
