package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	TypeExpense  TransactionType = "EXPENSE"
	TypeIncome   TransactionType = "INCOME"
	TypeTransfer TransactionType = "TRANSFER"
)

const (
	ScopeAll          SharingScope = "all"
	ScopeTripsOnly    SharingScope = "trips_only"
	ScopeDateRange    SharingScope = "date_range"
	ScopeSpecificTrip SharingScope = "specific_trip"
)

type (
	TransactionType string

	SharingScope string

	Money struct {
		Cents    int64
		Currency string
	}

	// Member is a person who can share expenses with the current user.
	// LinkedUserID is set once the invitee has an active account of their own.
	Member struct {
		ID           string
		FamilyID     string
		DisplayName  string
		LinkedUserID string
		Scope        SharingScope
		ScopeStart   time.Time
		ScopeEnd     time.Time
		ScopeTripID  string
		Deleted      bool
	}

	// Transaction is a monetary event. CompetenceDate is the accounting-period
	// date and takes precedence over Date for ledger attribution; it is zero
	// when the calendar date applies.
	Transaction struct {
		ID                  string
		UserID              string
		AccountID           string
		Type                TransactionType
		Amount              Money
		Description         string
		Date                time.Time
		CompetenceDate      time.Time
		TripID              string
		IsShared            bool
		PayerID             string
		SourceTransactionID string
		RelatedMemberID     string
		InstallmentNum      int
		InstallmentTotal    int
		SeriesID            string
		IsSettled           bool
		SettledAt           time.Time
	}

	// Split assigns a portion of a shared transaction's amount to one member.
	// UserID is the split member's own account identifier, when linked.
	Split struct {
		ID                   string
		TransactionID        string
		MemberID             string
		UserID               string
		Amount               Money
		Percentage           float64
		State                SettlementState
		SettledAt            time.Time
		SettledTransactionID string
	}

	// Account is read-only in this core; settlement transactions reference one.
	Account struct {
		ID           string
		UserID       string
		Name         string
		Currency     string
		IsCreditCard bool
		ClosingDay   int
		DueDay       int
	}

	Notification struct {
		ID        string
		UserID    string
		Kind      string
		Title     string
		Body      string
		Read      bool
		CreatedAt time.Time
	}
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrCurrencyMismatch  = errors.New("items span multiple currencies")
	ErrEmptyDescription  = errors.New("empty description")
	ErrUnknownMember     = errors.New("unknown member")
	ErrNothingToSettle   = errors.New("nothing to settle")
	ErrAlreadySettled    = errors.New("already settled")
	ErrNotSettled        = errors.New("item is not settled")
	ErrSplitsExceedTotal = errors.New("split amounts exceed transaction total")
)

// ConflictError reports how many selected items were found already settled.
// The whole settlement attempt is aborted when the count is non-zero.
type ConflictError struct {
	Count int
}

func (e *ConflictError) Error() string {
	if e.Count == 1 {
		return "1 item is already settled"
	}
	return fmt.Sprintf("%d items are already settled", e.Count)
}

func (e *ConflictError) Unwrap() error { return ErrAlreadySettled }

// DisplayDate returns the date the transaction is attributed to: the
// competence date when set, otherwise the calendar date. This pins a
// transaction (and every installment of a series) to exactly one accounting
// month regardless of which day the purchase posted.
func (t Transaction) DisplayDate() time.Time {
	if !t.CompetenceDate.IsZero() {
		return t.CompetenceDate
	}
	return t.Date
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(m.Currency) == "" {
		return errors.New("empty currency")
	}
	return nil
}

func (m Member) Validate() error {
	if strings.TrimSpace(m.DisplayName) == "" {
		return errors.New("empty member name")
	}
	switch m.Scope {
	case ScopeAll, ScopeTripsOnly, ScopeSpecificTrip:
	case ScopeDateRange:
		if m.ScopeStart.IsZero() || m.ScopeEnd.IsZero() {
			return errors.New("date_range scope requires start and end")
		}
		if m.ScopeEnd.Before(m.ScopeStart) {
			return errors.New("scope end before start")
		}
	default:
		return errors.New("invalid sharing scope")
	}
	if m.Scope == ScopeSpecificTrip && m.ScopeTripID == "" {
		return errors.New("specific_trip scope requires a trip id")
	}
	return nil
}

func (t Transaction) Validate() error {
	switch t.Type {
	case TypeExpense, TypeIncome, TypeTransfer:
	default:
		return errors.New("invalid transaction type")
	}
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(t.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if t.Date.IsZero() {
		return errors.New("date cannot be zero")
	}
	if t.InstallmentTotal > 0 && (t.InstallmentNum < 1 || t.InstallmentNum > t.InstallmentTotal) {
		return errors.New("installment number out of range")
	}
	return nil
}

// ValidateSplits enforces the split-sum invariant: split amounts must not
// exceed the transaction total, and every split must share its currency.
func (t Transaction) ValidateSplits(splits []Split) error {
	var sum int64
	for _, sp := range splits {
		if err := sp.Amount.Validate(); err != nil {
			return err
		}
		if sp.Amount.Currency != t.Amount.Currency {
			return ErrCurrencyMismatch
		}
		if sp.MemberID == "" {
			return ErrUnknownMember
		}
		sum += sp.Amount.Cents
	}
	if sum > t.Amount.Cents {
		return ErrSplitsExceedTotal
	}
	return nil
}
