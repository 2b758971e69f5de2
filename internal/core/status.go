package core

import "fmt"

// SettlementState models the per-role settlement confirmations of a split as
// one small state machine instead of two independently mutable booleans, so
// the storage layer and the resolver agree on which transitions are legal.
type SettlementState uint8

const (
	Unsettled SettlementState = iota
	SettledByDebtor
	SettledByCreditor
	SettledByBoth
)

type SettleRole uint8

const (
	RoleDebtor SettleRole = iota
	RoleCreditor
)

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Direction of a ledger line relative to the current user: credit means the
// member owes the current user, debit means the current user owes the member.
type Direction string

func (s SettlementState) String() string {
	switch s {
	case Unsettled:
		return "unsettled"
	case SettledByDebtor:
		return "settled_by_debtor"
	case SettledByCreditor:
		return "settled_by_creditor"
	case SettledByBoth:
		return "settled_by_both"
	}
	return fmt.Sprintf("SettlementState(%d)", uint8(s))
}

// StateFromFlags derives the state from the two persisted flag columns.
func StateFromFlags(byDebtor, byCreditor bool) SettlementState {
	switch {
	case byDebtor && byCreditor:
		return SettledByBoth
	case byDebtor:
		return SettledByDebtor
	case byCreditor:
		return SettledByCreditor
	}
	return Unsettled
}

// Flags serializes the state back into the two persisted flag columns.
func (s SettlementState) Flags() (byDebtor, byCreditor bool) {
	return s == SettledByDebtor || s == SettledByBoth,
		s == SettledByCreditor || s == SettledByBoth
}

func (s SettlementState) ByDebtor() bool {
	d, _ := s.Flags()
	return d
}

func (s SettlementState) ByCreditor() bool {
	_, c := s.Flags()
	return c
}

// Settle applies one role's confirmation. It fails with ErrAlreadySettled if
// that role has already confirmed, which is what makes re-running a settlement
// on the same item a conflict rather than a silent double-apply.
func (s SettlementState) Settle(role SettleRole) (SettlementState, error) {
	switch role {
	case RoleDebtor:
		if s.ByDebtor() {
			return s, ErrAlreadySettled
		}
		if s == SettledByCreditor {
			return SettledByBoth, nil
		}
		return SettledByDebtor, nil
	case RoleCreditor:
		if s.ByCreditor() {
			return s, ErrAlreadySettled
		}
		if s == SettledByDebtor {
			return SettledByBoth, nil
		}
		return SettledByCreditor, nil
	}
	return s, fmt.Errorf("unknown settle role %d", role)
}

// Clear is the inverse of Settle for the given role. Clearing a role that has
// not confirmed fails with ErrNotSettled.
func (s SettlementState) Clear(role SettleRole) (SettlementState, error) {
	switch role {
	case RoleDebtor:
		if !s.ByDebtor() {
			return s, ErrNotSettled
		}
		if s == SettledByBoth {
			return SettledByCreditor, nil
		}
		return Unsettled, nil
	case RoleCreditor:
		if !s.ByCreditor() {
			return s, ErrNotSettled
		}
		if s == SettledByBoth {
			return SettledByDebtor, nil
		}
		return Unsettled, nil
	}
	return s, fmt.Errorf("unknown settle role %d", role)
}

// SettleRoleFor maps a line direction to the flag the current user flips when
// settling it: credits are confirmed by the creditor, debits by the debtor.
func SettleRoleFor(dir Direction) SettleRole {
	if dir == DirectionCredit {
		return RoleCreditor
	}
	return RoleDebtor
}

// Status is the resolved settlement state of one ledger line plus the action
// permissions derived from it.
type Status struct {
	IsSettled     bool
	CanEdit       bool
	CanDelete     bool
	CanAnticipate bool
	BlockReason   string
}

const blockReasonSettled = "already settled"

// ResolveStatus derives the settlement status of a line item. split is nil
// for the whole-amount payer-paid case, where the transaction's own settled
// flag is authoritative. The result is a pure function of its inputs.
func ResolveStatus(tx Transaction, split *Split, dir Direction) Status {
	settled := tx.IsSettled
	if split != nil {
		switch dir {
		case DirectionCredit:
			settled = split.State.ByCreditor()
		case DirectionDebit:
			settled = split.State.ByDebtor()
		}
	}

	st := Status{IsSettled: settled}
	if settled {
		// Editing or deleting the parent would retroactively change an
		// amount already reconciled in a closed-out payment.
		st.BlockReason = blockReasonSettled
		return st
	}

	st.CanEdit = true
	st.CanDelete = true
	st.CanAnticipate = tx.InstallmentTotal > 1 && tx.InstallmentNum < tx.InstallmentTotal
	return st
}
