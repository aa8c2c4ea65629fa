package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryKind enumerates ledger transaction kinds.
type EntryKind string

const (
	KindDeposit          EntryKind = "deposit"
	KindWithdrawal       EntryKind = "withdrawal"
	KindEscrowLock       EntryKind = "escrow_lock"
	KindEscrowRelease    EntryKind = "escrow_release"
	KindFeeCollection    EntryKind = "fee_collection"
	KindCommission       EntryKind = "commission"
	KindAdjustment       EntryKind = "adjustment"
	KindEarnedWageAccess EntryKind = "earned_wage_access"
)

func (k EntryKind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdrawal, KindEscrowLock, KindEscrowRelease,
		KindFeeCollection, KindCommission, KindAdjustment, KindEarnedWageAccess:
		return true
	}
	return false
}

type Flow string

const (
	FlowIn  Flow = "in"
	FlowOut Flow = "out"
)

type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryCompleted EntryStatus = "completed"
	EntryFailed    EntryStatus = "failed"
	EntryLocked    EntryStatus = "locked"
)

// CanTransition reports whether an entry may move from s to next. Only
// pending and locked entries are open; completed and failed are final.
func (s EntryStatus) CanTransition(next EntryStatus) bool {
	if s != EntryPending && s != EntryLocked {
		return false
	}
	return next == EntryCompleted || next == EntryFailed
}

// Counted reports whether entries in this status take part in balance replay.
func (s EntryStatus) Counted() bool {
	return s == EntryCompleted || s == EntryLocked
}

// GenesisFingerprint is the predecessor fingerprint of the first entry.
const GenesisFingerprint = "genesis"

// LedgerEntry is immutable once written except for Status.
type LedgerEntry struct {
	ID              uuid.UUID       `json:"id"`
	Sequence        uint64          `json:"sequence"`
	WalletID        uuid.UUID       `json:"wallet_id"`
	Kind            EntryKind       `json:"kind"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Flow            Flow            `json:"flow"`
	Status          EntryStatus     `json:"status"`
	ReferenceID     string          `json:"reference_id,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
	PrevFingerprint string          `json:"prev_fingerprint"`
	Fingerprint     string          `json:"fingerprint"`
}

// Signed returns the entry's contribution to its wallet balance.
func (e LedgerEntry) Signed() decimal.Decimal {
	if e.Flow == FlowOut {
		return e.Amount.Neg()
	}
	return e.Amount
}

// Withdrawal request statuses.
const (
	WithdrawalPending   = "pending"
	WithdrawalCompleted = "completed"
	WithdrawalRejected  = "rejected"
)

type WithdrawalRequest struct {
	ID        uuid.UUID       `json:"id"`
	WalletID  uuid.UUID       `json:"wallet_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	MethodID  uuid.UUID       `json:"method_id"`
	Status    string          `json:"status"`
	EntryID   uuid.UUID       `json:"entry_id"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
