// Package store defines the persistence boundary of the escrow engine. Every
// mutation runs inside Store.WithTx, which is the single serialization point
// for the ledger chain: the fingerprint of each new entry depends on the one
// before it, so writers never overlap.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/inaiurai/escrow/internal/models"
)

// EntryFilter narrows ListEntries. Zero fields match everything.
type EntryFilter struct {
	WalletID    uuid.UUID
	Currency    string
	ReferenceID string
	Kind        models.EntryKind
	Status      models.EntryStatus
}

// Match reports whether e passes the filter.
func (f EntryFilter) Match(e *models.LedgerEntry) bool {
	if f.WalletID != uuid.Nil && e.WalletID != f.WalletID {
		return false
	}
	if f.Currency != "" && e.Currency != f.Currency {
		return false
	}
	if f.ReferenceID != "" && e.ReferenceID != f.ReferenceID {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	return true
}

// PermitFilter narrows ListPermits. UserID matches either side of the permit.
type PermitFilter struct {
	UserID uuid.UUID
	Status models.PermitStatus
}

func (f PermitFilter) Match(p *models.WorkPermit) bool {
	if f.UserID != uuid.Nil && p.BuyerID != f.UserID && p.WorkerID != f.UserID {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	return true
}

// Reader is the read half of a transaction. Lookups of unknown ids return
// models.ErrNotFound. Returned values are copies.
type Reader interface {
	// LastEntry returns the chain head, or nil when the ledger is empty.
	LastEntry(ctx context.Context) (*models.LedgerEntry, error)
	GetEntry(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	// ListEntries returns matching entries in sequence order.
	ListEntries(ctx context.Context, f EntryFilter) ([]models.LedgerEntry, error)

	GetPermit(ctx context.Context, id uuid.UUID) (*models.WorkPermit, error)
	ListPermits(ctx context.Context, f PermitFilter) ([]*models.WorkPermit, error)

	GetWithdrawal(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error)
	// ListWithdrawals lists a wallet's requests; uuid.Nil lists all.
	ListWithdrawals(ctx context.Context, walletID uuid.UUID) ([]*models.WithdrawalRequest, error)

	GetMethod(ctx context.Context, id uuid.UUID) (*models.PaymentMethod, error)
	ListMethods(ctx context.Context, walletID uuid.UUID) ([]*models.PaymentMethod, error)

	GetGateway(ctx context.Context, id string) (*models.GatewayConfig, error)
	ListGateways(ctx context.Context) ([]*models.GatewayConfig, error)
}

// Tx is a write transaction. Nothing written is visible to other readers
// until the WithTx callback returns nil.
type Tx interface {
	Reader

	// InsertEntry stores e as the new chain head. Sequence, fingerprints and
	// timestamp must already be set.
	InsertEntry(ctx context.Context, e *models.LedgerEntry) error
	// UpdateEntryStatus changes the one mutable field of an entry.
	UpdateEntryStatus(ctx context.Context, id uuid.UUID, status models.EntryStatus) error

	InsertPermit(ctx context.Context, p *models.WorkPermit) error
	// UpdatePermit replaces the permit row and persists any audit entries
	// appended since it was read.
	UpdatePermit(ctx context.Context, p *models.WorkPermit) error

	InsertWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error
	UpdateWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error

	InsertMethod(ctx context.Context, m *models.PaymentMethod) error
	UpsertGateway(ctx context.Context, g *models.GatewayConfig) error

	// OnCommit registers fn to run after a successful commit, outside the
	// writer lock. Hooks are dropped on rollback.
	OnCommit(fn func())
}

// Store is implemented by the in-memory store and by repository.Store.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Read(ctx context.Context, fn func(r Reader) error) error
}
