// Package ledger is the append-only, hash-chained record of every value
// movement. Wallet balances are never stored; they are replayed from entries.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/escrow/internal/metrics"
	"github.com/inaiurai/escrow/internal/models"
	"github.com/inaiurai/escrow/internal/security"
	"github.com/inaiurai/escrow/internal/store"
)

// Draft is the caller-supplied part of a new entry.
type Draft struct {
	WalletID    uuid.UUID
	Kind        models.EntryKind
	Amount      decimal.Decimal
	Currency    string
	Flow        models.Flow
	Status      models.EntryStatus
	ReferenceID string
}

func (d Draft) validate() error {
	if d.WalletID == uuid.Nil {
		return fmt.Errorf("%w: wallet id required", models.ErrInvalidInput)
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: unknown entry kind %q", models.ErrInvalidInput, d.Kind)
	}
	if d.Flow != models.FlowIn && d.Flow != models.FlowOut {
		return fmt.Errorf("%w: unknown flow %q", models.ErrInvalidInput, d.Flow)
	}
	switch d.Status {
	case models.EntryPending, models.EntryCompleted, models.EntryLocked:
	default:
		return fmt.Errorf("%w: entries cannot be written as %q", models.ErrInvalidInput, d.Status)
	}
	if d.Currency == "" {
		return fmt.Errorf("%w: currency required", models.ErrInvalidInput)
	}
	if !d.Amount.IsPositive() {
		return models.ErrInvalidAmount
	}
	return nil
}

// Ledger appends to and verifies the chain held by a store. It carries no
// entries itself; every call takes the caller's transaction or read view.
type Ledger struct {
	hasher  security.Hasher
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
	halted  atomic.Bool
}

// New returns a Ledger that fingerprints new entries with h.
func New(h security.Hasher, logger *slog.Logger, m *metrics.Metrics) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{hasher: h, logger: logger, metrics: m, clock: time.Now}
}

// WithClock overrides clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Halted reports whether an integrity violation has stopped all writes.
func (l *Ledger) Halted() bool {
	return l.halted.Load()
}

// Append writes a new chain head inside tx. Before linking, the current head
// is re-hashed; a mismatch means the chain was altered underneath us and the
// ledger halts.
func (l *Ledger) Append(ctx context.Context, tx store.Tx, d Draft) (*models.LedgerEntry, error) {
	if l.halted.Load() {
		return nil, models.ErrChainIntegrityViolation
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	head, err := tx.LastEntry(ctx)
	if err != nil {
		return nil, fmt.Errorf("read chain head: %w", err)
	}
	prev := models.GenesisFingerprint
	var seq uint64 = 1
	if head != nil {
		got, err := recompute(head)
		if err != nil || got != head.Fingerprint {
			return nil, l.violation(head.Sequence, "head fingerprint does not match content")
		}
		prev = head.Fingerprint
		seq = head.Sequence + 1
	}

	e := &models.LedgerEntry{
		ID:              uuid.New(),
		Sequence:        seq,
		WalletID:        d.WalletID,
		Kind:            d.Kind,
		Amount:          d.Amount,
		Currency:        d.Currency,
		Flow:            d.Flow,
		Status:          d.Status,
		ReferenceID:     d.ReferenceID,
		Timestamp:       l.clock().UTC().Truncate(time.Microsecond),
		PrevFingerprint: prev,
	}
	if e.Fingerprint, err = ComputeFingerprint(l.hasher, prev, e); err != nil {
		return nil, err
	}
	if err := tx.InsertEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	kind := string(e.Kind)
	tx.OnCommit(func() { l.metrics.EntryAppended(kind) })
	return e, nil
}

// SetStatus moves an open (pending or locked) entry to completed or failed.
func (l *Ledger) SetStatus(ctx context.Context, tx store.Tx, id uuid.UUID, next models.EntryStatus) (*models.LedgerEntry, error) {
	if l.halted.Load() {
		return nil, models.ErrChainIntegrityViolation
	}
	e, err := tx.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.Status.CanTransition(next) {
		return nil, fmt.Errorf("%w: ledger entry %s is %s, cannot become %s", models.ErrInvalidStateTransition, id, e.Status, next)
	}
	if err := tx.UpdateEntryStatus(ctx, id, next); err != nil {
		return nil, err
	}
	e.Status = next
	return e, nil
}

// Balance replays completed and locked entries for a wallet in one currency.
// Failed and pending entries do not count.
func (l *Ledger) Balance(ctx context.Context, r store.Reader, walletID uuid.UUID, currency string) (decimal.Decimal, error) {
	entries, err := r.ListEntries(ctx, store.EntryFilter{WalletID: walletID, Currency: currency})
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for i := range entries {
		if entries[i].Status.Counted() {
			sum = sum.Add(entries[i].Signed())
		}
	}
	return sum, nil
}

// LockedBalance sums escrow-lock entries still in locked status.
func (l *Ledger) LockedBalance(ctx context.Context, r store.Reader, walletID uuid.UUID, currency string) (decimal.Decimal, error) {
	entries, err := r.ListEntries(ctx, store.EntryFilter{
		WalletID: walletID,
		Currency: currency,
		Kind:     models.KindEscrowLock,
		Status:   models.EntryLocked,
	})
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for i := range entries {
		sum = sum.Add(entries[i].Amount)
	}
	return sum, nil
}

// VerifyChain checks that every entry links to its predecessor. It does not
// re-hash content; see DeepVerify.
func (l *Ledger) VerifyChain(ctx context.Context, r store.Reader) (bool, error) {
	entries, err := r.ListEntries(ctx, store.EntryFilter{})
	if err != nil {
		return false, err
	}
	if b := CheckChain(entries, false); b != nil {
		l.logger.Warn("ledger chain link check failed", "sequence", b.Sequence, "reason", b.Reason)
		return false, nil
	}
	return true, nil
}

// DeepVerify recomputes every fingerprint. A failure is an integrity
// violation and halts the ledger.
func (l *Ledger) DeepVerify(ctx context.Context, r store.Reader) (bool, error) {
	entries, err := r.ListEntries(ctx, store.EntryFilter{})
	if err != nil {
		return false, err
	}
	if b := CheckChain(entries, true); b != nil {
		_ = l.violation(b.Sequence, b.Reason)
		return false, nil
	}
	return true, nil
}

func (l *Ledger) violation(seq uint64, reason string) error {
	l.halted.Store(true)
	l.logger.Error("ledger chain integrity violation, writes halted",
		"alert", true,
		"sequence", seq,
		"reason", reason,
	)
	l.metrics.ChainViolation()
	return fmt.Errorf("%w: sequence %d: %s", models.ErrChainIntegrityViolation, seq, reason)
}
