package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/escrow/internal/identity"
	"github.com/inaiurai/escrow/internal/invoicing"
	"github.com/inaiurai/escrow/internal/ledger"
	"github.com/inaiurai/escrow/internal/metrics"
	"github.com/inaiurai/escrow/internal/models"
	"github.com/inaiurai/escrow/internal/security"
	"github.com/inaiurai/escrow/internal/store"
)

// Rates are the fractions of a permit total taken as platform fee and admin
// commission. The worker receives the remainder.
type Rates struct {
	PlatformFee     decimal.Decimal
	AdminCommission decimal.Decimal
}

// DefaultRates is 2% fee and 10% commission.
var DefaultRates = Rates{
	PlatformFee:     decimal.RequireFromString("0.02"),
	AdminCommission: decimal.RequireFromString("0.10"),
}

// Split is the three-way division of a permit total.
type Split struct {
	WorkerAmount    decimal.Decimal
	PlatformFee     decimal.Decimal
	AdminCommission decimal.Decimal
}

func (s Split) Total() decimal.Decimal {
	return s.WorkerAmount.Add(s.PlatformFee).Add(s.AdminCommission)
}

// SplitFor rounds fee and commission to cents and gives the worker the rest,
// so the three parts always sum to total exactly.
func (r Rates) SplitFor(total decimal.Decimal) (Split, error) {
	if !total.IsPositive() {
		return Split{}, models.ErrInvalidAmount
	}
	fee := total.Mul(r.PlatformFee).Round(2)
	commission := total.Mul(r.AdminCommission).Round(2)
	worker := total.Sub(fee).Sub(commission)
	if !worker.IsPositive() {
		return Split{}, fmt.Errorf("%w: fee %s + commission %s of %s", models.ErrFeeExceedsTotal, fee, commission, total)
	}
	return Split{WorkerAmount: worker, PlatformFee: fee, AdminCommission: commission}, nil
}

// Payout lists what a settlement wrote.
type Payout struct {
	LockEntryID     uuid.UUID       `json:"lock_entry_id"`
	WorkerNet       decimal.Decimal `json:"worker_net"`
	BuyerRefund     decimal.Decimal `json:"buyer_refund"`
	PlatformFee     decimal.Decimal `json:"platform_fee"`
	AdminCommission decimal.Decimal `json:"admin_commission"`
	EntryIDs        []uuid.UUID     `json:"entry_ids"`
}

// EscrowService is the wallet layer over the ledger. Lock, Unlock and the
// settlement methods run inside the caller's transaction so the permit state
// machine can commit its own row in the same unit; wallet-facing operations
// open their own.
type EscrowService struct {
	Store    store.Store
	Ledger   *ledger.Ledger
	Identity identity.Provider
	Invoicer invoicing.Invoicer
	Sweeper  security.Sweeper
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	Rates    Rates
	Referral ReferralPolicy
	// FX maps "FROM/TO" to the number of TO units per FROM unit.
	FX map[string]decimal.Decimal

	systemLocked atomic.Bool
	clock        func() time.Time
}

// NewEscrowService returns an EscrowService with default rates, no referral
// bonus, a no-op sweeper and a logging invoicer.
func NewEscrowService(st store.Store, l *ledger.Ledger, ids identity.Provider) *EscrowService {
	logger := slog.Default()
	return &EscrowService{
		Store:    st,
		Ledger:   l,
		Identity: ids,
		Invoicer: invoicing.NewLoggingInvoicer(logger),
		Sweeper:  security.NoopSweeper{},
		Logger:   logger,
		Rates:    DefaultRates,
		FX:       map[string]decimal.Decimal{},
		clock:    time.Now,
	}
}

func (s *EscrowService) now() time.Time {
	return s.clock().UTC()
}

// Lock reserves amount from walletID against referenceID. The owner must have
// accepted the platform terms and the replayed balance must cover amount.
// The first successful lock of a referred wallet also pays the referral bonus.
func (s *EscrowService) Lock(ctx context.Context, tx store.Tx, walletID uuid.UUID, amount decimal.Decimal, currency, referenceID string) (entry *models.LedgerEntry, err error) {
	defer func() { s.Metrics.EscrowOp("lock", err) }()

	if !amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	owner, err := s.Identity.GetUserByID(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("lookup wallet owner: %w", err)
	}
	if !owner.TermsAccepted {
		return nil, models.ErrTermsNotAccepted
	}
	balance, err := s.Ledger.Balance(ctx, tx, walletID, currency)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(amount) {
		return nil, fmt.Errorf("%w: wallet %s has %s %s, lock needs %s", models.ErrInsufficientFunds, walletID, balance, currency, amount)
	}
	entry, err = s.Ledger.Append(ctx, tx, ledger.Draft{
		WalletID:    walletID,
		Kind:        models.KindEscrowLock,
		Amount:      amount,
		Currency:    currency,
		Flow:        models.FlowOut,
		Status:      models.EntryLocked,
		ReferenceID: referenceID,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.creditReferral(ctx, tx, owner, amount, currency); err != nil {
		return nil, fmt.Errorf("referral bonus: %w", err)
	}
	return entry, nil
}

// Unlock credits amount back to walletID as a completed adjustment. The
// original lock entry is left as it is.
func (s *EscrowService) Unlock(ctx context.Context, tx store.Tx, walletID uuid.UUID, amount decimal.Decimal, currency, referenceID string) (entry *models.LedgerEntry, err error) {
	defer func() { s.Metrics.EscrowOp("unlock", err) }()

	return s.Ledger.Append(ctx, tx, ledger.Draft{
		WalletID:    walletID,
		Kind:        models.KindAdjustment,
		Amount:      amount,
		Currency:    currency,
		Flow:        models.FlowIn,
		Status:      models.EntryCompleted,
		ReferenceID: referenceID,
	})
}

// RefundLock returns the whole locked amount under referenceID to the
// buyer and closes the lock, so the same reservation can never also be
// distributed.
func (s *EscrowService) RefundLock(ctx context.Context, tx store.Tx, referenceID string, buyerID uuid.UUID) (entry *models.LedgerEntry, err error) {
	defer func() { s.Metrics.EscrowOp("refund_lock", err) }()

	lock, err := s.findOpenLock(ctx, tx, referenceID)
	if err != nil {
		return nil, err
	}
	if lock.WalletID != buyerID {
		return nil, fmt.Errorf("%w: lock %s is not held by %s", models.ErrNotAuthorized, lock.ID, buyerID)
	}
	entry, err = s.Unlock(ctx, tx, buyerID, lock.Amount, lock.Currency, referenceID)
	if err != nil {
		return nil, err
	}
	if _, err := s.Ledger.SetStatus(ctx, tx, lock.ID, models.EntryCompleted); err != nil {
		return nil, err
	}
	return entry, nil
}

// Distribute finalizes the lock held under referenceID and pays the worker,
// fee pool and commission pool. There is no fallback when the lock is
// missing: that is models.ErrNotFound.
func (s *EscrowService) Distribute(ctx context.Context, tx store.Tx, referenceID string, split Split, currency string, workerID uuid.UUID) (p *Payout, err error) {
	defer func() { s.Metrics.EscrowOp("distribute", err) }()
	return s.settle(ctx, tx, settlement{
		reference: referenceID,
		split:     split,
		currency:  currency,
		workerID:  workerID,
		toWorker:  split.WorkerAmount,
		buyerID:   uuid.Nil,
		toBuyer:   decimal.Zero,
	})
}

// RefundSettlement finalizes the lock, keeps fee and commission in their
// pools and returns only the worker amount to the buyer.
func (s *EscrowService) RefundSettlement(ctx context.Context, tx store.Tx, referenceID string, split Split, currency string, buyerID uuid.UUID) (p *Payout, err error) {
	defer func() { s.Metrics.EscrowOp("refund", err) }()
	return s.settle(ctx, tx, settlement{
		reference: referenceID,
		split:     split,
		currency:  currency,
		buyerID:   buyerID,
		toBuyer:   split.WorkerAmount,
		toWorker:  decimal.Zero,
	})
}

// SplitSettlement divides the worker amount between worker and buyer. Fee and
// commission are retained as in a refund.
func (s *EscrowService) SplitSettlement(ctx context.Context, tx store.Tx, referenceID string, split Split, currency string, workerID, buyerID uuid.UUID, workerShare, buyerShare decimal.Decimal) (p *Payout, err error) {
	defer func() { s.Metrics.EscrowOp("split", err) }()
	if workerShare.IsNegative() || buyerShare.IsNegative() {
		return nil, models.ErrInvalidAmount
	}
	if !workerShare.Add(buyerShare).Equal(split.WorkerAmount) {
		return nil, fmt.Errorf("%w: shares %s + %s must equal worker amount %s", models.ErrInvalidInput, workerShare, buyerShare, split.WorkerAmount)
	}
	return s.settle(ctx, tx, settlement{
		reference: referenceID,
		split:     split,
		currency:  currency,
		workerID:  workerID,
		toWorker:  workerShare,
		buyerID:   buyerID,
		toBuyer:   buyerShare,
	})
}

type settlement struct {
	reference string
	split     Split
	currency  string
	workerID  uuid.UUID
	toWorker  decimal.Decimal
	buyerID   uuid.UUID
	toBuyer   decimal.Decimal
}

// settle runs every status change and append of a payout in one transaction.
// Zero legs are skipped; the non-zero ones always sum to the locked amount.
func (s *EscrowService) settle(ctx context.Context, tx store.Tx, st settlement) (*Payout, error) {
	lock, err := s.findOpenLock(ctx, tx, st.reference)
	if err != nil {
		return nil, err
	}
	if !st.split.Total().Equal(lock.Amount) {
		return nil, fmt.Errorf("%w: split total %s does not match locked %s", models.ErrInvalidInput, st.split.Total(), lock.Amount)
	}
	if lock.Currency != st.currency {
		return nil, fmt.Errorf("%w: lock is in %s, settlement in %s", models.ErrInvalidInput, lock.Currency, st.currency)
	}
	if _, err := s.Ledger.SetStatus(ctx, tx, lock.ID, models.EntryCompleted); err != nil {
		return nil, err
	}

	p := &Payout{
		LockEntryID:     lock.ID,
		WorkerNet:       st.toWorker,
		BuyerRefund:     st.toBuyer,
		PlatformFee:     st.split.PlatformFee,
		AdminCommission: st.split.AdminCommission,
	}
	legs := []ledger.Draft{
		{WalletID: st.workerID, Kind: models.KindEscrowRelease, Amount: st.toWorker},
		{WalletID: st.buyerID, Kind: models.KindAdjustment, Amount: st.toBuyer},
		{WalletID: models.PlatformFeePoolID, Kind: models.KindFeeCollection, Amount: st.split.PlatformFee},
		{WalletID: models.AdminCommissionPoolID, Kind: models.KindCommission, Amount: st.split.AdminCommission},
	}
	for _, leg := range legs {
		if !leg.Amount.IsPositive() {
			continue
		}
		leg.Currency = st.currency
		leg.Flow = models.FlowIn
		leg.Status = models.EntryCompleted
		leg.ReferenceID = st.reference
		e, err := s.Ledger.Append(ctx, tx, leg)
		if err != nil {
			return nil, fmt.Errorf("append %s leg: %w", leg.Kind, err)
		}
		p.EntryIDs = append(p.EntryIDs, e.ID)
	}

	if st.split.PlatformFee.IsPositive() {
		if err := s.scheduleSweep(ctx, tx, st.currency); err != nil {
			return nil, err
		}
	}
	if st.toWorker.IsPositive() {
		s.scheduleInvoice(ctx, tx, st, p)
	}
	return p, nil
}

// findOpenLock returns the escrow-lock entry for reference that is still in
// locked status. A reference whose lock was already finalized is a double
// release.
func (s *EscrowService) findOpenLock(ctx context.Context, r store.Reader, reference string) (*models.LedgerEntry, error) {
	locks, err := r.ListEntries(ctx, store.EntryFilter{ReferenceID: reference, Kind: models.KindEscrowLock})
	if err != nil {
		return nil, err
	}
	if len(locks) == 0 {
		return nil, fmt.Errorf("escrow lock for %q: %w", reference, models.ErrNotFound)
	}
	for i := range locks {
		if locks[i].Status == models.EntryLocked {
			return &locks[i], nil
		}
	}
	return nil, fmt.Errorf("%w: escrow lock for %q is already %s", models.ErrInvalidStateTransition, reference, locks[len(locks)-1].Status)
}

func (s *EscrowService) scheduleSweep(ctx context.Context, tx store.Tx, currency string) error {
	pool, err := s.Ledger.Balance(ctx, tx, models.PlatformFeePoolID, currency)
	if err != nil {
		return err
	}
	sweeper := s.Sweeper
	tx.OnCommit(func() { sweeper.FeePoolCredited(context.WithoutCancel(ctx), currency, pool) })
	return nil
}

func (s *EscrowService) scheduleInvoice(ctx context.Context, tx store.Tx, st settlement, p *Payout) {
	if s.Invoicer == nil {
		return
	}
	inv := invoicing.Invoice{
		ID:       uuid.New(),
		UserID:   st.workerID,
		Amount:   st.toWorker,
		Currency: st.currency,
		Items: []invoicing.Item{
			{Description: "Escrow release " + st.reference, Amount: st.toWorker},
		},
		Status:        invoicing.StatusPaid,
		TransactionID: p.LockEntryID.String(),
		CreatedAt:     s.now(),
	}
	invoicer, logger := s.Invoicer, s.Logger
	tx.OnCommit(func() {
		if err := invoicer.CreateInvoice(context.WithoutCancel(ctx), inv); err != nil {
			logger.Error("create invoice failed", "reference_id", st.reference, "worker_id", st.workerID, "error", err)
		}
	})
}
