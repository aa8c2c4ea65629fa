package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/escrow/internal/ledger"
	"github.com/inaiurai/escrow/internal/models"
	"github.com/inaiurai/escrow/internal/store"
)

// ReferralPolicy sets the one-time bonus paid to a referrer. A positive
// Percent (in percentage points of the first lock) takes precedence over
// Fixed.
type ReferralPolicy struct {
	Fixed   decimal.Decimal
	Percent decimal.Decimal
}

func (p ReferralPolicy) bonus(basis decimal.Decimal) decimal.Decimal {
	if p.Percent.IsPositive() {
		return basis.Mul(p.Percent).Div(decimal.NewFromInt(100)).Round(2)
	}
	return p.Fixed
}

func referralReference(walletID uuid.UUID) string {
	return "referral:" + walletID.String()
}

// CheckReferralBonus credits the referrer of walletID's owner, at most once
// per wallet for the lifetime of the ledger. It returns the bonus entry, or
// nil when nothing was paid.
func (s *EscrowService) CheckReferralBonus(ctx context.Context, tx store.Tx, walletID uuid.UUID, basis decimal.Decimal, currency string) (*models.LedgerEntry, error) {
	owner, err := s.Identity.GetUserByID(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("lookup wallet owner: %w", err)
	}
	return s.creditReferral(ctx, tx, owner, basis, currency)
}

func (s *EscrowService) creditReferral(ctx context.Context, tx store.Tx, owner *models.User, basis decimal.Decimal, currency string) (*models.LedgerEntry, error) {
	if owner.ReferredBy == nil || *owner.ReferredBy == owner.ID || models.IsPoolWallet(*owner.ReferredBy) {
		return nil, nil
	}
	if _, err := s.Identity.GetUserByID(ctx, *owner.ReferredBy); errors.Is(err, models.ErrNotFound) {
		s.Logger.Warn("referral skipped, referrer does not exist", "wallet_id", owner.ID, "referrer_id", *owner.ReferredBy)
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("lookup referrer: %w", err)
	}
	ref := referralReference(owner.ID)
	// Writers are serialized, so this check cannot race with another credit.
	paid, err := tx.ListEntries(ctx, store.EntryFilter{ReferenceID: ref, Kind: models.KindCommission})
	if err != nil {
		return nil, err
	}
	if len(paid) > 0 {
		return nil, nil
	}
	amount := s.Referral.bonus(basis)
	if !amount.IsPositive() {
		return nil, nil
	}
	entry, err := s.Ledger.Append(ctx, tx, ledger.Draft{
		WalletID:    *owner.ReferredBy,
		Kind:        models.KindCommission,
		Amount:      amount,
		Currency:    currency,
		Flow:        models.FlowIn,
		Status:      models.EntryCompleted,
		ReferenceID: ref,
	})
	if err != nil {
		return nil, err
	}
	logger, walletID, referrer := s.Logger, owner.ID, *owner.ReferredBy
	tx.OnCommit(func() {
		logger.Info("referral bonus credited",
			"wallet_id", walletID,
			"referrer_id", referrer,
			"amount", amount.String(),
		)
	})
	return entry, nil
}
