package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/escrow/internal/ledger"
	"github.com/inaiurai/escrow/internal/models"
	"github.com/inaiurai/escrow/internal/store"
)

// RequestWithdrawal reserves amount with a locked withdrawal entry and opens
// a pending request against one of the wallet's own payment methods.
func (s *EscrowService) RequestWithdrawal(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, currency string, methodID uuid.UUID) (req *models.WithdrawalRequest, err error) {
	defer func() { s.Metrics.EscrowOp("withdraw", err) }()

	if s.systemLocked.Load() {
		return nil, models.ErrSystemLocked
	}
	if !amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		method, err := tx.GetMethod(ctx, methodID)
		if err != nil {
			return err
		}
		if method.WalletID != walletID {
			return fmt.Errorf("%w: payment method %s belongs to another wallet", models.ErrNotAuthorized, methodID)
		}
		balance, err := s.Ledger.Balance(ctx, tx, walletID, currency)
		if err != nil {
			return err
		}
		if balance.LessThan(amount) {
			return fmt.Errorf("%w: wallet %s has %s %s, withdrawal needs %s", models.ErrInsufficientFunds, walletID, balance, currency, amount)
		}
		now := s.now()
		req = &models.WithdrawalRequest{
			ID:        uuid.New(),
			WalletID:  walletID,
			Amount:    amount,
			Currency:  currency,
			MethodID:  methodID,
			Status:    models.WithdrawalPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		entry, err := s.Ledger.Append(ctx, tx, ledger.Draft{
			WalletID:    walletID,
			Kind:        models.KindWithdrawal,
			Amount:      amount,
			Currency:    currency,
			Flow:        models.FlowOut,
			Status:      models.EntryLocked,
			ReferenceID: req.ID.String(),
		})
		if err != nil {
			return err
		}
		req.EntryID = entry.ID
		return tx.InsertWithdrawal(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ResolveWithdrawal completes (approve) or fails (reject) the reservation of
// a pending request. Approvals are refused while the system lock is engaged;
// rejections are not, since they only return funds.
func (s *EscrowService) ResolveWithdrawal(ctx context.Context, actor models.Actor, requestID uuid.UUID, approve bool, note string) (req *models.WithdrawalRequest, err error) {
	defer func() { s.Metrics.EscrowOp("resolve_withdrawal", err) }()

	if !actor.IsAdmin() {
		return nil, models.ErrNotAuthorized
	}
	if approve && s.systemLocked.Load() {
		return nil, models.ErrSystemLocked
	}
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		req, err = tx.GetWithdrawal(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != models.WithdrawalPending {
			return fmt.Errorf("%w: withdrawal %s is %s", models.ErrInvalidStateTransition, requestID, req.Status)
		}
		entryStatus, reqStatus := models.EntryFailed, models.WithdrawalRejected
		if approve {
			entryStatus, reqStatus = models.EntryCompleted, models.WithdrawalCompleted
		}
		if _, err := s.Ledger.SetStatus(ctx, tx, req.EntryID, entryStatus); err != nil {
			return err
		}
		req.Status = reqStatus
		req.Note = note
		req.UpdatedAt = s.now()
		return tx.UpdateWithdrawal(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	s.Logger.InfoContext(ctx, "withdrawal resolved",
		"withdrawal_id", req.ID,
		"wallet_id", req.WalletID,
		"status", req.Status,
		"actor", actor.String(),
	)
	return req, nil
}

// ListWithdrawals returns a wallet's requests, or every request for uuid.Nil.
func (s *EscrowService) ListWithdrawals(ctx context.Context, walletID uuid.UUID) ([]*models.WithdrawalRequest, error) {
	var out []*models.WithdrawalRequest
	err := s.Store.Read(ctx, func(r store.Reader) error {
		var err error
		out, err = r.ListWithdrawals(ctx, walletID)
		return err
	})
	return out, err
}
