package permits

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/escrow/internal/models"
	"github.com/inaiurai/escrow/internal/services"
	"github.com/inaiurai/escrow/internal/store"
)

type Outcome string

const (
	OutcomeReleaseToWorker Outcome = "RELEASE_TO_WORKER"
	OutcomeRefundBuyer     Outcome = "REFUND_BUYER"
	OutcomeSplit           Outcome = "SPLIT"
)

// Resolution is an admin's binding decision on a disputed permit. Shares are
// only read for OutcomeSplit and must add up to the permit's worker amount.
type Resolution struct {
	Outcome     Outcome         `json:"outcome"`
	Summary     string          `json:"summary"`
	WorkerShare decimal.Decimal `json:"worker_share"`
	BuyerShare  decimal.Decimal `json:"buyer_share"`
}

// RaiseDispute freezes a permit. Buyer, worker or an admin may raise one from
// any non-terminal state; pending automatic stages are cancelled and their
// late completions become no-ops.
func (s *service) RaiseDispute(ctx context.Context, actor models.Actor, id uuid.UUID, reason string) (*models.WorkPermit, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: dispute reason required", models.ErrInvalidInput)
	}
	return s.mutate(ctx, id, func(tx store.Tx, p *models.WorkPermit) error {
		if !actor.IsAdmin() && !actor.IsUser(p.BuyerID) && !actor.IsUser(p.WorkerID) {
			return models.ErrNotAuthorized
		}
		if p.Status.Terminal() || p.Status == models.PermitDisputed {
			return invalid(p, "dispute")
		}
		p.PreviousStatus = p.Status
		p.Status = models.PermitDisputed
		p.DisputeReason = reason
		s.audit(p, models.AuditDisputeRaised, actor, fmt.Sprintf("Dispute raised from %s: %s", p.PreviousStatus, reason))
		return nil
	})
}

// ResolveDispute settles a disputed permit. Fee and commission stay with the
// pools under every outcome.
func (s *service) ResolveDispute(ctx context.Context, actor models.Actor, id uuid.UUID, res Resolution) (*models.WorkPermit, error) {
	switch res.Outcome {
	case OutcomeReleaseToWorker, OutcomeRefundBuyer, OutcomeSplit:
	default:
		return nil, fmt.Errorf("%w: unknown outcome %q", models.ErrInvalidInput, res.Outcome)
	}
	return s.mutate(ctx, id, func(tx store.Tx, p *models.WorkPermit) error {
		if !actor.IsAdmin() {
			return models.ErrNotAuthorized
		}
		if p.Status != models.PermitDisputed {
			return invalid(p, "resolve dispute")
		}
		var (
			payout *services.Payout
			err    error
			action string
		)
		ref, split := p.EscrowReference(), permitSplit(p)
		switch res.Outcome {
		case OutcomeReleaseToWorker:
			payout, err = s.escrow.Distribute(ctx, tx, ref, split, p.Currency, p.WorkerID)
			p.Status, action = models.PermitCompleted, models.AuditDisputeReleased
		case OutcomeRefundBuyer:
			payout, err = s.escrow.RefundSettlement(ctx, tx, ref, split, p.Currency, p.BuyerID)
			p.Status, action = models.PermitCancelled, models.AuditDisputeRefunded
		case OutcomeSplit:
			payout, err = s.escrow.SplitSettlement(ctx, tx, ref, split, p.Currency, p.WorkerID, p.BuyerID, res.WorkerShare, res.BuyerShare)
			p.Status, action = models.PermitCompleted, models.AuditDisputeSplit
		}
		if err != nil {
			return err
		}
		p.DisputeSummary = res.Summary
		s.audit(p, action, actor, withNote(
			fmt.Sprintf("Worker %s, buyer %s, fee %s, commission %s retained",
				payout.WorkerNet, payout.BuyerRefund, payout.PlatformFee, payout.AdminCommission), res.Summary))
		return nil
	})
}
