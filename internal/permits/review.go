package permits

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/inaiurai/escrow/internal/models"
	"github.com/inaiurai/escrow/internal/store"
)

// BuyerReview records the buyer's decision after the AI pre-check. Approval
// queues behavior analysis and leaves the permit in review until it passes;
// rejection refunds the full total and cancels.
func (s *service) BuyerReview(ctx context.Context, actor models.Actor, id uuid.UUID, approve bool, note string) (*models.WorkPermit, error) {
	return s.mutate(ctx, id, func(tx store.Tx, p *models.WorkPermit) error {
		if !actor.IsUser(p.BuyerID) {
			return models.ErrNotAuthorized
		}
		if p.Status != models.PermitPendingBuyerReview || p.BuyerDecision != models.DecisionNone {
			return invalid(p, "review")
		}
		if approve {
			p.BuyerDecision = models.DecisionApproved
			s.audit(p, models.AuditBuyerApproved, actor, withNote("Buyer approved, behavior analysis queued", note))
			return s.schedule(ctx, tx, p.ID, models.StageBehaviorAnalysis)
		}
		if _, err := s.escrow.RefundLock(ctx, tx, p.EscrowReference(), p.BuyerID); err != nil {
			return err
		}
		p.BuyerDecision = models.DecisionRejected
		p.Status = models.PermitCancelled
		s.audit(p, models.AuditBuyerRejected, actor,
			withNote(fmt.Sprintf("Buyer rejected, %s %s returned", p.TotalAmount, p.Currency), note))
		return nil
	})
}

// AdminDecide is the admin gate. Before work is submitted, approval starts
// the work; after WORK_SUBMITTED appears in the audit trail, approval
// releases payment. Rejection refunds the full total.
func (s *service) AdminDecide(ctx context.Context, actor models.Actor, id uuid.UUID, approve bool, note string) (*models.WorkPermit, error) {
	return s.mutate(ctx, id, func(tx store.Tx, p *models.WorkPermit) error {
		if !actor.IsAdmin() {
			return models.ErrNotAuthorized
		}
		if p.Status != models.PermitPendingAdminApproval {
			return invalid(p, "admin-approve")
		}
		if !approve {
			if _, err := s.escrow.RefundLock(ctx, tx, p.EscrowReference(), p.BuyerID); err != nil {
				return err
			}
			p.AdminDecision = models.DecisionRejected
			p.Status = models.PermitRejected
			s.audit(p, models.AuditAdminRejected, actor,
				withNote(fmt.Sprintf("Admin rejected, %s %s returned to buyer", p.TotalAmount, p.Currency), note))
			return nil
		}
		p.AdminDecision = models.DecisionApproved
		if p.HasAudit(models.AuditWorkSubmitted) {
			return s.release(ctx, tx, p, actor, note)
		}
		p.Status = models.PermitActive
		s.audit(p, models.AuditAdminAuthorized, actor, withNote("Admin authorized work to start", note))
		return nil
	})
}

// ReleasePayment is admin approval restricted to the post-submission branch.
func (s *service) ReleasePayment(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.WorkPermit, error) {
	return s.mutate(ctx, id, func(tx store.Tx, p *models.WorkPermit) error {
		if !actor.IsAdmin() {
			return models.ErrNotAuthorized
		}
		if p.Status != models.PermitPendingAdminApproval || !p.HasAudit(models.AuditWorkSubmitted) {
			return invalid(p, "release payment")
		}
		p.AdminDecision = models.DecisionApproved
		return s.release(ctx, tx, p, actor, "")
	})
}

func (s *service) release(ctx context.Context, tx store.Tx, p *models.WorkPermit, actor models.Actor, note string) error {
	payout, err := s.escrow.Distribute(ctx, tx, p.EscrowReference(), permitSplit(p), p.Currency, p.WorkerID)
	if err != nil {
		return err
	}
	p.Status = models.PermitCompleted
	s.audit(p, models.AuditAdminReleased, actor, withNote(
		fmt.Sprintf("Released %s to worker, %s fee, %s commission", payout.WorkerNet, payout.PlatformFee, payout.AdminCommission), note))
	return nil
}

// SubmitWork sends an active permit back through verification before the
// admin can release payment.
func (s *service) SubmitWork(ctx context.Context, actor models.Actor, id uuid.UUID, note string) (*models.WorkPermit, error) {
	return s.mutate(ctx, id, func(tx store.Tx, p *models.WorkPermit) error {
		if !actor.IsUser(p.WorkerID) {
			return models.ErrNotAuthorized
		}
		if p.Status != models.PermitActive {
			return invalid(p, "submit work")
		}
		p.Status = models.PermitPendingAICheck
		p.Verification.PostWorkCheck = models.StagePending
		s.audit(p, models.AuditWorkSubmitted, actor, withNote("Worker submitted work", note))
		return s.schedule(ctx, tx, p.ID, models.StageAIPreCheck)
	})
}

func withNote(details, note string) string {
	if note == "" {
		return details
	}
	return details + ": " + note
}
