package permits

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/inaiurai/escrow/internal/models"
	"github.com/inaiurai/escrow/internal/store"
)

// StageResult is what an analyzer reports for one automatic stage.
type StageResult struct {
	Pass      bool
	RiskScore int
	Detail    string
}

// Analyzer performs the automatic checks. It must honor ctx cancellation.
type Analyzer interface {
	Analyze(ctx context.Context, p *models.WorkPermit, stage models.Stage) (StageResult, error)
}

// StageScheduler queues automatic stages for later execution. Cancel drops
// anything still queued for a permit; already-running stages finish and are
// then discarded by the state guard.
type StageScheduler interface {
	Schedule(ctx context.Context, permitID uuid.UUID, stage models.Stage) error
	Cancel(permitID uuid.UUID)
}

// TxScheduler is a StageScheduler that can enqueue inside the caller's
// transaction, so the job commits or rolls back with the transition.
type TxScheduler interface {
	ScheduleTx(ctx context.Context, tx store.Tx, permitID uuid.UUID, stage models.Stage) error
}

// schedule queues stage as part of tx. A TxScheduler enqueues inside tx and a
// failed insert rolls the transition back. Any other scheduler is called once
// tx commits; a failed enqueue there is logged and ResumePending picks the
// permit up again.
func (s *service) schedule(ctx context.Context, tx store.Tx, id uuid.UUID, stage models.Stage) error {
	if ts, ok := s.scheduler.(TxScheduler); ok {
		if err := ts.ScheduleTx(ctx, tx, id, stage); err != nil {
			return fmt.Errorf("enqueue %s: %w", stage, err)
		}
		return nil
	}
	tx.OnCommit(func() {
		if err := s.scheduler.Schedule(context.WithoutCancel(ctx), id, stage); err != nil {
			s.logger.Error("schedule stage failed", "permit_id", id, "stage", stage, "error", err)
		}
	})
	return nil
}

// awaiting reports whether p is currently waiting on stage.
func awaiting(p *models.WorkPermit, stage models.Stage) bool {
	switch stage {
	case models.StageAIPreCheck:
		return p.Status == models.PermitPendingAICheck
	case models.StageBehaviorAnalysis:
		return p.Status == models.PermitPendingBuyerReview &&
			p.BuyerDecision == models.DecisionApproved &&
			p.Verification.BehaviorAnalysis != models.StagePass
	}
	return false
}

// RunStage executes one automatic stage for a permit. Running it for a permit
// that is no longer waiting on the stage, because it was disputed, cancelled
// or already advanced, is a no-op, which makes retries safe. The analyzer is
// bounded by the stage timeout; running out of time is a terminal failure.
func (s *service) RunStage(ctx context.Context, id uuid.UUID, stage models.Stage) error {
	var p *models.WorkPermit
	err := s.store.Read(ctx, func(r store.Reader) error {
		var err error
		p, err = r.GetPermit(ctx, id)
		return err
	})
	if err != nil {
		return err
	}
	if !awaiting(p, stage) {
		s.logger.Debug("stage skipped", "permit_id", id, "stage", stage, "status", p.Status)
		s.metrics.StageRun(string(stage), "skipped")
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, s.stageTimeout)
	res, err := s.analyzer.Analyze(sctx, p, stage)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a verdict: leave the permit waiting.
			return ctx.Err()
		}
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = fmt.Sprintf("stage timed out after %s", s.stageTimeout)
		}
		return s.failStage(ctx, id, stage, reason)
	}
	if !res.Pass {
		return s.failStage(ctx, id, stage, res.Detail)
	}
	return s.passStage(ctx, id, stage, res)
}

func (s *service) passStage(ctx context.Context, id uuid.UUID, stage models.Stage, res StageResult) error {
	_, err := s.mutate(ctx, id, func(tx store.Tx, p *models.WorkPermit) error {
		if !awaiting(p, stage) {
			return errStale
		}
		agent := models.AIAgentActor()
		switch stage {
		case models.StageAIPreCheck:
			score := res.RiskScore
			p.Verification.RiskScore = &score
			if p.HasAudit(models.AuditWorkSubmitted) {
				p.Verification.PostWorkCheck = models.StagePass
				p.Status = models.PermitPendingAdminApproval
				s.audit(p, models.AuditPostWorkCheckPassed, agent,
					fmt.Sprintf("Submitted work verified (risk score %d)", score))
			} else {
				p.Verification.PreCheck = models.StagePass
				p.Status = models.PermitPendingBuyerReview
				s.audit(p, models.AuditAIPreCheckPassed, agent,
					fmt.Sprintf("AI pre-check passed (risk score %d)", score))
			}
		case models.StageBehaviorAnalysis:
			p.Verification.BehaviorAnalysis = models.StagePass
			p.Status = models.PermitPendingAdminApproval
			s.audit(p, models.AuditBehaviorPassed, agent, withNote("Behavior analysis passed", res.Detail))
		}
		return nil
	})
	return s.stageOutcome(id, stage, "pass", err)
}

// failStage rejects the permit and returns the full total to the buyer.
func (s *service) failStage(ctx context.Context, id uuid.UUID, stage models.Stage, reason string) error {
	_, err := s.mutate(ctx, id, func(tx store.Tx, p *models.WorkPermit) error {
		if !awaiting(p, stage) {
			return errStale
		}
		if _, err := s.escrow.RefundLock(ctx, tx, p.EscrowReference(), p.BuyerID); err != nil {
			return err
		}
		switch {
		case stage == models.StageBehaviorAnalysis:
			p.Verification.BehaviorAnalysis = models.StageFail
		case p.HasAudit(models.AuditWorkSubmitted):
			p.Verification.PostWorkCheck = models.StageFail
		default:
			p.Verification.PreCheck = models.StageFail
		}
		p.Status = models.PermitRejected
		s.audit(p, models.AuditStageFailed, models.SystemActor(),
			fmt.Sprintf("%s failed: %s; %s %s returned to buyer", stage, reason, p.TotalAmount, p.Currency))
		return nil
	})
	return s.stageOutcome(id, stage, "fail", err)
}

var errStale = errors.New("permit moved on before stage completed")

func (s *service) stageOutcome(id uuid.UUID, stage models.Stage, outcome string, err error) error {
	if errors.Is(err, errStale) {
		s.logger.Info("stage result discarded", "permit_id", id, "stage", stage)
		s.metrics.StageRun(string(stage), "discarded")
		return nil
	}
	if err != nil {
		s.metrics.StageRun(string(stage), "error")
		return err
	}
	s.metrics.StageRun(string(stage), outcome)
	return nil
}

// ResumePending re-queues every permit left waiting on an automatic stage,
// e.g. after a restart of the in-process scheduler.
func (s *service) ResumePending(ctx context.Context) (int, error) {
	var waiting []*models.WorkPermit
	err := s.store.Read(ctx, func(r store.Reader) error {
		for _, status := range []models.PermitStatus{models.PermitPendingAICheck, models.PermitPendingBuyerReview} {
			list, err := r.ListPermits(ctx, store.PermitFilter{Status: status})
			if err != nil {
				return err
			}
			waiting = append(waiting, list...)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range waiting {
		for _, stage := range []models.Stage{models.StageAIPreCheck, models.StageBehaviorAnalysis} {
			if !awaiting(p, stage) {
				continue
			}
			if err := s.scheduler.Schedule(ctx, p.ID, stage); err != nil {
				return n, fmt.Errorf("resume permit %s: %w", p.ID, err)
			}
			n++
		}
	}
	return n, nil
}
