// Package permits runs the work-permit state machine: it locks the buyer's
// funds at creation, gates progress through automatic verification, buyer
// review and admin approval, and settles the escrow on completion, refusal or
// dispute. Every transition appends exactly one audit entry in the same
// transaction that changes the permit.
package permits

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/escrow/internal/metrics"
	"github.com/inaiurai/escrow/internal/models"
	"github.com/inaiurai/escrow/internal/services"
	"github.com/inaiurai/escrow/internal/store"
)

// Escrow is the slice of the wallet service the state machine drives. Every
// method joins the caller's transaction.
type Escrow interface {
	Lock(ctx context.Context, tx store.Tx, walletID uuid.UUID, amount decimal.Decimal, currency, referenceID string) (*models.LedgerEntry, error)
	RefundLock(ctx context.Context, tx store.Tx, referenceID string, buyerID uuid.UUID) (*models.LedgerEntry, error)
	Distribute(ctx context.Context, tx store.Tx, referenceID string, split services.Split, currency string, workerID uuid.UUID) (*services.Payout, error)
	RefundSettlement(ctx context.Context, tx store.Tx, referenceID string, split services.Split, currency string, buyerID uuid.UUID) (*services.Payout, error)
	SplitSettlement(ctx context.Context, tx store.Tx, referenceID string, split services.Split, currency string, workerID, buyerID uuid.UUID, workerShare, buyerShare decimal.Decimal) (*services.Payout, error)
}

var _ Escrow = (*services.EscrowService)(nil)

type CreateInput struct {
	JobReference string          `json:"job_reference"`
	JobType      string          `json:"job_type"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	WorkerID     uuid.UUID       `json:"worker_id"`
	Currency     string          `json:"currency"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
}

// DetailsPatch edits the descriptive fields of a permit. Nil fields are kept.
type DetailsPatch struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

type Service interface {
	Create(ctx context.Context, actor models.Actor, in CreateInput) (*models.WorkPermit, error)
	Get(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.WorkPermit, error)
	List(ctx context.Context, actor models.Actor, status models.PermitStatus) ([]*models.WorkPermit, error)
	UpdateDetails(ctx context.Context, actor models.Actor, id uuid.UUID, patch DetailsPatch) (*models.WorkPermit, error)
	BuyerReview(ctx context.Context, actor models.Actor, id uuid.UUID, approve bool, note string) (*models.WorkPermit, error)
	AdminDecide(ctx context.Context, actor models.Actor, id uuid.UUID, approve bool, note string) (*models.WorkPermit, error)
	ReleasePayment(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.WorkPermit, error)
	SubmitWork(ctx context.Context, actor models.Actor, id uuid.UUID, note string) (*models.WorkPermit, error)
	RaiseDispute(ctx context.Context, actor models.Actor, id uuid.UUID, reason string) (*models.WorkPermit, error)
	ResolveDispute(ctx context.Context, actor models.Actor, id uuid.UUID, res Resolution) (*models.WorkPermit, error)
	RunStage(ctx context.Context, id uuid.UUID, stage models.Stage) error
	ResumePending(ctx context.Context) (int, error)
}

type Options struct {
	Rates        services.Rates
	StageTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

type service struct {
	store     store.Store
	escrow    Escrow
	analyzer  Analyzer
	scheduler StageScheduler

	rates        services.Rates
	stageTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
	clock        func() time.Time
}

// NewService returns *service so the execution workers can use it as their
// stage runner.
func NewService(st store.Store, escrow Escrow, analyzer Analyzer, scheduler StageScheduler, opts Options) *service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 30 * time.Second
	}
	if opts.Rates == (services.Rates{}) {
		opts.Rates = services.DefaultRates
	}
	return &service{
		store:        st,
		escrow:       escrow,
		analyzer:     analyzer,
		scheduler:    scheduler,
		rates:        opts.Rates,
		stageTimeout: opts.StageTimeout,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		clock:        time.Now,
	}
}

var _ Service = (*service)(nil)

func (s *service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

func (s *service) Create(ctx context.Context, actor models.Actor, in CreateInput) (*models.WorkPermit, error) {
	if actor.Kind != models.ActorUser {
		return nil, fmt.Errorf("%w: only a buyer can fund a permit", models.ErrNotAuthorized)
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.JobType == "" {
		in.JobType = models.JobTypeGig
	}
	switch {
	case in.Title == "":
		return nil, fmt.Errorf("%w: title required", models.ErrInvalidInput)
	case in.Currency == "":
		return nil, fmt.Errorf("%w: currency required", models.ErrInvalidInput)
	case in.WorkerID == uuid.Nil || in.WorkerID == actor.ID:
		return nil, fmt.Errorf("%w: worker must be another user", models.ErrInvalidInput)
	case in.JobType != models.JobTypeGig && in.JobType != models.JobTypeInvestment:
		return nil, fmt.Errorf("%w: unknown job type %q", models.ErrInvalidInput, in.JobType)
	}
	split, err := s.rates.SplitFor(in.TotalAmount)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p := &models.WorkPermit{
		ID:              uuid.New(),
		JobReference:    in.JobReference,
		JobType:         in.JobType,
		Title:           in.Title,
		Description:     in.Description,
		BuyerID:         actor.ID,
		WorkerID:        in.WorkerID,
		Currency:        in.Currency,
		TotalAmount:     in.TotalAmount,
		WorkerAmount:    split.WorkerAmount,
		AdminCommission: split.AdminCommission,
		PlatformFee:     split.PlatformFee,
		Status:          models.PermitPendingAICheck,
		Verification: models.Verification{
			PreCheck:         models.StagePending,
			BehaviorAnalysis: models.StagePending,
			PostWorkCheck:    models.StagePending,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		lock, err := s.escrow.Lock(ctx, tx, p.BuyerID, p.TotalAmount, p.Currency, p.EscrowReference())
		if err != nil {
			return err
		}
		p.EscrowLockID = lock.ID
		s.audit(p, models.AuditPermitCreated, actor,
			fmt.Sprintf("Permit funded with %s %s (worker %s, commission %s, fee %s)",
				p.TotalAmount, p.Currency, p.WorkerAmount, p.AdminCommission, p.PlatformFee))
		if err := tx.InsertPermit(ctx, p); err != nil {
			return err
		}
		s.afterCommit(tx, p.ID, "", p.Status)
		return s.schedule(ctx, tx, p.ID, models.StageAIPreCheck)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func canView(actor models.Actor, p *models.WorkPermit) bool {
	switch actor.Kind {
	case models.ActorAdmin, models.ActorSystem, models.ActorAIAgent:
		return true
	case models.ActorUser:
		return actor.ID == p.BuyerID || actor.ID == p.WorkerID
	}
	return false
}

func (s *service) Get(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.WorkPermit, error) {
	var p *models.WorkPermit
	err := s.store.Read(ctx, func(r store.Reader) error {
		var err error
		p, err = r.GetPermit(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !canView(actor, p) {
		return nil, models.ErrNotAuthorized
	}
	return p, nil
}

// List returns the caller's permits as buyer or worker. Admins see all.
func (s *service) List(ctx context.Context, actor models.Actor, status models.PermitStatus) ([]*models.WorkPermit, error) {
	f := store.PermitFilter{Status: status}
	switch actor.Kind {
	case models.ActorAdmin, models.ActorSystem:
	case models.ActorUser:
		f.UserID = actor.ID
	default:
		return nil, models.ErrNotAuthorized
	}
	var out []*models.WorkPermit
	err := s.store.Read(ctx, func(r store.Reader) error {
		var err error
		out, err = r.ListPermits(ctx, f)
		return err
	})
	return out, err
}

func (s *service) UpdateDetails(ctx context.Context, actor models.Actor, id uuid.UUID, patch DetailsPatch) (*models.WorkPermit, error) {
	if patch.Title == nil && patch.Description == nil {
		return nil, fmt.Errorf("%w: nothing to update", models.ErrInvalidInput)
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, fmt.Errorf("%w: title cannot be empty", models.ErrInvalidInput)
	}
	return s.mutate(ctx, id, func(tx store.Tx, p *models.WorkPermit) error {
		if !actor.IsAdmin() && !actor.IsUser(p.BuyerID) {
			return models.ErrNotAuthorized
		}
		switch p.Status {
		case models.PermitPendingAICheck, models.PermitPendingBuyerReview, models.PermitPendingAdminApproval:
		default:
			return invalid(p, "update details")
		}
		var changed []string
		if patch.Title != nil {
			p.Title = strings.TrimSpace(*patch.Title)
			changed = append(changed, "title")
		}
		if patch.Description != nil {
			p.Description = *patch.Description
			changed = append(changed, "description")
		}
		s.audit(p, models.AuditDetailsUpdated, actor, "Updated "+strings.Join(changed, " and "))
		return nil
	})
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// mutate loads the permit inside a write transaction, applies fn and stores
// the result. fn's error aborts everything fn wrote, ledger entries included.
func (s *service) mutate(ctx context.Context, id uuid.UUID, fn func(tx store.Tx, p *models.WorkPermit) error) (*models.WorkPermit, error) {
	var out *models.WorkPermit
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetPermit(ctx, id)
		if err != nil {
			return err
		}
		from := p.Status
		if err := fn(tx, p); err != nil {
			return err
		}
		p.UpdatedAt = s.now()
		if err := tx.UpdatePermit(ctx, p); err != nil {
			return err
		}
		s.afterCommit(tx, p.ID, from, p.Status)
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) audit(p *models.WorkPermit, action string, actor models.Actor, details string) {
	p.AuditLog = append(p.AuditLog, models.AuditLogEntry{
		ID:        uuid.New(),
		Timestamp: s.now(),
		Action:    action,
		Details:   details,
		Actor:     actor,
	})
}

func (s *service) afterCommit(tx store.Tx, id uuid.UUID, from, to models.PermitStatus) {
	if from == to {
		return
	}
	tx.OnCommit(func() {
		s.metrics.PermitTransition(string(from), string(to))
		s.logger.Info("permit transition", "permit_id", id, "from", from, "to", to)
		if to.Terminal() || to == models.PermitDisputed {
			s.scheduler.Cancel(id)
		}
	})
}

func invalid(p *models.WorkPermit, action string) error {
	return fmt.Errorf("%w: cannot %s while permit %s is %s", models.ErrInvalidStateTransition, action, p.ID, p.Status)
}

func permitSplit(p *models.WorkPermit) services.Split {
	return services.Split{
		WorkerAmount:    p.WorkerAmount,
		PlatformFee:     p.PlatformFee,
		AdminCommission: p.AdminCommission,
	}
}
