package permits

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/inaiurai/escrow/internal/identity"
	"github.com/inaiurai/escrow/internal/ledger"
	"github.com/inaiurai/escrow/internal/models"
	"github.com/inaiurai/escrow/internal/security"
	"github.com/inaiurai/escrow/internal/services"
	"github.com/inaiurai/escrow/internal/store"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type scheduled struct {
	id    uuid.UUID
	stage models.Stage
}

// fakeScheduler records what the service queued; tests drive RunStage by
// hand.
type fakeScheduler struct {
	mu        sync.Mutex
	queued    []scheduled
	cancelled []uuid.UUID
	err       error
}

func (f *fakeScheduler) Schedule(_ context.Context, id uuid.UUID, stage models.Stage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.queued = append(f.queued, scheduled{id, stage})
	return nil
}

func (f *fakeScheduler) Cancel(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
}

func (f *fakeScheduler) last() scheduled {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queued[len(f.queued)-1]
}

func (f *fakeScheduler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queued)
}

// txScheduler enqueues inside the caller's transaction, the way the river
// scheduler does on postgres.
type txScheduler struct {
	fakeScheduler
	inTx int
}

func (f *txScheduler) ScheduleTx(_ context.Context, _ store.Tx, id uuid.UUID, stage models.Stage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.inTx++
	f.queued = append(f.queued, scheduled{id, stage})
	return nil
}

// fakeAnalyzer passes unless told otherwise. block makes it wait for ctx.
type fakeAnalyzer struct {
	fail  map[models.Stage]bool
	block bool
	err   error
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, p *models.WorkPermit, stage models.Stage) (StageResult, error) {
	if a.block {
		<-ctx.Done()
		return StageResult{}, ctx.Err()
	}
	if a.err != nil {
		return StageResult{}, a.err
	}
	if a.fail[stage] {
		return StageResult{Pass: false, RiskScore: 90, Detail: "flagged"}, nil
	}
	return StageResult{Pass: true, RiskScore: 12}, nil
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	st       *store.Memory
	escrow   *services.EscrowService
	sched    *fakeScheduler
	analyzer *fakeAnalyzer
	svc      *service

	buyer, worker uuid.UUID
	admin         models.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h, err := security.NewHasher(security.AlgSHA256)
	require.NoError(t, err)

	f := &fixture{
		st:       store.NewMemory(),
		sched:    &fakeScheduler{},
		analyzer: &fakeAnalyzer{fail: map[models.Stage]bool{}},
		buyer:    uuid.New(),
		worker:   uuid.New(),
		admin:    models.AdminActor(uuid.New()),
	}
	ids := identity.NewDirectory(
		models.User{ID: f.buyer, TermsAccepted: true},
		models.User{ID: f.worker, TermsAccepted: true},
	)
	f.escrow = services.NewEscrowService(f.st, ledger.New(h, nil, nil), ids)
	f.svc = NewService(f.st, f.escrow, f.analyzer, f.sched, Options{StageTimeout: 50 * time.Millisecond})

	f.deposit(t, f.buyer, "2000")
	return f
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (f *fixture) deposit(t *testing.T, wallet uuid.UUID, amount string) {
	t.Helper()
	err := f.st.WithTx(context.Background(), func(tx store.Tx) error {
		_, err := f.escrow.Ledger.Append(context.Background(), tx, ledger.Draft{
			WalletID: wallet, Kind: models.KindDeposit, Amount: dec(amount),
			Currency: "USD", Flow: models.FlowIn, Status: models.EntryCompleted,
		})
		return err
	})
	require.NoError(t, err)
}

func (f *fixture) wantBalance(t *testing.T, wallet uuid.UUID, balance, locked string) {
	t.Helper()
	b, err := f.escrow.Balance(context.Background(), wallet, "USD")
	require.NoError(t, err)
	require.True(t, b.Balance.Equal(dec(balance)), "balance: got %s, want %s", b.Balance, balance)
	require.True(t, b.Locked.Equal(dec(locked)), "locked: got %s, want %s", b.Locked, locked)
}

func (f *fixture) create(t *testing.T) *models.WorkPermit {
	t.Helper()
	p, err := f.svc.Create(context.Background(), models.UserActor(f.buyer), CreateInput{
		Title:       "Landing page",
		WorkerID:    f.worker,
		Currency:    "usd",
		TotalAmount: dec("1000"),
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) run(t *testing.T, id uuid.UUID, stage models.Stage) *models.WorkPermit {
	t.Helper()
	require.NoError(t, f.svc.RunStage(context.Background(), id, stage))
	return f.get(t, id)
}

func (f *fixture) get(t *testing.T, id uuid.UUID) *models.WorkPermit {
	t.Helper()
	p, err := f.svc.Get(context.Background(), f.admin, id)
	require.NoError(t, err)
	return p
}

// toAdminApproval drives a fresh permit through pre-check, buyer approval
// and behavior analysis.
func (f *fixture) toAdminApproval(t *testing.T) *models.WorkPermit {
	t.Helper()
	ctx := context.Background()
	p := f.create(t)
	f.run(t, p.ID, models.StageAIPreCheck)
	_, err := f.svc.BuyerReview(ctx, models.UserActor(f.buyer), p.ID, true, "")
	require.NoError(t, err)
	p = f.run(t, p.ID, models.StageBehaviorAnalysis)
	require.Equal(t, models.PermitPendingAdminApproval, p.Status)
	return p
}

// ---------------------------------------------------------------------------
// Happy path
// ---------------------------------------------------------------------------

func TestPermit_FullLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer, worker := models.UserActor(f.buyer), models.UserActor(f.worker)

	p := f.create(t)
	require.Equal(t, models.PermitPendingAICheck, p.Status)
	require.Equal(t, "USD", p.Currency)
	require.True(t, p.WorkerAmount.Equal(dec("880")))
	require.True(t, p.PlatformFee.Equal(dec("20")))
	require.True(t, p.AdminCommission.Equal(dec("100")))
	require.Equal(t, scheduled{p.ID, models.StageAIPreCheck}, f.sched.last())
	f.wantBalance(t, f.buyer, "1000", "1000")

	p = f.run(t, p.ID, models.StageAIPreCheck)
	require.Equal(t, models.PermitPendingBuyerReview, p.Status)
	require.Equal(t, models.StagePass, p.Verification.PreCheck)
	require.NotNil(t, p.Verification.RiskScore)

	p, err := f.svc.BuyerReview(ctx, buyer, p.ID, true, "looks right")
	require.NoError(t, err)
	require.Equal(t, models.PermitPendingBuyerReview, p.Status)
	require.Equal(t, models.DecisionApproved, p.BuyerDecision)
	require.Equal(t, scheduled{p.ID, models.StageBehaviorAnalysis}, f.sched.last())

	p = f.run(t, p.ID, models.StageBehaviorAnalysis)
	require.Equal(t, models.PermitPendingAdminApproval, p.Status)

	p, err = f.svc.AdminDecide(ctx, f.admin, p.ID, true, "")
	require.NoError(t, err)
	require.Equal(t, models.PermitActive, p.Status)

	p, err = f.svc.SubmitWork(ctx, worker, p.ID, "done")
	require.NoError(t, err)
	require.Equal(t, models.PermitPendingAICheck, p.Status)

	p = f.run(t, p.ID, models.StageAIPreCheck)
	require.Equal(t, models.PermitPendingAdminApproval, p.Status)
	require.Equal(t, models.StagePass, p.Verification.PostWorkCheck)

	p, err = f.svc.ReleasePayment(ctx, f.admin, p.ID)
	require.NoError(t, err)
	require.Equal(t, models.PermitCompleted, p.Status)

	f.wantBalance(t, f.buyer, "1000", "0")
	f.wantBalance(t, f.worker, "880", "0")
	f.wantBalance(t, models.PlatformFeePoolID, "20", "0")
	f.wantBalance(t, models.AdminCommissionPoolID, "100", "0")

	want := []string{
		models.AuditPermitCreated,
		models.AuditAIPreCheckPassed,
		models.AuditBuyerApproved,
		models.AuditBehaviorPassed,
		models.AuditAdminAuthorized,
		models.AuditWorkSubmitted,
		models.AuditPostWorkCheckPassed,
		models.AuditAdminReleased,
	}
	var got []string
	for _, a := range p.AuditLog {
		got = append(got, a.Action)
	}
	require.Equal(t, want, got)
	require.Contains(t, f.sched.cancelled, p.ID)

	ok, err := f.escrow.VerifyLedger(ctx, f.admin, true)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPermit_AdminApproveAfterSubmissionReleases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.toAdminApproval(t)
	_, err := f.svc.AdminDecide(ctx, f.admin, p.ID, true, "")
	require.NoError(t, err)
	_, err = f.svc.SubmitWork(ctx, models.UserActor(f.worker), p.ID, "")
	require.NoError(t, err)
	f.run(t, p.ID, models.StageAIPreCheck)

	p, err = f.svc.AdminDecide(ctx, f.admin, p.ID, true, "ship it")
	require.NoError(t, err)
	require.Equal(t, models.PermitCompleted, p.Status)
	f.wantBalance(t, f.worker, "880", "0")
}

// ---------------------------------------------------------------------------
// Refusals
// ---------------------------------------------------------------------------

func TestPermit_BuyerRejectRefundsTotal(t *testing.T) {
	f := newFixture(t)
	p := f.create(t)
	f.run(t, p.ID, models.StageAIPreCheck)

	p, err := f.svc.BuyerReview(context.Background(), models.UserActor(f.buyer), p.ID, false, "changed my mind")
	require.NoError(t, err)
	require.Equal(t, models.PermitCancelled, p.Status)
	require.Equal(t, models.DecisionRejected, p.BuyerDecision)
	f.wantBalance(t, f.buyer, "2000", "0")

	// The reservation is closed, so it can never also be released.
	_, err = f.svc.RaiseDispute(context.Background(), models.UserActor(f.buyer), p.ID, "late")
	require.ErrorIs(t, err, models.ErrInvalidStateTransition)
}

func TestPermit_AdminRejectRefundsTotal(t *testing.T) {
	f := newFixture(t)
	p := f.toAdminApproval(t)
	p, err := f.svc.AdminDecide(context.Background(), f.admin, p.ID, false, "fraud signals")
	require.NoError(t, err)
	require.Equal(t, models.PermitRejected, p.Status)
	require.Equal(t, models.DecisionRejected, p.AdminDecision)
	f.wantBalance(t, f.buyer, "2000", "0")
}

func TestPermit_StageFailureRejects(t *testing.T) {
	f := newFixture(t)
	f.analyzer.fail[models.StageAIPreCheck] = true
	p := f.create(t)

	p = f.run(t, p.ID, models.StageAIPreCheck)
	require.Equal(t, models.PermitRejected, p.Status)
	require.Equal(t, models.StageFail, p.Verification.PreCheck)
	require.Equal(t, models.AuditStageFailed, p.AuditLog[len(p.AuditLog)-1].Action)
	require.Equal(t, models.ActorSystem, p.AuditLog[len(p.AuditLog)-1].Actor.Kind)
	f.wantBalance(t, f.buyer, "2000", "0")
}

func TestPermit_BehaviorFailureRejects(t *testing.T) {
	f := newFixture(t)
	f.analyzer.fail[models.StageBehaviorAnalysis] = true
	p := f.create(t)
	f.run(t, p.ID, models.StageAIPreCheck)
	_, err := f.svc.BuyerReview(context.Background(), models.UserActor(f.buyer), p.ID, true, "")
	require.NoError(t, err)

	p = f.run(t, p.ID, models.StageBehaviorAnalysis)
	require.Equal(t, models.PermitRejected, p.Status)
	require.Equal(t, models.StageFail, p.Verification.BehaviorAnalysis)
	f.wantBalance(t, f.buyer, "2000", "0")
}

func TestPermit_StageTimeoutRejects(t *testing.T) {
	f := newFixture(t)
	f.analyzer.block = true
	p := f.create(t)

	p = f.run(t, p.ID, models.StageAIPreCheck)
	require.Equal(t, models.PermitRejected, p.Status)
	require.Contains(t, p.AuditLog[len(p.AuditLog)-1].Details, "timed out")
	f.wantBalance(t, f.buyer, "2000", "0")
}

func TestPermit_ShutdownLeavesPermitWaiting(t *testing.T) {
	f := newFixture(t)
	f.analyzer.block = true
	p := f.create(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.svc.RunStage(ctx, p.ID, models.StageAIPreCheck)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, models.PermitPendingAICheck, f.get(t, p.ID).Status)

	before := f.sched.count()
	n, err := f.svc.ResumePending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, before+1, f.sched.count())
	require.Equal(t, scheduled{p.ID, models.StageAIPreCheck}, f.sched.last())
}

func TestPermit_ResumePendingBehaviorStage(t *testing.T) {
	f := newFixture(t)
	p := f.create(t)
	f.run(t, p.ID, models.StageAIPreCheck)
	_, err := f.svc.BuyerReview(context.Background(), models.UserActor(f.buyer), p.ID, true, "")
	require.NoError(t, err)
	// Undecided reviews are not waiting on any stage.
	q := f.create(t)
	f.run(t, q.ID, models.StageAIPreCheck)

	n, err := f.svc.ResumePending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, scheduled{p.ID, models.StageBehaviorAnalysis}, f.sched.last())
}

func TestPermit_EnqueueFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t)
	f.sched.err = errors.New("queue down")
	p := f.create(t)
	require.Equal(t, models.PermitPendingAICheck, f.get(t, p.ID).Status)
	f.wantBalance(t, f.buyer, "1000", "1000")
}

func TestPermit_TransactionalEnqueue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ts := &txScheduler{}
	f.svc = NewService(f.st, f.escrow, f.analyzer, ts, Options{StageTimeout: 50 * time.Millisecond})

	p := f.create(t)
	require.Equal(t, 1, ts.inTx)
	require.Equal(t, scheduled{p.ID, models.StageAIPreCheck}, ts.last())

	// A failed insert inside the transaction takes the transition with it.
	ts.err = errors.New("queue down")
	_, err := f.svc.Create(ctx, models.UserActor(f.buyer), CreateInput{
		Title: "Second", WorkerID: f.worker, Currency: "USD", TotalAmount: dec("500"),
	})
	require.ErrorContains(t, err, "queue down")
	list, err := f.svc.List(ctx, f.admin, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	f.wantBalance(t, f.buyer, "1000", "1000")

	ts.err = nil
	f.run(t, p.ID, models.StageAIPreCheck)
	ts.err = errors.New("queue down")
	_, err = f.svc.BuyerReview(ctx, models.UserActor(f.buyer), p.ID, true, "")
	require.Error(t, err)
	got := f.get(t, p.ID)
	require.Equal(t, models.DecisionNone, got.BuyerDecision)
	require.Equal(t, models.PermitPendingBuyerReview, got.Status)
}

// ---------------------------------------------------------------------------
// Disputes
// ---------------------------------------------------------------------------

func TestPermit_DisputeMakesLateStageANoop(t *testing.T) {
	f := newFixture(t)
	p := f.create(t)

	p, err := f.svc.RaiseDispute(context.Background(), models.UserActor(f.worker), p.ID, "scope creep")
	require.NoError(t, err)
	require.Equal(t, models.PermitDisputed, p.Status)
	require.Equal(t, models.PermitPendingAICheck, p.PreviousStatus)
	require.Contains(t, f.sched.cancelled, p.ID)

	p = f.run(t, p.ID, models.StageAIPreCheck)
	require.Equal(t, models.PermitDisputed, p.Status)
	require.Len(t, p.AuditLog, 2)
	f.wantBalance(t, f.buyer, "1000", "1000")
}

func TestPermit_DisputeRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t)

	_, err := f.svc.RaiseDispute(ctx, models.UserActor(uuid.New()), p.ID, "nosy")
	require.ErrorIs(t, err, models.ErrNotAuthorized)
	_, err = f.svc.RaiseDispute(ctx, models.UserActor(f.buyer), p.ID, "  ")
	require.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = f.svc.RaiseDispute(ctx, models.UserActor(f.buyer), p.ID, "slow")
	require.NoError(t, err)
	_, err = f.svc.RaiseDispute(ctx, models.UserActor(f.buyer), p.ID, "again")
	require.ErrorIs(t, err, models.ErrInvalidStateTransition)

	_, err = f.svc.ResolveDispute(ctx, models.UserActor(f.buyer), p.ID, Resolution{Outcome: OutcomeRefundBuyer})
	require.ErrorIs(t, err, models.ErrNotAuthorized)
	_, err = f.svc.ResolveDispute(ctx, f.admin, p.ID, Resolution{Outcome: "COIN_FLIP"})
	require.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestPermit_ResolveDispute(t *testing.T) {
	cases := []struct {
		name       string
		res        Resolution
		wantStatus models.PermitStatus
		buyer      string
		worker     string
	}{
		{"release", Resolution{Outcome: OutcomeReleaseToWorker}, models.PermitCompleted, "1000", "880"},
		{"refund", Resolution{Outcome: OutcomeRefundBuyer}, models.PermitCancelled, "1880", "0"},
		{"split", Resolution{Outcome: OutcomeSplit, WorkerShare: dec("500"), BuyerShare: dec("380")}, models.PermitCompleted, "1380", "500"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			p := f.create(t)
			f.run(t, p.ID, models.StageAIPreCheck)
			_, err := f.svc.RaiseDispute(ctx, models.UserActor(f.buyer), p.ID, "quality")
			require.NoError(t, err)

			tc.res.Summary = "mediated"
			p, err = f.svc.ResolveDispute(ctx, f.admin, p.ID, tc.res)
			require.NoError(t, err)
			require.Equal(t, tc.wantStatus, p.Status)
			require.Equal(t, "mediated", p.DisputeSummary)

			f.wantBalance(t, f.buyer, tc.buyer, "0")
			f.wantBalance(t, f.worker, tc.worker, "0")
			f.wantBalance(t, models.PlatformFeePoolID, "20", "0")
			f.wantBalance(t, models.AdminCommissionPoolID, "100", "0")

			_, err = f.svc.ResolveDispute(ctx, f.admin, p.ID, tc.res)
			require.ErrorIs(t, err, models.ErrInvalidStateTransition)
		})
	}
}

func TestPermit_SplitMustMatchWorkerAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t)
	_, err := f.svc.RaiseDispute(ctx, f.admin, p.ID, "audit")
	require.NoError(t, err)

	_, err = f.svc.ResolveDispute(ctx, f.admin, p.ID, Resolution{Outcome: OutcomeSplit, WorkerShare: dec("500"), BuyerShare: dec("500")})
	require.ErrorIs(t, err, models.ErrInvalidInput)
	require.Equal(t, models.PermitDisputed, f.get(t, p.ID).Status)
	f.wantBalance(t, f.buyer, "1000", "1000")
}

// ---------------------------------------------------------------------------
// Guards
// ---------------------------------------------------------------------------

func TestPermit_CreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := models.UserActor(f.buyer)

	_, err := f.svc.Create(ctx, f.admin, CreateInput{Title: "x", WorkerID: f.worker, Currency: "USD", TotalAmount: dec("10")})
	require.ErrorIs(t, err, models.ErrNotAuthorized)
	_, err = f.svc.Create(ctx, buyer, CreateInput{Title: "x", WorkerID: f.buyer, Currency: "USD", TotalAmount: dec("10")})
	require.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = f.svc.Create(ctx, buyer, CreateInput{Title: "x", WorkerID: f.worker, Currency: "USD", TotalAmount: dec("0")})
	require.ErrorIs(t, err, models.ErrInvalidAmount)

	before := f.sched.count()
	_, err = f.svc.Create(ctx, buyer, CreateInput{Title: "x", WorkerID: f.worker, Currency: "USD", TotalAmount: dec("5000")})
	require.ErrorIs(t, err, models.ErrInsufficientFunds)
	require.Equal(t, before, f.sched.count())
	list, err := f.svc.List(ctx, buyer, "")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestPermit_TransitionGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer, worker := models.UserActor(f.buyer), models.UserActor(f.worker)
	p := f.create(t)

	_, err := f.svc.BuyerReview(ctx, buyer, p.ID, true, "")
	require.ErrorIs(t, err, models.ErrInvalidStateTransition)
	_, err = f.svc.AdminDecide(ctx, f.admin, p.ID, true, "")
	require.ErrorIs(t, err, models.ErrInvalidStateTransition)
	_, err = f.svc.SubmitWork(ctx, worker, p.ID, "")
	require.ErrorIs(t, err, models.ErrInvalidStateTransition)
	_, err = f.svc.ReleasePayment(ctx, f.admin, p.ID)
	require.ErrorIs(t, err, models.ErrInvalidStateTransition)

	f.run(t, p.ID, models.StageAIPreCheck)
	_, err = f.svc.BuyerReview(ctx, worker, p.ID, true, "")
	require.ErrorIs(t, err, models.ErrNotAuthorized)
	_, err = f.svc.AdminDecide(ctx, buyer, p.ID, true, "")
	require.ErrorIs(t, err, models.ErrNotAuthorized)

	_, err = f.svc.BuyerReview(ctx, buyer, p.ID, true, "")
	require.NoError(t, err)
	_, err = f.svc.BuyerReview(ctx, buyer, p.ID, false, "")
	require.ErrorIs(t, err, models.ErrInvalidStateTransition)

	// A failed guard writes nothing.
	require.Len(t, f.get(t, p.ID).AuditLog, 3)
}

func TestPermit_ReleaseBeforeSubmissionRefused(t *testing.T) {
	f := newFixture(t)
	p := f.toAdminApproval(t)
	_, err := f.svc.ReleasePayment(context.Background(), f.admin, p.ID)
	require.ErrorIs(t, err, models.ErrInvalidStateTransition)
	f.wantBalance(t, f.worker, "0", "0")
}

func TestPermit_Visibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t)

	_, err := f.svc.Get(ctx, models.UserActor(f.worker), p.ID)
	require.NoError(t, err)
	_, err = f.svc.Get(ctx, models.UserActor(uuid.New()), p.ID)
	require.ErrorIs(t, err, models.ErrNotAuthorized)
	_, err = f.svc.Get(ctx, f.admin, uuid.New())
	require.ErrorIs(t, err, models.ErrNotFound)

	mine, err := f.svc.List(ctx, models.UserActor(f.worker), models.PermitPendingAICheck)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	none, err := f.svc.List(ctx, models.UserActor(uuid.New()), "")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestPermit_UpdateDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.create(t)
	title := "Landing page v2"

	p, err := f.svc.UpdateDetails(ctx, models.UserActor(f.buyer), p.ID, DetailsPatch{Title: &title})
	require.NoError(t, err)
	require.Equal(t, title, p.Title)
	require.Equal(t, models.AuditDetailsUpdated, p.AuditLog[len(p.AuditLog)-1].Action)

	_, err = f.svc.UpdateDetails(ctx, models.UserActor(f.worker), p.ID, DetailsPatch{Title: &title})
	require.ErrorIs(t, err, models.ErrNotAuthorized)
	_, err = f.svc.UpdateDetails(ctx, models.UserActor(f.buyer), p.ID, DetailsPatch{})
	require.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = f.svc.RaiseDispute(ctx, models.UserActor(f.buyer), p.ID, "stop")
	require.NoError(t, err)
	_, err = f.svc.UpdateDetails(ctx, f.admin, p.ID, DetailsPatch{Title: &title})
	require.ErrorIs(t, err, models.ErrInvalidStateTransition)
}
