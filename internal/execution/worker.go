// Package execution runs the automatic permit stages: river workers for the
// postgres deployment, an in-process scheduler for the memory backend, and
// the simulated analyzer both of them drive.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/inaiurai/escrow/internal/models"
)

type AIPreCheckArgs struct {
	PermitID uuid.UUID `json:"permit_id"`
}

func (AIPreCheckArgs) Kind() string { return "permit_ai_precheck" }

type BehaviorAnalysisArgs struct {
	PermitID uuid.UUID `json:"permit_id"`
}

func (BehaviorAnalysisArgs) Kind() string { return "permit_behavior_analysis" }

// argsFor maps a stage onto its river job.
func argsFor(id uuid.UUID, stage models.Stage) (river.JobArgs, error) {
	switch stage {
	case models.StageAIPreCheck:
		return AIPreCheckArgs{PermitID: id}, nil
	case models.StageBehaviorAnalysis:
		return BehaviorAnalysisArgs{PermitID: id}, nil
	}
	return nil, fmt.Errorf("unknown stage %q", stage)
}

// StageRunner is the contract the workers need: the permit service's
// RunStage, which is a no-op for permits that have moved on.
type StageRunner interface {
	RunStage(ctx context.Context, id uuid.UUID, stage models.Stage) error
}

// jobTimeoutMargin keeps river's job deadline behind the stage timeout, so a
// slow analyzer is failed by RunStage instead of being cancelled as if the
// process were shutting down.
const jobTimeoutMargin = 30 * time.Second

// jobTimeout is the river job timeout for a stage bounded by stageTimeout.
// Zero leaves river's client default in place.
func jobTimeout(stageTimeout time.Duration) time.Duration {
	if stageTimeout <= 0 {
		return 0
	}
	return stageTimeout + jobTimeoutMargin
}

type AIPreCheckWorker struct {
	river.WorkerDefaults[AIPreCheckArgs]
	runner       StageRunner
	stageTimeout time.Duration
}

func NewAIPreCheckWorker(r StageRunner, stageTimeout time.Duration) *AIPreCheckWorker {
	return &AIPreCheckWorker{runner: r, stageTimeout: stageTimeout}
}

func (w *AIPreCheckWorker) Timeout(*river.Job[AIPreCheckArgs]) time.Duration {
	return jobTimeout(w.stageTimeout)
}

func (w *AIPreCheckWorker) Work(ctx context.Context, job *river.Job[AIPreCheckArgs]) error {
	return w.runner.RunStage(ctx, job.Args.PermitID, models.StageAIPreCheck)
}

type BehaviorAnalysisWorker struct {
	river.WorkerDefaults[BehaviorAnalysisArgs]
	runner       StageRunner
	stageTimeout time.Duration
}

func NewBehaviorAnalysisWorker(r StageRunner, stageTimeout time.Duration) *BehaviorAnalysisWorker {
	return &BehaviorAnalysisWorker{runner: r, stageTimeout: stageTimeout}
}

func (w *BehaviorAnalysisWorker) Timeout(*river.Job[BehaviorAnalysisArgs]) time.Duration {
	return jobTimeout(w.stageTimeout)
}

func (w *BehaviorAnalysisWorker) Work(ctx context.Context, job *river.Job[BehaviorAnalysisArgs]) error {
	return w.runner.RunStage(ctx, job.Args.PermitID, models.StageBehaviorAnalysis)
}

// AddWorkers registers both stage workers. stageTimeout must match the
// permit service's; river's job deadline is set past it.
func AddWorkers(workers *river.Workers, r StageRunner, stageTimeout time.Duration) {
	river.AddWorker(workers, NewAIPreCheckWorker(r, stageTimeout))
	river.AddWorker(workers, NewBehaviorAnalysisWorker(r, stageTimeout))
}
