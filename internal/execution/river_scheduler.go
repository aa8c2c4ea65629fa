package execution

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/inaiurai/escrow/internal/models"
	"github.com/inaiurai/escrow/internal/store"
)

// JobClient is the subset of *river.Client the scheduler uses.
type JobClient interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
	InsertTx(ctx context.Context, tx pgx.Tx, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
	JobCancel(ctx context.Context, jobID int64) (*rivertype.JobRow, error)
}

var errNotBound = errors.New("river client not bound")

// pgxTxer is implemented by store transactions backed by postgres.
type pgxTxer interface {
	PgxTx() pgx.Tx
}

// uniqueStage keeps at most one live job per permit and stage, so
// ResumePending after a restart does not duplicate jobs that are already
// durably queued. Completed jobs are excluded: resubmitted work needs a fresh
// pre-check.
var uniqueStage = river.UniqueOpts{
	ByArgs: true,
	ByState: []rivertype.JobState{
		rivertype.JobStateAvailable,
		rivertype.JobStatePending,
		rivertype.JobStateRetryable,
		rivertype.JobStateRunning,
		rivertype.JobStateScheduled,
	},
}

// RiverScheduler queues stages as durable river jobs. The client is bound
// after construction because the river workers need the permit service,
// which in turn needs this scheduler.
type RiverScheduler struct {
	mu     sync.Mutex
	client JobClient
	jobs   map[uuid.UUID][]int64
	delay  time.Duration
	logger *slog.Logger
}

func NewRiverScheduler(delay time.Duration, logger *slog.Logger) *RiverScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RiverScheduler{jobs: make(map[uuid.UUID][]int64), delay: delay, logger: logger}
}

func (s *RiverScheduler) Bind(c JobClient) {
	s.mu.Lock()
	s.client = c
	s.mu.Unlock()
}

func (s *RiverScheduler) Schedule(ctx context.Context, id uuid.UUID, stage models.Stage) error {
	args, err := argsFor(id, stage)
	if err != nil {
		return err
	}
	s.mu.Lock()
	c := s.client
	s.mu.Unlock()
	if c == nil {
		return errNotBound
	}
	res, err := c.Insert(ctx, args, s.insertOpts())
	if err != nil {
		return err
	}
	s.track(id, res)
	return nil
}

// ScheduleTx inserts the stage job inside tx when tx is a postgres
// transaction, so the job exists exactly when the transition commits. Other
// transactions fall back to Schedule after commit.
func (s *RiverScheduler) ScheduleTx(ctx context.Context, tx store.Tx, id uuid.UUID, stage models.Stage) error {
	ptx, ok := tx.(pgxTxer)
	if !ok {
		tx.OnCommit(func() {
			if err := s.Schedule(context.WithoutCancel(ctx), id, stage); err != nil {
				s.logger.Error("schedule stage failed", "permit_id", id, "stage", stage, "error", err)
			}
		})
		return nil
	}
	args, err := argsFor(id, stage)
	if err != nil {
		return err
	}
	s.mu.Lock()
	c := s.client
	s.mu.Unlock()
	if c == nil {
		return errNotBound
	}
	res, err := c.InsertTx(ctx, ptx.PgxTx(), args, s.insertOpts())
	if err != nil {
		return err
	}
	tx.OnCommit(func() { s.track(id, res) })
	return nil
}

func (s *RiverScheduler) insertOpts() *river.InsertOpts {
	return &river.InsertOpts{ScheduledAt: time.Now().Add(s.delay), UniqueOpts: uniqueStage}
}

func (s *RiverScheduler) track(id uuid.UUID, res *rivertype.JobInsertResult) {
	if res == nil || res.Job == nil || res.UniqueSkippedAsDuplicate {
		return
	}
	s.mu.Lock()
	s.jobs[id] = append(s.jobs[id], res.Job.ID)
	s.mu.Unlock()
}

// Cancel asks river to drop the permit's queued jobs. Jobs that already ran
// or are running are unaffected; RunStage discards their results.
func (s *RiverScheduler) Cancel(id uuid.UUID) {
	s.mu.Lock()
	c, ids := s.client, s.jobs[id]
	delete(s.jobs, id)
	s.mu.Unlock()
	if c == nil {
		return
	}
	for _, jobID := range ids {
		if _, err := c.JobCancel(context.Background(), jobID); err != nil {
			s.logger.Warn("cancel stage job", "permit_id", id, "job_id", jobID, "error", err)
		}
	}
}
