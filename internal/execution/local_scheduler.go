package execution

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/escrow/internal/models"
)

// LocalScheduler runs stages on goroutines in this process. Queued work is
// lost on exit; the permit service's ResumePending re-queues it on start.
type LocalScheduler struct {
	mu      sync.Mutex
	runner  StageRunner
	cancels map[uuid.UUID]map[uint64]context.CancelFunc
	next    uint64
	closed  bool
	wg      sync.WaitGroup

	base   context.Context
	stop   context.CancelFunc
	delay  time.Duration
	logger *slog.Logger
}

func NewLocalScheduler(delay time.Duration, logger *slog.Logger) *LocalScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	base, stop := context.WithCancel(context.Background())
	return &LocalScheduler{
		cancels: make(map[uuid.UUID]map[uint64]context.CancelFunc),
		base:    base,
		stop:    stop,
		delay:   delay,
		logger:  logger,
	}
}

func (s *LocalScheduler) Bind(r StageRunner) {
	s.mu.Lock()
	s.runner = r
	s.mu.Unlock()
}

func (s *LocalScheduler) Schedule(_ context.Context, id uuid.UUID, stage models.Stage) error {
	if _, err := argsFor(id, stage); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("scheduler closed")
	}
	if s.runner == nil {
		return errors.New("stage runner not bound")
	}
	ctx, cancel := context.WithCancel(s.base)
	s.next++
	key := s.next
	if s.cancels[id] == nil {
		s.cancels[id] = make(map[uint64]context.CancelFunc)
	}
	s.cancels[id][key] = cancel

	s.wg.Add(1)
	go s.run(ctx, s.runner, id, stage, key)
	return nil
}

func (s *LocalScheduler) run(ctx context.Context, r StageRunner, id uuid.UUID, stage models.Stage, key uint64) {
	defer s.wg.Done()
	defer s.forget(id, key)

	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	if err := r.RunStage(ctx, id, stage); err != nil && ctx.Err() == nil {
		s.logger.Error("stage run failed", "permit_id", id, "stage", stage, "error", err)
	}
}

func (s *LocalScheduler) forget(id uuid.UUID, key uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.cancels[id]; m != nil {
		if cancel, ok := m[key]; ok {
			cancel()
			delete(m, key)
		}
		if len(m) == 0 {
			delete(s.cancels, id)
		}
	}
}

// Cancel stops anything queued or running for id.
func (s *LocalScheduler) Cancel(id uuid.UUID) {
	s.mu.Lock()
	m := s.cancels[id]
	delete(s.cancels, id)
	s.mu.Unlock()
	for _, cancel := range m {
		cancel()
	}
}

// Pending reports how many stage runs are queued or in flight.
func (s *LocalScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.cancels {
		n += len(m)
	}
	return n
}

// Close cancels all work and waits for the goroutines to exit.
func (s *LocalScheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stop()
	s.wg.Wait()
}
