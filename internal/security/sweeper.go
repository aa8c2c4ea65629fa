package security

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/inaiurai/escrow/internal/metrics"
)

// Sweeper is notified after every commit that credits the platform fee pool.
type Sweeper interface {
	FeePoolCredited(ctx context.Context, currency string, poolBalance decimal.Decimal)
}

// ThresholdSweeper simulates moving fee-pool funds to cold storage once the
// pool balance crosses a threshold. It only logs and counts; no ledger
// entries are written.
type ThresholdSweeper struct {
	Threshold decimal.Decimal
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

func NewThresholdSweeper(threshold decimal.Decimal, logger *slog.Logger, m *metrics.Metrics) *ThresholdSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &ThresholdSweeper{Threshold: threshold, Logger: logger, Metrics: m}
}

func (s *ThresholdSweeper) FeePoolCredited(ctx context.Context, currency string, poolBalance decimal.Decimal) {
	if s.Threshold.IsZero() || poolBalance.LessThan(s.Threshold) {
		return
	}
	s.Logger.InfoContext(ctx, "cold storage sweep triggered",
		"currency", currency, "pool_balance", poolBalance.String(), "threshold", s.Threshold.String())
	s.Metrics.RecordSweep(currency)
}

// NoopSweeper ignores fee pool credits.
type NoopSweeper struct{}

func (NoopSweeper) FeePoolCredited(context.Context, string, decimal.Decimal) {}
