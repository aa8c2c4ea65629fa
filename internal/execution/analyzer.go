package execution

import (
	"context"
	"time"

	"github.com/inaiurai/escrow/internal/models"
	"github.com/inaiurai/escrow/internal/permits"
)

// SimulatedAnalyzer stands in for the AI checks. It waits delay and passes
// with a risk score derived from the permit id, so repeated runs agree.
type SimulatedAnalyzer struct {
	Delay time.Duration
}

var _ permits.Analyzer = SimulatedAnalyzer{}

func (a SimulatedAnalyzer) Analyze(ctx context.Context, p *models.WorkPermit, stage models.Stage) (permits.StageResult, error) {
	t := time.NewTimer(a.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return permits.StageResult{}, ctx.Err()
	case <-t.C:
	}
	return permits.StageResult{
		Pass:      true,
		RiskScore: RiskScore(p),
		Detail:    "simulated " + string(stage),
	}, nil
}

// RiskScore is a stable 0..29 score for p.
func RiskScore(p *models.WorkPermit) int {
	sum := 0
	for _, b := range p.ID {
		sum += int(b)
	}
	return sum % 30
}
