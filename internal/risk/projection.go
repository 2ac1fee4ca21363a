package risk

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/caretrust/internal/domain"
)

// projectionHorizon is how far ahead the score is extrapolated, in days.
const projectionHorizon = 30

// stableBand is the projected change, in points, still reported as stable.
const stableBand = 1.0

// project fits a least-squares line through the score history and
// extrapolates it projectionHorizon days past the latest snapshot. The
// change is capped at ProjectionCap of the current score.
func (e *Engine) project(history []domain.ScoreSnapshot, asOf time.Time) domain.ScoreProjection {
	if len(history) == 0 {
		return domain.ScoreProjection{Trend: domain.TrendStable}
	}
	current := history[len(history)-1].Score
	p := domain.ScoreProjection{Current: current, Projected30d: current, Trend: domain.TrendStable}
	if len(history) < 2 {
		return p
	}

	xs := make([]float64, len(history))
	ys := make([]float64, len(history))
	for i, s := range history {
		xs[i] = s.At.Sub(asOf).Hours() / 24
		ys[i] = float64(s.Score)
	}
	if xs[0] == xs[len(xs)-1] {
		return p
	}

	_, slope := stat.LinearRegression(xs, ys, nil, false)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return p
	}
	limit := e.policy.ProjectionCap * float64(current)
	delta := math.Max(-limit, math.Min(slope*projectionHorizon, limit))

	projected := int(math.Round(float64(current) + delta))
	p.Projected30d = min(max(projected, 0), domain.MaxScore)
	switch {
	case delta > stableBand:
		p.Trend = domain.TrendImproving
	case delta < -stableBand:
		p.Trend = domain.TrendDeclining
	}
	return p
}
