package fraud

import (
	"time"

	"github.com/opensource-finance/caretrust/internal/domain"
	"github.com/opensource-finance/caretrust/internal/scorecfg"
)

// signalWindow is the trailing period whose anomaly scores feed penalties.
const signalWindow = 30 * 24 * time.Hour

// Signal folds already-annotated records into the aggregate fraud
// evidence used by score penalties.
func Signal(cfg *scorecfg.Configuration, subjectID string, activities []*domain.ActivityRecord, testimonies []*domain.TestimonyRecord, report domain.CollusionReport, asOf time.Time) domain.FraudSignal {
	var sig domain.FraudSignal

	since := asOf.Add(-signalWindow)
	n, flagged := 0, 0
	total := 0.0
	for _, a := range activities {
		if !a.PerformedAt.After(since) || a.PerformedAt.After(asOf) {
			continue
		}
		n++
		total += a.AnomalyScore
		if a.AnomalyScore >= ReviewThreshold {
			flagged++
		}
	}
	if n > 0 {
		sig.Score = total / float64(n)
		sig.FlaggedRatio = float64(flagged) / float64(n)
	}

	low := 0
	for _, t := range testimonies {
		if t.Authenticity > 0 && t.Authenticity < cfg.Authenticity.LowThreshold {
			low++
		}
	}
	if len(testimonies) > 0 {
		sig.LowAuthenticityRatio = float64(low) / float64(len(testimonies))
	}

	sig.CollusionFlags = len(report.Involving(subjectID))
	return sig
}
