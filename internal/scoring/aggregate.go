package scoring

import (
	"time"

	"github.com/opensource-finance/caretrust/internal/domain"
	"github.com/opensource-finance/caretrust/internal/scorecfg"
)

// Window is the trailing period used for monthly aggregates.
const Window = 30 * 24 * time.Hour

// ActivityAggregate summarises a subject's activity snapshot.
type ActivityAggregate struct {
	Activities      int
	ActiveDaysTotal int
	ActiveDays30    int

	// Over the trailing window only.
	WindowActivities int
	MonthlyHours     float64
	AvgMultiplier    float64
	VerifiedRatio    float64

	LastActivity time.Time
}

// TestimonyAggregate summarises a subject's testimony snapshot.
type TestimonyAggregate struct {
	Count           int
	Rated           int
	AvgRating       float64
	AvgTrust        float64
	UniqueVerifiers int
}

// AggregateActivities folds time-ordered activity records as of asOf.
// Records performed after asOf are ignored.
func AggregateActivities(cfg *scorecfg.Configuration, records []*domain.ActivityRecord, asOf time.Time) ActivityAggregate {
	var agg ActivityAggregate
	allDays := map[time.Time]bool{}
	windowDays := map[time.Time]bool{}
	windowStart := asOf.Add(-Window)

	weightedMultiplier := 0.0
	verified := 0
	for _, a := range records {
		if a.PerformedAt.After(asOf) {
			continue
		}
		agg.Activities++
		day := domain.Day(a.PerformedAt)
		allDays[day] = true
		if a.PerformedAt.After(agg.LastActivity) {
			agg.LastActivity = a.PerformedAt
		}

		if !a.PerformedAt.After(windowStart) {
			continue
		}
		agg.WindowActivities++
		windowDays[day] = true
		hours := a.Hours()
		agg.MonthlyHours += hours
		weightedMultiplier += hours * effectiveMultiplier(cfg, a)
		if a.Verified() {
			verified++
		}
	}

	agg.ActiveDaysTotal = len(allDays)
	agg.ActiveDays30 = min(len(windowDays), 30)
	if agg.MonthlyHours > 0 {
		agg.AvgMultiplier = weightedMultiplier / agg.MonthlyHours
	}
	if agg.WindowActivities > 0 {
		agg.VerifiedRatio = float64(verified) / float64(agg.WindowActivities)
	}
	return agg
}

// AggregateTestimonies folds a subject's testimony records.
func AggregateTestimonies(cfg *scorecfg.Configuration, records []*domain.TestimonyRecord) TestimonyAggregate {
	var agg TestimonyAggregate
	verifiers := map[string]bool{}
	ratingSum, trustSum := 0.0, 0.0
	for _, t := range records {
		agg.Count++
		verifiers[t.VerifierID] = true
		trustSum += EffectiveTrust(cfg, t)
		if avg, ok := t.AverageRating(); ok {
			agg.Rated++
			ratingSum += avg
		}
	}

	agg.UniqueVerifiers = len(verifiers)
	if agg.Count > 0 {
		agg.AvgTrust = trustSum / float64(agg.Count)
	}
	if agg.Rated > 0 {
		agg.AvgRating = ratingSum / float64(agg.Rated)
	}
	return agg
}

// EffectiveTrust returns the testimony's trust weight, falling back to
// the configured weight of its verifier type.
func EffectiveTrust(cfg *scorecfg.Configuration, t *domain.TestimonyRecord) float64 {
	if t.TrustWeight > 0 {
		return t.TrustWeight
	}
	return cfg.TrustFor(t.VerifierType)
}

func effectiveMultiplier(cfg *scorecfg.Configuration, a *domain.ActivityRecord) float64 {
	if a.Multiplier > 0 {
		return a.Multiplier
	}
	return cfg.MultiplierFor(a.Type)
}
