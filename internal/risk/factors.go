package risk

import (
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/caretrust/internal/domain"
	"github.com/opensource-finance/caretrust/internal/fraud"
)

const (
	day           = 24 * time.Hour
	trendWindow   = 30 * day
	dropoffWindow = 14 * day
	// rating at which validation quality stops being a concern
	goodRating = 4.0
)

func (e *Engine) trendFactor(history []domain.ScoreSnapshot, asOf time.Time) (domain.RiskFactor, float64) {
	f := domain.RiskFactor{Name: FactorTrend, Weight: e.policy.TrendWeight, Detail: "not enough score history"}
	if len(history) < 2 {
		return f, 0
	}

	latest := history[len(history)-1]
	baseline, ok := baselineSnapshot(history, asOf.Add(-trendWindow))
	if !ok || !baseline.At.Before(latest.At) {
		return f, 0
	}
	decline := float64(baseline.Score - latest.Score)
	f.Score = clamp01(decline / 100)
	if decline > 0 {
		f.Detail = fmt.Sprintf("down %.0f points since %s", decline, baseline.At.Format(time.DateOnly))
	} else {
		f.Detail = fmt.Sprintf("up %.0f points since %s", -decline, baseline.At.Format(time.DateOnly))
	}
	return f, decline
}

// baselineSnapshot is the score as it stood at since: the last snapshot
// at or before since, else the earliest one after it.
func baselineSnapshot(history []domain.ScoreSnapshot, since time.Time) (domain.ScoreSnapshot, bool) {
	idx := sort.Search(len(history), func(i int) bool { return history[i].At.After(since) })
	if idx > 0 {
		return history[idx-1], true
	}
	if len(history) > 0 {
		return history[0], true
	}
	return domain.ScoreSnapshot{}, false
}

func (e *Engine) activityFactor(activities []*domain.ActivityRecord, joinedAt, asOf time.Time) (domain.RiskFactor, int) {
	f := domain.RiskFactor{Name: FactorActivity, Weight: e.policy.ActivityWeight}

	ref := joinedAt
	if n := len(activities); n > 0 {
		ref = activities[n-1].PerformedAt
	}
	inactive := 0
	if !ref.IsZero() && ref.Before(asOf) {
		inactive = int(asOf.Sub(ref) / day)
	}

	recent, previous := 0, 0
	for _, a := range activities {
		age := asOf.Sub(a.PerformedAt)
		switch {
		case age < dropoffWindow:
			recent++
		case age < 2*dropoffWindow:
			previous++
		}
	}
	dropoff := 0.0
	if previous > recent {
		dropoff = float64(previous-recent) / float64(previous)
	}

	f.Score = round4(clamp01(max(float64(inactive)/30, dropoff)))
	f.Detail = fmt.Sprintf("%d days since last activity; %d activities in the last 14 days vs %d before", inactive, recent, previous)
	return f, inactive
}

func (e *Engine) validationFactor(testimonies []*domain.TestimonyRecord) (domain.RiskFactor, float64, bool) {
	f := domain.RiskFactor{Name: FactorValidation, Weight: e.policy.ValidationWeight}

	sum, n := 0.0, 0
	for _, t := range testimonies {
		if avg, ok := t.AverageRating(); ok {
			sum += avg
			n++
		}
	}
	if n == 0 {
		f.Score = 0.5
		f.Detail = "no rated testimonies"
		return f, 0, false
	}
	avg := sum / float64(n)
	f.Score = round4(clamp01((goodRating - avg) / 3))
	f.Detail = fmt.Sprintf("average rating %.2f across %d testimonies", avg, n)
	return f, avg, true
}

// fraudFactor rechecks the most recent activities, each against the
// activities that preceded it.
func (e *Engine) fraudFactor(activities []*domain.ActivityRecord, asOf time.Time) (float64, domain.RiskFactor) {
	f := domain.RiskFactor{Name: FactorFraud, Weight: e.policy.FraudWeight, Detail: "no activities to check"}
	if len(activities) == 0 {
		return 0, f
	}

	start := max(len(activities)-e.policy.FraudSampleSize, 0)
	suspicious := 0
	for i := start; i < len(activities); i++ {
		a := e.detector.Detect(activities[i], activities[:i], asOf)
		if a.Score >= fraud.MonitorThreshold {
			suspicious++
		}
	}
	sample := len(activities) - start
	rate := float64(suspicious) / float64(sample)
	f.Score = round4(rate)
	f.Detail = fmt.Sprintf("%d of the last %d activities scored as suspicious", suspicious, sample)
	return rate, f
}

func (e *Engine) ageFactor(joinedAt, asOf time.Time) (domain.RiskFactor, int) {
	f := domain.RiskFactor{Name: FactorAge, Weight: e.policy.AgeWeight, Score: 1, Detail: "join date unknown"}
	if joinedAt.IsZero() {
		return f, 0
	}
	days := 0
	if joinedAt.Before(asOf) {
		days = int(asOf.Sub(joinedAt) / day)
	}
	f.Score = round4(clamp01(1 - float64(days)/float64(e.policy.MatureAccountDays)))
	f.Detail = fmt.Sprintf("account is %d days old", days)
	return f, days
}

func alert(factor string, sev domain.Severity, format string, args ...any) domain.RiskAlert {
	return domain.RiskAlert{Factor: factor, Severity: sev, Message: fmt.Sprintf(format, args...)}
}

func sortedHistory(in []domain.ScoreSnapshot) []domain.ScoreSnapshot {
	out := make([]domain.ScoreSnapshot, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// sortedActivities orders activities by performance time and drops any
// dated after asOf.
func sortedActivities(in []*domain.ActivityRecord, asOf time.Time) []*domain.ActivityRecord {
	out := make([]*domain.ActivityRecord, 0, len(in))
	for _, a := range in {
		if !a.PerformedAt.After(asOf) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PerformedAt.Before(out[j].PerformedAt) })
	return out
}
