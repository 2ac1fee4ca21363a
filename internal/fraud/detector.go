// Package fraud scores activity records and testimonies for fabrication.
//
// Every check is independent; each contributes a capped amount and the
// sum is clamped to [0,1]. The detector does no I/O and keeps no state,
// so callers must hand it a bounded, time-ordered history snapshot.
package fraud

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/opensource-finance/caretrust/internal/domain"
	"github.com/opensource-finance/caretrust/internal/scorecfg"
)

// ErrNoConfig is returned when a detector is built without a configuration.
var ErrNoConfig = errors.New("fraud detector requires a scoring configuration")

// Aggregate score cut-offs.
const (
	MonitorThreshold = 0.3
	ReviewThreshold  = 0.5
	RejectThreshold  = 0.7
)

// Per-check contributions.
const (
	outlierBase      = 0.2
	outlierPerSigma  = 0.1
	outlierCap       = 0.4
	impossibleWeight = 0.5
	duplicateMedium  = 0.25
	duplicateHigh    = 0.4
	velocityWeight   = 0.2
	dailyHoursWeight = 0.35
	patternWeight    = 0.1
	futureWeight     = 0.5
	backdateBase     = 0.1
	backdatePerDay   = 0.005
	backdateCap      = 0.3

	futureSkew = 5 * time.Minute
)

// Detector runs the activity checks under one configuration.
type Detector struct {
	policy scorecfg.FraudPolicy
}

// NewDetector creates a detector bound to cfg.
func NewDetector(cfg *scorecfg.Configuration) (*Detector, error) {
	if cfg == nil {
		return nil, ErrNoConfig
	}
	return &Detector{policy: cfg.Fraud}, nil
}

// Detect scores a candidate record against the subject's history.
// Hours are expected to be within [0,24]; asOf stands in for the log
// time when the candidate carries none.
func (d *Detector) Detect(candidate *domain.ActivityRecord, history []*domain.ActivityRecord, asOf time.Time) domain.FraudAssessment {
	prior := make([]*domain.ActivityRecord, 0, len(history))
	for _, h := range history {
		if h.ID != "" && h.ID == candidate.ID {
			continue
		}
		prior = append(prior, h)
	}

	var flags []domain.FraudFlag
	flags = append(flags, d.checkOutlier(candidate, prior)...)
	flags = append(flags, d.checkSimilarity(candidate, prior)...)
	flags = append(flags, d.checkVelocity(candidate, prior)...)
	flags = append(flags, d.checkPattern(candidate, prior)...)
	flags = append(flags, d.checkTemporal(candidate, asOf)...)

	score := 0.0
	for _, f := range flags {
		score += f.Contribution
	}
	score = math.Min(math.Max(score, 0), 1)

	if flags == nil {
		flags = []domain.FraudFlag{}
	}
	return domain.FraudAssessment{
		RecordID:       candidate.ID,
		Flags:          flags,
		Score:          score,
		RiskLevel:      LevelFor(score),
		Recommendation: RecommendationFor(score),
	}
}

// Annotate returns a copy of the record carrying the assessment.
func Annotate(record *domain.ActivityRecord, a domain.FraudAssessment) *domain.ActivityRecord {
	out := *record
	out.AnomalyScore = a.Score
	out.AnomalyFlags = a.FlagTypes()
	return &out
}

// LevelFor buckets an aggregate fraud score.
func LevelFor(score float64) domain.RiskLevel {
	switch {
	case score < 0.1:
		return domain.RiskNone
	case score < MonitorThreshold:
		return domain.RiskLow
	case score < ReviewThreshold:
		return domain.RiskMedium
	case score < RejectThreshold:
		return domain.RiskHigh
	default:
		return domain.RiskCritical
	}
}

// RecommendationFor maps an aggregate fraud score to an action.
func RecommendationFor(score float64) domain.Recommendation {
	switch {
	case score < MonitorThreshold:
		return domain.RecommendApprove
	case score < ReviewThreshold:
		return domain.RecommendMonitor
	case score < RejectThreshold:
		return domain.RecommendReview
	default:
		return domain.RecommendReject
	}
}

// ZScore returns the z-score of v in data, or 0 when the data has no spread.
func ZScore(v float64, data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	mean, err := stats.Mean(data)
	if err != nil {
		return 0
	}
	std, err := stats.StandardDeviation(data)
	if err != nil || std == 0 || math.IsNaN(std) {
		return 0
	}
	return (v - mean) / std
}

func (d *Detector) checkOutlier(c *domain.ActivityRecord, prior []*domain.ActivityRecord) []domain.FraudFlag {
	var flags []domain.FraudFlag
	hours := c.Hours()

	if len(prior) >= d.policy.MinHistory {
		data := make([]float64, 0, len(prior))
		for _, p := range prior {
			data = append(data, p.Hours())
		}
		if z := math.Abs(ZScore(hours, data)); z > d.policy.OutlierZ {
			sev := domain.SeverityMedium
			if z > d.policy.SevereZ {
				sev = domain.SeverityHigh
			}
			flags = append(flags, domain.FraudFlag{
				Type:         domain.FlagOutlierHours,
				Severity:     sev,
				Description:  fmt.Sprintf("%.1f hours is %.1f standard deviations from this subject's usual", hours, z),
				Contribution: math.Min(outlierBase+outlierPerSigma*(z-d.policy.OutlierZ), outlierCap),
			})
		}
	}

	if hours > d.policy.ImpossibleHours {
		flags = append(flags, domain.FraudFlag{
			Type:         domain.FlagImpossibleHours,
			Severity:     domain.SeverityHigh,
			Description:  fmt.Sprintf("%.1f hours exceeds the believable daily maximum of %.0f", hours, d.policy.ImpossibleHours),
			Contribution: impossibleWeight,
		})
	}
	return flags
}

func (d *Detector) checkSimilarity(c *domain.ActivityRecord, prior []*domain.ActivityRecord) []domain.FraudFlag {
	tokens := Tokenize(c.Description)
	if len(tokens) == 0 {
		return nil
	}

	window := time.Duration(d.policy.DuplicateWindowDays) * 24 * time.Hour
	best, match := 0.0, ""
	for _, p := range prior {
		if absDuration(c.PerformedAt.Sub(p.PerformedAt)) > window {
			continue
		}
		if sim := Jaccard(tokens, Tokenize(p.Description)); sim > best {
			best, match = sim, p.ID
		}
	}
	if best <= d.policy.DuplicateSimilarity {
		return nil
	}

	sev, contribution := domain.SeverityMedium, duplicateMedium
	if best > d.policy.DuplicateHighSimilarity {
		sev, contribution = domain.SeverityHigh, duplicateHigh
	}
	return []domain.FraudFlag{{
		Type:         domain.FlagDuplicate,
		Severity:     sev,
		Description:  fmt.Sprintf("description is %.0f%% similar to record %s", best*100, match),
		Contribution: contribution,
	}}
}

func (d *Detector) checkVelocity(c *domain.ActivityRecord, prior []*domain.ActivityRecord) []domain.FraudFlag {
	day := domain.Day(c.PerformedAt)
	count, hours := 1, c.Hours()
	for _, p := range prior {
		if domain.Day(p.PerformedAt).Equal(day) {
			count++
			hours += p.Hours()
		}
	}

	var flags []domain.FraudFlag
	if count >= d.policy.MaxDailyRecords {
		flags = append(flags, domain.FraudFlag{
			Type:         domain.FlagHighVelocity,
			Severity:     domain.SeverityMedium,
			Description:  fmt.Sprintf("%d activities logged for %s", count, day.Format(time.DateOnly)),
			Contribution: velocityWeight,
		})
	}
	if hours > d.policy.MaxDailyHours {
		flags = append(flags, domain.FraudFlag{
			Type:         domain.FlagExcessiveDailyHours,
			Severity:     domain.SeverityHigh,
			Description:  fmt.Sprintf("%.1f hours claimed for %s", hours, day.Format(time.DateOnly)),
			Contribution: dailyHoursWeight,
		})
	}
	return flags
}

func (d *Detector) checkPattern(c *domain.ActivityRecord, prior []*domain.ActivityRecord) []domain.FraudFlag {
	if len(prior) == 0 {
		return nil
	}
	seen := 0
	for _, p := range prior {
		if p.Type == c.Type {
			seen++
		}
	}

	var desc string
	switch {
	case seen == 0:
		desc = fmt.Sprintf("first %s activity in %d records", c.Type, len(prior))
	case len(prior) >= d.policy.RareTypeMinHistory && float64(seen)/float64(len(prior)) < d.policy.RareTypeShare:
		desc = fmt.Sprintf("%s makes up %d of %d records", c.Type, seen, len(prior))
	default:
		return nil
	}
	return []domain.FraudFlag{{
		Type:         domain.FlagUnusualType,
		Severity:     domain.SeverityLow,
		Description:  desc,
		Contribution: patternWeight,
	}}
}

func (d *Detector) checkTemporal(c *domain.ActivityRecord, asOf time.Time) []domain.FraudFlag {
	ref := c.LoggedAt
	if ref.IsZero() {
		ref = asOf
	}

	if c.PerformedAt.After(ref.Add(futureSkew)) {
		return []domain.FraudFlag{{
			Type:         domain.FlagFutureDated,
			Severity:     domain.SeverityHigh,
			Description:  fmt.Sprintf("performed %s is after logged %s", c.PerformedAt.Format(time.RFC3339), ref.Format(time.RFC3339)),
			Contribution: futureWeight,
		}}
	}

	daysLate := int(ref.Sub(c.PerformedAt) / (24 * time.Hour))
	if daysLate <= d.policy.BackdateDays {
		return nil
	}
	sev := domain.SeverityMedium
	if daysLate > d.policy.BackdateSevereDays {
		sev = domain.SeverityHigh
	}
	return []domain.FraudFlag{{
		Type:         domain.FlagBackdated,
		Severity:     sev,
		Description:  fmt.Sprintf("logged %d days after it was performed", daysLate),
		Contribution: math.Min(backdateBase+backdatePerDay*float64(daysLate-d.policy.BackdateDays), backdateCap),
	}}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
