// Package risk turns a subject's recent history into a forward-looking
// risk assessment: weighted factor scores, threshold alerts, a 30-day
// score projection and the recommendations that matter most.
package risk

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/opensource-finance/caretrust/internal/domain"
	"github.com/opensource-finance/caretrust/internal/fraud"
	"github.com/opensource-finance/caretrust/internal/scorecfg"
	"github.com/opensource-finance/caretrust/internal/scoring"
)

// ErrNoConfig is returned when an engine is built without a configuration.
var ErrNoConfig = errors.New("risk engine requires a scoring configuration")

// Factor names.
const (
	FactorTrend      = "vcs_trend"
	FactorActivity   = "activity_consistency"
	FactorValidation = "validation_quality"
	FactorFraud      = "fraud_signal"
	FactorAge        = "account_age"
)

const (
	maxRecommendations = 3
	// factors below this score do not earn a recommendation
	recommendFloor = 0.3
	// likelihood multiplier applied when the projected score is not loan eligible
	ineligibleDiscount = 0.2
)

var recommendations = map[string]string{
	FactorTrend:      "Your score has been falling. Review recent penalties and keep logging verified activity.",
	FactorActivity:   "Log care activities regularly; gaps of more than two weeks weaken your record.",
	FactorValidation: "Ask verifiers who know your work well for testimonies.",
	FactorFraud:      "Several recent activities were flagged. Log activities on the day they happen with accurate hours.",
	FactorAge:        "Keep building history; scores become more reliable after six months.",
}

// Input is the history snapshot a risk assessment reads.
// History and Activities need not be sorted.
type Input struct {
	SubjectID   string
	History     []domain.ScoreSnapshot
	Activities  []*domain.ActivityRecord
	Testimonies []*domain.TestimonyRecord
	JoinedAt    time.Time
	AsOf        time.Time
}

// Engine assesses forward risk. It is safe for concurrent use.
type Engine struct {
	policy   scorecfg.RiskPolicy
	scoring  *scoring.Engine
	detector *fraud.Detector
}

// NewEngine creates a risk engine bound to cfg.
func NewEngine(cfg *scorecfg.Configuration) (*Engine, error) {
	if cfg == nil {
		return nil, ErrNoConfig
	}
	se, err := scoring.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	det, err := fraud.NewDetector(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{policy: cfg.Risk, scoring: se, detector: det}, nil
}

// Assess computes the risk assessment for one subject.
func (e *Engine) Assess(in Input) domain.RiskAssessment {
	history := sortedHistory(in.History)
	activities := sortedActivities(in.Activities, in.AsOf)

	trend, decline := e.trendFactor(history, in.AsOf)
	activity, inactive := e.activityFactor(activities, in.JoinedAt, in.AsOf)
	validation, avgRating, rated := e.validationFactor(in.Testimonies)
	fraudRate, fraudF := e.fraudFactor(activities, in.AsOf)
	age, ageDays := e.ageFactor(in.JoinedAt, in.AsOf)

	factors := []domain.RiskFactor{trend, activity, validation, fraudF, age}
	score := 0.0
	for _, f := range factors {
		score += f.Score * f.Weight
	}
	score = clamp01(round4(score))

	var alerts []domain.RiskAlert
	if decline >= e.policy.DeclineAlert {
		alerts = append(alerts, alert(FactorTrend, domain.SeverityHigh, "score dropped %.0f points in 30 days", decline))
	}
	if inactive >= e.policy.InactivityAlertDays {
		alerts = append(alerts, alert(FactorActivity, domain.SeverityMedium, "no activity logged for %d days", inactive))
	}
	if rated && avgRating < e.policy.LowRatingAlert {
		alerts = append(alerts, alert(FactorValidation, domain.SeverityMedium, "average testimony rating is %.1f", avgRating))
	}
	if fraudRate >= e.policy.FraudRateAlert {
		alerts = append(alerts, alert(FactorFraud, domain.SeverityHigh, "%.0f%% of recent activities look suspicious", fraudRate*100))
	}
	if ageDays < e.policy.NewAccountDays {
		alerts = append(alerts, alert(FactorAge, domain.SeverityLow, "account is %d days old", ageDays))
	}
	if alerts == nil {
		alerts = []domain.RiskAlert{}
	}

	projection := e.project(history, in.AsOf)
	likelihood, defaultRisk := e.loanOutlook(projection.Projected30d, score)

	return domain.RiskAssessment{
		SubjectID:              in.SubjectID,
		Factors:                factors,
		Score:                  score,
		Level:                  LevelFor(score),
		Alerts:                 alerts,
		Projection:             projection,
		LoanApprovalLikelihood: likelihood,
		DefaultRisk:            defaultRisk,
		Recommendations:        recommend(factors),
	}
}

// LevelFor buckets an overall risk score.
func LevelFor(score float64) domain.RiskLevel {
	switch {
	case score < 0.1:
		return domain.RiskMinimal
	case score < 0.3:
		return domain.RiskLow
	case score < 0.5:
		return domain.RiskMedium
	case score < 0.7:
		return domain.RiskHigh
	default:
		return domain.RiskCritical
	}
}

func (e *Engine) loanOutlook(projected int, risk float64) (likelihood, defaultRisk float64) {
	likelihood = 1 - risk
	if !e.scoring.Eligibility(projected).Eligible {
		likelihood *= ineligibleDiscount
	}
	defaultRisk = 0.5*risk + 0.5*(1-float64(projected)/domain.MaxScore)
	return round4(clamp01(likelihood)), round4(clamp01(defaultRisk))
}

func recommend(factors []domain.RiskFactor) []string {
	ranked := make([]domain.RiskFactor, len(factors))
	copy(ranked, factors)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Name < ranked[j].Name
	})

	out := []string{}
	for _, f := range ranked {
		if len(out) == maxRecommendations || f.Score < recommendFloor {
			break
		}
		out = append(out, recommendations[f.Name])
	}
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(math.Max(v, 0), 1)
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
