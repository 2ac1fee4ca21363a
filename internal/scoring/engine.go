package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/caretrust/internal/domain"
	"github.com/opensource-finance/caretrust/internal/scorecfg"
)

// ErrNoConfig is returned when an engine is built without a configuration.
var ErrNoConfig = errors.New("scoring configuration is required")

// InsufficientEvidence names the deduction applied by the evidence gate.
const InsufficientEvidence = "insufficient_evidence"

var scoreNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("caretrust.score"))

// Input is one immutable scoring snapshot.
type Input struct {
	Profile   domain.CaregiverProfile `json:"profile"`
	Activity  ActivityAggregate       `json:"activity"`
	Testimony TestimonyAggregate      `json:"testimony"`
	Signal    domain.FraudSignal      `json:"signal"`
	AsOf      time.Time               `json:"asOf"`
}

// Engine computes VCS scores under one configuration.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	cfg *scorecfg.Configuration
}

// NewEngine creates a scoring engine bound to cfg.
func NewEngine(cfg *scorecfg.Configuration) (*Engine, error) {
	if cfg == nil {
		return nil, ErrNoConfig
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() *scorecfg.Configuration {
	return e.cfg
}

// Calculate scores one snapshot. Identical inputs under the same
// configuration version always produce an identical result.
func (e *Engine) Calculate(in Input) (*domain.ScoreResult, error) {
	raws := e.rawInputs(in)

	categories := make([]domain.CategoryScore, 0, len(e.cfg.Categories))
	base := 0.0
	for _, cat := range e.cfg.Categories {
		cs := domain.CategoryScore{
			Name:     cat.Name,
			Weight:   cat.Weight,
			Max:      cat.MaxPoints(),
			Features: make([]domain.FeatureScore, 0, len(cat.Features)),
		}
		for _, f := range cat.Features {
			spec := f.Spec()
			raw := raws[spec.Input]
			norm, defaulted := Normalize(f, raw)
			weighted := norm * spec.Weight
			cs.Total += weighted
			cs.Features = append(cs.Features, domain.FeatureScore{
				Name:       spec.Name,
				Raw:        raw,
				Normalized: norm,
				Weight:     spec.Weight,
				Weighted:   weighted,
				Defaulted:  defaulted,
			})
		}
		base += cs.Total
		categories = append(categories, cs)
	}
	base *= 10

	penalties, err := e.penalties(in)
	if err != nil {
		return nil, err
	}
	e.gateEvidence(in, base, &penalties)

	total := int(math.Round(base - penalties.Total))
	total = min(max(total, 0), domain.MaxScore)

	result := &domain.ScoreResult{
		SubjectID:     in.Profile.SubjectID,
		ConfigVersion: e.cfg.Version,
		TotalScore:    total,
		BaseScore:     base,
		Categories:    categories,
		Penalties:     penalties,
		Band:          e.cfg.BandFor(total),
		Loan:          e.Eligibility(total),
		Evidence: domain.Evidence{
			Activities:      in.Activity.Activities,
			Testimonies:     in.Testimony.Count,
			ActiveDays:      in.Activity.ActiveDaysTotal,
			UniqueVerifiers: in.Testimony.UniqueVerifiers,
		},
		CalculatedAt: in.AsOf,
		ValidUntil:   in.AsOf.Add(e.cfg.Validity),
	}
	result.Tips = ImprovementPlan(e.cfg, categories)
	result.Confidence = Confidence(result.Evidence, penalties).Label

	summary, err := renderSummary(result)
	if err != nil {
		return nil, err
	}
	result.Summary = summary

	id, err := resultID(e.cfg.Version, in)
	if err != nil {
		return nil, err
	}
	result.ID = id
	return result, nil
}

// Eligibility returns the loan terms for a final score.
func (e *Engine) Eligibility(score int) domain.LoanEligibility {
	band := e.cfg.BandFor(score)
	if !band.LoanEligible {
		return domain.LoanEligibility{Eligible: false}
	}

	p := e.cfg.Loan
	amount := decimal.NewFromFloat(p.BaseAmount).
		Mul(decimal.NewFromFloat(band.MaxLoanMultiplier)).
		Mul(decimal.NewFromInt(int64(score))).
		Div(decimal.NewFromInt(int64(p.ReferenceScore)))
	if limit := decimal.NewFromFloat(p.Cap); amount.GreaterThan(limit) {
		amount = limit
	}
	step := decimal.NewFromFloat(p.RoundTo)
	amount = amount.Div(step).Round(0).Mul(step)

	ci := decimal.NewFromFloat(p.ConfidenceInterval)
	one := decimal.NewFromInt(1)
	low := amount.Mul(one.Sub(ci)).Round(2)
	high := amount.Mul(one.Add(ci)).Round(2)

	return domain.LoanEligibility{
		Eligible:       true,
		MaxAmount:      amount.InexactFloat64(),
		InterestBand:   band.InterestBand,
		ConfidenceLow:  low.InexactFloat64(),
		ConfidenceHigh: high.InexactFloat64(),
	}
}

// DaysInactive returns whole days since the last activity, or since the
// subject joined when there is no activity yet.
func DaysInactive(agg ActivityAggregate, joinedAt, asOf time.Time) int {
	ref := agg.LastActivity
	if ref.IsZero() {
		ref = joinedAt
	}
	if ref.IsZero() || ref.After(asOf) {
		return 0
	}
	return int(asOf.Sub(ref) / (24 * time.Hour))
}

func (e *Engine) penalties(in Input) (domain.PenaltyBreakdown, error) {
	metrics := scorecfg.PenaltyMetrics{
		FraudSignal:          in.Signal.Score,
		FlaggedRatio:         in.Signal.FlaggedRatio,
		DaysInactive:         DaysInactive(in.Activity, in.Profile.JoinedAt, in.AsOf),
		ActiveDaysTotal:      in.Activity.ActiveDaysTotal,
		CollusionFlags:       in.Signal.CollusionFlags,
		LowAuthenticityRatio: in.Signal.LowAuthenticityRatio,
		TestimonyCount:       in.Testimony.Count,
	}

	breakdown := domain.PenaltyBreakdown{Items: []domain.PenaltyItem{}}
	for _, rule := range e.cfg.Penalties {
		value, err := rule.Value(metrics)
		if err != nil {
			return breakdown, err
		}
		points := rule.Points(value)
		if points <= 0 {
			continue
		}
		breakdown.Total += points
		breakdown.Items = append(breakdown.Items, domain.PenaltyItem{
			Name:      rule.Name,
			Value:     value,
			Threshold: rule.Threshold,
			Points:    points,
		})
	}
	return breakdown, nil
}

// gateEvidence deducts whatever lifts a subject without care or
// testimony evidence above the configured ceiling.
func (e *Engine) gateEvidence(in Input, base float64, breakdown *domain.PenaltyBreakdown) {
	gate := e.cfg.Evidence
	if !gate.Gated(in.Activity.ActiveDaysTotal, in.Testimony.Count) {
		return
	}
	excess := base - breakdown.Total - float64(gate.MaxScore)
	if excess <= 0 {
		return
	}
	breakdown.Total += excess
	breakdown.Items = append(breakdown.Items, domain.PenaltyItem{
		Name:      InsufficientEvidence,
		Value:     float64(in.Activity.ActiveDaysTotal + in.Testimony.Count),
		Threshold: float64(gate.MaxScore),
		Points:    excess,
	})
}

func (e *Engine) rawInputs(in Input) map[string]domain.RawValue {
	p := in.Profile
	raws := map[string]domain.RawValue{
		"age_group":            domain.Text(p.AgeGroup),
		"region_type":          domain.Text(p.RegionType),
		"residence_years":      domain.OptNumber(p.ResidenceYears),
		"has_id_document":      domain.OptFlag(p.HasIDDocument),
		"bill_payment_rate":    domain.OptNumber(p.BillPaymentRate),
		"payment_consistency":  domain.OptNumber(p.PaymentConsistency),
		"savings_group_member": domain.OptFlag(p.SavingsGroupMember),
		"mobile_money_months":  domain.OptNumber(p.MobileMoneyMonths),
		"income_ratio":         domain.Missing(),
		"income_sources":       domain.OptInt(p.IncomeSources),
		"cooperative_member":   domain.OptFlag(p.CooperativeMember),
		"asset_ownership":      domain.Text(p.AssetOwnership),

		"testimony_count":      domain.Number(float64(in.Testimony.Count)),
		"avg_testimony_rating": domain.Missing(),
		"verifier_trust":       domain.Missing(),
		"unique_verifiers":     domain.Number(float64(in.Testimony.UniqueVerifiers)),

		"monthly_care_hours":   domain.Number(in.Activity.MonthlyHours),
		"care_multiplier":      domain.Missing(),
		"activity_consistency": domain.Number(float64(in.Activity.ActiveDays30) / 30),
		"verified_ratio":       domain.Missing(),
	}

	if p.MonthlyIncome != nil {
		if bench, ok := e.cfg.BenchmarkFor(p.RegionType); ok && bench > 0 {
			raws["income_ratio"] = domain.Number(*p.MonthlyIncome / bench)
		}
	}
	if in.Testimony.Rated > 0 {
		raws["avg_testimony_rating"] = domain.Number(in.Testimony.AvgRating)
	}
	if in.Testimony.Count > 0 {
		raws["verifier_trust"] = domain.Number(in.Testimony.AvgTrust)
	}
	if in.Activity.MonthlyHours > 0 {
		raws["care_multiplier"] = domain.Number(in.Activity.AvgMultiplier)
	}
	if in.Activity.WindowActivities > 0 {
		raws["verified_ratio"] = domain.Number(in.Activity.VerifiedRatio)
	}
	return raws
}

func resultID(version string, in Input) (string, error) {
	payload, err := json.Marshal(struct {
		Version string `json:"version"`
		Input   Input  `json:"input"`
	}{version, in})
	if err != nil {
		return "", fmt.Errorf("failed to encode score input: %w", err)
	}
	return uuid.NewSHA1(scoreNamespace, payload).String(), nil
}
