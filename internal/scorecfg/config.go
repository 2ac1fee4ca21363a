// Package scorecfg loads and validates the versioned scoring configuration.
//
// A Configuration is immutable once Parse returns. It is safe to share
// across goroutines and to keep several regimes side by side.
package scorecfg

import (
	"time"

	"github.com/google/cel-go/cel"

	"github.com/opensource-finance/caretrust/internal/domain"
)

// Configuration is a validated scoring regime.
type Configuration struct {
	Version      string
	Validity     time.Duration
	HistoryLimit int

	Categories []*Category
	Penalties  []*PenaltyRule
	Bands      []domain.RiskBand

	VerifierTrust   map[string]float64
	CareMultipliers map[string]float64
	WageBenchmarks  map[string]float64

	Evidence     EvidencePolicy
	Loan         LoanPolicy
	Fraud        FraudPolicy
	Collusion    CollusionPolicy
	Authenticity AuthenticityPolicy
	Risk         RiskPolicy
	Explain      ExplainPolicy
}

// Category groups features under one weight.
type Category struct {
	Name      string
	Weight    float64
	Action    string
	Timeframe string
	Features  []FeatureSpec
}

// MaxPoints is the category ceiling on the 0..100 pre-scaling scale.
func (c *Category) MaxPoints() float64 {
	return c.Weight * 100
}

// FeatureKind names a FeatureSpec variant.
type FeatureKind string

const (
	KindCategorical FeatureKind = "categorical"
	KindContinuous  FeatureKind = "continuous"
	KindPercentage  FeatureKind = "percentage"
	KindBoolean     FeatureKind = "boolean"
	KindCalculated  FeatureKind = "calculated"
)

// FeatureSpec is one of *Categorical, *Continuous, *Percentage,
// *Boolean or *Calculated.
type FeatureSpec interface {
	Spec() *FeatureBase
	Kind() FeatureKind
}

// FeatureBase carries the fields every variant shares.
type FeatureBase struct {
	Name string
	// Input is the raw attribute the feature reads; defaults to Name.
	Input  string
	Weight float64
	// Neutral is the normalized value used when the raw input is missing.
	Neutral float64
}

// Spec returns the shared fields.
func (b *FeatureBase) Spec() *FeatureBase { return b }

// Categorical maps a category label to a fixed value.
type Categorical struct {
	FeatureBase
	Values  map[string]float64
	Default float64
}

// Kind implements FeatureSpec.
func (*Categorical) Kind() FeatureKind { return KindCategorical }

// Continuous scales a non-negative quantity against a saturation point.
type Continuous struct {
	FeatureBase
	Max float64
}

// Kind implements FeatureSpec.
func (*Continuous) Kind() FeatureKind { return KindContinuous }

// Percentage scales a 0..1 ratio.
type Percentage struct {
	FeatureBase
}

// Kind implements FeatureSpec.
func (*Percentage) Kind() FeatureKind { return KindPercentage }

// Boolean maps a flag to one of two values.
type Boolean struct {
	FeatureBase
	TrueValue  float64
	FalseValue float64
}

// Kind implements FeatureSpec.
func (*Boolean) Kind() FeatureKind { return KindBoolean }

// Calculated runs a CEL formula over the raw number bound to x.
type Calculated struct {
	FeatureBase
	Formula string
	program cel.Program
}

// Kind implements FeatureSpec.
func (*Calculated) Kind() FeatureKind { return KindCalculated }

// Eval applies the formula to x.
func (c *Calculated) Eval(x float64) (float64, error) {
	out, _, err := c.program.Eval(map[string]any{"x": x})
	if err != nil {
		return 0, err
	}
	return toFloat(out), nil
}

// PenaltyRule deducts points when Metric exceeds Threshold.
type PenaltyRule struct {
	Name       string
	Metric     string
	Threshold  float64
	Weight     float64
	MaxPenalty float64
	program    cel.Program
}

// EvidencePolicy caps the score of a subject without care or testimony
// evidence, however strong the profile is. The gate applies while
// active days stay below MinActiveDays and testimonies below
// MinTestimonies; zero minimums disable it.
type EvidencePolicy struct {
	MinActiveDays  int
	MinTestimonies int
	MaxScore       int
}

// Gated reports whether a subject with the given evidence is capped.
func (p EvidencePolicy) Gated(activeDays, testimonies int) bool {
	return activeDays < p.MinActiveDays && testimonies < p.MinTestimonies
}

// LoanPolicy holds the loan sizing constants.
type LoanPolicy struct {
	BaseAmount         float64
	Cap                float64
	RoundTo            float64
	ConfidenceInterval float64
	ReferenceScore     int
}

// FraudPolicy holds the activity check thresholds.
type FraudPolicy struct {
	OutlierZ                float64
	SevereZ                 float64
	ImpossibleHours         float64
	MinHistory              int
	DuplicateSimilarity     float64
	DuplicateHighSimilarity float64
	DuplicateWindowDays     int
	MaxDailyRecords         int
	MaxDailyHours           float64
	RareTypeShare           float64
	RareTypeMinHistory      int
	BackdateDays            int
	BackdateSevereDays      int
	HistoryWindowDays       int
}

// CollusionPolicy holds the verifier network thresholds.
type CollusionPolicy struct {
	VerificationCap     int
	CapWindowDays       int
	MinClusterVerifiers int
	DensityFactor       float64
}

// AuthenticityPolicy holds the testimony heuristics.
type AuthenticityPolicy struct {
	MinTextLength        int
	ShortTextPenalty     float64
	UniformMaxPenalty    float64
	NewVerifierThreshold int
	NewVerifierPenalty   float64
	Floor                float64
	LowThreshold         float64
}

// RiskPolicy holds the risk factor weights and alert thresholds.
type RiskPolicy struct {
	TrendWeight      float64
	ActivityWeight   float64
	ValidationWeight float64
	FraudWeight      float64
	AgeWeight        float64

	DeclineAlert        float64
	InactivityAlertDays int
	LowRatingAlert      float64
	FraudRateAlert      float64
	NewAccountDays      int
	MatureAccountDays   int
	FraudSampleSize     int
	ProjectionCap       float64
}

// ExplainPolicy holds the explanation thresholds.
type ExplainPolicy struct {
	StrongRatio float64
	WeakRatio   float64
}

// Feature returns the named feature and its category.
func (c *Configuration) Feature(name string) (FeatureSpec, *Category, bool) {
	for _, cat := range c.Categories {
		for _, f := range cat.Features {
			if f.Spec().Name == name {
				return f, cat, true
			}
		}
	}
	return nil, nil, false
}

// Category returns the named category.
func (c *Configuration) Category(name string) (*Category, bool) {
	for _, cat := range c.Categories {
		if cat.Name == name {
			return cat, true
		}
	}
	return nil, false
}

// BandFor returns the band containing score. Scores outside 0..1000
// are clamped first, so a validated configuration always matches.
func (c *Configuration) BandFor(score int) domain.RiskBand {
	score = min(max(score, 0), domain.MaxScore)
	for _, b := range c.Bands {
		if b.Contains(score) {
			return b
		}
	}
	return c.Bands[len(c.Bands)-1]
}

// NextBand returns the band immediately above the one holding score.
func (c *Configuration) NextBand(score int) (domain.RiskBand, bool) {
	cur := c.BandFor(score)
	for i, b := range c.Bands {
		if b.Name == cur.Name && i+1 < len(c.Bands) {
			return c.Bands[i+1], true
		}
	}
	return domain.RiskBand{}, false
}

// TrustFor returns the trust weight of a verifier type.
func (c *Configuration) TrustFor(verifierType string) float64 {
	if w, ok := c.VerifierTrust[verifierType]; ok {
		return w
	}
	return c.VerifierTrust[DefaultKey]
}

// MultiplierFor returns the care multiplier of an activity type.
func (c *Configuration) MultiplierFor(activityType string) float64 {
	if m, ok := c.CareMultipliers[activityType]; ok {
		return m
	}
	return c.CareMultipliers[DefaultKey]
}

// BenchmarkFor returns the monthly wage benchmark of a region type.
func (c *Configuration) BenchmarkFor(regionType string) (float64, bool) {
	if b, ok := c.WageBenchmarks[regionType]; ok {
		return b, true
	}
	b, ok := c.WageBenchmarks[DefaultKey]
	return b, ok
}

// DefaultKey is the fallback entry of lookup tables.
const DefaultKey = "default"
