package domain

// Severity grades a single fraud flag.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// RiskLevel buckets an aggregate fraud score.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Recommendation is the action suggested for a checked record.
type Recommendation string

const (
	RecommendApprove Recommendation = "approve"
	RecommendMonitor Recommendation = "monitor"
	RecommendReview  Recommendation = "flag_for_review"
	RecommendReject  Recommendation = "reject"
)

// Fraud flag types.
const (
	FlagOutlierHours        = "outlier_hours"
	FlagImpossibleHours     = "impossible_hours"
	FlagDuplicate           = "duplicate_description"
	FlagHighVelocity        = "high_velocity"
	FlagExcessiveDailyHours = "excessive_daily_hours"
	FlagUnusualType         = "unusual_activity_type"
	FlagFutureDated         = "future_dated"
	FlagBackdated           = "backdated"

	FlagReciprocal        = "reciprocal_verification"
	FlagVerificationCap   = "verification_cap_exceeded"
	FlagCollusionNetwork  = "collusion_network"
	FlagShortText         = "short_text"
	FlagUniformMaxRatings = "uniform_max_ratings"
	FlagNewVerifier       = "inexperienced_verifier"
)

// FraudFlag is one check that fired.
type FraudFlag struct {
	Type         string   `json:"type"`
	Severity     Severity `json:"severity"`
	Description  string   `json:"description"`
	Contribution float64  `json:"contribution"`
	Participants []string `json:"participants,omitempty"`
}

// FraudAssessment is the outcome of checking one activity record.
type FraudAssessment struct {
	RecordID       string         `json:"recordId"`
	Flags          []FraudFlag    `json:"flags"`
	Score          float64        `json:"score"`
	RiskLevel      RiskLevel      `json:"riskLevel"`
	Recommendation Recommendation `json:"recommendation"`
}

// Flagged reports whether the record needs human attention.
func (f *FraudAssessment) Flagged() bool {
	return f.Recommendation == RecommendReview || f.Recommendation == RecommendReject
}

// FlagTypes returns the flag type names in check order.
func (f *FraudAssessment) FlagTypes() []string {
	out := make([]string, 0, len(f.Flags))
	for _, fl := range f.Flags {
		out = append(out, fl.Type)
	}
	return out
}

// TestimonyAssessment is the outcome of checking one testimony.
type TestimonyAssessment struct {
	TestimonyID  string      `json:"testimonyId"`
	Authenticity float64     `json:"authenticity"`
	Flags        []FraudFlag `json:"flags"`
}

// CollusionCluster is a connected group of subjects and verifiers.
type CollusionCluster struct {
	Members            []string `json:"members"`
	Verifiers          int      `json:"verifiers"`
	CrossVerifications int      `json:"crossVerifications"`
}

// CollusionReport is the outcome of a collusion scan.
type CollusionReport struct {
	Flags    []FraudFlag        `json:"flags"`
	Clusters []CollusionCluster `json:"clusters"`
}

// Involving returns the flags naming id as a participant.
func (r *CollusionReport) Involving(id string) []FraudFlag {
	var out []FraudFlag
	for _, f := range r.Flags {
		for _, p := range f.Participants {
			if p == id {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// FraudSignal is the aggregate fraud evidence fed into score penalties.
type FraudSignal struct {
	Score                float64 `json:"score"`
	FlaggedRatio         float64 `json:"flaggedRatio"`
	CollusionFlags       int     `json:"collusionFlags"`
	LowAuthenticityRatio float64 `json:"lowAuthenticityRatio"`
}
