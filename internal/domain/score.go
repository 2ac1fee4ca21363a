package domain

import (
	"time"
)

// MaxScore is the top of the VCS scale.
const MaxScore = 1000

// ScoreResult is the auditable output of one scoring run.
type ScoreResult struct {
	ID            string `json:"id"`
	SubjectID     string `json:"subjectId"`
	ConfigVersion string `json:"configVersion"`

	TotalScore int     `json:"totalScore"`
	BaseScore  float64 `json:"baseScore"`

	Categories []CategoryScore   `json:"categories"`
	Penalties  PenaltyBreakdown  `json:"penalties"`
	Band       RiskBand          `json:"band"`
	Loan       LoanEligibility   `json:"loan"`
	Tips       []ImprovementTip  `json:"improvementTips"`
	Confidence ConfidenceLabel   `json:"confidence"`
	Evidence   Evidence          `json:"evidence"`
	Summary    string            `json:"explanation"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	CalculatedAt time.Time `json:"calculatedAt"`
	ValidUntil   time.Time `json:"validUntil"`
}

// ScoreState is the lifecycle state of a computed score.
type ScoreState string

const (
	ScoreValid ScoreState = "valid"
	ScoreStale ScoreState = "stale"
)

// State reports whether the score is still inside its validity window.
func (s *ScoreResult) State(now time.Time) ScoreState {
	if now.Before(s.ValidUntil) {
		return ScoreValid
	}
	return ScoreStale
}

// Category returns the named category score.
func (s *ScoreResult) Category(name string) (CategoryScore, bool) {
	for _, c := range s.Categories {
		if c.Name == name {
			return c, true
		}
	}
	return CategoryScore{}, false
}

// CategoryScore is the weighted contribution of one feature category.
// Max and Total are on the 0..100 pre-scaling scale.
type CategoryScore struct {
	Name     string         `json:"name"`
	Weight   float64        `json:"weight"`
	Max      float64        `json:"max"`
	Total    float64        `json:"total"`
	Features []FeatureScore `json:"features"`
}

// Ratio returns Total/Max, or 0 for an empty category.
func (c CategoryScore) Ratio() float64 {
	if c.Max <= 0 {
		return 0
	}
	return c.Total / c.Max
}

// Shortfall returns the points missing to the category maximum.
func (c CategoryScore) Shortfall() float64 {
	return c.Max - c.Total
}

// FeatureScore records how one raw attribute was scored.
type FeatureScore struct {
	Name       string   `json:"name"`
	Raw        RawValue `json:"raw"`
	Normalized float64  `json:"normalized"`
	Weight     float64  `json:"weight"`
	Weighted   float64  `json:"weighted"`
	Defaulted  bool     `json:"defaulted"`
}

// PenaltyBreakdown lists every penalty rule that fired.
type PenaltyBreakdown struct {
	Total float64       `json:"total"`
	Items []PenaltyItem `json:"items"`
}

// PenaltyItem is one triggered penalty.
type PenaltyItem struct {
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Points    float64 `json:"points"`
}

// RiskBand maps a score range to loan terms. Min and Max are inclusive.
type RiskBand struct {
	Name              string  `json:"name" yaml:"name"`
	Min               int     `json:"min" yaml:"min"`
	Max               int     `json:"max" yaml:"max"`
	LoanEligible      bool    `json:"loanEligible" yaml:"loan_eligible"`
	MaxLoanMultiplier float64 `json:"maxLoanMultiplier" yaml:"max_loan_multiplier"`
	InterestBand      string  `json:"interestBand" yaml:"interest_band"`
	Benefit           string  `json:"benefit" yaml:"benefit"`
}

// Contains reports whether score falls inside the band.
func (b RiskBand) Contains(score int) bool {
	return score >= b.Min && score <= b.Max
}

// LoanEligibility holds the loan terms implied by a score.
type LoanEligibility struct {
	Eligible       bool    `json:"eligible"`
	MaxAmount      float64 `json:"maxAmount"`
	InterestBand   string  `json:"interestBand,omitempty"`
	ConfidenceLow  float64 `json:"confidenceLow"`
	ConfidenceHigh float64 `json:"confidenceHigh"`
}

// ImprovementTip is one actionable step toward a higher score.
type ImprovementTip struct {
	Category      string `json:"category"`
	Action        string `json:"action"`
	EstimatedGain int    `json:"estimatedGain"`
	Timeframe     string `json:"timeframe"`
}

// ConfidenceLabel grades how much evidence backs a score.
type ConfidenceLabel string

const (
	ConfidenceHigh   ConfidenceLabel = "High"
	ConfidenceMedium ConfidenceLabel = "Medium"
	ConfidenceLow    ConfidenceLabel = "Low"
)

// Evidence summarises the volume of input behind a score.
type Evidence struct {
	Activities      int `json:"activities"`
	Testimonies     int `json:"testimonies"`
	ActiveDays      int `json:"activeDays"`
	UniqueVerifiers int `json:"uniqueVerifiers"`
}

// ScoreSnapshot is a point in a subject's score history.
type ScoreSnapshot struct {
	Score int       `json:"score"`
	At    time.Time `json:"at"`
}

// ScoreHistory is a rolling window of past scores, oldest first.
type ScoreHistory struct {
	Limit   int             `json:"limit"`
	Entries []ScoreSnapshot `json:"entries"`
}

// Append adds a snapshot and trims the window to Limit entries.
func (h *ScoreHistory) Append(s ScoreSnapshot) {
	h.Entries = append(h.Entries, s)
	if h.Limit > 0 && len(h.Entries) > h.Limit {
		h.Entries = append([]ScoreSnapshot(nil), h.Entries[len(h.Entries)-h.Limit:]...)
	}
}

// Latest returns the newest snapshot.
func (h *ScoreHistory) Latest() (ScoreSnapshot, bool) {
	if len(h.Entries) == 0 {
		return ScoreSnapshot{}, false
	}
	return h.Entries[len(h.Entries)-1], true
}
