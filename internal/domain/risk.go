package domain

// Risk levels for forward-looking assessments.
const (
	RiskMinimal RiskLevel = "minimal"
)

// RiskFactor is one weighted input to a risk assessment.
type RiskFactor struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"` // 0..1, higher is riskier
	Weight float64 `json:"weight"`
	Detail string  `json:"detail"`
}

// RiskAlert is raised when a factor crosses its alert threshold.
type RiskAlert struct {
	Factor   string   `json:"factor"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Trend describes the direction of a score projection.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// ScoreProjection is a 30-day forward estimate.
type ScoreProjection struct {
	Current      int   `json:"current"`
	Projected30d int   `json:"projected30d"`
	Trend        Trend `json:"trend"`
}

// RiskAssessment is the forward-looking risk of a subject.
type RiskAssessment struct {
	SubjectID              string          `json:"subjectId"`
	Factors                []RiskFactor    `json:"factors"`
	Score                  float64         `json:"score"`
	Level                  RiskLevel       `json:"level"`
	Alerts                 []RiskAlert     `json:"alerts"`
	Projection             ScoreProjection `json:"projection"`
	LoanApprovalLikelihood float64         `json:"loanApprovalLikelihood"`
	DefaultRisk            float64         `json:"defaultRisk"`
	Recommendations        []string        `json:"recommendations"`
}
