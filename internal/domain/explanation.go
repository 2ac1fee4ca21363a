package domain

// Explanation is the human-readable account of a ScoreResult.
type Explanation struct {
	SubjectID       string                `json:"subjectId"`
	Score           int                   `json:"score"`
	Summary         string                `json:"summary"`
	Categories      []CategoryExplanation `json:"categories"`
	Positive        []string              `json:"positiveFactors"`
	Negative        []string              `json:"negativeFactors"`
	ImprovementPlan []ImprovementTip      `json:"improvementPlan"`
	NextBand        *NextBand             `json:"nextBand,omitempty"`
	Confidence      ConfidenceRating      `json:"confidence"`
}

// CategoryExplanation justifies one category score.
type CategoryExplanation struct {
	Name           string   `json:"name"`
	Score          float64  `json:"score"`
	Max            float64  `json:"max"`
	Justifications []string `json:"justifications"`
}

// NextBand is the distance to the next better risk band.
type NextBand struct {
	Name         string `json:"name"`
	PointsNeeded int    `json:"pointsNeeded"`
	Benefit      string `json:"benefit"`
}

// ConfidenceRating grades the evidence behind a score.
type ConfidenceRating struct {
	Score   float64         `json:"score"`
	Label   ConfidenceLabel `json:"label"`
	Reasons []string        `json:"reasons"`
}
