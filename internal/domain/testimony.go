package domain

import (
	"sort"
	"time"
)

// TestimonyRecord is a third-party attestation about a subject.
// Authenticity and CollusionFlags are written by the fraud detector only.
type TestimonyRecord struct {
	ID             string         `json:"id"`
	SubjectID      string         `json:"subjectId"`
	VerifierID     string         `json:"verifierId"`
	VerifierType   string         `json:"verifierType"`
	ActivityID     string         `json:"activityId,omitempty"`
	Text           string         `json:"text"`
	Ratings        map[string]int `json:"ratings"` // dimension -> 1..5
	TrustWeight    float64        `json:"trustWeight,omitempty"`
	Authenticity   float64        `json:"authenticity"`
	CollusionFlags []string       `json:"collusionFlags,omitempty"`
	SubmittedAt    time.Time      `json:"submittedAt"`
}

// MaxRating is the top of the rating scale.
const MaxRating = 5

// AverageRating returns the mean across rating dimensions.
// The second value is false when the testimony carries no ratings.
func (t *TestimonyRecord) AverageRating() (float64, bool) {
	if len(t.Ratings) == 0 {
		return 0, false
	}
	keys := make([]string, 0, len(t.Ratings))
	for k := range t.Ratings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sum := 0
	for _, k := range keys {
		sum += t.Ratings[k]
	}
	return float64(sum) / float64(len(keys)), true
}

// AllMaxRatings reports whether every dimension was rated at the top of the scale.
func (t *TestimonyRecord) AllMaxRatings() bool {
	if len(t.Ratings) == 0 {
		return false
	}
	for _, v := range t.Ratings {
		if v != MaxRating {
			return false
		}
	}
	return true
}
