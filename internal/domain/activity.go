package domain

import (
	"time"
)

// VerificationStatus tracks third-party confirmation of an activity.
type VerificationStatus string

const (
	StatusPending  VerificationStatus = "pending"
	StatusVerified VerificationStatus = "verified"
	StatusRejected VerificationStatus = "rejected"
)

// ActivityRecord is one self-reported unit of care labor.
// AnomalyFlags and AnomalyScore are written by the fraud detector only.
type ActivityRecord struct {
	ID                 string             `json:"id"`
	SubjectID          string             `json:"subjectId"`
	Type               string             `json:"type"`
	Subtype            string             `json:"subtype,omitempty"`
	Description        string             `json:"description"`
	EstimatedHours     float64            `json:"estimatedHours"`
	ReportedHours      float64            `json:"reportedHours,omitempty"`
	Multiplier         float64            `json:"multiplier,omitempty"`
	Location           string             `json:"location,omitempty"`
	VerificationStatus VerificationStatus `json:"verificationStatus"`
	AnomalyFlags       []string           `json:"anomalyFlags,omitempty"`
	AnomalyScore       float64            `json:"anomalyScore"`
	PerformedAt        time.Time          `json:"performedAt"`
	LoggedAt           time.Time          `json:"loggedAt"`
}

// Hours returns the reported hours, falling back to the estimate.
func (a *ActivityRecord) Hours() float64 {
	if a.ReportedHours > 0 {
		return a.ReportedHours
	}
	return a.EstimatedHours
}

// Verified reports whether a third party confirmed the activity.
func (a *ActivityRecord) Verified() bool {
	return a.VerificationStatus == StatusVerified
}

// Day truncates a timestamp to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
