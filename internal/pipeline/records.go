package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/opensource-finance/caretrust/internal/domain"
	"github.com/opensource-finance/caretrust/internal/fraud"
)

const maxHoursPerRecord = 24

// SaveProfile stores a subject's profile. The first save fixes JoinedAt.
func (s *Service) SaveProfile(ctx context.Context, tenantID string, p *domain.CaregiverProfile) (err error) {
	ctx, span := startSpan(ctx, "pipeline.SaveProfile", tenantID, p.SubjectID)
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(p.SubjectID) == "" {
		return invalid("subjectId is required")
	}
	for name, v := range map[string]*float64{"billPaymentRate": p.BillPaymentRate, "paymentConsistency": p.PaymentConsistency} {
		if v != nil && (*v < 0 || *v > 1) {
			return invalid("%s must be within [0,1], got %v", name, *v)
		}
	}

	now := s.clock()
	if p.JoinedAt.IsZero() {
		p.JoinedAt = now
	}
	p.UpdatedAt = now
	if err := s.repo.SaveProfile(ctx, tenantID, p); err != nil {
		return fmt.Errorf("failed to save profile %s: %w", p.SubjectID, err)
	}
	s.invalidate(ctx, tenantID, p.SubjectID)
	return nil
}

func (s *Service) prepareActivity(a *domain.ActivityRecord) error {
	if strings.TrimSpace(a.SubjectID) == "" {
		return invalid("subjectId is required")
	}
	if strings.TrimSpace(a.Type) == "" {
		return invalid("activity type is required")
	}
	for _, h := range []float64{a.EstimatedHours, a.ReportedHours} {
		if h < 0 || h > maxHoursPerRecord {
			return invalid("hours must be within [0,%d], got %v", maxHoursPerRecord, h)
		}
	}
	if a.PerformedAt.IsZero() {
		return invalid("performedAt is required")
	}

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.LoggedAt.IsZero() {
		a.LoggedAt = s.clock()
	}
	if a.VerificationStatus == "" {
		a.VerificationStatus = domain.StatusPending
	}
	return nil
}

// CheckActivity scores a candidate record against the subject's recent
// history without storing it.
func (s *Service) CheckActivity(ctx context.Context, tenantID string, a *domain.ActivityRecord) (_ domain.FraudAssessment, err error) {
	ctx, span := startSpan(ctx, "pipeline.CheckActivity", tenantID, a.SubjectID)
	defer func() { endSpan(span, err) }()

	if err := s.prepareActivity(a); err != nil {
		return domain.FraudAssessment{}, err
	}
	return s.detect(ctx, tenantID, a)
}

func (s *Service) detect(ctx context.Context, tenantID string, a *domain.ActivityRecord) (domain.FraudAssessment, error) {
	now := s.clock()
	history, err := s.repo.ListActivities(ctx, tenantID, a.SubjectID, now.Add(-days(s.cfg.Fraud.HistoryWindowDays)), s.bounds.MaxActivities)
	if err != nil {
		return domain.FraudAssessment{}, fmt.Errorf("failed to load activity history: %w", err)
	}
	return s.detector.Detect(a, history, now), nil
}

// LogActivity screens an activity record, stores it annotated with its
// anomaly score and announces it.
func (s *Service) LogActivity(ctx context.Context, tenantID string, a *domain.ActivityRecord) (_ *domain.ActivityRecord, _ domain.FraudAssessment, err error) {
	ctx, span := startSpan(ctx, "pipeline.LogActivity", tenantID, a.SubjectID)
	defer func() { endSpan(span, err) }()

	if err := s.prepareActivity(a); err != nil {
		return nil, domain.FraudAssessment{}, err
	}

	assessment, err := s.detect(ctx, tenantID, a)
	if err != nil {
		return nil, domain.FraudAssessment{}, err
	}
	record := fraud.Annotate(a, assessment)
	if err := s.repo.SaveActivity(ctx, tenantID, record); err != nil {
		return nil, domain.FraudAssessment{}, fmt.Errorf("failed to save activity %s: %w", record.ID, err)
	}
	s.metrics.FraudAssessed(string(assessment.Recommendation))
	s.invalidate(ctx, tenantID, record.SubjectID)

	s.publish(ctx, tenantID, domain.TopicActivityLogged, domain.SubjectEvent{SubjectID: record.SubjectID, RecordID: record.ID})
	switch assessment.Recommendation {
	case domain.RecommendReview, domain.RecommendReject:
		slog.Warn("activity flagged",
			"tenant_id", tenantID,
			"subject_id", record.SubjectID,
			"activity_id", record.ID,
			"anomaly_score", assessment.Score,
			"recommendation", assessment.Recommendation,
		)
		s.publish(ctx, tenantID, domain.TopicAlert, domain.SubjectEvent{
			SubjectID: record.SubjectID,
			RecordID:  record.ID,
			Reason:    "activity_" + string(assessment.Recommendation),
		})
	}
	return record, assessment, nil
}

// SubmitTestimony assesses a testimony for authenticity and verifier
// collusion, then stores and announces it.
func (s *Service) SubmitTestimony(ctx context.Context, tenantID string, t *domain.TestimonyRecord) (_ *domain.TestimonyRecord, _ domain.TestimonyAssessment, err error) {
	ctx, span := startSpan(ctx, "pipeline.SubmitTestimony", tenantID, t.SubjectID)
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(t.SubjectID) == "" || strings.TrimSpace(t.VerifierID) == "" {
		return nil, domain.TestimonyAssessment{}, invalid("subjectId and verifierId are required")
	}
	if strings.TrimSpace(t.VerifierType) == "" {
		return nil, domain.TestimonyAssessment{}, invalid("verifierType is required")
	}
	for dim, v := range t.Ratings {
		if v < 1 || v > domain.MaxRating {
			return nil, domain.TestimonyAssessment{}, invalid("rating %q must be within [1,%d], got %d", dim, domain.MaxRating, v)
		}
	}
	now := s.clock()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.SubmittedAt.IsZero() {
		t.SubmittedAt = now
	}

	recent, err := s.repo.ListTestimoniesSince(ctx, tenantID, now.Add(-networkWindow), networkLimit)
	if err != nil {
		return nil, domain.TestimonyAssessment{}, fmt.Errorf("failed to load verification network: %w", err)
	}
	network := make([]*domain.TestimonyRecord, 0, len(recent)+1)
	for _, r := range recent {
		if r.ID != t.ID {
			network = append(network, r)
		}
	}
	history := network
	network = append(network, t)

	report := s.collusion.Detect(network, now)
	assessment := s.authenticity.Assess(t, history, report)
	record := fraud.AnnotateTestimony(t, assessment)
	if err := s.repo.SaveTestimony(ctx, tenantID, record); err != nil {
		return nil, domain.TestimonyAssessment{}, fmt.Errorf("failed to save testimony %s: %w", record.ID, err)
	}
	s.invalidate(ctx, tenantID, record.SubjectID)

	for _, flag := range record.CollusionFlags {
		s.metrics.CollusionFlagged(flag)
	}
	s.publish(ctx, tenantID, domain.TopicTestimonySubmitted, domain.SubjectEvent{SubjectID: record.SubjectID, RecordID: record.ID})
	if len(record.CollusionFlags) > 0 {
		slog.Warn("testimony collusion suspected",
			"tenant_id", tenantID,
			"subject_id", record.SubjectID,
			"verifier_id", record.VerifierID,
			"flags", record.CollusionFlags,
		)
		s.publish(ctx, tenantID, domain.TopicAlert, domain.SubjectEvent{
			SubjectID: record.SubjectID,
			RecordID:  record.ID,
			Reason:    "testimony_" + record.CollusionFlags[0],
		})
	}
	return record, assessment, nil
}
