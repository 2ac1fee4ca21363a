package pipeline

import (
	"context"
	"fmt"

	"github.com/opensource-finance/caretrust/internal/domain"
	"github.com/opensource-finance/caretrust/internal/risk"
)

// AssessRisk scores forward risk from the subject's score history and
// recent evidence. The current score is refreshed first so the history
// is never empty.
func (s *Service) AssessRisk(ctx context.Context, tenantID, subjectID string) (_ domain.RiskAssessment, err error) {
	ctx, span := startSpan(ctx, "pipeline.AssessRisk", tenantID, subjectID)
	defer func() { endSpan(span, err) }()

	if _, err := s.CurrentScore(ctx, tenantID, subjectID); err != nil {
		return domain.RiskAssessment{}, err
	}
	snap, err := s.load(ctx, tenantID, subjectID, false)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	scores, err := s.repo.ListScores(ctx, tenantID, subjectID, s.cfg.HistoryLimit)
	if err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("failed to load score history: %w", err)
	}

	history := domain.ScoreHistory{Limit: s.cfg.HistoryLimit}
	for _, r := range scores {
		history.Append(domain.ScoreSnapshot{Score: r.TotalScore, At: r.CalculatedAt})
	}

	assessment := s.risk.Assess(risk.Input{
		SubjectID:   subjectID,
		History:     history.Entries,
		Activities:  snap.activities,
		Testimonies: snap.testimonies,
		JoinedAt:    snap.profile.JoinedAt,
		AsOf:        s.clock(),
	})
	for _, a := range assessment.Alerts {
		s.metrics.RiskAlert(a.Factor)
	}
	return assessment, nil
}

// Explain renders the explanation of the subject's current score.
func (s *Service) Explain(ctx context.Context, tenantID, subjectID string) (_ domain.Explanation, err error) {
	ctx, span := startSpan(ctx, "pipeline.Explain", tenantID, subjectID)
	defer func() { endSpan(span, err) }()

	result, err := s.CurrentScore(ctx, tenantID, subjectID)
	if err != nil {
		return domain.Explanation{}, err
	}
	ex, err := s.explainer.Explain(result)
	if err != nil {
		return domain.Explanation{}, fmt.Errorf("failed to explain score %s: %w", result.ID, err)
	}
	return ex, nil
}
