package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/caretrust/internal/bus"
	"github.com/opensource-finance/caretrust/internal/domain"
	"github.com/opensource-finance/caretrust/internal/fraud"
	"github.com/opensource-finance/caretrust/internal/scoring"
)

// snapshot is the bounded evidence one computation reads.
type snapshot struct {
	profile     *domain.CaregiverProfile
	activities  []*domain.ActivityRecord
	testimonies []*domain.TestimonyRecord
	network     []*domain.TestimonyRecord
}

func (s *Service) load(ctx context.Context, tenantID, subjectID string, withNetwork bool) (*snapshot, error) {
	now := s.clock()
	profile, err := s.repo.GetProfile(ctx, tenantID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", subjectID, err)
	}
	activities, err := s.repo.ListActivities(ctx, tenantID, subjectID, now.Add(-days(s.bounds.ActivityLookbackDays)), s.bounds.MaxActivities)
	if err != nil {
		return nil, fmt.Errorf("failed to load activities: %w", err)
	}
	testimonies, err := s.repo.ListTestimonies(ctx, tenantID, subjectID, s.bounds.MaxTestimonies)
	if err != nil {
		return nil, fmt.Errorf("failed to load testimonies: %w", err)
	}
	snap := &snapshot{profile: profile, activities: activities, testimonies: testimonies}
	if withNetwork {
		if snap.network, err = s.repo.ListTestimoniesSince(ctx, tenantID, now.Add(-networkWindow), networkLimit); err != nil {
			return nil, fmt.Errorf("failed to load verification network: %w", err)
		}
	}
	return snap, nil
}

// Score computes a fresh score from stored evidence, appends it to the
// subject's history, caches it for its validity window and announces it.
func (s *Service) Score(ctx context.Context, tenantID, subjectID string) (_ *domain.ScoreResult, err error) {
	ctx, span := startSpan(ctx, "pipeline.Score", tenantID, subjectID)
	defer func() { endSpan(span, err) }()

	snap, err := s.load(ctx, tenantID, subjectID, true)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	report := s.collusion.Detect(snap.network, now)
	result, err := s.scorer.Calculate(scoring.Input{
		Profile:   *snap.profile,
		Activity:  scoring.AggregateActivities(s.cfg, snap.activities, now),
		Testimony: scoring.AggregateTestimonies(s.cfg, snap.testimonies),
		Signal:    fraud.Signal(s.cfg, subjectID, snap.activities, snap.testimonies, report, now),
		AsOf:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to score %s: %w", subjectID, err)
	}
	result.Metadata = provenance(span, tenantID, snap, len(report.Involving(subjectID)))

	if err := s.repo.SaveScore(ctx, tenantID, result); err != nil {
		return nil, fmt.Errorf("failed to save score %s: %w", result.ID, err)
	}
	if s.cache != nil {
		if err := s.cache.SetScore(ctx, tenantID, result, result.ValidUntil.Sub(now)); err != nil {
			slog.Warn("failed to cache score", "tenant_id", tenantID, "subject_id", subjectID, "error", err)
		}
	}
	s.metrics.ScoreComputed(result.Band.Name, result.TotalScore)

	slog.Info("score computed",
		"tenant_id", tenantID,
		"subject_id", subjectID,
		"score", result.TotalScore,
		"band", result.Band.Name,
		"confidence", result.Confidence,
		"penalty_points", result.Penalties.Total,
	)
	s.publish(ctx, tenantID, domain.TopicScoreComputed, domain.SubjectEvent{
		SubjectID: subjectID,
		RecordID:  result.ID,
		Score:     result.TotalScore,
	})
	return result, nil
}

// provenance records what a computation read. It stays out of the result
// ID so identical evidence still yields an identical ID.
func provenance(span trace.Span, tenantID string, snap *snapshot, collusionFlags int) map[string]string {
	md := map[string]string{
		"tenant_id":           tenantID,
		"activities_read":     strconv.Itoa(len(snap.activities)),
		"testimonies_read":    strconv.Itoa(len(snap.testimonies)),
		"network_testimonies": strconv.Itoa(len(snap.network)),
		"collusion_flags":     strconv.Itoa(collusionFlags),
	}
	if sc := span.SpanContext(); sc.TraceID().IsValid() {
		md["trace_id"] = sc.TraceID().String()
	}
	return md
}

// CurrentScore returns the subject's score, reusing a cached or stored
// result while it is valid and recomputing otherwise.
func (s *Service) CurrentScore(ctx context.Context, tenantID, subjectID string) (*domain.ScoreResult, error) {
	now := s.clock()
	if s.cache != nil {
		cached, err := s.cache.GetScore(ctx, tenantID, subjectID)
		if err != nil {
			slog.Warn("cache read failed", "tenant_id", tenantID, "subject_id", subjectID, "error", err)
		}
		if cached != nil && cached.State(now) == domain.ScoreValid {
			s.metrics.CacheHit()
			return cached, nil
		}
		s.metrics.CacheMiss()
	}

	latest, err := s.repo.LatestScore(ctx, tenantID, subjectID)
	if err == nil && latest.State(now) == domain.ScoreValid {
		if s.cache != nil {
			_ = s.cache.SetScore(ctx, tenantID, latest, latest.ValidUntil.Sub(now))
		}
		return latest, nil
	}
	return s.Score(ctx, tenantID, subjectID)
}

// History returns up to limit stored scores, oldest first.
func (s *Service) History(ctx context.Context, tenantID, subjectID string, limit int) ([]*domain.ScoreResult, error) {
	if limit <= 0 || limit > s.cfg.HistoryLimit {
		limit = s.cfg.HistoryLimit
	}
	return s.repo.ListScores(ctx, tenantID, subjectID, limit)
}

// RequestScore asks background workers to recompute a subject. The
// subject must exist; the score itself is not computed here.
func (s *Service) RequestScore(ctx context.Context, tenantID, subjectID string) (err error) {
	ctx, span := startSpan(ctx, "pipeline.RequestScore", tenantID, subjectID)
	defer func() { endSpan(span, err) }()

	if s.bus == nil {
		return ErrNoBus
	}
	if _, err := s.repo.GetProfile(ctx, tenantID, subjectID); err != nil {
		return fmt.Errorf("failed to load profile %s: %w", subjectID, err)
	}
	return bus.PublishEvent(ctx, s.bus, tenantID, domain.TopicScoreRequested, domain.SubjectEvent{SubjectID: subjectID})
}

// BatchResult is the outcome for one subject of a batch.
type BatchResult struct {
	SubjectID string              `json:"subjectId"`
	Result    *domain.ScoreResult `json:"result,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// ScoreMany scores subjects concurrently. A failing subject is reported
// in its BatchResult and does not stop the batch; results keep input order.
func (s *Service) ScoreMany(ctx context.Context, tenantID string, subjectIDs []string) ([]BatchResult, error) {
	ctx, span := startSpan(ctx, "pipeline.ScoreMany", tenantID, "")
	defer span.End()

	results := make([]BatchResult, len(subjectIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.bounds.BatchConcurrency, 1))
	for i, id := range subjectIDs {
		results[i].SubjectID = id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := s.Score(gctx, tenantID, id)
			if err != nil {
				results[i].Error = err.Error()
				return nil
			}
			results[i].Result = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
