// Package worker recomputes scores in the background when new evidence
// is announced on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/caretrust/internal/bus"
	"github.com/opensource-finance/caretrust/internal/domain"
	"github.com/opensource-finance/caretrust/internal/observability"
)

// ErrNoTenants is returned when Start is given nothing to follow.
var ErrNoTenants = errors.New("worker needs at least one tenant")

// Topics that trigger a recompute.
var triggers = []string{
	domain.TopicActivityLogged,
	domain.TopicTestimonySubmitted,
	domain.TopicScoreRequested,
}

// Scorer is the slice of the pipeline the worker drives.
type Scorer interface {
	Score(ctx context.Context, tenantID, subjectID string) (*domain.ScoreResult, error)
	AssessRisk(ctx context.Context, tenantID, subjectID string) (domain.RiskAssessment, error)
}

// Worker consumes evidence events and keeps scores and risk current.
type Worker struct {
	bus     domain.EventBus
	scorer  Scorer
	metrics *observability.Metrics

	mu            sync.Mutex
	subscriptions []domain.Subscription
	processed     int64
	failed        int64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorker creates a worker. metrics may be nil.
func NewWorker(b domain.EventBus, scorer Scorer, metrics *observability.Metrics) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     b,
		scorer:  scorer,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to the trigger topics of every tenant.
func (w *Worker) Start(tenants []string) error {
	if len(tenants) == 0 {
		return ErrNoTenants
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, tenantID := range tenants {
		for _, topic := range triggers {
			sub, err := w.bus.Subscribe(w.ctx, tenantID, topic, w.handle)
			if err != nil {
				return fmt.Errorf("failed to subscribe %s for tenant %s: %w", topic, tenantID, err)
			}
			w.subscriptions = append(w.subscriptions, sub)
		}
		slog.Info("tenant worker started", "tenant_id", tenantID, "topics", triggers)
	}
	return nil
}

func (w *Worker) handle(ctx context.Context, msg *domain.Message) error {
	err := w.process(ctx, msg)

	w.mu.Lock()
	w.processed++
	if err != nil {
		w.failed++
	}
	w.mu.Unlock()
	return err
}

// process recomputes the subject's score, then its risk, and publishes both.
func (w *Worker) process(ctx context.Context, msg *domain.Message) error {
	start := time.Now()
	evt, err := bus.DecodeEvent(msg)
	if err != nil {
		return err
	}
	tenantID := msg.TenantID

	result, err := w.scorer.Score(ctx, tenantID, evt.SubjectID)
	if err != nil {
		return fmt.Errorf("recompute %s after %s: %w", evt.SubjectID, msg.Topic, err)
	}

	assessment, err := w.scorer.AssessRisk(ctx, tenantID, evt.SubjectID)
	if err != nil {
		return fmt.Errorf("risk assessment %s: %w", evt.SubjectID, err)
	}

	payload, err := json.Marshal(assessment)
	if err != nil {
		return fmt.Errorf("failed to encode risk assessment: %w", err)
	}
	if err := w.bus.Publish(ctx, tenantID, domain.TopicRiskAssessed, payload); err != nil {
		w.metrics.PublishFailed(domain.TopicRiskAssessed)
		slog.Error("failed to publish risk assessment", "subject_id", evt.SubjectID, "error", err)
	}

	for _, a := range assessment.Alerts {
		if a.Severity != domain.SeverityHigh {
			continue
		}
		alert := domain.SubjectEvent{SubjectID: evt.SubjectID, Score: result.TotalScore, Reason: "risk_" + a.Factor}
		if err := bus.PublishEvent(ctx, w.bus, tenantID, domain.TopicAlert, alert); err != nil {
			w.metrics.PublishFailed(domain.TopicAlert)
			slog.Error("failed to publish risk alert", "subject_id", evt.SubjectID, "factor", a.Factor, "error", err)
		}
	}

	slog.Info("subject refreshed",
		"tenant_id", tenantID,
		"subject_id", evt.SubjectID,
		"trigger", msg.Topic,
		"score", result.TotalScore,
		"risk_level", assessment.Level,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop cancels every subscription.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	w.subscriptions = nil
	slog.Info("workers stopped")
	return nil
}

// Stats reports worker activity.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed,
		Failed:            w.failed,
	}
}
