// Package pipeline runs caretrust operations end to end: it loads bounded
// snapshots from the repository, hands them to the pure scoring, fraud,
// risk and explanation engines, then persists, caches and publishes the
// outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/caretrust/internal/bus"
	"github.com/opensource-finance/caretrust/internal/domain"
	"github.com/opensource-finance/caretrust/internal/explain"
	"github.com/opensource-finance/caretrust/internal/fraud"
	"github.com/opensource-finance/caretrust/internal/observability"
	"github.com/opensource-finance/caretrust/internal/risk"
	"github.com/opensource-finance/caretrust/internal/scorecfg"
	"github.com/opensource-finance/caretrust/internal/scoring"
)

var (
	// ErrInvalidRecord is returned when a submitted record breaks a precondition.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrNoRepository is returned when the service is built without storage.
	ErrNoRepository = errors.New("pipeline requires a repository")

	// ErrNoBus is returned by operations that only make sense with an event bus.
	ErrNoBus = errors.New("pipeline has no event bus")
)

// Tenant-wide testimony window fed to collusion detection.
const (
	networkWindow = 90 * 24 * time.Hour
	networkLimit  = 5000
)

var tracer = otel.Tracer("caretrust-pipeline")

// Service wires the engines to storage, cache and the event bus.
// Cache and bus are optional.
type Service struct {
	cfg    *scorecfg.Configuration
	bounds domain.ScoringConfig

	repo  domain.Repository
	cache domain.Cache
	bus   domain.EventBus

	scorer       *scoring.Engine
	detector     *fraud.Detector
	collusion    *fraud.CollusionDetector
	authenticity *fraud.AuthenticityChecker
	risk         *risk.Engine
	explainer    *explain.Generator

	metrics *observability.Metrics
	now     func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithCache caches computed scores for their validity window.
func WithCache(c domain.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithBus publishes pipeline events.
func WithBus(b domain.EventBus) Option {
	return func(s *Service) { s.bus = b }
}

// WithMetrics records pipeline metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithBounds overrides the snapshot bounds.
func WithBounds(b domain.ScoringConfig) Option {
	return func(s *Service) { s.bounds = b }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New builds a Service for one scoring configuration.
func New(cfg *scorecfg.Configuration, repo domain.Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, ErrNoRepository
	}
	s := &Service{
		cfg:    cfg,
		bounds: domain.DefaultConfig().Scoring,
		repo:   repo,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.scorer, err = scoring.NewEngine(cfg); err != nil {
		return nil, err
	}
	if s.detector, err = fraud.NewDetector(cfg); err != nil {
		return nil, err
	}
	if s.collusion, err = fraud.NewCollusionDetector(cfg); err != nil {
		return nil, err
	}
	if s.authenticity, err = fraud.NewAuthenticityChecker(cfg); err != nil {
		return nil, err
	}
	if s.risk, err = risk.NewEngine(cfg); err != nil {
		return nil, err
	}
	if s.explainer, err = explain.NewGenerator(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// Config returns the scoring configuration the service runs under.
func (s *Service) Config() *scorecfg.Configuration {
	return s.cfg
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// publish sends an event; failures are logged and counted, never returned.
func (s *Service) publish(ctx context.Context, tenantID, topic string, evt domain.SubjectEvent) {
	if s.bus == nil {
		return
	}
	if err := bus.PublishEvent(ctx, s.bus, tenantID, topic, evt); err != nil {
		s.metrics.PublishFailed(topic)
		slog.Error("failed to publish event",
			"topic", topic,
			"tenant_id", tenantID,
			"subject_id", evt.SubjectID,
			"error", err,
		)
	}
}

func (s *Service) invalidate(ctx context.Context, tenantID, subjectID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateScore(ctx, tenantID, subjectID); err != nil {
		slog.Warn("failed to invalidate cached score", "tenant_id", tenantID, "subject_id", subjectID, "error", err)
	}
}

func startSpan(ctx context.Context, name, tenantID, subjectID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("subject.id", subjectID),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecord, fmt.Sprintf(format, args...))
}
