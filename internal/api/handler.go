package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/caretrust/internal/domain"
	"github.com/opensource-finance/caretrust/internal/pipeline"
	"github.com/opensource-finance/caretrust/internal/repository"
)

// maxBatch caps subjects per batch request.
const maxBatch = 500

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *pipeline.Service
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler. cache and bus may be nil.
func NewHandler(svc *pipeline.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		svc:     svc,
		repo:    repo,
		cache:   cache,
		bus:     bus,
		version: version,
	}
}

// Health reports collaborator health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := "healthy"
	probe := func(name string, ping func() error) {
		if err := ping(); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}

	ctx := r.Context()
	probe("repository", func() error { return h.repo.Ping(ctx) })
	if h.cache != nil {
		probe("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		probe("eventBus", func() error { return h.bus.Ping(ctx) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"version":       h.version,
		"configVersion": h.svc.Config().Version,
		"checks":        checks,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

// CategoryView is the public shape of a scoring category.
type CategoryView struct {
	Name     string   `json:"name"`
	Weight   float64  `json:"weight"`
	Features []string `json:"features"`
}

// ConfigView is the public shape of the active scoring configuration.
type ConfigView struct {
	Version       string             `json:"version"`
	ValidityHours float64            `json:"validityHours"`
	Categories    []CategoryView     `json:"categories"`
	Penalties     []string           `json:"penalties"`
	Bands         []domain.RiskBand  `json:"bands"`
	VerifierTrust map[string]float64 `json:"verifierTrust"`
}

// Config describes the scoring regime in force.
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	cfg := h.svc.Config()
	view := ConfigView{
		Version:       cfg.Version,
		ValidityHours: cfg.Validity.Hours(),
		Bands:         cfg.Bands,
		VerifierTrust: cfg.VerifierTrust,
	}
	for _, c := range cfg.Categories {
		cv := CategoryView{Name: c.Name, Weight: c.Weight}
		for _, f := range c.Features {
			cv.Features = append(cv.Features, f.Spec().Name)
		}
		view.Categories = append(view.Categories, cv)
	}
	for _, p := range cfg.Penalties {
		view.Penalties = append(view.Penalties, p.Name)
	}
	writeJSON(w, http.StatusOK, view)
}

// PutProfile handles PUT /subjects/{id}/profile.
func (h *Handler) PutProfile(w http.ResponseWriter, r *http.Request) {
	var p domain.CaregiverProfile
	if !decode(w, r, &p) {
		return
	}
	p.SubjectID = chi.URLParam(r, "id")

	if err := h.svc.SaveProfile(r.Context(), GetTenantID(r.Context()), &p); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ActivityResponse is returned after logging an activity.
type ActivityResponse struct {
	Activity   *domain.ActivityRecord `json:"activity"`
	Assessment domain.FraudAssessment `json:"assessment"`
}

// LogActivity handles POST /subjects/{id}/activities.
func (h *Handler) LogActivity(w http.ResponseWriter, r *http.Request) {
	var a domain.ActivityRecord
	if !decode(w, r, &a) {
		return
	}
	a.SubjectID = chi.URLParam(r, "id")

	rec, assessment, err := h.svc.LogActivity(r.Context(), GetTenantID(r.Context()), &a)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ActivityResponse{Activity: rec, Assessment: assessment})
}

// TestimonyResponse is returned after submitting a testimony.
type TestimonyResponse struct {
	Testimony  *domain.TestimonyRecord    `json:"testimony"`
	Assessment domain.TestimonyAssessment `json:"assessment"`
}

// SubmitTestimony handles POST /subjects/{id}/testimonies.
func (h *Handler) SubmitTestimony(w http.ResponseWriter, r *http.Request) {
	var t domain.TestimonyRecord
	if !decode(w, r, &t) {
		return
	}
	t.SubjectID = chi.URLParam(r, "id")

	rec, assessment, err := h.svc.SubmitTestimony(r.Context(), GetTenantID(r.Context()), &t)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, TestimonyResponse{Testimony: rec, Assessment: assessment})
}

// ComputeScore handles POST /subjects/{id}/score and always recomputes.
// With ?async=true the recompute is queued for the worker instead.
func (h *Handler) ComputeScore(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("async") == "true" {
		subjectID := chi.URLParam(r, "id")
		if err := h.svc.RequestScore(r.Context(), GetTenantID(r.Context()), subjectID); err != nil {
			if errors.Is(err, pipeline.ErrNoBus) {
				writeError(w, http.StatusServiceUnavailable, "async scoring is not available")
				return
			}
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"subjectId": subjectID, "status": "queued"})
		return
	}

	result, err := h.svc.Score(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetScore handles GET /subjects/{id}/score.
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.CurrentScore(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetHistory handles GET /subjects/{id}/history?limit=n.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	subjectID := chi.URLParam(r, "id")
	scores, err := h.svc.History(r.Context(), GetTenantID(r.Context()), subjectID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	snapshots := make([]domain.ScoreSnapshot, 0, len(scores))
	for _, s := range scores {
		snapshots = append(snapshots, domain.ScoreSnapshot{Score: s.TotalScore, At: s.CalculatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subjectId": subjectID,
		"entries":   snapshots,
		"count":     len(snapshots),
	})
}

// GetExplanation handles GET /subjects/{id}/explanation.
func (h *Handler) GetExplanation(w http.ResponseWriter, r *http.Request) {
	ex, err := h.svc.Explain(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

// GetRisk handles GET /subjects/{id}/risk.
func (h *Handler) GetRisk(w http.ResponseWriter, r *http.Request) {
	ra, err := h.svc.AssessRisk(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ra)
}

// ListSubjects handles GET /subjects.
func (h *Handler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	ids, err := h.repo.ListSubjects(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subjects": ids,
		"count":    len(ids),
	})
}

// GetActivity handles GET /activities/{activityId}.
func (h *Handler) GetActivity(w http.ResponseWriter, r *http.Request) {
	a, err := h.repo.GetActivity(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "activityId"))
	if err != nil {
		if repository.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "activity not found")
			return
		}
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// BatchRequest is the body of POST /scores/batch.
type BatchRequest struct {
	SubjectIDs []string `json:"subjectIds"`
}

// ScoreBatch handles POST /scores/batch.
func (h *Handler) ScoreBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.SubjectIDs) == 0 {
		writeError(w, http.StatusBadRequest, "subjectIds is required")
		return
	}
	if len(req.SubjectIDs) > maxBatch {
		writeError(w, http.StatusBadRequest, "too many subjects in one batch")
		return
	}

	results, err := h.svc.ScoreMany(r.Context(), GetTenantID(r.Context()), req.SubjectIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	failed := 0
	for _, res := range results {
		if res.Error != "" {
			failed++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
		"failed":  failed,
	})
}

// CheckFraud handles POST /fraud/check. The record is assessed against
// the subject's history but not stored.
func (h *Handler) CheckFraud(w http.ResponseWriter, r *http.Request) {
	var a domain.ActivityRecord
	if !decode(w, r, &a) {
		return
	}
	assessment, err := h.svc.CheckActivity(r.Context(), GetTenantID(r.Context()), &a)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

// fail maps pipeline and storage errors onto HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pipeline.ErrInvalidRecord), errors.Is(err, repository.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case repository.IsNotFound(err):
		writeError(w, http.StatusNotFound, "subject not found")
	default:
		slog.Error("request failed",
			"path", r.URL.Path,
			"tenant_id", GetTenantID(r.Context()),
			"trace_id", GetTraceID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
