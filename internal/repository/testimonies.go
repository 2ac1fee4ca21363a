package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/caretrust/internal/domain"
)

const testimonyColumns = `
	id, subject_id, verifier_id, verifier_type, activity_id, text, ratings,
	trust_weight, authenticity, collusion_flags, submitted_at`

// SaveTestimony stores a testimony. Saving an existing ID updates its
// authenticity and collusion annotation.
func (r *SQLRepository) SaveTestimony(ctx context.Context, tenantID string, t *domain.TestimonyRecord) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if t.ID == "" || t.SubjectID == "" || t.VerifierID == "" {
		return fmt.Errorf("%w: testimony id, subjectID and verifierID are required", ErrInvalidInput)
	}

	ratings := t.Ratings
	if ratings == nil {
		ratings = map[string]int{}
	}
	ratingsJSON, err := encodeJSON(ratings)
	if err != nil {
		return fmt.Errorf("failed to encode ratings: %w", err)
	}
	flags := t.CollusionFlags
	if flags == nil {
		flags = []string{}
	}
	flagsJSON, err := encodeJSON(flags)
	if err != nil {
		return fmt.Errorf("failed to encode collusion flags: %w", err)
	}

	query := `
		INSERT INTO testimonies (tenant_id,` + testimonyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			authenticity = excluded.authenticity,
			collusion_flags = excluded.collusion_flags
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		tenantID, t.ID, t.SubjectID, t.VerifierID, t.VerifierType, t.ActivityID, t.Text,
		ratingsJSON, t.TrustWeight, t.Authenticity, flagsJSON, t.SubmittedAt.UTC(),
	)
	return err
}

// ListTestimonies returns up to limit of a subject's most recent
// testimonies, oldest first.
func (r *SQLRepository) ListTestimonies(ctx context.Context, tenantID string, subjectID string, limit int) ([]*domain.TestimonyRecord, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	query, extra := newest(`SELECT `+testimonyColumns+` FROM testimonies
		WHERE tenant_id = ? AND subject_id = ?`, "submitted_at", limit)
	return r.queryTestimonies(ctx, query, append([]any{tenantID, subjectID}, extra...)...)
}

// ListTestimoniesSince returns up to limit of the tenant's most recent
// testimonies submitted at or after since, oldest first. Collusion
// detection reads the whole verification graph through this.
func (r *SQLRepository) ListTestimoniesSince(ctx context.Context, tenantID string, since time.Time, limit int) ([]*domain.TestimonyRecord, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	query, extra := newest(`SELECT `+testimonyColumns+` FROM testimonies
		WHERE tenant_id = ? AND submitted_at >= ?`, "submitted_at", limit)
	return r.queryTestimonies(ctx, query, append([]any{tenantID, since.UTC()}, extra...)...)
}

func (r *SQLRepository) queryTestimonies(ctx context.Context, query string, args ...any) ([]*domain.TestimonyRecord, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	testimonies := []*domain.TestimonyRecord{}
	for rows.Next() {
		var t domain.TestimonyRecord
		var activityID, text sql.NullString
		var ratings, flags string

		if err := rows.Scan(
			&t.ID, &t.SubjectID, &t.VerifierID, &t.VerifierType, &activityID, &text, &ratings,
			&t.TrustWeight, &t.Authenticity, &flags, &t.SubmittedAt,
		); err != nil {
			return nil, err
		}

		t.ActivityID = activityID.String
		t.Text = text.String
		t.SubmittedAt = t.SubmittedAt.UTC()
		if err := json.Unmarshal([]byte(ratings), &t.Ratings); err != nil {
			return nil, fmt.Errorf("failed to parse ratings for %s: %w", t.ID, err)
		}
		if err := json.Unmarshal([]byte(flags), &t.CollusionFlags); err != nil {
			return nil, fmt.Errorf("failed to parse collusion flags for %s: %w", t.ID, err)
		}
		if len(t.CollusionFlags) == 0 {
			t.CollusionFlags = nil
		}
		testimonies = append(testimonies, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(testimonies)
	return testimonies, nil
}
