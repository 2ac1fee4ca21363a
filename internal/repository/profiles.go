package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/caretrust/internal/domain"
)

// SaveProfile inserts or replaces a subject's profile.
func (r *SQLRepository) SaveProfile(ctx context.Context, tenantID string, p *domain.CaregiverProfile) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if p.SubjectID == "" {
		return fmt.Errorf("%w: subjectID is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if p.JoinedAt.IsZero() {
		p.JoinedAt = now
	}
	p.JoinedAt = p.JoinedAt.UTC()
	p.UpdatedAt = now

	data, err := encodeJSON(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	// joined_at keeps its first value across updates
	query := `
		INSERT INTO profiles (tenant_id, subject_id, data, joined_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, subject_id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query), tenantID, p.SubjectID, data, p.JoinedAt, p.UpdatedAt)
	return err
}

// GetProfile retrieves a subject's profile with tenant isolation.
func (r *SQLRepository) GetProfile(ctx context.Context, tenantID string, subjectID string) (*domain.CaregiverProfile, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT data, joined_at FROM profiles WHERE tenant_id = ? AND subject_id = ?`

	var data string
	var joined time.Time
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, subjectID).Scan(&data, &joined)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var p domain.CaregiverProfile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", subjectID, err)
	}
	p.JoinedAt = joined.UTC()
	return &p, nil
}

// ListSubjects returns the subject IDs with a stored profile.
func (r *SQLRepository) ListSubjects(ctx context.Context, tenantID string) ([]string, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(`SELECT subject_id FROM profiles WHERE tenant_id = ? ORDER BY subject_id`), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subjects := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		subjects = append(subjects, id)
	}
	return subjects, rows.Err()
}
