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

const activityColumns = `
	id, subject_id, type, subtype, description, estimated_hours, reported_hours,
	multiplier, location, verification_status, anomaly_flags, anomaly_score,
	performed_at, logged_at`

// SaveActivity stores an activity record. Saving an existing ID updates
// its verification status and anomaly annotation.
func (r *SQLRepository) SaveActivity(ctx context.Context, tenantID string, a *domain.ActivityRecord) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if a.ID == "" || a.SubjectID == "" {
		return fmt.Errorf("%w: activity id and subjectID are required", ErrInvalidInput)
	}

	flags := a.AnomalyFlags
	if flags == nil {
		flags = []string{}
	}
	flagsJSON, err := encodeJSON(flags)
	if err != nil {
		return fmt.Errorf("failed to encode anomaly flags: %w", err)
	}
	status := a.VerificationStatus
	if status == "" {
		status = domain.StatusPending
	}

	query := `
		INSERT INTO activities (tenant_id,` + activityColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			verification_status = excluded.verification_status,
			anomaly_flags = excluded.anomaly_flags,
			anomaly_score = excluded.anomaly_score
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		tenantID, a.ID, a.SubjectID, a.Type, a.Subtype, a.Description,
		a.EstimatedHours, a.ReportedHours, a.Multiplier, a.Location,
		string(status), flagsJSON, a.AnomalyScore,
		a.PerformedAt.UTC(), a.LoggedAt.UTC(),
	)
	return err
}

// GetActivity retrieves an activity by ID with tenant isolation.
func (r *SQLRepository) GetActivity(ctx context.Context, tenantID string, activityID string) (*domain.ActivityRecord, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + activityColumns + ` FROM activities WHERE tenant_id = ? AND id = ?`
	a, err := scanActivity(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, activityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// ListActivities returns up to limit of a subject's most recent activities
// performed at or after since, oldest first. A limit of zero means no limit.
func (r *SQLRepository) ListActivities(ctx context.Context, tenantID string, subjectID string, since time.Time, limit int) ([]*domain.ActivityRecord, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query, extra := newest(`SELECT `+activityColumns+` FROM activities
		WHERE tenant_id = ? AND subject_id = ? AND performed_at >= ?`, "performed_at", limit)
	args := append([]any{tenantID, subjectID, since.UTC()}, extra...)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	activities := []*domain.ActivityRecord{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(activities)
	return activities, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanActivity(s scanner) (*domain.ActivityRecord, error) {
	var a domain.ActivityRecord
	var subtype, description, location sql.NullString
	var status, flags string

	if err := s.Scan(
		&a.ID, &a.SubjectID, &a.Type, &subtype, &description,
		&a.EstimatedHours, &a.ReportedHours, &a.Multiplier, &location,
		&status, &flags, &a.AnomalyScore,
		&a.PerformedAt, &a.LoggedAt,
	); err != nil {
		return nil, err
	}

	a.Subtype = subtype.String
	a.Description = description.String
	a.Location = location.String
	a.VerificationStatus = domain.VerificationStatus(status)
	a.PerformedAt = a.PerformedAt.UTC()
	a.LoggedAt = a.LoggedAt.UTC()
	if err := json.Unmarshal([]byte(flags), &a.AnomalyFlags); err != nil {
		return nil, fmt.Errorf("failed to parse anomaly flags for %s: %w", a.ID, err)
	}
	if len(a.AnomalyFlags) == 0 {
		a.AnomalyFlags = nil
	}
	return &a, nil
}
