package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/caretrust/internal/domain"
)

// SaveScore appends a result to the subject's score history. A result
// with the same ID (identical inputs) replaces the earlier row.
func (r *SQLRepository) SaveScore(ctx context.Context, tenantID string, s *domain.ScoreResult) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if s.ID == "" || s.SubjectID == "" {
		return fmt.Errorf("%w: score id and subjectID are required", ErrInvalidInput)
	}

	result, err := encodeJSON(s)
	if err != nil {
		return fmt.Errorf("failed to encode score result: %w", err)
	}

	query := `
		INSERT INTO score_history (
			id, tenant_id, subject_id, total_score, band, config_version, calculated_at, result
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			calculated_at = excluded.calculated_at,
			result = excluded.result
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		s.ID, tenantID, s.SubjectID, s.TotalScore, s.Band.Name, s.ConfigVersion,
		s.CalculatedAt.UTC(), result,
	)
	return err
}

// LatestScore returns the subject's most recently calculated score.
func (r *SQLRepository) LatestScore(ctx context.Context, tenantID string, subjectID string) (*domain.ScoreResult, error) {
	scores, err := r.ListScores(ctx, tenantID, subjectID, 1)
	if err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return nil, ErrNotFound
	}
	return scores[0], nil
}

// ListScores returns up to limit of the subject's most recent scores,
// oldest first.
func (r *SQLRepository) ListScores(ctx context.Context, tenantID string, subjectID string, limit int) ([]*domain.ScoreResult, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query, extra := newest(`SELECT result FROM score_history WHERE tenant_id = ? AND subject_id = ?`, "calculated_at", limit)
	rows, err := r.db.QueryContext(ctx, r.rebind(query), append([]any{tenantID, subjectID}, extra...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scores := []*domain.ScoreResult{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var s domain.ScoreResult
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			return nil, fmt.Errorf("failed to parse score result: %w", err)
		}
		scores = append(scores, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(scores)
	return scores, nil
}

var _ domain.Repository = (*SQLRepository)(nil)

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}
