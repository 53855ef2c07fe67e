package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/carebridge-health/evv-engine/internal/models"
)

// SubmissionRepository persists the append-only submission attempt log.
type SubmissionRepository struct {
	db *sqlx.DB
}

// NewSubmissionRepository constructs the repository.
func NewSubmissionRepository(db *sqlx.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

const attemptColumns = `id, record_id, aggregator_id, content_hash, attempt_number, outcome, confirmation_id, failure_reason, attempted_at`

// CreateAttempt appends one attempt row. Attempts are never updated or deleted.
func (r *SubmissionRepository) CreateAttempt(ctx context.Context, attempt *models.SubmissionAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now().UTC()
	}
	const query = `INSERT INTO submission_attempts
	(id, record_id, aggregator_id, content_hash, attempt_number, outcome, confirmation_id, failure_reason, attempted_at)
	VALUES (:id, :record_id, :aggregator_id, :content_hash, :attempt_number, :outcome, :confirmation_id, :failure_reason, :attempted_at)`
	if _, err := r.db.NamedExecContext(ctx, query, attempt); err != nil {
		return fmt.Errorf("create submission attempt: %w", err)
	}
	return nil
}

// ListByRecord returns a record's attempt history, oldest first.
func (r *SubmissionRepository) ListByRecord(ctx context.Context, recordID string) ([]models.SubmissionAttempt, error) {
	query := fmt.Sprintf(`SELECT %s FROM submission_attempts WHERE record_id = $1 ORDER BY attempted_at ASC`, attemptColumns)
	var attempts []models.SubmissionAttempt
	if err := r.db.SelectContext(ctx, &attempts, query, recordID); err != nil {
		return nil, fmt.Errorf("list attempts for record %s: %w", recordID, err)
	}
	return attempts, nil
}

// CountByRecord returns how many attempts a record has accumulated.
func (r *SubmissionRepository) CountByRecord(ctx context.Context, recordID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM submission_attempts WHERE record_id = $1`, recordID); err != nil {
		return 0, fmt.Errorf("count attempts for record %s: %w", recordID, err)
	}
	return count, nil
}

// FindSuccessByHash returns the successful attempt whose payload hash matches,
// if one exists. Used to short-circuit duplicate deliveries when the cache has
// expired.
func (r *SubmissionRepository) FindSuccessByHash(ctx context.Context, recordID, contentHash string) (*models.SubmissionAttempt, error) {
	query := fmt.Sprintf(`SELECT %s FROM submission_attempts
	WHERE record_id = $1 AND content_hash = $2 AND outcome = 'SUCCESS'
	ORDER BY attempted_at ASC LIMIT 1`, attemptColumns)
	var attempt models.SubmissionAttempt
	if err := r.db.GetContext(ctx, &attempt, query, recordID, contentHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find successful attempt: %w", err)
	}
	return &attempt, nil
}
