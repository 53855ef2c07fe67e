package models

import "time"

// SubmissionOutcome classifies a single delivery attempt.
type SubmissionOutcome string

const (
	OutcomeSuccess     SubmissionOutcome = "SUCCESS"
	OutcomeFailed      SubmissionOutcome = "FAILED"
	OutcomeRetryQueued SubmissionOutcome = "RETRY_QUEUED"
)

// SubmissionAttempt is one entry in the append-only delivery log of a record.
// Attempts are never deleted; they drive retry scheduling and prove delivery.
type SubmissionAttempt struct {
	ID             string            `db:"id" json:"id"`
	RecordID       string            `db:"record_id" json:"record_id"`
	AggregatorID   string            `db:"aggregator_id" json:"aggregator_id"`
	ContentHash    string            `db:"content_hash" json:"content_hash"`
	AttemptNumber  int               `db:"attempt_number" json:"attempt_number"`
	Outcome        SubmissionOutcome `db:"outcome" json:"outcome"`
	ConfirmationID *string           `db:"confirmation_id" json:"confirmation_id,omitempty"`
	FailureReason  *string           `db:"failure_reason" json:"failure_reason,omitempty"`
	AttemptedAt    time.Time         `db:"attempted_at" json:"attempted_at"`
}
