package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/carebridge-health/evv-engine/internal/aggregator"
	"github.com/carebridge-health/evv-engine/internal/models"
	"github.com/carebridge-health/evv-engine/internal/rules"
	"github.com/carebridge-health/evv-engine/pkg/config"
	appErrors "github.com/carebridge-health/evv-engine/pkg/errors"
	"github.com/carebridge-health/evv-engine/pkg/jobs"
)

type submissionAttemptStore interface {
	CreateAttempt(ctx context.Context, attempt *models.SubmissionAttempt) error
	ListByRecord(ctx context.Context, recordID string) ([]models.SubmissionAttempt, error)
	CountByRecord(ctx context.Context, recordID string) (int, error)
	FindSuccessByHash(ctx context.Context, recordID, contentHash string) (*models.SubmissionAttempt, error)
}

type submissionRecordStore interface {
	GetByID(ctx context.Context, id string) (*models.EVVRecord, error)
	UpdateSubmissionState(ctx context.Context, id string, status models.SubmissionStatus, confirmationID *string) error
}

// idempotencyStore caches content-hash → confirmation id claims.
type idempotencyStore interface {
	GetString(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// SubmissionService delivers COMPLETE records to state aggregators through a
// retrying worker queue. Every attempt lands in the append-only log; the
// content hash makes redelivery of identical payloads a no-op.
type SubmissionService struct {
	attempts submissionAttemptStore
	records  submissionRecordStore
	rules    ruleResolver
	client   aggregator.Client
	cache    idempotencyStore
	audit    auditWriter
	cfg      config.SubmissionConfig
	queue    *jobs.Queue
	logger   *zap.Logger
}

// SubmissionServiceDeps wires the service's collaborators.
type SubmissionServiceDeps struct {
	Attempts submissionAttemptStore
	Records  submissionRecordStore
	Rules    ruleResolver
	Client   aggregator.Client
	Cache    idempotencyStore
	Audit    auditWriter
	Config   config.SubmissionConfig
	Logger   *zap.Logger
}

// NewSubmissionService constructs the service and its delivery queue.
func NewSubmissionService(deps SubmissionServiceDeps) *SubmissionService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &SubmissionService{
		attempts: deps.Attempts,
		records:  deps.Records,
		rules:    deps.Rules,
		client:   deps.Client,
		cache:    deps.Cache,
		audit:    deps.Audit,
		cfg:      deps.Config,
		logger:   deps.Logger,
	}
	maxRetries := deps.Config.MaxAttempts - 1
	if maxRetries < 1 {
		maxRetries = 1
	}
	s.queue = jobs.NewQueue("submission", s.deliver, jobs.QueueConfig{
		Workers:     deps.Config.WorkerConcurrency,
		MaxRetries:  maxRetries,
		Backoff:     jobs.ExponentialBackoff(deps.Config.BackoffBase),
		OnExhausted: s.onExhausted,
		Logger:      deps.Logger,
	})
	return s
}

// Start launches the delivery workers.
func (s *SubmissionService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *SubmissionService) Stop() {
	s.queue.Stop()
}

// EnqueueRecord queues a record for delivery. Implements recordSubmitter.
func (s *SubmissionService) EnqueueRecord(ctx context.Context, record *models.EVVRecord) error {
	if err := s.records.UpdateSubmissionState(ctx, record.ID, models.SubmissionQueued, nil); err != nil {
		return err
	}
	record.SubmissionStatus = models.SubmissionQueued
	return s.queue.Enqueue(jobs.Job{ID: record.ID, Type: "submit_record", Payload: record.ID})
}

// CancelPending withdraws a scheduled retry. Implements retryCanceller.
func (s *SubmissionService) CancelPending(recordID string) bool {
	return s.queue.Cancel(recordID)
}

// Retry re-queues a failed submission on operator request.
func (s *SubmissionService) Retry(ctx context.Context, recordID string, actor Actor) (*models.EVVRecord, error) {
	record, err := s.records.GetByID(ctx, recordID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.WithDetails(appErrors.ErrNotFound, "record not found")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load record")
	}
	if record.OrgID != actor.OrgID {
		return nil, appErrors.ErrForbidden
	}
	if record.Superseded {
		return nil, appErrors.ErrRecordSuperseded
	}
	if record.RecordStatus != models.RecordComplete {
		return nil, appErrors.WithDetails(appErrors.ErrInvalidTransition, "only COMPLETE records can be submitted")
	}
	if record.SubmissionStatus == models.SubmissionSubmitted {
		return nil, appErrors.WithDetails(appErrors.ErrInvalidTransition, "record is already submitted")
	}

	count, err := s.attempts.CountByRecord(ctx, recordID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count attempts")
	}
	queuedAttempt := &models.SubmissionAttempt{
		RecordID:      recordID,
		AggregatorID:  s.aggregatorFor(record),
		AttemptNumber: count + 1,
		Outcome:       models.OutcomeRetryQueued,
	}
	if err := s.attempts.CreateAttempt(ctx, queuedAttempt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to log retry")
	}
	if err := s.EnqueueRecord(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue record")
	}

	if s.audit != nil {
		userID := actor.UserID
		rid := recordID
		_ = s.audit.Create(ctx, &models.AuditLog{
			OrgID:      actor.OrgID,
			UserID:     &userID,
			Action:     models.AuditActionSubmissionRetry,
			Resource:   "evv_record",
			ResourceID: &rid,
			IPAddress:  actor.IP,
			UserAgent:  actor.UserAgent,
		})
	}
	return record, nil
}

// ListAttempts returns a record's delivery history.
func (s *SubmissionService) ListAttempts(ctx context.Context, recordID string, actor Actor) ([]models.SubmissionAttempt, error) {
	record, err := s.records.GetByID(ctx, recordID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.WithDetails(appErrors.ErrNotFound, "record not found")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load record")
	}
	if record.OrgID != actor.OrgID {
		return nil, appErrors.ErrForbidden
	}
	return s.attempts.ListByRecord(ctx, recordID)
}

func (s *SubmissionService) aggregatorFor(record *models.EVVRecord) string {
	rs, _ := s.rules.Resolve(rules.Key{State: record.State, PayerType: record.PayerType, ServiceType: record.ServiceType})
	return rs.AggregatorID
}

// deliver is the queue handler for one attempt. A returned error schedules a
// backoff retry; nil ends the job.
func (s *SubmissionService) deliver(ctx context.Context, job jobs.Job) error {
	recordID, _ := job.Payload.(string)
	if recordID == "" {
		recordID = job.ID
	}

	record, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return fmt.Errorf("load record %s: %w", recordID, err)
	}
	if record.Superseded {
		s.logger.Sugar().Infow("skipping superseded record", "record_id", recordID)
		return nil
	}

	payload, err := aggregator.BuildPayload(record)
	if err != nil {
		// Structurally unsubmittable; retrying cannot help.
		s.failTerminal(ctx, record, s.aggregatorFor(record), 0, err.Error())
		return nil
	}
	body, hash, err := payload.Encode()
	if err != nil {
		s.failTerminal(ctx, record, s.aggregatorFor(record), 0, err.Error())
		return nil
	}

	aggregatorID := s.aggregatorFor(record)
	if aggregatorID == rules.AggregatorStrict || aggregatorID == "" {
		// Unknown jurisdiction fail-closed: never deliver to a guessed
		// endpoint. An operator must map the jurisdiction and retry.
		s.failTerminal(ctx, record, aggregatorID, 0, appErrors.ErrAggregatorConfig.Message)
		return nil
	}

	if conf, ok := s.priorConfirmation(ctx, record.ID, hash); ok {
		s.logger.Sugar().Infow("submission already confirmed, skipping delivery",
			"record_id", record.ID, "confirmation_id", conf)
		return s.records.UpdateSubmissionState(ctx, record.ID, models.SubmissionSubmitted, &conf)
	}

	count, err := s.attempts.CountByRecord(ctx, record.ID)
	if err != nil {
		return fmt.Errorf("count attempts: %w", err)
	}
	attemptNumber := count + 1

	confirmationID, submitErr := s.client.Submit(ctx, aggregatorID, body)
	if submitErr != nil {
		reason := submitErr.Error()
		s.logAttempt(ctx, record.ID, aggregatorID, hash, attemptNumber, models.OutcomeFailed, nil, &reason)
		return fmt.Errorf("submit record %s: %w", record.ID, submitErr)
	}

	s.logAttempt(ctx, record.ID, aggregatorID, hash, attemptNumber, models.OutcomeSuccess, &confirmationID, nil)
	if s.cache != nil {
		if err := s.cache.Set(ctx, idempotencyKey(record.ID, hash), confirmationID, s.cfg.IdempotencyTTL); err != nil {
			s.logger.Sugar().Warnw("failed to cache confirmation", "record_id", record.ID, "error", err)
		}
	}
	if err := s.records.UpdateSubmissionState(ctx, record.ID, models.SubmissionSubmitted, &confirmationID); err != nil {
		return fmt.Errorf("mark record submitted: %w", err)
	}
	s.logger.Sugar().Infow("record submitted",
		"record_id", record.ID, "aggregator", aggregatorID, "confirmation_id", confirmationID, "attempt", attemptNumber)
	return nil
}

// priorConfirmation checks the idempotency cache, then the attempt log, for a
// successful delivery of this exact content.
func (s *SubmissionService) priorConfirmation(ctx context.Context, recordID, hash string) (string, bool) {
	if s.cache != nil {
		if conf, err := s.cache.GetString(ctx, idempotencyKey(recordID, hash)); err == nil && conf != "" {
			return conf, true
		}
	}
	attempt, err := s.attempts.FindSuccessByHash(ctx, recordID, hash)
	if err == nil && attempt.ConfirmationID != nil {
		return *attempt.ConfirmationID, true
	}
	return "", false
}

func (s *SubmissionService) onExhausted(job jobs.Job, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	recordID, _ := job.Payload.(string)
	if recordID == "" {
		recordID = job.ID
	}
	s.logger.Sugar().Errorw("submission retries exhausted", "record_id", recordID, "error", err)
	if updateErr := s.records.UpdateSubmissionState(ctx, recordID, models.SubmissionFailed, nil); updateErr != nil {
		s.logger.Sugar().Errorw("failed to mark record FAILED", "record_id", recordID, "error", updateErr)
	}
}

func (s *SubmissionService) failTerminal(ctx context.Context, record *models.EVVRecord, aggregatorID string, attemptNumber int, reason string) {
	if attemptNumber == 0 {
		count, err := s.attempts.CountByRecord(ctx, record.ID)
		if err == nil {
			attemptNumber = count + 1
		} else {
			attemptNumber = 1
		}
	}
	s.logAttempt(ctx, record.ID, aggregatorID, "", attemptNumber, models.OutcomeFailed, nil, &reason)
	if err := s.records.UpdateSubmissionState(ctx, record.ID, models.SubmissionFailed, nil); err != nil {
		s.logger.Sugar().Errorw("failed to mark record FAILED", "record_id", record.ID, "error", err)
	}
	s.logger.Sugar().Errorw("submission terminally failed", "record_id", record.ID, "reason", reason)
}

func (s *SubmissionService) logAttempt(ctx context.Context, recordID, aggregatorID, hash string, number int, outcome models.SubmissionOutcome, confirmationID, reason *string) {
	attempt := &models.SubmissionAttempt{
		RecordID:       recordID,
		AggregatorID:   aggregatorID,
		ContentHash:    hash,
		AttemptNumber:  number,
		Outcome:        outcome,
		ConfirmationID: confirmationID,
		FailureReason:  reason,
	}
	if err := s.attempts.CreateAttempt(ctx, attempt); err != nil {
		s.logger.Sugar().Errorw("failed to log submission attempt", "record_id", recordID, "error", err)
	}
}

func idempotencyKey(recordID, hash string) string {
	return "evv:submit:" + recordID + ":" + hash
}
