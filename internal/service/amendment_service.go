package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/carebridge-health/evv-engine/internal/dto"
	"github.com/carebridge-health/evv-engine/internal/models"
	appErrors "github.com/carebridge-health/evv-engine/pkg/errors"
)

type amendmentRecordStore interface {
	Create(ctx context.Context, record *models.EVVRecord) error
	GetByID(ctx context.Context, id string) (*models.EVVRecord, error)
	MarkSuperseded(ctx context.Context, id string, version int) error
}

// retryCanceller withdraws a pending delayed submission for a record.
type retryCanceller interface {
	CancelPending(recordID string) bool
}

// AmendmentService corrects COMPLETE records. The original row is never
// mutated beyond its superseded marker; the correction is a new record that
// points back via Supersedes and carries VMUR_AMENDMENT permanently.
type AmendmentService struct {
	records   amendmentRecordStore
	submitter recordSubmitter
	retries   retryCanceller
	audit     auditWriter
	logger    *zap.Logger
}

// NewAmendmentService constructs the service.
func NewAmendmentService(records amendmentRecordStore, submitter recordSubmitter, retries retryCanceller, audit auditWriter, logger *zap.Logger) *AmendmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AmendmentService{records: records, submitter: submitter, retries: retries, audit: audit, logger: logger}
}

// Amend supersedes a COMPLETE record with corrected clock times. The amended
// record re-enters the submission pipeline; any pending retry of the original
// is withdrawn so the aggregator never receives stale content after the fix.
func (s *AmendmentService) Amend(ctx context.Context, recordID string, actor Actor, req dto.AmendmentRequest) (*models.EVVRecord, error) {
	original, err := s.records.GetByID(ctx, recordID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.WithDetails(appErrors.ErrNotFound, "record not found")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load record")
	}
	if original.OrgID != actor.OrgID {
		return nil, appErrors.ErrForbidden
	}
	if original.Superseded {
		return nil, appErrors.ErrRecordSuperseded
	}
	if original.RecordStatus != models.RecordComplete {
		return nil, appErrors.WithDetails(appErrors.ErrInvalidTransition, "only COMPLETE records can be amended")
	}
	if !req.ClockOutAt.After(req.ClockInAt) {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "clock_out_at must be after clock_in_at")
	}

	if err := s.records.MarkSuperseded(ctx, original.ID, req.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrVersionConflict
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to supersede record")
	}
	if s.retries != nil {
		s.retries.CancelPending(original.ID)
	}

	amended := s.buildAmendment(original, req)
	if err := s.records.Create(ctx, amended); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create amendment")
	}

	if s.submitter != nil {
		if err := s.submitter.EnqueueRecord(ctx, amended); err != nil {
			s.logger.Sugar().Errorw("failed to enqueue amended record", "record_id", amended.ID, "error", err)
		}
	}

	s.writeAudit(ctx, actor, original, amended, req.Reason)
	return amended, nil
}

func (s *AmendmentService) buildAmendment(original *models.EVVRecord, req dto.AmendmentRequest) *models.EVVRecord {
	clockIn := req.ClockInAt.UTC()
	clockOut := req.ClockOutAt.UTC()
	mins := int(clockOut.Sub(clockIn).Minutes())
	supersedes := original.ID
	reason := req.Reason

	amended := *original
	amended.ID = ""
	amended.ClockInAt = &clockIn
	amended.ClockOutAt = &clockOut
	amended.TotalDurationMins = &mins
	amended.ComplianceFlags = mergeFlags(original.ComplianceFlags, []string{models.FlagVMURAmendment})
	amended.SubmittedToPayor = false
	amended.SubmissionStatus = models.SubmissionNotSubmitted
	amended.PayorApproval = models.ApprovalPending
	amended.ConfirmationID = nil
	amended.Supersedes = &supersedes
	amended.Superseded = false
	amended.AmendmentReason = &reason
	amended.Version = 0
	amended.CreatedAt = time.Time{}
	return &amended
}

func (s *AmendmentService) writeAudit(ctx context.Context, actor Actor, original, amended *models.EVVRecord, reason string) {
	if s.audit == nil {
		return
	}
	oldValues, _ := json.Marshal(map[string]interface{}{
		"clock_in_at": original.ClockInAt, "clock_out_at": original.ClockOutAt,
	})
	newValues, _ := json.Marshal(map[string]interface{}{
		"record_id": amended.ID, "clock_in_at": amended.ClockInAt, "clock_out_at": amended.ClockOutAt, "reason": reason,
	})
	userID := actor.UserID
	resourceID := original.ID
	log := &models.AuditLog{
		OrgID:      actor.OrgID,
		UserID:     &userID,
		Action:     models.AuditActionAmendmentCreate,
		Resource:   "evv_record",
		ResourceID: &resourceID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  actor.IP,
		UserAgent:  actor.UserAgent,
	}
	if err := s.audit.Create(ctx, log); err != nil {
		s.logger.Sugar().Errorw("failed to write amendment audit", "record_id", original.ID, "error", err)
	}
}
