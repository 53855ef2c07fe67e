package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/carebridge-health/evv-engine/internal/dto"
	"github.com/carebridge-health/evv-engine/internal/models"
	appErrors "github.com/carebridge-health/evv-engine/pkg/errors"
)

type overrideEntryStore interface {
	GetByID(ctx context.Context, id string) (*models.TimeEntry, error)
	FindCounted(ctx context.Context, visitID string, entryType models.EntryType) (*models.TimeEntry, error)
	MarkOverridden(ctx context.Context, id string, version int) error
	CreateOverride(ctx context.Context, override *models.ManualOverride) error
	ListOverrides(ctx context.Context, timeEntryID string) ([]models.ManualOverride, error)
}

type overrideRecordStore interface {
	GetCurrentByVisit(ctx context.Context, visitID string) (*models.EVVRecord, error)
	UpdateLifecycle(ctx context.Context, record *models.EVVRecord) error
}

// recordCompleter finalizes a record once its entry pair is counted.
type recordCompleter interface {
	completeFromEntries(ctx context.Context, visitID string, clockIn, clockOut *models.TimeEntry) error
}

// OverrideService applies supervisor overrides to flagged time entries. The
// entry's verification issues are preserved verbatim; the override only
// changes whether the entry counts, never what was observed.
type OverrideService struct {
	entries   overrideEntryStore
	records   overrideRecordStore
	completer recordCompleter
	audit     auditWriter
	logger    *zap.Logger
}

// NewOverrideService constructs the service.
func NewOverrideService(entries overrideEntryStore, records overrideRecordStore, completer recordCompleter, audit auditWriter, logger *zap.Logger) *OverrideService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OverrideService{entries: entries, records: records, completer: completer, audit: audit, logger: logger}
}

// Override accepts a flagged entry on a supervisor's authority. The record
// permanently carries MANUAL_OVERRIDE and its level is capped at MANUAL.
func (s *OverrideService) Override(ctx context.Context, entryID string, actor Actor, req dto.OverrideRequest) (*models.TimeEntry, error) {
	entry, err := s.entries.GetByID(ctx, entryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.WithDetails(appErrors.ErrNotFound, "time entry not found")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load time entry")
	}
	if entry.OrgID != actor.OrgID {
		return nil, appErrors.ErrForbidden
	}
	if entry.Status == models.TimeEntryOverridden {
		return nil, appErrors.WithDetails(appErrors.ErrInvalidTransition, "entry is already overridden")
	}
	if !entry.RequiresReview && entry.Status == models.TimeEntryAccepted {
		return nil, appErrors.WithDetails(appErrors.ErrInvalidTransition, "entry is accepted and needs no override")
	}

	override := &models.ManualOverride{
		TimeEntryID:  entry.ID,
		SupervisorID: actor.UserID,
		Reason:       req.Reason,
		PriorPassed:  entry.VerificationPassed,
		PriorStatus:  entry.Status,
		PriorIssues:  entry.VerificationIssues,
	}
	if err := s.entries.CreateOverride(ctx, override); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist override")
	}
	if err := s.entries.MarkOverridden(ctx, entry.ID, req.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrVersionConflict
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update entry")
	}
	entry.Status = models.TimeEntryOverridden
	entry.Version++

	if err := s.applyToRecord(ctx, entry); err != nil {
		return nil, err
	}

	s.writeAudit(ctx, actor, entry, override)
	return entry, nil
}

// ListOverrides returns the override trail for an entry.
func (s *OverrideService) ListOverrides(ctx context.Context, entryID string, actor Actor) ([]models.ManualOverride, error) {
	entry, err := s.entries.GetByID(ctx, entryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.WithDetails(appErrors.ErrNotFound, "time entry not found")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load time entry")
	}
	if entry.OrgID != actor.OrgID {
		return nil, appErrors.ErrForbidden
	}
	return s.entries.ListOverrides(ctx, entryID)
}

func (s *OverrideService) applyToRecord(ctx context.Context, entry *models.TimeEntry) error {
	record, err := s.records.GetCurrentByVisit(ctx, entry.VisitID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load record")
	}

	record.ComplianceFlags = mergeFlags(record.ComplianceFlags, []string{models.FlagManualOverride})
	record.VerificationLevel = models.StricterOf(record.VerificationLevel, models.LevelManual)
	if entry.EntryType == models.EntryTypeClockIn && record.RecordStatus == models.RecordPending {
		// The override unblocks the transition the rejected clock-in could
		// not make, otherwise the eventual clock-out can never complete the
		// record.
		ts := entry.Timestamp
		record.ClockInAt = &ts
		record.RecordStatus = models.RecordInProgress
	}
	if record.RecordStatus != models.RecordCancelled {
		if err := s.records.UpdateLifecycle(ctx, record); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.ErrVersionConflict
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update record")
		}
	}

	// The overridden entry may have completed the pair.
	clockIn, inErr := s.entries.FindCounted(ctx, entry.VisitID, models.EntryTypeClockIn)
	clockOut, outErr := s.entries.FindCounted(ctx, entry.VisitID, models.EntryTypeClockOut)
	if inErr == nil && outErr == nil && s.completer != nil {
		if err := s.completer.completeFromEntries(ctx, entry.VisitID, clockIn, clockOut); err != nil {
			return appErrors.FromError(err)
		}
	}
	return nil
}

func (s *OverrideService) writeAudit(ctx context.Context, actor Actor, entry *models.TimeEntry, override *models.ManualOverride) {
	if s.audit == nil {
		return
	}
	oldValues, _ := json.Marshal(map[string]interface{}{
		"status": override.PriorStatus, "passed": override.PriorPassed, "issues": override.PriorIssues,
	})
	newValues, _ := json.Marshal(map[string]interface{}{
		"status": entry.Status, "override_id": override.ID, "reason": override.Reason,
	})
	userID := actor.UserID
	entryID := entry.ID
	log := &models.AuditLog{
		OrgID:      actor.OrgID,
		UserID:     &userID,
		Action:     models.AuditActionManualOverride,
		Resource:   "time_entry",
		ResourceID: &entryID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  actor.IP,
		UserAgent:  actor.UserAgent,
	}
	if err := s.audit.Create(ctx, log); err != nil {
		s.logger.Sugar().Errorw("failed to write override audit", "entry_id", entry.ID, "error", err)
	}
}
