package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/carebridge-health/evv-engine/internal/dto"
	"github.com/carebridge-health/evv-engine/internal/models"
	"github.com/carebridge-health/evv-engine/internal/provider"
	"github.com/carebridge-health/evv-engine/internal/rules"
	appErrors "github.com/carebridge-health/evv-engine/pkg/errors"
)

// Actor identifies the authenticated principal performing an operation.
type Actor struct {
	UserID    string
	OrgID     string
	Role      models.UserRole
	IP        string
	UserAgent string
}

type timeEntryStore interface {
	Create(ctx context.Context, entry *models.TimeEntry) error
	GetByID(ctx context.Context, id string) (*models.TimeEntry, error)
	ListByVisit(ctx context.Context, visitID string) ([]models.TimeEntry, error)
	FindCounted(ctx context.Context, visitID string, entryType models.EntryType) (*models.TimeEntry, error)
	MarkAccepted(ctx context.Context, id string, version int) error
	ListProvisionalClockOuts(ctx context.Context, limit int) ([]models.TimeEntry, error)
}

type recordStore interface {
	Create(ctx context.Context, record *models.EVVRecord) error
	GetByID(ctx context.Context, id string) (*models.EVVRecord, error)
	GetCurrentByVisit(ctx context.Context, visitID string) (*models.EVVRecord, error)
	List(ctx context.Context, filter models.RecordFilter) ([]models.EVVRecord, int, error)
	UpdateLifecycle(ctx context.Context, record *models.EVVRecord) error
}

type auditWriter interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

type eligibilityGate interface {
	Evaluate(in EligibilityInput) models.EligibilityDecision
}

type clockVerifier interface {
	Verify(in VerificationInput) models.VerificationResult
}

type ruleResolver interface {
	Resolve(key rules.Key) (rules.RuleSet, bool)
}

type recordSubmitter interface {
	EnqueueRecord(ctx context.Context, record *models.EVVRecord) error
}

// lastPointStore remembers a caregiver's most recent GPS fix across visits so
// the travel-speed heuristic can compare consecutive clock events.
type lastPointStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type lastPoint struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	At        time.Time `json:"at"`
}

// lastPointTTL bounds the shift window the speed heuristic looks back over.
const lastPointTTL = 4 * time.Hour

// RecordService owns the EVV record lifecycle: clock events in, verified
// entries and record transitions out.
type RecordService struct {
	entries   timeEntryStore
	records   recordStore
	audit     auditWriter
	clients   provider.ClientProvider
	cgs       provider.CaregiverProvider
	visits    provider.VisitProvider
	rules     ruleResolver
	gate      eligibilityGate
	verifier  clockVerifier
	submitter recordSubmitter
	points    lastPointStore
	logger    *zap.Logger
}

// RecordServiceDeps wires the service's collaborators.
type RecordServiceDeps struct {
	Entries    timeEntryStore
	Records    recordStore
	Audit      auditWriter
	Clients    provider.ClientProvider
	Caregivers provider.CaregiverProvider
	Visits     provider.VisitProvider
	Rules      ruleResolver
	Gate       eligibilityGate
	Verifier   clockVerifier
	Submitter  recordSubmitter
	Points     lastPointStore
	Logger     *zap.Logger
}

// NewRecordService constructs the service.
func NewRecordService(deps RecordServiceDeps) *RecordService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &RecordService{
		entries:   deps.Entries,
		records:   deps.Records,
		audit:     deps.Audit,
		clients:   deps.Clients,
		cgs:       deps.Caregivers,
		visits:    deps.Visits,
		rules:     deps.Rules,
		gate:      deps.Gate,
		verifier:  deps.Verifier,
		submitter: deps.Submitter,
		points:    deps.Points,
		logger:    deps.Logger,
	}
}

// visitContext is everything resolved once per clock event.
type visitContext struct {
	visit     *provider.VisitSnapshot
	client    *provider.ClientSnapshot
	caregiver *provider.CaregiverSnapshot
	rules     rules.RuleSet
	ruleFound bool
}

func (s *RecordService) resolveVisit(ctx context.Context, visitID string, actor Actor) (*visitContext, error) {
	visit, err := s.visits.GetVisitForEVV(ctx, visitID)
	if err != nil {
		if errors.Is(err, provider.ErrVisitNotFound) {
			return nil, appErrors.WithDetails(appErrors.ErrNotFound, fmt.Sprintf("visit %s not found", visitID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load visit")
	}
	if visit.OrgID != actor.OrgID {
		return nil, appErrors.ErrForbidden
	}

	client, err := s.clients.GetClientForEVV(ctx, visit.ClientID)
	if err != nil {
		if errors.Is(err, provider.ErrClientNotFound) {
			return nil, appErrors.WithDetails(appErrors.ErrNotFound, fmt.Sprintf("client %s not found", visit.ClientID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load client")
	}

	caregiver, err := s.cgs.GetCaregiverForEVV(ctx, visit.CaregiverID)
	if err != nil {
		if errors.Is(err, provider.ErrCaregiverNotFound) {
			return nil, appErrors.WithDetails(appErrors.ErrNotFound, fmt.Sprintf("caregiver %s not found", visit.CaregiverID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load caregiver")
	}

	key := rules.Key{State: client.State, PayerType: client.PayerType, ServiceType: visit.ServiceType}
	rs, found := s.rules.Resolve(key)
	if !found {
		s.logger.Sugar().Warnw("jurisdiction not mapped, strict defaults applied",
			"visit_id", visitID, "state", key.State, "payer", key.PayerType, "service", key.ServiceType)
	}
	return &visitContext{visit: visit, client: client, caregiver: caregiver, rules: rs, ruleFound: found}, nil
}

// ClockIn processes a clock-in event end to end: eligibility gate, duplicate
// guard, verification, persistence and the record transition to IN_PROGRESS.
func (s *RecordService) ClockIn(ctx context.Context, visitID string, actor Actor, req dto.ClockEventRequest) (*dto.ClockEventResponse, error) {
	vc, err := s.resolveVisit(ctx, visitID, actor)
	if err != nil {
		return nil, err
	}

	waiver := req.CoordinatorOverride && actor.Role != models.RoleCaregiver
	in := EligibilityInput{
		Visit:               vc.visit,
		Caregiver:           vc.caregiver,
		Rules:               vc.rules,
		RuleFound:           vc.ruleFound,
		CoordinatorOverride: waiver,
		Now:                 req.Timestamp,
	}
	if waiver {
		in.OverriddenBy = actor.UserID
	}
	decision := s.gate.Evaluate(in)
	if decision.Blocked() {
		s.writeAudit(ctx, actor, models.AuditActionEligibilityBlock, "visit", visitID, map[string]interface{}{
			"reasons": decision.Reasons, "citation": decision.Citation,
		})
		details := append([]string(nil), decision.Reasons...)
		if decision.Citation != "" {
			details = append(details, "citation: "+decision.Citation)
		}
		return nil, appErrors.WithDetails(appErrors.ErrEligibilityBlocked, details...)
	}
	if decision.OverriddenBy != "" {
		s.writeAudit(ctx, actor, models.AuditActionEligibilityWaiver, "visit", visitID, map[string]interface{}{
			"waived_by": decision.OverriddenBy, "warnings": decision.Warnings,
		})
	}

	return s.processClockEvent(ctx, vc, actor, req, models.EntryTypeClockIn, decision.Warnings)
}

// ClockOut processes a clock-out event. A clock-out with no counted clock-in
// is held PENDING_REVIEW as out-of-order rather than rejected, so offline
// batches that arrive in the wrong order do not lose data.
func (s *RecordService) ClockOut(ctx context.Context, visitID string, actor Actor, req dto.ClockEventRequest) (*dto.ClockEventResponse, error) {
	vc, err := s.resolveVisit(ctx, visitID, actor)
	if err != nil {
		return nil, err
	}
	return s.processClockEvent(ctx, vc, actor, req, models.EntryTypeClockOut, nil)
}

func (s *RecordService) processClockEvent(ctx context.Context, vc *visitContext, actor Actor, req dto.ClockEventRequest, entryType models.EntryType, warnings []string) (*dto.ClockEventResponse, error) {
	visitID := vc.visit.ID

	if existing, err := s.entries.FindCounted(ctx, visitID, entryType); err == nil && existing != nil {
		return nil, s.recordDuplicate(ctx, vc, actor, req, entryType)
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check duplicates")
	}

	event := req.ToClockEvent(visitID, entryType)
	if event.ExceptionApproved && !roleMayApproveException(actor.Role) {
		// Exceptions bypass hard rejections, so a caregiver cannot attest
		// one for their own clock event.
		event.ExceptionApproved = false
		warnings = append(warnings, "exception flag ignored: requires coordinator or supervisor authority")
	}
	s.attachPriorPoint(ctx, vc.caregiver.ID, &event)

	var clockInEntry *models.TimeEntry
	outOfOrder := false
	if entryType == models.EntryTypeClockOut {
		entry, err := s.entries.FindCounted(ctx, visitID, models.EntryTypeClockIn)
		switch {
		case err == nil:
			clockInEntry = entry
		case errors.Is(err, sql.ErrNoRows):
			outOfOrder = true
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load clock-in")
		}
	}

	result := s.verifier.Verify(VerificationInput{
		Event:        event,
		Visit:        vc.visit,
		Client:       vc.client,
		Rules:        vc.rules,
		ClockInEntry: clockInEntry,
	})
	if !result.Passed {
		// The rejection is surfaced to the caller, but the event itself is
		// still recorded: a held entry preserves the evidence for audit and
		// gives a supervisor something to override.
		result.RequiresSupervisorReview = true
		rejected := s.buildEntry(vc, event, result)
		rejected.Status = models.TimeEntryPendingReview
		if err := s.entries.Create(ctx, rejected); err != nil {
			s.logger.Sugar().Errorw("failed to persist rejected entry", "visit_id", visitID, "error", err)
		} else {
			s.ensureRecord(ctx, vc, rejected)
		}
		s.writeAudit(ctx, actor, auditActionFor(entryType), "visit", visitID, map[string]interface{}{
			"outcome": "rejected", "issues": result.Issues, "entry_id": rejected.ID,
		})
		return nil, appErrors.WithDetails(appErrors.ErrVerificationRejected, result.Issues...)
	}

	if outOfOrder {
		result.Flags = appendUnique(result.Flags, models.FlagOutOfOrder)
		result.RequiresSupervisorReview = true
		warnings = append(warnings, "no clock-in found for visit; entry held for reconciliation")
	}
	if clockInEntry != nil && req.Timestamp.Before(clockInEntry.Timestamp) {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "clock-out precedes clock-in")
	}

	entry := s.buildEntry(vc, event, result)
	if outOfOrder {
		// Held until the paired clock-in syncs; the reconciler promotes it.
		entry.Status = models.TimeEntryPendingReview
	}
	if err := s.entries.Create(ctx, entry); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist time entry")
	}
	s.rememberPoint(ctx, vc.caregiver.ID, event)

	record, err := s.applyEntryToRecord(ctx, vc, entry, clockInEntry)
	if err != nil {
		return nil, err
	}

	s.writeAudit(ctx, actor, auditActionFor(entryType), "visit", visitID, map[string]interface{}{
		"entry_id": entry.ID, "status": entry.Status, "level": entry.VerificationLevel, "flags": entry.Flags,
	})

	return &dto.ClockEventResponse{
		Entry:        entry,
		Verification: &result,
		Record:       record,
		Warnings:     warnings,
	}, nil
}

func (s *RecordService) recordDuplicate(ctx context.Context, vc *visitContext, actor Actor, req dto.ClockEventRequest, entryType models.EntryType) error {
	event := req.ToClockEvent(vc.visit.ID, entryType)
	entry := s.buildEntry(vc, event, models.VerificationResult{
		Passed: true,
		Level:  models.LevelPartial,
		Flags:  []string{models.FlagDuplicateEntry},
		Issues: []string{fmt.Sprintf("a counted %s already exists for this visit", entryType)},
		RequiresSupervisorReview: true,
	})
	entry.Status = models.TimeEntryPendingReview
	if err := s.entries.Create(ctx, entry); err != nil {
		s.logger.Sugar().Errorw("failed to persist duplicate entry", "visit_id", vc.visit.ID, "error", err)
	}
	s.writeAudit(ctx, actor, auditActionFor(entryType), "visit", vc.visit.ID, map[string]interface{}{
		"outcome": "duplicate", "entry_id": entry.ID,
	})
	return appErrors.WithDetails(appErrors.ErrDuplicateEntry, fmt.Sprintf("duplicate %s recorded for supervisor review", entryType))
}

func (s *RecordService) buildEntry(vc *visitContext, event models.ClockEvent, result models.VerificationResult) *models.TimeEntry {
	entry := &models.TimeEntry{
		OrgID:              vc.visit.OrgID,
		VisitID:            event.VisitID,
		EntryType:          event.EntryType,
		Timestamp:          event.Timestamp.UTC(),
		AccuracyMeters:     event.AccuracyMeters,
		DistanceMeters:     result.DistanceMeters,
		WithinGeofence:     result.WithinGeofence,
		DeviceID:           event.Device.DeviceID,
		DeviceModel:        event.Device.Model,
		DeviceOS:           event.Device.OS,
		Method:             event.Method,
		SignatureCaptured:  len(event.Signature) > 0,
		VerificationPassed: result.Passed,
		VerificationLevel:  result.Level,
		VerificationIssues: result.Issues,
		Flags:              result.Flags,
		RequiresReview:     result.RequiresSupervisorReview,
		Status:             models.TimeEntryAccepted,
		RecordedOffline:    event.RecordedOffline,
	}
	if event.Coordinate != nil {
		lat, lon := event.Coordinate.Latitude, event.Coordinate.Longitude
		entry.Latitude, entry.Longitude = &lat, &lon
	}
	return entry
}

// ensureRecord guarantees a record exists for the visit and folds the entry's
// flags into it. Used for held entries, whose flags must survive even though
// they do not transition the record.
func (s *RecordService) ensureRecord(ctx context.Context, vc *visitContext, entry *models.TimeEntry) {
	record, err := s.records.GetCurrentByVisit(ctx, vc.visit.ID)
	if errors.Is(err, sql.ErrNoRows) {
		record = s.newRecord(vc)
		s.mergeEntry(record, entry, nil)
		if err := s.records.Create(ctx, record); err != nil {
			s.logger.Sugar().Errorw("failed to create record for held entry", "visit_id", vc.visit.ID, "error", err)
		}
		return
	}
	if err != nil {
		s.logger.Sugar().Errorw("failed to load record for held entry", "visit_id", vc.visit.ID, "error", err)
		return
	}
	if record.RecordStatus == models.RecordComplete || record.RecordStatus == models.RecordCancelled {
		return
	}
	s.mergeEntry(record, entry, nil)
	if err := s.records.UpdateLifecycle(ctx, record); err != nil {
		s.logger.Sugar().Errorw("failed to update record for held entry", "visit_id", vc.visit.ID, "error", err)
	}
}

func roleMayApproveException(role models.UserRole) bool {
	switch role {
	case models.RoleCoordinator, models.RoleSupervisor, models.RoleAdmin:
		return true
	}
	return false
}

// applyEntryToRecord transitions the visit's record for the new entry,
// creating it on first contact.
func (s *RecordService) applyEntryToRecord(ctx context.Context, vc *visitContext, entry *models.TimeEntry, clockInEntry *models.TimeEntry) (*models.EVVRecord, error) {
	record, err := s.records.GetCurrentByVisit(ctx, vc.visit.ID)
	if errors.Is(err, sql.ErrNoRows) {
		record = s.newRecord(vc)
		s.mergeEntry(record, entry, clockInEntry)
		if err := s.records.Create(ctx, record); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create record")
		}
		return s.maybeSubmit(ctx, record), nil
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load record")
	}

	switch record.RecordStatus {
	case models.RecordComplete:
		return nil, appErrors.WithDetails(appErrors.ErrInvalidTransition, "record is already COMPLETE; amend it instead")
	case models.RecordCancelled:
		return nil, appErrors.WithDetails(appErrors.ErrInvalidTransition, "record is CANCELLED")
	}

	s.mergeEntry(record, entry, clockInEntry)
	if err := s.records.UpdateLifecycle(ctx, record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrVersionConflict
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update record")
	}
	return s.maybeSubmit(ctx, record), nil
}

func (s *RecordService) newRecord(vc *visitContext) *models.EVVRecord {
	return &models.EVVRecord{
		OrgID:             vc.visit.OrgID,
		VisitID:           vc.visit.ID,
		ClientID:          vc.client.ID,
		ClientName:        vc.client.DisplayName,
		CaregiverID:       vc.caregiver.ID,
		CaregiverName:     vc.caregiver.DisplayName,
		ServiceDate:       vc.visit.ScheduledStart.UTC().Truncate(24 * time.Hour),
		ServiceType:       vc.visit.ServiceType,
		State:             vc.client.State,
		PayerType:         vc.client.PayerType,
		RecordStatus:      models.RecordPending,
		VerificationLevel: models.LevelFull,
		SubmissionStatus:  models.SubmissionNotSubmitted,
		PayorApproval:     models.ApprovalPending,
	}
}

// mergeEntry folds one entry into the record: timestamps when the entry
// counts, the stricter verification level, the union of flags and the status
// transition.
func (s *RecordService) mergeEntry(record *models.EVVRecord, entry *models.TimeEntry, clockInEntry *models.TimeEntry) {
	record.VerificationLevel = models.StricterOf(record.VerificationLevel, entry.VerificationLevel)
	record.ComplianceFlags = mergeFlags(record.ComplianceFlags, entry.Flags)
	if entry.RequiresReview {
		record.ComplianceFlags = mergeFlags(record.ComplianceFlags, []string{models.FlagPendingReview})
	}

	if !entry.Status.Counted() {
		if record.RecordStatus == "" {
			record.RecordStatus = models.RecordPending
		}
		return
	}

	switch entry.EntryType {
	case models.EntryTypeClockIn:
		ts := entry.Timestamp
		record.ClockInAt = &ts
		record.RecordStatus = models.RecordInProgress
	case models.EntryTypeClockOut:
		ts := entry.Timestamp
		record.ClockOutAt = &ts
		if clockInEntry != nil {
			record.VerificationLevel = models.StricterOf(record.VerificationLevel, clockInEntry.VerificationLevel)
			if record.ClockInAt == nil {
				// The counted clock-in's transition may not have reached the
				// record yet (it was held and then overridden); backfill it
				// so the pair can complete.
				inTs := clockInEntry.Timestamp
				record.ClockInAt = &inTs
			}
		}
		if record.ClockInAt != nil {
			mins := int(record.ClockOutAt.Sub(*record.ClockInAt).Minutes())
			record.TotalDurationMins = &mins
			record.RecordStatus = models.RecordComplete
		}
	}
}

// maybeSubmit queues a freshly completed record for aggregator delivery.
func (s *RecordService) maybeSubmit(ctx context.Context, record *models.EVVRecord) *models.EVVRecord {
	if record.RecordStatus != models.RecordComplete || s.submitter == nil {
		return record
	}
	if record.SubmissionStatus != models.SubmissionNotSubmitted {
		return record
	}
	if err := s.submitter.EnqueueRecord(ctx, record); err != nil {
		s.logger.Sugar().Errorw("failed to enqueue submission", "record_id", record.ID, "error", err)
	}
	return record
}

func (s *RecordService) attachPriorPoint(ctx context.Context, caregiverID string, event *models.ClockEvent) {
	if s.points == nil || event.Coordinate == nil {
		return
	}
	var point lastPoint
	if err := s.points.Get(ctx, lastPointKey(caregiverID), &point); err != nil {
		return
	}
	event.PriorPoint = &models.Coordinate{Latitude: point.Latitude, Longitude: point.Longitude}
	at := point.At
	event.PriorTimestamp = &at
}

func (s *RecordService) rememberPoint(ctx context.Context, caregiverID string, event models.ClockEvent) {
	if s.points == nil || event.Coordinate == nil {
		return
	}
	point := lastPoint{Latitude: event.Coordinate.Latitude, Longitude: event.Coordinate.Longitude, At: event.Timestamp.UTC()}
	if err := s.points.Set(ctx, lastPointKey(caregiverID), point, lastPointTTL); err != nil {
		s.logger.Sugar().Warnw("failed to remember caregiver point", "caregiver_id", caregiverID, "error", err)
	}
}

func lastPointKey(caregiverID string) string {
	return "evv:lastpoint:" + caregiverID
}

// GetRecordByVisit returns the current record with its entry history.
func (s *RecordService) GetRecordByVisit(ctx context.Context, visitID string, actor Actor) (*models.EVVRecord, []models.TimeEntry, error) {
	record, err := s.records.GetCurrentByVisit(ctx, visitID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, appErrors.WithDetails(appErrors.ErrNotFound, fmt.Sprintf("no record for visit %s", visitID))
	}
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load record")
	}
	if record.OrgID != actor.OrgID {
		return nil, nil, appErrors.ErrForbidden
	}
	entries, err := s.entries.ListByVisit(ctx, visitID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load entries")
	}
	return record, entries, nil
}

// GetRecord returns one record by id, org-scoped.
func (s *RecordService) GetRecord(ctx context.Context, recordID string, actor Actor) (*models.EVVRecord, error) {
	record, err := s.records.GetByID(ctx, recordID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.WithDetails(appErrors.ErrNotFound, fmt.Sprintf("record %s not found", recordID))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load record")
	}
	if record.OrgID != actor.OrgID {
		return nil, appErrors.ErrForbidden
	}
	return record, nil
}

// Search lists records for the actor's org.
func (s *RecordService) Search(ctx context.Context, filter models.RecordFilter, actor Actor) ([]models.EVVRecord, int, error) {
	filter.OrgID = actor.OrgID
	records, total, err := s.records.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to search records")
	}
	return records, total, nil
}

// ReconcileOutOfOrder promotes held clock-outs whose clock-in has since
// arrived. Returns how many entries were promoted.
func (s *RecordService) ReconcileOutOfOrder(ctx context.Context) (int, error) {
	held, err := s.entries.ListProvisionalClockOuts(ctx, 100)
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, entry := range held {
		clockIn, err := s.entries.FindCounted(ctx, entry.VisitID, models.EntryTypeClockIn)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			s.logger.Sugar().Errorw("reconcile: failed to load clock-in", "visit_id", entry.VisitID, "error", err)
			continue
		}
		if entry.Timestamp.Before(clockIn.Timestamp) {
			// Still inconsistent; leave for a supervisor.
			continue
		}
		if err := s.entries.MarkAccepted(ctx, entry.ID, entry.Version); err != nil {
			continue
		}
		entry.Status = models.TimeEntryAccepted
		if err := s.completeFromEntries(ctx, entry.VisitID, clockIn, &entry); err != nil {
			s.logger.Sugar().Errorw("reconcile: failed to complete record", "visit_id", entry.VisitID, "error", err)
			continue
		}
		promoted++
	}
	if promoted > 0 {
		s.logger.Sugar().Infow("reconciled out-of-order clock-outs", "promoted", promoted)
	}
	return promoted, nil
}

// completeFromEntries recomputes a record's terminal state from its counted
// entry pair. Shared by the reconciler and the override path.
func (s *RecordService) completeFromEntries(ctx context.Context, visitID string, clockIn, clockOut *models.TimeEntry) error {
	record, err := s.records.GetCurrentByVisit(ctx, visitID)
	if err != nil {
		return err
	}
	if record.RecordStatus == models.RecordComplete || record.RecordStatus == models.RecordCancelled {
		return nil
	}
	in, out := clockIn.Timestamp, clockOut.Timestamp
	record.ClockInAt, record.ClockOutAt = &in, &out
	mins := int(out.Sub(in).Minutes())
	record.TotalDurationMins = &mins
	record.RecordStatus = models.RecordComplete
	record.VerificationLevel = models.StricterOf(
		models.StricterOf(record.VerificationLevel, clockIn.VerificationLevel), clockOut.VerificationLevel)
	record.ComplianceFlags = mergeFlags(record.ComplianceFlags, clockOut.Flags)
	if err := s.records.UpdateLifecycle(ctx, record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrVersionConflict
		}
		return err
	}
	s.maybeSubmit(ctx, record)
	return nil
}

// StartReconciler runs ReconcileOutOfOrder on the interval until ctx ends.
func (s *RecordService) StartReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.ReconcileOutOfOrder(ctx); err != nil {
					s.logger.Sugar().Errorw("reconciler pass failed", "error", err)
				}
			}
		}
	}()
}

func (s *RecordService) writeAudit(ctx context.Context, actor Actor, action, resource, resourceID string, values map[string]interface{}) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(values)
	userID := actor.UserID
	log := &models.AuditLog{
		OrgID:      actor.OrgID,
		UserID:     &userID,
		Action:     action,
		Resource:   resource,
		ResourceID: &resourceID,
		NewValues:  payload,
		IPAddress:  actor.IP,
		UserAgent:  actor.UserAgent,
	}
	if err := s.audit.Create(ctx, log); err != nil {
		s.logger.Sugar().Errorw("failed to write audit log", "action", action, "error", err)
	}
}

func auditActionFor(entryType models.EntryType) string {
	if entryType == models.EntryTypeClockOut {
		return models.AuditActionClockOut
	}
	return models.AuditActionClockIn
}

// mergeFlags unions flag sets, dropping COMPLIANT whenever any deviation flag
// is present and restoring it when the union is otherwise empty.
func mergeFlags(existing []string, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	var merged []string
	for _, set := range [][]string{existing, incoming} {
		for _, f := range set {
			if f == models.FlagCompliant {
				continue
			}
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			merged = append(merged, f)
		}
	}
	if len(merged) == 0 {
		return []string{models.FlagCompliant}
	}
	return merged
}
