package dto

import (
	"time"

	"github.com/carebridge-health/evv-engine/internal/models"
)

// CoordinatePayload mirrors a reported GPS point.
type CoordinatePayload struct {
	Latitude  float64 `json:"latitude" binding:"required,min=-90,max=90"`
	Longitude float64 `json:"longitude" binding:"required,min=-180,max=180"`
}

// ClockEventRequest is the mobile payload for clock-in and clock-out.
type ClockEventRequest struct {
	Timestamp        time.Time          `json:"timestamp" binding:"required"`
	Coordinate       *CoordinatePayload `json:"coordinate"`
	AccuracyMeters   float64            `json:"accuracy_meters"`
	MockLocation     bool               `json:"mock_location"`
	DeviceID         string             `json:"device_id" binding:"required"`
	DeviceModel      string             `json:"device_model"`
	DeviceOS         string             `json:"device_os"`
	Method           string             `json:"method"`
	Signature        []byte             `json:"signature,omitempty"`
	RecordedOffline  bool               `json:"recorded_offline"`
	// ExceptionApproved attests an approved exception for a hard rejection.
	// Honored only for coordinator/supervisor actors, and only where the
	// jurisdiction permits manual exceptions.
	ExceptionApproved bool `json:"exception_approved"`
	// CoordinatorOverride authorizes proceeding past a skill mismatch at
	// clock-in. It is attributed to the authenticated actor.
	CoordinatorOverride bool `json:"coordinator_override"`
}

// ToClockEvent converts the request into the engine's input type.
func (r ClockEventRequest) ToClockEvent(visitID string, entryType models.EntryType) models.ClockEvent {
	event := models.ClockEvent{
		VisitID:           visitID,
		EntryType:         entryType,
		Timestamp:         r.Timestamp,
		AccuracyMeters:    r.AccuracyMeters,
		MockLocation:      r.MockLocation,
		Device:            models.DeviceInfo{DeviceID: r.DeviceID, Model: r.DeviceModel, OS: r.DeviceOS},
		Signature:         r.Signature,
		RecordedOffline:   r.RecordedOffline,
		ExceptionApproved: r.ExceptionApproved,
	}
	if r.Coordinate != nil {
		event.Coordinate = &models.Coordinate{Latitude: r.Coordinate.Latitude, Longitude: r.Coordinate.Longitude}
	}
	switch r.Method {
	case string(models.MethodPhone):
		event.Method = models.MethodPhone
	case string(models.MethodOffline):
		event.Method = models.MethodOffline
	default:
		event.Method = models.MethodGPS
	}
	return event
}

// ClockEventResponse returns the persisted entry plus the verification detail
// and the record state after the transition.
type ClockEventResponse struct {
	Entry        *models.TimeEntry          `json:"entry"`
	Verification *models.VerificationResult `json:"verification"`
	Record       *models.EVVRecord          `json:"record"`
	Warnings     []string                   `json:"warnings,omitempty"`
}

// OverrideRequest applies a supervisor override to a flagged entry.
type OverrideRequest struct {
	Reason  string `json:"reason" binding:"required"`
	Version int    `json:"version" binding:"required"`
}

// AmendmentRequest corrects a COMPLETE record post-submission.
type AmendmentRequest struct {
	ClockInAt  time.Time `json:"clock_in_at" binding:"required"`
	ClockOutAt time.Time `json:"clock_out_at" binding:"required"`
	Reason     string    `json:"reason" binding:"required"`
	Version    int       `json:"version" binding:"required"`
}

// RecordSearchQuery mirrors the search filters.
type RecordSearchQuery struct {
	VisitID     string `form:"visit_id"`
	ClientID    string `form:"client_id"`
	CaregiverID string `form:"caregiver_id"`
	Status      string `form:"status"`
	Flag        string `form:"flag"`
	DateFrom    string `form:"date_from"`
	DateTo      string `form:"date_to"`
	Page        int    `form:"page"`
	PageSize    int    `form:"page_size"`
}

// ComplianceSummary aggregates record posture for an org and date range.
type ComplianceSummary struct {
	OrgID             string         `json:"org_id"`
	From              time.Time      `json:"from"`
	To                time.Time      `json:"to"`
	TotalRecords      int            `json:"total_records"`
	CompliantRecords  int            `json:"compliant_records"`
	FlaggedRecords    int            `json:"flagged_records"`
	PendingReview     int            `json:"pending_review"`
	SubmittedRecords  int            `json:"submitted_records"`
	FailedSubmissions int            `json:"failed_submissions"`
	ByLevel           map[string]int `json:"by_level"`
	ByFlag            map[string]int `json:"by_flag"`
}
