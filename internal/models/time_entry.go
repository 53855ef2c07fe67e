package models

import (
	"time"

	"github.com/lib/pq"
)

// TimeEntryStatus is the lifecycle state of a single clock event record.
type TimeEntryStatus string

const (
	TimeEntryPendingReview TimeEntryStatus = "PENDING_REVIEW"
	TimeEntryAccepted      TimeEntryStatus = "ACCEPTED"
	TimeEntryOverridden    TimeEntryStatus = "OVERRIDDEN"
)

// Counted reports whether the entry counts toward record completion.
func (s TimeEntryStatus) Counted() bool {
	return s == TimeEntryAccepted || s == TimeEntryOverridden
}

// TimeEntry is the persisted outcome of one clock event. Immutable once
// created except for the override transition; verification issues are never
// edited or deleted.
type TimeEntry struct {
	ID                 string          `db:"id" json:"id"`
	OrgID              string          `db:"org_id" json:"org_id"`
	VisitID            string          `db:"visit_id" json:"visit_id"`
	EntryType          EntryType       `db:"entry_type" json:"entry_type"`
	Timestamp          time.Time       `db:"timestamp" json:"timestamp"`
	Latitude           *float64        `db:"latitude" json:"latitude,omitempty"`
	Longitude          *float64        `db:"longitude" json:"longitude,omitempty"`
	AccuracyMeters     float64         `db:"accuracy_meters" json:"accuracy_meters"`
	DistanceMeters     *float64        `db:"distance_meters" json:"distance_meters,omitempty"`
	WithinGeofence     bool            `db:"within_geofence" json:"within_geofence"`
	DeviceID           string          `db:"device_id" json:"device_id"`
	DeviceModel        string          `db:"device_model" json:"device_model"`
	DeviceOS           string          `db:"device_os" json:"device_os"`
	Method             VerificationMethod `db:"method" json:"method"`
	SignatureCaptured  bool            `db:"signature_captured" json:"signature_captured"`
	VerificationPassed bool            `db:"verification_passed" json:"verification_passed"`
	VerificationLevel  VerificationLevel `db:"verification_level" json:"verification_level"`
	VerificationIssues pq.StringArray  `db:"verification_issues" json:"verification_issues"`
	Flags              pq.StringArray  `db:"flags" json:"flags"`
	RequiresReview     bool            `db:"requires_review" json:"requires_review"`
	Status             TimeEntryStatus `db:"status" json:"status"`
	RecordedOffline    bool            `db:"recorded_offline" json:"recorded_offline"`
	Version            int             `db:"version" json:"version"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
}

// ManualOverride records a supervisor-gated acceptance of a flagged entry.
// Created once, never deleted or edited; the prior verification outcome it
// supersedes is snapshotted for the audit trail.
type ManualOverride struct {
	ID            string         `db:"id" json:"id"`
	TimeEntryID   string         `db:"time_entry_id" json:"time_entry_id"`
	SupervisorID  string         `db:"supervisor_id" json:"supervisor_id"`
	Reason        string         `db:"reason" json:"reason"`
	PriorPassed   bool           `db:"prior_passed" json:"prior_passed"`
	PriorStatus   TimeEntryStatus `db:"prior_status" json:"prior_status"`
	PriorIssues   pq.StringArray `db:"prior_issues" json:"prior_issues"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}
