package models

import (
	"time"

	"github.com/lib/pq"
)

// RecordStatus is the lifecycle state of an EVVRecord.
type RecordStatus string

const (
	RecordPending    RecordStatus = "PENDING"
	RecordInProgress RecordStatus = "IN_PROGRESS"
	RecordComplete   RecordStatus = "COMPLETE"
	RecordCancelled  RecordStatus = "CANCELLED"
)

// VerificationLevel is the categorical strength of evidence behind a clock
// event or a record.
type VerificationLevel string

const (
	LevelFull      VerificationLevel = "FULL"
	LevelPartial   VerificationLevel = "PARTIAL"
	LevelManual    VerificationLevel = "MANUAL"
	LevelPhone     VerificationLevel = "PHONE"
	LevelException VerificationLevel = "EXCEPTION"
)

// rank orders levels by evidence strength, strongest first.
var levelRank = map[VerificationLevel]int{
	LevelFull:      0,
	LevelPartial:   1,
	LevelPhone:     2,
	LevelManual:    3,
	LevelException: 4,
}

// StricterOf returns the weaker-evidence level of the two; a record inherits
// the stricter (lower-confidence) classification of its entries.
func StricterOf(a, b VerificationLevel) VerificationLevel {
	ra, ok := levelRank[a]
	if !ok {
		return b
	}
	rb, ok := levelRank[b]
	if !ok {
		return a
	}
	if rb > ra {
		return b
	}
	return a
}

// Compliance flag tokens attached to records.
const (
	FlagCompliant          = "COMPLIANT"
	FlagGeofenceViolation  = "GEOFENCE_VIOLATION"
	FlagDeviceSuspicious   = "DEVICE_SUSPICIOUS"
	FlagLocationSuspicious = "LOCATION_SUSPICIOUS"
	FlagLocationMismatch   = "LOCATION_MISMATCH"
	FlagDuplicateEntry     = "DUPLICATE_ENTRY"
	FlagManualOverride     = "MANUAL_OVERRIDE"
	FlagVMURAmendment      = "VMUR_AMENDMENT"
	FlagOutOfOrder         = "OUT_OF_ORDER"
	FlagPendingReview      = "PENDING_REVIEW"
)

// PayorApprovalStatus tracks the aggregator-side adjudication of a submission.
type PayorApprovalStatus string

const (
	ApprovalPending     PayorApprovalStatus = "PENDING"
	ApprovalApproved    PayorApprovalStatus = "APPROVED"
	ApprovalDenied      PayorApprovalStatus = "DENIED"
	ApprovalPendingInfo PayorApprovalStatus = "PENDING_INFO"
	ApprovalAppealed    PayorApprovalStatus = "APPEALED"
)

// SubmissionStatus is the record-level delivery state.
type SubmissionStatus string

const (
	SubmissionNotSubmitted SubmissionStatus = "NOT_SUBMITTED"
	SubmissionQueued       SubmissionStatus = "QUEUED"
	SubmissionSubmitted    SubmissionStatus = "SUBMITTED"
	SubmissionFailed       SubmissionStatus = "FAILED"
)

// EVVRecord is the per-visit aggregate the rest of the platform reads. A visit
// owns at most one current record; amendments create a new row that supersedes
// the original without mutating it.
type EVVRecord struct {
	ID                  string               `db:"id" json:"id"`
	OrgID               string               `db:"org_id" json:"org_id"`
	VisitID             string               `db:"visit_id" json:"visit_id"`
	ClientID            string               `db:"client_id" json:"client_id"`
	ClientName          string               `db:"client_name" json:"client_name"`
	CaregiverID         string               `db:"caregiver_id" json:"caregiver_id"`
	CaregiverName       string               `db:"caregiver_name" json:"caregiver_name"`
	ServiceDate         time.Time            `db:"service_date" json:"service_date"`
	ServiceType         string               `db:"service_type" json:"service_type"`
	State               string               `db:"state" json:"state"`
	PayerType           string               `db:"payer_type" json:"payer_type"`
	ClockInAt           *time.Time           `db:"clock_in_at" json:"clock_in_at,omitempty"`
	ClockOutAt          *time.Time           `db:"clock_out_at" json:"clock_out_at,omitempty"`
	TotalDurationMins   *int                 `db:"total_duration_mins" json:"total_duration_mins,omitempty"`
	RecordStatus        RecordStatus         `db:"record_status" json:"record_status"`
	VerificationLevel   VerificationLevel    `db:"verification_level" json:"verification_level"`
	ComplianceFlags     pq.StringArray       `db:"compliance_flags" json:"compliance_flags"`
	SubmittedToPayor    bool                 `db:"submitted_to_payor" json:"submitted_to_payor"`
	SubmissionStatus    SubmissionStatus     `db:"submission_status" json:"submission_status"`
	PayorApproval       PayorApprovalStatus  `db:"payor_approval" json:"payor_approval"`
	ConfirmationID      *string              `db:"confirmation_id" json:"confirmation_id,omitempty"`
	Supersedes          *string              `db:"supersedes" json:"supersedes,omitempty"`
	Superseded          bool                 `db:"superseded" json:"superseded"`
	AmendmentReason     *string              `db:"amendment_reason" json:"amendment_reason,omitempty"`
	Version             int                  `db:"version" json:"version"`
	CreatedAt           time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time            `db:"updated_at" json:"updated_at"`
}

// Compliant reports whether the flag set carries no deviation tokens.
func (r *EVVRecord) Compliant() bool {
	for _, f := range r.ComplianceFlags {
		if f != FlagCompliant {
			return false
		}
	}
	return true
}

// RecordFilter scopes search queries. Superseded records are excluded unless
// IncludeSuperseded is set.
type RecordFilter struct {
	OrgID             string
	VisitID           string
	ClientID          string
	CaregiverID       string
	Status            []RecordStatus
	Flag              string
	DateFrom          *time.Time
	DateTo            *time.Time
	IncludeSuperseded bool
	Page              int
	PageSize          int
}

// VerificationResult is the Verification Engine's outcome for one clock event.
type VerificationResult struct {
	Passed                   bool              `json:"passed"`
	Level                    VerificationLevel `json:"level"`
	Flags                    []string          `json:"flags"`
	Issues                   []string          `json:"issues"`
	RequiresSupervisorReview bool              `json:"requires_supervisor_review"`
	DistanceMeters           *float64          `json:"distance_meters,omitempty"`
	WithinGeofence           bool              `json:"within_geofence"`
}
