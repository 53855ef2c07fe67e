package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin             = "LOGIN"
	AuditActionLogout            = "LOGOUT"
	AuditActionClockIn           = "CLOCK_IN"
	AuditActionClockOut          = "CLOCK_OUT"
	AuditActionManualOverride    = "MANUAL_OVERRIDE"
	AuditActionAmendmentCreate   = "AMENDMENT_CREATE"
	AuditActionSubmissionRetry   = "SUBMISSION_RETRY"
	AuditActionEligibilityBlock  = "ELIGIBILITY_BLOCK"
	AuditActionEligibilityWaiver = "ELIGIBILITY_WAIVER"
	AuditActionRecordView        = "RECORD_VIEW"
	AuditActionComplianceView    = "COMPLIANCE_VIEW"
	AuditActionComplianceExport  = "COMPLIANCE_EXPORT"
)

// AuditLog represents an audit trail record. Rows are append-only and never
// deleted (compliance retention requirement).
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	OrgID      string    `db:"org_id" json:"org_id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
