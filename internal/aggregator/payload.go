package aggregator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/carebridge-health/evv-engine/internal/models"
)

// Payload is the wire format delivered to a state aggregator. Field names
// follow the common HHAeXchange/Sandata visit-record vocabulary; all
// timestamps are UTC RFC3339.
type Payload struct {
	RecordID          string   `json:"recordId"`
	VisitID           string   `json:"visitId"`
	ProviderOrgID     string   `json:"providerOrgId"`
	ClientID          string   `json:"clientId"`
	ClientName        string   `json:"clientName"`
	CaregiverID       string   `json:"caregiverId"`
	CaregiverName     string   `json:"caregiverName"`
	ServiceDate       string   `json:"serviceDate"`
	ServiceType       string   `json:"serviceType"`
	ClockInAt         string   `json:"clockInAt"`
	ClockOutAt        string   `json:"clockOutAt"`
	DurationMinutes   int      `json:"durationMinutes"`
	VerificationLevel string   `json:"verificationLevel"`
	ComplianceFlags   []string `json:"complianceFlags"`
	AmendmentOf       string   `json:"amendmentOf,omitempty"`
	AmendmentReason   string   `json:"amendmentReason,omitempty"`
}

// BuildPayload projects a COMPLETE record into the aggregator wire format.
func BuildPayload(record *models.EVVRecord) (*Payload, error) {
	if record.ClockInAt == nil || record.ClockOutAt == nil {
		return nil, fmt.Errorf("record %s is missing clock timestamps", record.ID)
	}
	duration := 0
	if record.TotalDurationMins != nil {
		duration = *record.TotalDurationMins
	}
	p := &Payload{
		RecordID:          record.ID,
		VisitID:           record.VisitID,
		ProviderOrgID:     record.OrgID,
		ClientID:          record.ClientID,
		ClientName:        record.ClientName,
		CaregiverID:       record.CaregiverID,
		CaregiverName:     record.CaregiverName,
		ServiceDate:       record.ServiceDate.UTC().Format("2006-01-02"),
		ServiceType:       record.ServiceType,
		ClockInAt:         record.ClockInAt.UTC().Format(time.RFC3339),
		ClockOutAt:        record.ClockOutAt.UTC().Format(time.RFC3339),
		DurationMinutes:   duration,
		VerificationLevel: string(record.VerificationLevel),
		ComplianceFlags:   append([]string(nil), record.ComplianceFlags...),
	}
	if record.Supersedes != nil {
		p.AmendmentOf = *record.Supersedes
	}
	if record.AmendmentReason != nil {
		p.AmendmentReason = *record.AmendmentReason
	}
	return p, nil
}

// Encode marshals the payload and returns the bytes plus their SHA-256 hash.
// The hash keys idempotent delivery: the same record content always hashes
// identically, an amended record hashes differently.
func (p *Payload) Encode() ([]byte, string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, "", fmt.Errorf("encode aggregator payload: %w", err)
	}
	sum := sha256.Sum256(body)
	return body, hex.EncodeToString(sum[:]), nil
}
