package provider

import (
	"context"
	"errors"
	"time"

	"github.com/carebridge-health/evv-engine/internal/models"
)

// Distinct not-found sentinels so callers can tell which master-data lookup
// failed. Providers never return partially populated snapshots.
var (
	ErrClientNotFound    = errors.New("client not found")
	ErrCaregiverNotFound = errors.New("caregiver not found")
	ErrVisitNotFound     = errors.New("visit not found")
)

// ClientSnapshot is the EVV-relevant projection of a client record.
type ClientSnapshot struct {
	ID                   string
	OrgID                string
	DisplayName          string
	AddressLine          string
	Location             models.Coordinate
	GeofenceRadiusMeters float64 // 0 means use the jurisdiction/engine default
	State                string
	PayerType            string
}

// Credential is one caregiver qualification.
type Credential struct {
	Type      string
	Code      string
	ExpiresAt *time.Time
}

// Expired reports whether the credential has lapsed at the given time.
func (c Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// ExpiringWithin reports whether the credential lapses inside the window.
func (c Credential) ExpiringWithin(now time.Time, window time.Duration) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.After(now) && c.ExpiresAt.Before(now.Add(window))
}

// CaregiverSnapshot is the EVV-relevant projection of a caregiver record.
type CaregiverSnapshot struct {
	ID                 string
	OrgID              string
	DisplayName        string
	Credentials        []Credential
	ScreeningCleared   bool
	ScreeningExpiresAt *time.Time
	Skills             []string
}

// FindCredential returns the caregiver's credential of the given type.
func (c CaregiverSnapshot) FindCredential(credType string) (Credential, bool) {
	for _, cred := range c.Credentials {
		if cred.Type == credType {
			return cred, true
		}
	}
	return Credential{}, false
}

// VisitSnapshot is the EVV-relevant projection of a scheduled visit.
type VisitSnapshot struct {
	ID             string
	OrgID          string
	ClientID       string
	CaregiverID    string
	ScheduledStart time.Time
	ScheduledEnd   time.Time
	ServiceType    string
	RequiredSkills []string
	Cancelled      bool
}

// ClientProvider resolves client master data owned by the client subsystem.
type ClientProvider interface {
	GetClientForEVV(ctx context.Context, clientID string) (*ClientSnapshot, error)
}

// CaregiverProvider resolves caregiver credential data.
type CaregiverProvider interface {
	GetCaregiverForEVV(ctx context.Context, caregiverID string) (*CaregiverSnapshot, error)
}

// VisitProvider resolves visit schedule data.
type VisitProvider interface {
	GetVisitForEVV(ctx context.Context, visitID string) (*VisitSnapshot, error)
}
