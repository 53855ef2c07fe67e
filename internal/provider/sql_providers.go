package provider

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/carebridge-health/evv-engine/internal/models"
)

// SQLProviders reads the master-data tables owned by the client, caregiver and
// scheduling subsystems. Read-only: the engine never writes these tables.
type SQLProviders struct {
	db *sqlx.DB
}

// NewSQLProviders constructs the combined provider backed by sqlx.
func NewSQLProviders(db *sqlx.DB) *SQLProviders {
	return &SQLProviders{db: db}
}

type clientRow struct {
	ID             string  `db:"id"`
	OrgID          string  `db:"org_id"`
	DisplayName    string  `db:"display_name"`
	AddressLine    string  `db:"address_line"`
	Latitude       float64 `db:"latitude"`
	Longitude      float64 `db:"longitude"`
	GeofenceRadius float64 `db:"geofence_radius_m"`
	State          string  `db:"state"`
	PayerType      string  `db:"payer_type"`
}

// GetClientForEVV implements ClientProvider.
func (p *SQLProviders) GetClientForEVV(ctx context.Context, clientID string) (*ClientSnapshot, error) {
	const query = `SELECT id, org_id, display_name, address_line, latitude, longitude, geofence_radius_m, state, payer_type
	FROM clients WHERE id = $1`
	var row clientRow
	if err := p.db.GetContext(ctx, &row, query, clientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("get client %s: %w", clientID, err)
	}
	return &ClientSnapshot{
		ID:                   row.ID,
		OrgID:                row.OrgID,
		DisplayName:          row.DisplayName,
		AddressLine:          row.AddressLine,
		Location:             models.Coordinate{Latitude: row.Latitude, Longitude: row.Longitude},
		GeofenceRadiusMeters: row.GeofenceRadius,
		State:                row.State,
		PayerType:            row.PayerType,
	}, nil
}

type caregiverRow struct {
	ID                 string         `db:"id"`
	OrgID              string         `db:"org_id"`
	DisplayName        string         `db:"display_name"`
	ScreeningCleared   bool           `db:"screening_cleared"`
	ScreeningExpiresAt *time.Time     `db:"screening_expires_at"`
	Skills             pq.StringArray `db:"skills"`
}

type credentialRow struct {
	Type      string     `db:"credential_type"`
	Code      string     `db:"code"`
	ExpiresAt *time.Time `db:"expires_at"`
}

// GetCaregiverForEVV implements CaregiverProvider.
func (p *SQLProviders) GetCaregiverForEVV(ctx context.Context, caregiverID string) (*CaregiverSnapshot, error) {
	const query = `SELECT id, org_id, display_name, screening_cleared, screening_expires_at, skills
	FROM caregivers WHERE id = $1`
	var row caregiverRow
	if err := p.db.GetContext(ctx, &row, query, caregiverID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCaregiverNotFound
		}
		return nil, fmt.Errorf("get caregiver %s: %w", caregiverID, err)
	}

	const credQuery = `SELECT credential_type, code, expires_at
	FROM caregiver_credentials WHERE caregiver_id = $1 ORDER BY credential_type`
	var credRows []credentialRow
	if err := p.db.SelectContext(ctx, &credRows, credQuery, caregiverID); err != nil {
		return nil, fmt.Errorf("get caregiver credentials %s: %w", caregiverID, err)
	}

	snapshot := &CaregiverSnapshot{
		ID:                 row.ID,
		OrgID:              row.OrgID,
		DisplayName:        row.DisplayName,
		ScreeningCleared:   row.ScreeningCleared,
		ScreeningExpiresAt: row.ScreeningExpiresAt,
		Skills:             append([]string(nil), row.Skills...),
	}
	for _, cr := range credRows {
		snapshot.Credentials = append(snapshot.Credentials, Credential{
			Type:      cr.Type,
			Code:      cr.Code,
			ExpiresAt: cr.ExpiresAt,
		})
	}
	return snapshot, nil
}

type visitRow struct {
	ID             string         `db:"id"`
	OrgID          string         `db:"org_id"`
	ClientID       string         `db:"client_id"`
	CaregiverID    string         `db:"caregiver_id"`
	ScheduledStart time.Time      `db:"scheduled_start"`
	ScheduledEnd   time.Time      `db:"scheduled_end"`
	ServiceType    string         `db:"service_type"`
	RequiredSkills pq.StringArray `db:"required_skills"`
	Cancelled      bool           `db:"cancelled"`
}

// GetVisitForEVV implements VisitProvider.
func (p *SQLProviders) GetVisitForEVV(ctx context.Context, visitID string) (*VisitSnapshot, error) {
	const query = `SELECT id, org_id, client_id, caregiver_id, scheduled_start, scheduled_end, service_type, required_skills, cancelled
	FROM visits WHERE id = $1`
	var row visitRow
	if err := p.db.GetContext(ctx, &row, query, visitID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVisitNotFound
		}
		return nil, fmt.Errorf("get visit %s: %w", visitID, err)
	}
	return &VisitSnapshot{
		ID:             row.ID,
		OrgID:          row.OrgID,
		ClientID:       row.ClientID,
		CaregiverID:    row.CaregiverID,
		ScheduledStart: row.ScheduledStart,
		ScheduledEnd:   row.ScheduledEnd,
		ServiceType:    row.ServiceType,
		RequiredSkills: append([]string(nil), row.RequiredSkills...),
		Cancelled:      row.Cancelled,
	}, nil
}
