package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/carebridge-health/evv-engine/internal/models"
)

// TimeEntryRepository persists clock event outcomes and overrides.
type TimeEntryRepository struct {
	db *sqlx.DB
}

// NewTimeEntryRepository constructs the repository.
func NewTimeEntryRepository(db *sqlx.DB) *TimeEntryRepository {
	return &TimeEntryRepository{db: db}
}

const timeEntryColumns = `id, org_id, visit_id, entry_type, timestamp, latitude, longitude, accuracy_meters,
       distance_meters, within_geofence, device_id, device_model, device_os, method, signature_captured,
       verification_passed, verification_level, verification_issues, flags, requires_review, status,
       recorded_offline, version, created_at`

// Create inserts a new time entry row.
func (r *TimeEntryRepository) Create(ctx context.Context, entry *models.TimeEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Version == 0 {
		entry.Version = 1
	}
	const query = `INSERT INTO time_entries
	(id, org_id, visit_id, entry_type, timestamp, latitude, longitude, accuracy_meters, distance_meters,
	 within_geofence, device_id, device_model, device_os, method, signature_captured, verification_passed,
	 verification_level, verification_issues, flags, requires_review, status, recorded_offline, version, created_at)
	VALUES (:id, :org_id, :visit_id, :entry_type, :timestamp, :latitude, :longitude, :accuracy_meters, :distance_meters,
	 :within_geofence, :device_id, :device_model, :device_os, :method, :signature_captured, :verification_passed,
	 :verification_level, :verification_issues, :flags, :requires_review, :status, :recorded_offline, :version, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("create time entry: %w", err)
	}
	return nil
}

// GetByID fetches a time entry by identifier.
func (r *TimeEntryRepository) GetByID(ctx context.Context, id string) (*models.TimeEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM time_entries WHERE id = $1`, timeEntryColumns)
	var entry models.TimeEntry
	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListByVisit returns all entries for a visit ordered by creation.
func (r *TimeEntryRepository) ListByVisit(ctx context.Context, visitID string) ([]models.TimeEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM time_entries WHERE visit_id = $1 ORDER BY created_at ASC`, timeEntryColumns)
	var entries []models.TimeEntry
	if err := r.db.SelectContext(ctx, &entries, query, visitID); err != nil {
		return nil, fmt.Errorf("list time entries for visit %s: %w", visitID, err)
	}
	return entries, nil
}

// FindCounted returns the ACCEPTED or OVERRIDDEN entry of the given type for
// a visit, if one exists. At most one such entry is permitted per type.
func (r *TimeEntryRepository) FindCounted(ctx context.Context, visitID string, entryType models.EntryType) (*models.TimeEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM time_entries
	WHERE visit_id = $1 AND entry_type = $2 AND status IN ('ACCEPTED', 'OVERRIDDEN')
	ORDER BY created_at ASC LIMIT 1`, timeEntryColumns)
	var entry models.TimeEntry
	if err := r.db.GetContext(ctx, &entry, query, visitID, entryType); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find counted entry for visit %s: %w", visitID, err)
	}
	return &entry, nil
}

// MarkAccepted promotes a provisional entry, guarded by optimistic version.
func (r *TimeEntryRepository) MarkAccepted(ctx context.Context, id string, version int) error {
	const query = `UPDATE time_entries SET status = 'ACCEPTED', version = version + 1
	WHERE id = $1 AND version = $2 AND status = 'PENDING_REVIEW'`
	result, err := r.db.ExecContext(ctx, query, id, version)
	if err != nil {
		return fmt.Errorf("mark entry accepted: %w", err)
	}
	return requireRowsAffected(result)
}

// MarkOverridden transitions the entry to OVERRIDDEN, guarded by optimistic
// version so two supervisors cannot race on the same entry.
func (r *TimeEntryRepository) MarkOverridden(ctx context.Context, id string, version int) error {
	const query = `UPDATE time_entries SET status = 'OVERRIDDEN', version = version + 1
	WHERE id = $1 AND version = $2 AND status <> 'OVERRIDDEN'`
	result, err := r.db.ExecContext(ctx, query, id, version)
	if err != nil {
		return fmt.Errorf("mark entry overridden: %w", err)
	}
	return requireRowsAffected(result)
}

// ListProvisionalClockOuts returns PENDING_REVIEW clock-outs held for
// out-of-order reconciliation.
func (r *TimeEntryRepository) ListProvisionalClockOuts(ctx context.Context, limit int) ([]models.TimeEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM time_entries
	WHERE entry_type = 'CLOCK_OUT' AND status = 'PENDING_REVIEW' AND 'OUT_OF_ORDER' = ANY(flags)
	ORDER BY created_at ASC LIMIT $1`, timeEntryColumns)
	var entries []models.TimeEntry
	if err := r.db.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, fmt.Errorf("list provisional clock-outs: %w", err)
	}
	return entries, nil
}

// CreateOverride appends an immutable override record.
func (r *TimeEntryRepository) CreateOverride(ctx context.Context, override *models.ManualOverride) error {
	if override.ID == "" {
		override.ID = uuid.NewString()
	}
	if override.CreatedAt.IsZero() {
		override.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO manual_overrides
	(id, time_entry_id, supervisor_id, reason, prior_passed, prior_status, prior_issues, created_at)
	VALUES (:id, :time_entry_id, :supervisor_id, :reason, :prior_passed, :prior_status, :prior_issues, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, override); err != nil {
		return fmt.Errorf("create manual override: %w", err)
	}
	return nil
}

// ListOverrides returns the override trail for an entry, oldest first.
func (r *TimeEntryRepository) ListOverrides(ctx context.Context, timeEntryID string) ([]models.ManualOverride, error) {
	const query = `SELECT id, time_entry_id, supervisor_id, reason, prior_passed, prior_status, prior_issues, created_at
	FROM manual_overrides WHERE time_entry_id = $1 ORDER BY created_at ASC`
	var overrides []models.ManualOverride
	if err := r.db.SelectContext(ctx, &overrides, query, timeEntryID); err != nil {
		return nil, fmt.Errorf("list overrides for entry %s: %w", timeEntryID, err)
	}
	return overrides, nil
}

func requireRowsAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
