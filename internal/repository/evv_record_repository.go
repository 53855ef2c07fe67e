package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/carebridge-health/evv-engine/internal/models"
)

// EVVRecordRepository persists per-visit EVV record aggregates.
type EVVRecordRepository struct {
	db *sqlx.DB
}

// NewEVVRecordRepository constructs the repository.
func NewEVVRecordRepository(db *sqlx.DB) *EVVRecordRepository {
	return &EVVRecordRepository{db: db}
}

const recordColumns = `id, org_id, visit_id, client_id, client_name, caregiver_id, caregiver_name,
       service_date, service_type, state, payer_type, clock_in_at, clock_out_at, total_duration_mins,
       record_status, verification_level, compliance_flags, submitted_to_payor, submission_status,
       payor_approval, confirmation_id, supersedes, superseded, amendment_reason, version, created_at, updated_at`

// Create inserts a new record row.
func (r *EVVRecordRepository) Create(ctx context.Context, record *models.EVVRecord) error {
	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.Version == 0 {
		record.Version = 1
	}
	const query = `INSERT INTO evv_records
	(id, org_id, visit_id, client_id, client_name, caregiver_id, caregiver_name, service_date, service_type,
	 state, payer_type, clock_in_at, clock_out_at, total_duration_mins, record_status, verification_level,
	 compliance_flags, submitted_to_payor, submission_status, payor_approval, confirmation_id, supersedes,
	 superseded, amendment_reason, version, created_at, updated_at)
	VALUES (:id, :org_id, :visit_id, :client_id, :client_name, :caregiver_id, :caregiver_name, :service_date,
	 :service_type, :state, :payer_type, :clock_in_at, :clock_out_at, :total_duration_mins, :record_status,
	 :verification_level, :compliance_flags, :submitted_to_payor, :submission_status, :payor_approval,
	 :confirmation_id, :supersedes, :superseded, :amendment_reason, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create evv record: %w", err)
	}
	return nil
}

// GetByID fetches a record by identifier.
func (r *EVVRecordRepository) GetByID(ctx context.Context, id string) (*models.EVVRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM evv_records WHERE id = $1`, recordColumns)
	var record models.EVVRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// GetCurrentByVisit returns the non-superseded record for a visit.
func (r *EVVRecordRepository) GetCurrentByVisit(ctx context.Context, visitID string) (*models.EVVRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM evv_records WHERE visit_id = $1 AND superseded = FALSE
	ORDER BY created_at DESC LIMIT 1`, recordColumns)
	var record models.EVVRecord
	if err := r.db.GetContext(ctx, &record, query, visitID); err != nil {
		return nil, err
	}
	return &record, nil
}

// List returns records matching the filter plus the total match count.
func (r *EVVRecordRepository) List(ctx context.Context, filter models.RecordFilter) ([]models.EVVRecord, int, error) {
	where, args := buildRecordFilter(filter)

	countQuery := "SELECT COUNT(*) FROM evv_records" + where
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count evv records: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}
	query := fmt.Sprintf("SELECT %s FROM evv_records%s ORDER BY service_date DESC, created_at DESC LIMIT $%d OFFSET $%d",
		recordColumns, where, len(args)+1, len(args)+2)
	args = append(args, pageSize, (page-1)*pageSize)

	var records []models.EVVRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list evv records: %w", err)
	}
	return records, total, nil
}

func buildRecordFilter(filter models.RecordFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	next := func() string {
		return "$" + strconv.Itoa(len(args)+1)
	}
	if filter.OrgID != "" {
		clauses = append(clauses, "org_id = "+next())
		args = append(args, filter.OrgID)
	}
	if filter.VisitID != "" {
		clauses = append(clauses, "visit_id = "+next())
		args = append(args, filter.VisitID)
	}
	if filter.ClientID != "" {
		clauses = append(clauses, "client_id = "+next())
		args = append(args, filter.ClientID)
	}
	if filter.CaregiverID != "" {
		clauses = append(clauses, "caregiver_id = "+next())
		args = append(args, filter.CaregiverID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		clauses = append(clauses, "record_status = ANY("+next()+")")
		args = append(args, pq.StringArray(statuses))
	}
	if filter.Flag != "" {
		clauses = append(clauses, next()+" = ANY(compliance_flags)")
		args = append(args, filter.Flag)
	}
	if filter.DateFrom != nil {
		clauses = append(clauses, "service_date >= "+next())
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		clauses = append(clauses, "service_date <= "+next())
		args = append(args, *filter.DateTo)
	}
	if !filter.IncludeSuperseded {
		clauses = append(clauses, "superseded = FALSE")
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// UpdateLifecycle writes the clock/verification state of a record, guarded by
// optimistic version. sql.ErrNoRows signals a version conflict.
func (r *EVVRecordRepository) UpdateLifecycle(ctx context.Context, record *models.EVVRecord) error {
	const query = `UPDATE evv_records SET
	 clock_in_at = :clock_in_at, clock_out_at = :clock_out_at, total_duration_mins = :total_duration_mins,
	 record_status = :record_status, verification_level = :verification_level, compliance_flags = :compliance_flags,
	 version = version + 1, updated_at = :updated_at
	WHERE id = :id AND version = :version AND superseded = FALSE`
	record.UpdatedAt = time.Now().UTC()
	result, err := r.db.NamedExecContext(ctx, query, record)
	if err != nil {
		return fmt.Errorf("update record lifecycle: %w", err)
	}
	if err := requireRowsAffected(result); err != nil {
		return err
	}
	record.Version++
	return nil
}

// UpdateSubmissionState records the delivery outcome of a submission attempt.
// It is not version-guarded: only the submission pipeline writes these columns.
func (r *EVVRecordRepository) UpdateSubmissionState(ctx context.Context, id string, status models.SubmissionStatus, confirmationID *string) error {
	const query = `UPDATE evv_records SET
	 submission_status = $2,
	 confirmation_id = COALESCE($3, confirmation_id),
	 submitted_to_payor = (CASE WHEN $2 = 'SUBMITTED' THEN TRUE ELSE submitted_to_payor END),
	 updated_at = $4
	WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, status, confirmationID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update submission state: %w", err)
	}
	return requireRowsAffected(result)
}

// MarkSuperseded flags the original row during an amendment, guarded by
// optimistic version so concurrent amendments cannot both win.
func (r *EVVRecordRepository) MarkSuperseded(ctx context.Context, id string, version int) error {
	const query = `UPDATE evv_records SET superseded = TRUE, version = version + 1, updated_at = $3
	WHERE id = $1 AND version = $2 AND superseded = FALSE`
	result, err := r.db.ExecContext(ctx, query, id, version, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark record superseded: %w", err)
	}
	return requireRowsAffected(result)
}

// SummaryRow is the minimal projection the compliance summary aggregates over.
type SummaryRow struct {
	RecordStatus      models.RecordStatus      `db:"record_status"`
	VerificationLevel models.VerificationLevel `db:"verification_level"`
	ComplianceFlags   pq.StringArray           `db:"compliance_flags"`
	SubmissionStatus  models.SubmissionStatus  `db:"submission_status"`
	SubmittedToPayor  bool                     `db:"submitted_to_payor"`
}

// ListForSummary streams the projection rows for an org and date window,
// excluding superseded records.
func (r *EVVRecordRepository) ListForSummary(ctx context.Context, orgID string, from, to time.Time) ([]SummaryRow, error) {
	const query = `SELECT record_status, verification_level, compliance_flags, submission_status, submitted_to_payor
	FROM evv_records
	WHERE org_id = $1 AND service_date >= $2 AND service_date <= $3 AND superseded = FALSE`
	var rows []SummaryRow
	if err := r.db.SelectContext(ctx, &rows, query, orgID, from, to); err != nil {
		return nil, fmt.Errorf("list records for summary: %w", err)
	}
	return rows, nil
}
