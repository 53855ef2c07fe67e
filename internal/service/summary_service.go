package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/carebridge-health/evv-engine/internal/dto"
	"github.com/carebridge-health/evv-engine/internal/models"
	"github.com/carebridge-health/evv-engine/internal/repository"
	"github.com/carebridge-health/evv-engine/pkg/config"
	appErrors "github.com/carebridge-health/evv-engine/pkg/errors"
	"github.com/carebridge-health/evv-engine/pkg/export"
)

type summaryRecordStore interface {
	ListForSummary(ctx context.Context, orgID string, from, to time.Time) ([]repository.SummaryRow, error)
	List(ctx context.Context, filter models.RecordFilter) ([]models.EVVRecord, int, error)
}

type summaryCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// SummaryService aggregates compliance posture across an org's records and
// renders exports. Summaries are cached cache-aside under the org and window.
type SummaryService struct {
	records summaryRecordStore
	cache   summaryCache
	csv     *export.CSVExporter
	pdf     *export.PDFExporter
	cfg     config.SummaryConfig
	logger  *zap.Logger
}

// NewSummaryService constructs the service.
func NewSummaryService(records summaryRecordStore, cache summaryCache, cfg config.SummaryConfig, logger *zap.Logger) *SummaryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryService{
		records: records,
		cache:   cache,
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
		cfg:     cfg,
		logger:  logger,
	}
}

// Summarize computes the compliance summary for the window.
func (s *SummaryService) Summarize(ctx context.Context, actor Actor, from, to time.Time) (*dto.ComplianceSummary, error) {
	key := summaryKey(actor.OrgID, from, to)
	if s.cfg.CacheEnabled && s.cache != nil {
		var cached dto.ComplianceSummary
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	rows, err := s.records.ListForSummary(ctx, actor.OrgID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate records")
	}

	summary := &dto.ComplianceSummary{
		OrgID:   actor.OrgID,
		From:    from,
		To:      to,
		ByLevel: make(map[string]int),
		ByFlag:  make(map[string]int),
	}
	for _, row := range rows {
		summary.TotalRecords++
		summary.ByLevel[string(row.VerificationLevel)]++

		compliant := true
		for _, flag := range row.ComplianceFlags {
			if flag == models.FlagCompliant {
				continue
			}
			compliant = false
			summary.ByFlag[flag]++
			if flag == models.FlagPendingReview {
				summary.PendingReview++
			}
		}
		if compliant {
			summary.CompliantRecords++
		} else {
			summary.FlaggedRecords++
		}
		if row.SubmittedToPayor {
			summary.SubmittedRecords++
		}
		if row.SubmissionStatus == models.SubmissionFailed {
			summary.FailedSubmissions++
		}
	}

	if s.cfg.CacheEnabled && s.cache != nil {
		if err := s.cache.Set(ctx, key, summary, s.cfg.CacheTTL); err != nil {
			s.logger.Sugar().Warnw("failed to cache summary", "key", key, "error", err)
		}
	}
	return summary, nil
}

// ExportRecords renders the filtered record list as CSV or PDF.
func (s *SummaryService) ExportRecords(ctx context.Context, actor Actor, filter models.RecordFilter, format string) ([]byte, string, error) {
	filter.OrgID = actor.OrgID
	if filter.PageSize <= 0 {
		filter.PageSize = 200
	}
	records, _, err := s.records.List(ctx, filter)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load records")
	}

	dataset := recordDataset(records)
	switch format {
	case "pdf":
		body, err := s.pdf.Render(dataset, "EVV Compliance Records")
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return body, "application/pdf", nil
	case "csv", "":
		body, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return body, "text/csv", nil
	default:
		return nil, "", appErrors.WithDetails(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
}

func recordDataset(records []models.EVVRecord) export.Dataset {
	headers := []string{"Visit", "Client", "Caregiver", "Date", "Service", "Status", "Level", "Duration (min)", "Flags", "Submission"}
	rows := make([]map[string]string, 0, len(records))
	for _, r := range records {
		duration := ""
		if r.TotalDurationMins != nil {
			duration = strconv.Itoa(*r.TotalDurationMins)
		}
		rows = append(rows, map[string]string{
			"Visit":          r.VisitID,
			"Client":         r.ClientName,
			"Caregiver":      r.CaregiverName,
			"Date":           r.ServiceDate.Format("2006-01-02"),
			"Service":        r.ServiceType,
			"Status":         string(r.RecordStatus),
			"Level":          string(r.VerificationLevel),
			"Duration (min)": duration,
			"Flags":          joinFlags(r.ComplianceFlags),
			"Submission":     string(r.SubmissionStatus),
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}

func joinFlags(flags []string) string {
	out := ""
	for i, f := range flags {
		if i > 0 {
			out += "|"
		}
		out += f
	}
	return out
}

func summaryKey(orgID string, from, to time.Time) string {
	return fmt.Sprintf("evv:summary:%s:%s:%s", orgID, from.Format("20060102"), to.Format("20060102"))
}
