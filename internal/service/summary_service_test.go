package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carebridge-health/evv-engine/internal/models"
	"github.com/carebridge-health/evv-engine/internal/repository"
	"github.com/carebridge-health/evv-engine/pkg/config"
	appErrors "github.com/carebridge-health/evv-engine/pkg/errors"
)

type stubSummaryStore struct {
	rows      []repository.SummaryRow
	records   []models.EVVRecord
	listCalls int
}

func (s *stubSummaryStore) ListForSummary(_ context.Context, _ string, _, _ time.Time) ([]repository.SummaryRow, error) {
	s.listCalls++
	return s.rows, nil
}

func (s *stubSummaryStore) List(_ context.Context, filter models.RecordFilter) ([]models.EVVRecord, int, error) {
	var out []models.EVVRecord
	for _, r := range s.records {
		if filter.OrgID != "" && r.OrgID != filter.OrgID {
			continue
		}
		out = append(out, r)
	}
	return out, len(out), nil
}

type stubSummaryCache struct {
	values map[string][]byte
}

func newStubSummaryCache() *stubSummaryCache {
	return &stubSummaryCache{values: map[string][]byte{}}
}

func (c *stubSummaryCache) Get(_ context.Context, key string, dest interface{}) error {
	raw, ok := c.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *stubSummaryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.values[key] = raw
	return nil
}

func summaryRows() []repository.SummaryRow {
	return []repository.SummaryRow{
		{RecordStatus: models.RecordComplete, VerificationLevel: models.LevelFull,
			ComplianceFlags: []string{models.FlagCompliant}, SubmissionStatus: models.SubmissionSubmitted, SubmittedToPayor: true},
		{RecordStatus: models.RecordComplete, VerificationLevel: models.LevelFull,
			ComplianceFlags: []string{models.FlagCompliant}, SubmissionStatus: models.SubmissionFailed},
		{RecordStatus: models.RecordComplete, VerificationLevel: models.LevelPartial,
			ComplianceFlags: []string{models.FlagGeofenceViolation, models.FlagPendingReview}, SubmissionStatus: models.SubmissionNotSubmitted},
		{RecordStatus: models.RecordInProgress, VerificationLevel: models.LevelPhone,
			ComplianceFlags: []string{models.FlagOutOfOrder, models.FlagPendingReview}, SubmissionStatus: models.SubmissionNotSubmitted},
	}
}

func TestSummarizeAggregatesWindow(t *testing.T) {
	store := &stubSummaryStore{rows: summaryRows()}
	svc := NewSummaryService(store, nil, config.SummaryConfig{}, nil)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	summary, err := svc.Summarize(context.Background(), supervisorActor(), from, to)
	require.NoError(t, err)

	require.Equal(t, 4, summary.TotalRecords)
	require.Equal(t, 2, summary.CompliantRecords)
	require.Equal(t, 2, summary.FlaggedRecords)
	require.Equal(t, 2, summary.PendingReview)
	require.Equal(t, 1, summary.SubmittedRecords)
	require.Equal(t, 1, summary.FailedSubmissions)
	require.Equal(t, 2, summary.ByLevel[string(models.LevelFull)])
	require.Equal(t, 1, summary.ByLevel[string(models.LevelPartial)])
	require.Equal(t, 1, summary.ByFlag[models.FlagGeofenceViolation])
	require.Equal(t, 1, summary.ByFlag[models.FlagOutOfOrder])
	// COMPLIANT is the clean marker, never a deviation bucket.
	require.Zero(t, summary.ByFlag[models.FlagCompliant])
}

func TestSummarizeServesSecondCallFromCache(t *testing.T) {
	store := &stubSummaryStore{rows: summaryRows()}
	cache := newStubSummaryCache()
	svc := NewSummaryService(store, cache, config.SummaryConfig{CacheEnabled: true, CacheTTL: time.Minute}, nil)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	first, err := svc.Summarize(context.Background(), supervisorActor(), from, to)
	require.NoError(t, err)
	second, err := svc.Summarize(context.Background(), supervisorActor(), from, to)
	require.NoError(t, err)

	require.Equal(t, 1, store.listCalls)
	require.Equal(t, first.TotalRecords, second.TotalRecords)
	require.Equal(t, first.ByLevel, second.ByLevel)
}

func TestExportRecordsCSV(t *testing.T) {
	record := *completeRecord("TX")
	record.VisitID = "visit-1"
	store := &stubSummaryStore{records: []models.EVVRecord{record}}
	svc := NewSummaryService(store, nil, config.SummaryConfig{}, nil)

	body, contentType, err := svc.ExportRecords(context.Background(), supervisorActor(), models.RecordFilter{}, "csv")
	require.NoError(t, err)
	require.Equal(t, "text/csv", contentType)

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "Visit,Client,Caregiver,Date,Service,Status,Level,Duration (min),Flags,Submission", strings.TrimSpace(lines[0]))
	require.Contains(t, lines[1], "visit-1")
	require.Contains(t, lines[1], "Maria Alvarez")
	require.Contains(t, lines[1], "60")
	require.Contains(t, lines[1], models.FlagCompliant)
}

func TestExportRecordsScopedToActorOrg(t *testing.T) {
	mine := *completeRecord("TX")
	other := *completeRecord("TX")
	other.OrgID = "org-2"
	other.VisitID = "visit-other"
	store := &stubSummaryStore{records: []models.EVVRecord{mine, other}}
	svc := NewSummaryService(store, nil, config.SummaryConfig{}, nil)

	body, _, err := svc.ExportRecords(context.Background(), supervisorActor(), models.RecordFilter{OrgID: "org-2"}, "csv")
	require.NoError(t, err)
	require.NotContains(t, string(body), "visit-other")
}

func TestExportRecordsPDF(t *testing.T) {
	store := &stubSummaryStore{records: []models.EVVRecord{*completeRecord("TX")}}
	svc := NewSummaryService(store, nil, config.SummaryConfig{}, nil)

	body, contentType, err := svc.ExportRecords(context.Background(), supervisorActor(), models.RecordFilter{}, "pdf")
	require.NoError(t, err)
	require.Equal(t, "application/pdf", contentType)
	require.True(t, strings.HasPrefix(string(body), "%PDF"))
}

func TestExportRecordsRejectsUnknownFormat(t *testing.T) {
	svc := NewSummaryService(&stubSummaryStore{}, nil, config.SummaryConfig{}, nil)
	_, _, err := svc.ExportRecords(context.Background(), supervisorActor(), models.RecordFilter{}, "xlsx")
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
