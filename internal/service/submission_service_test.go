package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carebridge-health/evv-engine/internal/models"
	"github.com/carebridge-health/evv-engine/internal/rules"
	"github.com/carebridge-health/evv-engine/pkg/config"
	appErrors "github.com/carebridge-health/evv-engine/pkg/errors"
	"github.com/carebridge-health/evv-engine/pkg/jobs"
)

func testJob(recordID string) jobs.Job {
	return jobs.Job{ID: recordID, Type: "submit_record", Payload: recordID}
}

type stubAttemptStore struct {
	mu       sync.Mutex
	attempts []*models.SubmissionAttempt
	seq      int
}

func (s *stubAttemptStore) CreateAttempt(_ context.Context, attempt *models.SubmissionAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if attempt.ID == "" {
		attempt.ID = fmt.Sprintf("attempt-%d", s.seq)
	}
	attempt.AttemptedAt = time.Now().UTC()
	clone := *attempt
	s.attempts = append(s.attempts, &clone)
	return nil
}

func (s *stubAttemptStore) ListByRecord(_ context.Context, recordID string) ([]models.SubmissionAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SubmissionAttempt
	for _, a := range s.attempts {
		if a.RecordID == recordID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *stubAttemptStore) CountByRecord(_ context.Context, recordID string) (int, error) {
	list, _ := s.ListByRecord(context.Background(), recordID)
	return len(list), nil
}

func (s *stubAttemptStore) FindSuccessByHash(_ context.Context, recordID, contentHash string) (*models.SubmissionAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.RecordID == recordID && a.ContentHash == contentHash && a.Outcome == models.OutcomeSuccess {
			clone := *a
			return &clone, nil
		}
	}
	return nil, errors.New("sql: no rows in result set")
}

type stubAggregatorClient struct {
	mu       sync.Mutex
	failures int
	calls    int
	conf     string
}

func (c *stubAggregatorClient) Submit(_ context.Context, _ string, _ []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.failures {
		return "", errors.New("aggregator returned HTTP 503")
	}
	return c.conf, nil
}

func (c *stubAggregatorClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type stubIdemCache struct {
	mu     sync.Mutex
	values map[string]string
}

func newStubIdemCache() *stubIdemCache {
	return &stubIdemCache{values: map[string]string{}}
}

func (c *stubIdemCache) GetString(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.values[key]; ok {
		return v, nil
	}
	return "", appErrors.ErrCacheMiss
}

func (c *stubIdemCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := value.(string); ok {
		c.values[key] = s
	}
	return nil
}

func completeRecord(state string) *models.EVVRecord {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	mins := 60
	return &models.EVVRecord{
		OrgID:             "org-1",
		VisitID:           "visit-1",
		ClientID:          "client-1",
		ClientName:        "Maria Alvarez",
		CaregiverID:       "cg-1",
		CaregiverName:     "Dana Whitfield",
		ServiceDate:       start.Truncate(24 * time.Hour),
		ServiceType:       rules.ServicePersonalCare,
		State:             state,
		PayerType:         rules.PayerMedicaid,
		ClockInAt:         &start,
		ClockOutAt:        &end,
		TotalDurationMins: &mins,
		RecordStatus:      models.RecordComplete,
		VerificationLevel: models.LevelFull,
		ComplianceFlags:   []string{models.FlagCompliant},
		SubmissionStatus:  models.SubmissionNotSubmitted,
		PayorApproval:     models.ApprovalPending,
	}
}

type submissionFixture struct {
	svc      *SubmissionService
	attempts *stubAttemptStore
	records  *stubRecordStore
	client   *stubAggregatorClient
	cache    *stubIdemCache
}

func newSubmissionFixture(t *testing.T, failures int) *submissionFixture {
	t.Helper()
	attempts := &stubAttemptStore{}
	records := newStubRecordStore()
	client := &stubAggregatorClient{failures: failures, conf: "CONF-001"}
	cache := newStubIdemCache()
	svc := NewSubmissionService(SubmissionServiceDeps{
		Attempts: attempts,
		Records:  records,
		Rules:    rules.NewRegistry(rules.NewSnapshot(1, rules.Seed())),
		Client:   client,
		Cache:    cache,
		Config: config.SubmissionConfig{
			WorkerConcurrency: 1,
			MaxAttempts:       5,
			BackoffBase:       time.Millisecond,
			IdempotencyTTL:    time.Minute,
		},
	})
	return &submissionFixture{svc: svc, attempts: attempts, records: records, client: client, cache: cache}
}

func TestDeliverSuccessMarksSubmitted(t *testing.T) {
	f := newSubmissionFixture(t, 0)
	record := completeRecord("TX")
	require.NoError(t, f.records.Create(context.Background(), record))

	require.NoError(t, f.svc.deliver(context.Background(), testJob(record.ID)))

	stored, err := f.records.GetByID(context.Background(), record.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionSubmitted, stored.SubmissionStatus)
	require.Equal(t, "CONF-001", *stored.ConfirmationID)
	require.True(t, stored.SubmittedToPayor)

	history, err := f.attempts.ListByRecord(context.Background(), record.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, models.OutcomeSuccess, history[0].Outcome)
	require.Equal(t, "HHAEXCHANGE_TX", history[0].AggregatorID)
}

func TestDeliverFailuresThenSuccessLogsEveryAttempt(t *testing.T) {
	f := newSubmissionFixture(t, 3)
	record := completeRecord("TX")
	require.NoError(t, f.records.Create(context.Background(), record))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.Error(t, f.svc.deliver(ctx, testJob(record.ID)))
	}
	require.NoError(t, f.svc.deliver(ctx, testJob(record.ID)))

	history, err := f.attempts.ListByRecord(ctx, record.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	for i := 0; i < 3; i++ {
		require.Equal(t, models.OutcomeFailed, history[i].Outcome)
		require.NotNil(t, history[i].FailureReason)
		require.Equal(t, i+1, history[i].AttemptNumber)
	}
	require.Equal(t, models.OutcomeSuccess, history[3].Outcome)

	stored, _ := f.records.GetByID(ctx, record.ID)
	require.Equal(t, models.SubmissionSubmitted, stored.SubmissionStatus)
}

func TestDeliverIsIdempotentAfterSuccess(t *testing.T) {
	f := newSubmissionFixture(t, 0)
	record := completeRecord("TX")
	require.NoError(t, f.records.Create(context.Background(), record))
	ctx := context.Background()

	require.NoError(t, f.svc.deliver(ctx, testJob(record.ID)))
	require.NoError(t, f.svc.deliver(ctx, testJob(record.ID)))

	// Only one delivery reached the aggregator; one confirmation id exists.
	require.Equal(t, 1, f.client.callCount())
	history, _ := f.attempts.ListByRecord(ctx, record.ID)
	require.Len(t, history, 1)
	stored, _ := f.records.GetByID(ctx, record.ID)
	require.Equal(t, "CONF-001", *stored.ConfirmationID)
}

func TestDeliverRefusesStrictAggregator(t *testing.T) {
	f := newSubmissionFixture(t, 0)
	record := completeRecord("FL") // unmapped jurisdiction
	require.NoError(t, f.records.Create(context.Background(), record))
	ctx := context.Background()

	// nil return: a config error must not spin the retry loop.
	require.NoError(t, f.svc.deliver(ctx, testJob(record.ID)))

	require.Equal(t, 0, f.client.callCount())
	stored, _ := f.records.GetByID(ctx, record.ID)
	require.Equal(t, models.SubmissionFailed, stored.SubmissionStatus)
	history, _ := f.attempts.ListByRecord(ctx, record.ID)
	require.Len(t, history, 1)
	require.Equal(t, models.OutcomeFailed, history[0].Outcome)
}

func TestDeliverSkipsSupersededRecord(t *testing.T) {
	f := newSubmissionFixture(t, 0)
	record := completeRecord("TX")
	require.NoError(t, f.records.Create(context.Background(), record))
	require.NoError(t, f.records.MarkSuperseded(context.Background(), record.ID, record.Version))

	require.NoError(t, f.svc.deliver(context.Background(), testJob(record.ID)))
	require.Equal(t, 0, f.client.callCount())
}

func TestRetryRejectsSubmittedRecord(t *testing.T) {
	f := newSubmissionFixture(t, 0)
	record := completeRecord("TX")
	require.NoError(t, f.records.Create(context.Background(), record))
	ctx := context.Background()
	require.NoError(t, f.svc.deliver(ctx, testJob(record.ID)))

	_, err := f.svc.Retry(ctx, record.ID, supervisorActor())
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}

func TestQueueRetriesUntilSuccess(t *testing.T) {
	f := newSubmissionFixture(t, 2)
	record := completeRecord("TX")
	require.NoError(t, f.records.Create(context.Background(), record))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.svc.Start(ctx)
	defer f.svc.Stop()

	require.NoError(t, f.svc.EnqueueRecord(ctx, record))

	require.Eventually(t, func() bool {
		stored, err := f.records.GetByID(context.Background(), record.ID)
		return err == nil && stored.SubmissionStatus == models.SubmissionSubmitted
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, 3, f.client.callCount())
}
