package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carebridge-health/evv-engine/internal/dto"
	"github.com/carebridge-health/evv-engine/internal/models"
	appErrors "github.com/carebridge-health/evv-engine/pkg/errors"
)

type stubCanceller struct {
	cancelled []string
}

func (s *stubCanceller) CancelPending(recordID string) bool {
	s.cancelled = append(s.cancelled, recordID)
	return true
}

// completedRecordFixture drives a visit to a COMPLETE record.
func completedRecordFixture(t *testing.T) (*recordFixture, *models.EVVRecord) {
	t.Helper()
	f := newRecordFixture(t)
	ctx := context.Background()

	_, err := f.svc.ClockIn(ctx, "visit-1", f.actor, clockRequest(f.start, offsetNorth(austinHome, 20)))
	require.NoError(t, err)
	resp, err := f.svc.ClockOut(ctx, "visit-1", f.actor, clockRequest(f.start.Add(time.Hour), offsetNorth(austinHome, 25)))
	require.NoError(t, err)
	require.Equal(t, models.RecordComplete, resp.Record.RecordStatus)
	return f, resp.Record
}

func TestAmendSupersedesWithoutMutatingOriginal(t *testing.T) {
	f, original := completedRecordFixture(t)
	canceller := &stubCanceller{}
	svc := NewAmendmentService(f.records, f.submitter, canceller, f.audit, nil)
	actor := supervisorActor()

	amended, err := svc.Amend(context.Background(), original.ID, actor, dto.AmendmentRequest{
		ClockInAt:  f.start.Add(5 * time.Minute),
		ClockOutAt: f.start.Add(95 * time.Minute),
		Reason:     "caregiver forgot to clock in on arrival",
		Version:    original.Version,
	})
	require.NoError(t, err)

	require.NotEqual(t, original.ID, amended.ID)
	require.Equal(t, original.ID, *amended.Supersedes)
	require.Contains(t, amended.ComplianceFlags, models.FlagVMURAmendment)
	require.Equal(t, 90, *amended.TotalDurationMins)
	require.Equal(t, models.SubmissionQueued, amended.SubmissionStatus)
	require.False(t, amended.Superseded)

	// Original row is untouched beyond the superseded marker.
	stored, err := f.records.GetByID(context.Background(), original.ID)
	require.NoError(t, err)
	require.True(t, stored.Superseded)
	require.Equal(t, *original.ClockInAt, *stored.ClockInAt)
	require.Equal(t, *original.TotalDurationMins, *stored.TotalDurationMins)

	require.Equal(t, []string{original.ID}, canceller.cancelled)
	require.Contains(t, f.submitter.enqueued, amended.ID)
}

func TestAmendSupersededRecordConflicts(t *testing.T) {
	f, original := completedRecordFixture(t)
	svc := NewAmendmentService(f.records, f.submitter, &stubCanceller{}, f.audit, nil)
	actor := supervisorActor()
	req := dto.AmendmentRequest{
		ClockInAt:  f.start,
		ClockOutAt: f.start.Add(time.Hour),
		Reason:     "first amendment",
		Version:    original.Version,
	}

	_, err := svc.Amend(context.Background(), original.ID, actor, req)
	require.NoError(t, err)

	_, err = svc.Amend(context.Background(), original.ID, actor, req)
	require.True(t, appErrors.Is(err, appErrors.ErrRecordSuperseded))
}

func TestAmendVersionConflict(t *testing.T) {
	f, original := completedRecordFixture(t)
	svc := NewAmendmentService(f.records, f.submitter, &stubCanceller{}, f.audit, nil)

	_, err := svc.Amend(context.Background(), original.ID, supervisorActor(), dto.AmendmentRequest{
		ClockInAt:  f.start,
		ClockOutAt: f.start.Add(time.Hour),
		Reason:     "stale version",
		Version:    original.Version + 3,
	})
	require.True(t, appErrors.Is(err, appErrors.ErrVersionConflict))
}

func TestAmendRejectsInvertedTimes(t *testing.T) {
	f, original := completedRecordFixture(t)
	svc := NewAmendmentService(f.records, f.submitter, &stubCanceller{}, f.audit, nil)

	_, err := svc.Amend(context.Background(), original.ID, supervisorActor(), dto.AmendmentRequest{
		ClockInAt:  f.start.Add(time.Hour),
		ClockOutAt: f.start,
		Reason:     "typo in times",
		Version:    original.Version,
	})
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestAmendIncompleteRecordIsInvalid(t *testing.T) {
	f := newRecordFixture(t)
	ctx := context.Background()
	resp, err := f.svc.ClockIn(ctx, "visit-1", f.actor, clockRequest(f.start, offsetNorth(austinHome, 20)))
	require.NoError(t, err)

	svc := NewAmendmentService(f.records, f.submitter, &stubCanceller{}, f.audit, nil)
	_, err = svc.Amend(ctx, resp.Record.ID, supervisorActor(), dto.AmendmentRequest{
		ClockInAt:  f.start,
		ClockOutAt: f.start.Add(time.Hour),
		Reason:     "not complete yet",
		Version:    resp.Record.Version,
	})
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}
