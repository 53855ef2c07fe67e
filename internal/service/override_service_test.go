package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carebridge-health/evv-engine/internal/dto"
	"github.com/carebridge-health/evv-engine/internal/models"
	appErrors "github.com/carebridge-health/evv-engine/pkg/errors"
)

func (s *stubEntryStore) MarkOverridden(_ context.Context, id string, version int) error {
	entry, ok := s.byID[id]
	if !ok || entry.Version != version || entry.Status == models.TimeEntryOverridden {
		return sql.ErrNoRows
	}
	entry.Status = models.TimeEntryOverridden
	entry.Version++
	return nil
}

func (s *stubEntryStore) CreateOverride(_ context.Context, override *models.ManualOverride) error {
	s.seq++
	if override.ID == "" {
		override.ID = "override-1"
	}
	override.CreatedAt = time.Now().UTC()
	s.overrides = append(s.overrides, override)
	return nil
}

func (s *stubEntryStore) ListOverrides(_ context.Context, timeEntryID string) ([]models.ManualOverride, error) {
	var out []models.ManualOverride
	for _, o := range s.overrides {
		if o.TimeEntryID == timeEntryID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func supervisorActor() Actor {
	return Actor{UserID: "sup-1", OrgID: "org-1", Role: models.RoleSupervisor}
}

// overrideFixture stages a visit whose clock-in was hard-rejected (too early
// beyond the grace window) and held for review.
func overrideFixture(t *testing.T) (*OverrideService, *recordFixture, *models.TimeEntry) {
	t.Helper()
	f := newRecordFixture(t)
	ctx := context.Background()

	_, err := f.svc.ClockIn(ctx, "visit-1", f.actor, clockRequest(f.start.Add(-30*time.Minute), offsetNorth(austinHome, 20)))
	require.True(t, appErrors.Is(err, appErrors.ErrVerificationRejected))
	require.Len(t, f.entries.created, 1)
	entry := f.entries.created[0]
	require.Equal(t, models.TimeEntryPendingReview, entry.Status)

	svc := NewOverrideService(f.entries, f.records, f.svc, f.audit, nil)
	return svc, f, entry
}

func TestOverrideUnblocksRejectedClockIn(t *testing.T) {
	svc, f, entry := overrideFixture(t)
	ctx := context.Background()

	updated, err := svc.Override(ctx, entry.ID, supervisorActor(), dto.OverrideRequest{
		Reason:  "client confirmed caregiver arrived early on request",
		Version: entry.Version,
	})
	require.NoError(t, err)
	require.Equal(t, models.TimeEntryOverridden, updated.Status)

	// The observed issues survive the override untouched.
	require.NotEmpty(t, updated.VerificationIssues)
	require.Contains(t, updated.VerificationIssues[0], IssueTooEarly)

	// The override performs the transition the rejection had blocked.
	record, err := f.records.GetCurrentByVisit(ctx, "visit-1")
	require.NoError(t, err)
	require.Equal(t, models.RecordInProgress, record.RecordStatus)
	require.NotNil(t, record.ClockInAt)
	require.Equal(t, entry.Timestamp, *record.ClockInAt)
	require.Contains(t, record.ComplianceFlags, models.FlagManualOverride)
	require.Equal(t, models.LevelManual, record.VerificationLevel)

	// A clean clock-out can now complete the visit and queue submission.
	resp, err := f.svc.ClockOut(ctx, "visit-1", f.actor, clockRequest(f.start.Add(time.Hour), offsetNorth(austinHome, 25)))
	require.NoError(t, err)
	require.Equal(t, models.RecordComplete, resp.Record.RecordStatus)
	require.NotNil(t, resp.Record.TotalDurationMins)
	require.Equal(t, 90, *resp.Record.TotalDurationMins)
	require.Len(t, f.submitter.enqueued, 1)
}

func TestOverrideCompletesHeldClockOutPair(t *testing.T) {
	f := newRecordFixture(t)
	ctx := context.Background()

	respOut, err := f.svc.ClockOut(ctx, "visit-1", f.actor, clockRequest(f.start.Add(time.Hour), offsetNorth(austinHome, 20)))
	require.NoError(t, err)
	require.Equal(t, models.TimeEntryPendingReview, respOut.Entry.Status)

	_, err = f.svc.ClockIn(ctx, "visit-1", f.actor, clockRequest(f.start, offsetNorth(austinHome, 20)))
	require.NoError(t, err)

	svc := NewOverrideService(f.entries, f.records, f.svc, f.audit, nil)
	_, err = svc.Override(ctx, respOut.Entry.ID, supervisorActor(), dto.OverrideRequest{
		Reason: "offline batch arrived out of order, times confirmed", Version: respOut.Entry.Version,
	})
	require.NoError(t, err)

	record, err := f.records.GetCurrentByVisit(ctx, "visit-1")
	require.NoError(t, err)
	require.Equal(t, models.RecordComplete, record.RecordStatus)
	require.NotNil(t, record.TotalDurationMins)
	require.Equal(t, 60, *record.TotalDurationMins)
	require.Contains(t, record.ComplianceFlags, models.FlagOutOfOrder)
	require.Contains(t, record.ComplianceFlags, models.FlagManualOverride)
	require.Len(t, f.submitter.enqueued, 1)
}

func TestOverrideOnCompleteRecordStampsFlag(t *testing.T) {
	f := newRecordFixture(t)
	ctx := context.Background()

	_, err := f.svc.ClockIn(ctx, "visit-1", f.actor, clockRequest(f.start, offsetNorth(austinHome, 20)))
	require.NoError(t, err)

	// A geofence-violating clock-out counts and completes the record; the
	// flags only queue it for review.
	respOut, err := f.svc.ClockOut(ctx, "visit-1", f.actor, clockRequest(f.start.Add(time.Hour), offsetNorth(austinHome, 400)))
	require.NoError(t, err)
	require.Equal(t, models.TimeEntryAccepted, respOut.Entry.Status)
	require.Equal(t, models.RecordComplete, respOut.Record.RecordStatus)

	svc := NewOverrideService(f.entries, f.records, f.svc, f.audit, nil)
	_, err = svc.Override(ctx, respOut.Entry.ID, supervisorActor(), dto.OverrideRequest{
		Reason: "confirmed with client household, GPS drift at rural address", Version: respOut.Entry.Version,
	})
	require.NoError(t, err)

	record, err := f.records.GetCurrentByVisit(ctx, "visit-1")
	require.NoError(t, err)
	require.Equal(t, models.RecordComplete, record.RecordStatus)
	require.Contains(t, record.ComplianceFlags, models.FlagManualOverride)
	require.Contains(t, record.ComplianceFlags, models.FlagGeofenceViolation)
}

func TestOverrideSnapshotsPriorState(t *testing.T) {
	svc, f, entry := overrideFixture(t)

	_, err := svc.Override(context.Background(), entry.ID, supervisorActor(), dto.OverrideRequest{
		Reason: "supervisor visual confirmation", Version: entry.Version,
	})
	require.NoError(t, err)

	require.Len(t, f.entries.overrides, 1)
	saved := f.entries.overrides[0]
	require.Equal(t, models.TimeEntryPendingReview, saved.PriorStatus)
	require.Equal(t, "sup-1", saved.SupervisorID)
	require.NotEmpty(t, saved.PriorIssues)
}

func TestOverrideVersionConflict(t *testing.T) {
	svc, _, entry := overrideFixture(t)

	_, err := svc.Override(context.Background(), entry.ID, supervisorActor(), dto.OverrideRequest{
		Reason: "stale client retry", Version: entry.Version + 5,
	})
	require.True(t, appErrors.Is(err, appErrors.ErrVersionConflict))
}

func TestOverrideTwiceIsInvalid(t *testing.T) {
	svc, _, entry := overrideFixture(t)
	ctx := context.Background()

	updated, err := svc.Override(ctx, entry.ID, supervisorActor(), dto.OverrideRequest{
		Reason: "first override", Version: entry.Version,
	})
	require.NoError(t, err)

	_, err = svc.Override(ctx, entry.ID, supervisorActor(), dto.OverrideRequest{
		Reason: "second override", Version: updated.Version,
	})
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}

func TestOverrideCrossOrgForbidden(t *testing.T) {
	svc, _, entry := overrideFixture(t)

	_, err := svc.Override(context.Background(), entry.ID, Actor{UserID: "sup-9", OrgID: "org-other", Role: models.RoleSupervisor}, dto.OverrideRequest{
		Reason: "wrong org", Version: entry.Version,
	})
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}
