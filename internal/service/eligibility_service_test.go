package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carebridge-health/evv-engine/internal/models"
	"github.com/carebridge-health/evv-engine/internal/provider"
	"github.com/carebridge-health/evv-engine/internal/rules"
)

func texasRules() (rules.RuleSet, bool) {
	snapshot := rules.NewSnapshot(1, rules.Seed())
	return snapshot.Resolve(rules.Key{State: "TX", PayerType: rules.PayerMedicaid, ServiceType: rules.ServicePersonalCare})
}

func eligibleCaregiver(now time.Time) *provider.CaregiverSnapshot {
	certExpiry := now.Add(180 * 24 * time.Hour)
	screenExpiry := now.Add(200 * 24 * time.Hour)
	return &provider.CaregiverSnapshot{
		ID:               "cg-1",
		OrgID:            "org-1",
		DisplayName:      "Dana Whitfield",
		ScreeningCleared: true,
		ScreeningExpiresAt: &screenExpiry,
		Credentials: []provider.Credential{
			{Type: rules.CredentialBackgroundScreen, Code: "BGS-99", ExpiresAt: &screenExpiry},
			{Type: rules.CredentialCertification, Code: "HHA-123", ExpiresAt: &certExpiry},
		},
		Skills: []string{"PERSONAL_CARE"},
	}
}

func scheduledVisit(now time.Time) *provider.VisitSnapshot {
	return &provider.VisitSnapshot{
		ID:             "visit-1",
		OrgID:          "org-1",
		ClientID:       "client-1",
		CaregiverID:    "cg-1",
		ScheduledStart: now,
		ScheduledEnd:   now.Add(2 * time.Hour),
		ServiceType:    rules.ServicePersonalCare,
	}
}

func TestEligibilityAllowsQualifiedCaregiver(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	rs, found := texasRules()
	svc := NewEligibilityService(30*24*time.Hour, nil)

	decision := svc.Evaluate(EligibilityInput{
		Visit:     scheduledVisit(now),
		Caregiver: eligibleCaregiver(now),
		Rules:     rs,
		RuleFound: found,
		Now:       now,
	})
	require.Equal(t, models.EligibilityAllow, decision.Outcome)
	require.Empty(t, decision.Reasons)
	require.True(t, decision.RuleFound)
}

func TestEligibilityBlocksExpiredScreeningWithCitation(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	rs, found := texasRules()
	svc := NewEligibilityService(30*24*time.Hour, nil)

	caregiver := eligibleCaregiver(now)
	expired := now.Add(-24 * time.Hour)
	caregiver.ScreeningExpiresAt = &expired

	decision := svc.Evaluate(EligibilityInput{
		Visit:     scheduledVisit(now),
		Caregiver: caregiver,
		Rules:     rs,
		RuleFound: found,
		Now:       now,
	})
	require.True(t, decision.Blocked())
	require.Contains(t, decision.Reasons[0], "background screening expired")
	require.Contains(t, decision.Citation, "26 TAC")
}

func TestEligibilityWarnsOnExpiringCredential(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	rs, found := texasRules()
	svc := NewEligibilityService(30*24*time.Hour, nil)

	caregiver := eligibleCaregiver(now)
	soon := now.Add(10 * 24 * time.Hour)
	caregiver.Credentials[1].ExpiresAt = &soon

	decision := svc.Evaluate(EligibilityInput{
		Visit:     scheduledVisit(now),
		Caregiver: caregiver,
		Rules:     rs,
		RuleFound: found,
		Now:       now,
	})
	require.Equal(t, models.EligibilityAllowWarn, decision.Outcome)
	require.Len(t, decision.Warnings, 1)
	require.Contains(t, decision.Warnings[0], rules.CredentialCertification)
}

func TestEligibilityBlocksMissingCredential(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	rs, found := texasRules()
	svc := NewEligibilityService(30*24*time.Hour, nil)

	caregiver := eligibleCaregiver(now)
	caregiver.Credentials = caregiver.Credentials[:1] // drop certification

	decision := svc.Evaluate(EligibilityInput{
		Visit:     scheduledVisit(now),
		Caregiver: caregiver,
		Rules:     rs,
		RuleFound: found,
		Now:       now,
	})
	require.True(t, decision.Blocked())
	require.Contains(t, decision.Reasons[0], rules.CredentialCertification)
}

func TestEligibilitySkillMismatchOverridableByCoordinator(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	rs, found := texasRules()
	svc := NewEligibilityService(30*24*time.Hour, nil)

	visit := scheduledVisit(now)
	visit.RequiredSkills = []string{"WOUND_CARE"}

	blocked := svc.Evaluate(EligibilityInput{
		Visit: visit, Caregiver: eligibleCaregiver(now), Rules: rs, RuleFound: found, Now: now,
	})
	require.True(t, blocked.Blocked())

	waived := svc.Evaluate(EligibilityInput{
		Visit: visit, Caregiver: eligibleCaregiver(now), Rules: rs, RuleFound: found,
		CoordinatorOverride: true, OverriddenBy: "coord-7", Now: now,
	})
	require.Equal(t, models.EligibilityAllowWarn, waived.Outcome)
	require.Equal(t, "coord-7", waived.OverriddenBy)
	require.Contains(t, waived.Warnings[0], "coord-7")
}

func TestEligibilityUnknownJurisdictionFailsClosed(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	snapshot := rules.NewSnapshot(1, rules.Seed())
	rs, found := snapshot.Resolve(rules.Key{State: "FL", PayerType: rules.PayerMedicaid, ServiceType: rules.ServicePersonalCare})
	require.False(t, found)

	svc := NewEligibilityService(30*24*time.Hour, nil)
	caregiver := eligibleCaregiver(now)
	caregiver.Credentials = caregiver.Credentials[:1]

	decision := svc.Evaluate(EligibilityInput{
		Visit: scheduledVisit(now), Caregiver: caregiver, Rules: rs, RuleFound: found, Now: now,
	})
	require.True(t, decision.Blocked())
	require.False(t, decision.RuleFound)
}
