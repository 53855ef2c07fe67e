package service

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/carebridge-health/evv-engine/internal/models"
	"github.com/carebridge-health/evv-engine/internal/provider"
	"github.com/carebridge-health/evv-engine/internal/rules"
)

// EligibilityInput carries everything the gate evaluates. Snapshots are
// resolved by the caller so one fetch serves both eligibility and
// verification.
type EligibilityInput struct {
	Visit     *provider.VisitSnapshot
	Caregiver *provider.CaregiverSnapshot
	Rules     rules.RuleSet
	RuleFound bool
	// CoordinatorOverride downgrades a skill mismatch from BLOCK to warning.
	// Credential and screening blocks are never overridable here.
	CoordinatorOverride bool
	// OverriddenBy is the user id the waiver is attributed to. Required when
	// CoordinatorOverride is set.
	OverriddenBy string
	Now          time.Time
}

// EligibilityService decides whether a caregiver may clock in to a visit.
// Pure evaluation: it reads snapshots and the rule set, never the database.
type EligibilityService struct {
	credentialWarningWindow time.Duration
	logger                  *zap.Logger
}

// NewEligibilityService constructs the gate. warningWindow is how far ahead of
// credential expiry warnings begin.
func NewEligibilityService(warningWindow time.Duration, logger *zap.Logger) *EligibilityService {
	if warningWindow <= 0 {
		warningWindow = 30 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EligibilityService{credentialWarningWindow: warningWindow, logger: logger}
}

// Evaluate runs every check and returns the combined decision. All blocking
// reasons are collected rather than short-circuiting so the caregiver sees the
// full picture in one response.
func (s *EligibilityService) Evaluate(in EligibilityInput) models.EligibilityDecision {
	decision := models.EligibilityDecision{
		Outcome:   models.EligibilityAllow,
		Citation:  in.Rules.Citation,
		RuleFound: in.RuleFound,
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if in.Visit.Cancelled {
		decision.Reasons = append(decision.Reasons, "visit has been cancelled")
	}

	if in.Rules.RequiredScreening {
		switch {
		case !in.Caregiver.ScreeningCleared:
			decision.Reasons = append(decision.Reasons, "background screening is not cleared")
		case in.Caregiver.ScreeningExpiresAt != nil && !in.Caregiver.ScreeningExpiresAt.After(now):
			decision.Reasons = append(decision.Reasons,
				fmt.Sprintf("background screening expired on %s", in.Caregiver.ScreeningExpiresAt.Format("2006-01-02")))
		case in.Caregiver.ScreeningExpiresAt != nil && in.Caregiver.ScreeningExpiresAt.Before(now.Add(s.credentialWarningWindow)):
			decision.Warnings = append(decision.Warnings,
				fmt.Sprintf("background screening expires on %s", in.Caregiver.ScreeningExpiresAt.Format("2006-01-02")))
		}
	}

	for _, required := range in.Rules.RequiredCredentials {
		cred, ok := in.Caregiver.FindCredential(required)
		if !ok {
			decision.Reasons = append(decision.Reasons, fmt.Sprintf("missing required credential %s", required))
			continue
		}
		if cred.Expired(now) {
			decision.Reasons = append(decision.Reasons,
				fmt.Sprintf("credential %s expired on %s", required, cred.ExpiresAt.Format("2006-01-02")))
			continue
		}
		if cred.ExpiringWithin(now, s.credentialWarningWindow) {
			decision.Warnings = append(decision.Warnings,
				fmt.Sprintf("credential %s expires on %s", required, cred.ExpiresAt.Format("2006-01-02")))
		}
	}

	if missing := missingSkills(in.Visit.RequiredSkills, in.Caregiver.Skills); len(missing) > 0 {
		if in.CoordinatorOverride {
			decision.OverriddenBy = in.OverriddenBy
			decision.Warnings = append(decision.Warnings,
				fmt.Sprintf("skill requirements %v waived by %s", missing, in.OverriddenBy))
		} else {
			decision.Reasons = append(decision.Reasons,
				fmt.Sprintf("caregiver lacks required skills %v", missing))
		}
	}

	if len(decision.Reasons) > 0 {
		decision.Outcome = models.EligibilityBlock
	} else if len(decision.Warnings) > 0 {
		decision.Outcome = models.EligibilityAllowWarn
	}

	if decision.Blocked() {
		s.logger.Sugar().Infow("eligibility blocked",
			"visit_id", in.Visit.ID,
			"caregiver_id", in.Caregiver.ID,
			"reasons", decision.Reasons,
			"rule_found", in.RuleFound)
	}
	return decision
}

func missingSkills(required, have []string) []string {
	if len(required) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(have))
	for _, s := range have {
		set[s] = struct{}{}
	}
	var missing []string
	for _, r := range required {
		if _, ok := set[r]; !ok {
			missing = append(missing, r)
		}
	}
	return missing
}
