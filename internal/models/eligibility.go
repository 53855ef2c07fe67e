package models

// EligibilityOutcome is the gate decision for a clock-in attempt.
type EligibilityOutcome string

const (
	EligibilityAllow       EligibilityOutcome = "ALLOW"
	EligibilityAllowWarn   EligibilityOutcome = "ALLOW_WITH_WARNING"
	EligibilityBlock       EligibilityOutcome = "BLOCK"
)

// EligibilityDecision explains an eligibility gate outcome. Reasons drive
// BLOCK responses; Warnings ride along with ALLOW_WITH_WARNING. Citation is
// the regulation the blocking rule derives from, when one applies.
type EligibilityDecision struct {
	Outcome  EligibilityOutcome `json:"outcome"`
	Reasons  []string           `json:"reasons,omitempty"`
	Warnings []string           `json:"warnings,omitempty"`
	Citation string             `json:"citation,omitempty"`
	// OverriddenBy identifies the user whose authority waived a skill
	// requirement, when one was waived.
	OverriddenBy string `json:"overridden_by,omitempty"`
	// RuleFound is false when the jurisdiction fell back to strict defaults.
	RuleFound bool `json:"rule_found"`
}

// Blocked is a convenience over the outcome.
func (d EligibilityDecision) Blocked() bool {
	return d.Outcome == EligibilityBlock
}
