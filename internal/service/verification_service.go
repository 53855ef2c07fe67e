package service

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/carebridge-health/evv-engine/internal/geo"
	"github.com/carebridge-health/evv-engine/internal/models"
	"github.com/carebridge-health/evv-engine/internal/provider"
	"github.com/carebridge-health/evv-engine/internal/rules"
	"github.com/carebridge-health/evv-engine/pkg/config"
)

// Verification issue tokens. Stored on the time entry verbatim.
const (
	IssueTooEarly         = "TOO_EARLY"
	IssueMissingSignature = "MISSING_SIGNATURE"
	IssueNoLocation       = "NO_LOCATION"
	IssueGeofence         = "GEOFENCE_VIOLATION"
)

// VerificationInput bundles one clock event with its resolved context.
type VerificationInput struct {
	Event  models.ClockEvent
	Visit  *provider.VisitSnapshot
	Client *provider.ClientSnapshot
	Rules  rules.RuleSet
	// ClockInEntry is the counted clock-in of the visit, used at clock-out for
	// the location consistency check. Nil at clock-in or when none exists.
	ClockInEntry *models.TimeEntry
}

// VerificationService classifies clock events against jurisdiction policy.
// Stateless and pure: callers persist the result.
type VerificationService struct {
	defaults config.EVVConfig
	logger   *zap.Logger
}

// NewVerificationService constructs the engine with its fallback thresholds.
func NewVerificationService(defaults config.EVVConfig, logger *zap.Logger) *VerificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerificationService{defaults: defaults, logger: logger}
}

// Verify runs the ordered checks: schedule window, location evidence,
// spoofing heuristics, signature mandate, then level classification. Only the
// schedule and signature checks reject outright; location findings become
// flags that route the entry to supervisor review.
func (s *VerificationService) Verify(in VerificationInput) models.VerificationResult {
	result := models.VerificationResult{Passed: true, Level: baseLevel(in.Event.Method)}

	s.checkSchedule(in, &result)
	s.checkLocation(in, &result)
	s.checkSignature(in, &result)

	if exceptionApplies(in) {
		// An approved exception keeps the event billable but at the weakest
		// evidence level and always under review.
		result.Passed = true
		result.Level = models.LevelException
		result.RequiresSupervisorReview = true
	}

	if len(result.Flags) == 0 && result.Passed {
		result.Flags = append(result.Flags, models.FlagCompliant)
	}
	return result
}

func baseLevel(method models.VerificationMethod) models.VerificationLevel {
	switch method {
	case models.MethodPhone:
		return models.LevelPhone
	case models.MethodOffline:
		return models.LevelManual
	default:
		return models.LevelFull
	}
}

func (s *VerificationService) checkSchedule(in VerificationInput, result *models.VerificationResult) {
	if in.Event.EntryType != models.EntryTypeClockIn {
		return
	}
	earliest := in.Visit.ScheduledStart.Add(-in.Rules.EarlyClockInGrace)
	if in.Event.Timestamp.Before(earliest) {
		result.Issues = append(result.Issues, fmt.Sprintf("%s: clock-in %s precedes scheduled start %s beyond the %s grace",
			IssueTooEarly,
			in.Event.Timestamp.Format("15:04:05"),
			in.Visit.ScheduledStart.Format("15:04:05"),
			in.Rules.EarlyClockInGrace))
		if !exceptionApplies(in) {
			result.Passed = false
		}
	}
}

func (s *VerificationService) checkLocation(in VerificationInput, result *models.VerificationResult) {
	if in.Event.Method != models.MethodGPS {
		// Phone and offline entries carry no GPS evidence; review them.
		result.RequiresSupervisorReview = true
		return
	}
	if in.Event.Coordinate == nil {
		result.Issues = append(result.Issues, IssueNoLocation)
		result.RequiresSupervisorReview = true
		result.Level = models.StricterOf(result.Level, models.LevelManual)
		return
	}

	radius := s.effectiveRadius(in)
	check := geo.Verify(geo.VerifyInput{
		Reported:           *in.Event.Coordinate,
		AccuracyMeters:     in.Event.AccuracyMeters,
		Expected:           in.Client.Location,
		RadiusMeters:       radius,
		MockLocation:       in.Event.MockLocation,
		SpoofAccuracyFloor: s.pick(in.Rules.SpoofAccuracyFloorMeters, s.defaults.SpoofAccuracyFloorMeters),
		MaxTravelSpeedMPS:  s.pick(in.Rules.MaxTravelSpeedMPS, s.defaults.MaxTravelSpeedMPS),
		PriorPoint:         in.Event.PriorPoint,
		PriorTime:          in.Event.PriorTimestamp,
		EventTime:          in.Event.Timestamp,
	})

	result.DistanceMeters = &check.DistanceMeters
	result.WithinGeofence = check.WithinGeofence

	if !check.WithinGeofence {
		result.Flags = append(result.Flags, models.FlagGeofenceViolation)
		result.Issues = append(result.Issues, fmt.Sprintf("%s: %.0fm from client location, geofence radius %.0fm",
			IssueGeofence, check.DistanceMeters, radius))
		result.RequiresSupervisorReview = true
		result.Level = models.StricterOf(result.Level, models.LevelPartial)
	}

	for _, suspicion := range check.Suspicions {
		switch suspicion {
		case geo.SuspicionAccuracyImplausible, geo.SuspicionMockLocation:
			result.Flags = appendUnique(result.Flags, models.FlagDeviceSuspicious)
		case geo.SuspicionSpeedImplausible:
			result.Flags = appendUnique(result.Flags, models.FlagLocationSuspicious)
		}
		result.Issues = append(result.Issues, suspicion)
		result.RequiresSupervisorReview = true
		result.Level = models.StricterOf(result.Level, models.LevelPartial)
	}

	// Clock-out far from where the shift began suggests the pair does not
	// describe one continuous visit at the client's home.
	if in.Event.EntryType == models.EntryTypeClockOut && in.ClockInEntry != nil &&
		in.ClockInEntry.Latitude != nil && in.ClockInEntry.Longitude != nil {
		inPoint := models.Coordinate{Latitude: *in.ClockInEntry.Latitude, Longitude: *in.ClockInEntry.Longitude}
		drift := geo.Distance(inPoint, *in.Event.Coordinate)
		if drift > mismatchThreshold(radius) {
			result.Flags = appendUnique(result.Flags, models.FlagLocationMismatch)
			result.Issues = append(result.Issues, fmt.Sprintf("clock-out is %.0fm from clock-in location", drift))
			result.RequiresSupervisorReview = true
			result.Level = models.StricterOf(result.Level, models.LevelPartial)
		}
	}
}

func (s *VerificationService) checkSignature(in VerificationInput, result *models.VerificationResult) {
	if in.Event.EntryType != models.EntryTypeClockOut || !in.Rules.RequireClientSignature {
		return
	}
	if len(in.Event.Signature) == 0 {
		result.Issues = append(result.Issues, IssueMissingSignature)
		if !exceptionApplies(in) {
			result.Passed = false
		}
	}
}

// exceptionApplies reports whether the approved-exception bypass is in force:
// the caller attested supervisor-level approval and the jurisdiction permits
// manual exceptions at all.
func exceptionApplies(in VerificationInput) bool {
	return in.Event.ExceptionApproved && in.Rules.AllowManualException
}

func (s *VerificationService) effectiveRadius(in VerificationInput) float64 {
	if in.Client.GeofenceRadiusMeters > 0 {
		return in.Client.GeofenceRadiusMeters
	}
	if in.Rules.GeofenceRadiusMeters > 0 {
		return in.Rules.GeofenceRadiusMeters
	}
	return s.defaults.DefaultGeofenceRadiusMeters
}

func (s *VerificationService) pick(ruleValue, defaultValue float64) float64 {
	if ruleValue > 0 {
		return ruleValue
	}
	return defaultValue
}

// mismatchThreshold is twice the geofence radius with a 100m floor, tolerant
// of large rural properties while still catching cross-town drift.
func mismatchThreshold(radius float64) float64 {
	threshold := 2 * radius
	if threshold < 100 {
		threshold = 100
	}
	return threshold
}

func appendUnique(flags []string, flag string) []string {
	for _, f := range flags {
		if f == flag {
			return flags
		}
	}
	return append(flags, flag)
}
