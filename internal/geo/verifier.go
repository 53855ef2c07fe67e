package geo

import (
	"math"
	"time"

	"github.com/carebridge-health/evv-engine/internal/models"
)

const earthRadiusMeters = 6371000.0

// Suspicion flag candidates produced by Verify. They are non-fatal; the
// verification engine maps them onto compliance flags.
const (
	SuspicionAccuracyImplausible = "ACCURACY_IMPLAUSIBLE"
	SuspicionSpeedImplausible    = "SPEED_IMPLAUSIBLE"
	SuspicionMockLocation        = "MOCK_LOCATION"
)

// Distance computes the great-circle distance between two coordinates in
// meters using the haversine formula. Symmetric; zero for identical points.
func Distance(a, b models.Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon

	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// VerifyInput is the full input to a geofence check. Thresholds are policy
// parameters supplied by the caller; this package hard-codes none of them.
type VerifyInput struct {
	Reported       models.Coordinate
	AccuracyMeters float64
	Expected       models.Coordinate
	RadiusMeters   float64

	MockLocation       bool
	SpoofAccuracyFloor float64
	MaxTravelSpeedMPS  float64

	// Prior point of the same caregiver in the shift window, if any.
	PriorPoint *models.Coordinate
	PriorTime  *time.Time
	EventTime  time.Time
}

// VerifyResult reports distance, geofence containment and ordered suspicion
// flags.
type VerifyResult struct {
	DistanceMeters float64
	WithinGeofence bool
	Suspicions     []string
}

// Verify runs the geofence check and spoofing heuristics. Pure: no side
// effects, no clock reads.
func Verify(in VerifyInput) VerifyResult {
	distance := Distance(in.Reported, in.Expected)
	result := VerifyResult{
		DistanceMeters: distance,
		WithinGeofence: distance <= in.RadiusMeters,
	}

	// A sub-floor accuracy combined with a perfect center match is more
	// precise than consumer GPS delivers; treat as a spoofing signal.
	if in.SpoofAccuracyFloor > 0 && in.AccuracyMeters > 0 &&
		in.AccuracyMeters < in.SpoofAccuracyFloor && distance < 1.0 {
		result.Suspicions = append(result.Suspicions, SuspicionAccuracyImplausible)
	}

	if in.PriorPoint != nil && in.PriorTime != nil && in.MaxTravelSpeedMPS > 0 {
		elapsed := in.EventTime.Sub(*in.PriorTime).Seconds()
		if elapsed > 0 {
			speed := Distance(*in.PriorPoint, in.Reported) / elapsed
			if speed > in.MaxTravelSpeedMPS {
				result.Suspicions = append(result.Suspicions, SuspicionSpeedImplausible)
			}
		}
	}

	if in.MockLocation {
		result.Suspicions = append(result.Suspicions, SuspicionMockLocation)
	}

	return result
}
