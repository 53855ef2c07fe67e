package geo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge-health/evv-engine/internal/models"
)

var (
	austin = models.Coordinate{Latitude: 30.2672, Longitude: -97.7431}
	dallas = models.Coordinate{Latitude: 32.7767, Longitude: -96.7970}
)

func TestDistanceSymmetryAndIdentity(t *testing.T) {
	require.Equal(t, 0.0, Distance(austin, austin))
	require.Equal(t, Distance(austin, dallas), Distance(dallas, austin))

	pairs := []struct{ a, b models.Coordinate }{
		{austin, dallas},
		{models.Coordinate{Latitude: 0, Longitude: 0}, models.Coordinate{Latitude: 0, Longitude: 180}},
		{models.Coordinate{Latitude: -45.1, Longitude: 12.3}, models.Coordinate{Latitude: 67.9, Longitude: -130.5}},
	}
	for _, p := range pairs {
		assert.Equal(t, Distance(p.a, p.b), Distance(p.b, p.a))
		assert.Equal(t, 0.0, Distance(p.a, p.a))
	}
}

func TestDistanceKnownValue(t *testing.T) {
	// Austin to Dallas is roughly 293 km.
	d := Distance(austin, dallas)
	assert.InDelta(t, 293000, d, 5000)
}

// offsetNorth returns a point approximately meters north of the base.
func offsetNorth(base models.Coordinate, meters float64) models.Coordinate {
	return models.Coordinate{
		Latitude:  base.Latitude + meters/111320.0,
		Longitude: base.Longitude,
	}
}

func TestVerifyWithinGeofence(t *testing.T) {
	reported := offsetNorth(austin, 40)
	result := Verify(VerifyInput{
		Reported:           reported,
		AccuracyMeters:     5,
		Expected:           austin,
		RadiusMeters:       50,
		SpoofAccuracyFloor: 3,
	})
	require.True(t, result.WithinGeofence)
	assert.InDelta(t, 40, result.DistanceMeters, 1)
	assert.Empty(t, result.Suspicions)
}

func TestVerifyOutsideGeofence(t *testing.T) {
	reported := offsetNorth(austin, 120)
	result := Verify(VerifyInput{
		Reported:     reported,
		Expected:     austin,
		RadiusMeters: 50,
	})
	require.False(t, result.WithinGeofence)
}

func TestVerifyImplausibleAccuracyAtCenter(t *testing.T) {
	result := Verify(VerifyInput{
		Reported:           austin,
		AccuracyMeters:     2.5,
		Expected:           austin,
		RadiusMeters:       50,
		SpoofAccuracyFloor: 3,
	})
	require.True(t, result.WithinGeofence)
	require.Contains(t, result.Suspicions, SuspicionAccuracyImplausible)
}

func TestVerifyAccuracyFloorNotTriggeredOffCenter(t *testing.T) {
	result := Verify(VerifyInput{
		Reported:           offsetNorth(austin, 20),
		AccuracyMeters:     2.5,
		Expected:           austin,
		RadiusMeters:       50,
		SpoofAccuracyFloor: 3,
	})
	assert.NotContains(t, result.Suspicions, SuspicionAccuracyImplausible)
}

func TestVerifyImplausibleTravelSpeed(t *testing.T) {
	eventTime := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	priorTime := eventTime.Add(-10 * time.Minute)
	// Dallas to Austin in ten minutes is far beyond any road speed.
	result := Verify(VerifyInput{
		Reported:          austin,
		Expected:          austin,
		RadiusMeters:      50,
		MaxTravelSpeedMPS: 33,
		PriorPoint:        &dallas,
		PriorTime:         &priorTime,
		EventTime:         eventTime,
	})
	require.Contains(t, result.Suspicions, SuspicionSpeedImplausible)
}

func TestVerifyPlausibleTravelSpeed(t *testing.T) {
	eventTime := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	priorTime := eventTime.Add(-30 * time.Minute)
	nearby := offsetNorth(austin, 5000)
	result := Verify(VerifyInput{
		Reported:          austin,
		Expected:          austin,
		RadiusMeters:      50,
		MaxTravelSpeedMPS: 33,
		PriorPoint:        &nearby,
		PriorTime:         &priorTime,
		EventTime:         eventTime,
	})
	assert.NotContains(t, result.Suspicions, SuspicionSpeedImplausible)
}

func TestVerifyMockLocationFlag(t *testing.T) {
	result := Verify(VerifyInput{
		Reported:     austin,
		Expected:     austin,
		RadiusMeters: 50,
		MockLocation: true,
	})
	require.Contains(t, result.Suspicions, SuspicionMockLocation)
}

func TestVerifySuspicionOrderStable(t *testing.T) {
	eventTime := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	priorTime := eventTime.Add(-time.Minute)
	result := Verify(VerifyInput{
		Reported:           austin,
		AccuracyMeters:     1,
		Expected:           austin,
		RadiusMeters:       50,
		SpoofAccuracyFloor: 3,
		MaxTravelSpeedMPS:  33,
		MockLocation:       true,
		PriorPoint:         &dallas,
		PriorTime:          &priorTime,
		EventTime:          eventTime,
	})
	require.Equal(t, []string{
		SuspicionAccuracyImplausible,
		SuspicionSpeedImplausible,
		SuspicionMockLocation,
	}, result.Suspicions)
}
