package models

import "time"

// EntryType discriminates the two clock events of a visit.
type EntryType string

const (
	EntryTypeClockIn  EntryType = "CLOCK_IN"
	EntryTypeClockOut EntryType = "CLOCK_OUT"
)

// Valid returns true when the entry type is a supported value.
func (t EntryType) Valid() bool {
	return t == EntryTypeClockIn || t == EntryTypeClockOut
}

// VerificationMethod identifies the channel the clock event was captured on.
type VerificationMethod string

const (
	MethodGPS     VerificationMethod = "GPS"
	MethodPhone   VerificationMethod = "PHONE"
	MethodOffline VerificationMethod = "OFFLINE"
)

// Coordinate is a WGS84 point.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DeviceInfo captures the reporting device metadata.
type DeviceInfo struct {
	DeviceID string `json:"device_id"`
	Model    string `json:"model"`
	OS       string `json:"os"`
}

// ClockEvent is the ephemeral input for a clock-in or clock-out. It is never
// persisted directly; the engine consumes it to produce a TimeEntry.
type ClockEvent struct {
	VisitID          string
	EntryType        EntryType
	Timestamp        time.Time
	Coordinate       *Coordinate
	AccuracyMeters   float64
	MockLocation     bool
	Device           DeviceInfo
	Method           VerificationMethod
	Signature        []byte
	RecordedOffline  bool
	ExceptionApproved bool
	// PriorPoint is the caregiver's most recent clock event from another visit
	// in the same shift window, used for travel-speed plausibility.
	PriorPoint     *Coordinate
	PriorTimestamp *time.Time
}
