package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeviceState is the one-row-per-device record that anchors all trip
// processing. Whoever holds its row lock is the only writer for that
// device's trips, points and alerts for the duration of the transaction.
//
// CurrentTripID is non-nil exactly when the referenced trip is still open.
type DeviceState struct {
	DeviceID      string
	CurrentTripID *uuid.UUID
	IgnitionOn    bool

	LastPointAt        *time.Time
	LastLat            *float64
	LastLng            *float64
	LastSpeed          *float64
	LastOdometerMeters *float64
	LastCorrelationID  *uuid.UUID
	LastUpdatedAt      time.Time
}

// Trip is one bounded session of vehicle operation, opened by an ignition-on
// event and closed by ignition-off. EndTime nil means the trip is open.
type Trip struct {
	TripID   uuid.UUID
	DeviceID string

	StartTime           time.Time
	StartLat            *float64
	StartLng            *float64
	StartOdometerMeters *float64

	EndTime           *time.Time
	EndLat            *float64
	EndLng            *float64
	EndOdometerMeters *float64

	DistanceMeters *float64
}

// TripPoint is one trajectory sample recorded while its trip was open.
// (DeviceID, EventTime, CorrelationID) is the idempotency key.
type TripPoint struct {
	TripID         uuid.UUID
	DeviceID       string
	EventTime      time.Time
	Lat            float64
	Lng            float64
	Speed          *float64
	Heading        *float64
	IgnitionOn     bool
	OdometerMeters *float64
	CorrelationID  uuid.UUID
}

// TripAlert is one alert occurrence. TripID is set when a trip was open at
// the moment the alert applied (after any open/close performed by the same
// event), nil otherwise. (DeviceID, CorrelationID, EventTime) is the
// idempotency key.
type TripAlert struct {
	AlertID       uuid.UUID
	TripID        *uuid.UUID
	DeviceID      string
	EventTime     time.Time
	Lat           *float64
	Lon           *float64
	AlertType     AlertType
	RawCode       *int32
	Severity      AlertSeverity
	Metadata      map[string]any
	CorrelationID uuid.UUID
}

// IdleActivity archives samples that arrive while no trip is open. They
// never become trip points; they exist so that movement between trips is
// not silently lost. Same idempotency key as TripPoint.
type IdleActivity struct {
	IdleID        uuid.UUID
	DeviceID      string
	EventTime     time.Time
	Lat           *float64
	Lon           *float64
	ActivityType  string
	RawCode       *int32
	Severity      AlertSeverity
	Metadata      map[string]any
	CorrelationID uuid.UUID
}

// ActivityGPSIdle labels idle activity rows that carry no alert signal.
const ActivityGPSIdle = "gps_idle_point"
