package processor

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JesusCabrera84/siscom-trips/internal/domain"
)

var decideNow = time.Date(2025, 12, 1, 12, 0, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

func newState(deviceID string) *domain.DeviceState {
	return &domain.DeviceState{DeviceID: deviceID}
}

func ignitionOnEvent(deviceID string, at time.Time) *domain.TelemetryEvent {
	return &domain.TelemetryEvent{
		DeviceID:      deviceID,
		EventTime:     at,
		CorrelationID: uuid.New(),
		Alert:         domain.AlertEngineOn,
		MessageClass:  domain.ClassAlert,
		Lat:           f(20.6),
		Lng:           f(-100.4),
		Speed:         f(0),
	}
}

func ignitionOffEvent(deviceID string, at time.Time) *domain.TelemetryEvent {
	ev := ignitionOnEvent(deviceID, at)
	ev.Alert = domain.AlertEngineOff
	return ev
}

func statusEvent(deviceID string, at time.Time, lat, lng float64) *domain.TelemetryEvent {
	return &domain.TelemetryEvent{
		DeviceID:      deviceID,
		EventTime:     at,
		CorrelationID: uuid.New(),
		MessageClass:  domain.ClassStatus,
		Lat:           f(lat),
		Lng:           f(lng),
		Speed:         f(42.5),
		Heading:       f(90),
	}
}

func TestDecide_IgnitionOnOpensTrip(t *testing.T) {
	ev := ignitionOnEvent("D1", decideNow)
	ev.OdometerMeters = f(1000)

	d := Decide(newState("D1"), ev, decideNow)

	require.NotNil(t, d.OpenTrip)
	assert.Equal(t, ev.CorrelationID, d.OpenTrip.TripID, "trip id reuses the message uuid")
	assert.Equal(t, ev.EventTime, d.OpenTrip.StartTime)
	assert.Equal(t, ev.Lat, d.OpenTrip.StartLat)
	assert.Equal(t, ev.OdometerMeters, d.OpenTrip.StartOdometerMeters)

	assert.True(t, d.NextState.IgnitionOn)
	require.NotNil(t, d.NextState.CurrentTripID)
	assert.Equal(t, ev.CorrelationID, *d.NextState.CurrentTripID)

	// Ignition-on is itself an alert and links to the trip it just opened.
	require.NotNil(t, d.Alert)
	require.NotNil(t, d.Alert.TripID)
	assert.Equal(t, ev.CorrelationID, *d.Alert.TripID)
	assert.Equal(t, domain.AlertEngineOn, d.Alert.AlertType)

	assert.Contains(t, d.Outcomes, OutcomeTripStarted)
	assert.Nil(t, d.CloseTrip)
	assert.Nil(t, d.Point)
	assert.Nil(t, d.Idle)
}

func TestDecide_IgnitionOnWithOpenTripIsNoOp(t *testing.T) {
	tripID := uuid.New()
	state := newState("D1")
	state.CurrentTripID = &tripID
	state.IgnitionOn = true

	d := Decide(state, ignitionOnEvent("D1", decideNow), decideNow)

	assert.Nil(t, d.OpenTrip, "no second trip for a repeated ignition pulse")
	assert.True(t, d.NextState.IgnitionOn)
	require.NotNil(t, d.NextState.CurrentTripID)
	assert.Equal(t, tripID, *d.NextState.CurrentTripID)
	assert.Contains(t, d.Outcomes, OutcomeIgnitionConfirmed)

	// The pulse is still recorded as an alert against the open trip.
	require.NotNil(t, d.Alert)
	assert.Equal(t, tripID, *d.Alert.TripID)
}

func TestDecide_IgnitionOffClosesTrip(t *testing.T) {
	tripID := uuid.New()
	state := newState("D1")
	state.CurrentTripID = &tripID
	state.IgnitionOn = true

	ev := ignitionOffEvent("D1", decideNow)
	ev.OdometerMeters = f(5000)

	d := Decide(state, ev, decideNow)

	require.NotNil(t, d.CloseTrip)
	assert.Equal(t, tripID, d.CloseTrip.TripID)
	assert.Equal(t, ev.EventTime, d.CloseTrip.EndTime)
	assert.Equal(t, ev.OdometerMeters, d.CloseTrip.EndOdometerMeters)

	assert.Nil(t, d.NextState.CurrentTripID)
	assert.False(t, d.NextState.IgnitionOn)
	assert.Contains(t, d.Outcomes, OutcomeTripEnded)

	// The ignition-off alert links to the trip it just closed.
	require.NotNil(t, d.Alert)
	require.NotNil(t, d.Alert.TripID)
	assert.Equal(t, tripID, *d.Alert.TripID)
}

// Scenario: ignition-off with no open trip. No trip mutation, but the alert
// is still recorded, unlinked.
func TestDecide_IgnitionOffWithoutTrip(t *testing.T) {
	d := Decide(newState("D3"), ignitionOffEvent("D3", decideNow), decideNow)

	assert.Nil(t, d.OpenTrip)
	assert.Nil(t, d.CloseTrip)
	assert.False(t, d.NextState.IgnitionOn)
	assert.Contains(t, d.Outcomes, OutcomeIgnitionIgnored)

	require.NotNil(t, d.Alert)
	assert.Nil(t, d.Alert.TripID)
	assert.Equal(t, domain.AlertEngineOff, d.Alert.AlertType)
}

func TestDecide_StatusWithOpenTripRecordsPoint(t *testing.T) {
	tripID := uuid.New()
	state := newState("D1")
	state.CurrentTripID = &tripID
	state.IgnitionOn = true
	state.LastLat = f(20.600)
	state.LastLng = f(-100.400)

	ev := statusEvent("D1", decideNow, 20.610, -100.400)
	d := Decide(state, ev, decideNow)

	require.NotNil(t, d.Point)
	assert.Equal(t, tripID, d.Point.TripID)
	assert.Equal(t, ev.CorrelationID, d.Point.CorrelationID)
	assert.Equal(t, 20.610, d.Point.Lat)
	assert.True(t, d.Point.IgnitionOn)
	assert.Contains(t, d.Outcomes, OutcomePointRecorded)

	// ~0.01 degrees of latitude is roughly 1.1 km.
	assert.InDelta(t, 1112, d.PointDistanceMeters, 10)

	assert.Nil(t, d.Alert)
	assert.Nil(t, d.Idle)
}

func TestDecide_FirstPointHasNoDistanceStep(t *testing.T) {
	tripID := uuid.New()
	state := newState("D1")
	state.CurrentTripID = &tripID
	state.IgnitionOn = true

	d := Decide(state, statusEvent("D1", decideNow, 20.6, -100.4), decideNow)

	require.NotNil(t, d.Point)
	assert.Zero(t, d.PointDistanceMeters)
}

// Scenario: status sample with no prior ignition-on. The sample never
// becomes a trip point; it is archived as idle activity and the last-known
// fields still refresh.
func TestDecide_StatusWithoutTripIsIdle(t *testing.T) {
	ev := statusEvent("D2", decideNow, 20.6, -100.4)
	d := Decide(newState("D2"), ev, decideNow)

	assert.Nil(t, d.Point)
	require.NotNil(t, d.Idle)
	assert.Equal(t, domain.ActivityGPSIdle, d.Idle.ActivityType)
	assert.Equal(t, ev.CorrelationID, d.Idle.CorrelationID)
	assert.Contains(t, d.Outcomes, OutcomeIdleRecorded)

	assert.Equal(t, ev.Lat, d.NextState.LastLat)
	assert.Equal(t, ev.Speed, d.NextState.LastSpeed)
	require.NotNil(t, d.NextState.LastPointAt)
	assert.Equal(t, ev.EventTime, *d.NextState.LastPointAt)
}

func TestDecide_PointRequiresCoordinates(t *testing.T) {
	tripID := uuid.New()
	state := newState("D1")
	state.CurrentTripID = &tripID
	state.IgnitionOn = true

	ev := statusEvent("D1", decideNow, 0, 0)
	ev.Lat = nil
	ev.Lng = nil

	d := Decide(state, ev, decideNow)
	assert.Nil(t, d.Point, "a fix-less status sample is not a trajectory point")
}

func TestDecide_AlertDuringTripLinksToTrip(t *testing.T) {
	tripID := uuid.New()
	state := newState("D1")
	state.CurrentTripID = &tripID
	state.IgnitionOn = true

	ev := statusEvent("D1", decideNow, 20.6, -100.4)
	ev.Alert = domain.AlertJamming
	ev.MessageClass = domain.ClassAlert

	d := Decide(state, ev, decideNow)

	require.NotNil(t, d.Alert)
	require.NotNil(t, d.Alert.TripID)
	assert.Equal(t, tripID, *d.Alert.TripID)
	assert.Equal(t, domain.SeverityCritical, d.Alert.Severity)
	assert.Nil(t, d.Idle, "alerts are never archived as idle activity")
}

func TestDecide_StatusCarryingAlertRecordsBoth(t *testing.T) {
	tripID := uuid.New()
	state := newState("D1")
	state.CurrentTripID = &tripID
	state.IgnitionOn = true

	ev := statusEvent("D1", decideNow, 20.6, -100.4)
	ev.Alert = domain.AlertLowBackupBattery

	d := Decide(state, ev, decideNow)

	assert.NotNil(t, d.Point)
	assert.NotNil(t, d.Alert)
	assert.Contains(t, d.Outcomes, OutcomePointRecorded)
	assert.Contains(t, d.Outcomes, OutcomeAlertRecorded)
}

func TestDecide_UnknownAlertCarriesVendorString(t *testing.T) {
	ev := statusEvent("D1", decideNow, 20.6, -100.4)
	ev.MessageClass = domain.ClassAlert
	ev.Alert = domain.AlertUnknown
	ev.RawAlert = "HARSH BRAKING"

	d := Decide(newState("D1"), ev, decideNow)

	require.NotNil(t, d.Alert)
	assert.Equal(t, "HARSH BRAKING", d.Alert.Metadata["RAW_ALERT"])
}

func TestDecide_StateRefreshKeepsLastKnownOnAbsentFields(t *testing.T) {
	state := newState("D1")
	state.LastLat = f(1)
	state.LastLng = f(2)
	state.LastSpeed = f(3)
	state.LastOdometerMeters = f(4)

	ev := &domain.TelemetryEvent{
		DeviceID:      "D1",
		EventTime:     decideNow,
		CorrelationID: uuid.New(),
		MessageClass:  domain.ClassUnknown,
	}

	d := Decide(state, ev, decideNow)

	assert.Equal(t, f(1), d.NextState.LastLat)
	assert.Equal(t, f(3), d.NextState.LastSpeed)
	assert.Equal(t, f(4), d.NextState.LastOdometerMeters)
	require.NotNil(t, d.NextState.LastCorrelationID)
	assert.Equal(t, ev.CorrelationID, *d.NextState.LastCorrelationID)
	assert.Equal(t, decideNow, d.NextState.LastUpdatedAt)
}

func TestDecide_EveryEventHasAnOutcome(t *testing.T) {
	ev := &domain.TelemetryEvent{
		DeviceID:      "D1",
		EventTime:     decideNow,
		CorrelationID: uuid.New(),
	}
	d := Decide(newState("D1"), ev, decideNow)
	assert.NotEmpty(t, d.Outcomes)
}

func TestHaversineMeters(t *testing.T) {
	// One degree of longitude at the equator is ~111.19 km.
	assert.InDelta(t, 111195, haversineMeters(0, 0, 0, 1), 200)
	assert.Zero(t, haversineMeters(20.6, -100.4, 20.6, -100.4))
}
