package processor

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/JesusCabrera84/siscom-trips/internal/domain"
)

// Outcome classifies what one event did to the device's durable state.
// A single event can produce several (a status sample carrying an alert
// records both a point and an alert).
type Outcome string

const (
	OutcomeTripStarted       Outcome = "trip_started"
	OutcomeTripEnded         Outcome = "trip_ended"
	OutcomeIgnitionConfirmed Outcome = "ignition_confirmed"
	OutcomeIgnitionIgnored   Outcome = "ignition_ignored"
	OutcomePointRecorded     Outcome = "point_recorded"
	OutcomeAlertRecorded     Outcome = "alert_recorded"
	OutcomeIdleRecorded      Outcome = "idle_recorded"
	OutcomeStateRefreshed    Outcome = "state_refreshed"
)

// TripClosure carries the fields written when a trip ends. The distance
// policy is applied at write time: when both odometer readings exist and the
// delta is non-negative the delta wins, otherwise the running point-to-point
// sum already on the row is kept.
type TripClosure struct {
	TripID            uuid.UUID
	EndTime           time.Time
	EndLat            *float64
	EndLng            *float64
	EndOdometerMeters *float64
}

// Decision is the full effect of one event on one device, computed against
// the locked pre-image. Nil members mean "no write". Every member is applied
// inside the same transaction or not at all.
type Decision struct {
	OpenTrip  *domain.Trip
	CloseTrip *TripClosure
	Point     *domain.TripPoint
	// PointDistanceMeters is the haversine step from the device's previous
	// position, added to the open trip's running distance iff the point
	// insert is not absorbed as a duplicate.
	PointDistanceMeters float64
	Alert               *domain.TripAlert
	Idle                *domain.IdleActivity
	NextState           domain.DeviceState
	Outcomes            []Outcome
}

// Decide applies the trip rules to one event and one locked device state.
// It is pure: no I/O, no clock reads, no randomness beyond the ids minted
// for new rows. Rules fire in a fixed order and every state/event pair has
// a defined result; "condition not met" is a no-op branch, never an error.
func Decide(state *domain.DeviceState, ev *domain.TelemetryEvent, now time.Time) Decision {
	d := Decision{NextState: *state}
	next := &d.NextState

	// Ignition transitions first, so that the alert recorded below links to
	// the trip this very event opened or closed.
	var closedTripID *uuid.UUID
	switch {
	case ev.Alert.IsIgnitionOn():
		if state.CurrentTripID == nil {
			// The message uuid doubles as the trip id, which makes trip
			// creation idempotent under redelivery.
			trip := &domain.Trip{
				TripID:              ev.CorrelationID,
				DeviceID:            ev.DeviceID,
				StartTime:           ev.EventTime,
				StartLat:            ev.Lat,
				StartLng:            ev.Lng,
				StartOdometerMeters: ev.OdometerMeters,
			}
			d.OpenTrip = trip
			next.CurrentTripID = &trip.TripID
			d.Outcomes = append(d.Outcomes, OutcomeTripStarted)
		} else {
			d.Outcomes = append(d.Outcomes, OutcomeIgnitionConfirmed)
		}
		next.IgnitionOn = true

	case ev.Alert.IsIgnitionOff():
		if state.CurrentTripID != nil {
			d.CloseTrip = &TripClosure{
				TripID:            *state.CurrentTripID,
				EndTime:           ev.EventTime,
				EndLat:            ev.Lat,
				EndLng:            ev.Lng,
				EndOdometerMeters: ev.OdometerMeters,
			}
			closedTripID = state.CurrentTripID
			next.CurrentTripID = nil
			d.Outcomes = append(d.Outcomes, OutcomeTripEnded)
		} else {
			d.Outcomes = append(d.Outcomes, OutcomeIgnitionIgnored)
		}
		next.IgnitionOn = false
	}

	// Status samples become trajectory points only while a trip is open;
	// there is no buffering of points for trips that do not exist.
	if ev.IsStatus() && next.CurrentTripID != nil && ev.Lat != nil && ev.Lng != nil {
		d.Point = &domain.TripPoint{
			TripID:         *next.CurrentTripID,
			DeviceID:       ev.DeviceID,
			EventTime:      ev.EventTime,
			Lat:            *ev.Lat,
			Lng:            *ev.Lng,
			Speed:          ev.Speed,
			Heading:        ev.Heading,
			IgnitionOn:     next.IgnitionOn,
			OdometerMeters: ev.OdometerMeters,
			CorrelationID:  ev.CorrelationID,
		}
		if state.LastLat != nil && state.LastLng != nil {
			d.PointDistanceMeters = haversineMeters(*state.LastLat, *state.LastLng, *ev.Lat, *ev.Lng)
		}
		d.Outcomes = append(d.Outcomes, OutcomePointRecorded)
	}

	// Every alert signal is recorded, trip or no trip. Ignition pulses are
	// alerts themselves; the linkage reflects the state after the
	// transitions above, so ignition-off still points at the trip it closed.
	if ev.HasAlert() {
		alertTripID := next.CurrentTripID
		if closedTripID != nil {
			alertTripID = closedTripID
		}
		d.Alert = &domain.TripAlert{
			AlertID:       uuid.New(),
			TripID:        alertTripID,
			DeviceID:      ev.DeviceID,
			EventTime:     ev.EventTime,
			Lat:           ev.Lat,
			Lon:           ev.Lng,
			AlertType:     ev.Alert,
			RawCode:       ev.RawCode,
			Severity:      ev.Alert.Severity(),
			Metadata:      alertMetadata(ev),
			CorrelationID: ev.CorrelationID,
		}
		d.Outcomes = append(d.Outcomes, OutcomeAlertRecorded)
	}

	// Plain samples with no open trip are archived as idle activity instead
	// of being dropped on the floor.
	if !ev.HasAlert() && next.CurrentTripID == nil {
		d.Idle = &domain.IdleActivity{
			IdleID:        uuid.New(),
			DeviceID:      ev.DeviceID,
			EventTime:     ev.EventTime,
			Lat:           ev.Lat,
			Lon:           ev.Lng,
			ActivityType:  domain.ActivityGPSIdle,
			Severity:      domain.SeverityInfo,
			Metadata:      ev.Metadata,
			CorrelationID: ev.CorrelationID,
		}
		d.Outcomes = append(d.Outcomes, OutcomeIdleRecorded)
	}

	// Last-known fields always track the newest event, open trip or not.
	next.LastPointAt = timePtr(ev.EventTime)
	if ev.Lat != nil {
		next.LastLat = ev.Lat
	}
	if ev.Lng != nil {
		next.LastLng = ev.Lng
	}
	if ev.Speed != nil {
		next.LastSpeed = ev.Speed
	}
	if ev.OdometerMeters != nil {
		next.LastOdometerMeters = ev.OdometerMeters
	}
	corr := ev.CorrelationID
	next.LastCorrelationID = &corr
	next.LastUpdatedAt = now

	if len(d.Outcomes) == 0 {
		d.Outcomes = append(d.Outcomes, OutcomeStateRefreshed)
	}
	return d
}

func alertMetadata(ev *domain.TelemetryEvent) map[string]any {
	if ev.Alert != domain.AlertUnknown {
		return ev.Metadata
	}
	// Unknown codes keep the vendor string so new firmware variants can be
	// classified later.
	meta := make(map[string]any, len(ev.Metadata)+1)
	for k, v := range ev.Metadata {
		meta[k] = v
	}
	meta["RAW_ALERT"] = ev.RawAlert
	return meta
}

const earthRadiusMeters = 6371000.0

func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}

func timePtr(t time.Time) *time.Time { return &t }
