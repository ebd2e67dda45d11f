package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JesusCabrera84/siscom-trips/internal/domain"
	"github.com/JesusCabrera84/siscom-trips/internal/processor"
)

const ensureDeviceState = `
INSERT INTO trip_current_state (device_id, current_trip_id, ignition_on, last_updated_at)
VALUES ($1, NULL, false, NOW())
ON CONFLICT (device_id) DO NOTHING
`

const selectDeviceStateForUpdate = `
SELECT device_id, current_trip_id, ignition_on,
       last_point_at, last_lat, last_lng, last_speed,
       last_odometer_meters, last_correlation_id, last_updated_at
FROM trip_current_state
WHERE device_id = $1
FOR UPDATE
`

const updateDeviceState = `
UPDATE trip_current_state
SET current_trip_id      = $2,
    ignition_on          = $3,
    last_point_at        = $4,
    last_lat             = $5,
    last_lng             = $6,
    last_speed           = $7,
    last_odometer_meters = $8,
    last_correlation_id  = $9,
    last_updated_at      = $10
WHERE device_id = $1
`

const selectLatestOpenTrip = `
SELECT trip_id FROM trips
WHERE device_id = $1 AND end_time IS NULL
ORDER BY start_time DESC
LIMIT 1
`

const insertTrip = `
INSERT INTO trips (trip_id, device_id, start_time, start_lat, start_lng, start_odometer_meters)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (trip_id) DO NOTHING
`

const closeTrip = `
UPDATE trips
SET end_time            = $2,
    end_lat             = $3,
    end_lng             = $4,
    end_odometer_meters = $5,
    distance_meters     = CASE
        WHEN $5::double precision IS NOT NULL
         AND start_odometer_meters IS NOT NULL
         AND $5 >= start_odometer_meters
        THEN $5 - start_odometer_meters
        ELSE distance_meters
    END
WHERE trip_id = $1 AND end_time IS NULL
`

const addTripDistance = `
UPDATE trips
SET distance_meters = COALESCE(distance_meters, 0) + $2
WHERE trip_id = $1
`

const insertTripPoint = `
INSERT INTO trip_points
    (trip_id, device_id, timestamp, lat, lng, speed, heading, ignition_on, odometer_meters, correlation_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (device_id, timestamp, correlation_id) DO NOTHING
`

const insertTripAlert = `
INSERT INTO trip_alerts
    (alert_id, trip_id, device_id, timestamp, lat, lon, alert_type, raw_code, severity, metadata, correlation_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (device_id, correlation_id, timestamp) DO NOTHING
`

const insertIdleActivity = `
INSERT INTO device_idle_activity
    (idle_id, device_id, timestamp, lat, lon, activity_type, raw_code, severity, metadata, correlation_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (device_id, correlation_id, timestamp) DO NOTHING
`

func (u *unitOfWork) LockDeviceState(ctx context.Context, deviceID string) (*domain.DeviceState, error) {
	if _, err := u.tx.Exec(ctx, ensureDeviceState, deviceID); err != nil {
		return nil, err
	}

	row := u.tx.QueryRow(ctx, selectDeviceStateForUpdate, deviceID)
	state := &domain.DeviceState{}
	err := row.Scan(
		&state.DeviceID,
		&state.CurrentTripID,
		&state.IgnitionOn,
		&state.LastPointAt,
		&state.LastLat,
		&state.LastLng,
		&state.LastSpeed,
		&state.LastOdometerMeters,
		&state.LastCorrelationID,
		&state.LastUpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (u *unitOfWork) SaveDeviceState(ctx context.Context, state *domain.DeviceState) error {
	_, err := u.tx.Exec(ctx, updateDeviceState,
		state.DeviceID,
		state.CurrentTripID,
		state.IgnitionOn,
		state.LastPointAt,
		state.LastLat,
		state.LastLng,
		state.LastSpeed,
		state.LastOdometerMeters,
		state.LastCorrelationID,
		state.LastUpdatedAt,
	)
	return err
}

func (u *unitOfWork) FindOpenTrip(ctx context.Context, deviceID string) (*uuid.UUID, error) {
	var tripID uuid.UUID
	err := u.tx.QueryRow(ctx, selectLatestOpenTrip, deviceID).Scan(&tripID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tripID, nil
}

func (u *unitOfWork) InsertTrip(ctx context.Context, trip *domain.Trip) (bool, error) {
	tag, err := u.tx.Exec(ctx, insertTrip,
		trip.TripID,
		trip.DeviceID,
		trip.StartTime,
		trip.StartLat,
		trip.StartLng,
		trip.StartOdometerMeters,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (u *unitOfWork) CloseTrip(ctx context.Context, closure processor.TripClosure) error {
	_, err := u.tx.Exec(ctx, closeTrip,
		closure.TripID,
		closure.EndTime,
		closure.EndLat,
		closure.EndLng,
		closure.EndOdometerMeters,
	)
	return err
}

func (u *unitOfWork) AddTripDistance(ctx context.Context, tripID uuid.UUID, meters float64) error {
	_, err := u.tx.Exec(ctx, addTripDistance, tripID, meters)
	return err
}

func (u *unitOfWork) InsertPoint(ctx context.Context, point *domain.TripPoint) (bool, error) {
	tag, err := u.tx.Exec(ctx, insertTripPoint,
		point.TripID,
		point.DeviceID,
		point.EventTime,
		point.Lat,
		point.Lng,
		point.Speed,
		point.Heading,
		point.IgnitionOn,
		point.OdometerMeters,
		point.CorrelationID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (u *unitOfWork) InsertAlert(ctx context.Context, alert *domain.TripAlert) (bool, error) {
	tag, err := u.tx.Exec(ctx, insertTripAlert,
		alert.AlertID,
		alert.TripID,
		alert.DeviceID,
		alert.EventTime,
		alert.Lat,
		alert.Lon,
		string(alert.AlertType),
		alert.RawCode,
		int16(alert.Severity),
		alert.Metadata,
		alert.CorrelationID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (u *unitOfWork) InsertIdle(ctx context.Context, idle *domain.IdleActivity) (bool, error) {
	tag, err := u.tx.Exec(ctx, insertIdleActivity,
		idle.IdleID,
		idle.DeviceID,
		idle.EventTime,
		idle.Lat,
		idle.Lon,
		idle.ActivityType,
		idle.RawCode,
		int16(idle.Severity),
		idle.Metadata,
		idle.CorrelationID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
