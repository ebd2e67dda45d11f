// Package processor applies decoded telemetry events to the durable trip
// ledgers, one event per transaction, serialized per device by a row lock on
// the device state record.
package processor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JesusCabrera84/siscom-trips/internal/domain"
)

// UnitOfWork is the transaction-scoped view of the three ledgers plus the
// device state store. Insert methods return false when the row already
// existed and the write was absorbed by the idempotency key.
type UnitOfWork interface {
	// LockDeviceState creates the device's state row if this is the first
	// event ever seen for it, then takes the row lock that serializes all
	// processing for the device until the transaction ends.
	LockDeviceState(ctx context.Context, deviceID string) (*domain.DeviceState, error)
	SaveDeviceState(ctx context.Context, state *domain.DeviceState) error

	FindOpenTrip(ctx context.Context, deviceID string) (*uuid.UUID, error)
	InsertTrip(ctx context.Context, trip *domain.Trip) (bool, error)
	CloseTrip(ctx context.Context, closure TripClosure) error
	AddTripDistance(ctx context.Context, tripID uuid.UUID, meters float64) error

	InsertPoint(ctx context.Context, point *domain.TripPoint) (bool, error)
	InsertAlert(ctx context.Context, alert *domain.TripAlert) (bool, error)
	InsertIdle(ctx context.Context, idle *domain.IdleActivity) (bool, error)
}

// Transactor runs fn inside one atomic unit of work. If fn returns an error
// the transaction rolls back and nothing fn did is observable.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
}

// Result reports what one committed event did.
type Result struct {
	DeviceID string
	Outcomes []Outcome
	// Duplicate is set when at least one write was absorbed by an
	// idempotency key, i.e. the event was a redelivery.
	Duplicate bool
	TripID    *uuid.UUID
}

func (r Result) Has(o Outcome) bool {
	for _, got := range r.Outcomes {
		if got == o {
			return true
		}
	}
	return false
}

type Processor struct {
	store Transactor
	log   *zap.Logger
	now   func() time.Time
}

func New(store Transactor, log *zap.Logger) *Processor {
	return &Processor{store: store, log: log, now: time.Now}
}

// Process applies one event atomically. On error nothing was written and the
// message must stay unacknowledged for redelivery; on success the message may
// be acknowledged.
func (p *Processor) Process(ctx context.Context, ev *domain.TelemetryEvent) (Result, error) {
	var res Result
	err := p.store.InTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		state, err := uow.LockDeviceState(ctx, ev.DeviceID)
		if err != nil {
			return err
		}

		// Repair path: older writers left ignition_on set without the trip
		// reference. Resolve it from the trip ledger so ignition-off can
		// still close the right trip.
		if state.IgnitionOn && state.CurrentTripID == nil {
			open, err := uow.FindOpenTrip(ctx, ev.DeviceID)
			if err != nil {
				return err
			}
			state.CurrentTripID = open
		}

		decision := Decide(state, ev, p.now())
		res = Result{DeviceID: ev.DeviceID, Outcomes: decision.Outcomes}

		if decision.OpenTrip != nil {
			inserted, err := uow.InsertTrip(ctx, decision.OpenTrip)
			if err != nil {
				return err
			}
			if !inserted {
				res.Duplicate = true
				// Redelivered opening message: the trip row already exists.
				// If it has closed in the meantime, committing a state that
				// references it would leave current_trip_id pointing at a
				// closed trip, so resolve the reference against the ledger.
				open, err := uow.FindOpenTrip(ctx, ev.DeviceID)
				if err != nil {
					return err
				}
				if open == nil || *open != decision.OpenTrip.TripID {
					decision.NextState.CurrentTripID = open
					if open == nil {
						decision.NextState.IgnitionOn = state.IgnitionOn
					}
					decision.Point = nil
				}
			}
		}
		if decision.NextState.CurrentTripID != nil {
			res.TripID = decision.NextState.CurrentTripID
		} else if decision.CloseTrip != nil {
			id := decision.CloseTrip.TripID
			res.TripID = &id
		}
		if decision.CloseTrip != nil {
			if err := uow.CloseTrip(ctx, *decision.CloseTrip); err != nil {
				return err
			}
		}
		if decision.Point != nil {
			inserted, err := uow.InsertPoint(ctx, decision.Point)
			if err != nil {
				return err
			}
			if inserted {
				if decision.PointDistanceMeters > 0 {
					if err := uow.AddTripDistance(ctx, decision.Point.TripID, decision.PointDistanceMeters); err != nil {
						return err
					}
				}
			} else {
				res.Duplicate = true
			}
		}
		if decision.Alert != nil {
			inserted, err := uow.InsertAlert(ctx, decision.Alert)
			if err != nil {
				return err
			}
			if !inserted {
				res.Duplicate = true
			}
		}
		if decision.Idle != nil {
			inserted, err := uow.InsertIdle(ctx, decision.Idle)
			if err != nil {
				return err
			}
			if !inserted {
				res.Duplicate = true
			}
		}

		return uow.SaveDeviceState(ctx, &decision.NextState)
	})
	if err != nil {
		return Result{}, err
	}

	p.log.Info("event applied",
		zap.String("device_id", res.DeviceID),
		zap.Any("outcomes", res.Outcomes),
		zap.Bool("duplicate", res.Duplicate),
		zap.Stringer("correlation_id", ev.CorrelationID),
	)
	return res, nil
}
