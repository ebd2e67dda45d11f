// Package pipeline bridges the inbound message transports to the trip
// processor: a bounded pool of workers, each applying one delivery at a time
// and acknowledging it only after its transaction has committed.
package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JesusCabrera84/siscom-trips/internal/decoder"
	"github.com/JesusCabrera84/siscom-trips/internal/domain"
	"github.com/JesusCabrera84/siscom-trips/internal/metrics"
	"github.com/JesusCabrera84/siscom-trips/internal/processor"
)

// Delivery is one raw message plus its transport acknowledgement hooks.
// Ack marks the message consumed; Nack leaves it eligible for redelivery.
// Either may be nil when the transport has no such notion.
type Delivery struct {
	Payload []byte
	Ack     func()
	Nack    func()
}

// StateMirror receives committed results for live-status fan-out. Failures
// are logged and ignored: the mirror is advisory, the ledgers are truth.
type StateMirror interface {
	MirrorState(ctx context.Context, ev *domain.TelemetryEvent, res processor.Result) error
}

// EventProcessor applies one decoded event atomically.
type EventProcessor interface {
	Process(ctx context.Context, ev *domain.TelemetryEvent) (processor.Result, error)
}

type Consumer struct {
	ch      chan Delivery
	proc    EventProcessor
	mirror  StateMirror
	log     *zap.Logger
	workers int
}

func NewConsumer(proc EventProcessor, mirror StateMirror, log *zap.Logger, workers, chanSize int) *Consumer {
	if workers < 1 {
		workers = 1
	}
	return &Consumer{
		ch:      make(chan Delivery, chanSize),
		proc:    proc,
		mirror:  mirror,
		log:     log,
		workers: workers,
	}
}

// Submit hands a delivery to the worker pool, blocking while the pool is
// saturated so the transport applies backpressure instead of losing messages.
func (c *Consumer) Submit(ctx context.Context, d Delivery) error {
	select {
	case c.ch <- d:
		return nil
	case <-ctx.Done():
		metrics.EventChannelDrops.Add(1)
		return ctx.Err()
	}
}

// Run processes deliveries until ctx is cancelled and the channel drains.
func (c *Consumer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case d, ok := <-c.ch:
					if !ok {
						return
					}
					c.handle(ctx, d)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	wg.Wait()
}

func (c *Consumer) handle(ctx context.Context, d Delivery) {
	metrics.EventsReceived.Add(1)

	ev, err := decoder.Decode(d.Payload)
	if err != nil {
		// Permanently malformed; retrying cannot succeed, so consume it.
		metrics.EventsDecodeReject.Add(1)
		c.log.Warn("event rejected", zap.Error(err))
		ack(d)
		return
	}

	res, err := c.proc.Process(ctx, ev)
	if err != nil {
		// Transient storage failure: leave the message unacknowledged so
		// the transport redelivers it. The idempotency keys make the
		// replay safe.
		metrics.EventsRetried.Add(1)
		c.log.Error("event deferred for retry",
			zap.String("device_id", ev.DeviceID),
			zap.Error(err),
		)
		nack(d)
		return
	}

	metrics.EventsApplied.Add(1)
	if res.Duplicate {
		metrics.EventsDuplicate.Add(1)
	}
	if res.Has(processor.OutcomeTripStarted) {
		metrics.TripsOpened.Add(1)
	}
	if res.Has(processor.OutcomeTripEnded) {
		metrics.TripsClosed.Add(1)
	}

	if c.mirror != nil {
		if err := c.mirror.MirrorState(ctx, ev, res); err != nil {
			c.log.Warn("state mirror failed",
				zap.String("device_id", ev.DeviceID),
				zap.Error(err),
			)
		}
	}

	ack(d)
}

func ack(d Delivery) {
	if d.Ack != nil {
		d.Ack()
	}
}

func nack(d Delivery) {
	if d.Nack != nil {
		d.Nack()
	}
}
