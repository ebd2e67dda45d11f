// Package kafka consumes raw telemetry payloads from the gateway topic.
// Delivery is at-least-once: a fetched offset is committed only once every
// offset below it on the same partition has been processed and committed,
// so a failed message is never silently consumed by a later commit.
package kafka

import (
	"context"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/scram"
	"go.uber.org/zap"

	"github.com/JesusCabrera84/siscom-trips/internal/config"
	"github.com/JesusCabrera84/siscom-trips/internal/pipeline"
)

type Consumer struct {
	reader      *kafkago.Reader
	sink        *pipeline.Consumer
	log         *zap.Logger
	tracker     *offsetTracker
	maxFailures int
	cooldown    time.Duration
}

func NewConsumer(cfg *config.Config, sink *pipeline.Consumer, log *zap.Logger) (*Consumer, error) {
	readerCfg := kafkago.ReaderConfig{
		Brokers:        []string{cfg.KafkaBrokers},
		GroupID:        cfg.KafkaGroupID,
		Topic:          cfg.KafkaTopic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // synchronous commits
	}

	if cfg.KafkaUsername != "" {
		mechanism, err := scram.Mechanism(scram.SHA256, cfg.KafkaUsername, cfg.KafkaPassword)
		if err != nil {
			return nil, err
		}
		readerCfg.Dialer = &kafkago.Dialer{
			Timeout:       10 * time.Second,
			DualStack:     true,
			SASLMechanism: mechanism,
		}
	}

	return &Consumer{
		reader:      kafkago.NewReader(readerCfg),
		sink:        sink,
		log:         log,
		tracker:     newOffsetTracker(),
		maxFailures: cfg.KafkaMaxRetries,
		cooldown:    time.Duration(cfg.KafkaCooldownSeconds) * time.Second,
	}, nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Run fetches messages until ctx is cancelled. Consecutive fetch failures
// trip a circuit breaker that pauses consumption for the cooldown window
// instead of hot-looping against a broken broker.
func (c *Consumer) Run(ctx context.Context) error {
	consecutiveFailures := 0

	for {
		if consecutiveFailures >= c.maxFailures {
			c.log.Warn("circuit breaker tripped, cooling down",
				zap.Int("failures", consecutiveFailures),
				zap.Duration("cooldown", c.cooldown),
			)
			select {
			case <-time.After(c.cooldown):
			case <-ctx.Done():
				return ctx.Err()
			}
			consecutiveFailures = 0
			c.log.Info("circuit breaker reset, resuming consumption")
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			consecutiveFailures++
			c.log.Error("kafka fetch failed",
				zap.Int("failures", consecutiveFailures),
				zap.Error(err),
			)
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		consecutiveFailures = 0
		c.tracker.observe(msg.Partition, msg.Offset)

		if len(msg.Value) == 0 {
			c.ack(ctx, msg)
			continue
		}

		m := msg
		err = c.sink.Submit(ctx, pipeline.Delivery{
			Payload: m.Value,
			Ack: func() {
				c.ack(ctx, m)
			},
			// No Nack: an uncommitted offset is redelivered on the next
			// rebalance or restart.
		})
		if err != nil {
			return err
		}
	}
}

// ack records the message as done and commits the partition's contiguous
// prefix. Pool workers finish out of order, so committing the fetched
// offset directly could mark an earlier failed message as consumed.
func (c *Consumer) ack(ctx context.Context, m kafkago.Message) {
	commit, ok := c.tracker.complete(m.Partition, m.Offset)
	if !ok {
		return
	}
	m.Offset = commit
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		c.log.Error("offset commit failed", zap.Error(err))
	}
}

// offsetTracker keeps, per partition, the lowest offset not yet processed
// and the set of processed offsets above it. complete reports the highest
// offset whose whole prefix is processed, which is the only offset safe to
// commit.
type offsetTracker struct {
	mu   sync.Mutex
	next map[int]int64
	done map[int]map[int64]struct{}
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{
		next: map[int]int64{},
		done: map[int]map[int64]struct{}{},
	}
}

// observe registers a fetched offset. The first offset seen on a partition
// anchors the contiguous prefix; fetches arrive in order per partition.
func (t *offsetTracker) observe(partition int, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, seen := t.next[partition]; !seen {
		t.next[partition] = offset
		t.done[partition] = map[int64]struct{}{}
	}
}

// complete marks an offset processed and advances the partition's watermark
// over every contiguously processed offset. It returns the highest processed
// offset of that prefix and whether the watermark moved at all; when a lower
// offset is still outstanding it returns false and nothing is committed.
func (t *offsetTracker) complete(partition int, offset int64) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pending, seen := t.done[partition]
	if !seen || offset < t.next[partition] {
		return 0, false
	}
	pending[offset] = struct{}{}

	advanced := false
	for {
		n := t.next[partition]
		if _, ok := pending[n]; !ok {
			break
		}
		delete(pending, n)
		t.next[partition] = n + 1
		advanced = true
	}
	if !advanced {
		return 0, false
	}
	return t.next[partition] - 1, true
}
