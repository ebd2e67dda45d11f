package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JesusCabrera84/siscom-trips/internal/domain"
	"github.com/JesusCabrera84/siscom-trips/internal/processor"
)

type stubProcessor struct {
	mu      sync.Mutex
	events  []*domain.TelemetryEvent
	failing bool
}

func (p *stubProcessor) Process(ctx context.Context, ev *domain.TelemetryEvent) (processor.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing {
		return processor.Result{}, errors.New("db down")
	}
	p.events = append(p.events, ev)
	return processor.Result{DeviceID: ev.DeviceID, Outcomes: []processor.Outcome{processor.OutcomeStateRefreshed}}, nil
}

const validPayload = `{
	"data": {"DEVICE_ID": "dev-1", "GPS_DATETIME": "2025-01-01 12:00:00", "MSG_CLASS": "STATUS"},
	"uuid": "d52b1454-d43d-50fa-99ca-79515c904162"
}`

func runConsumer(t *testing.T, c *Consumer) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("consumer did not stop")
		}
	}
}

func TestConsumer_AcksAfterCommit(t *testing.T) {
	proc := &stubProcessor{}
	c := NewConsumer(proc, nil, zap.NewNop(), 2, 16)
	stop := runConsumer(t, c)
	defer stop()

	acked := make(chan struct{})
	err := c.Submit(context.Background(), Delivery{
		Payload: []byte(validPayload),
		Ack:     func() { close(acked) },
		Nack:    func() { t.Error("must not nack a committed event") },
	})
	require.NoError(t, err)

	select {
	case <-acked:
	case <-time.After(time.Second):
		t.Fatal("delivery was never acknowledged")
	}

	proc.mu.Lock()
	defer proc.mu.Unlock()
	require.Len(t, proc.events, 1)
	assert.Equal(t, "dev-1", proc.events[0].DeviceID)
}

func TestConsumer_MalformedPayloadIsConsumedNotRetried(t *testing.T) {
	proc := &stubProcessor{}
	c := NewConsumer(proc, nil, zap.NewNop(), 1, 16)
	stop := runConsumer(t, c)
	defer stop()

	acked := make(chan struct{})
	err := c.Submit(context.Background(), Delivery{
		Payload: []byte(`{"data": {}}`),
		Ack:     func() { close(acked) },
		Nack:    func() { t.Error("a permanently malformed payload must not be redelivered") },
	})
	require.NoError(t, err)

	select {
	case <-acked:
	case <-time.After(time.Second):
		t.Fatal("malformed delivery was never acknowledged")
	}

	proc.mu.Lock()
	defer proc.mu.Unlock()
	assert.Empty(t, proc.events)
}

func TestConsumer_TransientFailureLeavesDeliveryUnacked(t *testing.T) {
	proc := &stubProcessor{failing: true}
	c := NewConsumer(proc, nil, zap.NewNop(), 1, 16)
	stop := runConsumer(t, c)
	defer stop()

	nacked := make(chan struct{})
	err := c.Submit(context.Background(), Delivery{
		Payload: []byte(validPayload),
		Ack:     func() { t.Error("must not ack a failed event") },
		Nack:    func() { close(nacked) },
	})
	require.NoError(t, err)

	select {
	case <-nacked:
	case <-time.After(time.Second):
		t.Fatal("failed delivery was never nacked")
	}
}

func TestConsumer_SubmitUnblocksOnCancel(t *testing.T) {
	// No workers draining: fill the channel, then verify a cancelled
	// context releases the submitter.
	c := NewConsumer(&stubProcessor{}, nil, zap.NewNop(), 1, 1)
	require.NoError(t, c.Submit(context.Background(), Delivery{Payload: []byte("x")}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := c.Submit(ctx, Delivery{Payload: []byte("y")})
	assert.ErrorIs(t, err, context.Canceled)
}
