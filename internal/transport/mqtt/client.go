// Package mqtt subscribes to the device gateway's telemetry topic. Messages
// arrive QoS 1 (at-least-once); the broker's session redelivers anything not
// acknowledged before a disconnect.
package mqtt

import (
	"context"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JesusCabrera84/siscom-trips/internal/config"
	"github.com/JesusCabrera84/siscom-trips/internal/pipeline"
)

type Client struct {
	client pahomqtt.Client
	topic  string
	sink   *pipeline.Consumer
	log    *zap.Logger
	ctx    context.Context
}

func NewClient(cfg *config.Config, sink *pipeline.Consumer, log *zap.Logger) *Client {
	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort)).
		SetClientID(fmt.Sprintf("siscom-trips-%s", uuid.NewString())).
		SetUsername(cfg.MQTTUsername).
		SetPassword(cfg.MQTTPassword).
		SetKeepAlive(5 * time.Second).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetCleanSession(false)

	c := &Client{topic: cfg.MQTTTopic, sink: sink, log: log}

	opts.SetOnConnectHandler(func(client pahomqtt.Client) {
		log.Info("mqtt connected")
		token := client.Subscribe(c.topic, 1, c.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Error("mqtt subscribe failed", zap.String("topic", c.topic), zap.Error(err))
			return
		}
		log.Info("mqtt subscribed", zap.String("topic", c.topic))
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	})

	c.client = pahomqtt.NewClient(opts)
	return c
}

// Run connects and blocks until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	c.ctx = ctx

	token := c.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}

	<-ctx.Done()
	c.client.Disconnect(250)
	return ctx.Err()
}

func (c *Client) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())

	// paho acknowledges on handler return; redelivery protection comes from
	// the persistent session plus the ledgers' idempotency keys.
	if err := c.sink.Submit(c.ctx, pipeline.Delivery{Payload: payload}); err != nil {
		c.log.Warn("delivery dropped during shutdown", zap.Error(err))
	}
}
