// Package mqtt mirrors gateway traffic to an MQTT broker so local consumers
// can follow readings and sprinkler directives without touching the cloud.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"lora-gateway/internal/config"
	"lora-gateway/internal/node"
)

const publishTimeout = 5 * time.Second

// ErrNotConnected is returned by the publish methods while the broker link is
// down. Callers treat it as a skipped message.
var ErrNotConnected = errors.New("mqtt client not connected")

type Client struct {
	client    mqtt.Client
	gatewayID string
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Telemetry is the JSON body published for every forwarded reading.
type Telemetry struct {
	GatewayID   string    `json:"gateway_id"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature_c"`
	Humidity    float64   `json:"humidity_pct"`
	SprinklerOn bool      `json:"sprinkler_on"`
}

// SprinklerState is the retained body on the sprinkler topic.
type SprinklerState struct {
	GatewayID string    `json:"gateway_id"`
	Directive string    `json:"directive"`
	On        bool      `json:"on"`
	SentAt    time.Time `json:"sent_at"`
}

func NewClient(cfg config.Config, logger *slog.Logger) (*Client, error) {
	if cfg.MQTTBroker == "" {
		return nil, errors.New("mqtt: broker not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		gatewayID: cfg.GatewayID,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.setConnected(true)
		logger.Info("mqtt: connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		logger.Warn("mqtt: connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// Connect waits for the initial connection. It respects ctx and Disconnect.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return errors.New("mqtt: client stopped")
	default:
	}

	if c.IsConnected() {
		return nil
	}

	// With ConnectRetry the token may stay pending while paho retries.
	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return errors.New("mqtt: client stopped")
		default:
		}
	}
}

func (c *Client) TelemetryTopic() string {
	return fmt.Sprintf("gateways/%s/telemetry", c.gatewayID)
}

func (c *Client) SprinklerTopic() string {
	return fmt.Sprintf("gateways/%s/sprinkler", c.gatewayID)
}

// PublishReading mirrors one forwarded reading at QoS 1.
func (c *Client) PublishReading(r node.SensorReading, receivedAt time.Time) error {
	return c.publish(c.TelemetryTopic(), false, Telemetry{
		GatewayID:   c.gatewayID,
		Timestamp:   receivedAt.UTC(),
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		SprinklerOn: r.SprinklerOn,
	})
}

// PublishDirective records the last directive sent to the node. The message
// is retained so new subscribers see the current sprinkler state.
func (c *Client) PublishDirective(d node.Directive, sentAt time.Time) error {
	return c.publish(c.SprinklerTopic(), true, SprinklerState{
		GatewayID: c.gatewayID,
		Directive: string(d),
		On:        d == node.SprinklerOn,
		SentAt:    sentAt.UTC(),
	})
}

func (c *Client) publish(topic string, retained bool, v any) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}

	token := c.client.Publish(topic, 1, retained, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		c.logger.Error("mqtt: publish failed", "topic", topic, "error", err)
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	c.logger.Debug("mqtt: published", "topic", topic, "retained", retained)
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect stops the client. Safe to call more than once; Connect fails
// afterwards.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.logger.Info("mqtt: disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
