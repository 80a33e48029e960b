// Package emitter mirrors detection events to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/ayusman/viewersense/internal/event"
)

// Defaults for the MQTT mirror.
const (
	DefaultTopic          = "viewersense/events"
	DefaultConnectTimeout = 5 * time.Second
	DefaultPublishTimeout = 2 * time.Second
)

// ErrNotConnected is returned by Publish before Connect succeeds or after Disconnect.
var ErrNotConnected = errors.New("mqtt not connected")

// Config configures the MQTT mirror. An empty Broker disables it.
type Config struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

// Enabled reports whether a broker is configured.
func (c Config) Enabled() bool {
	return c.Broker != ""
}

// Validate checks the QoS level.
func (c Config) Validate() error {
	if c.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.QoS)
	}
	return nil
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// MQTT publishes every detection event as JSON to a single topic. Publishing
// never waits for the broker; delivery failures are only counted and logged.
type MQTT struct {
	cfg    Config
	logger *slog.Logger

	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu        sync.RWMutex
	client    mqtt.Client
	connected bool
	published uint64
	errors    uint64
	inflight  sync.WaitGroup
}

// NewMQTT creates an emitter. Call Connect before publishing.
func NewMQTT(cfg Config, logger *slog.Logger) *MQTT {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "viewersense-" + uuid.NewString()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTT{
		cfg:       cfg,
		logger:    logger.With("component", "mqtt"),
		newClient: mqtt.NewClient,
	}
}

// Topic returns the topic events are published to.
func (e *MQTT) Topic() string {
	return e.cfg.Topic
}

// brokerURL adds the tcp scheme when the broker is given as host:port.
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes the broker connection. The client reconnects on its
// own after a later connection loss.
func (e *MQTT) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		e.logger.Info("mqtt connection established", "broker", e.cfg.Broker, "client_id", e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warn("mqtt connection lost, will auto-reconnect", "broker", e.cfg.Broker, "error", err)
	}

	client := e.newClient(opts)
	e.mu.Lock()
	e.client = client
	e.mu.Unlock()

	e.logger.Info("connecting to mqtt broker", "broker", e.cfg.Broker)

	timeout := DefaultConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// Publish queues ev for delivery and returns immediately.
func (e *MQTT) Publish(ev event.DetectionEvent) error {
	e.mu.RLock()
	client, connected := e.client, e.connected
	e.mu.RUnlock()

	if !connected || client == nil {
		e.countError()
		return ErrNotConnected
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		e.countError()
		return fmt.Errorf("encode event: %w", err)
	}

	token := client.Publish(e.cfg.Topic, e.cfg.QoS, false, payload)

	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		if !token.WaitTimeout(DefaultPublishTimeout) {
			e.countError()
			e.logger.Warn("mqtt publish timed out", "topic", e.cfg.Topic)
			return
		}
		if err := token.Error(); err != nil {
			e.countError()
			e.logger.Warn("mqtt publish failed", "topic", e.cfg.Topic, "error", err)
			return
		}
		e.mu.Lock()
		e.published++
		e.mu.Unlock()
		e.logger.Debug("event published", "topic", e.cfg.Topic, "size", len(payload))
	}()

	return nil
}

// Disconnect waits for in-flight publishes and closes the connection.
func (e *MQTT) Disconnect() {
	e.inflight.Wait()

	e.mu.Lock()
	client := e.client
	e.connected = false
	e.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		e.logger.Info("mqtt disconnected")
	}
}

// Stats returns emitter statistics
func (e *MQTT) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		Connected: e.connected,
		Published: e.published,
		Errors:    e.errors,
	}
}

func (e *MQTT) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTT) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
