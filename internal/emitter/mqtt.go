// Package emitter publishes saved-recording manifests to an MQTT broker.
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

	"agentstudio.dev/deskrec/internal/config"
	"agentstudio.dev/deskrec/internal/logging"
	"agentstudio.dev/deskrec/recorder"
)

var ErrNotConnected = errors.New("mqtt not connected")

const (
	connectTimeout  = 5 * time.Second
	publishTimeout  = 2 * time.Second
	disconnectQuiet = 250
)

// ManifestMessage is the published payload.
type ManifestMessage struct {
	EpochID  string            `json:"epoch_id"`
	Manifest recorder.Manifest `json:"manifest"`
}

// Stats contains emitter statistics.
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// PublishObserver is told about each publication attempt.
type PublishObserver interface {
	ManifestPublished()
	PublishFailed(err error)
}

// MQTTEmitter publishes manifests to "<topic>/manifests".
type MQTTEmitter struct {
	cfg    config.MQTTConfig
	log    *slog.Logger
	obs    PublishObserver
	Client mqtt.Client

	mu        sync.RWMutex
	published uint64
	errors    uint64
	connected bool
}

func NewMQTTEmitter(cfg config.MQTTConfig, log *slog.Logger, obs PublishObserver) *MQTTEmitter {
	return &MQTTEmitter{
		cfg: cfg,
		log: logging.Or(log, "emitter"),
		obs: obs,
	}
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Topic returns the manifest topic.
func (e *MQTTEmitter) Topic() string {
	return strings.TrimSuffix(e.cfg.Topic, "/") + "/manifests"
}

// Connect establishes the broker connection. The client reconnects on its own
// after later connection loss.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		e.log.Info("mqtt connection established", "broker", e.cfg.Broker, "client_id", e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		e.log.Warn("mqtt connection lost, will auto-reconnect", "err", err, "broker", e.cfg.Broker)
	}

	e.Client = mqtt.NewClient(opts)
	e.log.Info("connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.Client.Connect()
	timeout := connectTimeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	e.setConnected(true)
	return nil
}

// PublishManifest publishes one saved-recording manifest.
func (e *MQTTEmitter) PublishManifest(epochID string, m *recorder.Manifest) error {
	err := e.publishManifest(epochID, m)
	if err != nil {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		if e.obs != nil {
			e.obs.PublishFailed(err)
		}
		return err
	}
	e.mu.Lock()
	e.published++
	e.mu.Unlock()
	if e.obs != nil {
		e.obs.ManifestPublished()
	}
	return nil
}

func (e *MQTTEmitter) publishManifest(epochID string, m *recorder.Manifest) error {
	if !e.isConnected() {
		return ErrNotConnected
	}
	payload, err := EncodeManifest(epochID, m)
	if err != nil {
		return err
	}

	topic := e.Topic()
	token := e.Client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	e.log.Debug("manifest published", "topic", topic, "qos", e.cfg.QoS, "size", len(payload))
	return nil
}

// EncodeManifest builds the JSON payload for a manifest.
func EncodeManifest(epochID string, m *recorder.Manifest) ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil manifest")
	}
	payload, err := json.Marshal(ManifestMessage{EpochID: epochID, Manifest: *m})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return payload, nil
}

// Disconnect closes the broker connection.
func (e *MQTTEmitter) Disconnect() {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(disconnectQuiet)
		e.log.Info("mqtt disconnected")
	}
	e.setConnected(false)
}

func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		Connected: e.connected,
		Published: e.published,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}
