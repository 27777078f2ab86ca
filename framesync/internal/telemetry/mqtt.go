// CLAUDE:SUMMARY MQTT status publisher (paho): auto-reconnect, LWT availability, Home Assistant discovery, publish counters as fields.
// Package telemetry publishes framesync status to an MQTT broker. The core
// only sees the Publish method; connection lifecycle, availability and
// discovery payloads are handled here.
package telemetry

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
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"
)

// ErrNotConnected is returned by Publish while the broker is unreachable.
var ErrNotConnected = errors.New("telemetry: mqtt not connected")

// Config configures the MQTT publisher.
type Config struct {
	Broker      string // host:port or a full tcp:// / ssl:// URL
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string // default "framesync"

	// Discovery publishes Home Assistant discovery documents on connect
	// under DiscoveryPrefix (default "homeassistant").
	Discovery       bool
	DiscoveryPrefix string

	ConnectTimeout time.Duration // default 5s
	PublishTimeout time.Duration // default 2s

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.ClientID == "" {
		c.ClientID = "framesync"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "framesync"
	}
	if c.DiscoveryPrefix == "" {
		c.DiscoveryPrefix = "homeassistant"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// BrokerURL normalises a broker address to a paho server URL.
func BrokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// AvailabilityTopic is where online/offline is published (retained).
func AvailabilityTopic(prefix string) string {
	return prefix + "/availability"
}

// MQTT is a status publisher backed by a paho client.
type MQTT struct {
	cfg    Config
	client mqtt.Client

	mu        sync.RWMutex
	published uint64
	errors    uint64
	connected bool
}

// Stats are the publisher counters.
type Stats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

// NewMQTT creates an unconnected publisher.
func NewMQTT(cfg Config) *MQTT {
	cfg.defaults()
	return &MQTT{cfg: cfg}
}

// Connect dials the broker. The client keeps retrying in the background,
// so a failed first attempt is reported but not final: Publish starts
// working once the broker comes up.
func (m *MQTT) Connect(ctx context.Context) error {
	cfg := m.cfg
	log := cfg.Logger
	avail := AvailabilityTopic(cfg.TopicPrefix)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetWill(avail, payloadOffline, 1, true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		m.setConnected(true)
		log.Info("telemetry: mqtt connected", "broker", cfg.Broker, "client_id", cfg.ClientID)
		c.Publish(avail, 1, true, payloadOnline)
		if cfg.Discovery {
			for _, d := range Discovery(cfg.DiscoveryPrefix, cfg.TopicPrefix, cfg.ClientID) {
				c.Publish(d.Topic, 1, true, d.Payload)
			}
		}
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		m.setConnected(false)
		log.Warn("telemetry: mqtt connection lost, reconnecting", "broker", cfg.Broker, "error", err)
	}

	m.client = mqtt.NewClient(opts)

	log.Info("telemetry: connecting to mqtt broker", "broker", cfg.Broker)
	token := m.client.Connect()
	if err := wait(ctx, token, cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("telemetry: connect %s: %w", cfg.Broker, err)
	}
	m.setConnected(true)
	return nil
}

// Publish sends payload to topic with QoS 1.
func (m *MQTT) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	if !m.isConnected() {
		m.countError()
		return ErrNotConnected
	}
	token := m.client.Publish(topic, 1, retained, payload)
	if err := wait(ctx, token, m.cfg.PublishTimeout); err != nil {
		m.countError()
		return fmt.Errorf("telemetry: publish %s: %w", topic, err)
	}

	m.mu.Lock()
	m.published++
	m.mu.Unlock()
	m.cfg.Logger.Debug("telemetry: published", "topic", topic, "size", len(payload))
	return nil
}

// Close publishes offline and disconnects.
func (m *MQTT) Close() error {
	if m.client != nil && m.client.IsConnected() {
		t := m.client.Publish(AvailabilityTopic(m.cfg.TopicPrefix), 1, true, payloadOffline)
		t.WaitTimeout(time.Second)
		m.client.Disconnect(250)
		m.cfg.Logger.Info("telemetry: mqtt disconnected")
	}
	m.setConnected(false)
	return nil
}

// Stats returns the publisher counters.
func (m *MQTT) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{Connected: m.connected, Published: m.published, Errors: m.errors}
}

func (m *MQTT) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func (m *MQTT) isConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected && m.client != nil
}

func (m *MQTT) countError() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}

func wait(ctx context.Context, t mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("timeout")
	}
}

// Nop discards everything. Used when telemetry is disabled.
type Nop struct{}

func (Nop) Publish(context.Context, string, []byte, bool) error { return nil }
func (Nop) Close() error                                        { return nil }

// DiscoveryMessage is one retained Home Assistant discovery document.
type DiscoveryMessage struct {
	Topic   string
	Payload []byte
}

type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

type haEntity struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	ValueTemplate     string   `json:"value_template"`
	AvailabilityTopic string   `json:"availability_topic"`
	DeviceClass       string   `json:"device_class,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	Device            haDevice `json:"device"`
}

// Discovery returns the discovery documents for the last-sync sensors,
// all reading the retained status topic.
func Discovery(discoveryPrefix, topicPrefix, clientID string) []DiscoveryMessage {
	dev := haDevice{
		Identifiers:  []string{clientID},
		Name:         "Frame sync",
		Manufacturer: "framesync",
		Model:        "dashboard to art mode",
	}
	state := topicPrefix + "/status"
	avail := AvailabilityTopic(topicPrefix)

	entities := []struct {
		component string
		key       string
		entity    haEntity
	}{
		{"sensor", "last_sync", haEntity{
			Name:          "Last sync",
			ValueTemplate: "{{ value_json.last_sync_time }}",
			DeviceClass:   "timestamp",
		}},
		{"binary_sensor", "sync_problem", haEntity{
			Name:          "Sync problem",
			ValueTemplate: "{{ 'OFF' if value_json.last_success else 'ON' }}",
			DeviceClass:   "problem",
			PayloadOn:     "ON",
			PayloadOff:    "OFF",
		}},
		{"sensor", "last_error", haEntity{
			Name:          "Last error",
			ValueTemplate: "{{ value_json.last_error | default('') }}",
			Icon:          "mdi:alert-circle-outline",
		}},
		{"sensor", "content_id", haEntity{
			Name:          "Content id",
			ValueTemplate: "{{ value_json.content_id | default('') }}",
			Icon:          "mdi:image-frame",
		}},
	}

	out := make([]DiscoveryMessage, 0, len(entities))
	for _, e := range entities {
		ent := e.entity
		ent.UniqueID = clientID + "_" + e.key
		ent.StateTopic = state
		ent.AvailabilityTopic = avail
		ent.Device = dev
		payload, _ := json.Marshal(ent)
		out = append(out, DiscoveryMessage{
			Topic:   fmt.Sprintf("%s/%s/%s/%s/config", discoveryPrefix, e.component, clientID, e.key),
			Payload: payload,
		})
	}
	return out
}
