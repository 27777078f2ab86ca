package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestBrokerURL(t *testing.T) {
	if got := BrokerURL("core-mosquitto:1883"); got != "tcp://core-mosquitto:1883" {
		t.Fatalf("got %q", got)
	}
	if got := BrokerURL("ssl://broker:8883"); got != "ssl://broker:8883" {
		t.Fatalf("got %q", got)
	}
}

func TestPublish_NotConnected(t *testing.T) {
	// WHAT: Publishing before a connection fails fast and is counted.
	m := NewMQTT(Config{Broker: "localhost:1883"})
	err := m.Publish(context.Background(), "framesync/status", []byte("{}"), true)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("got %v", err)
	}
	st := m.Stats()
	if st.Connected || st.Errors != 1 || st.Published != 0 {
		t.Fatalf("stats: %+v", st)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDiscovery(t *testing.T) {
	msgs := Discovery("homeassistant", "home/frame", "frame1")
	if len(msgs) != 4 {
		t.Fatalf("messages: %d", len(msgs))
	}
	seen := map[string]bool{}
	for _, m := range msgs {
		if !strings.HasPrefix(m.Topic, "homeassistant/") || !strings.HasSuffix(m.Topic, "/config") {
			t.Fatalf("topic: %q", m.Topic)
		}
		var doc map[string]any
		if err := json.Unmarshal(m.Payload, &doc); err != nil {
			t.Fatal(err)
		}
		if doc["state_topic"] != "home/frame/status" {
			t.Fatalf("state topic: %v", doc["state_topic"])
		}
		if doc["availability_topic"] != "home/frame/availability" {
			t.Fatalf("availability topic: %v", doc["availability_topic"])
		}
		id, _ := doc["unique_id"].(string)
		if seen[id] {
			t.Fatalf("duplicate unique_id %q", id)
		}
		seen[id] = true
	}
	if msgs[0].Topic != "homeassistant/sensor/frame1/last_sync/config" {
		t.Fatalf("first topic: %q", msgs[0].Topic)
	}
}

func TestNop(t *testing.T) {
	var n Nop
	if err := n.Publish(context.Background(), "t", nil, false); err != nil {
		t.Fatal(err)
	}
}
