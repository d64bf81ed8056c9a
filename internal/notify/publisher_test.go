package notify

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ashdown/steward-ai-agent/internal/config"
)

func TestTopicsUseConfiguredPrefix(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	p := New(config.MQTTConfig{Broker: "mqtt://localhost:1883", TopicPrefix: "office"}, logger)
	if got := p.availabilityTopic(); got != "office/availability" {
		t.Errorf("availabilityTopic() = %q", got)
	}
	if got := p.turnTopic(); got != "office/turns" {
		t.Errorf("turnTopic() = %q", got)
	}

	p = New(config.MQTTConfig{Broker: "mqtt://localhost:1883"}, logger)
	if got := p.turnTopic(); got != "steward/turns" {
		t.Errorf("default turnTopic() = %q, want steward/turns", got)
	}
}

func TestNilPublisherIsNoOp(t *testing.T) {
	var p *Publisher

	if err := p.Start(t.Context()); err != nil {
		t.Errorf("nil Start() = %v, want nil", err)
	}
	p.PublishTurn(t.Context(), TurnEvent{SessionID: "s1"})
	if err := p.Stop(t.Context()); err != nil {
		t.Errorf("nil Stop() = %v, want nil", err)
	}
}

func TestPublishTurnBeforeStartIsNoOp(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := New(config.MQTTConfig{Broker: "mqtt://localhost:1883"}, logger)

	// No connection manager yet; must not panic.
	p.PublishTurn(t.Context(), TurnEvent{SessionID: "s1", UserID: "alice@example.com"})
}

func TestTurnEventJSONShape(t *testing.T) {
	ev := TurnEvent{
		SessionID: "s1",
		UserID:    "alice@example.com",
		Steps:     3,
		Duration:  "1.2s",
		Timestamp: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{"session_id", "user_id", "steps", "duration", "timestamp"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("JSON missing key %q", key)
		}
	}
}

func TestStartRejectsBadBrokerURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := New(config.MQTTConfig{Broker: "://not-a-url"}, logger)

	if err := p.Start(t.Context()); err == nil {
		t.Fatal("Start() should fail on an unparseable broker URL")
	}
}
