// Package notify publishes agent activity to an MQTT broker so home
// automation and monitoring systems can react to completed turns.
package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/ashdown/steward-ai-agent/internal/config"
)

// TurnEvent describes one completed conversation turn.
type TurnEvent struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Steps     int       `json:"steps"`
	Duration  string    `json:"duration"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher manages the MQTT connection and publishes availability and
// turn events. A nil *Publisher is a safe no-op, so callers need no
// enabled checks.
type Publisher struct {
	cfg    config.MQTTConfig
	prefix string
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to establish the connection.
func New(cfg config.MQTTConfig, logger *slog.Logger) *Publisher {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "steward"
	}
	return &Publisher{cfg: cfg, prefix: prefix, logger: logger}
}

// Start connects to the MQTT broker and returns once the connection
// manager is running. autopaho reconnects in the background after
// drops; a failed initial connection is logged, not fatal.
func (p *Publisher) Start(ctx context.Context) error {
	if p == nil {
		return nil
	}

	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "steward-agent",
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

// Stop publishes an "offline" availability message and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p == nil || p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// PublishTurn emits a turn event. Failures are logged and swallowed
// since notifications never affect the conversation itself.
func (p *Publisher) PublishTurn(ctx context.Context, ev TurnEvent) {
	if p == nil || p.cm == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("mqtt turn event marshal failed", "error", err)
		return
	}

	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.turnTopic(),
		Payload: payload,
		QoS:     0,
	}); err != nil {
		p.logger.Warn("mqtt turn event publish failed", "error", err)
		return
	}
	p.logger.Debug("mqtt turn event published", "session", ev.SessionID, "steps", ev.Steps)
}

func (p *Publisher) availabilityTopic() string {
	return p.prefix + "/availability"
}

func (p *Publisher) turnTopic() string {
	return p.prefix + "/turns"
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}
