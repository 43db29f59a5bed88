// Package mqtt mirrors audit events to an MQTT broker. It only publishes;
// commands are never dispatched over MQTT.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/zulandar/dockyard/internal/config"
	"github.com/zulandar/dockyard/internal/models"
)

const connectTimeout = 5 * time.Second

// Client is the subset of the paho client the publisher uses.
type Client interface {
	Connect() paho.Token
	IsConnected() bool
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// newClient is swapped in tests.
var newClient = func(opts *paho.ClientOptions) Client {
	return paho.NewClient(opts)
}

// Publisher publishes events as JSON to <prefix>/events/<src>.
type Publisher struct {
	client Client
	prefix string
	qos    byte
}

// New connects to the configured broker.
func New(cfg config.MQTTConfig) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker is required")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "dockyard-" + uuid.NewString()[:8]
	}
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c := newClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt: connect to %s: timed out", cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.Broker, err)
	}
	return &Publisher{client: c, prefix: strings.TrimSuffix(cfg.TopicPrefix, "/"), qos: cfg.QoS}, nil
}

// Name identifies the mirror in logs and metrics.
func (p *Publisher) Name() string { return "mqtt" }

// Topic returns the topic for events from src. MQTT wildcard and level
// characters in src are replaced so one source maps to one topic level.
func Topic(prefix, src string) string {
	if src == "" {
		src = "unknown"
	}
	src = strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(src)
	return prefix + "/events/" + src
}

type eventPayload struct {
	ID        uint64    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Src       string    `json:"src"`
	Level     string    `json:"level"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail"`
}

// Mirror publishes one event and waits for the broker until ctx is done.
func (p *Publisher) Mirror(ctx context.Context, ev models.Event) error {
	body, err := json.Marshal(eventPayload{
		ID:        ev.ID,
		CreatedAt: ev.CreatedAt,
		Src:       ev.Source,
		Level:     ev.Level,
		Event:     ev.Type,
		Detail:    ev.Detail,
	})
	if err != nil {
		return fmt.Errorf("mqtt: encode event: %w", err)
	}

	topic := Topic(p.prefix, ev.Source)
	tok := p.client.Publish(topic, p.qos, false, body)
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("mqtt: publish %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mqtt: publish %s: %w", topic, ctx.Err())
	}
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
