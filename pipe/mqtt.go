package pipe

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nevindra/golem"
)

// MQTTConfig describes one MQTT pipe. Subscriptions are established on
// every (re)connect.
type MQTTConfig struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	Subscriptions  map[string]byte // topic filter (may contain + / #) → QoS
	ConnectTimeout time.Duration   // default 10s
}

// MQTTPipe is an MQTT client. Incoming messages dispatch to exact-topic
// handlers first, then to every wildcard handler whose filter matches.
// Message handlers receive a map {topic, payload}.
type MQTTPipe struct {
	core
	cfg    MQTTConfig
	client mqtt.Client
}

var _ Pipe = (*MQTTPipe)(nil)

// NewMQTT creates an MQTT pipe.
func NewMQTT(name string, cfg MQTTConfig, opts ...Option) *MQTTPipe {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	p := &MQTTPipe{cfg: cfg}
	initCore(&p.core, name, "mqtt", opts...)

	o := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(false) // the pipe supervisor owns reconnection
	o.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		p.dispatch(msg.Topic(), msg.Payload())
	})
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if p.State() == StateClosed {
			return
		}
		p.reportErr(&golem.TransportError{Transport: p.name, Err: err})
		p.lost(p.dial)
	})
	p.client = mqtt.NewClient(o)
	return p
}

// Connect dials the broker and establishes every configured subscription.
// A failed dial starts the reconnect supervisor when a policy is enabled.
func (p *MQTTPipe) Connect(ctx context.Context) error {
	p.cancelSupervisor()
	err := p.dial(ctx)
	if err != nil && p.reconnect.Enabled && p.State() != StateClosed {
		p.supervise(p.dial)
	}
	return err
}

func (p *MQTTPipe) dial(ctx context.Context) error {
	if !p.transition(StateConnecting) {
		return &golem.TransportError{Transport: p.name, Err: fmt.Errorf("pipe is closed")}
	}
	token := p.client.Connect()
	if err := waitToken(ctx, token, p.cfg.ConnectTimeout); err != nil {
		p.transition(StateDisconnected)
		return &golem.TransportError{Transport: p.name, Err: err}
	}
	for filter, qos := range p.cfg.Subscriptions {
		tok := p.client.Subscribe(filter, qos, nil)
		if err := waitToken(ctx, tok, p.cfg.ConnectTimeout); err != nil {
			p.reportErr(&golem.TransportError{Transport: p.name, Err: fmt.Errorf("subscribe %s: %w", filter, err)})
		}
	}
	p.transition(StateConnected)
	p.logger.Info("mqtt connected", "pipe", p.name, "broker", p.cfg.BrokerURL)
	p.Emit(EventConnect, nil)
	return nil
}

// dispatch routes one inbound message: exact handlers, then wildcard
// filters that match, then the generic message event.
func (p *MQTTPipe) dispatch(topic string, payload []byte) {
	body := decodePayload(payload)
	msg := map[string]any{"topic": topic, "payload": body}

	p.Emit(topic, msg)
	for _, filter := range p.wildcardFilters() {
		if MatchTopic(filter, topic) {
			p.Emit(filter, msg)
		}
	}
	p.Emit(EventMessage, msg)
}

func (p *MQTTPipe) wildcardFilters() []string {
	p.hmu.RLock()
	defer p.hmu.RUnlock()
	var out []string
	for event := range p.handlers {
		if strings.ContainsAny(event, "+#") {
			out = append(out, event)
		}
	}
	return out
}

// Send publishes to the topic named in a {topic, payload, qos?, retain?}
// map; bare payloads go to the empty topic and are rejected by the broker,
// so callers should prefer Publish.
func (p *MQTTPipe) Send(ctx context.Context, data any) error {
	if m, ok := data.(map[string]any); ok {
		topic, _ := m["topic"].(string)
		qos := byte(0)
		if q, ok := m["qos"].(float64); ok {
			qos = byte(q)
		}
		retain, _ := m["retain"].(bool)
		return p.Publish(ctx, topic, m["payload"], qos, retain)
	}
	return &golem.TransportError{Transport: p.name, Err: fmt.Errorf("mqtt send requires a {topic, payload} object")}
}

// Publish sends one message. Payload bytes and strings pass through; other
// values are JSON-marshalled. QoS 0-2 and retain are forwarded unchanged.
func (p *MQTTPipe) Publish(ctx context.Context, topic string, payload any, qos byte, retain bool) error {
	if p.State() != StateConnected {
		return &golem.TransportError{Transport: p.name, Err: fmt.Errorf("not connected")}
	}
	if qos > 2 {
		return &golem.TransportError{Transport: p.name, Err: fmt.Errorf("qos %d out of range", qos)}
	}
	body, _, err := encodePayload(payload)
	if err != nil {
		return &golem.TransportError{Transport: p.name, Err: err}
	}
	token := p.client.Publish(topic, qos, retain, body)
	if err := waitToken(ctx, token, p.cfg.ConnectTimeout); err != nil {
		return &golem.TransportError{Transport: p.name, Err: err}
	}
	return nil
}

// Disconnect closes the pipe permanently and cancels reconnection.
func (p *MQTTPipe) Disconnect() error {
	p.cancelSupervisor()
	p.setState(StateClosed)
	if p.client.IsConnectionOpen() {
		p.client.Disconnect(250)
	}
	return nil
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		token.WaitTimeout(timeout)
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return err
	}
	return nil
}

// MatchTopic reports whether an MQTT topic filter matches a concrete topic.
// "+" matches exactly one level; "#" matches the remainder and is only
// valid as the final level (MQTT 3.1.1 rules).
func MatchTopic(filter, topic string) bool {
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, seg := range fl {
		if seg == "#" {
			return i == len(fl)-1
		}
		if i >= len(tl) {
			return false
		}
		if seg == "+" {
			continue
		}
		if seg != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
