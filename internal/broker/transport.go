// Package broker implements the supervisor Transport on top of the Eclipse
// Paho MQTT v3.1.1 client.
//
// The Paho client is configured with automatic reconnect disabled: the
// supervisor owns the reconnect loop and re-subscribes after every connect.
// Callbacks are ordered so inbound messages reach the supervisor in arrival
// order from a single goroutine.
package broker

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"farmbridge/internal/logging"
	"farmbridge/internal/supervisor"
)

// ErrSubscribeRejected is returned when the broker answers a subscription
// with the failure return code.
var ErrSubscribeRejected = errors.New("subscription rejected by broker")

// subackFailure is the SUBACK return code for a refused subscription.
const subackFailure = 0x80

const defaultConnectTimeout = 10 * time.Second

// Config holds the session settings.
type Config struct {
	// URL is the broker address, e.g. tcp://broker.hivemq.com:1883.
	URL      string
	ClientID string
	Username string
	Password string

	// TLS enables TLS with the system roots. TLSConfig overrides it.
	TLS       bool
	TLSConfig *tls.Config

	KeepAlive      time.Duration
	ConnectTimeout time.Duration

	// StatusTopic receives retained online/offline announcements and the
	// last will. Empty disables liveness announcements.
	StatusTopic string

	Logger *slog.Logger
}

// Capabilities records the optional session features resolved at
// construction.
type Capabilities struct {
	Will bool
	TLS  bool
	Auth bool
}

// Transport is a Paho-backed supervisor.Transport.
type Transport struct {
	cfg    Config
	logger *slog.Logger
	caps   Capabilities
	client mqtt.Client

	mu      sync.Mutex
	handler func(supervisor.Event)
}

var _ supervisor.Transport = (*Transport)(nil)

// New creates a Transport. No network activity happens until Connect.
func New(cfg Config) (*Transport, error) {
	if cfg.URL == "" {
		return nil, errors.New("broker url is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client id is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	t := &Transport{
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With("component", "broker", "client_id", cfg.ClientID),
	}
	opts, caps, err := t.options()
	if err != nil {
		return nil, err
	}
	t.caps = caps
	t.client = mqtt.NewClient(opts)

	t.logger.Info("transport configured",
		"url", cfg.URL, "will", caps.Will, "tls", caps.TLS, "auth", caps.Auth)
	return t, nil
}

// Capabilities returns the features enabled for this session.
func (t *Transport) Capabilities() Capabilities { return t.caps }

func (t *Transport) options() (*mqtt.ClientOptions, Capabilities, error) {
	var caps Capabilities

	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.cfg.URL)
	opts.SetClientID(t.cfg.ClientID)
	opts.SetProtocolVersion(4)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOrderMatters(true)
	opts.SetConnectTimeout(t.cfg.ConnectTimeout)
	if t.cfg.KeepAlive > 0 {
		opts.SetKeepAlive(t.cfg.KeepAlive)
	}

	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
		opts.SetPassword(t.cfg.Password)
		caps.Auth = true
	}

	switch {
	case t.cfg.TLSConfig != nil:
		opts.SetTLSConfig(t.cfg.TLSConfig)
		caps.TLS = true
	case t.cfg.TLS:
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
		caps.TLS = true
	}

	if t.cfg.StatusTopic != "" {
		payload, err := statusPayload(t.cfg.ClientID, "offline")
		if err != nil {
			return nil, caps, err
		}
		opts.SetBinaryWill(t.cfg.StatusTopic, payload, 1, true)
		caps.Will = true
	}

	opts.SetDefaultPublishHandler(t.onMessage)
	opts.SetConnectionLostHandler(t.onConnectionLost)
	return opts, caps, nil
}

// SetHandler installs the supervisor's event callback.
func (t *Transport) SetHandler(h func(supervisor.Event)) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

func (t *Transport) emit(ev supervisor.Event) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (t *Transport) onMessage(_ mqtt.Client, m mqtt.Message) {
	t.emit(supervisor.Event{
		Kind:     supervisor.EventMessage,
		Topic:    m.Topic(),
		Payload:  m.Payload(),
		Received: time.Now(),
	})
}

func (t *Transport) onConnectionLost(_ mqtt.Client, err error) {
	t.emit(supervisor.Event{Kind: supervisor.EventDisconnected, Err: err})
}

// Connect opens the session and announces the bridge as online.
func (t *Transport) Connect(ctx context.Context) error {
	if err := wait(ctx, t.client.Connect()); err != nil {
		return err
	}
	t.emit(supervisor.Event{Kind: supervisor.EventConnected})

	if t.caps.Will {
		if err := t.announce(ctx, "online"); err != nil {
			t.logger.Warn("online announcement failed", "topic", t.cfg.StatusTopic, "error", err)
		}
	}
	return nil
}

// Subscribe subscribes to topic. Messages are routed to the default publish
// handler, which forwards them to the supervisor.
func (t *Transport) Subscribe(ctx context.Context, topic string, qos byte) (byte, error) {
	tok := t.client.Subscribe(topic, qos, nil)
	if err := wait(ctx, tok); err != nil {
		return 0, err
	}
	granted := qos
	if st, ok := tok.(*mqtt.SubscribeToken); ok {
		if g, found := st.Result()[topic]; found {
			granted = g
		}
	}
	if granted == subackFailure {
		return 0, fmt.Errorf("%w: %s", ErrSubscribeRejected, topic)
	}
	t.emit(supervisor.Event{Kind: supervisor.EventSubscribeAck, Topic: topic, GrantedQoS: granted})
	return granted, nil
}

// Publish sends payload to topic and waits for the publish to complete.
func (t *Transport) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	return wait(ctx, t.client.Publish(topic, qos, retained, payload))
}

// Disconnect announces the bridge as offline and closes the session,
// letting pending work finish for up to quiesce.
func (t *Transport) Disconnect(quiesce time.Duration) {
	if !t.client.IsConnected() {
		return
	}
	if t.caps.Will {
		ctx, cancel := context.WithTimeout(context.Background(), max(quiesce, 100*time.Millisecond))
		if err := t.announce(ctx, "offline"); err != nil {
			t.logger.Warn("offline announcement failed", "topic", t.cfg.StatusTopic, "error", err)
		}
		cancel()
	}
	t.client.Disconnect(uint(quiesce.Milliseconds()))
	t.logger.Info("disconnected")
}

func (t *Transport) announce(ctx context.Context, status string) error {
	payload, err := statusPayload(t.cfg.ClientID, status)
	if err != nil {
		return err
	}
	return t.Publish(ctx, t.cfg.StatusTopic, 1, true, payload)
}

type status struct {
	Client string `json:"client"`
	Status string `json:"status"`
}

func statusPayload(clientID, state string) ([]byte, error) {
	return json.Marshal(status{Client: clientID, Status: state})
}

// wait blocks until tok completes or ctx is done.
func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
