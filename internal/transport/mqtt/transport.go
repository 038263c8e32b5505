// Package mqtt connects the rule engine to an MQTT broker: every message on
// the bus is fed to the ingest pipeline and rule publishes go back out.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"mqttlogic/internal/topic"
	"mqttlogic/pkg/logx"
)

// ErrTransportUnavailable is returned by Publish while the broker
// connection is down. The publish is dropped.
var ErrTransportUnavailable = errors.New("mqtt transport unavailable")

// Connection states published retained on <prefix>connected.
const (
	StateDisconnected = "0"
	StateConnected    = "2"
)

type Config struct {
	Broker   string
	ClientID string
	// Prefix is the topic prefix of this instance, e.g. "logic/".
	Prefix   string
	Username string
	Password string

	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	MaxReconnect   time.Duration
}

const (
	DefaultBroker = "tcp://localhost:1883"
	DefaultPrefix = "logic/"
)

// Ingester consumes inbound messages. *ingest.Pipeline implements it.
type Ingester interface {
	IngestMessage(ctx context.Context, topicName string, payload []byte, retained bool) topic.State
}

// client is the subset of paho.Client in use.
type client interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

type Transport struct {
	cfg Config
	ing Ingester
	log logx.Logger

	newClient func(*paho.ClientOptions) client

	mu     sync.Mutex
	c      client
	ctx    context.Context
	cancel context.CancelFunc

	received atomic.Uint64
	dropped  atomic.Uint64
}

type Option func(*Transport)

func withClientFactory(f func(*paho.ClientOptions) client) Option {
	return func(t *Transport) { t.newClient = f }
}

func New(cfg Config, ing Ingester, log logx.Logger, opts ...Option) *Transport {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Broker) == "" {
		cfg.Broker = DefaultBroker
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "mqttlogic-" + uuid.NewString()[:8]
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	t := &Transport{
		cfg: cfg,
		ing: ing,
		log: log.With(logx.String("comp", "mqtt")),
		newClient: func(o *paho.ClientOptions) client {
			return paho.NewClient(o)
		},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// StatusTopic is where the connection state is kept, retained.
func (t *Transport) StatusTopic() string { return t.cfg.Prefix + "connected" }

func (t *Transport) options() *paho.ClientOptions {
	o := paho.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(t.cfg.ClientID).
		SetWill(t.StatusTopic(), StateDisconnected, 0, true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(true).
		SetConnectTimeout(t.cfg.ConnectTimeout).
		SetOnConnectHandler(func(c paho.Client) { t.onConnect(c) }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			t.log.Warn("broker connection lost", logx.String("broker", t.cfg.Broker), logx.Err(err))
		}).
		SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
			t.log.Debug("reconnecting", logx.String("broker", t.cfg.Broker))
		})
	if t.cfg.Username != "" {
		o.SetUsername(t.cfg.Username)
		o.SetPassword(t.cfg.Password)
	}
	if t.cfg.KeepAlive > 0 {
		o.SetKeepAlive(t.cfg.KeepAlive)
	}
	if t.cfg.MaxReconnect > 0 {
		o.SetMaxReconnectInterval(t.cfg.MaxReconnect)
	}
	return o
}

// Start connects in the background. It only fails when the first attempt
// is rejected outright; an unreachable broker is retried.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.c != nil {
		t.mu.Unlock()
		return nil
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	c := t.newClient(t.options())
	t.c = c
	t.mu.Unlock()

	t.log.Info("connecting", logx.String("broker", t.cfg.Broker), logx.String("client_id", t.cfg.ClientID))
	tok := c.Connect()
	if !tok.WaitTimeout(t.cfg.ConnectTimeout) {
		t.log.Warn("broker not reachable yet, retrying in background", logx.String("broker", t.cfg.Broker))
		return nil
	}
	if err := tok.Error(); err != nil {
		t.mu.Lock()
		t.c = nil
		t.cancel()
		t.mu.Unlock()
		return fmt.Errorf("mqtt connect %s: %w", t.cfg.Broker, err)
	}
	return nil
}

// onConnect runs on every (re)connect.
func (t *Transport) onConnect(c client) {
	t.log.Info("connected", logx.String("broker", t.cfg.Broker))
	if tok := c.Publish(t.StatusTopic(), 0, true, StateConnected); tok.WaitTimeout(t.cfg.ConnectTimeout) && tok.Error() != nil {
		t.log.Warn("status publish failed", logx.Err(tok.Error()))
	}
	tok := c.Subscribe("#", 0, func(_ paho.Client, m paho.Message) {
		t.deliver(m.Topic(), m.Payload(), m.Retained())
	})
	if tok.WaitTimeout(t.cfg.ConnectTimeout) && tok.Error() != nil {
		t.log.Error("subscribe failed", logx.Err(tok.Error()))
	}
}

func (t *Transport) deliver(topicName string, payload []byte, retained bool) {
	t.mu.Lock()
	ctx := t.ctx
	t.mu.Unlock()
	if ctx == nil || ctx.Err() != nil || t.ing == nil {
		t.dropped.Add(1)
		return
	}
	t.received.Add(1)
	t.ing.IngestMessage(ctx, topicName, payload, retained)
}

// Publish sends payload with QoS 0 and waits for paho to hand it off.
func (t *Transport) Publish(ctx context.Context, topicName string, payload []byte, retain bool) error {
	t.mu.Lock()
	c := t.c
	t.mu.Unlock()
	if c == nil || !c.IsConnectionOpen() {
		t.dropped.Add(1)
		return fmt.Errorf("publish %s: %w", topicName, ErrTransportUnavailable)
	}
	tok := c.Publish(topicName, 0, retain, payload)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendLine lets the log service mirror lines onto the bus.
func (t *Transport) SendLine(ctx context.Context, topicName, line string) error {
	return t.Publish(ctx, topicName, []byte(line), false)
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	c := t.c
	t.mu.Unlock()
	return c != nil && c.IsConnectionOpen()
}

// Stats returns inbound messages handed to the pipeline and messages or
// publishes dropped.
func (t *Transport) Stats() (received, dropped uint64) {
	return t.received.Load(), t.dropped.Load()
}

// Stop marks the instance disconnected and closes the connection.
func (t *Transport) Stop(ctx context.Context) {
	t.mu.Lock()
	c, cancel := t.c, t.cancel
	t.c = nil
	t.mu.Unlock()
	if c == nil {
		return
	}
	if c.IsConnectionOpen() {
		tok := c.Publish(t.StatusTopic(), 0, true, StateDisconnected)
		select {
		case <-tok.Done():
		case <-ctx.Done():
		}
	}
	cancel()
	c.Disconnect(250)
	t.log.Info("disconnected", logx.String("broker", t.cfg.Broker))
}
