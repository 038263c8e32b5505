package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mqttlogic/internal/storage"
	"mqttlogic/internal/task/scheduler"
	"mqttlogic/internal/topic"
	"mqttlogic/internal/value"
	"mqttlogic/pkg/logx"
)

var ErrNoTransport = errors.New("no bus transport configured")

// QueuePrefix names the timers behind QueueValue and QueueStore.
const QueuePrefix = "_SET_"

// Sender writes one payload to the bus. The MQTT transport implements it.
type Sender interface {
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error
}

// Journal records publishes. storage.Store implements it.
type Journal interface {
	Append(ctx context.Context, e storage.Entry) error
}

// Timers backs the delayed publishes. *scheduler.Service implements it.
type Timers interface {
	AddTimerLabeled(name, spec, label string, cb scheduler.Callback, userdata any) (string, error)
	RemoveTimers(name string) int
}

type Publisher struct {
	namer topic.Namer
	store *topic.Store

	mu   sync.RWMutex
	send Sender

	timers  Timers
	journal Journal
	stats   Stats
	log     logx.Logger
}

type PublisherOption func(*Publisher)

func WithSender(s Sender) PublisherOption   { return func(p *Publisher) { p.send = s } }
func WithTimers(t Timers) PublisherOption   { return func(p *Publisher) { p.timers = t } }
func WithJournal(j Journal) PublisherOption { return func(p *Publisher) { p.journal = j } }
func WithStats(s Stats) PublisherOption     { return func(p *Publisher) { p.stats = s } }

func NewPublisher(namer topic.Namer, store *topic.Store, log logx.Logger, opts ...PublisherOption) *Publisher {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Publisher{namer: namer, store: store, log: log}
	for _, o := range opts {
		o(p)
	}
	return p
}

// SetSender swaps the transport, e.g. once it has connected.
func (p *Publisher) SetSender(s Sender) {
	p.mu.Lock()
	p.send = s
	p.mu.Unlock()
}

func (p *Publisher) sender() Sender {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.send
}

// Publish formats v and sends it to topicName as is.
func (p *Publisher) Publish(ctx context.Context, topicName string, v value.Value, retain bool) error {
	payload := v.Format()
	err := ErrNoTransport
	if send := p.sender(); send != nil {
		err = send.Publish(ctx, topicName, []byte(payload), retain)
	}
	if p.stats != nil {
		p.stats.Published(err)
	}
	if p.journal != nil {
		e := storage.Entry{Kind: storage.KindPublish, Topic: topicName, Payload: payload, Retain: retain}
		if err != nil {
			e.Error = err.Error()
		}
		if jerr := p.journal.Append(ctx, e); jerr != nil {
			p.log.Debug("journal append failed", logx.Err(jerr))
		}
	}
	if err != nil {
		p.log.Warn("publish dropped", logx.String("topic", topicName), logx.String("payload", payload), logx.Err(err))
		return fmt.Errorf("publish %s: %w", topicName, err)
	}
	p.log.Debug("published", logx.String("topic", topicName), logx.String("payload", payload), logx.Bool("retain", retain))
	return nil
}

// SetValue publishes v to the set topic of topicName.
func (p *Publisher) SetValue(ctx context.Context, topicName string, v value.Value) error {
	return p.Publish(ctx, p.namer.ConvertTopic(topicName, topic.Set), v, false)
}

// StoreValue is SetValue with the retain flag.
func (p *Publisher) StoreValue(ctx context.Context, topicName string, v value.Value) error {
	return p.Publish(ctx, p.namer.ConvertTopic(topicName, topic.Set), v, true)
}

// RequestValue asks the owner of topicName to republish its state.
func (p *Publisher) RequestValue(ctx context.Context, topicName string) error {
	return p.Publish(ctx, p.namer.ConvertTopic(topicName, topic.Get), value.String("?"), false)
}

// QueueValue publishes v to the set topic when spec next fires.
func (p *Publisher) QueueValue(spec, topicName string, v value.Value) (string, error) {
	return p.queue(spec, topicName, v, false)
}

// QueueStore is QueueValue with the retain flag.
func (p *Publisher) QueueStore(spec, topicName string, v value.Value) (string, error) {
	return p.queue(spec, topicName, v, true)
}

func (p *Publisher) queue(spec, topicName string, v value.Value, retain bool) (string, error) {
	if p.timers == nil {
		return "", errors.New("queued publish needs a scheduler")
	}
	setTopic := p.namer.ConvertTopic(topicName, topic.Set)
	label := fmt.Sprintf("publish %s=%s", setTopic, v.Format())
	return p.timers.AddTimerLabeled(QueuePrefix+setTopic, spec, label, func(ctx context.Context, _ string, _ any) error {
		return p.Publish(ctx, setTopic, v, retain)
	}, v)
}

// ClearQueue cancels every queued publish for topicName.
func (p *Publisher) ClearQueue(topicName string) int {
	if p.timers == nil {
		return 0
	}
	return p.timers.RemoveTimers(QueuePrefix + p.namer.ConvertTopic(topicName, topic.Set))
}

// GetValue reads a cached generation of the status topic of topicName.
func (p *Publisher) GetValue(topicName string, generation int) (value.Value, bool) {
	v, _, ok := p.store.Get(p.namer.ConvertTopic(topicName, topic.Status), generation)
	return v, ok
}

// GetTimestamp is when that generation was first seen.
func (p *Publisher) GetTimestamp(topicName string, generation int) (time.Time, bool) {
	_, at, ok := p.store.Get(p.namer.ConvertTopic(topicName, topic.Status), generation)
	return at, ok
}

// GetValues returns the cached value of every topic whose status name
// fully matches pattern.
func (p *Publisher) GetValues(pattern string) (map[string]value.Value, error) {
	re, err := topic.CompileFull(p.namer.ConvertTopic(pattern, topic.Status))
	if err != nil {
		return nil, fmt.Errorf("invalid topic pattern %q: %w", pattern, err)
	}
	return p.store.GetAllMatching(re), nil
}
