package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"mqttlogic/internal/events"
	"mqttlogic/internal/value"
	"mqttlogic/pkg/logx"
)

// Action publishes one value. A nil Value on a rule forwards the value of
// the triggering event.
type Action struct {
	Topic  string
	Value  any
	Retain bool
}

// Rule is an event handler declared in config.
type Rule struct {
	Name    string
	Pattern string
	Values  []any
	Change  bool
	OneShot bool
	Initial bool
	// Expires is a timer spec; the handler is removed when it fires.
	Expires string
	Publish Action
}

// Timer is a scheduled publish declared in config.
type Timer struct {
	Name    string
	Spec    string
	Publish Action
}

// Publisher is the output side of declared rules. *ingest.Publisher
// implements it.
type Publisher interface {
	SetValue(ctx context.Context, topicName string, v value.Value) error
	StoreValue(ctx context.Context, topicName string, v value.Value) error
}

// Host owns the handlers and timers created from config and replaces them
// as a set on every Apply.
type Host struct {
	events Events
	timers Timers
	pub    Publisher
	log    logx.Logger

	mu       sync.Mutex
	handlers []uint64
	timerIDs []string
}

func NewHost(ev Events, tm Timers, pub Publisher, log logx.Logger) *Host {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Host{events: ev, timers: tm, pub: pub, log: log.With(logx.String("comp", "rules"))}
}

// Apply removes what the previous Apply installed and installs rules and
// timers. Entries that fail are skipped and reported together.
func (h *Host) Apply(rules []Rule, timers []Timer) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, id := range h.handlers {
		h.events.Remove(id)
	}
	for _, id := range h.timerIDs {
		h.timers.RemoveID(id)
	}
	h.handlers, h.timerIDs = nil, nil

	var errs []error
	for _, r := range rules {
		id, err := h.addRule(r)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", r.Name, err))
			continue
		}
		h.handlers = append(h.handlers, id)
	}
	for _, t := range timers {
		id, err := h.addTimer(t)
		if err != nil {
			errs = append(errs, fmt.Errorf("timer %q: %w", t.Name, err))
			continue
		}
		h.timerIDs = append(h.timerIDs, id)
	}

	h.log.Info("rules applied",
		logx.Int("rules", len(h.handlers)),
		logx.Int("timers", len(h.timerIDs)),
		logx.Int("failed", len(errs)))
	return errors.Join(errs...)
}

// Installed reports how many config-owned handlers and timers are live.
func (h *Host) Installed() (handlers, timers int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handlers), len(h.timerIDs)
}

// Clear removes everything Apply installed.
func (h *Host) Clear() {
	_ = h.Apply(nil, nil)
}

func (h *Host) addRule(r Rule) (uint64, error) {
	if strings.TrimSpace(r.Publish.Topic) == "" {
		return 0, errors.New("publish.topic is required")
	}
	opt := events.Options{
		Change:  r.Change,
		OneShot: r.OneShot,
		Initial: r.Initial,
		Expires: r.Expires,
	}
	if r.Values != nil {
		opt.Values = make([]value.Value, len(r.Values))
		for i, v := range r.Values {
			opt.Values[i] = value.FromAny(v)
		}
	}
	act := r.Publish
	return h.events.Add(r.Pattern, func(ctx context.Context, ev events.Event) error {
		v := ev.Value
		if act.Value != nil {
			v = value.FromAny(act.Value)
		}
		return h.publish(ctx, act, v)
	}, opt)
}

func (h *Host) addTimer(t Timer) (string, error) {
	if strings.TrimSpace(t.Publish.Topic) == "" {
		return "", errors.New("publish.topic is required")
	}
	name := t.Name
	if name == "" {
		name = t.Spec
	}
	act := t.Publish
	return h.timers.Add(name, t.Spec, func(ctx context.Context, _ string, _ any) error {
		return h.publish(ctx, act, value.FromAny(act.Value))
	}, nil)
}

func (h *Host) publish(ctx context.Context, act Action, v value.Value) error {
	if act.Retain {
		return h.pub.StoreValue(ctx, act.Topic, v)
	}
	return h.pub.SetValue(ctx, act.Topic, v)
}
