package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"mqttlogic/internal/eventbus"
	"mqttlogic/internal/task/engine"
	"mqttlogic/internal/topic"
	"mqttlogic/internal/value"
	"mqttlogic/pkg/logx"
)

// Registry owns the handler set. Safe for concurrent use; callbacks never
// run under its lock.
type Registry struct {
	mu       sync.Mutex
	handlers map[uint64]*handler
	order    []*handler // ascending id
	nextID   uint64

	log    logx.Logger
	bus    eventbus.Bus
	run    Runner
	timers Timers
	states States
	namer  topic.Namer
}

type Option func(*Registry)

// WithTimers enables Options.Expires.
func WithTimers(t Timers) Option { return func(r *Registry) { r.timers = t } }

// WithStates enables Options.Initial.
func WithStates(s States) Option { return func(r *Registry) { r.states = s } }

// WithNamer sets the prefix used to expand "$name" patterns.
func WithNamer(n topic.Namer) Option { return func(r *Registry) { r.namer = n } }

// New builds an empty registry that runs callbacks on run. bus may be nil.
func New(run Runner, log logx.Logger, bus eventbus.Bus, opts ...Option) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{
		handlers: map[uint64]*handler{},
		log:      log,
		bus:      bus,
		run:      run,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds a handler for every topic fully matching pattern.
//
// The pattern may use the "//" or "/status/" spelling or the "$name"
// shorthand; all three are matched against the "//" form.
func (r *Registry) Register(pattern string, cb Callback, opt Options) (uint64, error) {
	if cb == nil {
		return 0, fmt.Errorf("handler callback required")
	}
	p := r.namer.NormalizePattern(pattern)
	re, err := topic.CompileFull(p)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrInvalidPattern, pattern, err)
	}

	h := &handler{
		pattern: p,
		re:      re,
		change:  opt.Change,
		oneShot: opt.OneShot,
		cb:      cb,
	}
	if opt.Values != nil {
		h.values = make([]value.Value, len(opt.Values))
		copy(h.values, opt.Values)
	}

	r.mu.Lock()
	r.nextID++
	h.id = r.nextID
	r.handlers[h.id] = h
	r.order = append(r.order, h)
	r.mu.Unlock()

	if spec := strings.TrimSpace(opt.Expires); spec != "" && r.timers != nil {
		if err := r.armExpiry(h, spec); err != nil {
			r.Remove(h.id)
			return 0, err
		}
	}

	r.publish(eventbus.HandlerAdded, h)
	r.log.Debug("handler registered",
		logx.Uint64("id", h.id),
		logx.String("pattern", p),
		logx.Bool("change", h.change),
		logx.Bool("oneshot", h.oneShot),
		logx.String("expires", opt.Expires),
	)

	if opt.Initial {
		r.replay(h)
	}
	return h.id, nil
}

func (r *Registry) armExpiry(h *handler, spec string) error {
	id := h.id
	tid, err := r.timers.AddTimer(ExpirerPrefix+h.pattern, spec, func(context.Context, string, any) error {
		if r.Remove(id) {
			r.log.Debug("handler expired", logx.Uint64("id", id))
		}
		return nil
	}, id)
	if err != nil {
		return fmt.Errorf("schedule handler expiry: %w", err)
	}
	r.mu.Lock()
	_, alive := r.handlers[id]
	if alive {
		h.expirerID = tid
	}
	r.mu.Unlock()
	if !alive {
		r.timers.RemoveTimer(tid)
	}
	return nil
}

// replay queues every cached topic the handler accepts, skipping the change
// gate.
func (r *Registry) replay(h *handler) {
	if r.states == nil {
		return
	}
	states := r.states.Filter(func(name string) bool {
		return h.re.MatchString(topic.RemoveStatusFunction(name))
	})
	for _, st := range states {
		cur := st.CurrentValue()
		if !h.accepts(cur) {
			continue
		}
		r.mu.Lock()
		_, alive := r.handlers[h.id]
		skip := !alive || h.consumed
		if h.oneShot && !skip {
			h.consumed = true
		}
		r.mu.Unlock()
		if skip {
			return
		}
		if err := r.run.Enqueue(r.task(h, eventFor(topic.RemoveStatusFunction(st.Topic), st, h.id))); err != nil {
			r.log.Warn("initial dispatch failed", logx.Uint64("id", h.id), logx.String("topic", st.Topic), logx.Err(err))
			r.unconsume(h)
		}
	}
}

// Remove drops the handler and its expiry timer.
func (r *Registry) Remove(id uint64) bool {
	r.mu.Lock()
	h, ok := r.handlers[id]
	if ok {
		delete(r.handlers, id)
		for i, x := range r.order {
			if x == h {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	if h.expirerID != "" && r.timers != nil {
		r.timers.RemoveTimer(h.expirerID)
	}
	r.publish(eventbus.HandlerRemoved, h)
	r.log.Debug("handler removed", logx.Uint64("id", id), logx.String("pattern", h.pattern))
	return true
}

// ListAll returns every handler ordered by id.
func (r *Registry) ListAll() []HandlerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]HandlerInfo, 0, len(r.order))
	for _, h := range r.order {
		out = append(out, h.info())
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

// Dispatch queues every handler whose pattern matches topicName, whose
// value filter accepts the current value and whose change gate passes.
// Handlers are queued in id order. It blocks while the engine queue is full,
// bounded by ctx.
func (r *Registry) Dispatch(ctx context.Context, topicName string, st topic.State) {
	cur := st.CurrentValue()
	changed := !st.WasRefreshed()

	r.mu.Lock()
	var matched []*handler
	for _, h := range r.order {
		if h.consumed || !h.re.MatchString(topicName) || !h.accepts(cur) {
			continue
		}
		if h.change && !changed {
			continue
		}
		if h.oneShot {
			h.consumed = true
		}
		matched = append(matched, h)
	}
	r.mu.Unlock()

	for _, h := range matched {
		err := r.run.Submit(ctx, r.task(h, eventFor(topicName, st, h.id)))
		if err == nil {
			continue
		}
		r.unconsume(h)
		r.log.Warn("dispatch failed",
			logx.Uint64("id", h.id),
			logx.String("topic", topicName),
			logx.String("value", cur.String()),
			logx.Err(err),
		)
		if ctx.Err() != nil {
			return
		}
	}
}

func (r *Registry) unconsume(h *handler) {
	if !h.oneShot {
		return
	}
	r.mu.Lock()
	h.consumed = false
	r.mu.Unlock()
}

func (r *Registry) task(h *handler, ev Event) engine.Task {
	cb, id, oneShot := h.cb, h.id, h.oneShot
	t := engine.Task{
		Name: "event:" + h.pattern,
		Run: func(ctx context.Context) error {
			return cb(ctx, ev)
		},
		Labels: map[string]string{
			"handler": strconv.FormatUint(id, 10),
			"pattern": h.pattern,
			"topic":   ev.Topic,
			"value":   ev.Value.String(),
		},
	}
	if oneShot {
		t.Done = func(err error) {
			if errors.Is(err, engine.ErrAbandoned) {
				r.unconsume(h)
				return
			}
			r.Remove(id)
		}
	}
	return t
}

func (r *Registry) publish(typ string, h *handler) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: h.info()})
}

func eventFor(topicName string, st topic.State, id uint64) Event {
	return Event{
		Topic:      topicName,
		Value:      st.CurrentValue(),
		Previous:   st.PreviousValue(),
		PreviousAt: st.PreviousTimestamp(),
		Full:       st.Full,
		HandlerID:  id,
	}
}
