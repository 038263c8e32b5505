// Package topic caches the latest values seen on the bus, with short
// raw and change histories per topic.
package topic

import (
	"regexp"
	"sort"
	"sync"
	"time"

	"mqttlogic/internal/value"
)

// Observation is one raw store.
type Observation struct {
	Value value.Value
	At    time.Time
}

// Change collapses consecutive equal stores.
type Change struct {
	Value       value.Value
	FirstAt     time.Time
	RefreshedAt time.Time
}

// State is a snapshot of one topic taken right after a store.
// Histories are newest first.
type State struct {
	Topic   string
	Raw     []Observation
	Changes []Change
	Refresh bool
	// Full is the decoded JSON object when the value was taken from its "val" member.
	Full value.Value
}

func (s State) CurrentValue() value.Value {
	if len(s.Changes) == 0 {
		return value.Null()
	}
	return s.Changes[0].Value
}

// Timestamp is when the current value was first observed.
func (s State) Timestamp() time.Time {
	if len(s.Changes) == 0 {
		return time.Time{}
	}
	return s.Changes[0].FirstAt
}

func (s State) PreviousValue() value.Value {
	if len(s.Changes) < 2 {
		return value.Null()
	}
	return s.Changes[1].Value
}

func (s State) PreviousTimestamp() time.Time {
	if len(s.Changes) < 2 {
		return time.Time{}
	}
	return s.Changes[1].FirstAt
}

func (s State) WasRefreshed() bool { return s.Refresh }

type entry struct {
	raw     ring[Observation]
	changes ring[Change]
	refresh bool
	full    value.Value
}

func (e *entry) snapshot(name string) State {
	return State{
		Topic:   name,
		Raw:     e.raw.slice(),
		Changes: e.changes.slice(),
		Refresh: e.refresh,
		Full:    e.full,
	}
}

// Store is the process-wide topic cache. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	topics map[string]*entry
	now    func() time.Time
}

// NewStore creates an empty cache. now may be nil.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{topics: make(map[string]*entry), now: now}
}

// Store records v for topic and returns the resulting state.
func (s *Store) Store(topic string, v value.Value) State {
	return s.StoreMessage(topic, v, value.Null())
}

// StoreMessage is Store that also keeps the full decoded payload.
func (s *Store) StoreMessage(topic string, v, full value.Value) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.topics[topic]
	if e == nil {
		e = &entry{}
		s.topics[topic] = e
	}
	at := s.now()
	e.raw.push(Observation{Value: v, At: at})
	e.full = full
	if e.changes.len() > 0 && e.changes.front().Value.Equal(v) {
		e.changes.front().RefreshedAt = at
		e.refresh = true
	} else {
		e.changes.push(Change{Value: v, FirstAt: at, RefreshedAt: at})
		e.refresh = false
	}
	return e.snapshot(topic)
}

// Get returns the value of the given change generation; 0 is current.
func (s *Store) Get(topic string, generation int) (value.Value, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.topics[topic]
	if e == nil {
		return value.Null(), time.Time{}, false
	}
	c, ok := e.changes.at(generation)
	if !ok {
		return value.Null(), time.Time{}, false
	}
	return c.Value, c.FirstAt, true
}

// State returns the snapshot for topic.
func (s *Store) State(topic string) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.topics[topic]
	if e == nil {
		return State{}, false
	}
	return e.snapshot(topic), true
}

// GetAllMatching returns the current value of every topic matched by re.
// Build re with CompileFull to get whole-topic semantics.
func (s *Store) GetAllMatching(re *regexp.Regexp) map[string]value.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]value.Value)
	for name, e := range s.topics {
		if !re.MatchString(name) || e.changes.len() == 0 {
			continue
		}
		out[name] = e.changes.front().Value
	}
	return out
}

// MatchingStates is GetAllMatching returning full snapshots, sorted by topic.
func (s *Store) MatchingStates(re *regexp.Regexp) []State {
	return s.Filter(re.MatchString)
}

// Filter returns the snapshot of every topic with a value for which keep
// returns true, sorted by topic. keep runs under the store lock.
func (s *Store) Filter(keep func(topic string) bool) []State {
	s.mu.RLock()
	out := make([]State, 0, 8)
	for name, e := range s.topics {
		if e.changes.len() > 0 && keep(name) {
			out = append(out, e.snapshot(name))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.topics)
}
