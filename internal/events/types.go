// Package events matches stored topic updates against registered handlers
// and hands the matches to the task engine.
package events

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"mqttlogic/internal/task/engine"
	"mqttlogic/internal/task/scheduler"
	"mqttlogic/internal/topic"
	"mqttlogic/internal/value"
)

var ErrInvalidPattern = errors.New("invalid topic pattern")

// ExpirerPrefix names the timers that retire handlers registered with
// Options.Expires.
const ExpirerPrefix = "_EVENT_EXPIRER_"

// Event is what a handler sees. Topic is in the "//" form.
type Event struct {
	Topic      string
	Value      value.Value
	Previous   value.Value
	PreviousAt time.Time
	Full       value.Value
	HandlerID  uint64
}

type Callback func(ctx context.Context, ev Event) error

// Options are the recognized registration options.
type Options struct {
	// Values restricts firing to these values; nil means any value.
	Values []value.Value
	// Change skips stores that repeated the current value.
	Change  bool
	OneShot bool
	// Initial replays the cached value of every matching topic at
	// registration time.
	Initial bool
	// Expires is a timer spec ("in 90 seconds", "at 22:00", "sunset");
	// the handler is removed when it fires. Empty never expires.
	Expires string
}

// Runner executes matched callbacks. *engine.Service implements it.
type Runner interface {
	Submit(ctx context.Context, t engine.Task) error
	Enqueue(t engine.Task) error
}

// Timers schedules handler expiry. *scheduler.Service implements it.
type Timers interface {
	AddTimer(name, spec string, cb scheduler.Callback, userdata any) (string, error)
	RemoveTimer(id string) bool
}

// States supplies cached values for Options.Initial. *topic.Store
// implements it.
type States interface {
	Filter(keep func(topic string) bool) []topic.State
}

// HandlerInfo describes one registered handler.
type HandlerInfo struct {
	ID      uint64
	Pattern string
	Values  []value.Value
	Change  bool
	OneShot bool
	Expires bool
}

// Summary is the EVENTS line: id, pattern, values or "*", CH or UP and an
// optional ONESHOT marker.
func (hi HandlerInfo) Summary() string {
	vals := "*"
	if hi.Values != nil {
		parts := make([]string, len(hi.Values))
		for i, v := range hi.Values {
			parts[i] = v.String()
		}
		vals = strings.Join(parts, ",")
	}
	mode := "UP"
	if hi.Change {
		mode = "CH"
	}
	out := []string{fmt.Sprint(hi.ID), hi.Pattern, vals, mode}
	if hi.OneShot {
		out = append(out, "ONESHOT")
	}
	return strings.Join(out, "\t")
}

type handler struct {
	id      uint64
	pattern string
	re      *regexp.Regexp
	values  []value.Value
	change  bool
	oneShot bool
	cb      Callback

	expirerID string
	// consumed marks a one-shot already queued.
	consumed bool
}

func (h *handler) info() HandlerInfo {
	return HandlerInfo{
		ID:      h.id,
		Pattern: h.pattern,
		Values:  h.values,
		Change:  h.change,
		OneShot: h.oneShot,
		Expires: h.expirerID != "",
	}
}

func (h *handler) accepts(v value.Value) bool {
	if h.values == nil {
		return true
	}
	for _, f := range h.values {
		if v.Matches(f) {
			return true
		}
	}
	return false
}
