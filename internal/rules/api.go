// Package rules is the surface rule code programs against, plus the host
// that installs rules declared in the config file.
package rules

import (
	"time"

	"mqttlogic/internal/events"
	"mqttlogic/internal/task/scheduler"
	"mqttlogic/internal/value"
)

// Events registers topic triggers.
type Events struct {
	reg *events.Registry
}

func NewEvents(reg *events.Registry) Events { return Events{reg: reg} }

// OnChangeTo fires when a topic matching pattern changes to one of values.
func (e Events) OnChangeTo(pattern string, cb events.Callback, values ...any) (uint64, error) {
	vals := make([]value.Value, len(values))
	for i, v := range values {
		vals[i] = value.FromAny(v)
	}
	return e.reg.Register(pattern, cb, events.Options{Values: vals, Change: true})
}

// OnChange fires on every value change.
func (e Events) OnChange(pattern string, cb events.Callback) (uint64, error) {
	return e.reg.Register(pattern, cb, events.Options{Change: true})
}

// OnUpdate fires on every message, repeated values included.
func (e Events) OnUpdate(pattern string, cb events.Callback) (uint64, error) {
	return e.reg.Register(pattern, cb, events.Options{})
}

func (e Events) Add(pattern string, cb events.Callback, opt events.Options) (uint64, error) {
	return e.reg.Register(pattern, cb, opt)
}

func (e Events) Remove(id uint64) bool { return e.reg.Remove(id) }

func (e Events) List() []events.HandlerInfo { return e.reg.ListAll() }

// Timers schedules callbacks.
type Timers struct {
	sched *scheduler.Service
}

func NewTimers(s *scheduler.Service) Timers { return Timers{sched: s} }

// Add schedules cb under name. spec is a cron expression or a natural
// language description such as "every day at sunset".
func (t Timers) Add(name, spec string, cb scheduler.Callback, userdata any) (string, error) {
	return t.sched.AddTimer(name, spec, cb, userdata)
}

// Remove cancels every timer named name.
func (t Timers) Remove(name string) int { return t.sched.RemoveTimers(name) }

// RemoveID cancels the one timer with this id.
func (t Timers) RemoveID(id string) bool { return t.sched.RemoveTimer(id) }

func (t Timers) Count(name string) int { return t.sched.Count(name) }

// RateLimit reports whether an action named name may run now, allowing one
// run per interval.
func (t Timers) RateLimit(name string, interval time.Duration) bool {
	return t.sched.RateLimit(name, interval)
}

func (t Timers) List() []scheduler.TimerInfo { return t.sched.List() }
