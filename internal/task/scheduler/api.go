package scheduler

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"mqttlogic/internal/eventbus"
	"mqttlogic/internal/task/engine"
	"mqttlogic/internal/timespec"
	"mqttlogic/pkg/logx"
)

// AddTimer parses spec and arms a timer in the group name.
//
// Supported spec formats:
//   - Cron: "*/5 * * * *", "0 30 6 * * ?", "@hourly", "@every 55m"
//   - Natural language: "every day at 18:00", "in 5 minutes",
//     "tomorrow at 7am and 19:00", "every 10 minutes until 22:00"
//   - Solar: "civil sunset", "sunrise+15m", "30 minutes before sunset"
//
// Names are not unique; a name collects every timer added under it.
// The returned id identifies this timer alone.
func (s *Service) AddTimer(name, spec string, cb Callback, userdata any) (string, error) {
	return s.AddTimerLabeled(name, spec, funcName(cb), cb, userdata)
}

// AddTimerLabeled is AddTimer with the label shown in the TIMERS callback
// column.
func (s *Service) AddTimerLabeled(name, spec, label string, cb Callback, userdata any) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("timer name required")
	}
	if cb == nil {
		return "", errors.New("timer callback required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return "", ErrStopped
	}
	now := s.nowLocked()

	t := &timer{
		id:       uuid.NewString(),
		name:     name,
		spec:     strings.TrimSpace(spec),
		cb:       cb,
		cbName:   label,
		userdata: userdata,
	}
	if sched, cronErr := parseCron(s.parser, spec); cronErr == nil {
		t.kind = variantCron
		t.sched = sched
	} else {
		p, err := timespec.Parse(spec, now, s.solar)
		if err != nil {
			return "", fmt.Errorf("%w %q: not cron (%v): %w", ErrInvalidTimeSpecification, spec, cronErr, err)
		}
		t.kind = variantNatural
		t.nl = newNatural(p)
	}

	s.seq++
	t.seq = s.seq
	s.groups[name] = append(s.groups[name], t)
	s.publish(eventbus.TimerAdded, infoOf(t))

	s.advanceLocked(t, now)
	if t.canceled {
		s.log.Warn("timer has no future fire time", logx.String("timer", name), logx.String("spec", t.spec))
		return t.id, nil
	}
	s.log.Debug("timer added",
		logx.String("timer", name),
		logx.String("id", t.id),
		logx.String("kind", t.kind.String()),
		logx.String("spec", t.spec),
		logx.Time("next", t.next),
	)
	return t.id, nil
}

// RemoveTimers cancels every timer in the group name and returns how many
// there were.
func (s *Service) RemoveTimers(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.groups[name]
	for _, t := range g {
		t.canceled = true
		s.disarmLocked(t)
		s.publish(eventbus.TimerRemoved, infoOf(t))
	}
	delete(s.groups, name)
	if len(g) > 0 {
		s.log.Debug("timers removed", logx.String("timer", name), logx.Int("count", len(g)))
	}
	return len(g)
}

// RemoveTimer cancels the single timer with the given id.
func (s *Service) RemoveTimer(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		for _, t := range g {
			if t.id == id {
				s.removeLocked(t)
				return true
			}
		}
	}
	return false
}

// Count returns the number of live timers named name.
func (s *Service) Count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.groups[name])
}

// List returns every live timer ordered by name, then creation.
func (s *Service) List() []TimerInfo {
	s.mu.Lock()
	all := make([]*timer, 0, len(s.groups))
	for _, g := range s.groups {
		all = append(all, g...)
	}
	out := make([]TimerInfo, 0, len(all))
	sort.Slice(all, func(i, j int) bool {
		if all[i].name != all[j].name {
			return all[i].name < all[j].name
		}
		return all[i].seq < all[j].seq
	})
	for _, t := range all {
		out = append(out, infoOf(t))
	}
	s.mu.Unlock()
	return out
}

// RateLimit reports whether name may run now, allowing one call per
// interval. Each name has its own limiter; a changed interval applies from
// now on.
func (s *Service) RateLimit(name string, interval time.Duration) bool {
	if interval <= 0 {
		return true
	}
	now := s.clock.Now()
	every := rate.Every(interval)

	s.rlMu.Lock()
	defer s.rlMu.Unlock()
	lim := s.limiters[name]
	if lim == nil {
		lim = rate.NewLimiter(every, 1)
		s.limiters[name] = lim
	} else if lim.Limit() != every {
		lim.SetLimitAt(now, every)
	}
	return lim.AllowN(now, 1)
}

func (s *Service) advanceLocked(t *timer, now time.Time) {
	switch t.kind {
	case variantCron:
		s.advanceCron(t, now)
	default:
		s.advanceNatural(t, now)
	}
}

// armLocked schedules the wake for at. Earlier wakes of t are invalidated
// through the version counter, so a stop that loses the race is harmless.
func (s *Service) armLocked(t *timer, at time.Time) {
	s.disarmLocked(t)
	t.version++
	ver := t.version
	t.next = at
	t.armed = true
	d := at.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	t.stop = s.clock.AfterFunc(d, func() { s.fire(t, ver) })
}

func (s *Service) disarmLocked(t *timer) {
	if t.stop != nil {
		_ = t.stop()
		t.stop = nil
	}
	t.version++
}

func (s *Service) removeLocked(t *timer) {
	t.canceled = true
	s.disarmLocked(t)
	g := s.groups[t.name]
	for i, x := range g {
		if x == t {
			g = append(g[:i], g[i+1:]...)
			break
		}
	}
	if len(g) == 0 {
		delete(s.groups, t.name)
	} else {
		s.groups[t.name] = g
	}
	s.publish(eventbus.TimerRemoved, infoOf(t))
}

// fire hands the callback to the runner, then advances. A removal between
// the two stops the advance but not the queued callback.
func (s *Service) fire(t *timer, ver uint64) {
	s.mu.Lock()
	if t.canceled || t.version != ver {
		s.mu.Unlock()
		return
	}
	t.stop = nil
	t.lastFire = t.next
	t.fires++
	task := taskOf(t)
	s.mu.Unlock()

	s.fires.Add(1)
	if err := s.run.Enqueue(task); err != nil {
		s.reportEnqueueError(t.name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t.canceled || t.version != ver {
		return
	}
	now := s.nowLocked()
	if now.Before(t.lastFire) {
		now = t.lastFire
	}
	s.advanceLocked(t, now)
}

func taskOf(t *timer) engine.Task {
	cb, name, ud := t.cb, t.name, t.userdata
	return engine.Task{
		Name: "timer:" + name,
		Run: func(ctx context.Context) error {
			return cb(ctx, name, ud)
		},
		Labels: map[string]string{
			"timer":    name,
			"timer_id": t.id,
			"spec":     t.spec,
		},
	}
}

func infoOf(t *timer) TimerInfo {
	ti := TimerInfo{
		ID:       t.id,
		Name:     t.name,
		Spec:     t.spec,
		Kind:     t.kind.String(),
		Callback: t.cbName,
		Fires:    t.fires,
	}
	if !t.canceled {
		ti.Next = t.next
	}
	return ti
}

func funcName(f any) string {
	v := reflect.ValueOf(f)
	if v.Kind() != reflect.Func || v.IsNil() {
		return ""
	}
	fn := runtime.FuncForPC(v.Pointer())
	if fn == nil {
		return ""
	}
	name := fn.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
