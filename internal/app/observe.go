package app

import (
	"context"
	"time"

	"mqttlogic/internal/eventbus"
	"mqttlogic/internal/storage"
	"mqttlogic/internal/task/engine"
	"mqttlogic/pkg/logx"
)

func (a *App) registerGauges() {
	m := a.metrics
	m.GaugeFunc("topics", "Topics held in the state cache.", func() float64 { return float64(a.topics.Len()) })
	m.GaugeFunc("handlers", "Registered event handlers.", func() float64 { return float64(a.reg.Len()) })
	m.GaugeFunc("timers", "Armed timers.", func() float64 { return float64(len(a.sched.List())) })
	m.GaugeFunc("engine_queue_length", "Callbacks waiting for a worker.", func() float64 {
		return float64(a.engine.Snapshot().QueueLen)
	})
	m.GaugeFunc("mqtt_connected", "1 while the broker session is up.", func() float64 {
		if a.mqtt != nil && a.mqtt.Connected() {
			return 1
		}
		return 0
	})
	m.CounterFunc("log_bus_dropped_total", "Log lines not forwarded to the bus.", func() float64 {
		return float64(a.logs.Dropped())
	})
	m.CounterFunc("eventbus_dropped_total", "Internal events dropped on full subscribers.", func() float64 {
		return float64(a.bus.Dropped())
	})
}

// healthRecent bounds the task history shown in /health.
const healthRecent = 10

// health reports ok while the supervisor is running and, when the bus is
// enabled, the broker session is up.
func (a *App) health() (bool, any) {
	detail := map[string]any{
		"topics":   a.topics.Len(),
		"handlers": a.reg.Len(),
		"timers":   len(a.sched.List()),
		"engine":   engineDetail(a.engine.Snapshot()),
	}
	ok := true
	if a.sup != nil {
		if err := a.sup.Err(); err != nil {
			ok = false
			detail["error"] = err.Error()
		}
	}
	if a.mqtt != nil {
		connected := a.mqtt.Connected()
		detail["mqtt"] = connected
		ok = ok && connected
	}
	return ok, detail
}

func engineDetail(snap engine.Snapshot) map[string]any {
	recent := snap.History
	if len(recent) > healthRecent {
		recent = recent[len(recent)-healthRecent:]
	}
	return map[string]any{
		"workers":   snap.Workers,
		"queue_len": snap.QueueLen,
		"completed": snap.Completed,
		"failed":    snap.Failed,
		"dropped":   snap.Dropped,
		"recent":    recent,
	}
}

// observe feeds task events into metrics and records failed callbacks in
// the journal.
func (a *App) observe() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.observe", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.onEvent(c, e)
			}
		}
	})
}

func (a *App) onEvent(ctx context.Context, e eventbus.Event) {
	ev, isTask := e.Data.(engine.TaskEvent)
	switch {
	case isTask && e.Type == eventbus.TaskFinished:
		a.metrics.TaskFinished(ev, false)
	case isTask && e.Type == eventbus.TaskFailed:
		a.metrics.TaskFinished(ev, true)
		a.journalFailure(ctx, e.Time, ev)
	case isTask && e.Type == eventbus.TaskDropped:
		a.metrics.TaskDropped(ev)
	default:
		// timer and handler churn is noisy
		a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

func (a *App) journalFailure(ctx context.Context, at time.Time, ev engine.TaskEvent) {
	if a.journal == nil {
		return
	}
	err := a.journal.Append(ctx, storage.Entry{
		At:     at,
		Kind:   storage.KindCallbackFailure,
		Task:   ev.Name,
		Labels: ev.Labels,
		Error:  ev.Error,
	})
	if err != nil {
		a.log.Warn("journal append failed", logx.Err(err))
	}
}
