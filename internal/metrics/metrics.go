// Package metrics exports rule engine counters to Prometheus.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"mqttlogic/internal/task/engine"
)

const namespace = "mqttlogic"

// Metrics holds the collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	reg *prometheus.Registry

	messages         *prometheus.CounterVec
	publishes        *prometheus.CounterVec
	callbacks        *prometheus.CounterVec
	callbackDuration *prometheus.HistogramVec
	queueDelay       prometheus.Histogram
}

// New creates a private registry with the Go and process collectors and
// the engine metrics registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		reg: reg,
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Bus messages ingested",
		}, []string{"retained"}),

		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Values published to the bus",
		}, []string{"result"}),

		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Rule callbacks run by the engine",
		}, []string{"source", "result"}),

		callbackDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "callback_duration_seconds",
			Help:      "Time spent in rule callbacks",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"source"}),

		queueDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_delay_seconds",
			Help:      "Time callbacks waited in the engine queue",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 1, 10},
		}),
	}
	reg.MustRegister(m.messages, m.publishes, m.callbacks, m.callbackDuration, m.queueDelay)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// GaugeFunc exports f, sampled on every scrape.
func (m *Metrics) GaugeFunc(name, help string, f func() float64) {
	if m == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, f))
}

// CounterFunc exports a monotonically increasing f.
func (m *Metrics) CounterFunc(name, help string, f func() float64) {
	if m == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, f))
}

func (m *Metrics) MessageIngested(retained bool) {
	if m == nil {
		return
	}
	if retained {
		m.messages.WithLabelValues("true").Inc()
		return
	}
	m.messages.WithLabelValues("false").Inc()
}

func (m *Metrics) Published(err error) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(result(err != nil)).Inc()
}

// TaskFinished records one engine task outcome.
func (m *Metrics) TaskFinished(ev engine.TaskEvent, failed bool) {
	if m == nil {
		return
	}
	src := source(ev.Name)
	m.callbacks.WithLabelValues(src, result(failed)).Inc()
	m.callbackDuration.WithLabelValues(src).Observe(ev.Duration.Seconds())
	m.queueDelay.Observe(max(ev.QueueDelay, 0).Seconds())
}

// TaskDropped records a task the engine never ran.
func (m *Metrics) TaskDropped(ev engine.TaskEvent) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(source(ev.Name), "dropped").Inc()
}

func result(failed bool) string {
	if failed {
		return "error"
	}
	return "ok"
}

// source maps "event:<pattern>" and "timer:<name>" task names to their
// kind without putting user strings into label values.
func source(taskName string) string {
	kind, _, ok := strings.Cut(taskName, ":")
	if !ok {
		return "other"
	}
	switch kind {
	case "event", "timer":
		return kind
	}
	return "other"
}

