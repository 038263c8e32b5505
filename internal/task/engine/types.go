package engine

import (
	"context"
	"sort"
	"time"

	"mqttlogic/pkg/logx"
)

// Config controls the callback execution engine.
//
// Workers defaults to 1, which runs callbacks strictly in submission order.
// More workers trade that ordering for throughput; callbacks then run
// concurrently and must be safe for it.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout applies when Task.Timeout is 0. 0 means no timeout.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops tasks that waited longer than this. 0 disables it.
	MaxQueueDelay time.Duration

	HistorySize int
	RetryMax    int
}

const (
	DefaultWorkers     = 1
	DefaultQueueSize   = 1024
	DefaultHistorySize = 200
)

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	return c
}

type TaskOptions struct {
	// RetryMax <0 disables retries for this task, 0 uses Config.RetryMax.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%
}

func (o TaskOptions) withDefaults(cfg Config) TaskOptions {
	switch {
	case o.RetryMax < 0:
		o.RetryMax = 0
	case o.RetryMax == 0:
		o.RetryMax = cfg.RetryMax
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 15 * time.Second
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = 0.2
	}
	return o
}

// Task is one callback invocation.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     TaskOptions

	// Labels describe what triggered the task (topic and value, or timer
	// name and spec). They are logged on failure and carried in TaskEvent.
	Labels map[string]string

	// Done runs after the last attempt, whatever the outcome, including a
	// stale drop. Tasks still queued at Stop get ErrAbandoned.
	Done func(err error)
}

type HistoryItem struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// TaskEvent is the payload of task.* events on the eventbus.
type TaskEvent struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Started    time.Time         `json:"started"`
	QueueDelay time.Duration     `json:"queue_delay"`
	Duration   time.Duration     `json:"duration"`
	Attempts   int               `json:"attempts"`
	Labels     map[string]string `json:"labels,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Snapshot is a diagnostic view.
type Snapshot struct {
	Enabled  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Dropped          uint64
	DroppedQueueFull uint64
	DroppedStale     uint64
	Completed        uint64
	Failed           uint64

	DefaultTimeout time.Duration
	MaxQueueDelay  time.Duration
	RetryMax       int

	History []HistoryItem
}

func labelFields(labels map[string]string) []logx.Field {
	if len(labels) == 0 {
		return nil
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]logx.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, logx.String(k, labels[k]))
	}
	return out
}
