package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"mqttlogic/internal/task/engine"
	"mqttlogic/internal/timespec"
)

// Config controls the scheduler.
type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Berlin"; empty means Local
}

var (
	ErrInvalidTimeSpecification = errors.New("invalid time specification")
	// ErrAmbiguousSpecification is matched in addition to
	// ErrInvalidTimeSpecification when a phrase resolved to zero or several
	// date groups.
	ErrAmbiguousSpecification = timespec.ErrAmbiguousSpecification
	ErrStopped                = errors.New("scheduler stopped")
)

// Callback is what a timer runs. userdata is passed through unchanged.
type Callback func(ctx context.Context, name string, userdata any) error

// Runner accepts fired timers. *engine.Service implements it.
type Runner interface {
	Enqueue(t engine.Task) error
}

// Clock arms wakes. Tests swap in a manually advanced one.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// SystemClock is the wall clock.
var SystemClock Clock = realClock{}

type Option func(*Service)

func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithSolar enables sunrise/sunset phrases.
func WithSolar(sc timespec.SolarClock) Option {
	return func(s *Service) { s.solar = sc }
}

type variant int

const (
	variantCron variant = iota
	variantNatural
)

func (v variant) String() string {
	if v == variantCron {
		return "cron"
	}
	return "natural"
}

type timer struct {
	id       string
	seq      uint64
	name     string
	spec     string
	kind     variant
	cb       Callback
	cbName   string
	userdata any

	sched cron.Schedule // variantCron
	nl    natural       // variantNatural

	next     time.Time
	stop     func() bool
	version  uint64
	canceled bool
	armed    bool // first arm done
	lastFire time.Time
	fires    uint64
}

type natural struct {
	dates     []time.Time
	cursor    int
	recurring bool
	until     time.Time
	solar     []bool // parallel to dates
}

func newNatural(p timespec.Parsed) natural {
	return natural{dates: p.Dates, recurring: p.Recurring, until: p.RecursUntil, solar: p.SolarDates}
}

func (n natural) solarAt(i int) bool { return i < len(n.solar) && n.solar[i] }

// TimerInfo describes one armed timer.
type TimerInfo struct {
	ID       string
	Name     string
	Spec     string
	Kind     string
	Next     time.Time
	Callback string
	Fires    uint64
}

// Summary is the TIMERS line: name, next fire, spec, callback.
func (ti TimerInfo) Summary() string {
	next := "-"
	if !ti.Next.IsZero() {
		next = ti.Next.Format(timespec.DisplayLayout)
	}
	return strings.Join([]string{ti.Name, next, ti.Spec, ti.Callback}, "\t")
}

func (ti TimerInfo) String() string {
	return fmt.Sprintf("%s(%s)", ti.Name, ti.ID)
}

// Snapshot is a diagnostic view.
type Snapshot struct {
	Timezone      string
	Groups        int
	Timers        []TimerInfo
	Fires         uint64
	EnqueueErrors uint64
}
