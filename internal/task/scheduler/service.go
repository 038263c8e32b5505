package scheduler

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"mqttlogic/internal/eventbus"
	"mqttlogic/internal/timespec"
	"mqttlogic/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	loc   *time.Location
	bus   eventbus.Bus
	run   Runner
	clock Clock
	solar timespec.SolarClock

	parser  cron.Parser
	groups  map[string][]*timer
	seq     uint64
	stopped bool

	fires     atomic.Uint64
	enqErrors atomic.Uint64

	// Enqueue error throttling: key is timer name.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time

	rlMu     sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a running scheduler. Fires go to run.
func New(cfg Config, run Runner, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:   cfg,
		log:   log,
		bus:   bus,
		run:   run,
		clock: SystemClock,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:      cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		groups:      map[string][]*timer{},
		lastEnqWarn: map[string]time.Time{},
		limiters:    map[string]*rate.Limiter{},
	}
	for _, o := range opts {
		o(s)
	}
	s.loc = s.loadLocationLocked()
	return s
}

// Apply updates settings. A timezone change re-arms cron timers in the new
// location; natural-language timers keep their resolved dates until their
// next re-parse.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if oldTZ == newTZ {
		return
	}
	s.loc = s.loadLocationLocked()
	if s.stopped {
		return
	}
	now := s.nowLocked()
	n := 0
	for _, g := range s.groups {
		for _, t := range g {
			if t.kind != variantCron || t.canceled {
				continue
			}
			s.disarmLocked(t)
			s.armLocked(t, t.sched.Next(now))
			n++
		}
	}
	s.log.Info("timezone changed", logx.String("tz", s.loc.String()), logx.Int("rearmed", n))
}

// Location is the zone timers are evaluated in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Now is the scheduler clock in its location.
func (s *Service) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nowLocked()
}

// Stop disarms and drops every timer. AddTimer fails afterwards.
func (s *Service) Stop(ctx context.Context) {
	_ = ctx
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	n := 0
	for name, g := range s.groups {
		for _, t := range g {
			t.canceled = true
			s.disarmLocked(t)
			n++
		}
		delete(s.groups, name)
	}
	s.stopped = true
	s.mu.Unlock()

	s.log.Info("service stopped", logx.Int("timers", n), logx.Duration("took", time.Since(start)))
}

func (s *Service) nowLocked() time.Time {
	return s.clock.Now().In(s.loc)
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Any("err", err))
		return time.Local
	}
	return loc
}

func (s *Service) publish(typ string, ti TimerInfo) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: ti})
}
