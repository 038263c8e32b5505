// Package app wires the rule core, its transports and the config reload
// loop into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mqttlogic/internal/config"
	"mqttlogic/internal/console"
	"mqttlogic/internal/eventbus"
	"mqttlogic/internal/events"
	"mqttlogic/internal/ingest"
	"mqttlogic/internal/metrics"
	"mqttlogic/internal/rules"
	rtsup "mqttlogic/internal/runtime/supervisor"
	"mqttlogic/internal/solar"
	"mqttlogic/internal/storage"
	"mqttlogic/internal/task/engine"
	"mqttlogic/internal/task/scheduler"
	"mqttlogic/internal/topic"
	"mqttlogic/internal/transport/mqtt"
	"mqttlogic/pkg/logx"
)

// topicReportInterval is how often the topic count is logged.
const topicReportInterval = 5 * time.Minute

type App struct {
	version string
	verbose bool

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	journal storage.Store

	sun     *solar.Calculator
	topics  *topic.Store
	engine  *engine.Service
	sched   *scheduler.Service
	reg     *events.Registry
	pipe    *ingest.Pipeline
	pub     *ingest.Publisher
	host    *rules.Host
	mqtt    *mqtt.Transport
	console *console.Server
	metrics *metrics.Metrics
	http    *metrics.Server
}

type Option func(*App)

// WithVerbose forces debug logging to the console regardless of the
// logging section.
func WithVerbose(v bool) Option { return func(a *App) { a.verbose = v } }

// New loads the config file and builds every component without starting
// anything.
func New(cfgPath, version string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}
	a := &App{version: version, cfgm: cfgm}
	for _, o := range opts {
		o(a)
	}
	if err := a.build(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) loggingConfig(cfg *config.Config) logx.Config {
	lc := mapLoggingConfig(cfg)
	if a.verbose {
		lc.Level = "debug"
		lc.Console = true
	}
	return lc
}

func (a *App) build(cfg *config.Config) error {
	logSvc, log := logx.New(a.loggingConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))
	bus := eventbus.New()
	m := metrics.New()

	var journal storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return err
		}
		journal = st
		appLog.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return err
	}
	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "engine")), bus)

	sun := solar.New(mapLocation(cfg))
	schedSvc := scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone},
		engineSvc, log.With(logx.String("comp", "scheduler")), bus,
		scheduler.WithSolar(sun))

	namer := topic.Namer{Prefix: busPrefix(cfg)}
	topics := topic.NewStore(nil)
	reg := events.New(engineSvc, log.With(logx.String("comp", "events")), bus,
		events.WithTimers(schedSvc),
		events.WithStates(topics),
		events.WithNamer(namer))
	pipe := ingest.NewPipeline(topics, reg, m, log.With(logx.String("comp", "ingest")))

	pubOpts := []ingest.PublisherOption{ingest.WithTimers(schedSvc), ingest.WithStats(m)}
	if journal != nil {
		pubOpts = append(pubOpts, ingest.WithJournal(journal))
	}

	a.log, a.logs, a.bus, a.journal = appLog, logSvc, bus, journal
	a.sun, a.topics, a.metrics = sun, topics, m
	a.engine, a.sched, a.reg, a.pipe = engineSvc, schedSvc, reg, pipe

	if !cfg.MQTT.Disabled {
		mc, err := mapMQTTConfig(cfg)
		if err != nil {
			return err
		}
		a.mqtt = mqtt.New(mc, pipe, log)
		pubOpts = append(pubOpts, ingest.WithSender(a.mqtt))
	}
	a.pub = ingest.NewPublisher(namer, topics, log.With(logx.String("comp", "publish")), pubOpts...)
	a.host = rules.NewHost(rules.NewEvents(reg), rules.NewTimers(schedSvc), a.pub, log)

	cc, err := mapConsoleConfig(cfg)
	if err != nil {
		return err
	}
	a.console = console.New(cc, console.NewShell(console.Deps{
		Version: a.version,
		Timers:  schedSvc,
		Events:  reg,
		Sun:     sun,
	}), log)

	hc, err := mapMetricsConfig(cfg)
	if err != nil {
		return err
	}
	a.http = metrics.NewServer(hc, m, a.health, log.With(logx.String("comp", "metrics")))
	a.registerGauges()
	return nil
}

// Events is the trigger API for embedded rule code.
func (a *App) Events() rules.Events { return rules.NewEvents(a.reg) }

// Timers is the scheduling API for embedded rule code.
func (a *App) Timers() rules.Timers { return rules.NewTimers(a.sched) }

func (a *App) Publisher() *ingest.Publisher { return a.pub }

func (a *App) Topics() *topic.Store { return a.topics }

func (a *App) Sun() *solar.Calculator { return a.sun }

func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs every enabled component. Listener bind errors and a rejected
// broker login are returned.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// transactional config reload: validate before commit/publish
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return a.validate(cfg)
	})

	a.engine.Start(runCtx)
	a.observe()

	cfg := a.cfgm.Get()
	a.applyRules(cfg)

	if err := a.console.Start(runCtx); err != nil {
		return fmt.Errorf("console: %w", err)
	}
	a.http.Start(runCtx)

	if a.mqtt != nil {
		if err := a.mqtt.Start(runCtx); err != nil {
			return err
		}
		a.logs.SetSender(a.mqtt)
	} else {
		a.log.Warn("mqtt disabled; running without a bus")
	}

	a.sup.Go0("topics.report", func(c context.Context) {
		t := time.NewTicker(topicReportInterval)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				a.log.Info("topic cache", logx.Int("topics", a.topics.Len()), logx.Int("handlers", a.reg.Len()))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub, cfg)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	lat, lon := a.sun.Location()
	a.log.Info("app started",
		logx.String("version", a.version),
		logx.String("tz", a.sched.Location().String()),
		logx.Float64("lat", lat),
		logx.Float64("lon", lon))
	return nil
}

// validate runs the checks that need built services.
func (a *App) validate(cfg *config.Config) error {
	var errs []error
	namer := topic.Namer{Prefix: busPrefix(cfg)}
	for i, r := range cfg.Rules {
		if _, err := topic.CompileFull(namer.NormalizePattern(r.Pattern)); err != nil {
			errs = append(errs, fmt.Errorf("rules[%d].pattern: %w", i, err))
		}
	}
	if _, _, err := mapRules(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapMetricsConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) applyRules(cfg *config.Config) {
	rs, ts, err := mapRules(cfg)
	if err != nil {
		a.log.Warn("invalid rules config; keeping previous", logx.Err(err))
		return
	}
	if err := a.host.Apply(rs, ts); err != nil {
		a.log.Warn("some configured rules were not installed", logx.Err(err))
	}
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config, lastApplied *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig hot-applies what can change at runtime.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	ch := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Debug("config change summary", fields...)

	if len(ch.Restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(ch.Restart, ",")))
	}

	if ch.Has("logging") {
		a.logs.Apply(a.loggingConfig(newCfg))
	}
	if ch.Has("location") {
		a.sun.SetLocation(mapLocation(newCfg))
	}
	if ch.Has("engine") {
		if ec, err := mapEngineConfig(newCfg); err != nil {
			a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
		} else {
			a.engine.Apply(ctx, ec)
		}
	}
	if ch.Has("scheduler") {
		a.sched.Apply(scheduler.Config{Timezone: newCfg.Scheduler.Timezone})
	}
	if ch.Has("metrics") {
		if hc, err := mapMetricsConfig(newCfg); err != nil {
			a.log.Warn("invalid metrics config; keeping previous", logx.Err(err))
		} else {
			a.http.Reconfigure(ctx, hc)
		}
	}
	if ch.Has("rules") || ch.Has("timers") {
		a.applyRules(newCfg)
	}

	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now(), Data: ch.Sections})
	}
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Inbound traffic first, so nothing new is dispatched while the
	// engine drains.
	a.step(ctx, "mqtt", 2*time.Second, func(c context.Context) error {
		if a.mqtt != nil {
			a.logs.SetSender(nil)
			a.mqtt.Stop(c)
		}
		return nil
	})
	a.step(ctx, "console", time.Second, func(c context.Context) error { a.console.Stop(c); return nil })
	a.step(ctx, "metrics", time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "engine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })

	// Finally, wait for supervised goroutines (config watch/reload, observers).
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Stop(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.journal != nil {
			return a.journal.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
