package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"mqttlogic/pkg/logx"
)

// Validate checks everything that can be checked without building the
// services. Patterns and time specs are checked when they are installed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if b := strings.TrimSpace(cfg.MQTT.Broker); b != "" {
		u, err := url.Parse(b)
		if err != nil || u.Scheme == "" || u.Host == "" {
			add(fmt.Errorf("mqtt.broker: invalid url %q", b))
		}
	}
	dur("mqtt.connect_timeout", cfg.MQTT.ConnectTimeout)
	dur("mqtt.keep_alive", cfg.MQTT.KeepAlive)
	dur("mqtt.max_reconnect", cfg.MQTT.MaxReconnect)

	if lat := cfg.Location.Latitude; lat != nil && (*lat < -90 || *lat > 90) {
		add(fmt.Errorf("location.lat: %v out of range", *lat))
	}
	if lon := cfg.Location.Longitude; lon != nil && (*lon < -180 || *lon > 180) {
		add(fmt.Errorf("location.lon: %v out of range", *lon))
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	if cfg.Engine.Workers < 0 || cfg.Engine.QueueSize < 0 || cfg.Engine.HistorySize < 0 || cfg.Engine.RetryMax < 0 {
		add(errors.New("engine: counts must be >= 0"))
	}
	dur("engine.default_timeout", cfg.Engine.DefaultTimeout)
	dur("engine.max_queue_delay", cfg.Engine.MaxQueueDelay)

	dur("console.idle_timeout", cfg.Console.IdleTimeout)
	dur("metrics.read_timeout", cfg.Metrics.ReadTimeout)
	dur("metrics.write_timeout", cfg.Metrics.WriteTimeout)
	dur("metrics.idle_timeout", cfg.Metrics.IdleTimeout)

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none", "off", "disabled", "file", "sqlite", "sqlite3":
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		dur("storage.busy_timeout", st.BusyTimeout)
	}

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" {
		if _, ok := logx.ParseLevel(lvl); !ok {
			add(fmt.Errorf("logging.level: unknown level %q", lvl))
		}
	}
	if lvl := strings.TrimSpace(cfg.Logging.Bus.MinLevel); lvl != "" {
		if _, ok := logx.ParseLevel(lvl); !ok {
			add(fmt.Errorf("logging.bus.min_level: unknown level %q", lvl))
		}
	}

	for i, r := range cfg.Rules {
		path := fmt.Sprintf("rules[%d]", i)
		if strings.TrimSpace(r.Pattern) == "" {
			add(fmt.Errorf("%s.pattern is required", path))
		}
		if strings.TrimSpace(r.Publish.Topic) == "" {
			add(fmt.Errorf("%s.publish.topic is required", path))
		}
		_, err := ExpirySpec(path+".expires", r.Expires)
		add(err)
	}
	for i, t := range cfg.Timers {
		path := fmt.Sprintf("timers[%d]", i)
		if strings.TrimSpace(t.Spec) == "" {
			add(fmt.Errorf("%s.spec is required", path))
		}
		if strings.TrimSpace(t.Publish.Topic) == "" {
			add(fmt.Errorf("%s.publish.topic is required", path))
		}
	}
	return errors.Join(errs...)
}
