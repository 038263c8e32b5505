package config

import (
	"reflect"
	"strings"

	"mqttlogic/pkg/logx"
)

// Change summarizes a reload.
type Change struct {
	// Sections lists every top-level section that differs.
	Sections []string
	// Restart lists the changed sections that only take effect after a
	// restart.
	Restart []string
	// Attrs are safe to log; secrets are reduced to "_set" booleans.
	Attrs []logx.Field
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// restartSections are wired once at startup.
var restartSections = map[string]bool{
	"mqtt":    true,
	"console": true,
	"storage": true,
}

// SummarizeConfigChange compares two configs section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var ch Change
	mark := func(section string, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		if restartSections[section] {
			ch.Restart = append(ch.Restart, section)
		}
		ch.Attrs = append(ch.Attrs, attrs...)
	}

	// MQTT (never log password)
	if !reflect.DeepEqual(oldCfg.MQTT, newCfg.MQTT) {
		mark("mqtt",
			logx.String("mqtt.broker", strings.TrimSpace(newCfg.MQTT.Broker)),
			logx.String("mqtt.prefix", newCfg.MQTT.Prefix),
			logx.Bool("mqtt.password_set", newCfg.MQTT.Password != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Location, newCfg.Location) {
		mark("location",
			logx.Bool("location.lat_set", newCfg.Location.Latitude != nil),
			logx.Bool("location.lon_set", newCfg.Location.Longitude != nil),
		)
	}
	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		mark("scheduler", logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)))
	}
	if oldCfg.Engine != newCfg.Engine {
		mark("engine",
			logx.Int("engine.workers", newCfg.Engine.Workers),
			logx.Int("engine.queue_size", newCfg.Engine.QueueSize),
		)
	}
	if oldCfg.Console != newCfg.Console {
		mark("console",
			logx.Bool("console.enabled", newCfg.Console.Enabled),
			logx.String("console.addr", strings.TrimSpace(newCfg.Console.Addr)),
		)
	}
	// Metrics (never log token)
	if oldCfg.Metrics != newCfg.Metrics {
		mark("metrics",
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
			logx.Bool("metrics.token_set", strings.TrimSpace(newCfg.Metrics.Token) != ""),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		driver := ""
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		mark("storage", logx.String("storage.driver", driver))
	}
	if oldCfg.Logging != newCfg.Logging {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.bus_enabled", newCfg.Logging.Bus.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Rules, newCfg.Rules) {
		mark("rules", logx.Int("rules.count", len(newCfg.Rules)))
	}
	if !reflect.DeepEqual(oldCfg.Timers, newCfg.Timers) {
		mark("timers", logx.Int("timers.count", len(newCfg.Timers)))
	}
	return ch
}
