package app

import (
	"fmt"
	"strings"
	"time"

	"mqttlogic/internal/config"
	"mqttlogic/internal/console"
	"mqttlogic/internal/metrics"
	"mqttlogic/internal/rules"
	"mqttlogic/internal/solar"
	"mqttlogic/internal/storage"
	"mqttlogic/internal/task/engine"
	"mqttlogic/internal/transport/mqtt"
	"mqttlogic/pkg/logx"
)

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	ec := cfg.Engine
	defTimeout, err := config.ParseDurationField("engine.default_timeout", ec.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxQueueDelay, err := config.ParseDurationField("engine.max_queue_delay", ec.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	// zero values fall back to engine defaults
	return engine.Config{
		Enabled:        true,
		Workers:        ec.Workers,
		QueueSize:      ec.QueueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
		HistorySize:    ec.HistorySize,
		RetryMax:       ec.RetryMax,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none", "off", "disabled":
		return storage.Config{}, false, nil
	case "file":
		if path == "" {
			path = "./mqttlogic"
		}
		return storage.Config{Driver: "file", Path: path, MaxEntries: sc.MaxEntries}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy, MaxEntries: sc.MaxEntries}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func busPrefix(cfg *config.Config) string {
	if p := strings.TrimSpace(cfg.MQTT.Prefix); p != "" {
		return p
	}
	return mqtt.DefaultPrefix
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	topic := strings.TrimSpace(cfg.Logging.Bus.Topic)
	if topic == "" {
		topic = busPrefix(cfg) + "log"
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Bus: logx.BusConfig{
			Enabled:    cfg.Logging.Bus.Enabled && !cfg.MQTT.Disabled,
			Topic:      topic,
			MinLevel:   cfg.Logging.Bus.MinLevel,
			RatePerSec: cfg.Logging.Bus.RatePerSec,
		},
	}
}

func mapMQTTConfig(cfg *config.Config) (mqtt.Config, error) {
	mc := cfg.MQTT
	connect, err := config.ParseDurationField("mqtt.connect_timeout", mc.ConnectTimeout)
	if err != nil {
		return mqtt.Config{}, err
	}
	keepAlive, err := config.ParseDurationField("mqtt.keep_alive", mc.KeepAlive)
	if err != nil {
		return mqtt.Config{}, err
	}
	maxReconnect, err := config.ParseDurationField("mqtt.max_reconnect", mc.MaxReconnect)
	if err != nil {
		return mqtt.Config{}, err
	}
	return mqtt.Config{
		Broker:         mc.Broker,
		ClientID:       mc.ClientID,
		Prefix:         busPrefix(cfg),
		Username:       mc.Username,
		Password:       mc.Password,
		ConnectTimeout: connect,
		KeepAlive:      keepAlive,
		MaxReconnect:   maxReconnect,
	}, nil
}

func mapConsoleConfig(cfg *config.Config) (console.Config, error) {
	idle, err := config.ParseDurationField("console.idle_timeout", cfg.Console.IdleTimeout)
	if err != nil {
		return console.Config{}, err
	}
	return console.Config{Enabled: cfg.Console.Enabled, Addr: cfg.Console.Addr, IdleTimeout: idle}, nil
}

func mapMetricsConfig(cfg *config.Config) (metrics.ServerConfig, error) {
	mc := cfg.Metrics
	read, err := config.ParseDurationOrDefault("metrics.read_timeout", mc.ReadTimeout, 10*time.Second)
	if err != nil {
		return metrics.ServerConfig{}, err
	}
	write, err := config.ParseDurationField("metrics.write_timeout", mc.WriteTimeout)
	if err != nil {
		return metrics.ServerConfig{}, err
	}
	idle, err := config.ParseDurationOrDefault("metrics.idle_timeout", mc.IdleTimeout, 60*time.Second)
	if err != nil {
		return metrics.ServerConfig{}, err
	}
	return metrics.ServerConfig{
		Enabled:       mc.Enabled,
		Addr:          mc.Addr,
		Token:         mc.Token,
		AllowInsecure: mc.AllowInsecure,
		Pprof:         mc.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

func mapLocation(cfg *config.Config) (lat, lon float64) {
	lat, lon = solar.DefaultLatitude, solar.DefaultLongitude
	if cfg.Location.Latitude != nil {
		lat = *cfg.Location.Latitude
	}
	if cfg.Location.Longitude != nil {
		lon = *cfg.Location.Longitude
	}
	return lat, lon
}

func mapRules(cfg *config.Config) ([]rules.Rule, []rules.Timer, error) {
	rs := make([]rules.Rule, 0, len(cfg.Rules))
	for i, r := range cfg.Rules {
		exp, err := config.ExpirySpec(fmt.Sprintf("rules[%d].expires", i), r.Expires)
		if err != nil {
			return nil, nil, err
		}
		rs = append(rs, rules.Rule{
			Name:    r.Name,
			Pattern: r.Pattern,
			Values:  r.Values,
			Change:  r.Change,
			OneShot: r.OneShot,
			Initial: r.Initial,
			Expires: exp,
			Publish: mapAction(r.Publish),
		})
	}
	ts := make([]rules.Timer, 0, len(cfg.Timers))
	for _, t := range cfg.Timers {
		ts = append(ts, rules.Timer{Name: t.Name, Spec: t.Spec, Publish: mapAction(t.Publish)})
	}
	return rs, ts, nil
}

func mapAction(p config.PublishConfig) rules.Action {
	return rules.Action{Topic: p.Topic, Value: p.Value, Retain: p.Retain}
}
