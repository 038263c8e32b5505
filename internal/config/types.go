package config

// Config is the on-disk configuration. JSON and YAML share these field
// names; unknown fields are rejected.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	MQTT      MQTTConfig      `json:"mqtt"`
	Location  LocationConfig  `json:"location"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Engine    EngineConfig    `json:"engine"`
	Console   ConsoleConfig   `json:"console"`
	Metrics   MetricsConfig   `json:"metrics"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Logging   LoggingConfig   `json:"logging"`

	Rules  []RuleConfig  `json:"rules,omitempty"`
	Timers []TimerConfig `json:"timers,omitempty"`
}

// MQTTConfig selects the broker. Changes need a restart.
type MQTTConfig struct {
	// Disabled runs without a bus, e.g. to try rules from the console.
	Disabled bool `json:"disabled,omitempty"`

	Broker   string `json:"broker"`             // default: "tcp://localhost:1883"
	ClientID string `json:"client_id,omitempty"` // default: "mqttlogic-<random>"
	Prefix   string `json:"prefix,omitempty"`    // default: "logic/"
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"` // do not log

	ConnectTimeout string `json:"connect_timeout,omitempty"`
	KeepAlive      string `json:"keep_alive,omitempty"`
	MaxReconnect   string `json:"max_reconnect,omitempty"`
}

// LocationConfig is used for sunrise/sunset. Omitted coordinates fall back
// to the built-in default location.
type LocationConfig struct {
	Latitude  *float64 `json:"lat,omitempty"`
	Longitude *float64 `json:"lon,omitempty"`
}

type SchedulerConfig struct {
	// Timezone for cron and natural language specs. Empty means local.
	Timezone string `json:"timezone,omitempty"`
}

// EngineConfig controls callback execution.
//
// Defaults (when fields are omitted/zero):
//   - workers: 1 (strict FIFO across all handlers)
//   - queue_size: 1024
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 0
type EngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

type ConsoleConfig struct {
	Enabled     bool   `json:"enabled"`
	Addr        string `json:"addr,omitempty"` // default: "127.0.0.1:9100"
	IdleTimeout string `json:"idle_timeout,omitempty"`
}

// MetricsConfig controls the /metrics and /health HTTP endpoint.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9108").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	// WriteTimeout defaults to 0 (disabled) so pprof /profile works.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// StorageConfig controls the publish journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./mqttlogic.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	MaxEntries  int    `json:"max_entries,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Bus     LoggingBus  `json:"bus"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingBus mirrors log lines onto the MQTT bus.
type LoggingBus struct {
	Enabled    bool   `json:"enabled"`
	Topic      string `json:"topic,omitempty"` // default: "<mqtt.prefix>log"
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// RuleConfig declares an event handler that publishes a value.
type RuleConfig struct {
	Name    string        `json:"name"`
	Pattern string        `json:"pattern"`
	Values  []any         `json:"values,omitempty"`
	Change  bool          `json:"change,omitempty"`
	OneShot bool          `json:"oneshot,omitempty"`
	Initial bool          `json:"initial,omitempty"`
	Expires string        `json:"expires,omitempty"`
	Publish PublishConfig `json:"publish"`
}

// TimerConfig declares a scheduled publish.
type TimerConfig struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Publish PublishConfig `json:"publish"`
}

// PublishConfig is the action of a rule or timer. An omitted value on a
// rule forwards the triggering value.
type PublishConfig struct {
	Topic  string `json:"topic"`
	Value  any    `json:"value,omitempty"`
	Retain bool   `json:"retain,omitempty"`
}
