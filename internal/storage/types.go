package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file next to Path
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// MaxEntries bounds the journal; older entries are pruned. 0 means 10000.
	MaxEntries int
}

const DefaultMaxEntries = 10000

func (c Config) maxEntries() int {
	if c.MaxEntries <= 0 {
		return DefaultMaxEntries
	}
	return c.MaxEntries
}

const (
	KindPublish         = "publish"
	KindCallbackFailure = "callback_failure"
)

// Entry is one journal record.
// Keep it compact and schema-stable.
type Entry struct {
	At      time.Time         `json:"at"`
	Kind    string            `json:"kind"`
	Topic   string            `json:"topic,omitempty"`
	Payload string            `json:"payload,omitempty"`
	Retain  bool              `json:"retain,omitempty"`
	Task    string            `json:"task,omitempty"`
	Labels  map[string]string `json:"labels,omitempty"`
	Error   string            `json:"error,omitempty"`
}
