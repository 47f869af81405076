package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Scheduler controls the wake-up timer service (one-shot rearm timers
	// plus cron-driven maintenance jobs).
	Scheduler SchedulerConfig `json:"scheduler"`

	Storage *StorageConfig `json:"storage,omitempty"`
	API     APIConfig      `json:"api"`

	// Chores declares the tracked chores, keyed by chore ID (stable slug).
	Chores map[string]ChoreConfigRaw `json:"chores"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the wake-up scheduler.
//
// MaintenanceCron is a 5-field cron spec for housekeeping (transition-log
// pruning). TransitionRetention is a Go duration string; transitions older
// than this are pruned. Both have sensible defaults when omitted.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Trigger timezone (IANA name). Empty means the host's local clock.
	Timezone string `json:"timezone,omitempty"`

	MaintenanceCron     string `json:"maintenance_cron,omitempty"`
	TransitionRetention string `json:"transition_retention,omitempty"`
}

// StorageConfig controls the snapshot persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./choretracker.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// APIConfig controls the HTTP control surface.
//
// Prefer binding to localhost; the API has no auth of its own.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8787"

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// ChoreConfigRaw is the per-chore declaration as written by the user.
//
// InitialDue seeds the first due date when the chore has never been seen
// before (no snapshot). It is a one-time seed: edits to this field after the
// chore exists have no effect. Accepts RFC 3339 or a bare YYYY-MM-DD date.
type ChoreConfigRaw struct {
	Enabled     bool   `json:"enabled"`
	DisplayName string `json:"display_name"`
	Interval    string `json:"interval"`
	Assignee    string `json:"assignee,omitempty"`
	Room        string `json:"room,omitempty"`
	InitialDue  string `json:"initial_due,omitempty"`
}

// DurationField parses one of the config's optional Go duration strings
// (busy_timeout, transition_retention, the API timeouts). ok is false when
// the field is empty, so the caller applies its own default. Negative
// durations are rejected.
func DurationField(field, raw string) (time.Duration, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: bad duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, false, fmt.Errorf("%s: negative duration %q", field, raw)
	}
	return d, true, nil
}

// UnmarshalJSON disallows unknown fields so typos in chore declarations are
// caught early during config reload.
func (c *ChoreConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled     bool   `json:"enabled"`
		DisplayName string `json:"display_name"`
		Interval    string `json:"interval"`
		Assignee    string `json:"assignee,omitempty"`
		Room        string `json:"room,omitempty"`
		InitialDue  string `json:"initial_due,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*c = ChoreConfigRaw(t)
	return nil
}
