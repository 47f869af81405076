package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Toggle state wire values. The persisted format follows switch semantics:
// "on" means the chore is currently due.
const (
	StateOn  = "on"
	StateOff = "off"
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (json snapshot + jsonl journal)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Snapshot is the persisted state+attributes blob for one chore.
// Timestamps are RFC 3339 strings or null; keep it schema-stable.
type Snapshot struct {
	State      string     `json:"state"` // "on" | "off"
	Attributes Attributes `json:"attributes"`
}

type Attributes struct {
	LastCompleted *string `json:"last_completed"`
	NextDue       *string `json:"next_due"`
	Assignee      string  `json:"assignee"`
	Room          string  `json:"room"`
	Interval      string  `json:"interval"`
}

// TransitionEntry records one observable state change of a chore.
type TransitionEntry struct {
	At      time.Time
	ChoreID string
	Event   string // "completed", "due", "rearmed", "restored", "configured", "removed"
	State   string // "on" | "off" after the transition
	NextDue string // RFC 3339 or empty
	Detail  string
}
