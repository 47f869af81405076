package chore

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode"

	"choretracker/internal/config"
	"choretracker/internal/eventbus"
	"choretracker/internal/storage"
	logx "choretracker/pkg/logx"
)

// Defaults applied when the chore declaration leaves these blank.
const (
	DefaultAssignee = "Family"
	DefaultRoom     = "Other"
)

// WakeScheduler is the timer service the state machine schedules its
// one-shot rearm wake-up with. Schedule is an upsert by name, so a chore
// never holds more than one live timer.
type WakeScheduler interface {
	Schedule(name string, at time.Time, job func(ctx context.Context) error) error
	Cancel(name string) bool
}

// StateWriter receives snapshot and transition writes. Writes are
// fire-and-forget from the state machine's perspective; delivery and
// error handling belong to the implementation.
type StateWriter interface {
	WriteSnapshot(choreID string, snap storage.Snapshot)
	AppendTransition(e storage.TransitionEntry)
}

// Settings is the normalized per-chore declaration.
type Settings struct {
	DisplayName string
	Interval    string
	Assignee    string
	Room        string
	InitialDue  time.Time // zero when not supplied
}

// NewSettings normalizes a raw chore declaration: defaults for assignee
// and room, both title-cased, parsed initial due date.
func NewSettings(raw config.ChoreConfigRaw) Settings {
	s := Settings{
		DisplayName: strings.TrimSpace(raw.DisplayName),
		Interval:    strings.TrimSpace(raw.Interval),
		Assignee:    titleCase(strings.TrimSpace(raw.Assignee)),
		Room:        titleCase(strings.TrimSpace(raw.Room)),
	}
	if s.Assignee == "" {
		s.Assignee = DefaultAssignee
	}
	if s.Room == "" {
		s.Room = DefaultRoom
	}
	if due, ok := ParseDueDate(raw.InitialDue); ok {
		s.InitialDue = due
	}
	return s
}

// ParseDueDate accepts RFC 3339 or a bare date. Bare dates are anchored
// to the due hour in local time.
func ParseDueDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if d, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return time.Date(d.Year(), d.Month(), d.Day(), DueHour, 0, 0, 0, time.Local), true
	}
	return time.Time{}, false
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// Chore is the per-chore state machine. It owns the toggle state, the
// last-completed and next-due timestamps, and the single pending wake-up
// timer. All transitions run under c.mu; the wake callback re-enters
// through the same lock.
type Chore struct {
	mu sync.Mutex

	id   string
	log  logx.Logger
	bus  eventbus.Bus
	wake WakeScheduler
	out  StateWriter

	// now is the clock; swapped in tests.
	now func() time.Time

	settings Settings
	cfgHash  uint64

	isDue         bool
	lastCompleted time.Time // zero = never completed
	nextDue       time.Time // zero = no auto-rearm
	timerArmed    bool
	armGen        uint64 // bumped on every arm; stale wake callbacks carry an old value
}

type Deps struct {
	Log  logx.Logger
	Bus  eventbus.Bus
	Wake WakeScheduler
	Out  StateWriter
	Now  func() time.Time
}

func New(id string, raw config.ChoreConfigRaw, deps Deps) *Chore {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	return &Chore{
		id:       id,
		log:      deps.Log.With(logx.String("chore", id)),
		bus:      deps.Bus,
		wake:     deps.Wake,
		out:      deps.Out,
		now:      deps.Now,
		settings: NewSettings(raw),
		cfgHash:  config.HashChore(raw),
	}
}

func (c *Chore) ID() string { return c.id }

func (c *Chore) timerName() string { return "chore." + c.id }

// ConfigHash reports the hash of the declaration this chore was last
// configured with, for cheap edit detection during reconciles.
func (c *Chore) ConfigHash() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfgHash
}

// MarkComplete records a completion: the chore flips to not-due, the next
// due date is computed from now, and the wake-up timer is rescheduled.
// Marking an already-completed chore again just moves the due date.
func (c *Chore) MarkComplete(ctx context.Context) {
	c.mu.Lock()
	now := c.now()
	c.isDue = false
	c.lastCompleted = now
	c.rearmLocked(now)
	c.writeLocked("completed")
	c.mu.Unlock()
	eventbus.PublishType(c.bus, "chore.completed", c.View())
	_ = ctx
}

// MarkDue forces the chore into the due state without touching the
// timestamps or the pending timer.
func (c *Chore) MarkDue(ctx context.Context) {
	c.mu.Lock()
	c.isDue = true
	c.writeLocked("due")
	c.mu.Unlock()
	eventbus.PublishType(c.bus, "chore.due", c.View())
	_ = ctx
}

// fire is the wake-up callback: the deadline arrived, flip to due and
// clear the pending timer. gen names the arming that created the wake;
// a callback from a superseded arming is dropped, so a wake already
// dequeued by a scheduler worker cannot flip a chore that was completed
// (and re-armed) in the meantime.
func (c *Chore) fire(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	if gen != c.armGen || !c.timerArmed {
		c.mu.Unlock()
		return nil
	}
	c.timerArmed = false
	c.isDue = true
	c.writeLocked("due")
	c.log.Info("chore due", logx.Time("next_due", c.nextDue))
	c.mu.Unlock()
	eventbus.PublishType(c.bus, "chore.due", c.View())
	_ = ctx
	return nil
}

// ApplyConfig absorbs an edited declaration. An interval change
// recomputes the due date from the last completion; the toggle state is
// never flipped by edits alone. InitialDue is a first-creation seed and
// is ignored here.
func (c *Chore) ApplyConfig(raw config.ChoreConfigRaw) {
	next := NewSettings(raw)
	hash := config.HashChore(raw)

	c.mu.Lock()
	if hash == c.cfgHash {
		c.mu.Unlock()
		return
	}
	intervalChanged := next.Interval != c.settings.Interval
	c.settings = next
	c.cfgHash = hash

	if intervalChanged {
		start := c.lastCompleted
		if start.IsZero() {
			start = c.now()
		}
		c.rearmLocked(start)
	}
	c.writeLocked("configured")
	c.mu.Unlock()
	eventbus.PublishType(c.bus, "chore.configured", c.View())
}

// rearmLocked recomputes nextDue from start and reschedules the wake-up.
// An unparseable interval clears the due date and cancels any timer; the
// chore then never auto-rearms until reconfigured. Call with c.mu held.
func (c *Chore) rearmLocked(start time.Time) {
	due, ok := NextDue(start, c.settings.Interval)
	if !ok {
		c.nextDue = time.Time{}
		c.cancelTimerLocked()
		if c.settings.Interval != "" {
			c.log.Warn("unparseable interval; auto-rearm disabled",
				logx.String("interval", c.settings.Interval))
		}
		return
	}
	c.nextDue = due
	c.armTimerLocked(due)
}

func (c *Chore) armTimerLocked(at time.Time) {
	if c.wake == nil {
		return
	}
	c.armGen++
	gen := c.armGen
	// Schedule is an upsert; the previous timer for this name dies with it.
	if err := c.wake.Schedule(c.timerName(), at, func(ctx context.Context) error {
		return c.fire(ctx, gen)
	}); err != nil {
		c.log.Error("wake-up schedule failed", logx.Time("at", at), logx.Err(err))
		return
	}
	c.timerArmed = true
}

func (c *Chore) cancelTimerLocked() {
	if c.wake == nil || !c.timerArmed {
		return
	}
	c.wake.Cancel(c.timerName())
	c.timerArmed = false
}

// Destroy cancels the pending wake-up. The chore must not be used after.
func (c *Chore) Destroy() {
	c.mu.Lock()
	c.cancelTimerLocked()
	c.mu.Unlock()
}

// writeLocked pushes the current snapshot and a transition record to the
// state writer. Call with c.mu held.
func (c *Chore) writeLocked(event string) {
	if c.out == nil {
		return
	}
	snap := c.snapshotLocked()
	c.out.WriteSnapshot(c.id, snap)
	c.out.AppendTransition(storage.TransitionEntry{
		At:      c.now(),
		ChoreID: c.id,
		Event:   event,
		State:   snap.State,
		NextDue: deref(snap.Attributes.NextDue),
	})
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
