package chore

import (
	"time"

	"choretracker/internal/eventbus"
	"choretracker/internal/storage"
	logx "choretracker/pkg/logx"
)

// snapshotLocked builds the persisted wire form: on/off state plus
// RFC 3339 timestamps or null. Call with c.mu held.
func (c *Chore) snapshotLocked() storage.Snapshot {
	snap := storage.Snapshot{
		State: storage.StateOff,
		Attributes: storage.Attributes{
			Assignee: c.settings.Assignee,
			Room:     c.settings.Room,
			Interval: c.settings.Interval,
		},
	}
	if c.isDue {
		snap.State = storage.StateOn
	}
	if !c.lastCompleted.IsZero() {
		v := c.lastCompleted.Format(time.RFC3339)
		snap.Attributes.LastCompleted = &v
	}
	if !c.nextDue.IsZero() {
		v := c.nextDue.Format(time.RFC3339)
		snap.Attributes.NextDue = &v
	}
	return snap
}

// Snapshot returns the current persisted wire form.
func (c *Chore) Snapshot() storage.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Restore seeds the runtime state, either from a persisted snapshot or,
// when none exists, via the first-run path.
//
// With a snapshot: state and timestamps load verbatim, no recomputation.
// If next_due is set the wake-up is re-armed for that exact timestamp;
// a deadline already in the past still fires (immediately).
//
// Without one: last_completed seeds to now, next_due comes from the
// explicit initial due date if the declaration supplied one, else from
// the interval, and the chore starts not-due.
func (c *Chore) Restore(snap storage.Snapshot, found bool) {
	c.restore(snap, found)
	eventbus.PublishType(c.bus, "chore.restored", c.View())
}

func (c *Chore) restore(snap storage.Snapshot, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !found {
		now := c.now()
		c.isDue = false
		c.lastCompleted = now
		if !c.settings.InitialDue.IsZero() {
			c.nextDue = c.settings.InitialDue
			c.armTimerLocked(c.nextDue)
		} else {
			c.rearmLocked(now)
		}
		c.writeLocked("restored")
		c.log.Info("chore created",
			logx.String("interval", c.settings.Interval),
			logx.Time("next_due", c.nextDue))
		return
	}

	c.isDue = snap.State == storage.StateOn
	c.lastCompleted = c.restoreLastCompleted(snap.Attributes.LastCompleted)
	c.nextDue = c.restoreNextDue(snap.Attributes.NextDue)
	if !c.nextDue.IsZero() {
		c.armTimerLocked(c.nextDue)
	}
	c.writeLocked("restored")
	c.log.Info("chore restored",
		logx.Bool("due", c.isDue),
		logx.Time("next_due", c.nextDue))
}

// restoreLastCompleted parses the persisted completion timestamp. A
// missing or malformed value re-seeds to now, so completion tracking
// restarts instead of failing the restore.
func (c *Chore) restoreLastCompleted(s *string) time.Time {
	if s == nil || *s == "" {
		return c.now()
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		c.log.Warn("malformed last_completed in snapshot; re-seeding to now",
			logx.String("value", *s), logx.Err(err))
		return c.now()
	}
	return t
}

// restoreNextDue parses the persisted due timestamp. A missing or
// malformed value leaves the chore without an auto-rearm; the next
// completion recomputes it.
func (c *Chore) restoreNextDue(s *string) time.Time {
	if s == nil || *s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		c.log.Warn("malformed next_due in snapshot; auto-rearm disabled until next completion",
			logx.String("value", *s), logx.Err(err))
		return time.Time{}
	}
	return t
}

// View is the read model served over the API.
type View struct {
	ID            string     `json:"id"`
	DisplayName   string     `json:"display_name"`
	Due           bool       `json:"due"`
	LastCompleted *time.Time `json:"last_completed"`
	NextDue       *time.Time `json:"next_due"`
	Assignee      string     `json:"assignee"`
	Room          string     `json:"room"`
	Interval      string     `json:"interval"`
}

func (c *Chore) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{
		ID:          c.id,
		DisplayName: c.settings.DisplayName,
		Due:         c.isDue,
		Assignee:    c.settings.Assignee,
		Room:        c.settings.Room,
		Interval:    c.settings.Interval,
	}
	if !c.lastCompleted.IsZero() {
		t := c.lastCompleted
		v.LastCompleted = &t
	}
	if !c.nextDue.IsZero() {
		t := c.nextDue
		v.NextDue = &t
	}
	return v
}
