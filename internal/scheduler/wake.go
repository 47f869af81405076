package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

var errNameRequired = errors.New("name required")

func newTaskID(kind string) string {
	return fmt.Sprintf("%s:%d", kind, time.Now().UnixNano())
}

// Schedule registers a one-shot wake-up. Upsert by name: an existing
// pending timer for the same name is stopped and replaced, so each name
// holds at most one live timer. A deadline in the past fires immediately.
func (s *Service) Schedule(name string, at time.Time, job func(ctx context.Context) error) error {
	if name == "" {
		return errNameRequired
	}
	if at.IsZero() {
		return errors.New("wake time required")
	}
	if job == nil {
		return errors.New("job required")
	}

	s.mu.Lock()
	loc := s.loc
	running := s.stopCh != nil
	s.mu.Unlock()
	if loc == nil {
		loc = time.Local
	}
	runAt := at.In(loc)

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if t, ok := s.timers[name]; ok {
		_ = t.Stop()
		delete(s.timers, name)
	}
	// Bump version so stale callbacks from replaced timers are ignored.
	ver := s.wakeVer[name] + 1
	s.wakeVer[name] = ver
	s.wakeAt[name] = runAt
	s.wakeJob[name] = job

	if running {
		s.timers[name] = s.newWakeTimerLocked(name, runAt, ver)
	}
	return nil
}

// Cancel removes a pending wake-up. It returns true if something was
// removed. Safe to call when the scheduler is stopped (it still removes
// the persisted definition).
func (s *Service) Cancel(name string) bool {
	if name == "" {
		return false
	}
	s.tmu.Lock()
	defer s.tmu.Unlock()
	removed := false
	if t, ok := s.timers[name]; ok {
		_ = t.Stop()
		delete(s.timers, name)
		removed = true
	}
	if _, ok := s.wakeAt[name]; ok {
		removed = true
	}
	delete(s.wakeAt, name)
	delete(s.wakeJob, name)
	delete(s.wakeVer, name)
	return removed
}

// WakeAt reports the pending wake-up deadline for name, if any.
func (s *Service) WakeAt(name string) (time.Time, bool) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	at, ok := s.wakeAt[name]
	return at, ok
}

// newWakeTimerLocked creates the runtime timer for one wake definition.
// Call with s.tmu held.
func (s *Service) newWakeTimerLocked(name string, runAt time.Time, ver uint64) *time.Timer {
	delay := time.Until(runAt)
	if delay < 0 {
		delay = 0
	}
	return time.AfterFunc(delay, func() {
		s.mu.Lock()
		running := s.stopCh != nil
		timeout := s.cfg.DefaultTimeout
		s.mu.Unlock()
		if !running {
			// Keep the definition; the next Start() rebuilds and fires it.
			return
		}

		s.tmu.Lock()
		curVer := s.wakeVer[name]
		jobNow := s.wakeJob[name]
		_, okAt := s.wakeAt[name]
		if curVer != ver || jobNow == nil || !okAt {
			// Replaced or cancelled since this timer was armed.
			s.tmu.Unlock()
			return
		}
		// Clear the definition before running so a concurrent Stop/Start
		// cannot fire it twice.
		delete(s.timers, name)
		delete(s.wakeAt, name)
		delete(s.wakeJob, name)
		delete(s.wakeVer, name)
		s.tmu.Unlock()

		s.enqueue(task{id: newTaskID("wake"), name: name, timeout: timeout, run: jobNow})
	})
}

// rebuildWakesLocked recreates runtime timers from persisted wake
// definitions. Call with s.mu held.
func (s *Service) rebuildWakesLocked() {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}

	for name, runAt := range s.wakeAt {
		job := s.wakeJob[name]
		if job == nil {
			delete(s.wakeAt, name)
			delete(s.wakeVer, name)
			continue
		}
		ver := s.wakeVer[name]
		if ver == 0 {
			ver = 1
			s.wakeVer[name] = ver
		}
		s.timers[name] = s.newWakeTimerLocked(name, runAt, ver)
	}
}

// SnapshotState returns a point-in-time view for diagnostics.
func (s *Service) SnapshotState() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Timezone: s.cfg.Timezone,
		Workers:  s.cfg.Workers,
	}
	if s.queue != nil {
		snap.QueueLen = len(s.queue)
	}
	c := s.c
	for _, d := range s.defs {
		ci := CronInfo{ID: d.id, Name: d.name, Spec: d.spec}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			ci.Next = e.Next
			ci.Prev = e.Prev
		}
		snap.Crons = append(snap.Crons, ci)
	}
	s.mu.Unlock()

	s.tmu.Lock()
	for name, at := range s.wakeAt {
		snap.Wakes = append(snap.Wakes, WakeInfo{Name: name, At: at})
	}
	s.tmu.Unlock()
	sort.Slice(snap.Wakes, func(i, j int) bool { return snap.Wakes[i].At.Before(snap.Wakes[j].At) })

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}
