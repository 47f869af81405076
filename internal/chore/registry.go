package chore

import (
	"context"
	"sort"
	"sync"
	"time"

	"choretracker/internal/config"
	"choretracker/internal/eventbus"
	"choretracker/internal/storage"
	logx "choretracker/pkg/logx"
)

// SnapshotLoader is the synchronous read side of persistence, used only
// during reconciles. The write side goes through StateWriter.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, choreID string) (storage.Snapshot, bool, error)
	DeleteSnapshot(ctx context.Context, choreID string) error
}

// Registry owns the set of live chores and reconciles it against the
// declared configuration.
type Registry struct {
	mu     sync.Mutex
	chores map[string]*Chore

	log   logx.Logger
	bus   eventbus.Bus
	wake  WakeScheduler
	out   StateWriter
	store SnapshotLoader
	now   func() time.Time
}

type RegistryDeps struct {
	Log   logx.Logger
	Bus   eventbus.Bus
	Wake  WakeScheduler
	Out   StateWriter
	Store SnapshotLoader // nil when storage is disabled
	Now   func() time.Time
}

func NewRegistry(deps RegistryDeps) *Registry {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	return &Registry{
		chores: map[string]*Chore{},
		log:    deps.Log,
		bus:    deps.Bus,
		wake:   deps.Wake,
		out:    deps.Out,
		store:  deps.Store,
		now:    deps.Now,
	}
}

// Reconcile brings the live set in line with the declared one: new
// chores are created and restored, edited ones absorb their new
// declaration, removed or disabled ones are destroyed (timer cancelled,
// snapshot deleted).
func (r *Registry) Reconcile(ctx context.Context, declared map[string]config.ChoreConfigRaw) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var added, updated, removed int

	for id, raw := range declared {
		if !raw.Enabled {
			continue
		}
		if existing, ok := r.chores[id]; ok {
			if existing.ConfigHash() != config.HashChore(raw) {
				existing.ApplyConfig(raw)
				updated++
			}
			continue
		}

		c := New(id, raw, Deps{Log: r.log, Bus: r.bus, Wake: r.wake, Out: r.out, Now: r.now})
		snap, found, err := r.loadSnapshot(ctx, id)
		if err != nil {
			r.log.Warn("snapshot load failed; treating as first run",
				logx.String("chore", id), logx.Err(err))
			found = false
		}
		c.Restore(snap, found)
		r.chores[id] = c
		added++
	}

	for id, c := range r.chores {
		raw, ok := declared[id]
		if ok && raw.Enabled {
			continue
		}
		c.Destroy()
		delete(r.chores, id)
		if r.store != nil {
			if err := r.store.DeleteSnapshot(ctx, id); err != nil {
				r.log.Warn("snapshot delete failed", logx.String("chore", id), logx.Err(err))
			}
		}
		if r.out != nil {
			r.out.AppendTransition(storage.TransitionEntry{
				At: r.now(), ChoreID: id, Event: "removed", State: storage.StateOff,
			})
		}
		eventbus.PublishType(r.bus, "chore.removed", id)
		removed++
	}

	if added+updated+removed > 0 {
		r.log.Info("chores reconciled",
			logx.Int("added", added),
			logx.Int("updated", updated),
			logx.Int("removed", removed),
			logx.Int("total", len(r.chores)))
	}
}

func (r *Registry) loadSnapshot(ctx context.Context, id string) (storage.Snapshot, bool, error) {
	if r.store == nil {
		return storage.Snapshot{}, false, nil
	}
	return r.store.LoadSnapshot(ctx, id)
}

// Get returns the live chore with the given ID.
func (r *Registry) Get(id string) (*Chore, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chores[id]
	return c, ok
}

// Views returns the read models of all live chores, sorted by ID.
func (r *Registry) Views() []View {
	r.mu.Lock()
	chores := make([]*Chore, 0, len(r.chores))
	for _, c := range r.chores {
		chores = append(chores, c)
	}
	r.mu.Unlock()

	views := make([]View, 0, len(chores))
	for _, c := range chores {
		views = append(views, c.View())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// Len reports the number of live chores.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chores)
}

// Shutdown cancels all pending wake-ups without deleting snapshots, so
// state survives a restart.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chores {
		c.Destroy()
	}
}
