package chore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"choretracker/internal/config"
	"choretracker/internal/storage"
)

// fakeLoader serves canned snapshots and records deletes.
type fakeLoader struct {
	mu      sync.Mutex
	snaps   map[string]storage.Snapshot
	loadErr error
	deleted []string
}

func (f *fakeLoader) LoadSnapshot(ctx context.Context, choreID string) (storage.Snapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return storage.Snapshot{}, false, f.loadErr
	}
	s, ok := f.snaps[choreID]
	return s, ok, nil
}

func (f *fakeLoader) DeleteSnapshot(ctx context.Context, choreID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, choreID)
	return nil
}

func testRegistry(wake *fakeWake, store *fakeLoader, now time.Time) *Registry {
	return NewRegistry(RegistryDeps{
		Wake:  wake,
		Out:   newFakeWriter(),
		Store: store,
		Now:   fixedClock(now),
	})
}

func TestReconcileAddsAndRemoves(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	wake := newFakeWake()
	store := &fakeLoader{snaps: map[string]storage.Snapshot{}}
	r := testRegistry(wake, store, now)
	ctx := context.Background()

	r.Reconcile(ctx, map[string]config.ChoreConfigRaw{
		"dishes": {Enabled: true, DisplayName: "Dishes", Interval: "1 day"},
		"trash":  {Enabled: true, DisplayName: "Trash", Interval: "1 week"},
	})
	if r.Len() != 2 {
		t.Fatalf("len=%d after add, want 2", r.Len())
	}
	if wake.pending() != 2 {
		t.Fatalf("%d timers armed, want 2", wake.pending())
	}

	// Dropping a chore destroys it: timer cancelled, snapshot deleted.
	r.Reconcile(ctx, map[string]config.ChoreConfigRaw{
		"dishes": {Enabled: true, DisplayName: "Dishes", Interval: "1 day"},
	})
	if r.Len() != 1 {
		t.Fatalf("len=%d after remove, want 1", r.Len())
	}
	if wake.pending() != 1 {
		t.Fatalf("%d timers armed after remove, want 1", wake.pending())
	}
	if len(store.deleted) != 1 || store.deleted[0] != "trash" {
		t.Fatalf("unexpected snapshot deletes: %v", store.deleted)
	}
}

func TestReconcileDisabledChoreIsRemoved(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	wake := newFakeWake()
	r := testRegistry(wake, &fakeLoader{snaps: map[string]storage.Snapshot{}}, now)
	ctx := context.Background()

	r.Reconcile(ctx, map[string]config.ChoreConfigRaw{
		"plants": {Enabled: true, DisplayName: "Plants", Interval: "3 days"},
	})
	r.Reconcile(ctx, map[string]config.ChoreConfigRaw{
		"plants": {Enabled: false, DisplayName: "Plants", Interval: "3 days"},
	})
	if r.Len() != 0 {
		t.Fatalf("disabled chore still live")
	}
	if wake.pending() != 0 {
		t.Fatalf("disabled chore kept its timer")
	}
}

func TestReconcileRestoresFromSnapshot(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	t2 := "2024-06-03T05:00:00Z"
	wake := newFakeWake()
	store := &fakeLoader{snaps: map[string]storage.Snapshot{
		"laundry": {
			State:      storage.StateOff,
			Attributes: storage.Attributes{NextDue: &t2},
		},
	}}
	r := testRegistry(wake, store, now)

	r.Reconcile(context.Background(), map[string]config.ChoreConfigRaw{
		"laundry": {Enabled: true, DisplayName: "Laundry", Interval: "2 weeks"},
	})

	want, _ := time.Parse(time.RFC3339, t2)
	if at, ok := wake.pendingAt("chore.laundry"); !ok || !at.Equal(want) {
		t.Fatalf("restored timer at %v (ok=%v), want %v", at, ok, want)
	}
}

func TestReconcileLoadErrorFallsBackToFirstRun(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	wake := newFakeWake()
	store := &fakeLoader{loadErr: errors.New("disk gone")}
	r := testRegistry(wake, store, now)

	r.Reconcile(context.Background(), map[string]config.ChoreConfigRaw{
		"dishes": {Enabled: true, DisplayName: "Dishes", Interval: "1 week"},
	})

	c, ok := r.Get("dishes")
	if !ok {
		t.Fatalf("chore not created on load error")
	}
	v := c.View()
	if v.LastCompleted == nil || !v.LastCompleted.Equal(now) {
		t.Fatalf("load error did not fall back to first-run seeding: %+v", v)
	}
}

func TestReconcileAppliesEdits(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	wake := newFakeWake()
	r := testRegistry(wake, &fakeLoader{snaps: map[string]storage.Snapshot{}}, now)
	ctx := context.Background()

	r.Reconcile(ctx, map[string]config.ChoreConfigRaw{
		"windows": {Enabled: true, DisplayName: "Windows", Interval: "1 week"},
	})
	r.Reconcile(ctx, map[string]config.ChoreConfigRaw{
		"windows": {Enabled: true, DisplayName: "Windows", Interval: "1 month"},
	})

	c, _ := r.Get("windows")
	v := c.View()
	if v.Interval != "1 month" {
		t.Fatalf("edit not applied: interval %q", v.Interval)
	}
	want := time.Date(2024, 1, 31, 5, 0, 0, 0, time.UTC)
	if v.NextDue == nil || !v.NextDue.Equal(want) {
		t.Fatalf("edit did not recompute next_due: %v", v.NextDue)
	}
	if wake.pending() != 1 {
		t.Fatalf("%d timers after edit, want 1", wake.pending())
	}
}

func TestViewsSorted(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	r := testRegistry(newFakeWake(), &fakeLoader{snaps: map[string]storage.Snapshot{}}, now)

	r.Reconcile(context.Background(), map[string]config.ChoreConfigRaw{
		"zebra": {Enabled: true, DisplayName: "Z", Interval: "1 day"},
		"apple": {Enabled: true, DisplayName: "A", Interval: "1 day"},
	})
	views := r.Views()
	if len(views) != 2 || views[0].ID != "apple" || views[1].ID != "zebra" {
		t.Fatalf("views not sorted by ID: %+v", views)
	}
}
