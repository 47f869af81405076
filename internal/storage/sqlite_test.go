package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "choretracker/pkg/logx"
)

func openTempSQLiteStore(t *testing.T, dir string) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(dir, "chores.sqlite"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return st
}

func TestSQLiteSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st := openTempSQLiteStore(t, dir)

	want := Snapshot{
		State: StateOn,
		Attributes: Attributes{
			LastCompleted: strp("2026-02-10T07:30:00Z"),
			Assignee:      "Alex",
			Room:          "Bathroom",
			Interval:      "1 week",
		},
	}
	if err := st.SaveSnapshot(ctx, "towels", want); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, ok, err := st.LoadSnapshot(ctx, "towels")
	if err != nil || !ok {
		t.Fatalf("LoadSnapshot: ok=%v err=%v", ok, err)
	}
	if got.State != StateOn || got.Attributes.Assignee != "Alex" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if got.Attributes.LastCompleted == nil || *got.Attributes.LastCompleted != *want.Attributes.LastCompleted {
		t.Fatalf("unexpected last_completed: %+v", got.Attributes.LastCompleted)
	}
	// NULL next_due must come back as nil, not "".
	if got.Attributes.NextDue != nil {
		t.Fatalf("expected nil next_due, got %q", *got.Attributes.NextDue)
	}

	// Upsert replaces the existing row.
	want.State = StateOff
	want.Attributes.NextDue = strp("2026-02-17T05:00:00Z")
	if err := st.SaveSnapshot(ctx, "towels", want); err != nil {
		t.Fatalf("SaveSnapshot upsert: %v", err)
	}
	got, _, err = st.LoadSnapshot(ctx, "towels")
	if err != nil {
		t.Fatalf("LoadSnapshot after upsert: %v", err)
	}
	if got.State != StateOff || got.Attributes.NextDue == nil || *got.Attributes.NextDue != "2026-02-17T05:00:00Z" {
		t.Fatalf("upsert not applied: %+v", got)
	}

	// Survives close/reopen.
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	st = openTempSQLiteStore(t, dir)
	defer st.Close()

	got, ok, err = st.LoadSnapshot(ctx, "towels")
	if err != nil || !ok {
		t.Fatalf("LoadSnapshot after reopen: ok=%v err=%v", ok, err)
	}
	if got.Attributes.Room != "Bathroom" {
		t.Fatalf("attributes lost across reopen: %+v", got.Attributes)
	}

	if err := st.DeleteSnapshot(ctx, "towels"); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}
	if _, ok, _ := st.LoadSnapshot(ctx, "towels"); ok {
		t.Fatalf("snapshot still present after delete")
	}
}

func TestSQLiteTransitions(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st := openTempSQLiteStore(t, dir)
	defer st.Close()

	now := time.Now().UTC()
	entries := []TransitionEntry{
		{At: now.Add(-72 * time.Hour), ChoreID: "towels", Event: "completed", State: StateOff, NextDue: "2026-02-17T05:00:00Z"},
		{At: now.Add(-48 * time.Hour), ChoreID: "towels", Event: "due", State: StateOn},
		{At: now, ChoreID: "towels", Event: "completed", State: StateOff},
	}
	for _, e := range entries {
		if err := st.AppendTransition(ctx, e); err != nil {
			t.Fatalf("AppendTransition: %v", err)
		}
	}

	dropped, err := st.PruneTransitions(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneTransitions: %v", err)
	}
	if dropped != 2 {
		t.Fatalf("expected 2 pruned entries, got %d", dropped)
	}

	// Pruning an empty window is a no-op.
	dropped, err = st.PruneTransitions(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneTransitions: %v", err)
	}
	if dropped != 0 {
		t.Fatalf("expected 0 pruned entries, got %d", dropped)
	}
}
