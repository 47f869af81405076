package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: DEBUG
  console: true
scheduler:
  enabled: true
  timezone: Europe/Amsterdam
api:
  enabled: true
  addr: 127.0.0.1:9999
chores:
  dishes:
    enabled: true
    display_name: Dishes
    interval: 1 day
    room: kitchen
`)

	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" || !cfg.Scheduler.Enabled {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.API.Addr != "127.0.0.1:9999" {
		t.Fatalf("api addr %q", cfg.API.Addr)
	}
	c, ok := cfg.Chores["dishes"]
	if !ok || c.Interval != "1 day" || c.Room != "kitchen" {
		t.Fatalf("chore not parsed: %+v", cfg.Chores)
	}
	if got := m.Get(); got != cfg {
		t.Fatalf("Get did not return committed config")
	}
}

func TestDurationField(t *testing.T) {
	t.Parallel()

	if _, ok, err := DurationField("x", "  "); ok || err != nil {
		t.Fatalf("empty field: ok=%v err=%v", ok, err)
	}
	d, ok, err := DurationField("x", "30s")
	if err != nil || !ok || d != 30*time.Second {
		t.Fatalf("30s: d=%v ok=%v err=%v", d, ok, err)
	}
	if _, _, err := DurationField("x", "soon"); err == nil {
		t.Fatalf("garbage duration accepted")
	}
	if _, _, err := DurationField("x", "-5m"); err == nil {
		t.Fatalf("negative duration accepted")
	}
}

func TestParseRejectsUnknownChoreField(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
chores:
  dishes:
    enabled: true
    display_name: Dishes
    interval: 1 day
    intervall: 2 days
`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatalf("typo in chore declaration not rejected")
	}
}

func TestParseRejectsUnknownTopLevelField(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"loggin": {"level": "INFO"}}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatalf("unknown top-level field not rejected")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Chores: map[string]ChoreConfigRaw{
			"dishes": {Enabled: true, DisplayName: "Dishes", Interval: "1 day"},
			"trash":  {Enabled: true, DisplayName: "Trash", Interval: "1 week"},
		},
	}
	newCfg := &Config{
		Scheduler: SchedulerConfig{Enabled: true},
		Chores: map[string]ChoreConfigRaw{
			"dishes": {Enabled: true, DisplayName: "Dishes", Interval: "2 days"},
			"plants": {Enabled: true, DisplayName: "Plants", Interval: "3 days"},
		},
	}

	sections, _, choresChanged := SummarizeConfigChange(oldCfg, newCfg)
	wantSections := []string{"chores", "scheduler"}
	if len(sections) != len(wantSections) {
		t.Fatalf("sections %v, want %v", sections, wantSections)
	}
	for i := range wantSections {
		if sections[i] != wantSections[i] {
			t.Fatalf("sections %v, want %v", sections, wantSections)
		}
	}
	// dishes edited, plants added, trash removed.
	want := []string{"dishes", "plants", "trash"}
	if len(choresChanged) != len(want) {
		t.Fatalf("choresChanged %v, want %v", choresChanged, want)
	}
	for i := range want {
		if choresChanged[i] != want[i] {
			t.Fatalf("choresChanged %v, want %v", choresChanged, want)
		}
	}
}

func TestSummarizeConfigChangeNoChanges(t *testing.T) {
	t.Parallel()
	cfg := &Config{Scheduler: SchedulerConfig{Enabled: true}}
	sections, _, chores := SummarizeConfigChange(cfg, cfg)
	if len(sections) != 0 || len(chores) != 0 {
		t.Fatalf("unexpected diff for identical configs: %v %v", sections, chores)
	}
}

func TestHashChoreDetectsEdits(t *testing.T) {
	t.Parallel()
	a := ChoreConfigRaw{Enabled: true, DisplayName: "X", Interval: "1 week"}
	b := a
	if HashChore(a) != HashChore(b) {
		t.Fatalf("identical declarations hash differently")
	}
	b.Interval = "2 weeks"
	if HashChore(a) == HashChore(b) {
		t.Fatalf("edit not reflected in hash")
	}
}
