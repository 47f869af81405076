package app

import (
	"testing"

	"choretracker/internal/config"
)

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	if _, enabled, err := mapStorageConfig(&Config{}); err != nil || enabled {
		t.Fatalf("nil storage section: enabled=%v err=%v", enabled, err)
	}
	if _, enabled, err := mapStorageConfig(&Config{Storage: &config.StorageConfig{Driver: "none"}}); err != nil || enabled {
		t.Fatalf("driver none: enabled=%v err=%v", enabled, err)
	}

	sc, enabled, err := mapStorageConfig(&Config{Storage: &config.StorageConfig{
		Driver: "sqlite", Path: "/tmp/x.db", BusyTimeout: "2s",
	}})
	if err != nil || !enabled {
		t.Fatalf("sqlite: enabled=%v err=%v", enabled, err)
	}
	if sc.Driver != "sqlite" || sc.BusyTimeout.Seconds() != 2 {
		t.Fatalf("unexpected mapping: %+v", sc)
	}

	if _, _, err := mapStorageConfig(&Config{Storage: &config.StorageConfig{Driver: "sqlite"}}); err == nil {
		t.Fatalf("sqlite without path not rejected")
	}
	if _, _, err := mapStorageConfig(&Config{Storage: &config.StorageConfig{Driver: "redis", Path: "x"}}); err == nil {
		t.Fatalf("unknown driver not rejected")
	}
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	ok := &Config{
		Chores: map[string]config.ChoreConfigRaw{
			"dishes": {Enabled: true, DisplayName: "Dishes", Interval: "1 day"},
			// Disabled chores may be incomplete.
			"draft": {Enabled: false},
		},
	}
	if err := validateConfig(ok); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := &Config{Chores: map[string]config.ChoreConfigRaw{
		"dishes": {Enabled: true, Interval: "1 day"},
	}}
	if err := validateConfig(bad); err == nil {
		t.Fatalf("missing display_name not rejected")
	}

	bad = &Config{Chores: map[string]config.ChoreConfigRaw{
		"dishes": {Enabled: true, DisplayName: "Dishes"},
	}}
	if err := validateConfig(bad); err == nil {
		t.Fatalf("missing interval not rejected")
	}

	// An interval that parses as a declaration but not as a schedule is
	// allowed; the chore just won't auto-rearm.
	soft := &Config{Chores: map[string]config.ChoreConfigRaw{
		"dishes": {Enabled: true, DisplayName: "Dishes", Interval: "whenever"},
	}}
	if err := validateConfig(soft); err != nil {
		t.Fatalf("unparseable interval must not be fatal: %v", err)
	}

	badDue := &Config{Chores: map[string]config.ChoreConfigRaw{
		"dishes": {Enabled: true, DisplayName: "Dishes", Interval: "1 day", InitialDue: "next tuesday"},
	}}
	if err := validateConfig(badDue); err == nil {
		t.Fatalf("invalid initial_due not rejected")
	}

	goodDue := &Config{Chores: map[string]config.ChoreConfigRaw{
		"dishes": {Enabled: true, DisplayName: "Dishes", Interval: "1 day", InitialDue: "2026-10-01"},
	}}
	if err := validateConfig(goodDue); err != nil {
		t.Fatalf("date-only initial_due rejected: %v", err)
	}

	badTZ := &Config{Scheduler: config.SchedulerConfig{Timezone: "Mars/Olympus"}}
	if err := validateConfig(badTZ); err == nil {
		t.Fatalf("invalid timezone not rejected")
	}
}
