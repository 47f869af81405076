package config

import (
	"sort"
	"strings"

	logx "choretracker/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) structured attrs safe for logging, and (3) the IDs of chores whose
// declaration changed (enable/edit/add/remove).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Scheduler
	if oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled ||
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) ||
		strings.TrimSpace(oldCfg.Scheduler.MaintenanceCron) != strings.TrimSpace(newCfg.Scheduler.MaintenanceCron) ||
		strings.TrimSpace(oldCfg.Scheduler.TransitionRetention) != strings.TrimSpace(newCfg.Scheduler.TransitionRetention) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.maintenance_cron", strings.TrimSpace(newCfg.Scheduler.MaintenanceCron)),
		)
	}

	// API
	if oldCfg.API.Enabled != newCfg.API.Enabled ||
		strings.TrimSpace(oldCfg.API.Addr) != strings.TrimSpace(newCfg.API.Addr) ||
		strings.TrimSpace(oldCfg.API.ReadTimeout) != strings.TrimSpace(newCfg.API.ReadTimeout) ||
		strings.TrimSpace(oldCfg.API.WriteTimeout) != strings.TrimSpace(newCfg.API.WriteTimeout) ||
		strings.TrimSpace(oldCfg.API.IdleTimeout) != strings.TrimSpace(newCfg.API.IdleTimeout) {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", newCfg.API.Enabled),
			logx.String("api.addr", strings.TrimSpace(newCfg.API.Addr)),
		)
	}

	// Storage (nil means disabled)
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
		oBusy = strings.TrimSpace(oldCfg.Storage.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.Storage.Path) != ""
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nBusy = strings.TrimSpace(newCfg.Storage.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
		)
	}

	// Chores (summarize only; details at debug)
	choreChanged := diffChores(oldCfg.Chores, newCfg.Chores)
	if len(choreChanged) > 0 {
		changed = append(changed, "chores")
		attrs = append(attrs,
			logx.Int("chores.changed_count", len(choreChanged)),
			logx.Int("chores.enabled_count", countEnabled(newCfg.Chores)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, choreChanged
}

func countEnabled(m map[string]ChoreConfigRaw) int {
	n := 0
	for _, v := range m {
		if v.Enabled {
			n++
		}
	}
	return n
}

func diffChores(oldM, newM map[string]ChoreConfigRaw) []string {
	if oldM == nil {
		oldM = map[string]ChoreConfigRaw{}
	}
	if newM == nil {
		newM = map[string]ChoreConfigRaw{}
	}

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		o, okO := oldM[id]
		n, okN := newM[id]
		if okO != okN || HashChore(o) != HashChore(n) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
