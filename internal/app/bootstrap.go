package app

import (
	"time"

	"choretracker/internal/config"
	"choretracker/internal/runtime/supervisor"
)

// ---- Config ----

type Config = config.Config

type ConfigManager = config.ConfigManager

var NewConfigManager = config.NewConfigManager

// SummarizeConfigChange produces a safe, structured summary of config diffs.
// Kept here as a compatibility alias so internal/app doesn't need to import internal/config directly.
var SummarizeConfigChange = config.SummarizeConfigChange

func parseDurationField(field, raw string) (time.Duration, error) {
	d, _, err := config.DurationField(field, raw)
	return d, err
}

func parseDurationOrDefault(field, raw string, def time.Duration) (time.Duration, error) {
	d, ok, err := config.DurationField(field, raw)
	if err != nil {
		return 0, err
	}
	if !ok || d == 0 {
		return def, nil
	}
	return d, nil
}

// ---- Runtime ----

type Supervisor = supervisor.Supervisor

var NewSupervisor = supervisor.New

var WithLogger = supervisor.WithLogger

var WithCancelOnError = supervisor.WithCancelOnError
