package scheduler

// Package scheduler runs chore wake-ups and periodic maintenance jobs.
//
// Wake-ups are one-shot timers keyed by name. Registering a name that
// already has a pending timer replaces it, so a chore never holds more
// than one live timer. Definitions survive Stop(); Start() rebuilds the
// runtime timers from them, firing immediately for deadlines already in
// the past.
//
// Maintenance jobs (transition pruning, snapshot compaction) run on cron
// specs in the configured timezone.
