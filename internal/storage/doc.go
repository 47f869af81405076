package storage

// Package storage persists chore state across restarts.
//
// It currently supports:
//   - Per-chore snapshots (toggle state + attributes)
//   - An append-only transition log (completion/rearm/restore events)
