package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "choretracker/pkg/logx"
)

// Store is the persistence API consumed by the chore registry and app.
type Store interface {
	LoadSnapshot(ctx context.Context, choreID string) (Snapshot, bool, error)
	SaveSnapshot(ctx context.Context, choreID string, snap Snapshot) error
	DeleteSnapshot(ctx context.Context, choreID string) error
	AppendTransition(ctx context.Context, e TransitionEntry) error
	PruneTransitions(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
