package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "choretracker/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite storage ready", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadSnapshot(ctx context.Context, choreID string) (Snapshot, bool, error) {
	if s == nil || s.db == nil {
		return Snapshot{}, false, ErrDisabled
	}
	var (
		snap          Snapshot
		lastCompleted sql.NullString
		nextDue       sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT state, last_completed, next_due, assignee, room, interval
		 FROM snapshots WHERE chore_id = ?`, choreID,
	).Scan(&snap.State, &lastCompleted, &nextDue,
		&snap.Attributes.Assignee, &snap.Attributes.Room, &snap.Attributes.Interval)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	if lastCompleted.Valid {
		v := lastCompleted.String
		snap.Attributes.LastCompleted = &v
	}
	if nextDue.Valid {
		v := nextDue.String
		snap.Attributes.NextDue = &v
	}
	return snap, true, nil
}

func (s *sqliteStore) SaveSnapshot(ctx context.Context, choreID string, snap Snapshot) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if choreID == "" {
		return errors.New("chore id required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots(chore_id, state, last_completed, next_due, assignee, room, interval, updated_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(chore_id) DO UPDATE SET
		   state=excluded.state, last_completed=excluded.last_completed,
		   next_due=excluded.next_due, assignee=excluded.assignee,
		   room=excluded.room, interval=excluded.interval, updated_at=excluded.updated_at`,
		choreID, snap.State, nullPtr(snap.Attributes.LastCompleted), nullPtr(snap.Attributes.NextDue),
		snap.Attributes.Assignee, snap.Attributes.Room, snap.Attributes.Interval,
		time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) DeleteSnapshot(ctx context.Context, choreID string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE chore_id = ?`, choreID)
	return err
}

func (s *sqliteStore) AppendTransition(ctx context.Context, e TransitionEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions(at, chore_id, event, state, next_due, detail)
		 VALUES(?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ChoreID, e.Event, e.State,
		nullStr(e.NextDue), nullStr(e.Detail),
	)
	return err
}

func (s *sqliteStore) PruneTransitions(ctx context.Context, olderThan time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM transitions WHERE at < ?`,
		olderThan.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullPtr(v *string) any {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	return *v
}
