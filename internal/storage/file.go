package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "choretracker/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.transitions.jsonl      (append-only JSON Lines)
//   - <prefix>.chores.snapshot.json   (periodic snapshot)
//   - <prefix>.chores.journal.jsonl   (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	transitionsPath string
	transitionsFile *os.File

	snapshotPath string
	journalFile  *os.File
	chores       map[string]Snapshot

	journalWrites int
}

type choreRecord struct {
	ChoreID string    `json:"chore_id"`
	Deleted bool      `json:"deleted,omitempty"`
	Snap    *Snapshot `json:"snap,omitempty"`
}

type transitionRecord struct {
	At      string `json:"at"`
	ChoreID string `json:"chore_id"`
	Event   string `json:"event"`
	State   string `json:"state"`
	NextDue string `json:"next_due,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	transitionsPath := prefix + ".transitions.jsonl"
	snapPath := prefix + ".chores.snapshot.json"
	journalPath := prefix + ".chores.journal.jsonl"

	tf, err := os.OpenFile(transitionsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	// Load chores from snapshot + journal.
	chores := map[string]Snapshot{}
	_ = loadChoreSnapshot(snapPath, chores)
	_ = replayChoreJournal(journalPath, chores)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = tf.Close()
		return nil, err
	}

	return &fileStore{
		log:             log,
		transitionsPath: transitionsPath,
		transitionsFile: tf,
		snapshotPath:    snapPath,
		journalFile:     jf,
		chores:          chores,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.transitionsFile != nil {
		err1 = s.transitionsFile.Close()
		s.transitionsFile = nil
	}
	if s.journalFile != nil {
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) LoadSnapshot(ctx context.Context, choreID string) (Snapshot, bool, error) {
	_ = ctx
	choreID = strings.TrimSpace(choreID)
	if choreID == "" {
		return Snapshot{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.chores[choreID]
	return snap, ok, nil
}

func (s *fileStore) SaveSnapshot(ctx context.Context, choreID string, snap Snapshot) error {
	_ = ctx
	choreID = strings.TrimSpace(choreID)
	if choreID == "" {
		return errors.New("chore id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("chore journal closed")
	}
	s.chores[choreID] = snap
	return s.appendJournalLocked(choreRecord{ChoreID: choreID, Snap: &snap})
}

func (s *fileStore) DeleteSnapshot(ctx context.Context, choreID string) error {
	_ = ctx
	choreID = strings.TrimSpace(choreID)
	if choreID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("chore journal closed")
	}
	if _, ok := s.chores[choreID]; !ok {
		return nil
	}
	delete(s.chores, choreID)
	return s.appendJournalLocked(choreRecord{ChoreID: choreID, Deleted: true})
}

func (s *fileStore) appendJournalLocked(rec choreRecord) error {
	enc := json.NewEncoder(s.journalFile)
	if err := enc.Encode(rec); err != nil {
		return err
	}
	s.journalWrites++
	if s.journalWrites%256 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("chore journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) AppendTransition(ctx context.Context, e TransitionEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transitionsFile == nil {
		return errors.New("transitions file closed")
	}
	enc := json.NewEncoder(s.transitionsFile)
	return enc.Encode(transitionRecord{
		At:      e.At.Format(time.RFC3339Nano),
		ChoreID: e.ChoreID,
		Event:   e.Event,
		State:   e.State,
		NextDue: e.NextDue,
		Detail:  e.Detail,
	})
}

// PruneTransitions rewrites the transitions file keeping entries at or
// after the cutoff. Lines that fail to parse are kept.
func (s *fileStore) PruneTransitions(ctx context.Context, olderThan time.Time) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transitionsFile == nil {
		return 0, errors.New("transitions file closed")
	}

	in, err := os.Open(s.transitionsPath)
	if err != nil {
		return 0, err
	}

	tmp := s.transitionsPath + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		_ = in.Close()
		return 0, err
	}

	var dropped int64
	w := bufio.NewWriter(out)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := sc.Bytes()
		var rec transitionRecord
		if err := json.Unmarshal(line, &rec); err == nil {
			if at, perr := time.Parse(time.RFC3339Nano, rec.At); perr == nil && at.Before(olderThan) {
				dropped++
				continue
			}
		}
		_, _ = w.Write(line)
		_ = w.WriteByte('\n')
	}
	scanErr := sc.Err()
	_ = in.Close()
	if scanErr != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return 0, scanErr
	}
	if err := w.Flush(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}

	// Swap the live append handle to the rewritten file.
	if err := s.transitionsFile.Close(); err != nil {
		s.transitionsFile = nil
		return 0, err
	}
	if err := os.Rename(tmp, s.transitionsPath); err != nil {
		s.transitionsFile = nil
		return 0, err
	}
	tf, err := os.OpenFile(s.transitionsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.transitionsFile = nil
		return 0, err
	}
	s.transitionsFile = tf
	return dropped, nil
}

func (s *fileStore) compactLocked() error {
	if s.chores == nil {
		return nil
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.chores); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadChoreSnapshot(path string, out map[string]Snapshot) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]Snapshot
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayChoreJournal(path string, out map[string]Snapshot) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r choreRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.ChoreID == "" {
			continue
		}
		if r.Deleted {
			delete(out, r.ChoreID)
			continue
		}
		if r.Snap != nil {
			out[r.ChoreID] = *r.Snap
		}
	}
	return sc.Err()
}
