package app

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"choretracker/internal/storage"
	logx "choretracker/pkg/logx"
)

// stateWriter decouples state-machine transitions from persistence: the
// chores hand it snapshots and transition records, it writes them on its
// own goroutine. Writes are fire-and-forget from the caller's view.
// Persistence failures are logged with a rate limit so a broken disk
// doesn't flood the log.
type stateWriter struct {
	log   logx.Logger
	store storage.Store
	queue chan writeOp

	// warnLimit throttles failure logging, not the writes themselves.
	warnLimit *rate.Limiter
}

type writeOp struct {
	snapshot bool
	choreID  string
	snap     storage.Snapshot
	entry    storage.TransitionEntry
}

func newStateWriter(store storage.Store, log logx.Logger) *stateWriter {
	return &stateWriter{
		log:       log,
		store:     store,
		queue:     make(chan writeOp, 128),
		warnLimit: rate.NewLimiter(rate.Every(10*time.Second), 3),
	}
}

func (w *stateWriter) WriteSnapshot(choreID string, snap storage.Snapshot) {
	w.enqueue(writeOp{snapshot: true, choreID: choreID, snap: snap})
}

func (w *stateWriter) AppendTransition(e storage.TransitionEntry) {
	w.enqueue(writeOp{entry: e})
}

func (w *stateWriter) enqueue(op writeOp) {
	if w.store == nil {
		return
	}
	select {
	case w.queue <- op:
	default:
		if w.warnLimit.Allow() {
			w.log.Warn("state write queue full; dropping write",
				logx.String("chore", op.choreID))
		}
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is left
// so a clean shutdown doesn't lose the last transitions.
func (w *stateWriter) Run(ctx context.Context) {
	if w.store == nil {
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-ctx.Done():
			w.flush()
			return
		case op := <-w.queue:
			w.write(op)
		}
	}
}

func (w *stateWriter) flush() {
	for {
		select {
		case op := <-w.queue:
			w.write(op)
		default:
			return
		}
	}
}

func (w *stateWriter) write(op writeOp) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if op.snapshot {
		err = w.store.SaveSnapshot(ctx, op.choreID, op.snap)
	} else {
		err = w.store.AppendTransition(ctx, op.entry)
	}
	if err != nil && w.warnLimit.Allow() {
		w.log.Warn("state write failed",
			logx.String("chore", op.choreID),
			logx.Bool("snapshot", op.snapshot),
			logx.Err(err))
	}
}
