package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"choretracker/internal/eventbus"
	logx "choretracker/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Enabled        bool
	Workers        int
	DefaultTimeout time.Duration
	HistorySize    int
	Timezone       string // IANA TZ, e.g. "Europe/Amsterdam"
}

// Job is the unit of work the scheduler runs.
type Job func(ctx context.Context) error

type task struct {
	id      string
	name    string
	timeout time.Duration
	run     Job
}

type cronDef struct {
	id      string
	name    string
	spec    string
	timeout time.Duration
	job     Job
	entryID cron.EntryID
}

// JobEvent is the bus payload for job lifecycle events.
type JobEvent struct {
	ID       string
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type HistoryItem struct {
	ID       string
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []cronDef

	queue  chan task
	stopCh chan struct{}
	// stopDone is non-nil while a Stop() is in progress; closed when workers fully exit.
	stopDone chan struct{}

	// One-shot wake-ups. Timers are runtime state; wakeAt/wakeJob are the
	// persistent definitions rebuilt on Start().
	tmu     sync.Mutex
	timers  map[string]*time.Timer
	wakeAt  map[string]time.Time
	wakeJob map[string]Job
	wakeVer map[string]uint64

	hmu     sync.Mutex
	history []HistoryItem

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

// WakeInfo describes a pending one-shot wake-up.
type WakeInfo struct {
	Name string
	At   time.Time
}

// CronInfo describes a registered maintenance job.
type CronInfo struct {
	ID   string
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

type Snapshot struct {
	Enabled  bool
	Timezone string
	Workers  int
	QueueLen int
	Wakes    []WakeInfo
	Crons    []CronInfo
	History  []HistoryItem
}
