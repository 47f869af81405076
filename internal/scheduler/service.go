package scheduler

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"choretracker/internal/eventbus"
	logx "choretracker/pkg/logx"
)

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		timers:  map[string]*time.Timer{},
		wakeAt:  map[string]time.Time{},
		wakeJob: map[string]Job{},
		wakeVer: map[string]uint64{},
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Location returns the scheduler timezone, resolving lazily if needed.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc != nil {
		return s.loc
	}
	return s.loadLocationLocked()
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg

	if s.stopCh == nil {
		return
	}
	if oldTZ != newTZ {
		// Restart cron in the new location and re-register definitions.
		s.restartLocked()
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()
	s.log.Debug("start requested",
		logx.Bool("enabled", cur.Enabled),
		logx.Int("workers", cur.Workers),
		logx.String("tz", strings.TrimSpace(cur.Timezone)))

	// If a Stop() is in progress, wait for it to complete first.
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			// already running
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	// Fresh queue per run so stale tasks don't execute after a stop/start toggle.
	s.queue = make(chan task, 64)

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	for i := range s.defs {
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("cron register failed",
				logx.String("name", s.defs[i].name), logx.String("spec", s.defs[i].spec), logx.Err(err))
		}
	}

	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in scheduler worker",
						logx.Int("worker", idx),
						logx.Any("panic", r),
						logx.Stack(string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue)
		}()
	}
	s.c.Start()

	// Rebuild one-shot timers from persistent definitions. Past deadlines
	// fire immediately.
	s.rebuildWakesLocked()
	s.log.Info("scheduler started",
		logx.Int("workers", workers),
		logx.String("tz", loc.String()),
		logx.Int("crons", len(s.defs)))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	c := s.c
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}

	// Stop runtime timers. Definitions stay so wake-ups resume on the next Start().
	s.tmu.Lock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.tmu.Unlock()

	// Finalize cleanup in background so Stop() can return on timeout safely.
	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.queue = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
}

// AddCron registers a recurring maintenance job. Upsert by name.
func (s *Service) AddCron(name, spec string, job Job) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(name) == "" {
		return "", errNameRequired
	}
	_ = s.removeCronLocked(name)
	id := newTaskID("cron")
	d := cronDef{
		id:      id,
		name:    name,
		spec:    spec,
		timeout: s.cfg.DefaultTimeout,
		job:     job,
	}
	s.defs = append(s.defs, d)
	if s.c != nil {
		err := s.addCronLocked(&s.defs[len(s.defs)-1])
		if err != nil {
			s.log.Error("cron register failed",
				logx.String("name", name), logx.String("spec", spec), logx.Err(err))
		} else {
			s.log.Debug("cron registered",
				logx.String("name", name), logx.String("id", id), logx.String("spec", spec))
		}
		return id, err
	}
	// Not started yet: keep the definition and register on Start().
	return id, nil
}

// RemoveCron unschedules the named maintenance job.
func (s *Service) RemoveCron(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeCronLocked(name)
}

// removeCronLocked removes all defs matching name. Call with s.mu held.
func (s *Service) removeCronLocked(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	removed := false
	if s.c != nil {
		for i := range s.defs {
			if s.defs[i].name == name && s.defs[i].entryID != 0 {
				s.c.Remove(s.defs[i].entryID)
				s.defs[i].entryID = 0
				removed = true
			}
		}
	}
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) addCronLocked(d *cronDef) error {
	eid, err := s.c.AddFunc(d.spec, func() {
		s.enqueue(task{id: d.id, name: d.name, timeout: d.timeout, run: d.job})
	})
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("cron register failed",
				logx.String("name", s.defs[i].name), logx.String("spec", s.defs[i].spec), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler restarted", logx.String("tz", loc.String()), logx.Int("crons", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) enqueue(t task) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		s.log.Debug("scheduler not running; dropping task", logx.String("task", t.name))
		return
	}
	select {
	case q <- t:
	default:
		s.log.Warn("scheduler queue full; dropping task",
			logx.String("task", t.name), logx.Int("queue_len", len(q)), logx.Int("queue_cap", cap(q)))
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.execOne(ctx, t)
		}
	}
}

func (s *Service) execOne(ctx context.Context, t task) {
	start := time.Now()
	eventbus.PublishType(s.bus, "job.started", JobEvent{ID: t.id, Name: t.name, Started: start})

	runCtx := ctx
	var cancel func()
	if t.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
	}
	err := t.run(runCtx)
	if cancel != nil {
		cancel()
	}
	dur := time.Since(start)

	item := HistoryItem{ID: t.id, Name: t.name, Started: start, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("job failed", logx.String("job", t.name), logx.Err(err), logx.Duration("dur", dur))
		eventbus.PublishType(s.bus, "job.failed", JobEvent{ID: t.id, Name: t.name, Started: start, Duration: dur, Error: item.Error})
	} else {
		s.log.Debug("job completed", logx.String("job", t.name), logx.Duration("dur", dur))
		eventbus.PublishType(s.bus, "job.finished", JobEvent{ID: t.id, Name: t.name, Started: start, Duration: dur})
	}

	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	historySize := s.historySize()
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
}

func (s *Service) historySize() int {
	s.mu.Lock()
	n := s.cfg.HistorySize
	s.mu.Unlock()
	// Unbounded history slowly retains memory on long-running daemons.
	if n <= 0 {
		n = 200
	}
	return n
}
