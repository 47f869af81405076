package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"choretracker/internal/api"
	"choretracker/internal/chore"
	"choretracker/internal/eventbus"
	"choretracker/internal/scheduler"
	"choretracker/internal/storage"
	logx "choretracker/pkg/logx"
)

const (
	defaultMaintenanceCron = "30 4 * * *"
	defaultRetention       = 90 * 24 * time.Hour
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	sched    *scheduler.Service
	writer   *stateWriter
	registry *chore.Registry
	api      *api.Server
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	// The boot config passes the same gate as hot reloads: a broken
	// declaration is fatal before any chore is constructed.
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	schedSvc := scheduler.New(mapSchedulerConfig(cfg), log.With(logx.String("comp", "scheduler")), bus)

	writer := newStateWriter(store, log.With(logx.String("comp", "statewriter")))

	registry := chore.NewRegistry(chore.RegistryDeps{
		Log:   log.With(logx.String("comp", "chores")),
		Bus:   bus,
		Wake:  schedSvc,
		Out:   writer,
		Store: snapshotLoader(store),
	})

	var apiSrv *api.Server
	if cfg.API.Enabled {
		apiCfg, err := mapAPIConfig(cfg)
		if err != nil {
			return nil, err
		}
		apiSrv = api.NewServer(apiCfg, registry, schedSvc, log.With(logx.String("comp", "api")))
	}

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		sched:    schedSvc,
		writer:   writer,
		registry: registry,
		api:      apiSrv,
	}, nil
}

// snapshotLoader adapts an optional store to the registry's read port.
func snapshotLoader(store storage.Store) chore.SnapshotLoader {
	if store == nil {
		return nil
	}
	return store
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *Config) error {
		return validateConfig(cfg)
	})

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}

	a.sup.Go0("state.writer", func(c context.Context) {
		a.writer.Run(c)
	})

	// Bring the chore set up before the API can serve it.
	a.registry.Reconcile(a.sup.Context(), a.cfgm.Get().Chores)
	a.registerMaintenance(a.cfgm.Get())

	if a.api != nil {
		a.api.Start()
	}

	// Event log for observability/debug.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// Hot reload config fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs, choresChanged := SummarizeConfigChange(lastApplied, newCfg)
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Debug("config change summary", fields...)
					if len(choresChanged) > 0 {
						a.log.Debug("chore config changes detected", logx.Any("chores", choresChanged))
					}
				} else {
					a.log.Debug("config reload received, but no effective changes detected")
				}
				lastApplied = newCfg

				for _, s := range sections {
					if s == "storage" || s == "api" {
						a.log.Warn("section changed; restart required for changes to take effect",
							logx.String("section", s))
					}
				}

				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})

				// Scheduler enable/disable + timezone changes apply live.
				prevEnabled := a.sched.Enabled()
				a.sched.Apply(mapSchedulerConfig(newCfg))
				newEnabled := newCfg.Scheduler.Enabled
				if prevEnabled && !newEnabled {
					a.log.Info("scheduler disabled via config")
					stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
					a.sched.Stop(stopCtx)
					cancel()
				}
				if !prevEnabled && newEnabled {
					a.log.Info("scheduler enabled via config")
					a.sched.Start(c)
				}

				a.registerMaintenance(newCfg)
				a.registry.Reconcile(c, newCfg.Chores)

				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Info("config reloaded", fields...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("chores", a.registry.Len()))
	return nil
}

// registerMaintenance (re)registers the transition-log pruning job. The
// scheduler upserts by name, so reload-time re-registration is safe.
func (a *App) registerMaintenance(cfg *Config) {
	if a.store == nil {
		return
	}
	spec := strings.TrimSpace(cfg.Scheduler.MaintenanceCron)
	if spec == "" {
		spec = defaultMaintenanceCron
	}
	retention, err := parseDurationOrDefault("scheduler.transition_retention",
		cfg.Scheduler.TransitionRetention, defaultRetention)
	if err != nil {
		a.log.Warn("invalid transition retention; using default", logx.Err(err))
		retention = defaultRetention
	}

	store := a.store
	log := a.log
	if _, err := a.sched.AddCron("maintenance.prune", spec, func(c context.Context) error {
		n, err := store.PruneTransitions(c, time.Now().Add(-retention))
		if err != nil {
			return err
		}
		if n > 0 {
			log.Info("transition log pruned", logx.Int64("removed", n))
		}
		return nil
	}); err != nil {
		a.log.Warn("maintenance job registration failed", logx.Err(err))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("api", 2*time.Second, func(c context.Context) error {
		if a.api != nil {
			a.api.Stop(c)
		}
		return nil
	})
	// Cancel wake-ups before the scheduler goes down; snapshots stay.
	step("chores", 2*time.Second, func(c context.Context) error { a.registry.Shutdown(); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Wait for supervised goroutines (config watch/reload, state writer).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func mapSchedulerConfig(cfg *Config) scheduler.Config {
	return scheduler.Config{
		Enabled:        cfg.Scheduler.Enabled,
		Workers:        2,
		DefaultTimeout: 30 * time.Second,
		HistorySize:    200,
		Timezone:       cfg.Scheduler.Timezone,
	}
}

func mapAPIConfig(cfg *Config) (api.Config, error) {
	read, err := parseDurationOrDefault("api.read_timeout", cfg.API.ReadTimeout, 5*time.Second)
	if err != nil {
		return api.Config{}, err
	}
	write, err := parseDurationOrDefault("api.write_timeout", cfg.API.WriteTimeout, 10*time.Second)
	if err != nil {
		return api.Config{}, err
	}
	idle, err := parseDurationOrDefault("api.idle_timeout", cfg.API.IdleTimeout, 60*time.Second)
	if err != nil {
		return api.Config{}, err
	}
	return api.Config{
		Addr:         strings.TrimSpace(cfg.API.Addr),
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, nil
}

// validateConfig rejects configs that must not be committed on reload.
// A missing display name or interval on an enabled chore is fatal here,
// at the boundary; an interval that merely fails to parse is not (the
// chore just won't auto-rearm).
func validateConfig(cfg *Config) error {
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if _, err := parseDurationField("scheduler.transition_retention", cfg.Scheduler.TransitionRetention); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if cfg.API.Enabled {
		if _, err := mapAPIConfig(cfg); err != nil {
			return err
		}
	}
	for id, c := range cfg.Chores {
		if !c.Enabled {
			continue
		}
		if strings.TrimSpace(c.DisplayName) == "" {
			return fmt.Errorf("chores.%s: display_name is required", id)
		}
		if strings.TrimSpace(c.Interval) == "" {
			return fmt.Errorf("chores.%s: interval is required", id)
		}
		if d := strings.TrimSpace(c.InitialDue); d != "" {
			if _, ok := chore.ParseDueDate(d); !ok {
				return fmt.Errorf("chores.%s: initial_due %q is not RFC 3339 or YYYY-MM-DD", id, d)
			}
		}
	}
	return nil
}
