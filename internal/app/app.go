package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"cadence/internal/config"
	"cadence/internal/eventbus"
	"cadence/internal/observability/pprof"
	"cadence/internal/runtime/supervisor"
	"cadence/internal/storage"
	"cadence/internal/task/scheduler"
	logx "cadence/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	sched *scheduler.Service
	debug *pprof.Service

	stopTimeout atomic.Int64 // time.Duration; updated on reload
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	Scheduler  scheduler.Snapshot  `json:"scheduler"`
	Supervisor supervisor.Snapshot `json:"supervisor"`
	Dropped    uint64              `json:"events_dropped"`
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	fail := func(err error) (*App, error) {
		_ = logSvc.Close()
		return nil, err
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return fail(err)
	}
	jobs, err := mapJobs(cfg, log.With(logx.String("comp", "job")))
	if err != nil {
		return fail(err)
	}

	debugCfg, err := mapDebugConfig(cfg)
	if err != nil {
		return fail(err)
	}

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return fail(err)
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return fail(fmt.Errorf("open storage: %w", err))
		}
		store = st
		log.Info("run journal enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	bus := eventbus.New()
	sched := scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler")), bus)
	if err := sched.SetJobs(jobs); err != nil {
		if store != nil {
			_ = store.Close()
		}
		return fail(err)
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		sched:   sched,
	}
	a.debug = pprof.New(debugCfg, debugSource{a}, log.With(logx.String("comp", "debug")))
	a.stopTimeout.Store(int64(schedCfg.StopTimeout))
	return a, nil
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Logger is the live root logger; it follows logging reloads.
func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if a.store != nil {
		events, unsub := a.bus.Subscribe(1024)
		w := &journalWriter{store: a.store, log: a.log.With(logx.String("comp", "journal")), events: events}
		a.sup.Go("journal.write", func(c context.Context) error {
			defer unsub()
			return w.run(c)
		})
	}

	if err := a.sched.Start(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("start scheduler: %w", err)
	}

	a.debug.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	}, supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	a.log.Info("app started",
		logx.String("config", a.cfgPath),
		logx.Int("jobs", len(a.sched.Snapshot().Jobs)),
	)
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: apply only the newest.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, changedJobs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	if slices.Contains(sections, "logging") {
		a.logs.Apply(mapLogConfig(next))
	}
	if slices.Contains(sections, "debug") {
		if dc, err := mapDebugConfig(next); err != nil {
			a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
		} else {
			a.debug.Reconfigure(ctx, dc)
		}
	}
	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	if slices.Contains(sections, "executor") || slices.Contains(sections, "jobs") {
		schedCfg, err := mapSchedulerConfig(next)
		if err != nil {
			a.log.Warn("invalid executor config; keeping previous", logx.Err(err))
			return
		}
		jobs, err := mapJobs(next, a.log.With(logx.String("comp", "job")))
		if err != nil {
			a.log.Warn("invalid jobs; keeping previous", logx.Err(err))
			return
		}
		if len(changedJobs) > 0 {
			a.log.Debug("jobs changed", logx.Strings("jobs", changedJobs))
		}
		if err := a.sched.Apply(ctx, schedCfg, jobs); err != nil {
			a.log.Error("scheduler apply failed", logx.Err(err))
		}
		a.stopTimeout.Store(int64(schedCfg.StopTimeout))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// RecentRuns reads the run journal. It returns storage.ErrDisabled when no
// journal is configured.
func (a *App) RecentRuns(ctx context.Context, job string, limit int) ([]storage.RunRecord, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.RecentRuns(ctx, job, limit)
}

func (a *App) Snapshot() Snapshot {
	snap := Snapshot{
		Scheduler: a.sched.Snapshot(),
		Dropped:   eventbus.Dropped(a.bus),
	}
	if a.sup != nil {
		snap.Supervisor = a.sup.Snapshot()
	}
	return snap
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	// The scheduler goes first: its executor waits for a running job.
	if err := a.step(ctx, "scheduler", time.Duration(a.stopTimeout.Load())+time.Second, a.sched.Stop); err != nil {
		errs = append(errs, err)
	}
	if err := a.step(ctx, "debug", time.Second, a.debug.Stop); err != nil {
		errs = append(errs, err)
	}
	a.sup.Cancel()
	if err := a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait); err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, err)
	}
	if a.store != nil {
		if err := a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() }); err != nil {
			errs = append(errs, err)
		}
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

// step runs one shutdown step bounded by max and the caller's deadline. A step
// that overruns is left running; its late completion is logged.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

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
		took := time.Since(start)
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			return fmt.Errorf("%s: %w", name, err)
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		return nil
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline",
				logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		}()
		return fmt.Errorf("%s: %w", name, stepCtx.Err())
	}
}
