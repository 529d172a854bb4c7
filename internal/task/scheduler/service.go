package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cadence/internal/eventbus"
	rtsup "cadence/internal/runtime/supervisor"
	"cadence/internal/task/executor"
	logx "cadence/pkg/logx"
)

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		bus: bus,
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// SetJobs replaces the job set without touching a running executor.
// Use it before Start; use Apply once running.
func (s *Service) SetJobs(jobs []Job) error {
	if err := ValidateJobs(jobs); err != nil {
		return err
	}
	s.mu.Lock()
	s.jobs = append([]Job(nil), jobs...)
	s.mu.Unlock()
	return nil
}

// ValidateJobs rejects job sets the executor would refuse.
func ValidateJobs(jobs []Job) error {
	seen := make(map[string]struct{}, len(jobs))
	for i, j := range jobs {
		name := strings.TrimSpace(j.Name)
		if name == "" {
			return fmt.Errorf("jobs[%d]: name required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("jobs[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}
		if j.Run == nil {
			return fmt.Errorf("job %q: %w", name, executor.ErrNilFunc)
		}
		if j.Spec.Every <= 0 {
			return fmt.Errorf("job %q: %w", name, executor.ErrInvalidInterval)
		}
	}
	return nil
}

// Start creates the executor and schedules every job on it.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ex != nil {
		return nil
	}
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled; not starting")
		return nil
	}

	s.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "scheduler.sup"))))
	if s.bus != nil {
		events, unsub := s.bus.Subscribe(256)
		s.sup.Go0("scheduler.stats", func(c context.Context) {
			defer unsub()
			s.stats.consume(c, events)
		})
	}

	ex, err := executor.NewNamed(s.cfg.Name,
		executor.WithContext(s.sup.Context()),
		executor.WithLogger(s.log),
		executor.WithEventBus(s.bus),
		executor.WithPanicPolicy(s.cfg.PanicPolicy),
	)
	if err != nil {
		s.sup.Cancel()
		s.sup = nil
		return err
	}
	for _, j := range s.jobs {
		if err := s.scheduleJob(ex, j); err != nil {
			ex.StopAsync()
			s.sup.Cancel()
			s.sup = nil
			return fmt.Errorf("job %q: %w", j.Name, err)
		}
	}
	s.ex = ex

	s.sup.Go0("scheduler.executor.watch", func(c context.Context) {
		select {
		case <-c.Done():
		case <-ex.Done():
			if err := ex.Err(); err != nil {
				s.log.Error("executor stopped after task panic", logx.Err(err))
			}
		}
	})

	s.log.Info("scheduler started",
		logx.String("executor", ex.Name()),
		logx.Int("jobs", len(s.jobs)),
		logx.String("panic_policy", s.cfg.PanicPolicy.String()),
	)
	return nil
}

func (s *Service) scheduleJob(ex *executor.Executor, j Job) error {
	spread := time.Duration(0)
	if j.StartSpread {
		spread = startupSpread(j.Name, j.Spec.Every)
	}
	s.log.Debug("job registered",
		logx.String("job", j.Name),
		logx.String("schedule", j.Schedule),
		logx.String("policy", j.Spec.Policy.String()),
		logx.Duration("every", j.Spec.Every),
		logx.Duration("spread", spread),
	)
	if spread <= 0 {
		return ex.Schedule(j.Name, j.Spec.Policy, j.Spec.Every, j.Run)
	}
	if j.Run == nil {
		return executor.ErrNilFunc
	}
	if j.Spec.Every <= 0 {
		return executor.ErrInvalidInterval
	}
	return ex.Handle().After(spread, func(*executor.Handle) {
		if err := ex.Schedule(j.Name, j.Spec.Policy, j.Spec.Every, j.Run); err != nil && !errors.Is(err, executor.ErrStopped) {
			s.log.Error("delayed job registration failed", logx.String("job", j.Name), logx.Err(err))
		}
	})
}

// Stop stops the executor, waiting for a running job up to StopTimeout and ctx.
func (s *Service) Stop(ctx context.Context) error {
	_, err := s.stop(ctx)
	return err
}

// stop is Stop that also returns the executor it stopped, nil when none was
// running.
func (s *Service) stop(ctx context.Context) (*executor.Executor, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	s.mu.Lock()
	ex := s.ex
	sup := s.sup
	timeout := s.cfg.StopTimeout
	s.ex = nil
	s.sup = nil
	s.mu.Unlock()

	if ex == nil {
		return nil, nil
	}
	s.log.Info("stop requested")

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := ex.Shutdown(waitCtx)
	if err != nil {
		// The running job keeps the goroutine alive; the executor exits once it returns.
		s.log.Warn("job still running at stop deadline; executor will exit when it returns",
			logx.Duration("waited", time.Since(start)), logx.Err(err))
	}
	if sup != nil {
		sup.Cancel()
		_ = sup.Wait(ctx)
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	return ex, err
}

// Apply swaps config and jobs. A running scheduler is restarted on a fresh
// executor, since scheduled tasks cannot be cancelled individually.
func (s *Service) Apply(ctx context.Context, cfg Config, jobs []Job) error {
	if err := ValidateJobs(jobs); err != nil {
		return err
	}
	s.mu.Lock()
	running := s.ex != nil
	s.cfg = cfg
	s.jobs = append([]Job(nil), jobs...)
	s.mu.Unlock()

	if running {
		s.log.Info("jobs changed; replacing executor", logx.Int("jobs", len(jobs)))
		old, err := s.stop(ctx)
		switch {
		case errors.Is(err, context.DeadlineExceeded) && old != nil:
			// A job still running on the old executor must not overlap with
			// its first run on the new one.
			s.log.Warn("waiting for running job before starting new executor")
			select {
			case <-old.Done():
			case <-ctx.Done():
				return ctx.Err()
			}
		case err != nil:
			return err
		}
	}
	s.stats.retain(jobs)
	if !cfg.Enabled {
		return nil
	}
	return s.Start(ctx)
}

// Err returns the panic that stopped the current executor, if any.
func (s *Service) Err() error {
	s.mu.Lock()
	ex := s.ex
	s.mu.Unlock()
	if ex == nil {
		return nil
	}
	return ex.Err()
}
