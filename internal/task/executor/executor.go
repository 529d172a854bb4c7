package executor

import (
	"context"
	"fmt"
	"runtime"
	"runtime/pprof"
	"strings"
	"sync/atomic"
	"time"

	logx "cadence/pkg/logx"
)

// Executor owns one background execution context running on its own goroutine
// (locked to an OS thread) and schedules periodic tasks on it.
type Executor struct {
	name string
	r    *reactor
	log  logx.Logger

	taskSeq atomic.Uint64
}

// New starts an executor named DefaultName.
func New(opts ...Option) (*Executor, error) {
	return NewNamed(DefaultName, opts...)
}

// NewNamed starts an executor whose goroutine carries the pprof label
// executor=<name>. It returns once the execution context is ready to accept
// work, so scheduling right after construction never races its startup.
func NewNamed(name string, opts ...Option) (*Executor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	o := buildOptions(opts)
	if err := o.ctx.Err(); err != nil {
		return nil, fmt.Errorf("executor %q: parent context done: %w", name, err)
	}
	o.log = o.log.With(logx.String("executor", name))

	ready := make(chan *reactor)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		pprof.Do(o.ctx, pprof.Labels("executor", name), func(ctx context.Context) {
			r := newReactor(ctx, name, o)
			r.state.advance(StateRunning)
			ready <- r
			r.run()
		})
	}()
	r := <-ready

	o.log.Debug("executor started", logx.String("panic_policy", o.policy.String()))
	return &Executor{name: name, r: r, log: o.log}, nil
}

func (e *Executor) Name() string { return e.name }

// Handle returns the handle of the execution context, for ad-hoc submissions.
func (e *Executor) Handle() *Handle { return e.r.handle }

func (e *Executor) State() State { return e.r.state.load() }

// Done is closed once the execution context goroutine has exited.
func (e *Executor) Done() <-chan struct{} { return e.r.done }

// Err returns the panic that stopped the executor under RecoverAndStop, if any.
func (e *Executor) Err() error {
	if perr := e.r.err.Load(); perr != nil {
		return perr
	}
	return nil
}

// ScheduleFixedInterval runs fn now, then again interval after each run finishes
// (minus the run time). Runs that overrun are not made up.
func (e *Executor) ScheduleFixedInterval(interval time.Duration, fn Func) error {
	return e.Schedule("", FixedInterval, interval, fn)
}

// ScheduleFixedRate runs fn now, then keeps an average of one run per interval,
// catching up after slow runs.
func (e *Executor) ScheduleFixedRate(interval time.Duration, fn Func) error {
	return e.Schedule("", FixedRate, interval, fn)
}

// Schedule submits a task under the given policy. name labels the task in logs
// and events; an empty name gets a generated one.
//
// Submission is fire-and-forget: the task lives until the executor stops.
func (e *Executor) Schedule(name string, policy Policy, interval time.Duration, fn Func) error {
	if fn == nil {
		return ErrNilFunc
	}
	if interval <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidInterval, interval)
	}
	if policy != FixedInterval && policy != FixedRate {
		return fmt.Errorf("executor: unknown policy %s", policy)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("%s#%d", policy, e.taskSeq.Add(1))
	}

	s := &schedule{name: name, policy: policy, interval: interval, fn: fn}
	if err := e.r.submit(name, time.Now(), func(h *Handle) { s.iterate(h, 0) }); err != nil {
		return err
	}
	e.log.Debug("task scheduled", logx.String("task", name), logx.String("policy", policy.String()), logx.Duration("interval", interval))
	return nil
}

// StopAsync sends the termination signal and returns immediately.
// Calling it more than once, or after the executor stopped, is a no-op.
func (e *Executor) StopAsync() {
	e.r.requestStop()
}

// StopSync sends the termination signal and waits for the execution context
// goroutine to exit. A callback in flight is allowed to finish first.
//
// Called from a callback of this executor, it only sends the signal.
func (e *Executor) StopSync() {
	_ = e.Shutdown(context.Background())
}

// Shutdown sends the termination signal and waits for the execution context to
// exit or ctx to be done, whichever comes first.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.r.requestStop()
	if e.r.onContext() {
		return ErrReentrant
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-e.r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
