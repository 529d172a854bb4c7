package executor

import (
	"bytes"
	"container/heap"
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"cadence/internal/eventbus"
	logx "cadence/pkg/logx"
)

// reactor is the execution context: one goroutine dispatching timers and
// submissions, one at a time.
//
// timers and seq are owned by the dispatch goroutine. Everything else is safe
// for concurrent use.
type reactor struct {
	name   string
	log    logx.Logger
	bus    eventbus.Bus
	policy PanicPolicy

	panicLog *rate.Limiter

	// ctx is cancelled when termination is requested; its Done channel is the
	// termination signal observed by the dispatch loop.
	ctx    context.Context
	cancel context.CancelFunc

	handle *Handle

	mu      sync.Mutex
	ingress []*timerEntry
	closed  bool
	wake    chan struct{}

	timers timerHeap
	seq    uint64

	state   stateCell
	goid    atomic.Uint64
	errOnce sync.Once
	err     atomic.Pointer[PanicError]
	done    chan struct{}
}

func newReactor(parent context.Context, name string, o options) *reactor {
	ctx, cancel := context.WithCancel(parent)
	r := &reactor{
		name:     name,
		log:      o.log,
		bus:      o.bus,
		policy:   o.policy,
		panicLog: rate.NewLimiter(rate.Every(o.panicLogEvery), o.panicLogBurst),
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	r.handle = &Handle{r: r}
	return r
}

// submit queues fn to run at due. It is safe to call from any goroutine,
// including the dispatch goroutine itself.
func (r *reactor) submit(task string, due time.Time, fn Func) error {
	r.mu.Lock()
	if r.closed || r.ctx.Err() != nil {
		r.mu.Unlock()
		return ErrStopped
	}
	r.ingress = append(r.ingress, &timerEntry{due: due, task: task, fn: fn})
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return nil
}

// requestStop sends the termination signal. Repeated calls are no-ops.
func (r *reactor) requestStop() {
	if r.state.advance(StateTerminationRequested) {
		r.log.Debug("termination requested")
	}
	r.cancel()
}

func (r *reactor) run() {
	r.goid.Store(curGoroutineID())
	start := time.Now()
	defer r.finish(start)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		if r.ctx.Err() != nil {
			return
		}
		r.drain()

		if len(r.timers) == 0 {
			select {
			case <-r.ctx.Done():
				return
			case <-r.wake:
			}
			continue
		}

		next := r.timers[0]
		wait := time.Until(next.due)
		if wait <= 0 {
			heap.Pop(&r.timers)
			r.dispatch(next.task, next.fn)
			continue
		}

		timer.Reset(wait)
		select {
		case <-r.ctx.Done():
			return
		case <-r.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// drain moves submitted entries into the timer heap.
func (r *reactor) drain() {
	r.mu.Lock()
	in := r.ingress
	r.ingress = nil
	r.mu.Unlock()

	for _, e := range in {
		r.seq++
		e.seq = r.seq
		heap.Push(&r.timers, e)
	}
}

func (r *reactor) finish(start time.Time) {
	// Parent cancellation reaches here without requestStop.
	r.state.advance(StateTerminationRequested)

	r.mu.Lock()
	r.closed = true
	dropped := len(r.ingress) + len(r.timers)
	r.ingress = nil
	r.mu.Unlock()
	r.timers = nil

	r.cancel()
	r.state.advance(StateStopped)
	close(r.done)
	r.log.Debug("execution context stopped", logx.Duration("uptime", time.Since(start)), logx.Int("discarded", dropped))
}

// dispatch runs fn on the current goroutine, applying the panic policy.
// It reports whether fn panicked (and was recovered).
func (r *reactor) dispatch(task string, fn Func) (panicked bool) {
	defer func() {
		if p := recover(); p != nil {
			panicked = true
			r.handlePanic(task, p)
		}
	}()
	fn(r.handle)
	return false
}

func (r *reactor) handlePanic(task string, p any) {
	// Already reported by a nested dispatch under Repanic.
	if perr, ok := p.(*PanicError); ok && r.policy == Repanic {
		panic(perr)
	}
	perr := &PanicError{Task: task, Value: p, Stack: string(debug.Stack())}

	if r.policy == Repanic || r.panicLog.Allow() {
		r.log.Error("task panicked",
			logx.String("task", task),
			logx.Any("panic", p),
			logx.String("policy", r.policy.String()),
			logx.Stack(perr.Stack),
		)
	}

	switch r.policy {
	case RecoverAndStop:
		r.errOnce.Do(func() { r.err.Store(perr) })
		r.requestStop()
	case Repanic:
		panic(perr)
	}
}

func (r *reactor) publish(ev TaskEvent) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: EventTaskRun, Time: ev.Started.Add(ev.Duration), Data: ev})
}

func (r *reactor) onContext() bool {
	id := r.goid.Load()
	return id != 0 && id == curGoroutineID()
}

// curGoroutineID parses the current goroutine id from the stack header
// ("goroutine 42 [running]:"). Used only for re-entrancy checks.
func curGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i <= 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(b[:i]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Handle is a reference to an execution context. It is handed to every
// callback and can be shared freely across goroutines.
type Handle struct {
	r *reactor
}

// Name returns the name of the executor owning the context.
func (h *Handle) Name() string { return h.r.name }

// Context is cancelled once termination of the execution context is requested.
// Long callbacks may watch it to return early; the executor never interrupts them.
func (h *Handle) Context() context.Context { return h.r.ctx }

// Spawn runs fn on the execution context as soon as it is free.
func (h *Handle) Spawn(fn Func) error {
	return h.After(0, fn)
}

// After runs fn once on the execution context after d. Negative d means now.
func (h *Handle) After(d time.Duration, fn Func) error {
	if fn == nil {
		return ErrNilFunc
	}
	task := "after"
	if d <= 0 {
		task = "spawn"
	}
	return h.r.submit(task, time.Now().Add(nonNegative(d)), fn)
}
