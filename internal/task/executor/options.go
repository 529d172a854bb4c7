package executor

import (
	"context"
	"time"

	"cadence/internal/eventbus"
	logx "cadence/pkg/logx"
)

// DefaultName is the executor name used by New.
const DefaultName = "executor"

const (
	defaultPanicLogEvery = time.Second
	defaultPanicLogBurst = 5
)

type options struct {
	ctx    context.Context
	log    logx.Logger
	bus    eventbus.Bus
	policy PanicPolicy

	panicLogEvery time.Duration
	panicLogBurst int
}

// Option configures an Executor.
type Option func(*options)

// WithContext ties the executor lifetime to ctx: cancelling ctx acts as the
// termination signal. Without it, an executor runs until it is stopped.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

func WithLogger(log logx.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithEventBus publishes a TaskEvent (type EventTaskRun) after every scheduled run.
func WithEventBus(bus eventbus.Bus) Option {
	return func(o *options) { o.bus = bus }
}

func WithPanicPolicy(p PanicPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithPanicLogRate bounds how often recovered panics are logged.
// A callback that panics on every run of a tight fixed-rate catch-up would
// otherwise flood the log.
func WithPanicLogRate(every time.Duration, burst int) Option {
	return func(o *options) {
		o.panicLogEvery = every
		o.panicLogBurst = burst
	}
}

func buildOptions(opts []Option) options {
	o := options{
		panicLogEvery: defaultPanicLogEvery,
		panicLogBurst: defaultPanicLogBurst,
	}
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	if o.ctx == nil {
		o.ctx = context.Background()
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	if o.panicLogEvery <= 0 {
		o.panicLogEvery = defaultPanicLogEvery
	}
	if o.panicLogBurst <= 0 {
		o.panicLogBurst = defaultPanicLogBurst
	}
	if o.policy != RecoverAndStop && o.policy != Repanic {
		o.policy = RecoverAndContinue
	}
	return o
}
