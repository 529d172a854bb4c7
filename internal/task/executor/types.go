package executor

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Func is a scheduled callback. It receives the Handle of the execution context
// it runs on, so it can submit further work to the same context.
type Func func(h *Handle)

// Policy selects the timing discipline of a scheduled task.
type Policy int

const (
	FixedInterval Policy = iota
	FixedRate
)

func (p Policy) String() string {
	switch p {
	case FixedInterval:
		return "fixed-interval"
	case FixedRate:
		return "fixed-rate"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// State is the lifecycle state of an execution context.
//
//	Created -> Running -> TerminationRequested -> Stopped
//
// Stopped is terminal.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateTerminationRequested
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateTerminationRequested:
		return "termination_requested"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// stateCell only moves forward through the lifecycle.
type stateCell struct{ v atomic.Int32 }

func (c *stateCell) load() State { return State(c.v.Load()) }

// advance moves to next if next is later than the current state.
func (c *stateCell) advance(next State) bool {
	for {
		cur := c.v.Load()
		if State(cur) >= next {
			return false
		}
		if c.v.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}

// PanicPolicy decides what happens when a callback panics.
type PanicPolicy int

const (
	// RecoverAndContinue reports the panic and keeps the task scheduled as if the
	// run had returned normally.
	RecoverAndContinue PanicPolicy = iota
	// RecoverAndStop reports the panic, records it (Executor.Err) and stops the
	// whole executor.
	RecoverAndStop
	// Repanic reports the panic and panics again on the executor goroutine,
	// which terminates the process.
	Repanic
)

func (p PanicPolicy) String() string {
	switch p {
	case RecoverAndContinue:
		return "continue"
	case RecoverAndStop:
		return "stop"
	case Repanic:
		return "repanic"
	default:
		return fmt.Sprintf("panic_policy(%d)", int(p))
	}
}

// ParsePanicPolicy maps a config value to a PanicPolicy. Empty means RecoverAndContinue.
func ParsePanicPolicy(s string) (PanicPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continue", "recover":
		return RecoverAndContinue, nil
	case "stop":
		return RecoverAndStop, nil
	case "repanic", "crash":
		return Repanic, nil
	default:
		return 0, fmt.Errorf("unknown panic policy %q (use continue, stop or repanic)", s)
	}
}

// EventTaskRun is the event bus type published after every scheduled run.
const EventTaskRun = "task.run"

// TaskEvent describes one finished run of a scheduled task.
//
// It is published for observation only; the scheduling loop never reads it back.
type TaskEvent struct {
	Executor string        `json:"executor"`
	Task     string        `json:"task"`
	Policy   string        `json:"policy"`
	Interval time.Duration `json:"interval"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Wait     time.Duration `json:"wait"`
	Debt     time.Duration `json:"debt"`
	Panicked bool          `json:"panicked,omitempty"`
}
