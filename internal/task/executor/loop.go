package executor

import "time"

// schedule is one scheduled task. It is immutable once submitted and shared by
// every iteration of its loop.
type schedule struct {
	name     string
	policy   Policy
	interval time.Duration
	fn       Func
}

// iterate runs one pass of the loop and arms the next one.
//
// debt is the fixed-rate lateness carried from the previous pass; it travels by
// value through the armed continuation and is never stored anywhere else.
// iterate returns as soon as the continuation is armed, so the loop runs on the
// dispatch goroutine without growing the stack.
func (s *schedule) iterate(h *Handle, debt time.Duration) {
	r := h.r

	start := time.Now()
	panicked := r.dispatch(s.name, s.fn)
	execution := time.Since(start)

	wait, next := s.nextWait(execution, debt)
	r.publish(TaskEvent{
		Executor: r.name,
		Task:     s.name,
		Policy:   s.policy.String(),
		Interval: s.interval,
		Started:  start,
		Duration: execution,
		Wait:     wait,
		Debt:     next,
		Panicked: panicked,
	})

	// ErrStopped: termination was requested while the callback ran. The loop ends here.
	_ = r.submit(s.name, time.Now().Add(wait), func(h *Handle) {
		s.iterate(h, next)
	})
}

func (s *schedule) nextWait(execution, debt time.Duration) (time.Duration, time.Duration) {
	if s.policy == FixedRate {
		return CalculateDelay(s.interval, execution, debt)
	}
	return intervalDelay(s.interval, execution), 0
}
