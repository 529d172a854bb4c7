// Package executor runs periodic callbacks on a single dedicated execution context.
//
// An Executor owns one goroutine, locked to its own OS thread, that hosts a
// cooperative dispatch loop (timers + submissions). Every task scheduled on an
// Executor is multiplexed on that goroutine: callbacks never run in parallel,
// and a callback that blocks stalls every other task on the same Executor.
//
// Two timing disciplines are available:
//   - Fixed interval: after a run finishes, wait interval minus the run time
//     (never negative). A slow run shifts every later run; nothing is made up.
//   - Fixed rate: keep the long-run trigger frequency at 1/interval. Overruns
//     accumulate as debt, repaid by shortening or skipping later waits
//     (see CalculateDelay). Catch-up can fire several runs back to back.
//
// Scheduled tasks are fire-and-forget: they cannot be cancelled one by one.
// The only cancellation surface is stopping the whole Executor:
//   - StopAsync signals termination and returns.
//   - StopSync signals and waits until the goroutine has exited.
//   - Shutdown(ctx) signals and waits, bounded by ctx.
//
// Stopping never preempts a running callback; it takes effect once the
// callback in flight returns.
//
// Panics inside callbacks follow the configured PanicPolicy (default
// RecoverAndContinue: report and keep scheduling).
package executor
