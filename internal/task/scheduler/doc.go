// Package scheduler maps configured jobs onto a single executor.Executor.
//
// The scheduler is responsible for:
//   - parsing job schedules (fixed-rate / fixed-interval, see ParseSchedule)
//   - owning the executor lifecycle (Start / Stop / Apply)
//   - aggregating per-job run statistics from the event bus
//
// Scheduled tasks cannot be cancelled one by one, so Apply replaces the whole
// executor whenever the job set changes.
package scheduler
