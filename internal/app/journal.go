package app

import (
	"context"
	"time"

	"cadence/internal/eventbus"
	"cadence/internal/storage"
	"cadence/internal/task/executor"
	logx "cadence/pkg/logx"
)

const journalDrainTimeout = time.Second

func runRecord(ev executor.TaskEvent) storage.RunRecord {
	return storage.RunRecord{
		Executor: ev.Executor,
		Job:      ev.Task,
		Policy:   ev.Policy,
		Started:  ev.Started,
		Duration: ev.Duration,
		Wait:     ev.Wait,
		Debt:     ev.Debt,
		Panicked: ev.Panicked,
	}
}

// journalWriter appends every task.run event to the store. On cancellation
// it flushes what is already buffered before returning.
type journalWriter struct {
	store  storage.Store
	log    logx.Logger
	events <-chan eventbus.Event
}

func (w *journalWriter) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return nil
		case e, ok := <-w.events:
			if !ok {
				return nil
			}
			w.write(ctx, e)
		}
	}
}

func (w *journalWriter) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), journalDrainTimeout)
	defer cancel()
	for {
		select {
		case e, ok := <-w.events:
			if !ok {
				return
			}
			w.write(ctx, e)
		default:
			return
		}
	}
}

func (w *journalWriter) write(ctx context.Context, e eventbus.Event) {
	if e.Type != executor.EventTaskRun {
		return
	}
	ev, ok := e.Data.(executor.TaskEvent)
	if !ok {
		return
	}
	if err := w.store.AppendRun(ctx, runRecord(ev)); err != nil && ctx.Err() == nil {
		w.log.Warn("run journal append failed", logx.String("job", ev.Task), logx.Err(err))
	}
}
