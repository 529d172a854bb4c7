package scheduler

import (
	"context"
	"sync"

	"cadence/internal/eventbus"
	"cadence/internal/task/executor"
)

type jobStats struct {
	runs   uint64
	panics uint64
	last   executor.TaskEvent
}

// statsStore aggregates TaskEvents per job. It is diagnostics only.
type statsStore struct {
	mu sync.Mutex
	m  map[string]*jobStats
}

func (st *statsStore) observe(ev executor.TaskEvent) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.m == nil {
		st.m = map[string]*jobStats{}
	}
	js := st.m[ev.Task]
	if js == nil {
		js = &jobStats{}
		st.m[ev.Task] = js
	}
	js.runs++
	if ev.Panicked {
		js.panics++
	}
	js.last = ev
}

func (st *statsStore) get(name string) (jobStats, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	js, ok := st.m[name]
	if !ok {
		return jobStats{}, false
	}
	return *js, true
}

// retain drops stats of jobs no longer configured.
func (st *statsStore) retain(jobs []Job) {
	keep := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		keep[j.Name] = struct{}{}
	}
	st.mu.Lock()
	for name := range st.m {
		if _, ok := keep[name]; !ok {
			delete(st.m, name)
		}
	}
	st.mu.Unlock()
}

func (st *statsStore) consume(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type != executor.EventTaskRun {
				continue
			}
			if ev, ok := e.Data.(executor.TaskEvent); ok {
				st.observe(ev)
			}
		}
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	jobs := append([]Job(nil), s.jobs...)
	ex := s.ex
	s.mu.Unlock()

	snap := Snapshot{
		Enabled:     cfg.Enabled,
		Executor:    cfg.Name,
		State:       executor.StateStopped.String(),
		PanicPolicy: cfg.PanicPolicy.String(),
	}
	if ex != nil {
		snap.Executor = ex.Name()
		snap.State = ex.State().String()
		if err := ex.Err(); err != nil {
			snap.Err = err.Error()
		}
	}

	snap.Jobs = make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		it := JobInfo{
			Name:     j.Name,
			Schedule: j.Schedule,
			Policy:   j.Spec.Policy.String(),
			Every:    j.Spec.Every,
		}
		if j.StartSpread {
			it.Spread = startupSpread(j.Name, j.Spec.Every)
		}
		if js, ok := s.stats.get(j.Name); ok {
			it.Runs = js.runs
			it.Panics = js.panics
			it.LastStart = js.last.Started
			it.LastDuration = js.last.Duration
			it.LastWait = js.last.Wait
			it.LastDebt = js.last.Debt
			it.NextDue = js.last.Started.Add(js.last.Duration + js.last.Wait)
		}
		snap.Jobs = append(snap.Jobs, it)
	}
	return snap
}
