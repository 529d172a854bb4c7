package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"cadence/internal/eventbus"
	"cadence/internal/task/executor"
	logx "cadence/pkg/logx"
)

func mustSpec(t *testing.T, raw string) ParsedSpec {
	t.Helper()
	ps, err := ParseSchedule(raw)
	if err != nil {
		t.Fatalf("ParseSchedule(%q) error: %v", raw, err)
	}
	return ps
}

func counterJob(t *testing.T, name, raw string, n *atomic.Int32) Job {
	return Job{
		Name:     name,
		Schedule: raw,
		Spec:     mustSpec(t, raw),
		Run:      func(*executor.Handle) { n.Add(1) },
	}
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", d)
}

func newTestService(t *testing.T, cfg Config) (*Service, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	s := New(cfg, logx.Nop(), bus)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s, bus
}

func TestServiceRunsJobsAndReportsStats(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, Config{Enabled: true, Name: "svc-test"})

	var fast, slow atomic.Int32
	if err := s.SetJobs([]Job{
		counterJob(t, "fast", "rate:50ms", &fast),
		counterJob(t, "slow", "interval:1h", &slow),
	}); err != nil {
		t.Fatalf("SetJobs() error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		snap := s.Snapshot()
		return len(snap.Jobs) == 2 && snap.Jobs[0].Runs >= 3 && snap.Jobs[1].Runs == 1
	})

	snap := s.Snapshot()
	if snap.Executor != "svc-test" || snap.State != "running" {
		t.Fatalf("snapshot executor=%q state=%q, want svc-test running", snap.Executor, snap.State)
	}
	if got := snap.Jobs[0].Policy; got != "fixed-rate" {
		t.Fatalf("fast policy = %q, want fixed-rate", got)
	}
	if got := snap.Jobs[1].NextDue; got.Before(time.Now().Add(59 * time.Minute)) {
		t.Fatalf("slow NextDue = %v, want about an hour out", got)
	}
	if slow.Load() != 1 {
		t.Fatalf("slow runs = %d, want 1", slow.Load())
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if got := s.Snapshot().State; got != "stopped" {
		t.Fatalf("state after Stop = %q, want stopped", got)
	}
	after := fast.Load()
	time.Sleep(150 * time.Millisecond)
	if fast.Load() != after {
		t.Fatalf("job kept running after Stop: %d -> %d", after, fast.Load())
	}
}

func TestServiceDisabledDoesNotStart(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, Config{Enabled: false})
	var n atomic.Int32
	if err := s.SetJobs([]Job{counterJob(t, "j", "rate:10ms", &n)}); err != nil {
		t.Fatalf("SetJobs() error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if n.Load() != 0 {
		t.Fatalf("disabled scheduler ran job %d times", n.Load())
	}
	if s.Enabled() {
		t.Fatal("Enabled() = true, want false")
	}
}

func TestServiceApplyReplacesExecutor(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, Config{Enabled: true, Name: "apply"})

	var a, b atomic.Int32
	if err := s.SetJobs([]Job{counterJob(t, "a", "rate:20ms", &a)}); err != nil {
		t.Fatalf("SetJobs() error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return a.Load() >= 2 })

	if err := s.Apply(context.Background(), Config{Enabled: true, Name: "apply"}, []Job{counterJob(t, "b", "rate:20ms", &b)}); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return b.Load() >= 2 })

	stopped := a.Load()
	time.Sleep(100 * time.Millisecond)
	if a.Load() != stopped {
		t.Fatalf("old job still running after Apply: %d -> %d", stopped, a.Load())
	}
	snap := s.Snapshot()
	if len(snap.Jobs) != 1 || snap.Jobs[0].Name != "b" {
		t.Fatalf("jobs after Apply = %+v, want only b", snap.Jobs)
	}
}

func TestServiceApplyWaitsForOverrunningJob(t *testing.T) {
	t.Parallel()
	cfg := Config{Enabled: true, Name: "overrun", StopTimeout: 50 * time.Millisecond}
	s, _ := newTestService(t, cfg)

	var inflight, maxInflight, runs atomic.Int32
	job := Job{
		Name:     "sync",
		Schedule: "interval:1h",
		Spec:     mustSpec(t, "interval:1h"),
		Run: func(*executor.Handle) {
			n := inflight.Add(1)
			for {
				m := maxInflight.Load()
				if n <= m || maxInflight.CompareAndSwap(m, n) {
					break
				}
			}
			runs.Add(1)
			time.Sleep(400 * time.Millisecond)
			inflight.Add(-1)
		},
	}
	if err := s.SetJobs([]Job{job}); err != nil {
		t.Fatalf("SetJobs() error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return inflight.Load() == 1 })

	start := time.Now()
	if err := s.Apply(context.Background(), cfg, []Job{job}); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if took := time.Since(start); took < 200*time.Millisecond {
		t.Fatalf("Apply returned after %v, want it to wait for the running job", took)
	}
	waitFor(t, 2*time.Second, func() bool { return runs.Load() >= 2 })
	waitFor(t, 2*time.Second, func() bool { return inflight.Load() == 0 })

	if got := maxInflight.Load(); got != 1 {
		t.Fatalf("max concurrent runs of job sync = %d, want 1", got)
	}
}

func TestServiceApplyGivesUpWithContext(t *testing.T) {
	t.Parallel()
	cfg := Config{Enabled: true, Name: "overrun-ctx", StopTimeout: 20 * time.Millisecond}
	s, _ := newTestService(t, cfg)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	job := Job{
		Name:     "stuck",
		Schedule: "interval:1h",
		Spec:     mustSpec(t, "interval:1h"),
		Run: func(*executor.Handle) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
		},
	}
	if err := s.SetJobs([]Job{job}); err != nil {
		t.Fatalf("SetJobs() error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := s.Apply(ctx, cfg, []Job{job}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Apply() err = %v, want context.DeadlineExceeded", err)
	}
	if got := s.Snapshot().State; got != "stopped" {
		t.Fatalf("state after abandoned Apply = %q, want stopped", got)
	}
}

func TestServiceStartSpreadDelaysFirstRun(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, Config{Enabled: true})

	job := Job{Name: "spread", Schedule: "rate:1s", Spec: mustSpec(t, "rate:1s"), StartSpread: true}
	spread := startupSpread(job.Name, job.Spec.Every)
	if spread < 100*time.Millisecond {
		t.Skipf("spread for %q is only %v", job.Name, spread)
	}
	started := time.Now()
	first := make(chan time.Duration, 1)
	job.Run = func(*executor.Handle) {
		select {
		case first <- time.Since(started):
		default:
		}
	}
	if err := s.SetJobs([]Job{job}); err != nil {
		t.Fatalf("SetJobs() error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	select {
	case got := <-first:
		if got < spread {
			t.Fatalf("first run after %v, want >= %v", got, spread)
		}
	case <-time.After(spread + 5*time.Second):
		t.Fatal("job never ran")
	}
}

func TestValidateJobs(t *testing.T) {
	t.Parallel()
	run := func(*executor.Handle) {}
	spec := ParsedSpec{Policy: executor.FixedRate, Every: time.Second}
	tests := []struct {
		name string
		jobs []Job
		want error
	}{
		{name: "ok", jobs: []Job{{Name: "a", Spec: spec, Run: run}}},
		{name: "nil run", jobs: []Job{{Name: "a", Spec: spec}}, want: executor.ErrNilFunc},
		{name: "zero interval", jobs: []Job{{Name: "a", Run: run}}, want: executor.ErrInvalidInterval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJobs(tt.jobs)
			if tt.want == nil && err != nil {
				t.Fatalf("ValidateJobs() = %v, want nil", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("ValidateJobs() = %v, want %v", err, tt.want)
			}
		})
	}
	if err := ValidateJobs([]Job{{Name: "a", Spec: spec, Run: run}, {Name: "a", Spec: spec, Run: run}}); err == nil {
		t.Fatal("duplicate names accepted")
	}
	if err := ValidateJobs([]Job{{Name: " ", Spec: spec, Run: run}}); err == nil {
		t.Fatal("blank name accepted")
	}
}
