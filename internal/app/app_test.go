package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cadence/internal/config"
	"cadence/internal/storage"
	"cadence/internal/task/executor"
	logx "cadence/pkg/logx"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func configYAML(dir, driver, jobName, schedule string) string {
	return fmt.Sprintf(`
logging:
  level: debug
  file: { enabled: true, path: %q }
executor:
  name: app-test
  stop_timeout: 2s
storage:
  driver: %s
  path: %q
jobs:
  - name: %s
    schedule: %q
    log: tick
`, filepath.Join(dir, "cadence.log"), driver, filepath.Join(dir, "journal.db"), jobName, schedule)
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", d)
}

func TestAppRunsJobsAndJournals(t *testing.T) {
	for _, driver := range []string{"sqlite", "file"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			path := filepath.Join(dir, "cadence.yaml")
			writeConfig(t, path, configYAML(dir, driver, "tick", "rate:50ms"))

			a, err := NewApp(path)
			if err != nil {
				t.Fatalf("NewApp() error: %v", err)
			}
			if err := a.Start(context.Background()); err != nil {
				t.Fatalf("Start() error: %v", err)
			}

			ctx := context.Background()
			waitFor(t, 5*time.Second, func() bool {
				runs, err := a.RecentRuns(ctx, "tick", 3)
				return err == nil && len(runs) == 3
			})
			runs, _ := a.RecentRuns(ctx, "tick", 3)
			if runs[0].Executor != "app-test" || runs[0].Policy != "fixed-rate" {
				t.Fatalf("record = %+v, want executor app-test, fixed-rate", runs[0])
			}
			if !runs[0].Started.After(runs[1].Started) {
				t.Fatalf("records not newest first: %v then %v", runs[0].Started, runs[1].Started)
			}

			snap := a.Snapshot()
			if snap.Scheduler.State != "running" || len(snap.Scheduler.Jobs) != 1 {
				t.Fatalf("snapshot = %+v", snap.Scheduler)
			}

			stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := a.Stop(stopCtx, StopAppStop); err != nil {
				t.Fatalf("Stop() error: %v", err)
			}
			select {
			case <-a.Done():
			default:
				t.Fatal("Done() not closed after Stop")
			}
		})
	}
}

func TestAppReloadReplacesJobs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "cadence.yaml")
	writeConfig(t, path, configYAML(dir, "none", "first", "rate:50ms"))

	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp() error: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer func() { _ = a.Stop(context.Background(), StopAppStop) }()

	if _, err := a.RecentRuns(context.Background(), "first", 1); !errors.Is(err, storage.ErrDisabled) {
		t.Fatalf("RecentRuns() err = %v, want ErrDisabled", err)
	}

	// Let the watcher register before editing.
	time.Sleep(300 * time.Millisecond)
	writeConfig(t, path, configYAML(dir, "none", "second", "interval:50ms"))

	waitFor(t, 10*time.Second, func() bool {
		jobs := a.Snapshot().Scheduler.Jobs
		return len(jobs) == 1 && jobs[0].Name == "second" && jobs[0].Runs > 0
	})
	if got := a.Snapshot().Scheduler.Jobs[0].Policy; got != "fixed-interval" {
		t.Fatalf("policy = %q, want fixed-interval", got)
	}
}

func TestNewAppRejectsBadConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "cadence.yaml")
	writeConfig(t, path, configYAML(dir, "none", "bad", "0 3 * * *"))
	if _, err := NewApp(path); err == nil {
		t.Fatal("NewApp() = nil error for cron schedule")
	}
	if _, err := NewApp(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("NewApp() = nil error for missing file")
	}
}

func TestMapSchedulerConfig(t *testing.T) {
	t.Parallel()
	got, err := mapSchedulerConfig(&config.Config{})
	if err != nil {
		t.Fatalf("mapSchedulerConfig() error: %v", err)
	}
	if !got.Enabled || got.Name != defaultExecutorName || got.StopTimeout != defaultStopTimeout || got.PanicPolicy != executor.RecoverAndContinue {
		t.Fatalf("defaults = %+v", got)
	}

	got, err = mapSchedulerConfig(&config.Config{Executor: config.ExecutorConfig{Name: " x ", PanicPolicy: "Stop", StopTimeout: "1s", Disabled: true}})
	if err != nil {
		t.Fatalf("mapSchedulerConfig() error: %v", err)
	}
	if got.Enabled || got.Name != "x" || got.StopTimeout != time.Second || got.PanicPolicy != executor.RecoverAndStop {
		t.Fatalf("mapped = %+v", got)
	}

	if _, err := mapSchedulerConfig(&config.Config{Executor: config.ExecutorConfig{PanicPolicy: "ignore"}}); err == nil {
		t.Fatal("unknown panic policy accepted")
	}
}

func TestMapJobsSkipsDisabled(t *testing.T) {
	t.Parallel()
	off := false
	cfg := &config.Config{Jobs: []config.JobConfig{
		{Name: "a", Schedule: "rate:1s", Log: "x"},
		{Name: "b", Schedule: "1s", Command: []string{"true"}, Enabled: &off},
		{Name: "c", Schedule: "@every 2s", Command: []string{"true"}, StartSpread: true},
	}}
	jobs, err := mapJobs(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("mapJobs() error: %v", err)
	}
	if len(jobs) != 2 || jobs[0].Name != "a" || jobs[1].Name != "c" {
		t.Fatalf("jobs = %+v, want a and c", jobs)
	}
	if jobs[1].Spec.Policy != executor.FixedRate || jobs[1].Spec.Every != 2*time.Second || !jobs[1].StartSpread {
		t.Fatalf("job c = %+v", jobs[1])
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      config.StorageConfig
		enabled bool
		wantErr bool
	}{
		{name: "off", in: config.StorageConfig{}},
		{name: "none", in: config.StorageConfig{Driver: "none"}},
		{name: "file default path", in: config.StorageConfig{Driver: "file"}, enabled: true},
		{name: "sqlite", in: config.StorageConfig{Driver: "SQLite", Path: "x.db"}, enabled: true},
		{name: "sqlite no path", in: config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "unknown", in: config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, enabled, err := mapStorageConfig(&config.Config{Storage: tt.in})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if enabled != tt.enabled {
				t.Fatalf("enabled = %v, want %v", enabled, tt.enabled)
			}
			if tt.name == "sqlite" && (sc.Driver != "sqlite" || sc.BusyTimeout != defaultBusyTimeout) {
				t.Fatalf("sqlite config = %+v", sc)
			}
		})
	}
}
