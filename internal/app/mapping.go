package app

import (
	"fmt"
	"strings"
	"time"

	"cadence/internal/config"
	"cadence/internal/storage"
	"cadence/internal/task/executor"
	"cadence/internal/task/scheduler"
	logx "cadence/pkg/logx"
)

const (
	defaultExecutorName = "cadence"
	defaultStopTimeout  = 5 * time.Second
	defaultBusyTimeout  = time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	policy, err := executor.ParsePanicPolicy(cfg.Executor.PanicPolicy)
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("executor.panic_policy: %w", err)
	}
	stopTimeout, err := config.ParseDurationOrDefault("executor.stop_timeout", cfg.Executor.StopTimeout, defaultStopTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	name := strings.TrimSpace(cfg.Executor.Name)
	if name == "" {
		name = defaultExecutorName
	}
	return scheduler.Config{
		Enabled:     !cfg.Executor.Disabled,
		Name:        name,
		PanicPolicy: policy,
		StopTimeout: stopTimeout,
	}, nil
}

// mapJobs turns enabled job entries into scheduler jobs with their actions bound.
func mapJobs(cfg *config.Config, log logx.Logger) ([]scheduler.Job, error) {
	jobs := make([]scheduler.Job, 0, len(cfg.Jobs))
	for _, jc := range cfg.Jobs {
		if !jc.IsEnabled() {
			continue
		}
		name := strings.TrimSpace(jc.Name)
		spec, err := scheduler.ParseSchedule(jc.Schedule)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", name, err)
		}
		jlog := log.With(logx.String("job", name))

		var run executor.Func
		switch {
		case len(jc.Command) > 0:
			run = scheduler.CommandAction(jlog, name, jc.Command, strings.TrimSpace(jc.Dir))
		default:
			run = scheduler.LogAction(jlog, name, jc.Log)
		}
		jobs = append(jobs, scheduler.Job{
			Name:        name,
			Schedule:    strings.TrimSpace(jc.Schedule),
			Spec:        spec,
			StartSpread: jc.StartSpread,
			Run:         run,
		})
	}
	if err := scheduler.ValidateJobs(jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// mapStorageConfig reports enabled=false when the journal is off.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "file":
		if path == "" {
			path = "./cadence.runs"
		}
		return storage.Config{Driver: driver, Path: path, Retention: sc.Retention}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy, Retention: sc.Retention}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// validateConfig rejects a reloaded config before it is committed.
func validateConfig(cfg *config.Config) error {
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapJobs(cfg, logx.Nop()); err != nil {
		return err
	}
	if _, err := mapDebugConfig(cfg); err != nil {
		return err
	}
	_, _, err := mapStorageConfig(cfg)
	return err
}
