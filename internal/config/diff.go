package config

import (
	"reflect"
	"sort"
	"strings"

	logx "cadence/pkg/logx"
)

// SummarizeConfigChange returns the changed sections, log fields describing
// the new values, and the names of jobs added, removed or modified.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		attrs   []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}

	oe, ne := oldCfg.Executor, newCfg.Executor
	if strings.TrimSpace(oe.Name) != strings.TrimSpace(ne.Name) ||
		!strings.EqualFold(strings.TrimSpace(oe.PanicPolicy), strings.TrimSpace(ne.PanicPolicy)) ||
		strings.TrimSpace(oe.StopTimeout) != strings.TrimSpace(ne.StopTimeout) ||
		oe.Disabled != ne.Disabled {
		changed = append(changed, "executor")
		attrs = append(attrs,
			logx.String("executor.name", ne.Name),
			logx.String("executor.panic_policy", ne.PanicPolicy),
			logx.String("executor.stop_timeout", ne.StopTimeout),
			logx.Bool("executor.disabled", ne.Disabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
			logx.Int("storage.retention", newCfg.Storage.Retention),
		)
	}

	// Never log the token.
	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", newCfg.Debug.Addr),
			logx.Bool("debug.token_set", newCfg.Debug.Token != ""),
		)
	}

	jobs := changedJobs(oldCfg.Jobs, newCfg.Jobs)
	if len(jobs) > 0 {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.count", len(newCfg.Jobs)),
			logx.Strings("jobs.changed", jobs),
		)
	}
	return changed, attrs, jobs
}

func changedJobs(oldJobs, newJobs []JobConfig) []string {
	index := func(js []JobConfig) map[string]JobConfig {
		m := make(map[string]JobConfig, len(js))
		for _, j := range js {
			m[strings.TrimSpace(j.Name)] = j
		}
		return m
	}
	om, nm := index(oldJobs), index(newJobs)

	var out []string
	for name, nj := range nm {
		if oj, ok := om[name]; !ok || !reflect.DeepEqual(oj, nj) {
			out = append(out, name)
		}
	}
	for name := range om {
		if _, ok := nm[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
