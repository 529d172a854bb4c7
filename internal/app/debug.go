package app

import (
	"context"
	"strings"

	"cadence/internal/config"
	"cadence/internal/observability/pprof"
)

func mapDebugConfig(cfg *config.Config) (pprof.Config, error) {
	d := cfg.Debug
	rt, err := config.ParseDurationField("debug.read_timeout", d.ReadTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	wt, err := config.ParseDurationField("debug.write_timeout", d.WriteTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
	}, nil
}

// debugSource exposes the app to the debug server.
type debugSource struct{ a *App }

func (d debugSource) Snapshot() any { return d.a.Snapshot() }

func (d debugSource) RecentRuns(ctx context.Context, job string, limit int) (any, error) {
	return d.a.RecentRuns(ctx, job, limit)
}
