package scheduler

import (
	"hash/fnv"
	"time"
)

const maxStartupSpread = 30 * time.Second

// startupSpread returns the delay before a job's first run when start_spread is
// set. It is bounded by min(every, maxStartupSpread) and stable per job name, so
// restarts and reloads keep the same offsets instead of reshuffling them.
func startupSpread(name string, every time.Duration) time.Duration {
	spreadMax := every
	if spreadMax > maxStartupSpread {
		spreadMax = maxStartupSpread
	}
	if spreadMax <= 0 {
		return 0
	}
	return time.Duration(fnv64a(name) % uint64(spreadMax))
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
