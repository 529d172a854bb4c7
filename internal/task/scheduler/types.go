package scheduler

import (
	"sync"
	"time"

	"cadence/internal/eventbus"
	rtsup "cadence/internal/runtime/supervisor"
	"cadence/internal/task/executor"
	logx "cadence/pkg/logx"
)

// Config controls the executor the scheduler runs jobs on.
type Config struct {
	Enabled     bool
	Name        string // executor name (pprof label, log field)
	PanicPolicy executor.PanicPolicy
	// StopTimeout bounds how long Stop/Apply wait for a running job to finish.
	// 0 waits without bound.
	StopTimeout time.Duration
}

// Job is one scheduled callback.
type Job struct {
	Name        string
	Schedule    string // raw schedule, kept for diagnostics
	Spec        ParsedSpec
	StartSpread bool
	Run         executor.Func
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	bus eventbus.Bus

	jobs []Job

	ex  *executor.Executor
	sup *rtsup.Supervisor

	stats statsStore
}

// JobInfo is a point-in-time view of one job.
type JobInfo struct {
	Name     string
	Schedule string
	Policy   string
	Every    time.Duration
	Spread   time.Duration

	Runs         uint64
	Panics       uint64
	LastStart    time.Time
	LastDuration time.Duration
	LastWait     time.Duration
	LastDebt     time.Duration
	NextDue      time.Time
}

type Snapshot struct {
	Enabled     bool
	Executor    string
	State       string
	PanicPolicy string
	Err         string
	Jobs        []JobInfo
}
