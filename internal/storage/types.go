package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// DefaultRetention caps in-memory reads of the file driver when Retention is 0.
const DefaultRetention = 1000

// Config configures storage. An empty Driver or "none" disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 keeps the driver default
	// Retention is the number of records kept per job; 0 keeps all (sqlite)
	// or DefaultRetention (file).
	Retention int
}

// RunRecord is one completed task iteration.
type RunRecord struct {
	Executor string        `json:"executor"`
	Job      string        `json:"job"`
	Policy   string        `json:"policy"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Wait     time.Duration `json:"wait"`
	Debt     time.Duration `json:"debt"`
	Panicked bool          `json:"panicked,omitempty"`
}
