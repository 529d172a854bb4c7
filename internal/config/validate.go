package config

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalid = errors.New("invalid config")

// Validate checks the structural rules that do not need other packages.
// Schedules and panic policies are checked where they are parsed.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrInvalid)
	}
	if _, err := ParseDurationField("executor.stop_timeout", c.Executor.StopTimeout); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for field, raw := range map[string]string{
		"debug.read_timeout":  c.Debug.ReadTimeout,
		"debug.write_timeout": c.Debug.WriteTimeout,
	} {
		if _, err := ParseDurationField(field, raw); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "none", "file", "sqlite":
	default:
		return fmt.Errorf("%w: storage.driver %q (want sqlite, file or none)", ErrInvalid, c.Storage.Driver)
	}
	if c.Storage.Retention < 0 {
		return fmt.Errorf("%w: storage.retention must be >= 0", ErrInvalid)
	}

	seen := make(map[string]struct{}, len(c.Jobs))
	for i, j := range c.Jobs {
		name := strings.TrimSpace(j.Name)
		if name == "" {
			return fmt.Errorf("%w: jobs[%d].name required", ErrInvalid, i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: jobs[%d]: duplicate name %q", ErrInvalid, i, name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(j.Schedule) == "" {
			return fmt.Errorf("%w: job %q: schedule required", ErrInvalid, name)
		}
		hasLog := strings.TrimSpace(j.Log) != ""
		hasCmd := len(j.Command) > 0
		if hasLog == hasCmd {
			return fmt.Errorf("%w: job %q: set exactly one of log or command", ErrInvalid, name)
		}
		if hasCmd && strings.TrimSpace(j.Command[0]) == "" {
			return fmt.Errorf("%w: job %q: empty command", ErrInvalid, name)
		}
	}
	return nil
}
