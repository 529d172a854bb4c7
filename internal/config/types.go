package config

// Config is the daemon configuration file, JSON or YAML.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Executor ExecutorConfig `json:"executor"`
	Storage  StorageConfig  `json:"storage"`
	Debug    DebugConfig    `json:"debug"`
	Jobs     []JobConfig    `json:"jobs"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    FileLogConfig `json:"file"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type ExecutorConfig struct {
	Name string `json:"name"`
	// PanicPolicy is one of "continue" (default), "stop" or "repanic".
	PanicPolicy string `json:"panic_policy"`
	// StopTimeout bounds the wait for a running job on stop and reload.
	StopTimeout string `json:"stop_timeout"`
	// Disabled keeps the daemon up with no jobs running.
	Disabled bool `json:"disabled,omitempty"`
}

type StorageConfig struct {
	// Driver is "sqlite", "file" or "" (journal off).
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout"`
	// Retention caps journal rows per job; 0 keeps everything.
	Retention int `json:"retention"`
}

// DebugConfig controls the diagnostics HTTP server (pprof, snapshot, runs).
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
}

type JobConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Enabled  *bool  `json:"enabled,omitempty"`

	// Exactly one action: Log or Command.
	Log     string   `json:"log,omitempty"`
	Command []string `json:"command,omitempty"`
	Dir     string   `json:"dir,omitempty"`

	StartSpread bool `json:"start_spread,omitempty"`
}

// IsEnabled defaults to true when the field is omitted.
func (j JobConfig) IsEnabled() bool { return j.Enabled == nil || *j.Enabled }
