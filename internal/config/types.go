// internal/config/types.go
package config

// Global configuration loaded from config.yaml
type Global struct {
	Daemon       DaemonConfig  `yaml:"daemon"`
	Logging      LoggingConfig `yaml:"logging"`
	JobExecution JobExecConfig `yaml:"job_execution"`
	State        StateConfig   `yaml:"state"`
	Metrics      MetricsConfig `yaml:"metrics"`
	MCP          MCPConfig     `yaml:"mcp"`
}

type DaemonConfig struct {
	LogLevel       string `yaml:"log_level"`
	ListenAddress  string `yaml:"listen_address"`
	ListenPort     int    `yaml:"listen_port"`
	MaxRequestSize string `yaml:"max_request_size"` // humanized, e.g. "10MB"

	maxRequestBytes uint64
}

// MaxRequestBytes is the parsed max_request_size.
func (c DaemonConfig) MaxRequestBytes() uint64 {
	return c.maxRequestBytes
}

type LoggingConfig struct {
	Format   string `yaml:"format"`
	File     string `yaml:"file"`      // empty logs to stdout
	MaxSize  string `yaml:"max_size"`  // rotate after this many bytes, e.g. "50MB"
	MaxFiles int    `yaml:"max_files"` // compressed generations kept
	Debug    bool   `yaml:"debug"`

	maxSizeBytes uint64
}

// MaxSizeBytes is the parsed max_size.
func (c LoggingConfig) MaxSizeBytes() uint64 {
	return c.maxSizeBytes
}

type JobExecConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

type StateConfig struct {
	Path            string `yaml:"path"`
	RetentionDays   int    `yaml:"retention_days"`
	CleanupSchedule string `yaml:"cleanup_schedule"` // cron expression with seconds
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type MCPConfig struct {
	ListenPort int `yaml:"listen_port"`
}

// Job configuration loaded from individual YAML files
type Job struct {
	Name              string    `yaml:"name"`
	Description       string    `yaml:"description"`
	Enabled           bool      `yaml:"enabled"`
	Trigger           Trigger   `yaml:"trigger"`
	Source            Source    `yaml:"source"`
	Output            Output    `yaml:"output"`
	DryRun            bool      `yaml:"dry_run"`
	DependsOn         []string  `yaml:"depends_on_jobs"`
	Triggers          []string  `yaml:"triggers_jobs"`
	OnFailure         OnFailure `yaml:"on_failure"`
	MaxTimeoutSeconds int       `yaml:"max_timeout_seconds"`
}

type Trigger struct {
	Type string `yaml:"type"`
	// Filesystem
	WatchPaths      []string `yaml:"watch_paths"`
	OnEvents        []string `yaml:"on_events"`
	IgnorePatterns  []string `yaml:"ignore_patterns"`
	DebounceSeconds int      `yaml:"debounce_seconds"`
	Recursive       bool     `yaml:"recursive"`
	// Scheduled
	CronExpression string `yaml:"cron_expression"`
	RunEvery       string `yaml:"run_every"`
	RunAt          string `yaml:"run_at"`
	// Webhook
	ListenPath     string   `yaml:"listen_path"`
	AllowedMethods []string `yaml:"allowed_methods"`
	RequireSecret  bool     `yaml:"require_secret"`
	SecretHeader   string   `yaml:"secret_header"`
	SecretEnvVar   string   `yaml:"secret_env_var"`
	// Lifecycle
	// (uses OnEvents)
}

// Source says what a job masks: files matching Paths (globs, ~ expanded)
// unless the triggering event names a file, or the stdout of Command.
type Source struct {
	Paths   []string `yaml:"paths"`
	Command []string `yaml:"command"`
}

// Output says where masked data goes. Path is a template over the input
// path variables ({{dir}}, {{name}}, {{base}}, {{ext}}, {{path}}); empty
// masks files in place.
type Output struct {
	Path         string `yaml:"path"`
	Overwrite    bool   `yaml:"overwrite"`
	RemoveSource bool   `yaml:"remove_source"`
}

type OnFailure struct {
	Retry             bool `yaml:"retry"`
	RetryAttempts     int  `yaml:"retry_attempts"`
	RetryDelaySeconds int  `yaml:"retry_delay_seconds"`
}
