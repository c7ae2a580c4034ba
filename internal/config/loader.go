// internal/config/loader.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ErrInvalidJob wraps every job validation failure.
var ErrInvalidJob = errors.New("invalid job")

// Environment overrides.
const (
	EnvConfig  = "CARDMASK_CONFIG"
	EnvJobsDir = "CARDMASK_JOBS_DIR"
	EnvStateDB = "CARDMASK_STATE_DB"
	EnvMCPPort = "CARDMASK_MCP_PORT"
)

// LoadGlobal loads the global configuration from a YAML file
func LoadGlobal(path string) (*Global, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Global
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	if err := applyGlobalDefaults(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads a .env file sitting next to the config file, if any.
// Variables already set in the environment win.
func LoadDotEnv(configPath string) (bool, error) {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err != nil {
		return false, nil
	}
	if err := godotenv.Load(envPath); err != nil {
		return false, fmt.Errorf("loading %s: %w", envPath, err)
	}
	return true, nil
}

// LoadJob loads a job configuration from a YAML file
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading job file: %w", err)
	}

	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parsing job file: %w", err)
	}

	return &job, nil
}

// LoadJobsDir loads all jobs from a directory
func LoadJobsDir(dir string) ([]*Job, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading jobs directory: %w", err)
	}

	var jobs []*Job
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		job, err := LoadJob(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("loading job %s: %w", entry.Name(), err)
		}
		if prev, dup := seen[job.Name]; dup && job.Name != "" {
			return nil, fmt.Errorf("job %q defined in both %s and %s", job.Name, prev, entry.Name())
		}
		seen[job.Name] = entry.Name()
		jobs = append(jobs, job)
	}

	return jobs, nil
}

var validTriggerTypes = map[string]bool{
	"filesystem": true,
	"scheduled":  true,
	"webhook":    true,
	"lifecycle":  true,
	"manual":     true,
}

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateJob checks that a job has everything its trigger and source need.
// It fills in retry_attempts when retry is enabled without a count.
func ValidateJob(job *Job) error {
	if job.Name == "" {
		return fmt.Errorf("%w: job name is required", ErrInvalidJob)
	}
	if job.Trigger.Type == "" {
		return fmt.Errorf("%w: %s: trigger type is required", ErrInvalidJob, job.Name)
	}
	if !validTriggerTypes[job.Trigger.Type] {
		return fmt.Errorf("%w: %s: invalid trigger type %q", ErrInvalidJob, job.Name, job.Trigger.Type)
	}

	switch job.Trigger.Type {
	case "filesystem":
		if len(job.Trigger.WatchPaths) == 0 {
			return fmt.Errorf("%w: %s: filesystem trigger requires watch_paths", ErrInvalidJob, job.Name)
		}
	case "scheduled":
		t := job.Trigger
		if t.CronExpression == "" && t.RunEvery == "" && t.RunAt == "" {
			return fmt.Errorf("%w: %s: scheduled trigger requires cron_expression, run_every or run_at", ErrInvalidJob, job.Name)
		}
		if t.CronExpression != "" {
			if _, err := cronParser.Parse(t.CronExpression); err != nil {
				return fmt.Errorf("%w: %s: bad cron_expression: %v", ErrInvalidJob, job.Name, err)
			}
		}
	case "webhook":
		if job.Trigger.ListenPath == "" {
			return fmt.Errorf("%w: %s: webhook trigger requires listen_path", ErrInvalidJob, job.Name)
		}
		if !strings.HasPrefix(job.Trigger.ListenPath, "/") {
			return fmt.Errorf("%w: %s: listen_path must start with /", ErrInvalidJob, job.Name)
		}
		if job.Trigger.RequireSecret && job.Trigger.SecretEnvVar == "" {
			return fmt.Errorf("%w: %s: require_secret needs secret_env_var", ErrInvalidJob, job.Name)
		}
	case "lifecycle":
		if len(job.Trigger.OnEvents) == 0 {
			return fmt.Errorf("%w: %s: lifecycle trigger requires on_events", ErrInvalidJob, job.Name)
		}
		for _, e := range job.Trigger.OnEvents {
			if e != "daemon_started" && e != "daemon_stopped" {
				return fmt.Errorf("%w: %s: unknown lifecycle event %q", ErrInvalidJob, job.Name, e)
			}
		}
	}

	if len(job.Source.Paths) > 0 && len(job.Source.Command) > 0 {
		return fmt.Errorf("%w: %s: source takes paths or command, not both", ErrInvalidJob, job.Name)
	}
	if len(job.Source.Paths) == 0 && len(job.Source.Command) == 0 &&
		job.Trigger.Type != "filesystem" && job.Trigger.Type != "webhook" {
		return fmt.Errorf("%w: %s: source paths or command is required", ErrInvalidJob, job.Name)
	}
	if len(job.Source.Command) > 0 && job.Output.Path == "" {
		return fmt.Errorf("%w: %s: command source requires output path", ErrInvalidJob, job.Name)
	}
	if job.Output.RemoveSource && job.Output.Path == "" {
		return fmt.Errorf("%w: %s: remove_source requires an output path", ErrInvalidJob, job.Name)
	}
	for _, dep := range job.DependsOn {
		if dep == job.Name {
			return fmt.Errorf("%w: %s: job depends on itself", ErrInvalidJob, job.Name)
		}
	}

	if job.OnFailure.Retry && job.OnFailure.RetryAttempts <= 0 {
		job.OnFailure.RetryAttempts = 3
	}
	return nil
}

// ValidateJobWithGlobal returns warnings about a job in the context of the
// global config and the other loaded jobs.
func ValidateJobWithGlobal(job *Job, jobs map[string]*Job) []string {
	var warnings []string
	for _, dep := range job.DependsOn {
		if _, ok := jobs[dep]; !ok {
			warnings = append(warnings, fmt.Sprintf("job %s depends on unknown job %s", job.Name, dep))
		}
	}
	for _, next := range job.Triggers {
		if _, ok := jobs[next]; !ok {
			warnings = append(warnings, fmt.Sprintf("job %s triggers unknown job %s", job.Name, next))
		}
	}
	if job.Trigger.Type == "webhook" {
		for _, other := range jobs {
			if other.Name != job.Name && other.Trigger.Type == "webhook" && other.Trigger.ListenPath == job.Trigger.ListenPath {
				warnings = append(warnings, fmt.Sprintf("jobs %s and %s share listen_path %s", job.Name, other.Name, job.Trigger.ListenPath))
			}
		}
	}
	return warnings
}

func applyEnvOverrides(cfg *Global) {
	if v := os.Getenv(EnvStateDB); v != "" {
		cfg.State.Path = v
	}
	if v := os.Getenv(EnvMCPPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MCP.ListenPort = port
		}
	}
}

func applyGlobalDefaults(cfg *Global) error {
	if cfg.Daemon.LogLevel == "" {
		cfg.Daemon.LogLevel = "info"
	}
	if cfg.Daemon.ListenPort == 0 {
		cfg.Daemon.ListenPort = 9876
	}
	if cfg.Daemon.ListenAddress == "" {
		cfg.Daemon.ListenAddress = "127.0.0.1"
	}
	if cfg.Daemon.MaxRequestSize == "" {
		cfg.Daemon.MaxRequestSize = "10MB"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.MaxSize == "" {
		cfg.Logging.MaxSize = "50MB"
	}
	if cfg.Logging.MaxFiles <= 0 {
		cfg.Logging.MaxFiles = 5
	}
	if cfg.JobExecution.MaxConcurrent <= 0 {
		cfg.JobExecution.MaxConcurrent = 10
	}
	if cfg.State.RetentionDays <= 0 {
		cfg.State.RetentionDays = 90
	}
	if cfg.State.CleanupSchedule == "" {
		cfg.State.CleanupSchedule = "0 0 3 * * *"
	}
	if cfg.State.Path == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			cfg.State.Path = filepath.Join(dir, "cardmask", "history.db")
		}
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.MCP.ListenPort == 0 {
		cfg.MCP.ListenPort = 9877
	}

	n, err := humanize.ParseBytes(cfg.Daemon.MaxRequestSize)
	if err != nil {
		return fmt.Errorf("parsing daemon.max_request_size: %w", err)
	}
	cfg.Daemon.maxRequestBytes = n

	n, err = humanize.ParseBytes(cfg.Logging.MaxSize)
	if err != nil {
		return fmt.Errorf("parsing logging.max_size: %w", err)
	}
	cfg.Logging.maxSizeBytes = n

	if _, err := cronParser.Parse(cfg.State.CleanupSchedule); err != nil {
		return fmt.Errorf("parsing state.cleanup_schedule: %w", err)
	}
	return nil
}

// Default returns a Global with every default applied, for callers that run
// without a config file.
func Default() *Global {
	var cfg Global
	applyEnvOverrides(&cfg)
	_ = applyGlobalDefaults(&cfg)
	return &cfg
}
