// internal/daemon/daemon.go
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/colebrumley/cardmask/internal/config"
	"github.com/colebrumley/cardmask/internal/executor"
	"github.com/colebrumley/cardmask/internal/logging"
	"github.com/colebrumley/cardmask/internal/metrics"
	"github.com/colebrumley/cardmask/internal/security"
	"github.com/colebrumley/cardmask/internal/state"
	"github.com/colebrumley/cardmask/internal/trigger"
)

const (
	maxStoredOutput    = 10 * 1024
	maxStoredEventData = 1024
	defaultRetryDelay  = 30 * time.Second
)

// Daemon runs masking jobs from their triggers and serves the HTTP API.
type Daemon struct {
	configPath   string
	jobsDir      string
	config       *config.Global
	jobs         map[string]*config.Job
	triggers     map[string]trigger.Trigger
	events       chan trigger.Event
	logger       *slog.Logger
	logCloser    io.Closer
	webhooks     map[string]*trigger.Webhook
	httpServer   *http.Server
	lastRunState map[string]string
	stateDB      *state.DB
	metrics      *metrics.Metrics
	cron         *cron.Cron
	written      *recentPaths
	startTime    time.Time
	mu           sync.RWMutex
	sem          chan struct{}  // concurrency limiter
	wg           sync.WaitGroup // tracks in-flight event handlers
}

// New creates a new daemon instance
func New(configPath, jobsDir string) *Daemon {
	return &Daemon{
		configPath:   configPath,
		jobsDir:      jobsDir,
		jobs:         make(map[string]*config.Job),
		triggers:     make(map[string]trigger.Trigger),
		events:       make(chan trigger.Event, 100),
		webhooks:     make(map[string]*trigger.Webhook),
		lastRunState: make(map[string]string),
		metrics:      metrics.New(),
		written:      newRecentPaths(5 * time.Second),
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Run starts the daemon and blocks until context is cancelled
func (d *Daemon) Run(ctx context.Context) error {
	d.startTime = time.Now()

	if err := d.loadConfig(); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	d.initLogger()
	d.logger.Info("starting daemon", "config", d.configPath, "jobs_dir", d.jobsDir)

	if err := d.initStateDB(); err != nil {
		d.logger.Warn("failed to initialize state database, history will not be recorded", "error", err)
	}

	if err := security.ValidateDirectoryPermissions(d.jobsDir); err != nil {
		d.logger.Error("CRITICAL: jobs directory has unsafe permissions", "error", err, "path", d.jobsDir)
	}

	if err := d.loadJobs(); err != nil {
		return fmt.Errorf("loading jobs: %w", err)
	}
	d.initLastRunStateFromDB()

	if err := d.initTriggers(ctx); err != nil {
		return fmt.Errorf("initializing triggers: %w", err)
	}

	if err := d.startCleanup(); err != nil {
		d.logger.Warn("history cleanup disabled", "error", err)
	}

	go d.startHTTPServer(ctx)
	go d.startHotReload(ctx)

	d.fireLifecycleEvent(trigger.EventDaemonStarted)
	d.logger.Info("daemon started", "jobs_loaded", len(d.jobs))

	d.sem = make(chan struct{}, d.config.JobExecution.MaxConcurrent)

	for {
		select {
		case event := <-d.events:
			d.sem <- struct{}{}
			d.wg.Add(1)
			go func() {
				defer func() {
					<-d.sem
					d.wg.Done()
				}()
				d.handleEvent(ctx, event)
			}()
		case <-ctx.Done():
			d.logger.Info("daemon stopping, waiting for in-flight handlers")
			d.wg.Wait()
			// the parent context is gone; daemon_stopped jobs get their own
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			d.handleLifecycleShutdown(shutdownCtx)
			shutdownCancel()
			return d.shutdown()
		}
	}
}

func (d *Daemon) loadConfig() error {
	cfg, err := config.LoadGlobal(d.configPath)
	if errors.Is(err, fs.ErrNotExist) {
		d.config = config.Default()
		return nil
	}
	if err != nil {
		return err
	}
	d.config = cfg
	return nil
}

// initLogger points the logger at the rotating log file when one is
// configured, falling back to stdout.
func (d *Daemon) initLogger() {
	level := d.config.Daemon.LogLevel
	if d.config.Logging.Debug {
		level = "debug"
	}

	if d.config.Logging.File == "" {
		d.logger = logging.NewLogger(d.config.Logging.Format, level, os.Stdout)
		return
	}

	w, err := logging.NewRotatingWriter(
		config.ExpandHome(d.config.Logging.File),
		int64(d.config.Logging.MaxSizeBytes()),
		d.config.Logging.MaxFiles,
	)
	if err != nil {
		d.logger = logging.NewLogger(d.config.Logging.Format, level, os.Stdout)
		d.logger.Warn("failed to initialize rotating log writer, using stdout", "error", err)
		return
	}
	d.logCloser = w
	d.logger = logging.NewLogger(d.config.Logging.Format, level, w)
}

func (d *Daemon) initStateDB() error {
	db, err := state.Open(config.ExpandHome(d.config.State.Path))
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	d.stateDB = db
	return nil
}

// startCleanup prunes old history now and then on state.cleanup_schedule.
func (d *Daemon) startCleanup() error {
	if d.stateDB == nil {
		return nil
	}
	go d.cleanupHistory()

	d.cron = cron.New(cron.WithSeconds())
	if _, err := d.cron.AddFunc(d.config.State.CleanupSchedule, d.cleanupHistory); err != nil {
		d.cron = nil
		return fmt.Errorf("scheduling cleanup: %w", err)
	}
	d.cron.Start()
	return nil
}

func (d *Daemon) cleanupHistory() {
	deleted, err := d.stateDB.Cleanup(d.config.State.RetentionDays)
	if err != nil {
		d.logger.Warn("state cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		d.logger.Info("cleaned up old run records", "deleted", deleted, "retention_days", d.config.State.RetentionDays)
	}
}

// loadJobs reads and validates the jobs directory. Invalid jobs are logged
// and left out.
func (d *Daemon) loadJobs() error {
	jobs, err := d.readJobs()
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for name, job := range jobs {
		d.jobs[name] = job
	}
	return nil
}

func (d *Daemon) readJobs() (map[string]*config.Job, error) {
	loaded, err := config.LoadJobsDir(d.jobsDir)
	if err != nil {
		return nil, err
	}

	jobs := make(map[string]*config.Job)
	for _, job := range loaded {
		if err := config.ValidateJob(job); err != nil {
			d.logger.Error("skipping invalid job", "error", err)
			continue
		}
		jobs[job.Name] = job
	}
	for _, job := range jobs {
		for _, w := range config.ValidateJobWithGlobal(job, jobs) {
			d.logger.Warn(w)
		}
	}
	return jobs, nil
}

func (d *Daemon) initTriggers(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, job := range d.jobs {
		if !job.Enabled {
			d.logger.Debug("skipping disabled job", "job", job.Name)
			continue
		}
		d.startTrigger(ctx, job)
	}
	return nil
}

// startTrigger creates and starts the trigger of job. d.mu must be held.
func (d *Daemon) startTrigger(ctx context.Context, job *config.Job) {
	t, err := trigger.New(job.Name, job.Trigger)
	if err != nil {
		d.logger.Error("failed to create trigger", "job", job.Name, "error", err)
		return
	}
	d.triggers[job.Name] = t

	switch tt := t.(type) {
	case *trigger.Webhook:
		d.webhooks[tt.ListenPath()] = tt
	case *trigger.Filesystem:
		tt.SetLogger(d.logger)
	}

	go func(t trigger.Trigger) {
		if err := t.Start(ctx, d.events); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("trigger error", "job", t.JobName(), "error", err)
		}
	}(t)
}

// stopTrigger stops and forgets the trigger of a job. d.mu must be held.
func (d *Daemon) stopTrigger(name string) {
	t, ok := d.triggers[name]
	if !ok {
		return
	}
	t.Stop()
	delete(d.triggers, name)
	if wh, ok := t.(*trigger.Webhook); ok {
		delete(d.webhooks, wh.ListenPath())
	}
}

func (d *Daemon) fireLifecycleEvent(eventType string) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, t := range d.triggers {
		if lt, ok := t.(*trigger.Lifecycle); ok {
			lt.Fire(eventType, d.events)
		}
	}
}

// handleLifecycleShutdown runs daemon_stopped jobs directly; the event loop
// has already stopped reading.
func (d *Daemon) handleLifecycleShutdown(ctx context.Context) {
	d.mu.RLock()
	var names []string
	for _, t := range d.triggers {
		if lt, ok := t.(*trigger.Lifecycle); ok && lt.ShouldFireOn(trigger.EventDaemonStopped) {
			names = append(names, lt.JobName())
		}
	}
	d.mu.RUnlock()

	for _, name := range names {
		d.handleEvent(ctx, trigger.Event{
			JobName:   name,
			Type:      trigger.EventDaemonStopped,
			Timestamp: time.Now(),
			Data:      map[string]any{},
		})
	}
}

// handleEvent runs the job an event belongs to, retrying and chaining as
// configured, and returns the final result (nil when nothing ran).
func (d *Daemon) handleEvent(ctx context.Context, event trigger.Event) *executor.Result {
	d.mu.RLock()
	job, ok := d.jobs[event.JobName]
	d.mu.RUnlock()

	if !ok {
		d.logger.Error("job not found for event", "job", event.JobName)
		return nil
	}

	logger := logging.WithJob(d.logger, job.Name)

	if p, ok := event.Data["file_path"].(string); ok && isFilesystemEvent(event.Type) {
		if executor.IsTempFile(p) || d.written.Contains(p) {
			logger.Debug("ignoring event for our own output", "file_path", p)
			return nil
		}
	}

	logger.Info("handling event", "type", event.Type)

	if event.Data == nil {
		event.Data = map[string]any{}
	}
	if _, ok := event.Data["event_type"]; !ok {
		event.Data["event_type"] = event.Type
	}
	if _, ok := event.Data["timestamp"]; !ok {
		event.Data["timestamp"] = event.Timestamp.Format(time.RFC3339)
	}

	if !d.checkDependencies(job) {
		logger.Warn("skipping job, dependencies not met", "depends_on", job.DependsOn)
		return nil
	}

	result, runID := d.runOnce(ctx, job, event, 0)
	switch result.State {
	case executor.StateSuccess:
		d.fireTriggeredJobs(job, event, result, runID)
	case executor.StateCancelled:
		logger.Info("run cancelled (shutdown)")
	case executor.StateSkipped:
		logger.Info("nothing to mask", "reason", result.Error)
	default:
		result = d.handleFailure(ctx, job, event, result)
	}
	return result
}

func isFilesystemEvent(eventType string) bool {
	switch eventType {
	case "file_created", "file_modified", "file_deleted", "directory_created":
		return true
	}
	return false
}

// runOnce executes job and records the run. It returns the run ID, or 0
// when history is unavailable.
func (d *Daemon) runOnce(ctx context.Context, job *config.Job, event trigger.Event, attempt int) (*executor.Result, int64) {
	logger := logging.WithJob(d.logger, job.Name)
	startedAt := time.Now()

	result, err := executor.Execute(ctx, job, event.Data)
	if err != nil {
		result = &executor.Result{
			State:    executor.StateFailure,
			Error:    err.Error(),
			Duration: time.Since(startedAt),
		}
	}

	for _, f := range result.Files {
		if f.Error == "" && f.Output != "" && !job.DryRun {
			d.written.Add(f.Output)
		}
	}

	logger.Info("run complete",
		"state", result.State,
		"duration", result.Duration,
		"files", len(result.Files),
		"matches", result.Stats.Matches,
		"digits_masked", result.Stats.DigitsMasked,
	)
	if result.Error != "" && result.State != executor.StateSkipped {
		logger.Warn("run error", "error", result.Error)
	}

	d.metrics.ObserveRun(job.Name, result.State, result.Duration)
	if !job.DryRun {
		d.metrics.ObserveStats(result.Stats)
	}
	d.recordRunState(job.Name, result.State)
	runID := d.recordRun(job, event, result, startedAt, attempt)
	return result, runID
}

func (d *Daemon) handleFailure(ctx context.Context, job *config.Job, event trigger.Event, last *executor.Result) *executor.Result {
	logger := logging.WithJob(d.logger, job.Name)

	if !job.OnFailure.Retry {
		logger.Error("job failed, no retry configured", "state", last.State, "error", last.Error)
		return last
	}

	maxAttempts := job.OnFailure.RetryAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	delay := time.Duration(job.OnFailure.RetryDelaySeconds) * time.Second
	if delay <= 0 {
		delay = defaultRetryDelay
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		logger.Warn("retrying job",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"previous_error", last.Error,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			logger.Info("retry cancelled (shutdown)", "attempt", attempt)
			return last
		}

		result, runID := d.runOnce(ctx, job, event, attempt)
		switch result.State {
		case executor.StateSuccess:
			logger.Info("retry succeeded", "attempt", attempt)
			d.fireTriggeredJobs(job, event, result, runID)
			return result
		case executor.StateCancelled, executor.StateSkipped:
			return result
		}
		last = result
	}

	logger.Error("job failed after all retries",
		"attempts", maxAttempts,
		"last_error", last.Error,
	)
	return last
}

func (d *Daemon) recordRunState(name, state string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastRunState[name] = state
}

// recordRun stores a run in the state DB and returns its ID.
func (d *Daemon) recordRun(job *config.Job, event trigger.Event, result *executor.Result, startedAt time.Time, attempt int) int64 {
	if d.stateDB == nil {
		return 0
	}

	output := security.ScrubOutput(result.Output)
	if len(output) > maxStoredOutput {
		output = output[:maxStoredOutput]
	}

	eventData := ""
	if event.Data != nil {
		if data, err := json.Marshal(event.Data); err == nil {
			eventData = security.ScrubOutput(string(data))
			if len(eventData) > maxStoredEventData {
				eventData = eventData[:maxStoredEventData]
			}
		}
	}

	var parent int64
	if id, ok := event.Data["triggered_by_run_id"].(int64); ok {
		parent = id
	}

	finished := time.Now()
	rec := state.RunRecord{
		JobName:          job.Name,
		TriggerType:      event.Type,
		State:            result.State,
		StartedAt:        startedAt,
		FinishedAt:       finished,
		DurationMs:       finished.Sub(startedAt).Milliseconds(),
		RetryAttempt:     attempt,
		TriggeredByRunID: parent,
		Files:            len(result.Files),
		BytesIn:          result.Stats.BytesIn,
		BytesOut:         result.Stats.BytesOut,
		Matches:          result.Stats.Matches,
		DigitsMasked:     result.Stats.DigitsMasked,
		EventData:        eventData,
		Error:            security.ScrubOutput(result.Error),
		Output:           output,
		DryRun:           job.DryRun,
	}

	id, err := d.stateDB.RecordRun(rec)
	if err != nil {
		d.logger.Warn("failed to record run", "job", job.Name, "error", err)
		return 0
	}
	return id
}

// initLastRunStateFromDB seeds lastRunState so dependencies survive restarts.
func (d *Daemon) initLastRunStateFromDB() {
	if d.stateDB == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for name := range d.jobs {
		st, err := d.stateDB.GetLastState(name)
		if err != nil {
			d.logger.Warn("could not load state from DB", "job", name, "error", err)
			continue
		}
		if st != "" {
			d.lastRunState[name] = st
		}
	}
}

// checkDependencies reports whether every depends_on_jobs entry last
// finished successfully.
func (d *Daemon) checkDependencies(job *config.Job) bool {
	if len(job.DependsOn) == 0 {
		return true
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, dep := range job.DependsOn {
		if d.lastRunState[dep] != executor.StateSuccess {
			return false
		}
	}
	return true
}

// fireTriggeredJobs queues the triggers_jobs of a successful run. When the
// run produced exactly one output file, its path becomes the downstream
// file_path.
func (d *Daemon) fireTriggeredJobs(job *config.Job, event trigger.Event, result *executor.Result, runID int64) {
	if len(job.Triggers) == 0 {
		return
	}
	logger := logging.WithJob(d.logger, job.Name)

	data := map[string]any{
		"triggered_by":        job.Name,
		"triggered_by_run_id": runID,
	}
	if len(result.Files) == 1 && result.Files[0].Output != "" && !job.DryRun {
		data["file_path"] = result.Files[0].Output
	}

	for _, next := range job.Triggers {
		ev := trigger.Event{
			JobName:   next,
			Type:      "triggered",
			Timestamp: time.Now(),
			Data:      copyData(data),
		}
		select {
		case d.events <- ev:
			logger.Info("triggered job", "triggered_job", next)
		default:
			logger.Warn("event channel full, dropping triggered job", "triggered_job", next)
		}
	}
}

func copyData(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (d *Daemon) shutdown() error {
	if d.cron != nil {
		<-d.cron.Stop().Done()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for name := range d.triggers {
		d.stopTrigger(name)
	}

	if d.stateDB != nil {
		d.stateDB.Close()
	}
	if d.logCloser != nil {
		d.logCloser.Close()
	}
	return nil
}

// RunJob runs one job immediately (for CLI use) and returns its final
// result. History is recorded when the state database can be opened.
func (d *Daemon) RunJob(ctx context.Context, jobName string, data map[string]any) (*executor.Result, error) {
	if err := d.loadConfig(); err != nil {
		return nil, err
	}
	d.logger = logging.NewLogger(d.config.Logging.Format, d.config.Daemon.LogLevel, os.Stderr)

	if err := d.initStateDB(); err != nil {
		d.logger.Warn("history will not be recorded", "error", err)
	} else {
		defer d.stateDB.Close()
	}

	if err := d.loadJobs(); err != nil {
		return nil, err
	}
	d.initLastRunStateFromDB()

	if _, ok := d.jobs[jobName]; !ok {
		return nil, fmt.Errorf("job not found: %s", jobName)
	}

	result := d.handleEvent(ctx, trigger.Event{
		JobName:   jobName,
		Type:      "manual",
		Timestamp: time.Now(),
		Data:      data,
	})
	if result == nil {
		return nil, fmt.Errorf("job %s did not run: dependencies not met", jobName)
	}
	return result, nil
}
