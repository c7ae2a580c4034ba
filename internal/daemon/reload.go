// internal/daemon/reload.go
package daemon

import (
	"context"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/colebrumley/cardmask/internal/config"
	"github.com/colebrumley/cardmask/internal/security"
)

// startHotReload watches the jobs directory and reloads jobs one second
// after the last YAML change.
func (d *Daemon) startHotReload(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.logger.Error("could not create jobs watcher", "error", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(d.jobsDir); err != nil {
		d.logger.Error("could not watch jobs directory", "error", err, "dir", d.jobsDir)
		return
	}

	d.logger.Info("hot-reload watcher started", "dir", d.jobsDir)

	var debounceTimer *time.Timer
	debounceCh := make(chan struct{}, 1)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			ext := filepath.Ext(event.Name)
			if ext != ".yaml" && ext != ".yml" {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(time.Second, func() {
				select {
				case debounceCh <- struct{}{}:
				default:
				}
			})

		case <-debounceCh:
			d.logger.Info("reloading jobs (hot-reload)")
			d.reloadJobs(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.logger.Error("jobs watcher error", "error", err)

		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}

// reloadJobs swaps in the current contents of the jobs directory,
// restarting only the triggers whose job changed.
func (d *Daemon) reloadJobs(ctx context.Context) {
	if err := security.ValidateDirectoryPermissions(d.jobsDir); err != nil {
		d.logger.Error("CRITICAL: jobs directory has unsafe permissions during reload", "error", err)
		return
	}

	newJobs, err := d.readJobs()
	if err != nil {
		d.logger.Error("failed to reload jobs", "error", err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for name := range d.jobs {
		if _, exists := newJobs[name]; !exists {
			d.logger.Info("stopping trigger for removed job", "job", name)
			d.stopTrigger(name)
			delete(d.jobs, name)
		}
	}

	for name, job := range newJobs {
		old, existed := d.jobs[name]
		d.jobs[name] = job

		if !job.Enabled {
			d.stopTrigger(name)
			continue
		}

		_, running := d.triggers[name]
		if existed && running && triggerEqual(old.Trigger, job.Trigger) {
			continue
		}

		d.stopTrigger(name)
		d.startTrigger(ctx, job)
		d.logger.Info("reloaded trigger", "job", name)
	}

	d.logger.Info("jobs reloaded", "jobs_loaded", len(newJobs))
}

func triggerEqual(a, b config.Trigger) bool {
	return a.Type == b.Type &&
		a.CronExpression == b.CronExpression &&
		a.RunEvery == b.RunEvery &&
		a.RunAt == b.RunAt &&
		a.DebounceSeconds == b.DebounceSeconds &&
		a.Recursive == b.Recursive &&
		a.ListenPath == b.ListenPath &&
		a.RequireSecret == b.RequireSecret &&
		a.SecretHeader == b.SecretHeader &&
		a.SecretEnvVar == b.SecretEnvVar &&
		slices.Equal(a.WatchPaths, b.WatchPaths) &&
		slices.Equal(a.OnEvents, b.OnEvents) &&
		slices.Equal(a.IgnorePatterns, b.IgnorePatterns) &&
		slices.Equal(a.AllowedMethods, b.AllowedMethods)
}

// recentPaths remembers files the daemon itself wrote so the filesystem
// events they cause do not start another run.
type recentPaths struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

func newRecentPaths(ttl time.Duration) *recentPaths {
	return &recentPaths{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

func (r *recentPaths) Add(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for p, t := range r.seen {
		if now.Sub(t) > r.ttl {
			delete(r.seen, p)
		}
	}
	r.seen[filepath.Clean(path)] = now
}

func (r *recentPaths) Contains(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.seen[filepath.Clean(path)]
	return ok && r.now().Sub(t) <= r.ttl
}
