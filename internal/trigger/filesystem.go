// internal/trigger/filesystem.go
package trigger

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/colebrumley/cardmask/internal/config"
	"github.com/fsnotify/fsnotify"
)

// Filesystem watches directories for file events
type Filesystem struct {
	jobName         string
	watchPaths      []string
	onEvents        map[string]bool
	ignorePatterns  []string
	debounceSeconds int
	recursive       bool
	watcher         *fsnotify.Watcher
	logger          *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	started bool
	stopped bool
}

// NewFilesystem creates a new filesystem trigger. Without on_events it
// fires on file_created and file_modified.
func NewFilesystem(jobName string, cfg config.Trigger) (*Filesystem, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	onEvents := make(map[string]bool)
	for _, e := range cfg.OnEvents {
		onEvents[e] = true
	}
	if len(onEvents) == 0 {
		onEvents["file_created"] = true
		onEvents["file_modified"] = true
	}

	var watchPaths []string
	for _, p := range cfg.WatchPaths {
		watchPaths = append(watchPaths, config.ExpandHome(p))
	}

	return &Filesystem{
		jobName:         jobName,
		watchPaths:      watchPaths,
		onEvents:        onEvents,
		ignorePatterns:  cfg.IgnorePatterns,
		debounceSeconds: cfg.DebounceSeconds,
		recursive:       cfg.Recursive,
		watcher:         watcher,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		pending:         make(map[string]*time.Timer),
	}, nil
}

// SetLogger sets where watcher errors are reported. Call it before Start.
func (f *Filesystem) SetLogger(logger *slog.Logger) {
	f.logger = logger
}

func (f *Filesystem) JobName() string {
	return f.jobName
}

func (f *Filesystem) Start(ctx context.Context, events chan<- Event) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return errors.New("filesystem trigger already started")
	}
	f.started = true
	f.mu.Unlock()

	for _, path := range f.watchPaths {
		if err := f.add(path); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-f.watcher.Events:
			if !ok {
				return nil
			}
			f.handleEvent(event, events)
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return nil
			}
			// fsnotify.ErrEventOverflow means events were lost; the watch
			// itself keeps running.
			f.logger.Warn("filesystem watch error", "job", f.jobName, "error", err)
		}
	}
}

// add watches path, and every directory below it when recursive.
func (f *Filesystem) add(path string) error {
	if !f.recursive {
		return f.watcher.Add(path)
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return f.watcher.Add(p)
		}
		return nil
	})
}

func (f *Filesystem) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for path, timer := range f.pending {
		timer.Stop()
		delete(f.pending, path)
	}
	if f.stopped {
		return nil
	}
	f.stopped = true
	return f.watcher.Close()
}

func (f *Filesystem) handleEvent(fsEvent fsnotify.Event, events chan<- Event) {
	var eventType string
	switch {
	case fsEvent.Op&fsnotify.Create != 0:
		if info, err := os.Stat(fsEvent.Name); err == nil && info.IsDir() {
			eventType = "directory_created"
			if f.recursive {
				_ = f.add(fsEvent.Name)
			}
		} else {
			eventType = "file_created"
		}
	case fsEvent.Op&fsnotify.Write != 0:
		eventType = "file_modified"
	case fsEvent.Op&fsnotify.Remove != 0:
		eventType = "file_deleted"
	default:
		return
	}

	if !f.onEvents[eventType] {
		return
	}

	filename := filepath.Base(fsEvent.Name)
	for _, pattern := range f.ignorePatterns {
		if matched, _ := filepath.Match(pattern, filename); matched {
			return
		}
	}

	if f.debounceSeconds > 0 {
		f.debounce(fsEvent.Name, eventType, events)
		return
	}

	f.sendEvent(fsEvent.Name, eventType, events)
}

// debounce coalesces bursts of writes to one path; masking a file that is
// still being written would see a truncated copy.
func (f *Filesystem) debounce(path, eventType string, events chan<- Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		return
	}
	if timer, exists := f.pending[path]; exists {
		timer.Stop()
	}

	f.pending[path] = time.AfterFunc(time.Duration(f.debounceSeconds)*time.Second, func() {
		f.mu.Lock()
		delete(f.pending, path)
		f.mu.Unlock()
		f.sendEvent(path, eventType, events)
	})
}

func (f *Filesystem) sendEvent(path, eventType string, events chan<- Event) {
	send(events, Event{
		JobName:   f.jobName,
		Type:      eventType,
		Timestamp: time.Now(),
		Data: map[string]any{
			"file_path":  path,
			"file_name":  filepath.Base(path),
			"event_type": eventType,
		},
	})
}
