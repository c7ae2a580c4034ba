// internal/daemon/http.go
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/colebrumley/cardmask/internal/mask"
	"github.com/colebrumley/cardmask/internal/trigger"
)

// Handler builds the daemon's HTTP routes.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", rateLimitHandler(60, d.handleHealth))
	mux.HandleFunc("/api/jobs", rateLimitHandler(30, d.handleAPIJobs))
	mux.HandleFunc("/api/history", rateLimitHandler(30, d.handleAPIHistory))
	mux.HandleFunc("/mask", rateLimitHandler(600, d.handleMask))
	if d.config.Metrics.Enabled {
		mux.Handle(d.config.Metrics.Path, d.metrics.Handler())
	}

	// webhooks (catch-all)
	mux.HandleFunc("/", rateLimitHandler(10, d.handleWebhook))
	return mux
}

func (d *Daemon) startHTTPServer(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", d.config.Daemon.ListenAddress, d.config.Daemon.ListenPort)

	d.httpServer = &http.Server{
		Addr:              addr,
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	d.logger.Info("starting HTTP server", "address", addr)

	go func() {
		if err := d.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.httpServer.Shutdown(shutdownCtx)
}

// HealthStatus is the /health response.
type HealthStatus struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	JobsLoaded  int    `json:"jobs_loaded"`
	JobsEnabled int    `json:"jobs_enabled"`
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	d.mu.RLock()
	resp := HealthStatus{
		Status:     "ok",
		Uptime:     time.Since(d.startTime).Truncate(time.Second).String(),
		JobsLoaded: len(d.jobs),
	}
	for _, job := range d.jobs {
		if job.Enabled {
			resp.JobsEnabled++
		}
	}
	d.mu.RUnlock()

	writeJSON(w, resp)
}

// JobStatus is one entry of the /api/jobs response.
type JobStatus struct {
	Name      string `json:"name"`
	Trigger   string `json:"trigger"`
	Enabled   bool   `json:"enabled"`
	DryRun    bool   `json:"dry_run"`
	LastState string `json:"last_state,omitempty"`
}

func (d *Daemon) handleAPIJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	d.mu.RLock()
	jobs := make([]JobStatus, 0, len(d.jobs))
	for _, job := range d.jobs {
		jobs = append(jobs, JobStatus{
			Name:      job.Name,
			Trigger:   job.Trigger.Type,
			Enabled:   job.Enabled,
			DryRun:    job.DryRun,
			LastState: d.lastRunState[job.Name],
		})
	}
	d.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	writeJSON(w, jobs)
}

func (d *Daemon) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if d.stateDB == nil {
		writeJSON(w, []any{})
		return
	}

	q := r.URL.Query()
	limit := 50
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	if limit > 500 {
		limit = 500
	}

	records, err := d.stateDB.GetHistory(q.Get("job"), q.Get("state"), limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("querying history: %v", err), http.StatusInternalServerError)
		return
	}
	if records == nil {
		writeJSON(w, []any{})
		return
	}
	writeJSON(w, records)
}

// handleMask streams the request body back with card numbers masked.
func (d *Daemon) handleMask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := int64(d.config.Daemon.MaxRequestBytes())
	if r.ContentLength > limit {
		http.Error(w, fmt.Sprintf("request body exceeds %s", humanize.Bytes(uint64(limit))), http.StatusRequestEntityTooLarge)
		return
	}
	body := http.MaxBytesReader(w, r.Body, limit)

	w.Header().Set("Content-Type", "application/octet-stream")
	cw := &countingWriter{w: w}
	stats, err := mask.Copy(r.Context(), cw, body)
	d.metrics.ObserveStats(stats)
	if err == nil {
		return
	}

	var tooLarge *http.MaxBytesError
	if cw.n > 0 {
		// the status line is gone; drop the connection so the client sees a
		// truncated response rather than a short one that looks complete
		d.logger.Warn("mask request failed mid-stream", "error", err, "bytes_written", cw.n)
		panic(http.ErrAbortHandler)
	}
	if errors.As(err, &tooLarge) {
		http.Error(w, fmt.Sprintf("request body exceeds %s", humanize.Bytes(uint64(limit))), http.StatusRequestEntityTooLarge)
		return
	}
	http.Error(w, "reading request body", http.StatusBadRequest)
}

type countingWriter struct {
	w http.ResponseWriter
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (d *Daemon) handleWebhook(w http.ResponseWriter, r *http.Request) {
	d.mu.RLock()
	wh, ok := d.webhooks[r.URL.Path]
	d.mu.RUnlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	switch err := wh.HandleRequest(r, d.events); {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("OK"))
	case errors.Is(err, trigger.ErrMethodNotAllowed):
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	case errors.Is(err, trigger.ErrBadSecret):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, trigger.ErrQueueFull):
		w.Header().Set("Retry-After", "5")
		http.Error(w, "Busy", http.StatusServiceUnavailable)
	default:
		http.Error(w, "Bad request", http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// rateLimitHandler wraps an HTTP handler with a simple token-bucket rate limiter.
func rateLimitHandler(requestsPerMinute int, handler http.HandlerFunc) http.HandlerFunc {
	var mu sync.Mutex
	tokens := requestsPerMinute
	lastRefill := time.Now()

	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		now := time.Now()
		refill := int(now.Sub(lastRefill).Minutes() * float64(requestsPerMinute))
		if refill > 0 {
			tokens = min(tokens+refill, requestsPerMinute)
			lastRefill = now
		}

		if tokens <= 0 {
			mu.Unlock()
			w.Header().Set("Retry-After", "60")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		tokens--
		mu.Unlock()

		handler(w, r)
	}
}
