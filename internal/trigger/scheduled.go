// internal/trigger/scheduled.go
package trigger

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/colebrumley/cardmask/internal/config"
	"github.com/robfig/cron/v3"
)

// Scheduled fires events on a cron schedule
type Scheduled struct {
	jobName  string
	cronExpr string
	cron     *cron.Cron

	mu     sync.Mutex
	events chan<- Event
}

// NewScheduled creates a new scheduled trigger
func NewScheduled(jobName string, cfg config.Trigger) (*Scheduled, error) {
	c := cron.New(cron.WithSeconds())

	s := &Scheduled{
		jobName: jobName,
		cron:    c,
	}

	s.cronExpr = cfg.CronExpression
	if s.cronExpr == "" {
		expr, err := convertSimpleToCron(cfg.RunEvery, cfg.RunAt)
		if err != nil {
			return nil, err
		}
		s.cronExpr = expr
	}

	if _, err := c.AddFunc(s.cronExpr, s.fire); err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", s.cronExpr, err)
	}

	return s, nil
}

func (s *Scheduled) fire() {
	s.mu.Lock()
	events := s.events
	s.mu.Unlock()
	if events == nil {
		return
	}
	now := time.Now()
	send(events, Event{
		JobName:   s.jobName,
		Type:      "scheduled",
		Timestamp: now,
		Data: map[string]any{
			"schedule": s.cronExpr,
		},
	})
}

func (s *Scheduled) JobName() string {
	return s.jobName
}

// Schedule returns the cron expression in use, including one converted
// from run_every or run_at.
func (s *Scheduled) Schedule() string {
	return s.cronExpr
}

func (s *Scheduled) Start(ctx context.Context, events chan<- Event) error {
	s.mu.Lock()
	s.events = events
	s.mu.Unlock()
	s.cron.Start()

	<-ctx.Done()
	s.cron.Stop()
	return ctx.Err()
}

func (s *Scheduled) Stop() error {
	s.cron.Stop()
	return nil
}

// convertSimpleToCron converts run_every ("30s", "15m", "6h") or run_at
// ("HH:MM", daily) to a cron expression with seconds.
func convertSimpleToCron(runEvery, runAt string) (string, error) {
	if runAt != "" {
		t, err := time.Parse("15:04", runAt)
		if err != nil {
			return "", fmt.Errorf("run_at must be HH:MM, got %q", runAt)
		}
		return fmt.Sprintf("0 %d %d * * *", t.Minute(), t.Hour()), nil
	}

	if runEvery == "" {
		return "0 0 * * * *", nil
	}
	if len(runEvery) < 2 {
		return "", fmt.Errorf("run_every must look like 30s, 15m or 6h, got %q", runEvery)
	}
	val, err := strconv.Atoi(runEvery[:len(runEvery)-1])
	if err != nil || val <= 0 {
		return "", fmt.Errorf("run_every must look like 30s, 15m or 6h, got %q", runEvery)
	}
	switch runEvery[len(runEvery)-1] {
	case 's':
		return fmt.Sprintf("*/%d * * * * *", val), nil
	case 'm':
		return fmt.Sprintf("0 */%d * * * *", val), nil
	case 'h':
		return fmt.Sprintf("0 0 */%d * * *", val), nil
	}
	return "", fmt.Errorf("run_every must look like 30s, 15m or 6h, got %q", runEvery)
}
