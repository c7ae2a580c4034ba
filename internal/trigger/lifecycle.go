// internal/trigger/lifecycle.go
package trigger

import (
	"fmt"
	"slices"

	"github.com/colebrumley/cardmask/internal/config"
)

// Lifecycle fires when the daemon starts or stops.
type Lifecycle struct {
	passive
	on []string
}

// NewLifecycle builds a lifecycle trigger subscribed to cfg.OnEvents.
func NewLifecycle(jobName string, cfg config.Trigger) (*Lifecycle, error) {
	for _, e := range cfg.OnEvents {
		if e != EventDaemonStarted && e != EventDaemonStopped {
			return nil, fmt.Errorf("unknown lifecycle event %q", e)
		}
	}
	return &Lifecycle{passive: passive{job: jobName}, on: slices.Clone(cfg.OnEvents)}, nil
}

func (l *Lifecycle) ShouldFireOn(eventType string) bool {
	return slices.Contains(l.on, eventType)
}

// Fire queues eventType for the job if subscribed. It reports false when
// the job is not subscribed or the channel is full.
func (l *Lifecycle) Fire(eventType string, events chan<- Event) bool {
	return l.ShouldFireOn(eventType) && send(events, l.event(eventType, nil))
}
