// internal/trigger/trigger.go
package trigger

import (
	"context"
	"time"
)

// Lifecycle event types the daemon emits.
const (
	EventDaemonStarted = "daemon_started"
	EventDaemonStopped = "daemon_stopped"
)

// Event represents a trigger event
type Event struct {
	JobName   string
	Type      string
	Timestamp time.Time
	Data      map[string]any
}

// Trigger is the interface all triggers must implement
type Trigger interface {
	// Start begins watching for events, sending them to the channel
	Start(ctx context.Context, events chan<- Event) error
	// Stop stops the trigger
	Stop() error
	// JobName returns the name of the job this trigger belongs to
	JobName() string
}

// passive is embedded by triggers that never produce events on their own;
// the daemon fires them explicitly.
type passive struct {
	job string
}

func (p passive) JobName() string { return p.job }

func (p passive) Start(ctx context.Context, _ chan<- Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func (p passive) Stop() error { return nil }

func (p passive) event(kind string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{JobName: p.job, Type: kind, Timestamp: time.Now(), Data: data}
}

// send delivers ev without blocking; it reports false when the channel is
// full and the event was dropped.
func send(events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	default:
		return false
	}
}
