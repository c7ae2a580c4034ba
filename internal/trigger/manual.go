// internal/trigger/manual.go
package trigger

import "github.com/colebrumley/cardmask/internal/config"

// Manual never fires by itself. Jobs with a manual trigger run through
// `cardmask run` or as a downstream of another job.
type Manual struct {
	passive
}

func NewManual(jobName string, _ config.Trigger) (*Manual, error) {
	return &Manual{passive{job: jobName}}, nil
}

// Fire queues a manual run carrying data. Returns false if the channel is full.
func (m *Manual) Fire(events chan<- Event, data map[string]any) bool {
	return send(events, m.event("manual", data))
}
