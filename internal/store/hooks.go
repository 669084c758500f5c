package store

import "time"

// Hooks captures backend-level observability events.
type Hooks interface {
	ObserveOperation(op, status string, dur time.Duration)
	IncConflict(op string)
}

type noopHooks struct{}

func (noopHooks) ObserveOperation(string, string, time.Duration) {}
func (noopHooks) IncConflict(string)                             {}

// NoopHooks discards every event.
func NoopHooks() Hooks { return noopHooks{} }

// Status buckets an operation result for metrics labels.
func Status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsConflict(err):
		return "conflict"
	default:
		return "error"
	}
}
