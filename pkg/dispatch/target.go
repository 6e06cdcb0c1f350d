// Package dispatch implements the session core's single-threaded
// cooperative event dispatcher (spec.md §4.2): handler registration keyed
// by (EventType, Target), timers, and a thread-safe post queue.
package dispatch

import "github.com/google/uuid"

// Target is an opaque handler-lookup key. The original InputLeap dispatcher
// uses raw object addresses; this module hands out uuid.UUID values instead
// so targets never alias freed memory (spec.md §9, "Opaque event targets").
type Target uuid.UUID

// NewTarget returns a fresh, process-unique target handle.
func NewTarget() Target {
	return Target(uuid.New())
}

func (t Target) String() string {
	return uuid.UUID(t).String()
}

// EventType identifies the kind of event; the dispatcher does not interpret
// it beyond using it as half of the handler lookup key.
type EventType string
