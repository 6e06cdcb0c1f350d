package dispatch

// Event is a tagged value delivered to exactly one handler, looked up by
// (Type, Target). Targets are opaque identities; the dispatcher never
// dereferences them (spec.md §3).
type Event struct {
	Type   EventType
	Target Target
	Data   any
}

// Handler processes one event to completion; handlers run on the
// dispatcher goroutine and must never block on I/O (spec.md §5).
type Handler func(Event)

// EventTimer is the event type synthesized when a timer registered via
// NewTimer fires. Its Data field carries the TimerID.
const EventTimer EventType = "dispatch.Timer"
