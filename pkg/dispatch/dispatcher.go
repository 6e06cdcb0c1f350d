package dispatch

import (
	"sync"
	"time"
)

type handlerKey struct {
	typ    EventType
	target Target
}

// Dispatcher is the session core's scheduler: one goroutine draws events
// and runs their handler to completion before drawing the next one
// (spec.md §4.2, §5). All methods except AddEvent are meant to be called
// only from inside a handler running on the dispatcher goroutine, or before
// Run starts; AddEvent is the one cross-thread-safe entry point.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[handlerKey]Handler

	queue  *eventQueue
	timers *timerRegistry

	runOnce sync.Once
	done    chan struct{}
}

// New returns a Dispatcher that has not yet started running.
func New() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[handlerKey]Handler),
		queue:    newEventQueue(),
		timers:   newTimerRegistry(),
		done:     make(chan struct{}),
	}
}

// AddHandler registers fn for (typ, target). A duplicate key replaces the
// previous handler.
func (d *Dispatcher) AddHandler(typ EventType, target Target, fn Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[handlerKey{typ, target}] = fn
}

// RemoveHandler unregisters the handler for (typ, target); idempotent.
func (d *Dispatcher) RemoveHandler(typ EventType, target Target) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, handlerKey{typ, target})
}

// RemoveHandlersForTarget removes every handler registered for target
// across all event types, and cancels every timer owned by target. Used
// when a session tears itself down (spec.md §5, "resource release is
// scoped"; §8 property 6).
func (d *Dispatcher) RemoveHandlersForTarget(target Target) {
	d.mu.Lock()
	for key := range d.handlers {
		if key.target == target {
			delete(d.handlers, key)
		}
	}
	d.mu.Unlock()
	d.timers.cancelForTarget(target)
}

// HandlerCount returns how many handlers are registered for target, for
// tests asserting the cleanup invariant.
func (d *Dispatcher) HandlerCount(target Target) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for key := range d.handlers {
		if key.target == target {
			n++
		}
	}
	return n
}

// TimerCount returns how many live timers are owned by target.
func (d *Dispatcher) TimerCount(target Target) int {
	return d.timers.countForTarget(target)
}

// AddEvent enqueues e for delivery. Safe to call from any goroutine.
func (d *Dispatcher) AddEvent(e Event) {
	d.queue.push(e)
}

// NewTimer arms a timer owned by target; it fires an EventTimer{Target:
// target, Data: TimerID} event after d, repeating unless oneShot is set.
func (d *Dispatcher) NewTimer(delay time.Duration, oneShot bool, target Target) TimerID {
	return d.timers.schedule(d.queue, delay, oneShot, target)
}

// DeleteTimer cancels a timer registered with NewTimer.
func (d *Dispatcher) DeleteTimer(id TimerID) {
	d.timers.cancel(id)
}

// Run blocks the calling goroutine, repeatedly drawing the next event and
// invoking its handler, until Stop is called. An event whose (Type,
// Target) has no registered handler is silently dropped (spec.md §4.2).
func (d *Dispatcher) Run() {
	for {
		e, ok := d.queue.pop()
		if !ok {
			return
		}
		d.mu.RLock()
		fn, found := d.handlers[handlerKey{e.Type, e.Target}]
		d.mu.RUnlock()
		if found {
			fn(e)
		}
	}
}

// Stop causes a blocked Run to return once its queue drains. Safe to call
// once; further AddEvent calls after Stop are silently discarded.
func (d *Dispatcher) Stop() {
	d.runOnce.Do(func() {
		d.queue.close()
		close(d.done)
	})
}
