package dispatch

import (
	"sync"
	"time"
)

// TimerID identifies a timer registered with NewTimer.
type TimerID uuid16

// uuid16 avoids importing uuid twice for a plain comparable ID type; timers
// are identified the same way targets are (spec.md §9).
type uuid16 = Target

type timerEntry struct {
	id      TimerID
	target  Target
	oneShot bool
	timer   *time.Timer
}

type timerRegistry struct {
	mu     sync.Mutex
	active map[TimerID]*timerEntry
}

func newTimerRegistry() *timerRegistry {
	return &timerRegistry{active: make(map[TimerID]*timerEntry)}
}

// schedule arms a timer that, on firing, pushes EventTimer{Data: id} onto q
// and, unless one-shot, reschedules itself.
func (r *timerRegistry) schedule(q *eventQueue, d time.Duration, oneShot bool, target Target) TimerID {
	id := TimerID(NewTarget())
	entry := &timerEntry{id: id, target: target, oneShot: oneShot}

	var fire func()
	fire = func() {
		r.mu.Lock()
		_, stillActive := r.active[id]
		r.mu.Unlock()
		if !stillActive {
			return
		}
		q.push(Event{Type: EventTimer, Target: target, Data: id})

		if !oneShot {
			r.mu.Lock()
			if e, ok := r.active[id]; ok {
				e.timer = time.AfterFunc(d, fire)
			}
			r.mu.Unlock()
		} else {
			r.mu.Lock()
			delete(r.active, id)
			r.mu.Unlock()
		}
	}

	entry.timer = time.AfterFunc(d, fire)
	r.mu.Lock()
	r.active[id] = entry
	r.mu.Unlock()
	return id
}

func (r *timerRegistry) cancel(id TimerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.active[id]; ok {
		e.timer.Stop()
		delete(r.active, id)
	}
}

// cancelForTarget cancels every timer owned by target, used by
// RemoveHandlersForTarget to satisfy the "handler cleanup" invariant
// (spec.md §8 property 6).
func (r *timerRegistry) cancelForTarget(target Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.active {
		if e.target == target {
			e.timer.Stop()
			delete(r.active, id)
		}
	}
}

func (r *timerRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *timerRegistry) countForTarget(target Target) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.active {
		if e.target == target {
			n++
		}
	}
	return n
}
