// Package netmux implements the session core's socket multiplexer
// (spec.md §4.3): one service goroutine services N registered sockets via
// per-socket jobs that advertise interest and react to readiness
// transitions.
//
// The original InputLeap multiplexer keeps iteration safe under concurrent
// mutation with a sentinel "cursor" threaded through a linked list. This
// implementation takes the alternative spec.md §9 explicitly sanctions:
// each service cycle copies a snapshot of the job list before dispatching,
// so concurrent AddSocket/RemoveSocket calls never corrupt an in-flight
// cycle and simply take effect on the next one.
package netmux

import (
	"sync"
	"time"
)

// Interest describes which of a socket's readiness transitions a job wants
// to hear about.
type Interest struct {
	Readable bool
	Writable bool
	Error    bool
}

// Socket is the minimal capability netmux needs from a registered
// connection. Real readiness detection belongs to the OS event buffer /
// transport boundary (spec.md §6); Poll is where that boundary is crossed.
// It should return promptly (within timeout) whether or not anything in
// want became ready, so the service goroutine can re-check the job list
// between sockets without starving mutations.
type Socket interface {
	Poll(want Interest, timeout time.Duration) (ready Interest, err error)
}

// JobResult is what a job's Run returns after handling a readiness
// transition: Next is nil to remove the job, or a (possibly the same) Job
// to keep servicing the socket with a new interest.
type JobResult struct {
	Next *Job
}

// Job is a registered socket's interest and reaction function.
type Job struct {
	Socket   Socket
	Interest Interest
	Run      func(ready Interest, err error) JobResult
}

type jobEntry struct {
	key string
	job *Job
}

// Multiplexer services every registered socket from one background
// goroutine.
type Multiplexer struct {
	mu      sync.Mutex
	order   []string
	entries map[string]*jobEntry

	pollTimeout time.Duration
	stopCh      chan struct{}
	stopped     sync.Once
	wg          sync.WaitGroup
}

// New returns a Multiplexer whose service goroutine has not yet started.
// pollTimeout bounds how long a single socket's Poll call may block,
// controlling how quickly the service loop notices newly added/removed
// sockets; it has no effect on correctness, only latency.
func New(pollTimeout time.Duration) *Multiplexer {
	if pollTimeout <= 0 {
		pollTimeout = 20 * time.Millisecond
	}
	return &Multiplexer{
		entries:     make(map[string]*jobEntry),
		pollTimeout: pollTimeout,
		stopCh:      make(chan struct{}),
	}
}

// AddSocket registers job for key, replacing any existing job for that key.
func (m *Multiplexer) AddSocket(key string, job *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[key]; !exists {
		m.order = append(m.order, key)
	}
	m.entries[key] = &jobEntry{key: key, job: job}
}

// RemoveSocket unregisters key's job, if any.
func (m *Multiplexer) RemoveSocket(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[key]; !exists {
		return
	}
	delete(m.entries, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Count returns the number of currently registered sockets.
func (m *Multiplexer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// snapshot copies the current job list so a service cycle can iterate it
// without holding the lock across blocking Poll calls.
func (m *Multiplexer) snapshot() []*jobEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*jobEntry, 0, len(m.order))
	for _, k := range m.order {
		if e, ok := m.entries[k]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Start launches the service goroutine.
func (m *Multiplexer) Start() {
	m.wg.Add(1)
	go m.serviceLoop()
}

// Stop signals the service goroutine to exit and waits for it.
func (m *Multiplexer) Stop() {
	m.stopped.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Multiplexer) serviceLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		for _, e := range m.snapshot() {
			select {
			case <-m.stopCh:
				return
			default:
			}
			m.serviceOne(e)
		}
	}
}

func (m *Multiplexer) serviceOne(e *jobEntry) {
	job := e.job
	if job.Interest == (Interest{}) {
		return
	}
	ready, err := job.Socket.Poll(job.Interest, m.pollTimeout)
	if err == nil && ready == (Interest{}) {
		return // nothing happened within this slice; move to next socket
	}

	result := job.Run(ready, err)

	m.mu.Lock()
	defer m.mu.Unlock()
	current, stillRegistered := m.entries[e.key]
	if !stillRegistered || current.job != job {
		// Removed or replaced concurrently by another goroutine since the
		// snapshot was taken; the concurrent change wins.
		return
	}
	if result.Next == nil {
		delete(m.entries, e.key)
		for i, k := range m.order {
			if k == e.key {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
		return
	}
	current.job = result.Next
}
