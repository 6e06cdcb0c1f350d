package transport

import (
	"sync"
	"time"

	"github.com/deskbridge/deskbridge/pkg/netmux"
)

// ListenerSocket adapts a Listener to netmux.Socket so a session server's
// accept loop can be serviced by the multiplexer's single background
// goroutine instead of a dedicated blocking-Accept goroutine of its own
// (spec.md §4.3: "the listener binds, advertises interest via the
// multiplexer, and on acceptance produces an UnknownProxy"). It works with
// any Listener implementation (transport/tcptls, transport/webrtc), not
// just a bare net.Listener.
//
// Listener.Accept has no non-blocking variant, so a background goroutine
// does the actual blocking Accept and hands each SecureStream to Poll via a
// channel; Poll itself never blocks longer than the timeout the multiplexer
// passes it, which is the readiness contract netmux.Socket requires.
type ListenerSocket struct {
	ln      Listener
	streams chan SecureStream
	errCh   chan error

	mu      sync.Mutex
	pending SecureStream
}

// NewListenerSocket wraps ln and starts its background accept loop.
func NewListenerSocket(ln Listener) *ListenerSocket {
	s := &ListenerSocket{
		ln:      ln,
		streams: make(chan SecureStream),
		errCh:   make(chan error, 1),
	}
	go s.acceptLoop()
	return s
}

func (s *ListenerSocket) acceptLoop() {
	for {
		stream, err := s.ln.Accept()
		if err != nil {
			s.errCh <- err
			return
		}
		s.streams <- stream
	}
}

// Poll implements netmux.Socket.
func (s *ListenerSocket) Poll(want netmux.Interest, timeout time.Duration) (netmux.Interest, error) {
	if !want.Readable {
		return netmux.Interest{}, nil
	}
	select {
	case stream := <-s.streams:
		s.mu.Lock()
		s.pending = stream
		s.mu.Unlock()
		return netmux.Interest{Readable: true}, nil
	case err := <-s.errCh:
		return netmux.Interest{Error: true}, err
	case <-time.After(timeout):
		return netmux.Interest{}, nil
	}
}

// Next returns the SecureStream that made the most recent Poll call report
// Readable, or nil if none is pending.
func (s *ListenerSocket) Next() SecureStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.pending
	s.pending = nil
	return c
}

// Close closes the underlying listener, ending the accept loop.
func (s *ListenerSocket) Close() error { return s.ln.Close() }

// ServeAccept registers a job on mux that drains ls via the multiplexer's
// service goroutine and calls accept with every SecureStream it produces.
// It runs until ls reports an error (typically because Close was called),
// at which point onClosed is invoked with that error.
func ServeAccept(mux *netmux.Multiplexer, ls *ListenerSocket, accept func(SecureStream), onClosed func(error)) {
	var job *netmux.Job
	job = &netmux.Job{
		Socket:   ls,
		Interest: netmux.Interest{Readable: true},
		Run: func(ready netmux.Interest, err error) netmux.JobResult {
			if err != nil {
				if onClosed != nil {
					onClosed(err)
				}
				return netmux.JobResult{Next: nil}
			}
			if ready.Readable {
				if stream := ls.Next(); stream != nil {
					accept(stream)
				}
			}
			return netmux.JobResult{Next: job}
		},
	}
	mux.AddSocket("listener", job)
}
