// Package transport defines the SecureStream and Listener capabilities
// spec.md §6 places outside this module's scope ("TLS/TCP socket
// implementation... addressed via SecureStream, Listener... capabilities")
// and names the dispatcher event types for a stream's state changes. Two
// implementations live in subpackages: transport/tcptls (the
// default, stdlib net+crypto/tls) and transport/webrtc (a NAT-traversing
// alternative built on pion/webrtc data channels).
package transport

import "github.com/deskbridge/deskbridge/pkg/dispatch"

// Result is the outcome of one read or write call on a SecureStream.
type Result int

const (
	// OK means n bytes were transferred; n may be zero.
	OK Result = iota
	// WouldBlock means the call did not block but made no progress; the
	// caller should wait for the corresponding readiness event.
	WouldBlock
	// Closed means the stream is closed and no further I/O is possible.
	Closed
)

// SecureStream is spec.md §6's Transport capability: a byte stream whose
// confidentiality and authenticity are the implementation's responsibility,
// not the session's.
type SecureStream interface {
	Read(into []byte) (n int, result Result, err error)
	Write(bytes []byte) (n int, result Result, err error)
	Close() error
}

// Listener accepts inbound SecureStream connections.
type Listener interface {
	Accept() (SecureStream, error)
	Close() error
	Addr() string
}

// Event types for a stream's state changes (spec.md §6 "Transport
// capability... events"). Neither transport/tcptls nor transport/webrtc
// posts them, and the session packages register no handlers for them;
// sessions learn of stream state from their own blocking reads and writes.
const (
	EventSocketConnected     dispatch.EventType = "transport.SocketConnected"
	EventSocketDisconnected  dispatch.EventType = "transport.SocketDisconnected"
	EventStreamInputReady    dispatch.EventType = "transport.StreamInputReady"
	EventStreamInputShutdown dispatch.EventType = "transport.StreamInputShutdown"
	EventStreamOutputError   dispatch.EventType = "transport.StreamOutputError"
	EventStreamOutputShutdown dispatch.EventType = "transport.StreamOutputShutdown"
	EventSocketStopRetry     dispatch.EventType = "transport.SocketStopRetry"
)
