// Package client implements the outbound side of a session (spec.md §4.4):
// resolving an address, connecting, performing the handshake, handling
// server messages, and driving the local screen. Grounded on the
// teacher's receiver/sender goroutine-plus-dispatcher split: one dedicated
// reader goroutine posts events, and session-state changes after the
// connection is dialed happen in dispatcher handlers. Connect itself sets
// the Resolving, Connecting and AwaitingHello states, the stream and the
// connect timer from its own goroutines, under c.mu.
package client

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/deskbridge/deskbridge/pkg/chunked"
	"github.com/deskbridge/deskbridge/pkg/clipboard"
	"github.com/deskbridge/deskbridge/pkg/concurrency"
	"github.com/deskbridge/deskbridge/pkg/dispatch"
	"github.com/deskbridge/deskbridge/pkg/integrity"
	"github.com/deskbridge/deskbridge/pkg/screen"
	"github.com/deskbridge/deskbridge/pkg/wire"
)

// State is one of the client session's six reachable states (spec.md §3
// invariant: "A client session is in exactly one of...").
type State int

const (
	Idle State = iota
	Resolving
	Connecting
	AwaitingHello
	Active
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Resolving:
		return "Resolving"
	case Connecting:
		return "Connecting"
	case AwaitingHello:
		return "AwaitingHello"
	case Active:
		return "Active"
	case Disconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// Stream is the minimal capability a session needs from its transport: a
// blocking byte stream. transport.SecureStream implementations that are
// themselves non-blocking (e.g. transport/webrtc) are expected to be
// wrapped in a small blocking adapter before being handed here; the
// tcptls.Stream's underlying net.Conn satisfies this directly.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// Dialer opens a Stream to addr.
type Dialer func(addr string) (Stream, error)

// Event types the client posts to itself on its own target.
const (
	EventHelloReceived dispatch.EventType = "client.HelloReceived"
	EventFrameReceived dispatch.EventType = "client.FrameReceived"
	EventStreamClosed  dispatch.EventType = "client.StreamClosed"
	EventConnected     dispatch.EventType = "client.Connected"
	EventDisconnected  dispatch.EventType = "client.Disconnected"
	EventConnectFailed dispatch.EventType = "client.ConnectionFailed"
	EventSuspend       dispatch.EventType = "client.Suspend"
	EventResume        dispatch.EventType = "client.Resume"
)

// ConnectionFailed is the data carried by EventConnectFailed,
// EventStreamClosed and EventDisconnected.
type ConnectionFailed struct {
	Message string
	Retry   bool
}

// Client is one client-side session (spec.md §4.4).
type Client struct {
	name       string
	minVersion wire.Version
	screen     screen.LocalScreen
	dispatcher *dispatch.Dispatcher
	target     dispatch.Target
	dial       Dialer

	connectTimeout time.Duration

	mu              sync.Mutex
	state           State
	stream          Stream
	wasConnected    bool
	restartable     bool
	lastAddr        string
	connectTimer    dispatch.TimerID
	hasConnectTimer bool
	ownership       *clipboard.Ownership
	clipTx          map[clipboard.ID]uint32

	fileAsm *chunked.Assembler
	clipAsm map[clipboard.ID]*chunked.Assembler
	fileTx  *chunked.Manager

	connectGuard *concurrency.ConcurrencyGuard
}

// New returns an Idle Client. The dispatcher must already be running
// (Dispatcher.Run) on its own goroutine.
func New(name string, minVersion wire.Version, d *dispatch.Dispatcher, ls screen.LocalScreen, dial Dialer, connectTimeout time.Duration) *Client {
	c := &Client{
		name:           name,
		minVersion:     minVersion,
		screen:         ls,
		dispatcher:     d,
		target:         dispatch.NewTarget(),
		dial:           dial,
		connectTimeout: connectTimeout,
		state:          Idle,
		ownership:      clipboard.NewOwnership(),
		clipTx:         make(map[clipboard.ID]uint32),
		clipAsm:        make(map[clipboard.ID]*chunked.Assembler),
		fileTx:         chunked.NewManager(),
		connectGuard:   concurrency.NewConcurrencyGuard(),
	}
	d.AddHandler(EventHelloReceived, c.target, c.onHelloReceived)
	d.AddHandler(EventFrameReceived, c.target, c.onFrameReceived)
	d.AddHandler(EventStreamClosed, c.target, c.onStreamClosed)
	d.AddHandler(EventConnectFailed, c.target, c.onConnectFailed)
	d.AddHandler(EventSuspend, c.target, c.onSuspend)
	d.AddHandler(EventResume, c.target, c.onResume)
	d.AddHandler(dispatch.EventTimer, c.target, c.onTimer)
	c.registerChunkHandlers()
	return c
}

// SendFile streams path to the server as a chunked DFTR sequence, the
// client-initiated direction of spec.md §4.6's transfer, interrupting
// whatever send this client already has in flight (spec.md §3 invariant
// 3). name carries the signed manifest's declared name when signer is
// non-nil; done, if non-nil, is called with the signed manifest (or nil if
// signer is nil) once the send finishes or fails. The server interrupts
// this send in turn on the next CINN it routes to this client (spec.md
// §4.4: "on server-initiated enter... if a file send was in progress,
// interrupts it").
func (c *Client) SendFile(path string, totalSize int64, r io.Reader, signer *integrity.Signer, done func(*integrity.SignedManifest, error)) {
	if signer == nil {
		c.fileTx.SendFile(c.dispatcher, c.target, r, totalSize, func(err error) {
			if done != nil {
				done(nil, err)
			}
		})
		return
	}
	c.fileTx.SendSignedFile(c.dispatcher, c.target, path, r, totalSize, signer, done)
}

// Target returns the opaque dispatch target this client's handlers and
// events are registered under; callers wanting to observe Connected,
// Disconnected or ConnectionFailed events should AddHandler against it.
func (c *Client) Target() dispatch.Target { return c.target }

// State returns the client's current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetRestartable controls whether the client reconnects automatically
// after a transport failure (spec.md §7: "a client retries connection if
// restartable is set").
func (c *Client) SetRestartable(r bool) { c.mu.Lock(); c.restartable = r; c.mu.Unlock() }

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Connect dials addr and begins the handshake. Dialing and the connection's
// entire read loop run on a dedicated goroutine guarded by connectGuard, so
// a Connect call made while one is already in flight is rejected outright
// rather than racing two streams onto the same session. The Resolving,
// Connecting and AwaitingHello transitions, the stream and the connect timer
// are set from the calling goroutine and the connect goroutine (under c.mu),
// not from a dispatcher handler; later state changes happen in handlers.
func (c *Client) Connect(addr string) {
	c.setState(Resolving)
	c.mu.Lock()
	c.lastAddr = addr
	c.mu.Unlock()

	go func() {
		err := c.connectGuard.Execute(func() error {
			c.setState(Connecting)
			stream, err := c.dial(addr)
			if err != nil {
				return err
			}

			c.mu.Lock()
			c.stream = stream
			c.mu.Unlock()
			c.setState(AwaitingHello)

			c.mu.Lock()
			c.connectTimer = c.dispatcher.NewTimer(c.connectTimeout, true, c.target)
			c.hasConnectTimer = true
			c.mu.Unlock()

			c.runReader(stream)
			return nil
		})
		if errors.Is(err, concurrency.ErrBusy) {
			slog.Debug("client: Connect called while a connection attempt is already in flight")
			return
		}
		if err != nil {
			c.dispatcher.AddEvent(dispatch.Event{
				Type: EventConnectFailed, Target: c.target,
				Data: ConnectionFailed{Message: err.Error(), Retry: true},
			})
		}
	}()
}

// runReader is the dedicated per-connection goroutine spec.md §5 sanctions
// ("transfer producer threads... only allowed to call
// dispatcher.add_event"): it only ever reads and posts events, never
// touches session state directly.
func (c *Client) runReader(stream Stream) {
	hello, err := wire.ReadHello(stream)
	if err != nil {
		c.dispatcher.AddEvent(dispatch.Event{
			Type: EventStreamClosed, Target: c.target,
			Data: ConnectionFailed{Message: err.Error(), Retry: true},
		})
		return
	}
	c.dispatcher.AddEvent(dispatch.Event{Type: EventHelloReceived, Target: c.target, Data: hello})

	for {
		frame, err := wire.ReadFrame(stream)
		if err != nil {
			retry := !errors.Is(err, io.EOF)
			c.dispatcher.AddEvent(dispatch.Event{
				Type: EventStreamClosed, Target: c.target,
				Data: ConnectionFailed{Message: err.Error(), Retry: retry},
			})
			return
		}
		c.dispatcher.AddEvent(dispatch.Event{Type: EventFrameReceived, Target: c.target, Data: frame})
	}
}

// onTimer fires for every timer owned by c.target; the connect timer is
// currently the only one, so any firing means the handshake did not
// complete in time.
func (c *Client) onTimer(e dispatch.Event) {
	id := e.Data.(dispatch.TimerID)
	c.mu.Lock()
	isConnectTimer := c.hasConnectTimer && id == c.connectTimer
	c.mu.Unlock()
	if !isConnectTimer {
		return
	}
	if c.State() == Active {
		return
	}
	c.dispatcher.AddEvent(dispatch.Event{
		Type: EventConnectFailed, Target: c.target,
		Data: ConnectionFailed{Message: "handshake timed out", Retry: true},
	})
}

func (c *Client) onConnectFailed(e dispatch.Event) {
	cf := e.Data.(ConnectionFailed)
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream != nil {
		stream.Close()
	}
	c.teardown()
	c.dispatcher.AddEvent(dispatch.Event{Type: EventDisconnected, Target: c.target, Data: cf})
}

func (c *Client) onStreamClosed(e dispatch.Event) {
	// A prior handler (onConnectFailed, or onHelloReceived's version-gate
	// rejection) may have already closed the stream and torn the session
	// down; the resulting read error surfacing here is then a redundant
	// notification of a teardown already reported, not a new one.
	if s := c.State(); s == Disconnecting || s == Idle {
		return
	}

	cf := e.Data.(ConnectionFailed)
	wasActive := c.State() == Active
	c.teardown()
	c.dispatcher.AddEvent(dispatch.Event{Type: EventDisconnected, Target: c.target, Data: cf})

	c.mu.Lock()
	restart := c.restartable
	addr := c.lastAddr
	c.mu.Unlock()
	if restart && wasActive {
		c.Connect(addr)
	}
}

// onHelloReceived implements spec.md §4.4's handshake steps 2–3: compare
// versions, then reply HelloBack or fail.
func (c *Client) onHelloReceived(e dispatch.Event) {
	hello := e.Data.(wire.Hello)

	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return
	}

	if hello.Version.Less(c.minVersion) {
		stream.Close()
		c.teardown()
		c.dispatcher.AddEvent(dispatch.Event{
			Type: EventDisconnected, Target: c.target,
			Data: ConnectionFailed{Message: "server is incompatible", Retry: false},
		})
		return
	}

	if err := wire.WriteHelloBack(stream, wire.HelloBack{Version: hello.Version, Name: c.name}); err != nil {
		slog.Warn("client: write hello-back", "error", err)
		stream.Close()
		c.teardown()
		c.dispatcher.AddEvent(dispatch.Event{
			Type: EventDisconnected, Target: c.target,
			Data: ConnectionFailed{Message: err.Error(), Retry: true},
		})
		return
	}

	c.mu.Lock()
	c.state = Active
	c.wasConnected = true
	if c.hasConnectTimer {
		c.dispatcher.DeleteTimer(c.connectTimer)
		c.hasConnectTimer = false
	}
	c.mu.Unlock()
	c.screen.Enable()
	c.dispatcher.AddEvent(dispatch.Event{Type: EventConnected, Target: c.target})
}

// onFrameReceived implements spec.md §4.4's active-state behavior for
// every inbound message code.
func (c *Client) onFrameReceived(e dispatch.Event) {
	frame := e.Data.(wire.Frame)
	if c.State() != Active {
		return
	}

	switch frame.Code {
	case wire.CodeNop:
		// no-op

	case wire.CodeKeepAlive:
		// echo it, so the server resets its missed-keepalive count
		c.write(wire.CodeKeepAlive, nil)

	case wire.CodeEnter:
		m, err := wire.DecodeEnterScreen(frame.Payload)
		if err != nil {
			slog.Warn("client: malformed CINN", "error", err)
			return
		}
		c.fileTx.Interrupt()
		c.screen.Enter(screen.KeyModifierMask(m.Mask))
		c.screen.MouseMove(int32(m.X), int32(m.Y))

	case wire.CodeLeave:
		for id := clipboard.Clipboard; id < clipboard.End; id++ {
			if c.ownership.Owns(id) {
				c.pushClipboard(id)
			}
		}
		c.screen.Leave()

	case wire.CodeScreensaver:
		if m, err := wire.DecodeScreensaver(frame.Payload); err == nil {
			c.screen.Screensaver(m.On != 0)
		}

	case wire.CodeResetOptions:
		c.screen.ResetOptions()

	case wire.CodeKeyDown:
		if m, err := wire.DecodeKeyEvent(frame.Payload); err == nil {
			c.screen.KeyDown(m.Key, screen.KeyModifierMask(m.Mask), m.Button)
		}
	case wire.CodeKeyUp:
		if m, err := wire.DecodeKeyEvent(frame.Payload); err == nil {
			c.screen.KeyUp(m.Key, screen.KeyModifierMask(m.Mask), m.Button)
		}
	case wire.CodeKeyRepeat:
		if m, err := wire.DecodeKeyRepeat(frame.Payload); err == nil {
			c.screen.KeyRepeat(m.Key, screen.KeyModifierMask(m.Mask), m.Count, m.Button)
		}
	case wire.CodeMouseDown:
		if m, err := wire.DecodeMouseButton(frame.Payload); err == nil {
			c.screen.MouseDown(uint8(m.Button))
		}
	case wire.CodeMouseUp:
		if m, err := wire.DecodeMouseButton(frame.Payload); err == nil {
			c.screen.MouseUp(uint8(m.Button))
		}
	case wire.CodeMouseMove:
		if m, err := wire.DecodeMouseMove(frame.Payload); err == nil {
			c.screen.MouseMove(int32(m.X), int32(m.Y))
		}
	case wire.CodeMouseRel:
		if m, err := wire.DecodeMouseRelMove(frame.Payload); err == nil {
			c.screen.MouseRelativeMove(int32(m.DX), int32(m.DY))
		}
	case wire.CodeMouseWheel:
		if m, err := wire.DecodeMouseWheel(frame.Payload); err == nil {
			c.screen.MouseWheel(int32(m.XDelta), int32(m.YDelta))
		}

	case wire.CodeQueryInfo:
		shape := c.screen.GetShape()
		cursor := c.screen.GetCursorPos()
		info := wire.ScreenInfo{
			X: int16(shape.X), Y: int16(shape.Y), W: int16(shape.Width), H: int16(shape.Height),
			MX: int16(cursor.X), MY: int16(cursor.Y),
		}
		c.write(wire.CodeScreenInfo, info.Encode())

	case wire.CodeClipboard:
		m, err := wire.DecodeClipboardGrabbed(frame.Payload)
		if err != nil {
			return
		}
		c.ownership.ReceiveGrab(clipboard.ID(m.ID))

	case wire.CodeClipChunk:
		c.onClipChunk(frame.Payload)

	case wire.CodeFileChunk:
		c.onFileChunk(frame.Payload)

	default:
		slog.Debug("client: unhandled message", "code", frame.Code)
	}
}

func (c *Client) onClipChunk(payload []byte) {
	m, err := wire.DecodeClipChunk(payload)
	if err != nil {
		slog.Warn("client: malformed DCLP", "error", err)
		return
	}
	id := clipboard.ID(m.ID)
	asm, ok := c.clipAsm[id]
	if !ok || m.Mark == wire.ChunkStart {
		asm = chunked.NewAssembler()
		c.clipAsm[id] = asm
	}
	done, data, err := asm.Feed(m.Mark, []byte(m.Payload))
	if err != nil {
		slog.Warn("client: clipboard assembly failed", "id", id, "error", err)
		return
	}
	if done {
		_ = c.screen.SetClipboard(id, clipboard.Snapshot{
			ID: id, Time: m.Seq,
			Formats: map[clipboard.FormatID][]byte{clipboard.FormatText: data},
		})
	}
}

func (c *Client) onFileChunk(payload []byte) {
	m, err := wire.DecodeFileChunk(payload)
	if err != nil {
		slog.Warn("client: malformed DFTR", "error", err)
		return
	}
	if c.fileAsm == nil || m.Mark == wire.ChunkStart {
		c.fileAsm = chunked.NewAssembler()
	}
	if _, _, err := c.fileAsm.Feed(m.Mark, []byte(m.Payload)); err != nil {
		slog.Warn("client: file transfer assembly failed", "error", err)
		c.fileAsm = nil
	}
}

// pushClipboard sends the local clipboard snapshot for id to the server,
// as spec.md §4.4 requires on leaving the active screen.
func (c *Client) pushClipboard(id clipboard.ID) {
	snap, err := c.screen.GetClipboard(id)
	if err != nil {
		slog.Warn("client: read local clipboard", "id", id, "error", err)
		return
	}
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return
	}
	data := snap.Formats[clipboard.FormatText]
	seq := c.clipTx[id] + 1
	c.clipTx[id] = seq
	chunked.SendClipboard(c.dispatcher, c.target, uint8(id), seq, data)
}

func (c *Client) write(code wire.Code, fields []byte) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return
	}
	if err := wire.WriteFrame(stream, code, fields); err != nil {
		slog.Warn("client: write frame", "code", code, "error", err)
	}
}

// registerChunkHandlers wires the chunked-transfer producer events to
// frame writes, giving every FileSender/SendClipboard call a handler that
// actually puts bytes on the wire (spec.md §5: "the dispatcher thread...
// writes to all streams").
func (c *Client) registerChunkHandlers() {
	c.dispatcher.AddHandler(chunked.EventClipChunkSending, c.target, func(e dispatch.Event) {
		ev := e.Data.(chunked.ClipChunkEvent)
		msg := wire.ClipChunk{ID: ev.ID, Seq: ev.Seq, Mark: ev.Mark, Payload: string(ev.Payload)}
		c.write(wire.CodeClipChunk, msg.Encode())
	})
	c.dispatcher.AddHandler(chunked.EventFileChunkSending, c.target, func(e dispatch.Event) {
		ev := e.Data.(chunked.FileChunkEvent)
		msg := wire.FileChunk{Mark: ev.Mark, Payload: string(ev.Payload)}
		c.write(wire.CodeFileChunk, msg.Encode())
	})
	c.dispatcher.AddHandler(chunked.EventKeepalive, c.target, func(dispatch.Event) {
		c.write(wire.CodeKeepAlive, nil)
	})
}

// Suspend implements spec.md §4.4's Suspend transition: unconditional
// disconnect, stashing whether the session was connected.
func (c *Client) Suspend() {
	c.dispatcher.AddEvent(dispatch.Event{Type: EventSuspend, Target: c.target})
}

// Resume implements spec.md §4.4's Resume transition: reconnect iff the
// session was connected when it was suspended.
func (c *Client) Resume() {
	c.dispatcher.AddEvent(dispatch.Event{Type: EventResume, Target: c.target})
}

func (c *Client) onSuspend(dispatch.Event) {
	c.mu.Lock()
	c.wasConnected = c.state == Active
	stream := c.stream
	c.mu.Unlock()
	if stream != nil {
		stream.Close()
	}
	c.teardown()
	c.setState(Idle)
}

func (c *Client) onResume(dispatch.Event) {
	c.mu.Lock()
	shouldReconnect := c.wasConnected
	addr := c.lastAddr
	c.mu.Unlock()
	if shouldReconnect {
		c.Connect(addr)
	}
}

// teardown cancels the connect timer and drops the stream reference,
// matching spec.md §5: "closing a session cancels pending timers."
func (c *Client) teardown() {
	c.mu.Lock()
	if c.hasConnectTimer {
		c.dispatcher.DeleteTimer(c.connectTimer)
		c.hasConnectTimer = false
	}
	c.stream = nil
	c.state = Disconnecting
	c.mu.Unlock()
}

// Close tears down the client's dispatcher registrations entirely
// (spec.md §8 invariant 6: handler_count/timer_count reach zero).
func (c *Client) Close() {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream != nil {
		stream.Close()
	}
	c.teardown()
	c.dispatcher.RemoveHandlersForTarget(c.target)
	c.setState(Idle)
}
