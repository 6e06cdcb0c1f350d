// Package server implements the inbound side of a session (spec.md §4.5):
// accepting connections, running each one through an unknown-client
// handshake, then promoting it to a named, connected client that receives
// routed input and clipboard traffic. Mirrors pkg/session/client's
// goroutine-reads/dispatcher-mutates split.
package server

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/deskbridge/deskbridge/pkg/chunked"
	"github.com/deskbridge/deskbridge/pkg/clipboard"
	"github.com/deskbridge/deskbridge/pkg/dispatch"
	"github.com/deskbridge/deskbridge/pkg/dragfile"
	"github.com/deskbridge/deskbridge/pkg/integrity"
	"github.com/deskbridge/deskbridge/pkg/screen"
	"github.com/deskbridge/deskbridge/pkg/wire"
)

// Stream is the minimal capability a session needs from its transport.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// Event types posted against a client's own target.
const (
	EventHelloBackReceived dispatch.EventType = "server.HelloBackReceived"
	EventFrameReceived     dispatch.EventType = "server.FrameReceived"
	EventStreamClosed      dispatch.EventType = "server.StreamClosed"
	EventHandshakeTimeout  dispatch.EventType = "server.HandshakeTimeout"
	EventKeepaliveMissed   dispatch.EventType = "server.KeepaliveMissed"
	EventClientAdded       dispatch.EventType = "server.ClientAdded"
	EventClientRemoved     dispatch.EventType = "server.ClientRemoved"
)

// Version-specific behavior a ClientProxy activates once a client's
// negotiated version is known (spec.md §4.5, "versioned ClientProxy
// strategy").
type capabilities struct {
	chunkedClipboard bool // 1.4+
	keepalive        bool // 1.5+
	fileTransfer     bool // 1.5+
	eventDrivenClip  bool // 1.6+
}

func capabilitiesFor(v wire.Version) capabilities {
	c := capabilities{chunkedClipboard: true}
	if v.Major > 1 || (v.Major == 1 && v.Minor >= 5) {
		c.keepalive = true
		c.fileTransfer = true
	}
	if v.Major > 1 || (v.Major == 1 && v.Minor >= 6) {
		c.eventDrivenClip = true
	}
	return c
}

// ClientProxy is one connected client's session state on the server side
// (spec.md §4.5).
type ClientProxy struct {
	name       string
	version    wire.Version
	caps       capabilities
	target     dispatch.Target
	dispatcher *dispatch.Dispatcher

	mu              sync.Mutex
	stream          Stream
	active          bool
	keepaliveMisses int
	keepaliveTimer  dispatch.TimerID
	hasKATimer      bool

	ownership *clipboard.Ownership
	clipTx    map[clipboard.ID]uint32
	clipAsm   map[clipboard.ID]*chunked.Assembler
	fileTx    *chunked.Manager
	fileAsm   *chunked.Assembler

	screenInfo    wire.ScreenInfo
	hasScreenInfo bool
}

// Name returns the client's handshake-declared name.
func (p *ClientProxy) Name() string { return p.name }

// Target returns the dispatch target this proxy's handlers are keyed on.
func (p *ClientProxy) Target() dispatch.Target { return p.target }

// ScreenInfo returns the geometry this client last reported in reply to a
// QueryInfo (spec.md §6's DINF), and whether it has reported one yet. A
// caller driving cursor-entry coordinates (Enter) across multiple screens
// should clamp against this rather than assume a fixed size.
func (p *ClientProxy) ScreenInfo() (wire.ScreenInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.screenInfo, p.hasScreenInfo
}

func (p *ClientProxy) write(code wire.Code, fields []byte) {
	p.mu.Lock()
	stream := p.stream
	p.mu.Unlock()
	if stream == nil {
		return
	}
	if err := wire.WriteFrame(stream, code, fields); err != nil {
		slog.Warn("server: write frame", "client", p.name, "code", code, "error", err)
	}
}

// Enter routes CINN to this client, entering it at (x, y) with mask.
func (p *ClientProxy) Enter(x, y int16, seq uint32, mask int16) {
	m := wire.EnterScreen{X: x, Y: y, Seq: seq, Mask: mask}
	p.write(wire.CodeEnter, m.Encode())
}

// Leave routes COUT to this client.
func (p *ClientProxy) Leave() { p.write(wire.CodeLeave, nil) }

// KeyDown/KeyUp/KeyRepeat/MouseDown/MouseUp/MouseMove/MouseRelativeMove/
// MouseWheel route the corresponding D-code message to this client —
// spec.md §4.5's "active-client input routing."
func (p *ClientProxy) KeyDown(key, mask, button uint16) {
	p.write(wire.CodeKeyDown, wire.KeyEvent{Key: key, Mask: mask, Button: button}.Encode())
}
func (p *ClientProxy) KeyUp(key, mask, button uint16) {
	p.write(wire.CodeKeyUp, wire.KeyEvent{Key: key, Mask: mask, Button: button}.Encode())
}
func (p *ClientProxy) KeyRepeat(key, mask, count, button uint16) {
	p.write(wire.CodeKeyRepeat, wire.KeyRepeat{Key: key, Mask: mask, Count: count, Button: button}.Encode())
}
func (p *ClientProxy) MouseDown(button int8) {
	p.write(wire.CodeMouseDown, wire.MouseButton{Button: button}.Encode())
}
func (p *ClientProxy) MouseUp(button int8) {
	p.write(wire.CodeMouseUp, wire.MouseButton{Button: button}.Encode())
}
func (p *ClientProxy) MouseMove(x, y int16) {
	p.write(wire.CodeMouseMove, wire.MouseMove{X: x, Y: y}.Encode())
}
func (p *ClientProxy) MouseRelativeMove(dx, dy int16) {
	p.write(wire.CodeMouseRel, wire.MouseRelMove{DX: dx, DY: dy}.Encode())
}
func (p *ClientProxy) MouseWheel(xd, yd int16) {
	p.write(wire.CodeMouseWheel, wire.MouseWheel{XDelta: xd, YDelta: yd}.Encode())
}

// Screensaver, ResetOptions route the matching C-code message.
func (p *ClientProxy) Screensaver(on bool) {
	var v int8
	if on {
		v = 1
	}
	p.write(wire.CodeScreensaver, wire.Screensaver{On: v}.Encode())
}
func (p *ClientProxy) ResetOptions() { p.write(wire.CodeResetOptions, nil) }

// QueryInfo requests this client's screen geometry (QINF); the reply
// arrives asynchronously as a DINF frame via onFrameReceived.
func (p *ClientProxy) QueryInfo() { p.write(wire.CodeQueryInfo, nil) }

// SendClipboardGrab notifies this client that id is now owned elsewhere
// (CCLP), per spec.md §3 invariant 4.
func (p *ClientProxy) SendClipboardGrab(id clipboard.ID, seq uint32) {
	p.write(wire.CodeClipboard, wire.ClipboardGrabbed{ID: uint8(id), Seq: seq}.Encode())
}

// SendClipboard streams a clipboard blob to this client as a chunked DCLP
// sequence (spec.md §4.6).
func (p *ClientProxy) SendClipboard(id clipboard.ID, data []byte) {
	seq := p.clipTx[id] + 1
	p.clipTx[id] = seq
	chunked.SendClipboard(p.dispatcher, p.target, uint8(id), seq, data)
}

// SendDrag announces an upcoming drag-and-drop transfer (DDRG): one file
// per entry in files, in the order they will be sent via SendFile
// (spec.md §6: "DDRG S→C u32 fileNum, string info").
func (p *ClientProxy) SendDrag(files []dragfile.Info) error {
	info, err := dragfile.EncodeInfoList(files)
	if err != nil {
		return err
	}
	m := wire.DragInfo{FileNum: uint32(len(files)), Info: info}
	p.write(wire.CodeDragInfo, m.Encode())
	return nil
}

// SendFile streams path to this client as a chunked DFTR sequence
// (spec.md §4.6), interrupting whatever file send to this client is
// already in flight (spec.md §3 invariant 3). name carries the signed
// manifest's declared name when signer is non-nil; done, if non-nil, is
// called with the signed manifest (or nil if signer is nil) once the send
// finishes or fails.
func (p *ClientProxy) SendFile(d *dispatch.Dispatcher, path string, totalSize int64, r io.Reader, signer *integrity.Signer, done func(*integrity.SignedManifest, error)) {
	if signer == nil {
		p.fileTx.SendFile(d, p.target, r, totalSize, func(err error) {
			if done != nil {
				done(nil, err)
			}
		})
		return
	}
	p.fileTx.SendSignedFile(d, p.target, path, r, totalSize, signer, done)
}

// onFileChunk assembles an inbound client-initiated DFTR sequence (spec.md
// §4.6's upload direction, mirrored from ClientProxy1_5's fileChunkReceived
// in the original protocol). The completed bytes are handed to onDone,
// which is nil unless the Listener was built with an onFileReceived
// callback.
func (p *ClientProxy) onFileChunk(payload []byte, onDone func(data []byte)) {
	m, err := wire.DecodeFileChunk(payload)
	if err != nil {
		slog.Warn("server: malformed DFTR", "client", p.name, "error", err)
		return
	}
	if p.fileAsm == nil || m.Mark == wire.ChunkStart {
		p.fileAsm = chunked.NewAssembler()
	}
	done, data, err := p.fileAsm.Feed(m.Mark, []byte(m.Payload))
	if err != nil {
		slog.Warn("server: file transfer assembly failed", "client", p.name, "error", err)
		p.fileAsm = nil
		return
	}
	if done && onDone != nil {
		onDone(data)
	}
}

func (p *ClientProxy) onClipChunk(payload []byte) {
	m, err := wire.DecodeClipChunk(payload)
	if err != nil {
		slog.Warn("server: malformed DCLP", "client", p.name, "error", err)
		return
	}
	id := clipboard.ID(m.ID)
	asm, ok := p.clipAsm[id]
	if !ok || m.Mark == wire.ChunkStart {
		asm = chunked.NewAssembler()
		p.clipAsm[id] = asm
	}
	if done, _, err := asm.Feed(m.Mark, []byte(m.Payload)); err != nil {
		slog.Warn("server: clipboard assembly failed", "client", p.name, "id", id, "error", err)
	} else if done {
		p.ownership.ReceiveGrab(id)
	}
}

// Listener accepts connections and walks each one through the unknown
// handshake before handing it to onConnected (spec.md §4.5).
type Listener struct {
	dispatcher      *dispatch.Dispatcher
	minVersion      wire.Version
	serverVersion   wire.Version
	handshakeTO     time.Duration
	keepaliveMisses int
	screen          screen.LocalScreen

	mu       sync.Mutex
	waiting  []*unknownProxy // WaitingClients FIFO
	proxies  map[string]*ClientProxy
	byTarget map[dispatch.Target]*ClientProxy

	onConnected    func(*ClientProxy)
	onRemoved      func(name string)
	onFileReceived func(clientName string, data []byte)
}

// unknownProxy is a just-accepted, not-yet-named connection mid-handshake.
type unknownProxy struct {
	stream  Stream
	target  dispatch.Target
	timerID dispatch.TimerID
}

// New returns a Listener. onConnected, onRemoved and onFileReceived may be
// nil. onFileReceived, if non-nil, is called with the client's name and the
// assembled bytes whenever an inbound client-initiated file transfer
// (spec.md §4.6, §4.4's "client sends" direction) completes.
func New(d *dispatch.Dispatcher, ls screen.LocalScreen, serverVersion, minVersion wire.Version, handshakeTimeout time.Duration, keepaliveMisses int, onConnected func(*ClientProxy), onRemoved func(name string), onFileReceived func(clientName string, data []byte)) *Listener {
	l := &Listener{
		dispatcher:      d,
		minVersion:      minVersion,
		serverVersion:   serverVersion,
		handshakeTO:     handshakeTimeout,
		keepaliveMisses: keepaliveMisses,
		screen:          ls,
		proxies:         make(map[string]*ClientProxy),
		byTarget:        make(map[dispatch.Target]*ClientProxy),
		onConnected:     onConnected,
		onRemoved:       onRemoved,
		onFileReceived:  onFileReceived,
	}
	return l
}

// Accept begins the handshake for a freshly-accepted stream: it arms the
// handshake timer and starts a goroutine that sends the server Hello and
// then reads the HelloBack, so Accept itself never blocks on the stream
// (spec.md §4.5 step 1).
func (l *Listener) Accept(stream Stream) {
	target := dispatch.NewTarget()
	up := &unknownProxy{stream: stream, target: target}

	l.dispatcher.AddHandler(EventHelloBackReceived, target, func(e dispatch.Event) { l.onHelloBack(up, e) })
	l.dispatcher.AddHandler(EventStreamClosed, target, func(dispatch.Event) { l.abandonUnknown(up) })
	l.dispatcher.AddHandler(dispatch.EventTimer, target, func(e dispatch.Event) {
		if e.Data.(dispatch.TimerID) == up.timerID {
			l.abandonUnknown(up)
		}
	})

	l.mu.Lock()
	l.waiting = append(l.waiting, up)
	l.mu.Unlock()

	up.timerID = l.dispatcher.NewTimer(l.handshakeTO, true, target)

	go func() {
		if err := wire.WriteHello(stream, wire.Hello{Version: l.serverVersion}); err != nil {
			slog.Warn("server: write hello", "error", err)
			l.dispatcher.AddEvent(dispatch.Event{Type: EventStreamClosed, Target: target})
			return
		}
		back, err := wire.ReadHelloBack(stream)
		if err != nil {
			l.dispatcher.AddEvent(dispatch.Event{Type: EventStreamClosed, Target: target})
			return
		}
		l.dispatcher.AddEvent(dispatch.Event{Type: EventHelloBackReceived, Target: target, Data: back})
	}()
}

func (l *Listener) abandonUnknown(up *unknownProxy) {
	l.dispatcher.DeleteTimer(up.timerID)
	l.dispatcher.RemoveHandlersForTarget(up.target)
	up.stream.Close()

	l.mu.Lock()
	for i, w := range l.waiting {
		if w == up {
			l.waiting = append(l.waiting[:i], l.waiting[i+1:]...)
			break
		}
	}
	l.mu.Unlock()
}

// onHelloBack completes the handshake (spec.md §4.5 steps 2-4): version
// gate, then duplicate-name rejection (EBSY), then promotion to a
// ClientProxy.
func (l *Listener) onHelloBack(up *unknownProxy, e dispatch.Event) {
	back := e.Data.(wire.HelloBack)

	if back.Version.Less(l.minVersion) {
		wire.WriteFrame(up.stream, wire.CodeIncompatible, wire.Incompatible{Major: l.serverVersion.Major, Minor: l.serverVersion.Minor}.Encode())
		l.abandonUnknown(up)
		return
	}

	l.mu.Lock()
	_, dup := l.proxies[back.Name]
	l.mu.Unlock()
	if dup {
		wire.WriteFrame(up.stream, wire.CodeBusy, nil)
		l.abandonUnknown(up)
		return
	}

	l.dispatcher.DeleteTimer(up.timerID)
	l.dispatcher.RemoveHandlersForTarget(up.target)

	l.mu.Lock()
	for i, w := range l.waiting {
		if w == up {
			l.waiting = append(l.waiting[:i], l.waiting[i+1:]...)
			break
		}
	}
	l.mu.Unlock()

	p := &ClientProxy{
		name:       back.Name,
		version:    back.Version,
		caps:       capabilitiesFor(back.Version),
		target:     up.target,
		dispatcher: l.dispatcher,
		stream:     up.stream,
		active:     true,
		ownership:  clipboard.NewOwnership(),
		clipTx:     make(map[clipboard.ID]uint32),
		clipAsm:    make(map[clipboard.ID]*chunked.Assembler),
		fileTx:     chunked.NewManager(),
	}

	l.dispatcher.AddHandler(EventFrameReceived, p.target, func(ev dispatch.Event) { l.onFrame(p, ev) })
	l.dispatcher.AddHandler(EventStreamClosed, p.target, func(dispatch.Event) { l.onDisconnect(p) })
	if p.caps.keepalive {
		l.dispatcher.AddHandler(dispatch.EventTimer, p.target, func(ev dispatch.Event) { l.onKeepaliveTick(p, ev) })
		p.keepaliveTimer = l.dispatcher.NewTimer(10*time.Second, false, p.target)
		p.hasKATimer = true
	}
	l.dispatcher.AddHandler(chunked.EventClipChunkSending, p.target, func(ev dispatch.Event) {
		c := ev.Data.(chunked.ClipChunkEvent)
		m := wire.ClipChunk{ID: c.ID, Seq: c.Seq, Mark: c.Mark, Payload: string(c.Payload)}
		p.write(wire.CodeClipChunk, m.Encode())
	})
	l.dispatcher.AddHandler(chunked.EventFileChunkSending, p.target, func(ev dispatch.Event) {
		c := ev.Data.(chunked.FileChunkEvent)
		m := wire.FileChunk{Mark: c.Mark, Payload: string(c.Payload)}
		p.write(wire.CodeFileChunk, m.Encode())
	})
	l.dispatcher.AddHandler(chunked.EventKeepalive, p.target, func(dispatch.Event) {
		p.write(wire.CodeKeepAlive, nil)
	})

	l.mu.Lock()
	l.proxies[p.name] = p
	l.byTarget[p.target] = p
	l.mu.Unlock()

	go l.runReader(p, up.stream)

	if l.onConnected != nil {
		l.onConnected(p)
	}
	l.dispatcher.AddEvent(dispatch.Event{Type: EventClientAdded, Data: p})
}

func (l *Listener) runReader(p *ClientProxy, stream Stream) {
	for {
		frame, err := wire.ReadFrame(stream)
		if err != nil {
			l.dispatcher.AddEvent(dispatch.Event{Type: EventStreamClosed, Target: p.target})
			return
		}
		l.dispatcher.AddEvent(dispatch.Event{Type: EventFrameReceived, Target: p.target, Data: frame})
	}
}

func (l *Listener) onFrame(p *ClientProxy, e dispatch.Event) {
	frame := e.Data.(wire.Frame)

	switch frame.Code {
	case wire.CodeNop, wire.CodeKeepAlive:
		p.mu.Lock()
		p.keepaliveMisses = 0
		p.mu.Unlock()

	case wire.CodeScreenInfo:
		info, err := wire.DecodeScreenInfo(frame.Payload)
		if err != nil {
			slog.Warn("decode screen info", "client", p.name, "error", err)
			return
		}
		p.mu.Lock()
		p.screenInfo = info
		p.hasScreenInfo = true
		p.mu.Unlock()

	case wire.CodeClipboard:
		m, err := wire.DecodeClipboardGrabbed(frame.Payload)
		if err == nil {
			p.ownership.Grab(clipboard.ID(m.ID))
		}

	case wire.CodeClipChunk:
		p.onClipChunk(frame.Payload)

	case wire.CodeFileChunk:
		p.onFileChunk(frame.Payload, func(data []byte) {
			if l.onFileReceived != nil {
				l.onFileReceived(p.name, data)
			}
		})

	default:
		slog.Debug("server: unhandled client message", "client", p.name, "code", frame.Code)
	}
}

func (l *Listener) onKeepaliveTick(p *ClientProxy, e dispatch.Event) {
	if !p.hasKATimer || e.Data.(dispatch.TimerID) != p.keepaliveTimer {
		return
	}
	p.mu.Lock()
	p.keepaliveMisses++
	misses := p.keepaliveMisses
	p.mu.Unlock()

	if misses >= l.keepaliveMisses {
		l.dispatcher.AddEvent(dispatch.Event{Type: EventStreamClosed, Target: p.target})
		return
	}
	p.write(wire.CodeKeepAlive, nil)
}

// onDisconnect implements spec.md §4.5's client-removal path.
func (l *Listener) onDisconnect(p *ClientProxy) {
	p.mu.Lock()
	p.active = false
	stream := p.stream
	p.stream = nil
	p.mu.Unlock()
	if stream != nil {
		stream.Close()
	}

	l.dispatcher.RemoveHandlersForTarget(p.target)

	l.mu.Lock()
	delete(l.proxies, p.name)
	delete(l.byTarget, p.target)
	l.mu.Unlock()

	if l.onRemoved != nil {
		l.onRemoved(p.name)
	}
	l.dispatcher.AddEvent(dispatch.Event{Type: EventClientRemoved, Data: p.name})
}

// Clients returns the names of every currently-connected client.
func (l *Listener) Clients() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.proxies))
	for name := range l.proxies {
		names = append(names, name)
	}
	return names
}

// ClientByName returns the named client's proxy, if connected.
func (l *Listener) ClientByName(name string) (*ClientProxy, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.proxies[name]
	return p, ok
}

// Disconnect force-closes a connected client's stream, triggering normal
// onDisconnect cleanup.
func (l *Listener) Disconnect(name string) {
	l.mu.Lock()
	p, ok := l.proxies[name]
	l.mu.Unlock()
	if !ok {
		return
	}
	p.mu.Lock()
	stream := p.stream
	p.mu.Unlock()
	if stream != nil {
		stream.Close()
	}
}
