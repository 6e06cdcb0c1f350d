package client

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/deskbridge/deskbridge/pkg/chunked"
	"github.com/deskbridge/deskbridge/pkg/dispatch"
	"github.com/deskbridge/deskbridge/pkg/integrity"
	"github.com/deskbridge/deskbridge/pkg/screen"
	"github.com/deskbridge/deskbridge/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func newTestClient(t *testing.T, dial Dialer) (*Client, *dispatch.Dispatcher) {
	d := dispatch.New()
	go d.Run()
	t.Cleanup(d.Stop)

	ls := screen.NewLocal(screen.Rect{Width: 1920, Height: 1080})
	c := New("laptop", wire.Version{Major: 1, Minor: 4}, d, ls, dial, 200*time.Millisecond)
	return c, d
}

func pipeDialer(conn net.Conn) Dialer {
	return func(string) (Stream, error) { return conn, nil }
}

func TestHandshakeSucceedsAndEntersActive(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	c, _ := newTestClient(t, pipeDialer(client))

	backCh := make(chan wire.HelloBack, 1)
	go func() {
		if err := wire.WriteHello(server, wire.Hello{Version: wire.Version{Major: 1, Minor: 6}}); err != nil {
			return
		}
		back, err := wire.ReadHelloBack(server)
		if err != nil {
			return
		}
		backCh <- back
	}()

	c.Connect("ignored")

	waitUntil(t, func() bool { return c.State() == Active })

	select {
	case back := <-backCh:
		assert.Equal(t, "laptop", back.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received hello-back")
	}
}

func TestHandshakeRejectsIncompatibleVersion(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	c, d := newTestClient(t, pipeDialer(client))

	disconnected := make(chan ConnectionFailed, 1)
	d.AddHandler(EventDisconnected, c.Target(), func(e dispatch.Event) {
		disconnected <- e.Data.(ConnectionFailed)
	})

	go wire.WriteHello(server, wire.Hello{Version: wire.Version{Major: 1, Minor: 0}})

	c.Connect("ignored")

	select {
	case cf := <-disconnected:
		assert.False(t, cf.Retry)
	case <-time.After(2 * time.Second):
		t.Fatal("expected Disconnected event for incompatible version")
	}
	assert.NotEqual(t, Active, c.State())
}

func TestConnectTimeoutWhenHelloNeverArrives(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	c, d := newTestClient(t, pipeDialer(client))

	failed := make(chan ConnectionFailed, 1)
	d.AddHandler(EventDisconnected, c.Target(), func(e dispatch.Event) {
		failed <- e.Data.(ConnectionFailed)
	})

	c.Connect("ignored")

	select {
	case cf := <-failed:
		assert.True(t, cf.Retry)
	case <-time.After(2 * time.Second):
		t.Fatal("expected connect timeout to fire")
	}
}

func TestQueryInfoRepliesWithScreenInfo(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	c, _ := newTestClient(t, pipeDialer(client))

	go wire.WriteHello(server, wire.Hello{Version: wire.Version{Major: 1, Minor: 6}})
	c.Connect("ignored")

	_, err := wire.ReadHelloBack(server)
	require.NoError(t, err)
	waitUntil(t, func() bool { return c.State() == Active })

	require.NoError(t, wire.WriteFrame(server, wire.CodeQueryInfo, nil))

	frame, err := wire.ReadFrame(server)
	require.NoError(t, err)
	assert.Equal(t, wire.CodeScreenInfo, frame.Code)

	info, err := wire.DecodeScreenInfo(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, int16(1920), info.W)
	assert.Equal(t, int16(1080), info.H)
}

// chanDialer hands out conns in the order they were queued, so a test can
// supply a fresh net.Pipe for each of a client's separate Connect calls
// (e.g. the reconnect after Resume).
func chanDialer(conns <-chan net.Conn) Dialer {
	return func(string) (Stream, error) { return <-conns, nil }
}

func TestSuspendThenResumeReconnectsAndReHandshakes(t *testing.T) {
	conns := make(chan net.Conn, 2)

	client1, server1 := net.Pipe()
	defer server1.Close()
	conns <- client1

	c, _ := newTestClient(t, chanDialer(conns))

	go func() {
		wire.WriteHello(server1, wire.Hello{Version: wire.Version{Major: 1, Minor: 6}})
		wire.ReadHelloBack(server1)
	}()
	c.Connect("server.local")
	waitUntil(t, func() bool { return c.State() == Active })

	c.Suspend()
	waitUntil(t, func() bool { return c.State() == Idle })
	assert.True(t, c.wasConnected, "Suspend should stash that the session was connected")

	// Suspend closes the old stream from the dispatcher goroutine; give the
	// now-orphaned runReader goroutine a moment to observe that and return,
	// freeing the connect guard Resume's reconnect is about to need.
	time.Sleep(20 * time.Millisecond)

	client2, server2 := net.Pipe()
	defer server2.Close()
	conns <- client2

	backCh := make(chan wire.HelloBack, 1)
	go func() {
		wire.WriteHello(server2, wire.Hello{Version: wire.Version{Major: 1, Minor: 6}})
		back, err := wire.ReadHelloBack(server2)
		if err == nil {
			backCh <- back
		}
	}()

	c.Resume()
	waitUntil(t, func() bool { return c.State() == Active })

	select {
	case back := <-backCh:
		assert.Equal(t, "laptop", back.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("Resume never reconnected to the same address and re-handshook")
	}
}

func TestResumeIsNoopWhenNeverConnected(t *testing.T) {
	conns := make(chan net.Conn)
	c, _ := newTestClient(t, chanDialer(conns))

	c.Resume()

	// With no prior Active session, Resume must not attempt to dial; give
	// any errant Connect call a moment to show up before asserting it didn't.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Idle, c.State())
}

// enterSignalingScreen wraps a real *screen.Local, signaling entered every
// time Enter is called, so a test can tell exactly when the dispatcher has
// finished processing a CodeEnter frame.
type enterSignalingScreen struct {
	*screen.Local
	entered chan struct{}
}

func (s *enterSignalingScreen) Enter(mask screen.KeyModifierMask) {
	s.Local.Enter(mask)
	s.entered <- struct{}{}
}

// chunkFeedReader hands the caller exactly one test-supplied chunk per Read
// call, blocking until it arrives — giving a test control over which loop
// iteration of a chunked send is in flight at any moment.
type chunkFeedReader struct{ chunks chan []byte }

func (r *chunkFeedReader) Read(p []byte) (int, error) {
	chunk, ok := <-r.chunks
	if !ok {
		return 0, io.EOF
	}
	return copy(p, chunk), nil
}

// TestEnterInterruptsInFlightClientFileSend exercises spec.md §4.4's "(if a
// file send was in progress) interrupts it": a server-initiated CINN must
// abort whatever file this client is in the middle of uploading, mirroring
// Client::send_file_chunk's interruptFile call in the original protocol.
func TestEnterInterruptsInFlightClientFileSend(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	entered := make(chan struct{}, 1)
	fs := &enterSignalingScreen{Local: screen.NewLocal(screen.Rect{Width: 1920, Height: 1080}), entered: entered}

	d := dispatch.New()
	go d.Run()
	t.Cleanup(d.Stop)
	c := New("laptop", wire.Version{Major: 1, Minor: 4}, d, fs, pipeDialer(client), 200*time.Millisecond)

	go func() {
		wire.WriteHello(server, wire.Hello{Version: wire.Version{Major: 1, Minor: 6}})
		wire.ReadHelloBack(server)
	}()
	c.Connect("ignored")
	waitUntil(t, func() bool { return c.State() == Active })

	frames := make(chan wire.Frame, 16)
	go func() {
		for {
			f, err := wire.ReadFrame(server)
			if err != nil {
				return
			}
			frames <- f
		}
	}()

	const chunkSize = 32 * 1024
	const totalSize = 100000
	chunks := make(chan []byte, 1)

	sendErr := make(chan error, 1)
	c.SendFile("upload.bin", totalSize, &chunkFeedReader{chunks: chunks}, nil, func(_ *integrity.SignedManifest, err error) {
		sendErr <- err
	})

	chunks <- make([]byte, chunkSize) // satisfies the send's first loop iteration

	// wait for that chunk's Data sub-frame, confirming the producer moved
	// on to its second iteration's pre-read interrupt check
	waitUntil(t, func() bool {
		select {
		case f := <-frames:
			if f.Code != wire.CodeFileChunk {
				return false
			}
			m, err := wire.DecodeFileChunk(f.Payload)
			return err == nil && m.Mark == wire.ChunkData
		default:
			return false
		}
	})

	require.NoError(t, wire.WriteFrame(server, wire.CodeEnter, wire.EnterScreen{X: 1, Y: 2}.Encode()))

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("client never processed the server's Enter")
	}

	chunks <- make([]byte, chunkSize) // unblock the second iteration's read

	select {
	case err := <-sendErr:
		assert.ErrorIs(t, err, chunked.ErrInterrupted)
	case <-time.After(2 * time.Second):
		t.Fatal("file send was never interrupted by the server's Enter")
	}
}

func TestCloseRemovesAllHandlersAndTimers(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	c, d := newTestClient(t, pipeDialer(client))
	go func() {
		wire.WriteHello(server, wire.Hello{Version: wire.Version{Major: 1, Minor: 6}})
		wire.ReadHelloBack(server)
	}()
	c.Connect("ignored")
	waitUntil(t, func() bool { return c.State() == Active })

	c.Close()

	assert.Equal(t, 0, d.HandlerCount(c.Target()))
	assert.Equal(t, 0, d.TimerCount(c.Target()))
	assert.Equal(t, Idle, c.State())
}
