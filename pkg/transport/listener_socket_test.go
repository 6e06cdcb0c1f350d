package transport_test

import (
	"testing"
	"time"

	"github.com/deskbridge/deskbridge/pkg/netmux"
	"github.com/deskbridge/deskbridge/pkg/transport"
	"github.com/deskbridge/deskbridge/pkg/transport/tcptls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeAcceptDeliversConnections(t *testing.T) {
	ln, err := tcptls.Listen("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer ln.Close()

	mux := netmux.New(time.Millisecond)
	mux.Start()
	defer mux.Stop()

	sock := transport.NewListenerSocket(ln)
	accepted := make(chan transport.SecureStream, 1)
	closed := make(chan error, 1)

	transport.ServeAccept(mux, sock, func(s transport.SecureStream) { accepted <- s }, func(err error) { closed <- err })

	client, err := tcptls.Dial(ln.Addr(), nil)
	require.NoError(t, err)
	defer client.Close()

	select {
	case stream := <-accepted:
		assert.NotNil(t, stream)
		stream.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("connection never delivered through the multiplexer")
	}
}

func TestServeAcceptReportsListenerClose(t *testing.T) {
	ln, err := tcptls.Listen("127.0.0.1:0", nil)
	require.NoError(t, err)

	mux := netmux.New(time.Millisecond)
	mux.Start()
	defer mux.Stop()

	sock := transport.NewListenerSocket(ln)
	closed := make(chan error, 1)

	transport.ServeAccept(mux, sock, func(transport.SecureStream) {}, func(err error) { closed <- err })

	require.NoError(t, sock.Close())

	select {
	case err := <-closed:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("onClosed never invoked after listener close")
	}
}
