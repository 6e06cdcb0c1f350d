package webrtc

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// directSignaler pairs a Dial and Accept call in-process, skipping HTTP/SSE
// entirely — useful for exercising the connection-establishment path
// without a signaling server.
type directSignaler struct {
	offerCh  chan webrtc.SessionDescription
	answerCh chan *webrtc.SessionDescription
	addICE   func(webrtc.ICECandidateInit) error
}

func (s *directSignaler) SendOffer(offer webrtc.SessionDescription) error {
	s.offerCh <- offer
	return nil
}

func (s *directSignaler) WaitForAnswer(ctx context.Context) (*webrtc.SessionDescription, error) {
	select {
	case a := <-s.answerCh:
		return a, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *directSignaler) SendICECandidate(c webrtc.ICECandidateInit) {
	if s.addICE != nil {
		_ = s.addICE(c)
	}
}

func TestDialAndAcceptEstablishDataChannel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping WebRTC loopback test in short mode")
	}

	api := NewAPI()
	sig := &directSignaler{
		offerCh:  make(chan webrtc.SessionDescription, 1),
		answerCh: make(chan *webrtc.SessionDescription, 1),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	serverStreamCh := make(chan *Stream, 1)
	go func() {
		offer := <-sig.offerCh
		answer, streamCh, err := Accept(ctx, api, Config{}, offer)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		sig.answerCh <- answer
		serverStreamCh <- <-streamCh
	}()

	client, err := Dial(ctx, api, Config{}, sig)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WaitOpen(ctx))

	var server *Stream
	select {
	case server = <-serverStreamCh:
	case <-time.After(10 * time.Second):
		t.Fatal("server-side stream did not arrive in time")
	}
	defer server.Close()

	_, result, err := client.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 0, int(result)) // transport.OK == 0
}
