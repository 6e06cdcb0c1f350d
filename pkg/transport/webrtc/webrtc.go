// Package webrtc implements transport.SecureStream over a pion/webrtc
// data channel, an alternative to transport/tcptls for peers that cannot
// reach each other with a direct TCP connection (behind NAT, across
// restrictive networks). It is adapted from the teacher's
// pkg/webrtc/connection.go, generalized from a one-shot file-sender
// connection into a general-purpose SecureStream usable for an entire
// session.
package webrtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/deskbridge/deskbridge/pkg/transport"
	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
)

// MTU bounds the size of one data-channel message, matching the teacher's
// receive MTU setting.
const MTU uint = 1400

// API wraps a pion webrtc.API configured the way the teacher configures
// it: mDNS ICE candidates and a fixed receive MTU, shared across however
// many PeerConnections this process creates.
type API struct {
	api *webrtc.API
}

// NewAPI returns an API ready to create peer connections.
func NewAPI() *API {
	settings := webrtc.SettingEngine{}
	settings.SetICEMulticastDNSMode(ice.MulticastDNSModeQueryAndGather)
	settings.SetReceiveMTU(MTU)
	return &API{api: webrtc.NewAPI(webrtc.WithSettingEngine(settings))}
}

// Config configures ICE servers for a new peer connection.
type Config struct {
	ICEServers []webrtc.ICEServer
}

func (a *API) newPeerConnection(cfg Config) (*webrtc.PeerConnection, error) {
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	return a.api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
}

// Stream adapts one pion data channel to transport.SecureStream: Write
// sends a message, Read drains a buffer of messages OnMessage has
// delivered, since a data channel has no blocking-read primitive of its
// own.
type Stream struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	mu     sync.Mutex
	buf    []byte
	closed bool
	open   chan struct{}
}

func newStream(pc *webrtc.PeerConnection, dc *webrtc.DataChannel) *Stream {
	s := &Stream{pc: pc, dc: dc, open: make(chan struct{})}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		s.mu.Lock()
		s.buf = append(s.buf, msg.Data...)
		s.mu.Unlock()
	})
	dc.OnOpen(func() { close(s.open) })
	dc.OnClose(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
	})
	return s
}

// Read drains whatever bytes OnMessage has buffered into into, returning
// transport.WouldBlock (not an error) if nothing is currently buffered.
func (s *Stream) Read(into []byte) (int, transport.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed && len(s.buf) == 0 {
		return 0, transport.Closed, nil
	}
	if len(s.buf) == 0 {
		return 0, transport.WouldBlock, nil
	}
	n := copy(into, s.buf)
	s.buf = s.buf[n:]
	return n, transport.OK, nil
}

// Write sends bytes as one or more data-channel messages no larger than
// MTU each, mirroring how the teacher's file sender chunks to the MTU.
func (s *Stream) Write(bytes []byte) (int, transport.Result, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, transport.Closed, errors.New("webrtc: data channel closed")
	}

	sent := 0
	for sent < len(bytes) {
		end := sent + int(MTU)
		if end > len(bytes) {
			end = len(bytes)
		}
		if err := s.dc.Send(bytes[sent:end]); err != nil {
			return sent, transport.Closed, fmt.Errorf("webrtc: send: %w", err)
		}
		sent = end
	}
	return sent, transport.OK, nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if err := s.dc.Close(); err != nil {
		return err
	}
	return s.pc.Close()
}

// WaitOpen blocks until the underlying data channel reports open, or ctx
// is cancelled.
func (s *Stream) WaitOpen(ctx context.Context) error {
	select {
	case <-s.open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dial establishes an outbound WebRTC connection via signaler: it creates
// an offer, sends it, waits for the answer, and returns a Stream wrapping
// the resulting data channel. Grounded on the teacher's SenderConn.Establish.
func Dial(ctx context.Context, api *API, cfg Config, signaler Signaler) (*Stream, error) {
	pc, err := api.newPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("webrtc: create peer connection: %w", err)
	}

	dc, err := pc.CreateDataChannel("deskbridge", nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("webrtc: create data channel: %w", err)
	}
	stream := newStream(pc, dc)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			signaler.SendICECandidate(c.ToJSON())
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("webrtc: create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("webrtc: set local description: %w", err)
	}
	if err := signaler.SendOffer(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("webrtc: send offer: %w", err)
	}

	answer, err := signaler.WaitForAnswer(ctx)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("webrtc: wait for answer: %w", err)
	}
	if err := pc.SetRemoteDescription(*answer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("webrtc: set remote description: %w", err)
	}

	return stream, nil
}

// Accept handles an inbound offer, answers it, and returns a Stream once
// the peer's data channel arrives. Grounded on the teacher's
// ReceiverConn.HandleOfferAndCreateAnswer.
func Accept(ctx context.Context, api *API, cfg Config, offer webrtc.SessionDescription) (*webrtc.SessionDescription, <-chan *Stream, error) {
	pc, err := api.newPeerConnection(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("webrtc: create peer connection: %w", err)
	}

	streamCh := make(chan *Stream, 1)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		slog.Debug("webrtc: data channel arrived", "label", dc.Label())
		streamCh <- newStream(pc, dc)
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, nil, fmt.Errorf("webrtc: set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, nil, fmt.Errorf("webrtc: create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, nil, fmt.Errorf("webrtc: set local description: %w", err)
	}

	return &answer, streamCh, nil
}
