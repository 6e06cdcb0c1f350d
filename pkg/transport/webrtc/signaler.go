package webrtc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pion/webrtc/v4"
)

// Signaler decouples offer/answer/candidate exchange from the WebRTC
// connection logic itself, grounded on the teacher's pkg/webrtc.Signaler
// interface.
type Signaler interface {
	SendOffer(offer webrtc.SessionDescription) error
	WaitForAnswer(ctx context.Context) (*webrtc.SessionDescription, error)
	SendICECandidate(candidate webrtc.ICECandidateInit)
}

// HTTPSignaler is the client side of an HTTP/SSE signaling exchange: it
// POSTs an offer to a peer's /offer endpoint and consumes the resulting
// event stream for the answer and trickled ICE candidates, adapted from
// the teacher's APISignaler (which POSTed to /ask and streamed SSE back).
type HTTPSignaler struct {
	client   *http.Client
	peerURL  string
	ctx      context.Context
	addICE   func(webrtc.ICECandidateInit) error
	answerCh chan *webrtc.SessionDescription
	errCh    chan error
}

// NewHTTPSignaler returns a signaler that talks to peerURL. addICE is
// called for each candidate trickled in over the SSE stream, typically
// wired to the local Stream's underlying peer connection.
func NewHTTPSignaler(ctx context.Context, client *http.Client, peerURL string, addICE func(webrtc.ICECandidateInit) error) *HTTPSignaler {
	return &HTTPSignaler{
		client:   client,
		peerURL:  peerURL,
		ctx:      ctx,
		addICE:   addICE,
		answerCh: make(chan *webrtc.SessionDescription, 1),
		errCh:    make(chan error, 1),
	}
}

// SendOffer posts offer to the peer's /offer endpoint and starts consuming
// the SSE response stream for the answer and trickled candidates.
func (s *HTTPSignaler) SendOffer(offer webrtc.SessionDescription) error {
	body, err := json.Marshal(struct {
		Offer webrtc.SessionDescription `json:"offer"`
	}{Offer: offer})
	if err != nil {
		return fmt.Errorf("webrtc: marshal offer: %w", err)
	}

	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.peerURL+"/offer", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webrtc: build offer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webrtc: post offer: %w", err)
	}

	go s.consumeSSE(resp)
	return nil
}

func (s *HTTPSignaler) consumeSSE(resp *http.Response) {
	defer resp.Body.Close()
	scanner := bufio.NewScanner(resp.Body)
	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			s.routeEvent(event, data)
		}
	}
	if err := scanner.Err(); err != nil {
		s.errCh <- fmt.Errorf("webrtc: read SSE stream: %w", err)
	}
}

func (s *HTTPSignaler) routeEvent(event, data string) {
	switch event {
	case "answer":
		var payload struct {
			Answer webrtc.SessionDescription `json:"answer"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			s.errCh <- fmt.Errorf("webrtc: unmarshal answer: %w", err)
			return
		}
		s.answerCh <- &payload.Answer
	case "candidate":
		var payload struct {
			Candidate webrtc.ICECandidateInit `json:"candidate"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			slog.Warn("webrtc: unmarshal candidate event", "error", err)
			return
		}
		if err := s.addICE(payload.Candidate); err != nil {
			slog.Warn("webrtc: add trickled ICE candidate", "error", err)
		}
	case "rejection":
		s.errCh <- errors.New("webrtc: offer rejected by peer")
	default:
		slog.Warn("webrtc: unknown SSE event", "event", event)
	}
}

// WaitForAnswer blocks until the answer event arrives, an error event
// arrives, or ctx is cancelled.
func (s *HTTPSignaler) WaitForAnswer(ctx context.Context) (*webrtc.SessionDescription, error) {
	select {
	case answer := <-s.answerCh:
		return answer, nil
	case err := <-s.errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendICECandidate posts a trickled candidate to the peer, fire-and-forget.
func (s *HTTPSignaler) SendICECandidate(candidate webrtc.ICECandidateInit) {
	go func() {
		body, err := json.Marshal(struct {
			Candidate webrtc.ICECandidateInit `json:"candidate"`
		}{Candidate: candidate})
		if err != nil {
			slog.Warn("webrtc: marshal candidate", "error", err)
			return
		}
		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, s.peerURL+"/candidate", bytes.NewReader(body))
		if err != nil {
			slog.Warn("webrtc: build candidate request", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if _, err := s.client.Do(req); err != nil {
			slog.Warn("webrtc: post candidate", "error", err)
		}
	}()
}
