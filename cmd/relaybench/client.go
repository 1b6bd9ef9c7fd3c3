package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bynery-main/limonata-notion-clone-sub001/relay/protocol"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/token"
)

// Client talks to one relay over HTTP and websocket.
type Client struct {
	baseURL string
	client  *http.Client
	dialer  *websocket.Dialer
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// FetchToken asks the token endpoint for a token with default capabilities.
func (c *Client) FetchToken(ctx context.Context, clientID string) (*token.Token, error) {
	query := url.Values{"clientId": {clientID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/token?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch token failed: %s - %s", resp.Status, string(body))
	}

	var tok token.Token
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}
	return &tok, nil
}

// Open dials the gateway, authenticates and joins roomID.
func (c *Client) Open(ctx context.Context, clientID, roomID string) (*Session, error) {
	tok, err := c.FetchToken(ctx, clientID)
	if err != nil {
		return nil, err
	}

	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws"
	ws, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	s := &Session{
		ClientID: clientID,
		ws:       ws,
		lastSeq:  make(map[string]uint64),
		done:     make(chan struct{}),
	}

	if err := ws.WriteJSON(protocol.ClientFrame{Type: protocol.TypeAuthenticate, Token: tok.Value}); err != nil {
		ws.Close()
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	var frame protocol.ServerFrame
	if err := ws.ReadJSON(&frame); err != nil {
		ws.Close()
		return nil, fmt.Errorf("read authenticated: %w", err)
	}
	if frame.Type != protocol.TypeAuthenticated {
		ws.Close()
		return nil, fmt.Errorf("authenticate rejected: %s %s", frame.Code, frame.Message)
	}
	ws.SetReadDeadline(time.Time{})
	s.ConnID = frame.ConnectionID

	if err := ws.WriteJSON(protocol.ClientFrame{Type: protocol.TypeJoin, RoomID: roomID}); err != nil {
		ws.Close()
		return nil, fmt.Errorf("join: %w", err)
	}

	go s.readLoop()
	return s, nil
}

// deltaPayload is what the bench publishes.
type deltaPayload struct {
	N    int   `json:"n"`
	Sent int64 `json:"sent"`
}

// Session is one benchmark participant.
type Session struct {
	ClientID string
	ConnID   string
	ws       *websocket.Conn

	mu         sync.Mutex
	joined     bool
	members    int
	received   int
	outOfOrder int
	errors     int
	latencies  []time.Duration
	lastSeq    map[string]uint64

	done chan struct{}
}

func (s *Session) readLoop() {
	defer close(s.done)
	for {
		var frame protocol.ServerFrame
		if err := s.ws.ReadJSON(&frame); err != nil {
			return
		}
		s.observe(frame, time.Now())
	}
}

func (s *Session) observe(frame protocol.ServerFrame, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch frame.Type {
	case protocol.TypeJoined:
		s.joined = true
		s.members = len(frame.Members)
	case protocol.TypeMemberJoined:
		s.members++
	case protocol.TypeMemberLeft:
		s.members--
	case protocol.TypeDelta:
		s.received++
		if frame.Seq <= s.lastSeq[frame.SenderID] {
			s.outOfOrder++
		}
		s.lastSeq[frame.SenderID] = frame.Seq
		var p deltaPayload
		if err := json.Unmarshal(frame.Payload, &p); err == nil && p.Sent > 0 {
			s.latencies = append(s.latencies, at.Sub(time.Unix(0, p.Sent)))
		}
	case protocol.TypeError:
		s.errors++
	}
}

// Publish sends delta number n.
func (s *Session) Publish(n int) error {
	payload, err := json.Marshal(deltaPayload{N: n, Sent: time.Now().UnixNano()})
	if err != nil {
		return err
	}
	return s.ws.WriteJSON(protocol.ClientFrame{Type: protocol.TypeDelta, Payload: payload})
}

// Members returns the member count this session currently sees.
func (s *Session) Members() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined {
		return 0
	}
	return s.members
}

// Received returns how many deltas arrived.
func (s *Session) Received() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}

// Close sends a normal close and waits briefly for the read loop.
func (s *Session) Close() {
	s.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	select {
	case <-s.done:
	case <-time.After(time.Second):
	}
	s.ws.Close()
}

// percentile returns the p-th percentile of sorted durations.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func sortDurations(d []time.Duration) {
	sort.Slice(d, func(i, j int) bool { return d[i] < d[j] })
}
