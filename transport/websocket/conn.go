package websocket

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bynery-main/limonata-notion-clone-sub001/relay/protocol"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/registry"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/token"
)

// State is a connection's lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateJoined
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one browser session. Only its read loop drives state forward;
// any goroutine may close it.
type Conn struct {
	id      string
	gateway *Gateway
	ws      *websocket.Conn
	outbox  *Outbox

	mu     sync.Mutex
	state  State
	claims *token.Claims
	roomID string

	done        chan struct{}
	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

// ID returns the connection id assigned at upgrade.
func (c *Conn) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity returns the authenticated client id, or "" before authentication.
func (c *Conn) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claims == nil {
		return ""
	}
	return c.claims.Subject
}

func (c *Conn) session() (*token.Claims, State, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claims, c.state, c.roomID
}

// transition moves from -> to and records the room. It fails once the
// connection is closing or when the current state is not from.
func (c *Conn) transition(from, to State, roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return false
	}
	c.state = to
	c.roomID = roomID
	return true
}

func (c *Conn) setClosed() {
	c.mu.Lock()
	c.state = StateClosed
	c.roomID = ""
	c.mu.Unlock()
}

// close starts teardown. It only signals; the write loop sends the close
// frame and the read loop leaves the room.
func (c *Conn) close(code int, reason error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.state < StateClosing {
			c.state = StateClosing
		}
		c.closeCode = code
		if reason != nil {
			c.closeReason = reason.Error()
		}
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Conn) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// deliver enqueues env, closing the connection if it cannot keep up.
func (c *Conn) deliver(env protocol.Envelope) error {
	dropped, err := c.outbox.Push(env)
	if dropped > 0 {
		c.gateway.metrics.Dropped(protocol.KindCursor, "overflow")
	}
	if errors.Is(err, protocol.ErrSlowConsumer) {
		slog.Warn("gateway: slow consumer", "conn", c.id, "queued", c.outbox.Len())
		c.gateway.metrics.SlowConsumer()
		c.close(CloseSlowConsumer, err)
	}
	return err
}

func (c *Conn) reply(frame protocol.ServerFrame) {
	env, err := protocol.FrameEnvelope(protocol.KindControl, frame)
	if err != nil {
		slog.Error("gateway: encode reply", "conn", c.id, "type", frame.Type, "err", err)
		return
	}
	_ = c.deliver(env)
}

func (c *Conn) replyError(err error) {
	c.reply(protocol.ErrorFrame(err))
}

// readPump reads frames until the peer goes away, a deadline passes or the
// connection is closed.
func (c *Conn) readPump() {
	cfg := c.gateway.cfg
	defer func() {
		c.close(websocket.CloseNormalClosure, nil)
		c.gateway.release(c)
	}()

	c.ws.SetReadLimit(cfg.MaxMessageBytes)
	c.ws.SetReadDeadline(time.Now().Add(cfg.AuthTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && c.State() == StateConnecting {
				c.failAuth(protocol.Errorf(protocol.CodeAuthFailed, "authentication timed out"))
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Debug("gateway: read failed", "conn", c.id, "err", err)
			}
			return
		}
		if c.closing() {
			return
		}
		c.touch()

		frame, err := protocol.DecodeClientFrame(data)
		if err != nil {
			if c.State() == StateConnecting {
				c.failAuth(err)
				return
			}
			c.replyError(err)
			continue
		}

		if err := c.handle(frame); err != nil {
			c.replyError(err)
		}
		if c.closing() {
			return
		}
	}
}

// touch pushes the idle deadline out. Before authentication the auth deadline
// stays in force.
func (c *Conn) touch() {
	if c.State() == StateConnecting {
		return
	}
	c.ws.SetReadDeadline(time.Now().Add(c.gateway.cfg.IdleTimeout))
}

// writePump writes queued envelopes and keeps the peer alive with pings.
func (c *Conn) writePump() {
	cfg := c.gateway.cfg
	ticker := time.NewTicker(cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.outbox.Ready():
			if err := c.flushQueued(); err != nil {
				slog.Debug("gateway: write failed", "conn", c.id, "err", err)
				c.close(websocket.CloseAbnormalClosure, err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure, err)
				return
			}

		case <-c.done:
			c.flushClose()
			return
		}
	}
}

// flushQueued writes queued envelopes one at a time until the queue is empty
// or the connection starts closing. Envelopes still queued remain subject to
// the overflow policy.
func (c *Conn) flushQueued() error {
	for !c.closing() {
		env, ok := c.outbox.Pop()
		if !ok {
			return nil
		}
		if err := c.write(env); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) write(env protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		slog.Error("gateway: encode envelope", "conn", c.id, "kind", env.Kind, "err", err)
		return nil
	}
	c.ws.SetWriteDeadline(time.Now().Add(c.gateway.cfg.WriteWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// flushClose writes pending control replies, drops queued room traffic and
// sends the close frame.
func (c *Conn) flushClose() {
	c.outbox.Close()
	for _, env := range c.outbox.Drain() {
		if env.Kind != protocol.KindControl {
			continue
		}
		if err := c.write(env); err != nil {
			return
		}
	}

	c.mu.Lock()
	code, reason := c.closeCode, c.closeReason
	c.mu.Unlock()
	if code == websocket.CloseAbnormalClosure {
		return
	}
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, truncateReason(reason)),
		time.Now().Add(c.gateway.cfg.WriteWait))
}

// Close frame payloads are limited to 125 bytes, two of which hold the code.
func truncateReason(reason string) string {
	if len(reason) > 123 {
		return reason[:123]
	}
	return reason
}

func (c *Conn) handle(frame protocol.ClientFrame) error {
	switch frame.Type {
	case protocol.TypeAuthenticate:
		return c.authenticate(frame)
	case protocol.TypeJoin:
		return c.join(frame)
	case protocol.TypeLeave:
		return c.leave()
	case protocol.TypeDelta:
		return c.publishDelta(frame)
	case protocol.TypeCursor:
		return c.publishCursor(frame)
	case protocol.TypeHeartbeat:
		if c.State() == StateConnecting {
			c.failAuth(protocol.Errorf(protocol.CodeAuthFailed, "authenticate must be the first frame"))
			return nil
		}
		c.reply(protocol.ServerFrame{Type: protocol.TypeHeartbeat})
		return nil
	default:
		if c.State() == StateConnecting {
			c.failAuth(protocol.Errorf(protocol.CodeAuthFailed, "authenticate must be the first frame"))
			return nil
		}
		return protocol.Errorf(protocol.CodeBadRequest, "unknown frame type %q", frame.Type)
	}
}

// failAuth reports err and closes the connection. Nothing it sent is relayed.
func (c *Conn) failAuth(err error) {
	if protocol.CodeOf(err) != protocol.CodeAuthFailed {
		err = protocol.Errorf(protocol.CodeAuthFailed, "%s", err.Error())
	}
	c.gateway.metrics.AuthFailure()
	slog.Info("gateway: authentication failed", "conn", c.id, "err", err)
	c.replyError(err)
	c.close(CloseAuthFailed, err)
}

func (c *Conn) authenticate(frame protocol.ClientFrame) error {
	if c.State() != StateConnecting {
		return protocol.Errorf(protocol.CodeBadRequest, "connection is already authenticated")
	}

	claims, err := c.gateway.verifier.Verify(frame.Token)
	if err != nil {
		c.failAuth(err)
		return nil
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateAuthenticated
	c.claims = claims
	c.mu.Unlock()
	c.touch()

	expiry := claims.Expiry()
	c.reply(protocol.ServerFrame{
		Type:         protocol.TypeAuthenticated,
		ConnectionID: c.id,
		Identity:     claims.Subject,
		ExpiresAt:    &expiry,
	})
	slog.Debug("gateway: authenticated", "conn", c.id, "identity", claims.Subject)
	return nil
}

func (c *Conn) join(frame protocol.ClientFrame) error {
	claims, state, current := c.session()
	switch state {
	case StateConnecting:
		c.failAuth(protocol.Errorf(protocol.CodeAuthFailed, "authenticate must be the first frame"))
		return nil
	case StateJoined:
		return protocol.Errorf(protocol.CodeAlreadyJoined, "connection already joined %s", current)
	}

	if frame.RoomID == "" {
		return protocol.Errorf(protocol.CodeBadRequest, "roomId is required")
	}
	if !claims.Allows(token.Subscribe, frame.RoomID) {
		return protocol.Errorf(protocol.CodeForbidden, "token does not allow subscribing to %s", frame.RoomID)
	}

	if !c.transition(StateAuthenticated, StateJoined, frame.RoomID) {
		return nil
	}
	_, err := c.gateway.registry.Join(frame.RoomID, registry.Member{
		ConnID:   c.id,
		Identity: claims.Subject,
		Profile:  nonNull(frame.Profile),
	})
	if err != nil {
		c.transition(StateJoined, StateAuthenticated, "")
		return err
	}
	return nil
}

func (c *Conn) leave() error {
	_, state, roomID := c.session()
	if state == StateConnecting {
		c.failAuth(protocol.Errorf(protocol.CodeAuthFailed, "authenticate must be the first frame"))
		return nil
	}
	if state != StateJoined {
		return protocol.ErrNotJoined
	}

	c.gateway.registry.Leave(roomID, c.id)
	if !c.transition(StateJoined, StateAuthenticated, "") {
		return nil
	}
	c.reply(protocol.ServerFrame{Type: protocol.TypeLeft, RoomID: roomID, ConnectionID: c.id})
	return nil
}

func (c *Conn) joined() (*token.Claims, string, error) {
	claims, state, roomID := c.session()
	switch state {
	case StateConnecting:
		c.failAuth(protocol.Errorf(protocol.CodeAuthFailed, "authenticate must be the first frame"))
		return nil, "", nil
	case StateJoined:
		return claims, roomID, nil
	default:
		return nil, "", protocol.ErrNotJoined
	}
}

func (c *Conn) publishDelta(frame protocol.ClientFrame) error {
	claims, roomID, err := c.joined()
	if claims == nil {
		return err
	}
	if !claims.Allows(token.Publish, roomID) {
		return protocol.Errorf(protocol.CodeForbidden, "token does not allow publishing to %s", roomID)
	}
	payload := nonNull(frame.Payload)
	if payload == nil {
		return protocol.Errorf(protocol.CodeBadRequest, "delta payload is required")
	}

	_, err = c.gateway.relay.Publish(roomID, c.id, protocol.KindDelta, payload)
	return err
}

func (c *Conn) publishCursor(frame protocol.ClientFrame) error {
	claims, roomID, err := c.joined()
	if claims == nil {
		return err
	}
	if !claims.Allows(token.Publish, roomID) && !claims.Allows(token.Presence, roomID) {
		return protocol.Errorf(protocol.CodeForbidden, "token does not allow cursor updates in %s", roomID)
	}
	position := nonNull(frame.Position)
	if position == nil {
		return protocol.Errorf(protocol.CodeBadRequest, "cursor position is required")
	}

	_, err = c.gateway.presence.Cursor(roomID, c.id, position)
	return err
}

func nonNull(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return raw
}
