package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bynery-main/limonata-notion-clone-sub001/relay/broadcast"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/metrics"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/presence"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/protocol"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/registry"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/token"
)

// Close codes sent with the final close frame.
const (
	CloseAuthFailed   = 4401
	CloseSlowConsumer = websocket.ClosePolicyViolation
)

const (
	// Time allowed to write a message to the peer.
	defaultWriteWait = 10 * time.Second

	defaultIdleTimeout     = 30 * time.Second
	defaultAuthTimeout     = 10 * time.Second
	defaultQueueCapacity   = 256
	defaultMaxMessageBytes = 64 << 10
)

var errShuttingDown = errors.New("gateway shutting down")

// Verifier checks handshake tokens.
type Verifier interface {
	Verify(value string) (*token.Claims, error)
}

// Config tunes the gateway. Zero fields take defaults.
type Config struct {
	// Time a connection may stay silent before it is considered gone.
	// Pings are sent at nine tenths of this period.
	IdleTimeout time.Duration

	// Time allowed between upgrade and a valid authenticate frame.
	AuthTimeout time.Duration

	// Outbound queue capacity per connection.
	QueueCapacity int

	// Largest inbound frame accepted.
	MaxMessageBytes int64

	WriteWait time.Duration

	// CheckOrigin overrides the upgrader's same-origin check.
	CheckOrigin func(r *http.Request) bool
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = defaultAuthTimeout
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = defaultMaxMessageBytes
	}
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	return c
}

func (c Config) pingPeriod() time.Duration {
	return (c.IdleTimeout * 9) / 10
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMetrics records connection and fan-out metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// Gateway owns every live connection and wires them to the room registry,
// the presence tracker and the broadcast relay.
type Gateway struct {
	cfg      Config
	verifier Verifier
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	registry *registry.Registry
	relay    *broadcast.Relay
	presence *presence.Tracker

	mu     sync.RWMutex
	conns  map[string]*Conn
	closed bool
	wg     sync.WaitGroup
}

var _ broadcast.Sender = (*Gateway)(nil)

// Start builds a gateway ready to accept upgrades.
func Start(cfg Config, verifier Verifier, opts ...Option) *Gateway {
	g := &Gateway{
		cfg:      cfg.withDefaults(),
		verifier: verifier,
		conns:    make(map[string]*Conn),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.cfg.CheckOrigin,
	}

	g.registry = registry.New()
	g.relay = broadcast.New(g.registry, g, broadcast.WithMetrics(g.metrics))
	g.presence = presence.NewTracker(g.relay)

	// Presence first so a joiner's snapshot precedes any relayed traffic.
	g.registry.AddListener(g.presence)
	g.registry.AddListener(g.relay)
	if g.metrics != nil {
		g.registry.AddListener(g.metrics)
	}

	return g
}

// Registry exposes room membership for read-only callers.
func (g *Gateway) Registry() *registry.Registry { return g.registry }

// Presence exposes presence records for read-only callers.
func (g *Gateway) Presence() *presence.Tracker { return g.presence }

// Relay exposes the broadcast relay.
func (g *Gateway) Relay() *broadcast.Relay { return g.relay }

// Connections returns the number of live connections.
func (g *Gateway) Connections() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// ServeHTTP upgrades the request, see ServeWS.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.ServeWS(w, r)
}

// ServeWS upgrades an HTTP request to a relay connection. The connection
// starts unauthenticated and must send an authenticate frame within the
// auth timeout.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	g.mu.RLock()
	closed := g.closed
	g.mu.RUnlock()
	if closed {
		http.Error(w, "relay is shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("gateway: upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := g.newConn(ws)
	if !g.register(c) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, errShuttingDown.Error()),
			time.Now().Add(g.cfg.WriteWait))
		ws.Close()
		return
	}

	slog.Info("gateway: connection opened", "conn", c.id, "remote", r.RemoteAddr)

	go c.writePump()
	go c.readPump()
}

// Send enqueues env on connID's outbound queue without blocking.
func (g *Gateway) Send(connID string, env protocol.Envelope) error {
	g.mu.RLock()
	c, ok := g.conns[connID]
	g.mu.RUnlock()
	if !ok {
		return broadcast.ErrUnknownConnection
	}
	return c.deliver(env)
}

// Shutdown closes every connection and waits for their cleanup to finish or
// ctx to expire. New upgrades are refused once it has been called.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	conns := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	slog.Info("gateway: shutting down", "connections", len(conns))
	for _, c := range conns {
		c.close(websocket.CloseGoingAway, errShuttingDown)
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) newConn(ws *websocket.Conn) *Conn {
	return &Conn{
		id:      uuid.NewString(),
		gateway: g,
		ws:      ws,
		outbox:  NewOutbox(g.cfg.QueueCapacity),
		done:    make(chan struct{}),
	}
}

func (g *Gateway) register(c *Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.conns[c.id] = c
	g.wg.Add(1)
	g.metrics.ConnectionOpened()
	return true
}

// release runs once per connection after its read loop exits.
func (g *Gateway) release(c *Conn) {
	if roomID, ok := g.registry.RoomOf(c.id); ok {
		g.registry.Leave(roomID, c.id)
	}

	g.mu.Lock()
	delete(g.conns, c.id)
	g.mu.Unlock()

	c.outbox.Close()
	c.setClosed()
	g.metrics.ConnectionClosed()
	g.wg.Done()

	slog.Info("gateway: connection closed", "conn", c.id, "identity", c.Identity())
}
