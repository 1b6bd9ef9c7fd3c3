package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bynery-main/limonata-notion-clone-sub001/relay/metrics"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/presence"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/registry"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/token"
)

var ErrRoomNotFound = errors.New("room not found")

// RelayService defines the operations exposed over HTTP and MCP.
type RelayService interface {
	// Tokens
	IssueToken(ctx context.Context, clientID string, req token.Request) (*token.Token, error)

	// Rooms
	ListRooms(ctx context.Context) ([]*RoomSummary, error)
	GetRoom(ctx context.Context, roomID string) (*RoomDetail, error)

	Stats(ctx context.Context) (*Stats, error)
}

// TokenIssuer mints handshake tokens.
type TokenIssuer interface {
	Issue(ctx context.Context, clientID string, req token.Request) (*token.Token, error)
}

// RoomDirectory reads live room membership.
type RoomDirectory interface {
	Rooms() []registry.RoomInfo
	Stats() (rooms, members int)
}

// PresenceReader reads presence records.
type PresenceReader interface {
	Snapshot(roomID string) []presence.Record
}

// ConnectionCounter reports live connections.
type ConnectionCounter interface {
	Connections() int
}

// Option configures the service.
type Option func(*relayServiceImpl)

// WithMetrics counts issued and rejected tokens.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *relayServiceImpl) {
		s.metrics = m
	}
}

// WithClock overrides time.Now for uptime reporting.
func WithClock(now func() time.Time) Option {
	return func(s *relayServiceImpl) {
		s.now = now
	}
}

type relayServiceImpl struct {
	issuer   TokenIssuer
	rooms    RoomDirectory
	presence PresenceReader
	conns    ConnectionCounter
	metrics  *metrics.Metrics
	now      func() time.Time
	started  time.Time
}

// NewRelayService creates the façade over the live relay components.
func NewRelayService(issuer TokenIssuer, rooms RoomDirectory, presence PresenceReader, conns ConnectionCounter, opts ...Option) RelayService {
	s := &relayServiceImpl{
		issuer:   issuer,
		rooms:    rooms,
		presence: presence,
		conns:    conns,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.started = s.now()
	return s
}

// IssueToken mints a token for clientID.
func (s *relayServiceImpl) IssueToken(ctx context.Context, clientID string, req token.Request) (*token.Token, error) {
	tok, err := s.issuer.Issue(ctx, clientID, req)
	s.metrics.TokenIssued(err)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return tok, nil
}

// ListRooms returns live rooms sorted by id.
func (s *relayServiceImpl) ListRooms(ctx context.Context) ([]*RoomSummary, error) {
	infos := s.rooms.Rooms()
	rooms := make([]*RoomSummary, 0, len(infos))
	for _, info := range infos {
		rooms = append(rooms, &RoomSummary{
			ID:        info.ID,
			Members:   info.Members,
			CreatedAt: info.CreatedAt,
		})
	}
	return rooms, nil
}

// GetRoom returns roomID with its members in join order.
func (s *relayServiceImpl) GetRoom(ctx context.Context, roomID string) (*RoomDetail, error) {
	for _, info := range s.rooms.Rooms() {
		if info.ID != roomID {
			continue
		}
		members := s.presence.Snapshot(roomID)
		if members == nil {
			members = []presence.Record{}
		}
		return &RoomDetail{
			ID:        info.ID,
			CreatedAt: info.CreatedAt,
			Members:   members,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
}

// Stats reports room, member and connection counts.
func (s *relayServiceImpl) Stats(ctx context.Context) (*Stats, error) {
	rooms, members := s.rooms.Stats()
	return &Stats{
		Rooms:       rooms,
		Members:     members,
		Connections: s.conns.Connections(),
		StartedAt:   s.started,
		Uptime:      s.now().Sub(s.started).Truncate(time.Second).String(),
	}, nil
}
