// Package broadcast fans room messages out to every other room member.
//
// Publish is the hot path. It copies the room's member snapshot from the
// registry (the room lock is released before any enqueue), assigns the
// sender's next sequence number for that room, and enqueues one envelope per
// recipient through the gateway. It returns as soon as enqueuing is done;
// delivery is at-most-once and never awaited.
//
// Ordering: a sender's publishes come from its single read loop, and every
// recipient queue is FIFO, so recipients observe one sender's messages in
// send order. Nothing orders messages across senders. Members who join after
// a publish never see it.
package broadcast

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/bynery-main/limonata-notion-clone-sub001/relay/metrics"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/protocol"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/registry"
)

// Sender enqueues an envelope on one connection's outbound queue.
type Sender interface {
	Send(connID string, env protocol.Envelope) error
}

// Membership supplies room member snapshots.
type Membership interface {
	MembersOf(roomID string) registry.MemberSet
}

// ErrUnknownConnection is returned by a Sender for ids it does not own.
var ErrUnknownConnection = errors.New("unknown connection")

type seqKey struct {
	room string
	conn string
}

// Option configures a Relay.
type Option func(*Relay)

// WithMetrics instruments the relay.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

// Relay is the broadcast relay.
type Relay struct {
	members Membership
	sender  Sender
	metrics *metrics.Metrics

	mu   sync.Mutex
	seqs map[seqKey]uint64
}

var _ registry.Listener = (*Relay)(nil)

// New creates a relay reading membership from members and delivering
// through sender.
func New(members Membership, sender Sender, opts ...Option) *Relay {
	r := &Relay{
		members: members,
		sender:  sender,
		seqs:    make(map[seqKey]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish relays payload from senderID to the other members of roomID and
// returns the sequence number it was stamped with.
func (r *Relay) Publish(roomID, senderID string, kind protocol.Kind, payload json.RawMessage) (uint64, error) {
	if kind != protocol.KindDelta && kind != protocol.KindCursor {
		return 0, protocol.Errorf(protocol.CodeBadRequest, "kind %q cannot be published", kind)
	}

	members := r.members.MembersOf(roomID)
	var identity string
	found := false
	for _, m := range members {
		if m.ConnID == senderID {
			identity = m.Identity
			found = true
			break
		}
	}
	if !found {
		return 0, protocol.ErrNotJoined
	}

	seq := r.next(roomID, senderID)
	r.Deliver(protocol.Envelope{
		RoomID:   roomID,
		SenderID: senderID,
		Identity: identity,
		Kind:     kind,
		Seq:      seq,
		Payload:  payload,
	}, members.Except(senderID))

	return seq, nil
}

// Deliver enqueues env on each recipient and returns how many accepted it.
// Failures are per recipient and never abort the fan-out.
func (r *Relay) Deliver(env protocol.Envelope, recipients []string) int {
	delivered := 0
	for _, id := range recipients {
		if err := r.sender.Send(id, env); err != nil {
			slog.Debug("broadcast: enqueue failed", "room", env.RoomID, "conn", id, "kind", env.Kind, "err", err)
			continue
		}
		delivered++
	}
	r.metrics.Relayed(env.Kind, delivered)
	return delivered
}

// Seq returns the last sequence number assigned to (roomID, connID).
func (r *Relay) Seq(roomID, connID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seqs[seqKey{room: roomID, conn: connID}]
}

func (r *Relay) next(roomID, connID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := seqKey{room: roomID, conn: connID}
	r.seqs[key]++
	return r.seqs[key]
}

// MemberJoined is a no-op; counters start lazily on first publish.
func (r *Relay) MemberJoined(string, registry.Member, registry.MemberSet) {}

// MemberLeft forgets the leaver's sequence counter so a rejoin starts at 1.
func (r *Relay) MemberLeft(roomID string, left registry.Member, _ registry.MemberSet) {
	r.mu.Lock()
	delete(r.seqs, seqKey{room: roomID, conn: left.ConnID})
	r.mu.Unlock()
}
