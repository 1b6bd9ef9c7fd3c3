// Package presence derives who-is-here facts from room membership.
//
// The Tracker is a registry listener. On every join it tells the other members
// who arrived and hands the newcomer the full member list; on every leave it
// tells the remaining members who left. It also remembers each member's last
// cursor position so late joiners see where everyone is.
package presence

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/bynery-main/limonata-notion-clone-sub001/relay/protocol"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/registry"
)

// Fanout is the delivery side the tracker broadcasts through.
type Fanout interface {
	Deliver(env protocol.Envelope, recipients []string) int
	Publish(roomID, senderID string, kind protocol.Kind, payload json.RawMessage) (uint64, error)
}

// Record is the presence of one member in one room.
type Record struct {
	ConnID   string          `json:"connection_id"`
	Identity string          `json:"identity"`
	Profile  json.RawMessage `json:"profile,omitempty"`
	Cursor   json.RawMessage `json:"cursor,omitempty"`
	JoinedAt time.Time       `json:"joined_at"`
}

func (r *Record) info() protocol.MemberInfo {
	return protocol.MemberInfo{
		ConnectionID: r.ConnID,
		Identity:     r.Identity,
		Profile:      r.Profile,
		Cursor:       r.Cursor,
		JoinedAt:     r.JoinedAt,
	}
}

type roomState struct {
	mu      sync.Mutex
	records map[string]*Record
	order   []string
	dead    bool
}

func (s *roomState) ordered() []*Record {
	out := make([]*Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out
}

// Tracker maintains presence records and emits presence events.
type Tracker struct {
	fanout Fanout

	mu    sync.RWMutex
	rooms map[string]*roomState
}

var _ registry.Listener = (*Tracker)(nil)

// NewTracker creates a tracker that broadcasts through fanout.
func NewTracker(fanout Fanout) *Tracker {
	return &Tracker{
		fanout: fanout,
		rooms:  make(map[string]*roomState),
	}
}

// MemberJoined records the newcomer, announces it to the other members and
// sends it the current member list.
func (t *Tracker) MemberJoined(roomID string, joined registry.Member, members registry.MemberSet) {
	var state *roomState
	for {
		state = t.room(roomID, true)
		state.mu.Lock()
		if !state.dead {
			break
		}
		state.mu.Unlock()
		t.drop(roomID, state)
	}

	if _, ok := state.records[joined.ConnID]; !ok {
		state.order = append(state.order, joined.ConnID)
	}
	state.records[joined.ConnID] = &Record{
		ConnID:   joined.ConnID,
		Identity: joined.Identity,
		Profile:  joined.Profile,
		JoinedAt: joined.JoinedAt,
	}
	infos := make([]protocol.MemberInfo, 0, len(members))
	for _, m := range members {
		if rec, ok := state.records[m.ConnID]; ok {
			infos = append(infos, rec.info())
		}
	}
	state.mu.Unlock()

	announce, err := protocol.FrameEnvelope(protocol.KindPresence, protocol.ServerFrame{
		Type:         protocol.TypeMemberJoined,
		RoomID:       roomID,
		ConnectionID: joined.ConnID,
		Identity:     joined.Identity,
		Profile:      joined.Profile,
	})
	if err != nil {
		slog.Error("presence: encode memberJoined", "room", roomID, "conn", joined.ConnID, "err", err)
		return
	}
	t.fanout.Deliver(announce, members.Except(joined.ConnID))

	snapshot, err := protocol.FrameEnvelope(protocol.KindPresence, protocol.ServerFrame{
		Type:         protocol.TypeJoined,
		RoomID:       roomID,
		ConnectionID: joined.ConnID,
		Identity:     joined.Identity,
		Members:      infos,
	})
	if err != nil {
		slog.Error("presence: encode snapshot", "room", roomID, "conn", joined.ConnID, "err", err)
		return
	}
	t.fanout.Deliver(snapshot, []string{joined.ConnID})
}

// MemberLeft drops the record and announces the departure.
func (t *Tracker) MemberLeft(roomID string, left registry.Member, remaining registry.MemberSet) {
	if state := t.room(roomID, false); state != nil {
		state.mu.Lock()
		delete(state.records, left.ConnID)
		for i, id := range state.order {
			if id == left.ConnID {
				state.order = append(state.order[:i], state.order[i+1:]...)
				break
			}
		}
		empty := len(state.records) == 0
		if empty {
			state.dead = true
		}
		state.mu.Unlock()

		if empty {
			t.drop(roomID, state)
		}
	}

	if len(remaining) == 0 {
		return
	}

	env, err := protocol.FrameEnvelope(protocol.KindPresence, protocol.ServerFrame{
		Type:         protocol.TypeMemberLeft,
		RoomID:       roomID,
		ConnectionID: left.ConnID,
		Identity:     left.Identity,
	})
	if err != nil {
		slog.Error("presence: encode memberLeft", "room", roomID, "conn", left.ConnID, "err", err)
		return
	}
	t.fanout.Deliver(env, remaining.IDs())
}

// Cursor stores connID's latest cursor position and relays it to the room.
func (t *Tracker) Cursor(roomID, connID string, position json.RawMessage) (uint64, error) {
	state := t.room(roomID, false)
	if state == nil {
		return 0, protocol.ErrNotJoined
	}

	state.mu.Lock()
	rec, ok := state.records[connID]
	if ok {
		rec.Cursor = append(json.RawMessage(nil), position...)
	}
	state.mu.Unlock()
	if !ok {
		return 0, protocol.ErrNotJoined
	}

	return t.fanout.Publish(roomID, connID, protocol.KindCursor, position)
}

// Snapshot returns the presence records of roomID in join order.
func (t *Tracker) Snapshot(roomID string) []Record {
	state := t.room(roomID, false)
	if state == nil {
		return nil
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	out := make([]Record, 0, len(state.order))
	for _, rec := range state.ordered() {
		out = append(out, *rec)
	}
	return out
}

func (t *Tracker) drop(roomID string, state *roomState) {
	t.mu.Lock()
	if t.rooms[roomID] == state {
		delete(t.rooms, roomID)
	}
	t.mu.Unlock()
}

func (t *Tracker) room(roomID string, create bool) *roomState {
	t.mu.RLock()
	state, ok := t.rooms[roomID]
	t.mu.RUnlock()
	if ok || !create {
		return state
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if state, ok = t.rooms[roomID]; !ok {
		state = &roomState{records: make(map[string]*Record)}
		t.rooms[roomID] = state
	}
	return state
}
