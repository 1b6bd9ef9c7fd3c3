package registry

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bynery-main/limonata-notion-clone-sub001/relay/protocol"
)

// Member is one connection joined to a room.
type Member struct {
	ConnID   string
	Identity string
	Profile  json.RawMessage
	JoinedAt time.Time
}

// MemberSet is a snapshot of a room's members in join order.
type MemberSet []Member

// Contains reports whether connID is in the set.
func (s MemberSet) Contains(connID string) bool {
	for _, m := range s {
		if m.ConnID == connID {
			return true
		}
	}
	return false
}

// IDs returns the connection ids in join order.
func (s MemberSet) IDs() []string {
	ids := make([]string, len(s))
	for i, m := range s {
		ids[i] = m.ConnID
	}
	return ids
}

// Except returns the connection ids of every member other than connID.
func (s MemberSet) Except(connID string) []string {
	ids := make([]string, 0, len(s))
	for _, m := range s {
		if m.ConnID != connID {
			ids = append(ids, m.ConnID)
		}
	}
	return ids
}

// Listener observes membership transitions.
type Listener interface {
	// MemberJoined is called after joined was added; members includes it.
	MemberJoined(roomID string, joined Member, members MemberSet)
	// MemberLeft is called after left was removed; remaining excludes it.
	MemberLeft(roomID string, left Member, remaining MemberSet)
}

// RoomInfo summarizes a live room.
type RoomInfo struct {
	ID        string    `json:"id"`
	Members   int       `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

type room struct {
	id        string
	createdAt time.Time

	mu      sync.Mutex
	members []Member
	dead    bool
}

func (rm *room) indexOf(connID string) int {
	for i, m := range rm.members {
		if m.ConnID == connID {
			return i
		}
	}
	return -1
}

func (rm *room) snapshot() MemberSet {
	out := make(MemberSet, len(rm.members))
	copy(out, rm.members)
	return out
}

// Option configures a Registry.
type Option func(*Registry)

// WithListener registers a membership listener.
func WithListener(l Listener) Option {
	return func(r *Registry) {
		r.listeners = append(r.listeners, l)
	}
}

// WithClock overrides the time source used for join and creation times.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// Registry maps room ids to member sets.
type Registry struct {
	mu        sync.RWMutex
	rooms     map[string]*room
	listeners []Listener

	// connection id -> room id
	connRoom sync.Map

	now func() time.Time
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		rooms: make(map[string]*room),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddListener registers l. Listeners should be added before the registry
// serves traffic; transitions already in progress may not reach l.
func (r *Registry) AddListener(l Listener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

// Join adds m to roomID, creating the room if needed, and returns the member
// set after the join. Joining a room the connection is already in is a no-op.
func (r *Registry) Join(roomID string, m Member) (MemberSet, error) {
	if roomID == "" || m.ConnID == "" {
		return nil, protocol.Errorf(protocol.CodeBadRequest, "room id and connection id are required")
	}

	if prev, loaded := r.connRoom.LoadOrStore(m.ConnID, roomID); loaded && prev.(string) != roomID {
		return nil, protocol.Errorf(protocol.CodeAlreadyJoined, "connection is in room %s", prev.(string))
	}

	for {
		rm, listeners := r.getOrCreate(roomID)

		rm.mu.Lock()
		if rm.dead {
			// Lost a race with the last leave; start a fresh room.
			rm.mu.Unlock()
			r.dropRoom(roomID, rm)
			continue
		}

		if rm.indexOf(m.ConnID) >= 0 {
			members := rm.snapshot()
			rm.mu.Unlock()
			return members, nil
		}

		if m.JoinedAt.IsZero() {
			m.JoinedAt = r.now()
		}
		rm.members = append(rm.members, m)
		members := rm.snapshot()
		for _, l := range listeners {
			l.MemberJoined(roomID, m, members)
		}
		rm.mu.Unlock()

		slog.Debug("registry: member joined", "room", roomID, "conn", m.ConnID, "members", len(members))
		return members, nil
	}
}

// Leave removes connID from roomID. It reports whether a member was removed;
// leaving a room the connection is not in is a no-op.
func (r *Registry) Leave(roomID, connID string) bool {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	listeners := r.listeners
	r.mu.RUnlock()

	if !ok {
		r.connRoom.CompareAndDelete(connID, roomID)
		return false
	}

	rm.mu.Lock()
	idx := rm.indexOf(connID)
	if idx < 0 {
		rm.mu.Unlock()
		r.connRoom.CompareAndDelete(connID, roomID)
		return false
	}

	left := rm.members[idx]
	rm.members = append(rm.members[:idx], rm.members[idx+1:]...)
	remaining := rm.snapshot()
	empty := len(remaining) == 0
	if empty {
		rm.dead = true
	}
	for _, l := range listeners {
		l.MemberLeft(roomID, left, remaining)
	}
	rm.mu.Unlock()

	r.connRoom.CompareAndDelete(connID, roomID)
	slog.Debug("registry: member left", "room", roomID, "conn", connID, "members", len(remaining))

	if empty && r.dropRoom(roomID, rm) {
		slog.Info("room removed", "room", roomID)
	}
	return true
}

// dropRoom removes rm from the map unless it was already replaced.
func (r *Registry) dropRoom(roomID string, rm *room) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[roomID] != rm {
		return false
	}
	delete(r.rooms, roomID)
	return true
}

// MembersOf returns a snapshot of roomID's members in join order. Unknown
// rooms have no members.
func (r *Registry) MembersOf(roomID string) MemberSet {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.snapshot()
}

// RoomOf returns the room connID is currently in.
func (r *Registry) RoomOf(connID string) (string, bool) {
	v, ok := r.connRoom.Load(connID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Rooms lists live rooms sorted by id.
func (r *Registry) Rooms() []RoomInfo {
	r.mu.RLock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	infos := make([]RoomInfo, 0, len(rooms))
	for _, rm := range rooms {
		rm.mu.Lock()
		n := len(rm.members)
		rm.mu.Unlock()
		if n == 0 {
			continue
		}
		infos = append(infos, RoomInfo{ID: rm.id, Members: n, CreatedAt: rm.createdAt})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Stats returns the number of live rooms and members.
func (r *Registry) Stats() (rooms, members int) {
	for _, info := range r.Rooms() {
		rooms++
		members += info.Members
	}
	return rooms, members
}

func (r *Registry) getOrCreate(roomID string) (*room, []Listener) {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	listeners := r.listeners
	r.mu.RUnlock()
	if ok {
		return rm, listeners
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok = r.rooms[roomID]; !ok {
		rm = &room{id: roomID, createdAt: r.now()}
		r.rooms[roomID] = rm
		slog.Info("room created", "room", roomID)
	}
	return rm, r.listeners
}
