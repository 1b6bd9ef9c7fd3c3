package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bynery-main/limonata-notion-clone-sub001/relay/protocol"
)

type event struct {
	kind    string
	room    string
	conn    string
	members []string
}

type recordingListener struct {
	mu     sync.Mutex
	events []event
}

func (l *recordingListener) MemberJoined(roomID string, joined Member, members MemberSet) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event{kind: "join", room: roomID, conn: joined.ConnID, members: members.IDs()})
}

func (l *recordingListener) MemberLeft(roomID string, left Member, remaining MemberSet) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event{kind: "leave", room: roomID, conn: left.ConnID, members: remaining.IDs()})
}

func (l *recordingListener) all() []event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]event(nil), l.events...)
}

func member(id string) Member {
	return Member{ConnID: id, Identity: "user-" + id}
}

func TestRegistry_JoinCreatesRoom(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := New(WithClock(func() time.Time { return now }))

	members, err := r.Join("doc-1", member("a"))
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "a", members[0].ConnID)
	assert.Equal(t, now, members[0].JoinedAt)

	rooms := r.Rooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, RoomInfo{ID: "doc-1", Members: 1, CreatedAt: now}, rooms[0])

	room, ok := r.RoomOf("a")
	assert.True(t, ok)
	assert.Equal(t, "doc-1", room)
}

func TestRegistry_JoinIsIdempotent(t *testing.T) {
	l := &recordingListener{}
	r := New(WithListener(l))

	first, err := r.Join("doc-1", member("a"))
	require.NoError(t, err)
	_, err = r.Join("doc-1", member("b"))
	require.NoError(t, err)

	again, err := r.Join("doc-1", member("a"))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, again.IDs())
	assert.Equal(t, []string{"a"}, first.IDs())
	assert.Len(t, l.all(), 2, "re-join must not emit a second event")
}

func TestRegistry_JoinOrderPreserved(t *testing.T) {
	r := New()
	for _, id := range []string{"c", "a", "b"} {
		_, err := r.Join("doc-1", member(id))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"c", "a", "b"}, r.MembersOf("doc-1").IDs())

	r.Leave("doc-1", "a")
	assert.Equal(t, []string{"c", "b"}, r.MembersOf("doc-1").IDs())
}

func TestRegistry_LeaveIsIdempotentAndDestroysEmptyRoom(t *testing.T) {
	l := &recordingListener{}
	r := New(WithListener(l))

	_, err := r.Join("doc-1", member("a"))
	require.NoError(t, err)

	assert.True(t, r.Leave("doc-1", "a"))
	assert.False(t, r.Leave("doc-1", "a"))
	assert.False(t, r.Leave("never-existed", "a"))

	assert.Empty(t, r.Rooms())
	assert.Nil(t, r.MembersOf("doc-1"))
	_, ok := r.RoomOf("a")
	assert.False(t, ok)

	events := l.all()
	require.Len(t, events, 2)
	assert.Equal(t, "leave", events[1].kind)
	assert.Empty(t, events[1].members)
}

func TestRegistry_OneRoomPerConnection(t *testing.T) {
	r := New()
	_, err := r.Join("doc-1", member("a"))
	require.NoError(t, err)

	_, err = r.Join("doc-2", member("a"))
	assert.ErrorIs(t, err, protocol.ErrAlreadyJoined)
	assert.Nil(t, r.MembersOf("doc-2"))

	r.Leave("doc-1", "a")
	_, err = r.Join("doc-2", member("a"))
	assert.NoError(t, err)
}

func TestRegistry_JoinValidation(t *testing.T) {
	r := New()
	_, err := r.Join("", member("a"))
	assert.ErrorIs(t, err, protocol.ErrBadRequest)
	_, err = r.Join("doc-1", Member{})
	assert.ErrorIs(t, err, protocol.ErrBadRequest)
}

func TestRegistry_ListenerSeesTransitionsInOrder(t *testing.T) {
	l := &recordingListener{}
	r := New()
	r.AddListener(l)

	_, _ = r.Join("doc-1", member("a"))
	_, _ = r.Join("doc-1", member("b"))
	r.Leave("doc-1", "a")

	assert.Equal(t, []event{
		{kind: "join", room: "doc-1", conn: "a", members: []string{"a"}},
		{kind: "join", room: "doc-1", conn: "b", members: []string{"a", "b"}},
		{kind: "leave", room: "doc-1", conn: "a", members: []string{"b"}},
	}, l.all())
}

func TestRegistry_RejoinAfterRoomDestroyed(t *testing.T) {
	r := New()
	_, _ = r.Join("doc-1", member("a"))
	r.Leave("doc-1", "a")

	members, err := r.Join("doc-1", member("b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, members.IDs())
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	r := New()
	const rooms = 8
	const perRoom = 50

	var wg sync.WaitGroup
	for i := 0; i < rooms; i++ {
		for j := 0; j < perRoom; j++ {
			wg.Add(1)
			go func(i, j int) {
				defer wg.Done()
				roomID := fmt.Sprintf("doc-%d", i)
				connID := fmt.Sprintf("c-%d-%d", i, j)
				_, err := r.Join(roomID, member(connID))
				assert.NoError(t, err)
				if j%2 == 0 {
					r.Leave(roomID, connID)
				}
			}(i, j)
		}
	}
	wg.Wait()

	total, members := r.Stats()
	assert.Equal(t, rooms, total)
	assert.Equal(t, rooms*perRoom/2, members)
	for i := 0; i < rooms; i++ {
		assert.Len(t, r.MembersOf(fmt.Sprintf("doc-%d", i)), perRoom/2)
	}
}

func TestRegistry_ConcurrentChurnOnSingleRoom(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for j := 0; j < 100; j++ {
		wg.Add(1)
		go func(j int) {
			defer wg.Done()
			connID := fmt.Sprintf("c-%d", j)
			for k := 0; k < 20; k++ {
				_, err := r.Join("hot", member(connID))
				assert.NoError(t, err)
				r.Leave("hot", connID)
			}
		}(j)
	}
	wg.Wait()

	assert.Empty(t, r.MembersOf("hot"))
	assert.Empty(t, r.Rooms())
}

func TestMemberSet_Except(t *testing.T) {
	set := MemberSet{member("a"), member("b"), member("c")}
	assert.Equal(t, []string{"a", "c"}, set.Except("b"))
	assert.True(t, set.Contains("c"))
	assert.False(t, set.Contains("z"))
}
