package broadcast

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bynery-main/limonata-notion-clone-sub001/relay/protocol"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/registry"
)

type fakeSender struct {
	mu      sync.Mutex
	inbox   map[string][]protocol.Envelope
	failFor map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{inbox: make(map[string][]protocol.Envelope), failFor: make(map[string]bool)}
}

func (s *fakeSender) Send(connID string, env protocol.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[connID] {
		return ErrUnknownConnection
	}
	s.inbox[connID] = append(s.inbox[connID], env)
	return nil
}

func (s *fakeSender) received(connID string) []protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Envelope(nil), s.inbox[connID]...)
}

func newRelay(t *testing.T, members map[string][]string) (*Relay, *registry.Registry, *fakeSender) {
	t.Helper()
	sender := newFakeSender()
	reg := registry.New()
	relay := New(reg, sender)
	reg.AddListener(relay)
	for room, conns := range members {
		for _, c := range conns {
			_, err := reg.Join(room, registry.Member{ConnID: c, Identity: "id-" + c})
			require.NoError(t, err)
		}
	}
	return relay, reg, sender
}

func TestRelay_PublishReachesOtherMembersOnly(t *testing.T) {
	relay, _, sender := newRelay(t, map[string][]string{
		"doc-1": {"A", "B", "C"},
		"doc-2": {"D"},
	})

	seq, err := relay.Publish("doc-1", "A", protocol.KindDelta, json.RawMessage(`{"op":"insert"}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	assert.Empty(t, sender.received("A"), "sender must not receive its own message")
	assert.Empty(t, sender.received("D"), "other rooms must not receive it")
	for _, c := range []string{"B", "C"} {
		got := sender.received(c)
		require.Len(t, got, 1)
		assert.Equal(t, protocol.Envelope{
			RoomID: "doc-1", SenderID: "A", Identity: "id-A",
			Kind: protocol.KindDelta, Seq: 1, Payload: json.RawMessage(`{"op":"insert"}`),
		}, got[0])
	}
}

func TestRelay_CursorScenario(t *testing.T) {
	relay, _, sender := newRelay(t, map[string][]string{"doc-1": {"A", "B"}})

	_, err := relay.Publish("doc-1", "A", protocol.KindCursor, json.RawMessage(`{"x":10,"y":20}`))
	require.NoError(t, err)

	got := sender.received("B")
	require.Len(t, got, 1)
	data, err := got[0].Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"cursor","roomId":"doc-1","senderId":"A","identity":"id-A","seq":1,"position":{"x":10,"y":20}}`, string(data))
	assert.Empty(t, sender.received("A"))
}

func TestRelay_PerSenderOrdering(t *testing.T) {
	relay, _, sender := newRelay(t, map[string][]string{"doc-1": {"A", "B", "C"}})

	var wg sync.WaitGroup
	for _, s := range []string{"A", "B"} {
		wg.Add(1)
		go func(s string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_, err := relay.Publish("doc-1", s, protocol.KindDelta, json.RawMessage(fmt.Sprintf(`%d`, i)))
				assert.NoError(t, err)
			}
		}(s)
	}
	wg.Wait()

	last := map[string]uint64{}
	for _, env := range sender.received("C") {
		assert.Equal(t, last[env.SenderID]+1, env.Seq, "sequence from %s must be gapless and increasing", env.SenderID)
		last[env.SenderID] = env.Seq
	}
	assert.Equal(t, uint64(200), last["A"])
	assert.Equal(t, uint64(200), last["B"])
}

func TestRelay_NoBacklogForLateJoiner(t *testing.T) {
	relay, reg, sender := newRelay(t, map[string][]string{"doc-1": {"A", "B"}})

	_, err := relay.Publish("doc-1", "A", protocol.KindDelta, json.RawMessage(`1`))
	require.NoError(t, err)

	_, err = reg.Join("doc-1", registry.Member{ConnID: "C"})
	require.NoError(t, err)
	assert.Empty(t, sender.received("C"))

	_, err = relay.Publish("doc-1", "A", protocol.KindDelta, json.RawMessage(`2`))
	require.NoError(t, err)
	got := sender.received("C")
	require.Len(t, got, 1)
	assert.Equal(t, uint64(2), got[0].Seq)
}

func TestRelay_SenderMustBeMember(t *testing.T) {
	relay, _, _ := newRelay(t, map[string][]string{"doc-1": {"A"}})

	_, err := relay.Publish("doc-1", "Z", protocol.KindDelta, json.RawMessage(`1`))
	assert.ErrorIs(t, err, protocol.ErrNotJoined)
	_, err = relay.Publish("missing", "A", protocol.KindDelta, json.RawMessage(`1`))
	assert.ErrorIs(t, err, protocol.ErrNotJoined)
}

func TestRelay_RejectsUnpublishableKinds(t *testing.T) {
	relay, _, _ := newRelay(t, map[string][]string{"doc-1": {"A"}})
	_, err := relay.Publish("doc-1", "A", protocol.KindPresence, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, protocol.ErrBadRequest)
}

func TestRelay_SequenceResetsOnRejoin(t *testing.T) {
	relay, reg, _ := newRelay(t, map[string][]string{"doc-1": {"A", "B"}})

	for i := 0; i < 3; i++ {
		_, err := relay.Publish("doc-1", "A", protocol.KindDelta, json.RawMessage(`1`))
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(3), relay.Seq("doc-1", "A"))

	reg.Leave("doc-1", "A")
	assert.Equal(t, uint64(0), relay.Seq("doc-1", "A"))

	_, err := reg.Join("doc-1", registry.Member{ConnID: "A"})
	require.NoError(t, err)
	seq, err := relay.Publish("doc-1", "A", protocol.KindDelta, json.RawMessage(`1`))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
}

func TestRelay_DeliverSkipsFailingRecipients(t *testing.T) {
	relay, _, sender := newRelay(t, map[string][]string{"doc-1": {"A", "B", "C"}})
	sender.failFor["B"] = true

	n := relay.Deliver(protocol.Envelope{RoomID: "doc-1", Kind: protocol.KindDelta}, []string{"B", "C"})
	assert.Equal(t, 1, n)
	assert.Len(t, sender.received("C"), 1)
}
