package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bynery-main/limonata-notion-clone-sub001/relay/protocol"
)

func env(kind protocol.Kind, seq uint64) protocol.Envelope {
	return protocol.Envelope{RoomID: "doc-1", SenderID: "A", Kind: kind, Seq: seq}
}

func seqs(envs []protocol.Envelope) []uint64 {
	out := make([]uint64, len(envs))
	for i, e := range envs {
		out[i] = e.Seq
	}
	return out
}

func TestOutbox_FIFO(t *testing.T) {
	o := NewOutbox(4)
	for i := uint64(1); i <= 3; i++ {
		dropped, err := o.Push(env(protocol.KindDelta, i))
		require.NoError(t, err)
		assert.Zero(t, dropped)
	}

	select {
	case <-o.Ready():
	default:
		t.Fatal("expected ready signal")
	}

	assert.Equal(t, []uint64{1, 2, 3}, seqs(o.Drain()))
	assert.Nil(t, o.Drain())
	assert.Zero(t, o.Len())
}

func TestOutbox_DeltaRetainedWhenSaturatedWithCursors(t *testing.T) {
	o := NewOutbox(3)
	for i := uint64(1); i <= 3; i++ {
		_, err := o.Push(env(protocol.KindCursor, i))
		require.NoError(t, err)
	}

	dropped, err := o.Push(env(protocol.KindDelta, 4))
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)

	got := o.Drain()
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{2, 3, 4}, seqs(got), "oldest cursor is discarded, delta kept at the tail")
	assert.Equal(t, protocol.KindDelta, got[2].Kind)
}

func TestOutbox_CursorOverflowDropsOldestCursor(t *testing.T) {
	o := NewOutbox(3)
	_, _ = o.Push(env(protocol.KindDelta, 1))
	_, _ = o.Push(env(protocol.KindCursor, 2))
	_, _ = o.Push(env(protocol.KindDelta, 3))

	dropped, err := o.Push(env(protocol.KindCursor, 4))
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, []uint64{1, 3, 4}, seqs(o.Drain()))
}

func TestOutbox_CursorDiscardedWhenOnlyCriticalQueued(t *testing.T) {
	o := NewOutbox(2)
	_, _ = o.Push(env(protocol.KindDelta, 1))
	_, _ = o.Push(env(protocol.KindPresence, 2))

	dropped, err := o.Push(env(protocol.KindCursor, 3))
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, []uint64{1, 2}, seqs(o.Drain()))
}

func TestOutbox_SlowConsumerOnCriticalOverflow(t *testing.T) {
	o := NewOutbox(2)
	_, _ = o.Push(env(protocol.KindDelta, 1))
	_, _ = o.Push(env(protocol.KindDelta, 2))

	_, err := o.Push(env(protocol.KindPresence, 3))
	assert.ErrorIs(t, err, protocol.ErrSlowConsumer)
	assert.Equal(t, 2, o.Len(), "nothing critical is discarded")
}

func TestOutbox_Closed(t *testing.T) {
	o := NewOutbox(2)
	_, _ = o.Push(env(protocol.KindControl, 1))
	o.Close()

	_, err := o.Push(env(protocol.KindDelta, 2))
	assert.ErrorIs(t, err, ErrOutboxClosed)
	assert.Equal(t, []uint64{1}, seqs(o.Drain()))
}

func TestOutbox_PopLeavesRemainderDroppable(t *testing.T) {
	o := NewOutbox(3)
	_, _ = o.Push(env(protocol.KindCursor, 1))
	_, _ = o.Push(env(protocol.KindCursor, 2))
	_, _ = o.Push(env(protocol.KindDelta, 3))

	head, ok := o.Pop()
	require.True(t, ok)
	assert.Equal(t, uint64(1), head.Seq)

	_, _ = o.Push(env(protocol.KindDelta, 4))
	dropped, err := o.Push(env(protocol.KindDelta, 5))
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, []uint64{3, 4, 5}, seqs(o.Drain()))

	_, ok = o.Pop()
	assert.False(t, ok)
}
