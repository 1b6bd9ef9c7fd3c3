package protocol

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := Errorf(CodeNotJoined, "room %s", "doc-1")
	assert.ErrorIs(t, err, ErrNotJoined)
	assert.NotErrorIs(t, err, ErrAlreadyJoined)

	wrapped := fmt.Errorf("publish: %w", err)
	assert.ErrorIs(t, wrapped, ErrNotJoined)
	assert.Equal(t, CodeNotJoined, CodeOf(wrapped))
}

func TestCodeOfForeignError(t *testing.T) {
	assert.Equal(t, CodeServiceUnavailable, CodeOf(fmt.Errorf("disk on fire")))
}

func TestErrorFrame(t *testing.T) {
	frame := ErrorFrame(fmt.Errorf("join: %w", ErrAlreadyJoined))
	assert.Equal(t, TypeError, frame.Type)
	assert.Equal(t, CodeAlreadyJoined, frame.Code)
	assert.Equal(t, ErrAlreadyJoined.Message, frame.Message)
}

func TestDecodeClientFrame(t *testing.T) {
	frame, err := DecodeClientFrame([]byte(`{"type":"cursor","position":{"x":10,"y":20}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeCursor, frame.Type)
	assert.JSONEq(t, `{"x":10,"y":20}`, string(frame.Position))

	_, err = DecodeClientFrame([]byte(`{"position":1}`))
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = DecodeClientFrame([]byte(`not json`))
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestEnvelopeEncode(t *testing.T) {
	t.Run("delta", func(t *testing.T) {
		data, err := Envelope{
			RoomID: "doc-1", SenderID: "c1", Identity: "alice",
			Kind: KindDelta, Seq: 3, Payload: json.RawMessage(`{"ops":[1]}`),
		}.Encode()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"delta","roomId":"doc-1","senderId":"c1","identity":"alice","seq":3,"payload":{"ops":[1]}}`, string(data))
	})

	t.Run("cursor carries position", func(t *testing.T) {
		data, err := Envelope{
			RoomID: "doc-1", SenderID: "c1", Kind: KindCursor, Seq: 1,
			Payload: json.RawMessage(`{"x":10,"y":20}`),
		}.Encode()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"cursor","roomId":"doc-1","senderId":"c1","seq":1,"position":{"x":10,"y":20}}`, string(data))
	})

	t.Run("presence frame passes through", func(t *testing.T) {
		env, err := FrameEnvelope(KindPresence, ServerFrame{
			Type: TypeMemberLeft, RoomID: "doc-1", ConnectionID: "c2", Identity: "bob",
		})
		require.NoError(t, err)
		assert.Equal(t, "c2", env.SenderID)
		data, err := env.Encode()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"memberLeft","roomId":"doc-1","connectionId":"c2","identity":"bob"}`, string(data))
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := Envelope{Kind: "bogus"}.Encode()
		assert.Error(t, err)
	})
}

func TestKindDroppable(t *testing.T) {
	assert.True(t, KindCursor.Droppable())
	assert.False(t, KindDelta.Droppable())
	assert.False(t, KindPresence.Droppable())
	assert.False(t, KindControl.Droppable())
}
