package protocol

import (
	"encoding/json"
	"fmt"
)

// Kind classifies envelopes for the outbound overflow policy.
type Kind string

const (
	KindDelta    Kind = "delta"
	KindCursor   Kind = "cursor"
	KindPresence Kind = "presence-event"
	KindControl  Kind = "control"
)

// Droppable reports whether an envelope of this kind may be discarded when a
// recipient's outbound queue is full. Only cursor updates are.
func (k Kind) Droppable() bool {
	return k == KindCursor
}

// Envelope is one message in flight between a publisher and a recipient.
// It is never persisted.
type Envelope struct {
	RoomID   string
	SenderID string
	Identity string
	Kind     Kind
	Seq      uint64
	Payload  json.RawMessage
}

// FrameEnvelope wraps a server frame (presence events, control replies) as an
// envelope whose payload is the encoded frame.
func FrameEnvelope(kind Kind, frame ServerFrame) (Envelope, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s frame: %w", frame.Type, err)
	}
	return Envelope{
		RoomID:   frame.RoomID,
		SenderID: frame.ConnectionID,
		Identity: frame.Identity,
		Kind:     kind,
		Payload:  data,
	}, nil
}

// Encode renders the envelope as a wire frame.
func (e Envelope) Encode() ([]byte, error) {
	switch e.Kind {
	case KindDelta:
		return json.Marshal(ServerFrame{
			Type:     TypeDelta,
			RoomID:   e.RoomID,
			SenderID: e.SenderID,
			Identity: e.Identity,
			Seq:      e.Seq,
			Payload:  e.Payload,
		})
	case KindCursor:
		return json.Marshal(ServerFrame{
			Type:     TypeCursor,
			RoomID:   e.RoomID,
			SenderID: e.SenderID,
			Identity: e.Identity,
			Seq:      e.Seq,
			Position: e.Payload,
		})
	case KindPresence, KindControl:
		return e.Payload, nil
	default:
		return nil, fmt.Errorf("unknown envelope kind %q", e.Kind)
	}
}
