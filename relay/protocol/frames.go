package protocol

import (
	"encoding/json"
	"errors"
	"time"
)

// Client frame types.
const (
	TypeAuthenticate = "authenticate"
	TypeJoin         = "join"
	TypeLeave        = "leave"
	TypeDelta        = "delta"
	TypeCursor       = "cursor"
	TypeHeartbeat    = "heartbeat"
)

// Server-only frame types.
const (
	TypeAuthenticated = "authenticated"
	TypeJoined        = "joined"
	TypeLeft          = "left"
	TypeMemberJoined  = "memberJoined"
	TypeMemberLeft    = "memberLeft"
	TypeError         = "error"
)

// ClientFrame is a frame sent by a browser session.
type ClientFrame struct {
	Type     string          `json:"type"`
	Token    string          `json:"token,omitempty"`
	RoomID   string          `json:"roomId,omitempty"`
	Profile  json.RawMessage `json:"profile,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Position json.RawMessage `json:"position,omitempty"`
}

// MemberInfo describes one room member in presence snapshots.
type MemberInfo struct {
	ConnectionID string          `json:"connectionId"`
	Identity     string          `json:"identity"`
	Profile      json.RawMessage `json:"profile,omitempty"`
	Cursor       json.RawMessage `json:"cursor,omitempty"`
	JoinedAt     time.Time       `json:"joinedAt"`
}

// ServerFrame is a frame written to a browser session.
type ServerFrame struct {
	Type         string          `json:"type"`
	RoomID       string          `json:"roomId,omitempty"`
	SenderID     string          `json:"senderId,omitempty"`
	ConnectionID string          `json:"connectionId,omitempty"`
	Identity     string          `json:"identity,omitempty"`
	Seq          uint64          `json:"seq,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Position     json.RawMessage `json:"position,omitempty"`
	Profile      json.RawMessage `json:"profile,omitempty"`
	Members      []MemberInfo    `json:"members,omitempty"`
	ExpiresAt    *time.Time      `json:"expiresAt,omitempty"`
	Code         Code            `json:"code,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// ErrorFrame builds the error frame reported to the offending connection.
func ErrorFrame(err error) ServerFrame {
	frame := ServerFrame{Type: TypeError, Code: CodeOf(err), Message: err.Error()}
	var pe *Error
	if errors.As(err, &pe) && pe.Message != "" {
		frame.Message = pe.Message
	}
	return frame
}

// DecodeClientFrame parses one inbound text frame.
func DecodeClientFrame(data []byte) (ClientFrame, error) {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return ClientFrame{}, Errorf(CodeBadRequest, "invalid frame: %v", err)
	}
	if frame.Type == "" {
		return ClientFrame{}, Errorf(CodeBadRequest, "frame type is required")
	}
	return frame, nil
}
