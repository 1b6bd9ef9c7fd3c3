package service

import (
	"time"

	"github.com/bynery-main/limonata-notion-clone-sub001/relay/presence"
)

// RoomSummary is one entry of the room list.
type RoomSummary struct {
	ID        string    `json:"id"`
	Members   int       `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomDetail is a live room with its members' presence.
type RoomDetail struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Members   []presence.Record `json:"members"`
}

// Stats is a point-in-time view of the relay.
type Stats struct {
	Rooms       int       `json:"rooms"`
	Members     int       `json:"members"`
	Connections int       `json:"connections"`
	StartedAt   time.Time `json:"started_at"`
	Uptime      string    `json:"uptime"`
}
