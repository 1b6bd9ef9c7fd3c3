// Package websocket is the relay's connection gateway.
//
// Every browser session is one WebSocket connection carrying JSON text
// frames. A connection moves through these states:
//
//	connecting -> authenticated -> joined -> closing -> closed
//	                   ^             |
//	                   +--- leave ---+
//
// The first frame must be authenticate with a token from the token endpoint.
// Anything else, an invalid token or silence past the auth timeout closes
// the connection with an AuthFailed error. An authenticated connection may
// join one room at a time and, once joined, publish deltas and cursor
// updates to the other members.
//
// Message Protocol:
//
// Client frames:
//   - {"type":"authenticate","token":"..."}
//   - {"type":"join","roomId":"doc-1","profile":{...}}
//   - {"type":"leave"}
//   - {"type":"delta","payload":{...}}
//   - {"type":"cursor","position":{...}}
//   - {"type":"heartbeat"}
//
// Server frames are authenticated, joined (with the member list), left,
// memberJoined, memberLeft, delta, cursor, heartbeat and error. Relayed
// frames carry the sender's connection id and a per-sender sequence number.
//
// Each connection has a read loop and a write loop. The read loop owns the
// state machine; the write loop drains a bounded Outbox. When the outbox is
// full the oldest queued cursor update is discarded; if nothing droppable is
// queued the connection is closed as a slow consumer instead of stalling
// the room.
//
// Usage:
//
//	gw := websocket.Start(websocket.Config{IdleTimeout: 30 * time.Second}, issuer)
//	http.Handle("/ws", gw)
//	defer gw.Shutdown(ctx)
package websocket
