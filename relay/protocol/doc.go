// Package protocol defines the messages exchanged by the collaboration relay.
//
// The relay speaks JSON text frames over a persistent websocket. Clients send
// ClientFrame values (authenticate, join, leave, delta, cursor, heartbeat) and
// receive ServerFrame values. Inside the process, fan-out works on Envelope
// values; an Envelope is encoded to its wire frame only by the connection that
// writes it.
//
// Payloads (edit deltas, cursor positions, profiles) are opaque JSON. The relay
// never inspects them beyond checking that they are well-formed.
//
// Errors:
//
// Every error that can reach a client is an *Error carrying a Code from the
// relay taxonomy (AuthFailed, AlreadyJoined, NotJoined, SlowConsumer,
// ServiceUnavailable, Unauthorized). Errors compare by code, so
// errors.Is(err, protocol.ErrNotJoined) holds for any NotJoined error
// regardless of message.
package protocol
