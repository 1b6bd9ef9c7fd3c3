// Package registry holds the authoritative room membership of the relay.
//
// A room is identified by an opaque id (usually a document id). It is created
// lazily on the first join and destroyed when its last member leaves. Members
// are kept in join order so presence lists render stably.
//
// Concurrency:
//
// Each room has its own mutex; the registry-wide lock only guards the room
// map, so joins and leaves in unrelated rooms never contend. Join and Leave on
// the same room are linearizable.
//
// Listeners:
//
// Listeners observe membership transitions. They run inside the room's
// exclusive section, so every listener sees the transitions of one room in
// the same order as the member set changed. A listener must not block and
// must not call back into the registry.
//
// A connection belongs to at most one room at a time; Join reports
// protocol.ErrAlreadyJoined if the connection is still in another room.
package registry
