package websocket

import (
	"errors"
	"sync"

	"github.com/bynery-main/limonata-notion-clone-sub001/relay/protocol"
)

// ErrOutboxClosed is returned by Push once the connection is tearing down.
var ErrOutboxClosed = errors.New("outbox closed")

// Outbox is a connection's bounded outbound queue.
//
// When full, it makes room by discarding the oldest queued cursor update.
// Deltas, presence events and control replies are never discarded: if the
// queue holds nothing droppable, Push fails with protocol.ErrSlowConsumer and
// the caller must close the connection.
type Outbox struct {
	mu       sync.Mutex
	items    []protocol.Envelope
	capacity int
	ready    chan struct{}
	closed   bool
}

// NewOutbox creates an outbox holding at most capacity envelopes.
func NewOutbox(capacity int) *Outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &Outbox{
		items:    make([]protocol.Envelope, 0, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// Push enqueues env without blocking. dropped counts cursor updates discarded
// to honor the capacity, including env itself when it could not be queued.
func (o *Outbox) Push(env protocol.Envelope) (dropped int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return 0, ErrOutboxClosed
	}

	if len(o.items) >= o.capacity {
		idx := o.oldestDroppable()
		switch {
		case idx >= 0:
			o.items = append(o.items[:idx], o.items[idx+1:]...)
			dropped = 1
		case env.Kind.Droppable():
			return 1, nil
		default:
			return 0, protocol.ErrSlowConsumer
		}
	}

	o.items = append(o.items, env)
	select {
	case o.ready <- struct{}{}:
	default:
	}
	return dropped, nil
}

// Ready is signalled whenever envelopes are waiting.
func (o *Outbox) Ready() <-chan struct{} {
	return o.ready
}

// Pop removes and returns the oldest queued envelope.
func (o *Outbox) Pop() (protocol.Envelope, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.items) == 0 {
		return protocol.Envelope{}, false
	}
	env := o.items[0]
	o.items[0] = protocol.Envelope{}
	o.items = o.items[1:]
	return env, true
}

// Drain removes and returns everything queued, oldest first.
func (o *Outbox) Drain() []protocol.Envelope {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.items) == 0 {
		return nil
	}
	out := o.items
	o.items = make([]protocol.Envelope, 0, o.capacity)
	return out
}

// Len returns the number of queued envelopes.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

// Close rejects further pushes. Envelopes already queued stay drainable.
func (o *Outbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
}

func (o *Outbox) oldestDroppable() int {
	for i, env := range o.items {
		if env.Kind.Droppable() {
			return i
		}
	}
	return -1
}
