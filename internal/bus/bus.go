package bus

import (
	"time"

	"github.com/google/uuid"
)

// Event is one typed entry on a session's event queue. Events are
// append-only and ordered by monotonic timestamp within a session.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	SessionID uuid.UUID      `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Content   map[string]any `json:"content"`

	// Ephemeral events (acks, pongs, handshakes) are delivered but never
	// persisted.
	Ephemeral bool `json:"-"`
}

// New builds an event of the given kind for a session.
func New(sessionID uuid.UUID, kind string, content map[string]any) Event {
	if content == nil {
		content = map[string]any{}
	}
	return Event{
		ID:        uuid.New(),
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Type:      kind,
		Content:   content,
	}
}

// Queue is the per-session event queue: producers (agent loop, tools,
// orchestrator) push, one drain goroutine pops to the websocket.
// Bounded by its buffer: Push blocks while the buffer is full, which
// applies backpressure to producers. Close is idempotent.
type Queue struct {
	ch     chan Event
	closed chan struct{}
}

// NewQueue returns a queue with the given buffer. A buffer of 0 falls
// back to a generous default so producers rarely block.
func NewQueue(buffer int) *Queue {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Queue{
		ch:     make(chan Event, buffer),
		closed: make(chan struct{}),
	}
}

// Push enqueues an event. Events pushed after Close are dropped.
func (q *Queue) Push(ev Event) {
	select {
	case <-q.closed:
		return
	default:
	}
	select {
	case <-q.closed:
	case q.ch <- ev:
	}
}

// Events exposes the receive side for the drain goroutine.
func (q *Queue) Events() <-chan Event { return q.ch }

// Close stops accepting events. Pending events remain readable.
func (q *Queue) Close() {
	select {
	case <-q.closed:
	default:
		close(q.closed)
	}
}
