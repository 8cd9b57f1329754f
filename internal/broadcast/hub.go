// Package broadcast fans change, save, and error events out to every
// currently subscribed real-time client.
package broadcast

import (
	"sync"
	"sync/atomic"
)

type Logger interface {
	Printf(format string, args ...any)
}

type EventType string

const (
	EventDataChanged EventType = "excel-data-changed"
	EventDataSaved   EventType = "portal-data-saved"
	EventSyncError   EventType = "sync-error"
)

// Event is one notification delivered to subscribers. Fields not relevant
// to the event type are omitted from the wire form.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp string    `json:"timestamp"`
	ChangeID  string    `json:"changeId,omitempty"`
	Direction string    `json:"syncDirection,omitempty"`
	DataType  string    `json:"dataType,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Record    any       `json:"record,omitempty"`
	Changes   any       `json:"changes,omitempty"`
	Error     string    `json:"error,omitempty"`
	Context   string    `json:"context,omitempty"`
}

type HubOptions struct {
	// Buffer is the per-subscriber channel depth. A subscriber that falls
	// this far behind starts dropping events rather than blocking a sync
	// pass.
	Buffer int
	Logger Logger
}

type Hub struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]chan Event
	buffer  int
	logger  Logger
	dropped uint64
	closed  bool
}

func NewHub(opts HubOptions) *Hub {
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		subs:   map[int]chan Event{},
		buffer: buffer,
		logger: opts.Logger,
	}
}

// Subscribe registers a new receiver. The returned channel is closed on
// Unsubscribe or when the hub shuts down.
func (h *Hub) Subscribe() (int, <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	ch := make(chan Event, h.buffer)
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subs[id] = ch
	return id, ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(ch)
}

// Publish delivers the event to every subscriber without blocking. Delivery
// to a full subscriber is dropped and counted.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			atomic.AddUint64(&h.dropped, 1)
			h.logf("[BROADCAST] subscriber %d is slow, dropped %s event", id, event.Type)
		}
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Dropped() uint64 {
	return atomic.LoadUint64(&h.dropped)
}

// Close ends every subscription. Idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *Hub) logf(format string, args ...any) {
	if h.logger == nil {
		return
	}
	h.logger.Printf(format, args...)
}
