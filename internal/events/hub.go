// Package events is the in-memory pub/sub used to surface runtime activity
// (spawns, crashes, dispatches) to the ops API and the watch TUI. Delivery
// is best-effort: slow subscribers miss events rather than block producers.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Well-known event types published by the runtime.
const (
	TypeSpawned    = "instance.spawned"
	TypeSpawnError = "instance.spawn_error"
	TypeTerminated = "instance.terminated"
	TypeCrashed    = "instance.crashed"
	TypeDispatched = "update.dispatched"
	TypeSettings   = "instance.settings_changed"
)

// Event is one published record. Data holds the JSON-encoded payload.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Hub fans events out to subscribers and keeps a small ring buffer so late
// clients can catch up.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs    map[int]chan Event
	nextSub int
}

// NewHub creates a hub with the given ring capacity.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 128
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

// Publish records an event and delivers it to every subscriber that has
// channel capacity left.
func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.push(ev)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of future events and a cancel func. Cancel
// is safe to call once; the channel closes after cancellation.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSub
	h.nextSub++
	ch := make(chan Event, 64)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Since returns buffered events with ID > lastID, oldest first. lastID 0
// returns the whole buffer.
func (h *Hub) Since(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

// push assumes h.mu is held.
func (h *Hub) push(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
