// Package events carries the daemon's in-process event stream: admissions,
// deliveries, timeouts, and lifecycle changes. The API event feed and the
// watch screen subscribe to it.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

type Event struct {
	ID   int64     `json:"id"`
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data []byte    `json:"data"` // JSON payload
}

// Hub fans events out to subscribers and keeps a bounded replay buffer so
// late-attaching clients can catch up without missing recent history.
type Hub struct {
	nextID atomic.Int64

	mu      sync.Mutex
	buf     []Event // oldest first, len(buf) <= cap
	maxBuf  int
	subs    map[int]*subscriber
	nextSub int
}

type subscriber struct {
	ch      chan Event
	dropped int64 // events discarded because the channel was full
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		buf:    make([]Event, 0, capacity),
		maxBuf: capacity,
		subs:   make(map[int]*subscriber),
	}
}

func (h *Hub) Publish(eventType string, data any) {
	payload := []byte("{}")
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

	if len(h.buf) == h.maxBuf {
		copy(h.buf, h.buf[1:])
		h.buf = h.buf[:h.maxBuf-1]
	}
	h.buf = append(h.buf, ev)

	for _, s := range h.subs {
		// Don't let slow clients block producers.
		select {
		case s.ch <- ev:
		default:
			s.dropped++
		}
	}
}

func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSub
	h.nextSub++
	sub := &subscriber{ch: make(chan Event, 128)}
	h.subs[id] = sub

	cancel := func() {
		h.mu.Lock()
		if s, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(s.ch)
		}
		h.mu.Unlock()
	}

	return sub.ch, cancel
}

// DroppedEvents reports how many events were discarded across all current
// subscribers because their channels were full.
func (h *Hub) DroppedEvents() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	var n int64
	for _, s := range h.subs {
		n += s.dropped
	}
	return n
}

// SnapshotSince returns buffered events with ID > lastID, oldest-first.
// If lastID is 0, the full replay buffer is returned.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, len(h.buf))
	for _, ev := range h.buf {
		if lastID == 0 || ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}
