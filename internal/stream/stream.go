// Package stream fans out broadcast change notices to connected clients.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"shoplist.app/internal/broadcast"
)

const subscriberBuffer = 16

// Event tells a client that the visible set may have changed. Clients re-fetch
// GET /broadcasts; the event never carries broadcast content.
type Event struct {
	Kind        broadcast.ChangeKind `json:"kind"`
	BroadcastID int64                `json:"broadcast_id"`
	At          time.Time            `json:"at"`
}

var _ broadcast.Notifier = (*Hub)(nil)

// Hub fans out events to all active subscribers (SSE clients).
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	dropped atomic.Int64
	now     func() time.Time
}

// New returns a hub with no subscribers.
func New() *Hub {
	return &Hub{
		subs: make(map[int]chan Event),
		now:  time.Now,
	}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (h *Hub) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish fans the event out to all subscribers. Slow subscribers miss events
// rather than block the publisher.
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			h.dropped.Add(1)
		}
	}
}

// BroadcastChanged implements broadcast.Notifier.
func (h *Hub) BroadcastChanged(kind broadcast.ChangeKind, id int64) {
	h.Publish(Event{Kind: kind, BroadcastID: id, At: h.now().UTC()})
}

// Subscribers reports the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many deliveries were skipped for slow subscribers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }
