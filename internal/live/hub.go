package live

import (
	"sync"

	"github.com/smallbiznis/voxbill/internal/registry"
)

const defaultSubscriberBuffer = 16

// Hub fans Snapshots out to live subscribers. It retains the most recent
// Snapshot so late joiners catch up at Subscribe time.
type Hub struct {
	mu               sync.RWMutex
	subs             map[uint64]chan registry.Snapshot
	nextID           uint64
	latest           registry.Snapshot
	subscriberBuffer int
}

// Subscription is one subscriber's handle on the hub.
type Subscription struct {
	hub  *Hub
	id   uint64
	ch   chan registry.Snapshot
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{
		subs:             make(map[uint64]chan registry.Snapshot),
		subscriberBuffer: defaultSubscriberBuffer,
	}
}

// Publish records snapshot as current and broadcasts it. Slow subscribers
// miss intermediate generations rather than stall the drain loop.
func (h *Hub) Publish(snapshot registry.Snapshot) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.latest = snapshot
	subs := make([]chan registry.Snapshot, 0, len(h.subs))
	for _, ch := range h.subs {
		subs = append(subs, ch)
	}
	h.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

// Subscribe registers a new subscriber and returns the current Snapshot for
// immediate delivery.
func (h *Hub) Subscribe() (*Subscription, registry.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan registry.Snapshot, h.subscriberBuffer)
	h.subs[id] = ch

	return &Subscription{hub: h, id: id, ch: ch}, h.latest
}

// Current returns the most recently published Snapshot.
func (h *Hub) Current() registry.Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

// Snapshots returns the subscriber's delivery channel.
func (s *Subscription) Snapshots() <-chan registry.Snapshot {
	if s == nil {
		return nil
	}
	return s.ch
}

// Close is idempotent.
func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.id)
	})
}
