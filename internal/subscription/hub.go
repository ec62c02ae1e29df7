// Package subscription routes change events to interested callers. A
// subscription is an explicit handle whose Unsubscribe is safe to call
// while an event for the same topic is in flight: delivery after
// unsubscribe is a no-op, not an error.
package subscription

import (
	"sync"
	"sync/atomic"

	"github.com/roomly/matchtalk/internal/event"
)

// Topic helpers. The hub is keyed by opaque strings so a subscriber can
// follow a single conversation or everything involving a user.
func ConversationTopic(conversationID string) string { return "conv:" + conversationID }
func UserTopic(userID string) string                 { return "user:" + userID }

type Handler func(ev event.ChangeEvent)

type Subscription struct {
	hub    *Hub
	id     uint64
	topic  string
	fn     Handler
	closed atomic.Bool
}

// Unsubscribe detaches the handler. Idempotent. An event already snapshot
// for delivery when this returns is usually dropped by the closed check,
// but the check is best-effort: a Publish racing this call can still
// invoke the handler once after Unsubscribe returns, so handlers must
// tolerate one trailing delivery rather than assume strict quiescence.
func (s *Subscription) Unsubscribe() {
	if s.closed.Swap(true) {
		return
	}
	s.hub.remove(s)
}

type Hub struct {
	mu     sync.Mutex
	nextID uint64
	topics map[string]map[uint64]*Subscription
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[uint64]*Subscription)}
}

func (h *Hub) Subscribe(topic string, fn Handler) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{hub: h, id: h.nextID, topic: topic, fn: fn}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[uint64]*Subscription)
	}
	h.topics[topic][sub.id] = sub
	return sub
}

// Publish delivers ev to every live subscriber of topic. Handlers run on
// the caller's goroutine, outside the hub lock, so a handler may
// unsubscribe itself or others without deadlocking.
func (h *Hub) Publish(topic string, ev event.ChangeEvent) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.topics[topic]))
	for _, s := range h.topics[topic] {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		if s.closed.Load() {
			continue
		}
		s.fn(ev)
	}
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.topics[s.topic]; ok {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(h.topics, s.topic)
		}
	}
}
