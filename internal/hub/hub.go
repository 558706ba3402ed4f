// Package hub provides per-session fan-out of newly appended messages to
// live stream subscribers.
package hub

import (
	"log/slog"
	"sync"

	"github.com/Sohaibb98/sohaib-energent-task/internal/domain"
)

// subscriberBuffer bounds the per-subscriber delivery queue. A subscriber
// that falls this far behind has its oldest pending deliveries dropped; it
// can recover missed messages by replaying history with a cursor.
const subscriberBuffer = 64

// Subscription is a live attachment to one session's message stream.
// Messages arrive on C in publish order. C is closed when the subscription
// is removed, either by Unsubscribe or by CloseSession.
type Subscription struct {
	C chan *domain.Message

	sessionID string
	id        int64
}

// Hub manages the set of live subscribers per session id and delivers
// every published message to each of them. It holds no history; a
// reconnecting client must replay via the store before subscribing.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[int64]*Subscription
	nextID   int64
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{
		sessions: make(map[string]map[int64]*Subscription),
	}
}

// Subscribe attaches a new subscriber to a session's stream.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		C:         make(chan *domain.Message, subscriberBuffer),
		sessionID: sessionID,
		id:        h.nextID,
	}

	if _, ok := h.sessions[sessionID]; !ok {
		h.sessions[sessionID] = make(map[int64]*Subscription)
	}
	h.sessions[sessionID][sub.id] = sub

	slog.Debug("Stream subscriber attached", "session_id", sessionID, "subscriber_id", sub.id)
	return sub
}

// Unsubscribe detaches a subscriber and closes its channel. It is safe to
// call on an already-removed subscription.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscription) {
	subs, ok := h.sessions[sub.sessionID]
	if !ok {
		return
	}
	if _, exists := subs[sub.id]; !exists {
		return
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(h.sessions, sub.sessionID)
	}
	close(sub.C)
	slog.Debug("Stream subscriber detached", "session_id", sub.sessionID, "subscriber_id", sub.id)
}

// Publish fans a message out to every subscriber of its session. Delivery
// is at-least-once per healthy connection: a subscriber whose buffer is
// full loses its oldest pending delivery rather than blocking the
// publisher or other subscribers.
func (h *Hub) Publish(msg *domain.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.sessions[msg.SessionID] {
		select {
		case sub.C <- msg:
		default:
			// Slow subscriber: shed the oldest queued message to keep
			// deliveries in seq order, then enqueue the new one.
			select {
			case <-sub.C:
			default:
			}
			select {
			case sub.C <- msg:
			default:
			}
			slog.Warn("Dropped stream delivery for slow subscriber",
				"session_id", msg.SessionID, "subscriber_id", sub.id, "seq", msg.Seq)
		}
	}
}

// CloseSession detaches every subscriber of a session. Used when the
// session is deleted.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.sessions[sessionID] {
		h.removeLocked(sub)
	}
}

// SubscriberCount returns the number of live subscribers for a session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}
