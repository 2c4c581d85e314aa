// Package hub fans normalized events out to subscribed UI sessions, scoped
// by conversation room.
package hub

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/loomchat/loom/internal/bridge"
)

// ActivityListener is notified when a conversation gains its first subscriber
// or loses its last one. The ingestion engine uses this to drive the active
// polling set.
type ActivityListener interface {
	ConversationActivated(provider bridge.ProviderID, conversationID string)
	ConversationDeactivated(provider bridge.ProviderID, conversationID string)
}

// Subscriber is one UI session's event feed. Delivery is at-least-once;
// consumers de-duplicate by message id.
type Subscriber struct {
	id     string
	events chan bridge.Event
}

// ID returns the opaque subscriber id.
func (s *Subscriber) ID() string { return s.id }

// Events is the subscriber's receive channel. It is closed when the
// subscriber is removed from the hub.
func (s *Subscriber) Events() <-chan bridge.Event { return s.events }

func roomKey(provider bridge.ProviderID, conversationID string) string {
	return provider.String() + ":" + conversationID
}

// Hub is a room-keyed publish/subscribe fan-out. Session status events reach
// every subscriber; message events reach the subscribers of their room.
type Hub struct {
	logger *slog.Logger

	mu       sync.RWMutex
	rooms    map[string]map[*Subscriber]struct{}
	joined   map[*Subscriber]map[string]struct{}
	listener ActivityListener
}

// New creates an empty Hub.
func New(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		logger: log.With(slog.String("component", "hub")),
		rooms:  map[string]map[*Subscriber]struct{}{},
		joined: map[*Subscriber]map[string]struct{}{},
	}
}

// SetActivityListener installs the first-join/last-leave hook.
func (h *Hub) SetActivityListener(l ActivityListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listener = l
}

// NewSubscriber registers a subscriber with the given event buffer.
// A subscriber that falls this far behind is dropped.
func (h *Hub) NewSubscriber(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &Subscriber{
		id:     uuid.NewString(),
		events: make(chan bridge.Event, buffer),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joined[sub] = map[string]struct{}{}
	return sub
}

// Join subscribes sub to a conversation room.
func (h *Hub) Join(sub *Subscriber, provider bridge.ProviderID, conversationID string) {
	key := roomKey(provider, conversationID)

	h.mu.Lock()
	if _, known := h.joined[sub]; !known {
		h.mu.Unlock()
		return
	}
	first := len(h.rooms[key]) == 0
	if h.rooms[key] == nil {
		h.rooms[key] = map[*Subscriber]struct{}{}
	}
	h.rooms[key][sub] = struct{}{}
	h.joined[sub][key] = struct{}{}
	listener := h.listener
	h.mu.Unlock()

	if first && listener != nil {
		listener.ConversationActivated(provider, conversationID)
	}
}

// Leave removes sub from a conversation room.
func (h *Hub) Leave(sub *Subscriber, provider bridge.ProviderID, conversationID string) {
	key := roomKey(provider, conversationID)

	h.mu.Lock()
	set := h.rooms[key]
	removed := false
	if set != nil {
		if _, ok := set[sub]; ok {
			delete(set, sub)
			removed = true
		}
		if len(set) == 0 {
			delete(h.rooms, key)
		}
	}
	if joined := h.joined[sub]; joined != nil {
		delete(joined, key)
	}
	last := removed && len(h.rooms[key]) == 0
	listener := h.listener
	h.mu.Unlock()

	if last && listener != nil {
		listener.ConversationDeactivated(provider, conversationID)
	}
}

// Unsubscribe removes sub from every room and closes its event channel.
// Calling it again for an already removed subscriber is a no-op.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	keys, known := h.joined[sub]
	if !known {
		h.mu.Unlock()
		return
	}
	delete(h.joined, sub)
	type emptied struct {
		provider bridge.ProviderID
		conv     string
	}
	var drained []emptied
	for key := range keys {
		set := h.rooms[key]
		if set == nil {
			continue
		}
		delete(set, sub)
		if len(set) == 0 {
			delete(h.rooms, key)
			if p, conv, ok := splitRoomKey(key); ok {
				drained = append(drained, emptied{provider: p, conv: conv})
			}
		}
	}
	listener := h.listener
	h.mu.Unlock()

	close(sub.events)
	if listener != nil {
		for _, e := range drained {
			listener.ConversationDeactivated(e.provider, e.conv)
		}
	}
}

// Publish delivers an event to its audience: the conversation room for
// message events, every subscriber for session status.
func (h *Hub) Publish(ev bridge.Event) {
	h.mu.RLock()
	var targets []*Subscriber
	if ev.Kind == bridge.EventSessionStatus {
		targets = make([]*Subscriber, 0, len(h.joined))
		for sub := range h.joined {
			targets = append(targets, sub)
		}
	} else {
		set := h.rooms[roomKey(ev.Provider, ev.ConversationID)]
		targets = make([]*Subscriber, 0, len(set))
		for sub := range set {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	var stalled []*Subscriber
	for _, sub := range targets {
		select {
		case sub.events <- ev:
		default:
			stalled = append(stalled, sub)
		}
	}
	for _, sub := range stalled {
		h.logger.Warn("dropping slow subscriber", slog.String("subscriber", sub.id))
		h.Unsubscribe(sub)
	}
}

// SubscriberCount reports how many subscribers a room currently has.
func (h *Hub) SubscriberCount(provider bridge.ProviderID, conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomKey(provider, conversationID)])
}

func splitRoomKey(key string) (bridge.ProviderID, string, bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return bridge.ProviderID(key[:i]), key[i+1:], true
		}
	}
	return "", "", false
}
