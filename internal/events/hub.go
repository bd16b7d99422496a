package events

import (
	"context"
	"log"
	"sync"

	"whosprinting-backend/internal/metrics"
)

// Event names published on the push channel.
const (
	WhosPrinting       = "WhosPrinting"
	RfidTagSeen        = "RfidTagSeen"
	UnknownRfidTagSeen = "UnknownRfidTagSeen"
	PrintStarted       = "PrintStarted"
	PrintDone          = "PrintDone"
	PrintFailed        = "PrintFailed"
)

// Message is one plugin message as delivered to push subscribers.
type Message struct {
	Plugin string `json:"plugin"`
	Data   Data   `json:"data"`
}

// Data carries the event name and its payload.
type Data struct {
	EventEvent   string         `json:"eventEvent"`
	EventPayload map[string]any `json:"eventPayload"`
}

// Publisher sends events on the push channel.
type Publisher interface {
	Publish(ctx context.Context, event string, payload map[string]any)
}

// Mirror receives a copy of every published message.
type Mirror interface {
	Mirror(ctx context.Context, msg Message) error
}

// Hub fans plugin messages out to all current subscribers.
type Hub struct {
	plugin string
	buffer int

	mu     sync.RWMutex
	subs   map[int]chan Message
	next   int
	mirror Mirror
}

// NewHub creates a hub that stamps every message with pluginID.
func NewHub(pluginID string, buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		plugin: pluginID,
		buffer: buffer,
		subs:   make(map[int]chan Message),
	}
}

// SetMirror installs m to receive a copy of every message.
func (h *Hub) SetMirror(m Mirror) {
	h.mu.Lock()
	h.mirror = m
	h.mu.Unlock()
}

// Publish delivers the event to every subscriber. A subscriber whose buffer
// is full is closed rather than skipped, so it reconnects and reloads state
// instead of silently missing a change.
func (h *Hub) Publish(ctx context.Context, event string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	msg := Message{Plugin: h.plugin, Data: Data{EventEvent: event, EventPayload: payload}}
	metrics.PushMessages.WithLabelValues(event).Inc()

	var slow []int
	h.mu.RLock()
	for id, ch := range h.subs {
		select {
		case ch <- msg:
		default:
			slow = append(slow, id)
		}
	}
	mirror := h.mirror
	h.mu.RUnlock()

	for _, id := range slow {
		log.Printf("Push subscriber %d is full, closing it on %s", id, event)
		metrics.PushDropped.Inc()
		h.remove(id)
	}

	if mirror != nil {
		if err := mirror.Mirror(ctx, msg); err != nil {
			log.Printf("Failed to mirror %s: %v", event, err)
		}
	}
}

// Subscribe registers a new subscriber. The returned func unsubscribes and
// closes the channel. The hub may also close the channel itself when the
// subscriber falls behind.
func (h *Hub) Subscribe() (<-chan Message, func()) {
	h.mu.Lock()
	id := h.next
	h.next++
	ch := make(chan Message, h.buffer)
	h.subs[id] = ch
	metrics.PushSubscribers.Inc()
	h.mu.Unlock()

	return ch, func() { h.remove(id) }
}

// remove closes and forgets subscriber id. Removing twice is a no-op.
func (h *Hub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(ch)
	metrics.PushSubscribers.Dec()
}

// Len reports the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// PluginID returns the identity stamped on messages.
func (h *Hub) PluginID() string {
	return h.plugin
}
