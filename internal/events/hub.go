// Package events provides the fan-out hub between the core subsystems and
// the presentation layer.
package events

import (
	"sync"
	"time"

	"github.com/sokoniapp/sokoni-core/internal/logging"
)

// Type identifies an event kind.
type Type string

const (
	EventMessageQueued       Type = "queue.message_queued"
	EventSyncStarted         Type = "sync.started"
	EventSyncCompleted       Type = "sync.completed"
	EventSyncFailed          Type = "sync.failed"
	EventMeasurement         Type = "network.measurement"
	EventConnectivityChanged Type = "connectivity.changed"
)

// Event is an immutable snapshot handed to subscribers.
type Event struct {
	Type      Type                   `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// Handler receives published events. Handlers run on the publisher's
// goroutine; they must not block.
type Handler func(Event)

// Hub fans events out to subscribers. Unsubscribe is idempotent and safe
// to call from inside a handler.
type Hub struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{handlers: make(map[int]Handler)}
}

// Subscribe registers a handler and returns its subscription ID.
func (h *Hub) Subscribe(handler Handler) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	h.handlers[h.nextID] = handler
	return h.nextID
}

// Unsubscribe removes a handler. Unknown IDs are ignored.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.handlers, id)
}

// Publish delivers an event to every current subscriber. A panicking
// handler is logged and dropped from the delivery, never propagated back
// into the publishing component.
func (h *Hub) Publish(eventType Type, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UnixNano(),
	}

	// Snapshot under lock so handlers can unsubscribe themselves.
	h.mu.RLock()
	snapshot := make([]Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		snapshot = append(snapshot, handler)
	}
	h.mu.RUnlock()

	for _, handler := range snapshot {
		h.dispatch(handler, event)
	}
}

func (h *Hub) dispatch(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.L().Error().
				Str("event_type", string(event.Type)).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	handler(event)
}

// SubscriberCount returns the number of active subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}
