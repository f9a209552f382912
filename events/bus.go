package events

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/courier/message"
)

// MessageStateChanged is published whenever a message's delivery state
// transitions.
type MessageStateChanged struct {
	MessageID      int64
	APIID          message.APIMessageID
	ConversationID string
	State          message.DeliveryState
}

// ConversationChanged is published when a conversation's recency or
// visibility changes.
type ConversationChanged struct {
	ConversationID string
}

// Event is the closed set of bus payloads.
type Event interface {
	isEvent()
}

func (MessageStateChanged) isEvent() {}
func (ConversationChanged) isEvent() {}

// Handler consumes published events. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(Event)

// Subscription identifies an active handler. Closing it unsubscribes.
type Subscription struct {
	bus *Bus
	id  uint64
}

// Close removes the subscription from the bus. Safe to call more than once.
func (s *Subscription) Close() {
	if s.bus == nil {
		return
	}
	s.bus.mu.Lock()
	delete(s.bus.handlers, s.id)
	s.bus.mu.Unlock()
	s.bus = nil
}

// Bus is a process-wide publish/subscribe registry owned by the composition
// root.
type Bus struct {
	mu       sync.RWMutex
	handlers map[uint64]Handler
	nextID   uint64
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[uint64]Handler)}
}

// Subscribe registers a handler and returns its subscription handle.
func (b *Bus) Subscribe(handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[id] = handler
	return &Subscription{bus: b, id: id}
}

// Publish delivers an event to all current subscribers.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	logrus.WithFields(logrus.Fields{
		"function":    "Publish",
		"event":       fmt.Sprintf("%T", event),
		"subscribers": len(handlers),
	}).Trace("Publishing event")

	for _, h := range handlers {
		h(event)
	}
}
