package messaging

import (
	"context"
	"sync"

	"livecoach-server/pkg/metrics"
)

// MemoryPublisher is an in-process Publisher used when no broker is
// configured, and by tests. Handlers subscribed per call run inline.
type MemoryPublisher struct {
	mutex    sync.RWMutex
	handlers []func(Event)
	events   []Event
	capacity int
}

// NewMemoryPublisher creates an in-memory publisher retaining up to
// capacity recent events. Non-positive capacity defaults to 1000.
func NewMemoryPublisher(capacity int) *MemoryPublisher {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryPublisher{capacity: capacity}
}

// Subscribe registers a handler invoked for every published event
func (m *MemoryPublisher) Subscribe(handler func(Event)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Publish implements Publisher
func (m *MemoryPublisher) Publish(ctx context.Context, callID string, eventType EventType, payload interface{}) error {
	event := NewEvent(callID, eventType, payload)

	m.mutex.Lock()
	m.events = append(m.events, event)
	if len(m.events) > m.capacity {
		m.events = m.events[len(m.events)-m.capacity:]
	}
	handlers := make([]func(Event), len(m.handlers))
	copy(handlers, m.handlers)
	m.mutex.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
	metrics.EventsPublished.WithLabelValues(string(eventType)).Inc()
	return nil
}

// Events returns a copy of the retained events
func (m *MemoryPublisher) Events() []Event {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// EventsOfType returns retained events matching the given type
func (m *MemoryPublisher) EventsOfType(eventType EventType) []Event {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var out []Event
	for _, event := range m.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

// Close implements Publisher
func (m *MemoryPublisher) Close() error {
	return nil
}
