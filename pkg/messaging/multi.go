package messaging

import (
	"context"
)

// MultiPublisher fans each event to several publishers (broker plus
// websocket hub). Individual failures don't stop the others; the first
// error is returned.
type MultiPublisher struct {
	publishers []Publisher
}

// NewMultiPublisher composes publishers. Nil entries are skipped.
func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	m := &MultiPublisher{}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

// Publish implements Publisher
func (m *MultiPublisher) Publish(ctx context.Context, callID string, eventType EventType, payload interface{}) error {
	var firstErr error
	for _, p := range m.publishers {
		if err := p.Publish(ctx, callID, eventType, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close implements Publisher
func (m *MultiPublisher) Close() error {
	var firstErr error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
