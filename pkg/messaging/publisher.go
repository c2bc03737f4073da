package messaging

import (
	"context"
	"time"
)

// EventType labels the payload carried by a call event
type EventType string

const (
	EventInterimTranscript EventType = "interim_transcript"
	EventFinalTranscript   EventType = "final_transcript"
	EventCoachingTip       EventType = "coaching_tip"
	EventStrategyUpdate    EventType = "strategy_update"
	EventAnalyticsUpdate   EventType = "analytics_update"
	EventCallStatus        EventType = "call_status"
)

// Event is the envelope fanned out to subscribers for every call event
type Event struct {
	CallID    string      `json:"call_id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Publisher fans call events out to a delivery backend. Publish must not
// block the caller beyond its context deadline, and failures are the
// backend's problem to log: callers treat publishing as fire-and-forget.
type Publisher interface {
	Publish(ctx context.Context, callID string, eventType EventType, payload interface{}) error
	Close() error
}

// NewEvent stamps an event envelope
func NewEvent(callID string, eventType EventType, payload interface{}) Event {
	return Event{
		CallID:    callID,
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}
