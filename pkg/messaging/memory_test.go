package messaging

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublisherDeliversToHandlers(t *testing.T) {
	pub := NewMemoryPublisher(10)
	var got []Event
	pub.Subscribe(func(e Event) { got = append(got, e) })

	err := pub.Publish(context.Background(), "CA1", EventCoachingTip, map[string]string{"tip": "slow down"})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "CA1", got[0].CallID)
	assert.Equal(t, EventCoachingTip, got[0].Type)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestMemoryPublisherRetainsAndFilters(t *testing.T) {
	pub := NewMemoryPublisher(10)
	_ = pub.Publish(context.Background(), "CA1", EventFinalTranscript, nil)
	_ = pub.Publish(context.Background(), "CA1", EventAnalyticsUpdate, nil)
	_ = pub.Publish(context.Background(), "CA1", EventFinalTranscript, nil)

	assert.Len(t, pub.Events(), 3)
	assert.Len(t, pub.EventsOfType(EventFinalTranscript), 2)
	assert.Len(t, pub.EventsOfType(EventCallStatus), 0)
}

func TestMemoryPublisherCapsRetention(t *testing.T) {
	pub := NewMemoryPublisher(5)
	for i := 0; i < 8; i++ {
		_ = pub.Publish(context.Background(), fmt.Sprintf("CA%d", i), EventCallStatus, nil)
	}
	events := pub.Events()
	require.Len(t, events, 5)
	assert.Equal(t, "CA3", events[0].CallID, "oldest events fall off")
}
