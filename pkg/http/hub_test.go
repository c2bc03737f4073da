package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livecoach-server/pkg/errors"
	"livecoach-server/pkg/messaging"
)

func startHub(t *testing.T) (*LiveHub, string) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	hub := NewLiveHub(logger)
	go hub.Run()
	t.Cleanup(func() { hub.Close() })

	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)
	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func readEvent(t *testing.T, conn *websocket.Conn) messaging.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var event messaging.Event
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func TestHubBroadcastsToSubscriber(t *testing.T) {
	hub, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	time.Sleep(20 * time.Millisecond) // let registration land

	require.NoError(t, hub.Publish(context.Background(), "CA1", messaging.EventCoachingTip, map[string]string{"tip": "listen more"}))

	event := readEvent(t, conn)
	assert.Equal(t, "CA1", event.CallID)
	assert.Equal(t, messaging.EventCoachingTip, event.Type)
}

func TestHubPublishAfterCloseFailsFast(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	hub := NewLiveHub(logger)
	go hub.Run()
	require.NoError(t, hub.Close())

	start := time.Now()
	err := hub.Publish(context.Background(), "CA1", messaging.EventCallStatus, nil)
	assert.ErrorIs(t, err, errors.ErrPublishFailed)
	assert.Less(t, time.Since(start), time.Second, "closed hub must not stall publishers")
}

func TestHubFiltersByCall(t *testing.T) {
	hub, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?call_id=CA2", nil)
	require.NoError(t, err)
	defer conn.Close()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), "CA1", messaging.EventCallStatus, nil))
	require.NoError(t, hub.Publish(context.Background(), "CA2", messaging.EventCallStatus, nil))

	event := readEvent(t, conn)
	assert.Equal(t, "CA2", event.CallID, "events for other calls are filtered out")
}
