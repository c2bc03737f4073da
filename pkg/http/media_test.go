package http

import (
	"context"
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livecoach-server/pkg/coaching"
)

type fakeController struct {
	mutex   sync.Mutex
	started []string
	stopped []string
	vendors []string
	frames  map[string][][]byte
	tracks  []coaching.Track
}

func newFakeController() *fakeController {
	return &fakeController{frames: make(map[string][][]byte)}
}

func (f *fakeController) StartCall(ctx context.Context, callID, streamID, vendor string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.started = append(f.started, callID)
	f.vendors = append(f.vendors, vendor)
	return nil
}

func (f *fakeController) HandleMedia(callID string, track coaching.Track, frame []byte) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.frames[callID] = append(f.frames[callID], frame)
	f.tracks = append(f.tracks, track)
}

func (f *fakeController) StopCall(ctx context.Context, callID string) (*coaching.FeedbackReport, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.stopped = append(f.stopped, callID)
	return &coaching.FeedbackReport{CallID: callID}, nil
}

func (f *fakeController) snapshot() (started, stopped []string, frames map[string][][]byte) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]string(nil), f.started...), append([]string(nil), f.stopped...), f.frames
}

func dialMedia(t *testing.T, handler *MediaHandler) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.FailNow(t, "condition never held")
}

func TestMediaHandlerFullProtocol(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	ctrl := newFakeController()
	conn := dialMedia(t, NewMediaHandler(logger, ctrl))

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event": "start",
		"start": map[string]interface{}{
			"callSid":          "CA123",
			"streamSid":        "MZ456",
			"customParameters": map[string]string{"vendor": "deepgram"},
		},
	}))

	payload := base64.StdEncoding.EncodeToString([]byte{0xFF, 0xFE, 0xFD})
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event": "media",
		"media": map[string]interface{}{"track": "inbound", "payload": payload},
	}))

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"event": "stop"}))

	waitUntil(t, func() bool {
		_, stopped, _ := ctrl.snapshot()
		return len(stopped) == 1
	})

	started, stopped, frames := ctrl.snapshot()
	assert.Equal(t, []string{"CA123"}, started)
	assert.Equal(t, []string{"CA123"}, stopped)
	require.Len(t, frames["CA123"], 1)
	assert.Equal(t, []byte{0xFF, 0xFE, 0xFD}, frames["CA123"][0])
	assert.Equal(t, "deepgram", ctrl.vendors[0])
	assert.Equal(t, coaching.TrackInbound, ctrl.tracks[0])
}

func TestMediaHandlerStopsOnDisconnect(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	ctrl := newFakeController()
	conn := dialMedia(t, NewMediaHandler(logger, ctrl))

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event": "start",
		"start": map[string]interface{}{"callSid": "CA123", "streamSid": "MZ456"},
	}))
	waitUntil(t, func() bool {
		started, _, _ := ctrl.snapshot()
		return len(started) == 1
	})

	conn.Close()
	waitUntil(t, func() bool {
		_, stopped, _ := ctrl.snapshot()
		return len(stopped) == 1
	})
}

func TestMediaHandlerIgnoresMediaBeforeStart(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	ctrl := newFakeController()
	conn := dialMedia(t, NewMediaHandler(logger, ctrl))

	payload := base64.StdEncoding.EncodeToString([]byte("early"))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event": "media",
		"media": map[string]interface{}{"track": "inbound", "payload": payload},
	}))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"event": "stop"}))

	time.Sleep(50 * time.Millisecond)
	started, stopped, frames := ctrl.snapshot()
	assert.Empty(t, started)
	assert.Empty(t, stopped, "never-started connections have nothing to stop")
	assert.Empty(t, frames)
}

func TestMediaHandlerSkipsMalformedMessages(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	ctrl := newFakeController()
	conn := dialMedia(t, NewMediaHandler(logger, ctrl))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event": "start",
		"start": map[string]interface{}{"callSid": "CA9", "streamSid": "MZ9"},
	}))

	waitUntil(t, func() bool {
		started, _, _ := ctrl.snapshot()
		return len(started) == 1
	})
}
