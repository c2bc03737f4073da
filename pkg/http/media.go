package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"livecoach-server/pkg/coaching"
)

// CallController is the engine surface the media handler drives
type CallController interface {
	StartCall(ctx context.Context, callID, streamID, vendor string) error
	HandleMedia(callID string, track coaching.Track, frame []byte)
	StopCall(ctx context.Context, callID string) (*coaching.FeedbackReport, error)
}

var mediaUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 1024,
	// telephony providers connect server-to-server with no Origin header
	CheckOrigin: func(r *http.Request) bool { return true },
}

// mediaMessage is the JSON envelope of the telephony media stream
// protocol: a start message opens the call, media messages carry
// base64 mu-law frames per track, stop ends the call.
type mediaMessage struct {
	Event string `json:"event"`
	Start *struct {
		CallSid          string            `json:"callSid"`
		StreamSid        string            `json:"streamSid"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start,omitempty"`
	Media *struct {
		Track   string `json:"track"`
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
}

// MediaHandler terminates media stream websocket connections and drives
// the call lifecycle on the engine
type MediaHandler struct {
	logger     *logrus.Logger
	controller CallController
}

// NewMediaHandler creates the media websocket handler
func NewMediaHandler(logger *logrus.Logger, controller CallController) *MediaHandler {
	return &MediaHandler{logger: logger, controller: controller}
}

// ServeHTTP implements http.Handler
func (h *MediaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := mediaUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithField("error", err).Error("Failed to upgrade media connection")
		return
	}
	defer conn.Close()

	var callID string
	started := false
	defer func() {
		if !started {
			return
		}
		// a dropped connection ends the call like an explicit stop
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if _, err := h.controller.StopCall(ctx, callID); err != nil {
			h.logger.WithFields(logrus.Fields{
				"call_id": callID,
				"error":   err,
			}).Debug("Call already stopped")
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.WithFields(logrus.Fields{
					"call_id": callID,
					"error":   err,
				}).Warn("Media connection dropped")
			}
			return
		}

		var msg mediaMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.WithField("error", err).Debug("Unparseable media message")
			continue
		}

		switch msg.Event {
		case "start":
			if msg.Start == nil || msg.Start.CallSid == "" {
				h.logger.Warn("Start message missing call identifier")
				continue
			}
			callID = msg.Start.CallSid
			vendor := msg.Start.CustomParameters["vendor"]
			if err := h.controller.StartCall(r.Context(), callID, msg.Start.StreamSid, vendor); err != nil {
				h.logger.WithFields(logrus.Fields{
					"call_id": callID,
					"error":   err,
				}).Error("Failed to start call session")
				return
			}
			started = true

		case "media":
			if !started || msg.Media == nil {
				continue
			}
			frame, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				h.logger.WithField("call_id", callID).Debug("Invalid audio payload encoding")
				continue
			}
			h.controller.HandleMedia(callID, coaching.Track(msg.Media.Track), frame)

		case "stop":
			return

		default:
			// connected, mark, dtmf and friends are irrelevant here
		}
	}
}
