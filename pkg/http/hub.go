package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"livecoach-server/pkg/errors"
	"livecoach-server/pkg/messaging"
	"livecoach-server/pkg/metrics"
)

const (
	clientSendBuffer = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
)

var liveUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// LiveClient is one connected live-view subscriber. An empty callID
// subscribes to every call.
type LiveClient struct {
	hub    *LiveHub
	conn   *websocket.Conn
	send   chan []byte
	callID string
}

// LiveHub fans call events out to websocket subscribers. It implements
// messaging.Publisher so it composes with the broker publisher.
type LiveHub struct {
	logger     *logrus.Logger
	clients    map[*LiveClient]bool
	register   chan *LiveClient
	unregister chan *LiveClient
	broadcast  chan messaging.Event
	done       chan struct{}
	closeOnce  sync.Once
}

// NewLiveHub creates the hub. Call Run in a goroutine before serving.
func NewLiveHub(logger *logrus.Logger) *LiveHub {
	return &LiveHub{
		logger:     logger,
		clients:    make(map[*LiveClient]bool),
		register:   make(chan *LiveClient),
		unregister: make(chan *LiveClient),
		broadcast:  make(chan messaging.Event, 256),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until Close
func (h *LiveHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			metrics.SubscribersConnected.Inc()
			h.logger.WithField("call_id", client.callID).Debug("Live subscriber connected")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				metrics.SubscribersConnected.Dec()
			}

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			for client := range h.clients {
				if client.callID != "" && client.callID != event.CallID {
					continue
				}
				select {
				case client.send <- data:
				default:
					// slow consumer, drop the connection
					delete(h.clients, client)
					close(client.send)
					metrics.SubscribersConnected.Dec()
				}
			}

		case <-h.done:
			for client := range h.clients {
				close(client.send)
			}
			return
		}
	}
}

// Publish implements messaging.Publisher. After Close it fails fast so
// teardown-time events do not stall on the stopped broadcast loop.
func (h *LiveHub) Publish(ctx context.Context, callID string, eventType messaging.EventType, payload interface{}) error {
	select {
	case <-h.done:
		return errors.ErrPublishFailed
	default:
	}
	select {
	case h.broadcast <- messaging.NewEvent(callID, eventType, payload):
		return nil
	case <-h.done:
		return errors.ErrPublishFailed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements messaging.Publisher. Safe to call more than once.
func (h *LiveHub) Close() error {
	h.closeOnce.Do(func() { close(h.done) })
	return nil
}

// ServeHTTP upgrades a live-view subscription. The call_id query
// parameter scopes the subscription to one call.
func (h *LiveHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := liveUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithField("error", err).Error("Failed to upgrade live-view connection")
		return
	}

	client := &LiveClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, clientSendBuffer),
		callID: r.URL.Query().Get("call_id"),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *LiveClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *LiveClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
