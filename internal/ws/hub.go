package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/webolmo/recorder/internal/event"
)

// Client is one connected context (page bridge or side panel). Writes go
// through a buffered channel; a slow client drops messages rather than
// stalling the hub.
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *Client {
	c := &Client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *Client) close() {
	close(c.send)
}

// Send queues one message for this client. Dropped when the client's
// buffer is full.
func (c *Client) Send(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Hub fans messages out to every connected context. It implements the
// session notifier and the detector's speed-warning surface, so session
// progress and rate-limit warnings reach the UI and page contexts.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	logger  logrus.FieldLogger
}

func NewHub(logger logrus.FieldLogger) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		logger:  logger.WithField("component", "ws"),
	}
}

func (h *Hub) AddClient(conn *websocket.Conn) *Client {
	c := newClient(conn)
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	return c
}

func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithError(err).Error("broadcast marshal")
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// Client too slow, drop the message
		}
	}
}

// session.Notifier

func (h *Hub) EventRecorded(entry event.Entry) {
	h.Broadcast(Message{Type: MsgAddEvent, Entry: &entry})
}

func (h *Hub) ScreenshotStarted() {
	h.Broadcast(Message{Type: MsgStartScreenshotCapture})
}

func (h *Hub) ScreenshotCaptured(shot []byte) {
	h.Broadcast(Message{Type: MsgUpdateScreenshot, Screenshot: shot})
}

func (h *Hub) UploadStarted() {
	h.Broadcast(Message{Type: MsgStartUpload})
}

func (h *Hub) UploadFinished() {
	h.Broadcast(Message{Type: MsgFinishUpload})
}

func (h *Hub) UploadFailed(detail string) {
	h.Broadcast(Message{Type: MsgUploadFailed, Detail: detail})
}

func (h *Hub) SessionFinished(redirectLocation string) {
	h.Broadcast(Message{Type: MsgFinishSession, RedirectLocation: redirectLocation})
}

// detect.Warner

func (h *Hub) SpeedWarning(message string) {
	h.Broadcast(Message{Type: MsgShowSpeedWarning, Message: message})
}
