package realtime

import (
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 64
)

var clientIDCounter atomic.Uint64

// Client is one browser tab subscribed to its user's inbox.
type Client struct {
	id     uint64
	userID uuid.UUID
	hub    *Hub
	conn   *websocket.Conn
	send   chan Message
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID) *Client {
	return &Client{
		id:     clientIDCounter.Add(1),
		userID: userID,
		hub:    hub,
		conn:   conn,
		send:   make(chan Message, sendBuffer),
	}
}

func (c *Client) UserID() uuid.UUID {
	return c.userID
}

// Start runs the read and write pumps. The hub owns the client from here on.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump only watches for pings and disconnects; clients never write state here.
func (c *Client) readPump() {
	defer func() {
		c.hub.Detach(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("unexpected websocket close", "user_id", c.userID, "error", err)
			}
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &msg) != nil || msg.Type != MessageTypePing {
			continue
		}
		c.trySend(Message{Type: MessageTypePong})
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				c.hub.logger.Error("encode realtime message", "error", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend queues a reply without racing the hub closing the channel.
func (c *Client) trySend(msg Message) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if _, ok := c.hub.clients[c.userID][c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}
