package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// Client is one websocket connection. rooms and closed are owned by the hub.
type Client struct {
	id     string
	userID int64
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte

	rooms  map[string]bool
	closed bool
}

type clientMessage struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
}

func newClient(hub *Hub, conn *websocket.Conn, userID int64) *Client {
	return &Client{
		id:     uuid.NewString(),
		userID: userID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		rooms:  make(map[string]bool),
	}
}

func (c *Client) readPump(authorizer RoomAuthorizer, log logrus.FieldLogger) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithError(err).WithField("client_id", c.id).Warn("websocket read error")
			}
			return
		}

		switch msg.Type {
		case "join_room":
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			allowed, err := authorizer.CanJoinRoom(ctx, c.userID, msg.Room)
			cancel()
			if err != nil {
				log.WithError(err).WithFields(logrus.Fields{"user_id": c.userID, "room": msg.Room}).Error("room authorization failed")
				continue
			}
			if !allowed {
				c.reply(`{"type":"error","data":"not allowed to join room"}`)
				continue
			}
			c.subscribe(msg.Room, true)
		case "leave_room":
			c.subscribe(msg.Room, false)
		case "ping":
			c.reply(`{"type":"pong"}`)
		}
	}
}

func (c *Client) subscribe(room string, join bool) {
	select {
	case c.hub.subscribe <- subscription{client: c, room: room, join: join}:
	case <-c.hub.done:
	}
}

// reply queues a control message without blocking the read loop
func (c *Client) reply(msg string) {
	c.hub.mutex.RLock()
	defer c.hub.mutex.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- []byte(msg):
	default:
	}
}

func (c *Client) writePump() {
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
