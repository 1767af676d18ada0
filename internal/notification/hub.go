package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

var ErrHubStopped = errors.New("hub is not running")

type subscription struct {
	client *Client
	room   string
	join   bool
}

type eviction struct {
	userID int64
	room   string
}

// Hub tracks websocket clients on this instance and the rooms they follow
type Hub struct {
	rooms map[string]map[*Client]bool
	mutex sync.RWMutex

	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription
	evict      chan eviction
	deliver    chan *Envelope
	done       chan struct{}

	log logrus.FieldLogger
}

// NewHub creates a hub; call Run to start it
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subscription),
		evict:      make(chan eviction),
		deliver:    make(chan *Envelope, 256),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run processes registrations and deliveries until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for _, clients := range h.rooms {
				for client := range clients {
					h.drop(client)
				}
			}
			h.rooms = make(map[string]map[*Client]bool)
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.join(client, UserRoom(client.userID))
			h.mutex.Unlock()
			h.log.WithFields(logrus.Fields{"client_id": client.id, "user_id": client.userID}).Debug("client registered")

		case client := <-h.unregister:
			h.mutex.Lock()
			h.drop(client)
			h.mutex.Unlock()
			h.log.WithFields(logrus.Fields{"client_id": client.id, "user_id": client.userID}).Debug("client unregistered")

		case sub := <-h.subscribe:
			h.mutex.Lock()
			if sub.join {
				h.join(sub.client, sub.room)
			} else {
				h.leave(sub.client, sub.room)
			}
			h.mutex.Unlock()

		case ev := <-h.evict:
			h.mutex.Lock()
			for client := range h.rooms[ev.room] {
				if client.userID == ev.userID {
					h.leave(client, ev.room)
				}
			}
			h.mutex.Unlock()

		case env := <-h.deliver:
			h.broadcast(env)
		}
	}
}

// Deliver queues an envelope for the clients of its room on this instance
func (h *Hub) Deliver(ctx context.Context, env *Envelope) error {
	select {
	case h.deliver <- env:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Evict unsubscribes every local client of userID from room
func (h *Hub) Evict(ctx context.Context, userID int64, room string) error {
	select {
	case h.evict <- eviction{userID: userID, room: room}:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PushToUser implements Sink
func (h *Hub) PushToUser(ctx context.Context, userID int64, event string, payload interface{}) error {
	return h.PushToRoom(ctx, UserRoom(userID), event, payload)
}

// PushToRoom implements Sink
func (h *Hub) PushToRoom(ctx context.Context, room, event string, payload interface{}) error {
	env, err := NewEnvelope(room, event, payload)
	if err != nil {
		return err
	}
	return h.Deliver(ctx, env)
}

// RoomSize returns the number of local clients subscribed to room
func (h *Hub) RoomSize(room string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) broadcast(env *Envelope) {
	msg, err := json.Marshal(env)
	if err != nil {
		h.log.WithError(err).WithField("event", env.Event).Error("failed to encode envelope")
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.rooms[env.Room] {
		select {
		case client.send <- msg:
		default:
			// Slow consumer; the client reconnects and refetches its inbox.
			h.drop(client)
		}
	}
}

// join, leave and drop require h.mutex held for writing

func (h *Hub) join(client *Client, room string) {
	if client.closed {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][client] = true
	client.rooms[room] = true
}

func (h *Hub) leave(client *Client, room string) {
	if clients, ok := h.rooms[room]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(client.rooms, room)
}

func (h *Hub) drop(client *Client) {
	if client.closed {
		return
	}
	for room := range client.rooms {
		h.leave(client, room)
	}
	client.closed = true
	close(client.send)
}
