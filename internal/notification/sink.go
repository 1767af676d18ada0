// Package notification delivers realtime pushes to connected clients. The
// websocket Hub serves clients on this instance, RedisRelay fans pushes out to
// every instance, and MQTTSink mirrors them to device topics. Dispatcher is the
// fire-and-forget entry point used by the rest of the server.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Push event names
const (
	EventChatListChanged = "chat_list_changed"
	EventGroupCreated    = "group_created"
	EventMemberJoined    = "member_joined"
	EventMemberLeft      = "member_left"
	EventRemovedFromChat = "removed_from_chat"
	EventGroupDisbanded  = "group_disbanded"
	EventOwnerChanged    = "owner_changed"
	EventEmergencyAlert  = "emergency_alert"
	EventNotification    = "notification"

	// relay control message, never written to clients
	eventEvict = "_evict"
)

// Sink is a push transport
type Sink interface {
	PushToUser(ctx context.Context, userID int64, event string, payload interface{}) error
	PushToRoom(ctx context.Context, room, event string, payload interface{}) error
}

// Evicter is a sink that can revoke a user's room subscription
type Evicter interface {
	Evict(ctx context.Context, userID int64, room string) error
}

// Envelope is the unit carried between instances and written to clients
type Envelope struct {
	Room  string          `json:"room"`
	Event string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload for room
func NewEnvelope(room, event string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	return &Envelope{Room: room, Event: event, Data: data}, nil
}

// UserRoom is the private room every client joins on connect
func UserRoom(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// GroupRoom is the live room for a chat group
func GroupRoom(groupID int64) string {
	return "chat:" + strconv.FormatInt(groupID, 10)
}

// ParseGroupRoom returns the group id of a chat room name
func ParseGroupRoom(room string) (int64, bool) {
	idStr, ok := strings.CutPrefix(room, "chat:")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Dispatcher forwards each push to every configured sink. Failures are logged
// and never returned: a push that cannot be delivered must not undo or fail
// the write that triggered it.
type Dispatcher struct {
	sinks []Sink
	log   logrus.FieldLogger
}

// NewDispatcher creates a dispatcher over sinks
func NewDispatcher(log logrus.FieldLogger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, log: log}
}

// PushToUser sends event to the user's private room
func (d *Dispatcher) PushToUser(ctx context.Context, userID int64, event string, payload interface{}) {
	for _, s := range d.sinks {
		if err := s.PushToUser(ctx, userID, event, payload); err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{
				"user_id": userID,
				"event":   event,
				"sink":    fmt.Sprintf("%T", s),
			}).Warn("push to user failed")
		}
	}
}

// PushToRoom sends event to every subscriber of room
func (d *Dispatcher) PushToRoom(ctx context.Context, room, event string, payload interface{}) {
	for _, s := range d.sinks {
		if err := s.PushToRoom(ctx, room, event, payload); err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{
				"room":  room,
				"event": event,
				"sink":  fmt.Sprintf("%T", s),
			}).Warn("push to room failed")
		}
	}
}

// Evict unsubscribes the user's live clients from room on every sink that
// tracks subscriptions
func (d *Dispatcher) Evict(ctx context.Context, userID int64, room string) {
	for _, s := range d.sinks {
		e, ok := s.(Evicter)
		if !ok {
			continue
		}
		if err := e.Evict(ctx, userID, room); err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{
				"user_id": userID,
				"room":    room,
				"sink":    fmt.Sprintf("%T", s),
			}).Warn("room eviction failed")
		}
	}
}
