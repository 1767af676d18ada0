package notification

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/resqzone/server/pkg/response"
)

// IdentifyFunc resolves the connecting user from the upgrade request
type IdentifyFunc func(r *http.Request) (userID int64, ok bool)

// RoomAuthorizer decides whether a user may follow a room
type RoomAuthorizer interface {
	CanJoinRoom(ctx context.Context, userID int64, room string) (bool, error)
}

// MembershipChecker reports chat group membership
type MembershipChecker interface {
	IsMember(ctx context.Context, groupID, userID int64) (bool, error)
}

// MembershipAuthorizer lets users follow their own room and the rooms of
// groups they belong to
type MembershipAuthorizer struct {
	Members MembershipChecker
}

func (a MembershipAuthorizer) CanJoinRoom(ctx context.Context, userID int64, room string) (bool, error) {
	if room == UserRoom(userID) {
		return true, nil
	}
	groupID, ok := ParseGroupRoom(room)
	if !ok {
		return false, nil
	}
	return a.Members.IsMember(ctx, groupID, userID)
}

// Handler upgrades authenticated requests to websocket clients of the hub
type Handler struct {
	hub        *Hub
	identify   IdentifyFunc
	authorizer RoomAuthorizer
	upgrader   websocket.Upgrader
	log        logrus.FieldLogger
}

func NewHandler(hub *Hub, identify IdentifyFunc, authorizer RoomAuthorizer, log logrus.FieldLogger) *Handler {
	return &Handler{
		hub:        hub,
		identify:   identify,
		authorizer: authorizer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// ServeHTTP handles GET /ws
// @Summary Realtime push channel
// @Description Upgrades to a websocket. Pass the access token as the token query parameter. Send {"type":"join_room","room":"chat:<id>"} to follow a group.
// @Tags realtime
// @Param token query string true "Access token"
// @Success 101
// @Failure 401 {object} response.APIResponse
// @Router /ws [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identify(r)
	if !ok {
		response.Unauthorized(w, "Invalid or missing token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := newClient(h.hub, conn, userID)
	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h.authorizer, h.log)
}
