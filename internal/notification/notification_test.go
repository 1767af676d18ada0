package notification

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memberSet map[int64][]int64

func (m memberSet) IsMember(ctx context.Context, groupID, userID int64) (bool, error) {
	for _, id := range m[groupID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func queryIdentity(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	return id, err == nil && id > 0
}

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	log, _ := test.NewNullLogger()
	hub := NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	authz := MembershipAuthorizer{Members: memberSet{3: {7}}}
	server := httptest.NewServer(NewHandler(hub, queryIdentity, authz, log))
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server, userID int64) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?user_id=" + strconv.FormatInt(userID, 10)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestHubDeliversToUserRoom(t *testing.T) {
	hub, server := startHub(t)
	conn := dial(t, server, 7)

	require.Eventually(t, func() bool { return hub.RoomSize(UserRoom(7)) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.PushToUser(context.Background(), 7, EventChatListChanged, map[string]int64{"chat_id": 3}))
	env := readEnvelope(t, conn)
	assert.Equal(t, EventChatListChanged, env.Event)
	assert.Equal(t, "user:7", env.Room)
	assert.JSONEq(t, `{"chat_id":3}`, string(env.Data))
}

func TestHubJoinRoomRequiresMembership(t *testing.T) {
	hub, server := startHub(t)
	conn := dial(t, server, 7)
	require.Eventually(t, func() bool { return hub.RoomSize(UserRoom(7)) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "join_room", Room: GroupRoom(4)}))
	env := readEnvelope(t, conn)
	assert.Equal(t, "error", env.Event)
	assert.Equal(t, 0, hub.RoomSize(GroupRoom(4)))

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "join_room", Room: GroupRoom(3)}))
	require.Eventually(t, func() bool { return hub.RoomSize(GroupRoom(3)) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.PushToRoom(context.Background(), GroupRoom(3), EventMemberJoined, map[string]int64{"user_id": 9}))
	env = readEnvelope(t, conn)
	assert.Equal(t, EventMemberJoined, env.Event)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "leave_room", Room: GroupRoom(3)}))
	require.Eventually(t, func() bool { return hub.RoomSize(GroupRoom(3)) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcherEvictRevokesRoom(t *testing.T) {
	hub, server := startHub(t)
	conn := dial(t, server, 7)
	require.Eventually(t, func() bool { return hub.RoomSize(UserRoom(7)) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "join_room", Room: GroupRoom(3)}))
	require.Eventually(t, func() bool { return hub.RoomSize(GroupRoom(3)) == 1 }, 2*time.Second, 10*time.Millisecond)

	log, hook := test.NewNullLogger()
	d := NewDispatcher(log, hub, &recordingSink{})
	d.Evict(context.Background(), 8, GroupRoom(3))
	d.Evict(context.Background(), 7, GroupRoom(3))

	require.Eventually(t, func() bool { return hub.RoomSize(GroupRoom(3)) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, hub.RoomSize(UserRoom(7)))
	assert.Empty(t, hook.AllEntries())

	require.NoError(t, hub.PushToRoom(context.Background(), GroupRoom(3), EventMemberJoined, nil))
	require.NoError(t, hub.PushToUser(context.Background(), 7, EventRemovedFromChat, map[string]int64{"group_id": 3}))
	env := readEnvelope(t, conn)
	assert.Equal(t, EventRemovedFromChat, env.Event)
}

func TestHubRejectsAnonymous(t *testing.T) {
	_, server := startHub(t)
	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub, server := startHub(t)
	conn := dial(t, server, 8)
	require.Eventually(t, func() bool { return hub.RoomSize(UserRoom(8)) == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.RoomSize(UserRoom(8)) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestParseGroupRoom(t *testing.T) {
	id, ok := ParseGroupRoom("chat:12")
	assert.True(t, ok)
	assert.Equal(t, int64(12), id)

	for _, room := range []string{"user:12", "chat:", "chat:x", "chat:-1"} {
		_, ok := ParseGroupRoom(room)
		assert.False(t, ok, room)
	}
}

type recordingSink struct {
	err    error
	pushes []string
}

func (s *recordingSink) PushToUser(ctx context.Context, userID int64, event string, payload interface{}) error {
	return s.PushToRoom(ctx, UserRoom(userID), event, payload)
}

func (s *recordingSink) PushToRoom(ctx context.Context, room, event string, payload interface{}) error {
	s.pushes = append(s.pushes, room+"/"+event)
	return s.err
}

func TestDispatcherSwallowsSinkErrors(t *testing.T) {
	log, hook := test.NewNullLogger()
	broken := &recordingSink{err: errors.New("broker down")}
	healthy := &recordingSink{}

	d := NewDispatcher(log, broken, healthy)
	d.PushToUser(context.Background(), 5, EventEmergencyAlert, nil)
	d.PushToRoom(context.Background(), GroupRoom(2), EventMemberLeft, nil)

	assert.Equal(t, []string{"user:5/emergency_alert", "chat:2/member_left"}, healthy.pushes)
	assert.Len(t, broken.pushes, 2)
	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "chat:2", hook.LastEntry().Data["room"])
}

type doneToken struct {
	err  error
	done chan struct{}
}

func newDoneToken(err error) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type fakePublisher struct {
	topics []string
	err    error
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.topics = append(p.topics, topic)
	return newDoneToken(p.err)
}

func TestMQTTSinkTopics(t *testing.T) {
	pub := &fakePublisher{}
	sink := newMQTTSink(pub, "resqzone/", 1)

	require.NoError(t, sink.PushToUser(context.Background(), 7, EventEmergencyAlert, map[string]string{"title": "Flood"}))
	require.NoError(t, sink.PushToRoom(context.Background(), GroupRoom(3), EventMemberJoined, nil))
	assert.Equal(t, []string{"resqzone/user/7", "resqzone/chat/3"}, pub.topics)

	pub.err = errors.New("not connected")
	assert.Error(t, sink.PushToUser(context.Background(), 7, EventEmergencyAlert, nil))
}
