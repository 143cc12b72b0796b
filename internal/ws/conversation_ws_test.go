package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-engine/internal/chat"
	"chat-engine/internal/mocks"
	"chat-engine/internal/models"
	"chat-engine/internal/repositories"
)

type wsFixture struct {
	srv    *httptest.Server
	hub    *Hub
	svc    *chat.Service
	events *mocks.EventSinkRecorder
	// conversations: ab is alice+bob, ac is alice+carol, bc is bob+carol.
	ab, ac, bc int64
}

func setupWSServer(t *testing.T) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	auth := new(mocks.AuthenticatorMock)
	auth.On("ValidateToken", mock.Anything, "alice").Return(int64(1), nil)
	auth.On("ValidateToken", mock.Anything, "bob").Return(int64(2), nil)
	auth.On("ValidateToken", mock.Anything, "outsider").Return(int64(9), nil)
	auth.On("ValidateToken", mock.Anything, mock.Anything).Return(int64(0), assert.AnError)

	hub := NewHub(nil)
	svc := chat.NewService(repositories.NewMemoryStore(), chat.WithBroadcaster(hub))
	for _, u := range []models.User{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}, {ID: 3, Username: "carol"}, {ID: 9, Username: "mallory"}} {
		_, err := svc.RegisterUser(ctx, u)
		require.NoError(t, err)
	}
	open := func(initiator, other int64) int64 {
		conv, _, err := svc.Create(ctx, initiator, chat.CreateConversationInput{ParticipantIDs: []int64{other}})
		require.NoError(t, err)
		return conv.ID
	}

	f := &wsFixture{hub: hub, svc: svc, events: &mocks.EventSinkRecorder{}}
	f.ab, f.ac, f.bc = open(1, 2), open(1, 3), open(2, 3)

	handler := NewConversationHandler(hub, svc, auth, f.events, 8, slog.Default())
	r := gin.New()
	r.GET("/ws/conversations/:id", handler.Handle)
	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *wsFixture) dial(t *testing.T, token string, conversationID int64) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws%s/ws/conversations/%d", strings.TrimPrefix(f.srv.URL, "http"), conversationID)
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.ChatEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var event models.ChatEvent
	require.NoError(t, json.Unmarshal(raw, &event))
	return event
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func TestHandshakeRejections(t *testing.T) {
	f := setupWSServer(t)

	cases := []struct {
		name string
		path string
		code int
	}{
		{"bad id", "/ws/conversations/x?token=alice", http.StatusBadRequest},
		{"no token", fmt.Sprintf("/ws/conversations/%d", f.ab), http.StatusUnauthorized},
		{"bad token", fmt.Sprintf("/ws/conversations/%d?token=nope", f.ab), http.StatusUnauthorized},
		{"not a participant", fmt.Sprintf("/ws/conversations/%d?token=outsider", f.ab), http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(f.srv.URL + tc.path)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.code, resp.StatusCode)
		})
	}
}

func TestSessionReceivesPublishedEvents(t *testing.T) {
	f := setupWSServer(t)
	conn := f.dial(t, "alice", f.ab)

	require.Eventually(t, func() bool { return f.hub.Sessions(f.ab) == 1 }, time.Second, 10*time.Millisecond)
	f.hub.Publish(f.ab, messageEvent(3))

	got := readEvent(t, conn)
	assert.Equal(t, models.EventMessage, got.Type)
	assert.Equal(t, int64(3), got.Message.ID)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()
	require.Eventually(t, func() bool { return f.hub.Sessions(f.ab) == 0 }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		types := f.events.Types()
		return len(types) == 2 && types[0] == "ws.ws_connect" && types[1] == "ws.ws_disconnect"
	}, time.Second, 10*time.Millisecond)
}

func TestSessionSendFrame(t *testing.T) {
	f := setupWSServer(t)
	alice := f.dial(t, "alice", f.ab)
	bob := f.dial(t, "bob", f.ab)
	require.Eventually(t, func() bool { return f.hub.Sessions(f.ab) == 2 }, time.Second, 10*time.Millisecond)

	writeFrame(t, alice, map[string]any{"type": "send", "content": "  is it still available?  "})

	for _, conn := range []*websocket.Conn{alice, bob} {
		got := readEvent(t, conn)
		require.Equal(t, models.EventMessage, got.Type)
		assert.Equal(t, "is it still available?", got.Message.Content)
		assert.Equal(t, int64(1), got.Message.SenderID)
		assert.Equal(t, f.ab, got.Message.ConversationID)
	}

	recent, err := f.svc.Recent(context.Background(), f.ab, 2)
	require.NoError(t, err)
	require.Len(t, recent, 1)
}

func TestSessionFrameErrors(t *testing.T) {
	f := setupWSServer(t)
	alice := f.dial(t, "alice", f.ab)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{not json")))
	got := readEvent(t, alice)
	assert.Equal(t, models.EventError, got.Type)
	assert.Equal(t, "invalid frame", got.Error)

	writeFrame(t, alice, map[string]any{"type": "send", "content": "   "})
	got = readEvent(t, alice)
	assert.Equal(t, models.EventError, got.Type)
	assert.Equal(t, "message content cannot be empty", got.Error)

	writeFrame(t, alice, map[string]any{"type": "send", "conversation_id": f.bc, "content": "hi"})
	got = readEvent(t, alice)
	assert.Equal(t, models.EventError, got.Type)
	assert.Equal(t, f.bc, got.ConversationID)
	assert.Equal(t, "not a participant of this conversation", got.Error)

	writeFrame(t, alice, map[string]any{"type": "typing"})
	got = readEvent(t, alice)
	assert.Equal(t, "unknown frame type", got.Error)
}

func TestSessionJoinsSeveralConversations(t *testing.T) {
	f := setupWSServer(t)
	alice := f.dial(t, "alice", f.ab)

	writeFrame(t, alice, map[string]any{"type": "join", "conversation_id": f.ac})
	got := readEvent(t, alice)
	assert.Equal(t, models.EventJoined, got.Type)
	assert.Equal(t, f.ac, got.ConversationID)

	writeFrame(t, alice, map[string]any{"type": "join", "conversation_id": f.bc})
	got = readEvent(t, alice)
	assert.Equal(t, models.EventError, got.Type)
	assert.Equal(t, 0, f.hub.Sessions(f.bc))

	_, err := f.svc.Send(context.Background(), chat.SendInput{ConversationID: f.ac, SenderID: 3, Content: "from carol"})
	require.NoError(t, err)
	got = readEvent(t, alice)
	require.Equal(t, models.EventMessage, got.Type)
	assert.Equal(t, "from carol", got.Message.Content)

	writeFrame(t, alice, map[string]any{"type": "leave", "conversation_id": f.ab})
	got = readEvent(t, alice)
	assert.Equal(t, models.EventLeft, got.Type)
	assert.Equal(t, 0, f.hub.Sessions(f.ab))
	assert.Equal(t, 1, f.hub.Sessions(f.ac))

	alice.Close()
	require.Eventually(t, func() bool { return f.hub.Sessions(f.ac) == 0 }, time.Second, 10*time.Millisecond)
}

func TestLeaveDetachesLiveSession(t *testing.T) {
	f := setupWSServer(t)
	bob := f.dial(t, "bob", f.ab)
	require.Eventually(t, func() bool { return f.hub.Sessions(f.ab) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, f.svc.Leave(context.Background(), f.ab, 2))

	got := readEvent(t, bob)
	assert.Equal(t, models.EventRemoved, got.Type)
	assert.Equal(t, f.ab, got.ConversationID)
	assert.Equal(t, 0, f.hub.Sessions(f.ab))
}
