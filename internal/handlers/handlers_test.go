package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-engine/internal/chat"
	"chat-engine/internal/mocks"
	"chat-engine/internal/models"
	"chat-engine/internal/repositories"
)

type testEnv struct {
	router  *gin.Engine
	svc     *chat.Service
	catalog *mocks.CatalogMock
	hub     *mocks.BroadcasterRecorder
}

// headerAuth trusts X-User as the caller id.
func headerAuth(c *gin.Context) {
	id, err := strconv.ParseInt(c.GetHeader("X-User"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
		return
	}
	c.Set("userID", id)
	c.Next()
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	env := &testEnv{catalog: new(mocks.CatalogMock), hub: &mocks.BroadcasterRecorder{}}
	env.svc = chat.NewService(repositories.NewMemoryStore(),
		chat.WithCatalog(env.catalog),
		chat.WithBroadcaster(env.hub),
	)
	for _, u := range []models.User{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}, {ID: 3, Username: "carol"}} {
		_, err := env.svc.RegisterUser(context.Background(), u)
		require.NoError(t, err)
	}
	env.router = gin.New()
	NewHandler(env.svc, slog.Default()).Register(env.router, headerAuth)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, user int64, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != 0 {
		req.Header.Set("X-User", strconv.FormatInt(user, 10))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func (e *testEnv) conversation(t *testing.T, owner int64, others string) int64 {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/conversations", owner, `{"participant_ids":`+others+`}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	conv := decode(t, rec)["conversation"].(map[string]any)
	return int64(conv["id"].(float64))
}

func TestRequiresAuth(t *testing.T) {
	env := setupRouter(t)
	rec := env.do(t, http.MethodGet, "/conversations", 0, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateConversationIsDeduplicated(t *testing.T) {
	env := setupRouter(t)
	env.catalog.On("LookupItem", mock.Anything, int64(42)).Return(chat.Item{OwnerID: 2, Status: chat.ItemStatusActive}, nil)

	body := `{"related_item_id":42,"initial_message":"Is this available?"}`
	first := env.do(t, http.MethodPost, "/conversations", 1, body)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := env.do(t, http.MethodPost, "/conversations", 1, body)
	require.Equal(t, http.StatusOK, second.Code)

	a := decode(t, first)["conversation"].(map[string]any)
	b := decode(t, second)["conversation"].(map[string]any)
	assert.Equal(t, a["id"], b["id"])

	list := decode(t, env.do(t, http.MethodGet, "/conversations", 2, ""))["conversations"].([]any)
	require.Len(t, list, 1)
	last := list[0].(map[string]any)["last_message"].(map[string]any)
	assert.Equal(t, "product_inquiry", last["message_type"])
}

func TestCreateConversationErrors(t *testing.T) {
	env := setupRouter(t)
	env.catalog.On("LookupItem", mock.Anything, int64(9)).Return(chat.Item{}, chat.ErrItemNotFound)

	cases := []struct {
		name string
		body string
		code int
	}{
		{"malformed", `{"participant_ids":"x"}`, http.StatusBadRequest},
		{"nobody else", `{"participant_ids":[1]}`, http.StatusBadRequest},
		{"unknown user", `{"participant_ids":[77]}`, http.StatusNotFound},
		{"unknown item", `{"related_item_id":9}`, http.StatusNotFound},
		{"blank opener", `{"participant_ids":[2],"initial_message":"  "}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/conversations", 1, tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode(t, rec)["error"])
		})
	}
}

func TestSendAndListMessages(t *testing.T) {
	env := setupRouter(t)
	id := env.conversation(t, 1, "[2]")
	base := "/conversations/" + strconv.FormatInt(id, 10)

	rec := env.do(t, http.MethodPost, base+"/messages", 2, `{"content":"hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "text", decode(t, rec)["message_type"])

	rec = env.do(t, http.MethodPost, base+"/messages", 3, `{"content":"intruder"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/messages", 2, `{"content":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	msgs := decode(t, env.do(t, http.MethodGet, base+"/messages", 1, ""))["messages"].([]any)
	require.Len(t, msgs, 1)

	rec = env.do(t, http.MethodGet, base+"/messages?after_id=0&limit=10", 1, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["messages"], 1)

	rec = env.do(t, http.MethodGet, base+"/messages?limit=abc", 1, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/conversations/abc/messages", 1, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Len(t, env.hub.Events(), 1)
}

func TestOfferAcceptsNumberOrString(t *testing.T) {
	env := setupRouter(t)
	id := env.conversation(t, 1, "[2]")
	path := "/conversations/" + strconv.FormatInt(id, 10) + "/offers"

	rec := env.do(t, http.MethodPost, path, 1, `{"offer_amount":150.5}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "price_offer", body["message_type"])
	assert.Equal(t, "I'd like to offer R150.50 for this item.", body["content"])

	rec = env.do(t, http.MethodPost, path, 1, `{"offer_amount":"20","message":"final offer"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "final offer", decode(t, rec)["content"])

	rec = env.do(t, http.MethodPost, path, 1, `{"offer_amount":-3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMeetup(t *testing.T) {
	env := setupRouter(t)
	id := env.conversation(t, 1, "[2]")
	path := "/conversations/" + strconv.FormatInt(id, 10) + "/meetups"

	rec := env.do(t, http.MethodPost, path, 2, `{"location":"Main St","suggested_time":"2024-06-02T10:00:00Z"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Let's meet at Main St", body["content"])
	assert.Equal(t, "Main St", body["metadata"].(map[string]any)["location"])

	rec = env.do(t, http.MethodPost, path, 2, `{"location":"Main St"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEditAndDeleteMessage(t *testing.T) {
	env := setupRouter(t)
	id := env.conversation(t, 1, "[2]")
	rec := env.do(t, http.MethodPost, "/conversations/"+strconv.FormatInt(id, 10)+"/messages", 1, `{"content":"helo"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	msgPath := "/messages/" + strconv.FormatInt(int64(decode(t, rec)["id"].(float64)), 10)

	rec = env.do(t, http.MethodPatch, msgPath, 2, `{"content":"hijack"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPatch, msgPath, 1, `{"content":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "hello", body["content"])
	assert.Equal(t, true, body["is_edited"])

	rec = env.do(t, http.MethodPost, msgPath+"/attachments", 1, `{"file_ref":"att/1.png","file_name":"1.png","file_size":10,"file_type":"image/png"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, msgPath, 1, "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, msgPath, 1, "").Code)

	rec = env.do(t, http.MethodPatch, msgPath, 1, `{"content":"again"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParticipantsAndReads(t *testing.T) {
	env := setupRouter(t)
	id := env.conversation(t, 1, "[2]")
	base := "/conversations/" + strconv.FormatInt(id, 10)

	rec := env.do(t, http.MethodPost, base+"/participants", 1, `{"user_id":3}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(t, http.MethodPost, base+"/participants", 1, `{"user_id":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "already a participant", decode(t, rec)["message"])

	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, base+"/messages", 2, `{"content":"hi"}`).Code)

	unread := decode(t, env.do(t, http.MethodGet, base+"/unread", 1, ""))
	assert.EqualValues(t, 1, unread["unread_count"])
	total := decode(t, env.do(t, http.MethodGet, "/unread", 1, ""))
	assert.EqualValues(t, 1, total["unread_count"])

	rec = env.do(t, http.MethodPost, base+"/read", 1, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, base+"/read", 1, `{"up_to":"2100-01-01T00:00:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unread = decode(t, env.do(t, http.MethodGet, base+"/unread", 1, ""))
	assert.EqualValues(t, 0, unread["unread_count"])

	rec = env.do(t, http.MethodPatch, base+"/settings", 1, `{"is_muted":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["is_muted"])

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, base+"/leave", 3, "").Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, base+"/messages", 3, `{"content":"back?"}`).Code)
}

func TestSearchStatsAndUsers(t *testing.T) {
	env := setupRouter(t)
	id := env.conversation(t, 1, "[2]")
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/conversations/"+strconv.FormatInt(id, 10)+"/messages", 2, `{"content":"Bicycle for sale"}`).Code)

	rec := env.do(t, http.MethodGet, "/search?q=bicycle&is_read=false", 1, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Len(t, body["conversations"], 1)
	assert.Len(t, body["messages"], 1)

	for _, q := range []string{"sender_id=x", "date_from=yesterday", "has_image=maybe"} {
		assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/search?"+q, 1, "").Code, q)
	}
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/search?type=video", 1, "").Code)

	stats := decode(t, env.do(t, http.MethodGet, "/stats", 1, ""))
	assert.EqualValues(t, 1, stats["total_conversations"])
	assert.EqualValues(t, 1, stats["messages_received"])

	rec = env.do(t, http.MethodPut, "/users/me", 8, `{"username":"heidi","display_name":"Heidi"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 8, decode(t, rec)["id"])
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/users/me", 8, `{}`).Code)
}
