package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-engine/internal/apperr"
	"chat-engine/internal/chat"
	"chat-engine/internal/models"
	"chat-engine/internal/observability"
)

const wsKind = "conversation"

// Authenticator validates bearer tokens.
type Authenticator interface {
	ValidateToken(ctx context.Context, token string) (int64, error)
}

// Conversations is the chat surface a live session drives.
type Conversations interface {
	IsActiveParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
	Send(ctx context.Context, in chat.SendInput) (models.Message, error)
}

// Inbound frame types.
const (
	frameSend  = "send"
	frameJoin  = "join"
	frameLeave = "leave"
)

// inboundFrame is what clients write to the socket. conversation_id defaults
// to the conversation the socket was opened on.
type inboundFrame struct {
	Type           string             `json:"type"`
	ConversationID int64              `json:"conversation_id"`
	MessageType    models.MessageType `json:"message_type"`
	Content        string             `json:"content"`
	ImageRef       *string            `json:"image_ref"`
}

// EventSink receives connection lifecycle events.
type EventSink interface {
	Emit(ctx context.Context, eventType string, payload any)
}

// ConversationHandler upgrades requests on /ws/conversations/:id into hub sessions.
type ConversationHandler struct {
	hub     *Hub
	members Conversations
	auth    Authenticator
	events  EventSink
	buffer  int
	logger  *slog.Logger
}

// NewConversationHandler constructs a ConversationHandler.
func NewConversationHandler(hub *Hub, members Conversations, auth Authenticator, events EventSink, buffer int, logger *slog.Logger) *ConversationHandler {
	return &ConversationHandler{
		hub:     hub,
		members: members,
		auth:    auth,
		events:  events,
		buffer:  buffer,
		logger:  logger.With("component", "ws"),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, checks membership, then upgrades and registers the session.
func (h *ConversationHandler) Handle(c *gin.Context) {
	conversationID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	ctx, span := otel.Tracer("chat-engine/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, err := h.userID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	member, err := h.members.IsActiveParticipant(ctx, conversationID, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "membership check failed", "conversation_id", conversationID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this conversation"})
		return
	}

	raw, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	conn := NewConn(raw, info, h.buffer, h.logger)
	info = conn.Info()
	h.hub.Join(conversationID, conn)

	observability.IncWSActive(wsKind)
	observability.IncWSEvent(wsKind, "ws_connect")
	eventCtx := context.WithoutCancel(ctx)
	h.emit(eventCtx, "ws_connect", conversationID, info, "")

	go conn.WritePump()
	go func() {
		err := conn.ReadPump(func(payload []byte) {
			h.handleFrame(eventCtx, conn, conversationID, payload)
		})
		h.hub.Disconnect(conn.ID())
		observability.DecWSActive(wsKind)
		observability.IncWSEvent(wsKind, "ws_disconnect")

		reason := err.Error()
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, websocket.ErrCloseSent) {
			observability.IncWSEvent(wsKind, "ws_error")
			h.emit(eventCtx, "ws_error", conversationID, info, reason)
		}
		h.emit(eventCtx, "ws_disconnect", conversationID, info, reason)
	}()
}

// handleFrame applies one inbound frame. Failures are reported to the session only.
func (h *ConversationHandler) handleFrame(ctx context.Context, conn *Conn, defaultConversation int64, payload []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		h.reply(conn, models.ChatEvent{Type: models.EventError, Error: "invalid frame"})
		return
	}
	conversationID := frame.ConversationID
	if conversationID == 0 {
		conversationID = defaultConversation
	}

	switch frame.Type {
	case frameSend:
		_, err := h.members.Send(ctx, chat.SendInput{
			ConversationID: conversationID,
			SenderID:       conn.UserID(),
			Type:           frame.MessageType,
			Content:        frame.Content,
			ImageRef:       frame.ImageRef,
		})
		if err != nil {
			h.frameError(ctx, conn, conversationID, err)
		}
	case frameJoin:
		member, err := h.members.IsActiveParticipant(ctx, conversationID, conn.UserID())
		if err != nil {
			h.frameError(ctx, conn, conversationID, err)
			return
		}
		if !member {
			h.frameError(ctx, conn, conversationID, apperr.Permission("not a participant of this conversation"))
			return
		}
		h.hub.Join(conversationID, conn)
		h.reply(conn, models.ChatEvent{Type: models.EventJoined, ConversationID: conversationID})
	case frameLeave:
		h.hub.Leave(conversationID, conn.ID())
		h.reply(conn, models.ChatEvent{Type: models.EventLeft, ConversationID: conversationID})
	default:
		h.reply(conn, models.ChatEvent{Type: models.EventError, ConversationID: conversationID, Error: "unknown frame type"})
	}
}

func (h *ConversationHandler) frameError(ctx context.Context, conn *Conn, conversationID int64, err error) {
	if apperr.KindOf(err) == "" {
		h.logger.ErrorContext(ctx, "frame failed", "conversation_id", conversationID, "err", err)
	}
	h.reply(conn, models.ChatEvent{Type: models.EventError, ConversationID: conversationID, Error: apperr.PublicMessage(err)})
}

func (h *ConversationHandler) reply(conn *Conn, event models.ChatEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if !conn.Deliver(payload) {
		h.logger.Debug("reply dropped", "conn_id", conn.ID(), "type", event.Type)
	}
}

func (h *ConversationHandler) userID(c *gin.Context) (int64, error) {
	if v, ok := c.Get("userID"); ok {
		if id, ok := v.(int64); ok {
			return id, nil
		}
	}
	token := c.Query("token")
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return 0, errors.New("invalid authorization header")
		}
		token = parts[1]
	}
	if token == "" {
		return 0, errors.New("missing token")
	}
	return h.auth.ValidateToken(c.Request.Context(), token)
}

func (h *ConversationHandler) emit(ctx context.Context, event string, conversationID int64, info ConnInfo, reason string) {
	if h.events == nil {
		return
	}
	h.events.Emit(ctx, "ws."+event, map[string]any{
		"ws": map[string]any{
			"kind":            wsKind,
			"conversation_id": conversationID,
			"event":           event,
			"conn_id":         info.ConnID,
			"duration_ms":     time.Since(info.ConnectedAt).Milliseconds(),
			"reason":          reason,
		},
		"identity": map[string]any{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
		"request_id": info.RequestID,
		"trace_id":   info.TraceID,
	})
}
