package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-engine/internal/apperr"
	"chat-engine/internal/chat"
	"chat-engine/internal/middleware"
)

// Handler exposes the chat service over HTTP.
type Handler struct {
	svc    *chat.Service
	logger *slog.Logger
}

// NewHandler builds a Handler.
func NewHandler(svc *chat.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger.With("component", "http")}
}

// Register mounts every chat route on r behind auth.
func (h *Handler) Register(r gin.IRouter, auth gin.HandlerFunc) {
	g := r.Group("/", auth)

	g.GET("/conversations", h.ListConversations)
	g.POST("/conversations", h.CreateConversation)
	g.GET("/conversations/:id", h.GetConversation)
	g.POST("/conversations/:id/deactivate", h.DeactivateConversation)

	g.GET("/conversations/:id/messages", h.ListMessages)
	g.POST("/conversations/:id/messages", h.SendMessage)
	g.POST("/conversations/:id/offers", h.SendOffer)
	g.POST("/conversations/:id/meetups", h.SendMeetup)
	g.PATCH("/messages/:id", h.EditMessage)
	g.DELETE("/messages/:id", h.DeleteMessage)
	g.POST("/messages/:id/attachments", h.AddAttachment)

	g.POST("/conversations/:id/participants", h.AddParticipant)
	g.POST("/conversations/:id/leave", h.Leave)
	g.PATCH("/conversations/:id/settings", h.UpdateSettings)

	g.POST("/conversations/:id/read", h.MarkRead)
	g.GET("/conversations/:id/unread", h.UnreadCount)
	g.GET("/unread", h.TotalUnread)

	g.GET("/search", h.Search)
	g.GET("/stats", h.Stats)
	g.PUT("/users/me", h.RegisterSelf)
}

// fail writes err with the status its kind maps to.
func (h *Handler) fail(c *gin.Context, err error) {
	code := apperr.HTTPStatus(err)
	if code == http.StatusInternalServerError {
		h.logger.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "err", err)
	}
	c.JSON(code, gin.H{"error": apperr.PublicMessage(err)})
}

func pathID(c *gin.Context, what string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + what + " id"})
		return 0, false
	}
	return id, true
}

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func caller(c *gin.Context) int64 {
	return middleware.UserID(c)
}
