package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-engine/internal/chat"
)

// ListConversations returns the caller's conversation summaries, most recent first.
func (h *Handler) ListConversations(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

// CreateConversation opens a conversation or returns the existing one for the same item and pair.
func (h *Handler) CreateConversation(c *gin.Context) {
	var req chat.CreateConversationInput
	if !bind(c, &req) {
		return
	}

	conv, created, err := h.svc.Create(c.Request.Context(), caller(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	c.JSON(code, gin.H{"conversation": conv, "created": created})
}

func (h *Handler) GetConversation(c *gin.Context) {
	id, ok := pathID(c, "conversation")
	if !ok {
		return
	}
	detail, err := h.svc.Get(c.Request.Context(), id, caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) DeactivateConversation(c *gin.Context) {
	id, ok := pathID(c, "conversation")
	if !ok {
		return
	}
	if err := h.svc.Deactivate(c.Request.Context(), id, caller(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}
