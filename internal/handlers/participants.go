package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-engine/internal/chat"
)

// AddParticipant answers 201 when the user joined and 200 when they already were a participant.
func (h *Handler) AddParticipant(c *gin.Context) {
	id, ok := pathID(c, "conversation")
	if !ok {
		return
	}
	var req struct {
		UserID int64 `json:"user_id" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}

	added, err := h.svc.AddParticipant(c.Request.Context(), id, caller(c), req.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !added {
		c.JSON(http.StatusOK, gin.H{"added": false, "message": "already a participant"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"added": true})
}

func (h *Handler) Leave(c *gin.Context) {
	id, ok := pathID(c, "conversation")
	if !ok {
		return
	}
	if err := h.svc.Leave(c.Request.Context(), id, caller(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

func (h *Handler) UpdateSettings(c *gin.Context) {
	id, ok := pathID(c, "conversation")
	if !ok {
		return
	}
	var req struct {
		Muted    *bool `json:"is_muted"`
		Archived *bool `json:"is_archived"`
		Blocked  *bool `json:"is_blocked"`
	}
	if !bind(c, &req) {
		return
	}

	p, err := h.svc.UpdateSettings(c.Request.Context(), id, caller(c), chat.SettingsPatch{
		Muted:    req.Muted,
		Archived: req.Archived,
		Blocked:  req.Blocked,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) MarkRead(c *gin.Context) {
	id, ok := pathID(c, "conversation")
	if !ok {
		return
	}
	var mark chat.ReadMark
	if !bind(c, &mark) {
		return
	}
	cursor, err := h.svc.MarkRead(c.Request.Context(), id, caller(c), mark)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"last_read_at": cursor})
}

func (h *Handler) UnreadCount(c *gin.Context) {
	id, ok := pathID(c, "conversation")
	if !ok {
		return
	}
	n, err := h.svc.UnreadCount(c.Request.Context(), id, caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": n})
}

func (h *Handler) TotalUnread(c *gin.Context) {
	n, err := h.svc.TotalUnread(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": n})
}
