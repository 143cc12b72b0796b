package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"chat-engine/internal/chat"
	"chat-engine/internal/models"
)

// Search filters the caller's conversations and messages from query parameters.
func (h *Handler) Search(c *gin.Context) {
	sq, err := parseSearch(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.Search(c.Request.Context(), caller(c), sq)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type queryError string

func (e queryError) Error() string { return "invalid " + string(e) }

func parseSearch(c *gin.Context) (chat.SearchQuery, error) {
	sq := chat.SearchQuery{Query: c.Query("q")}
	if v := c.Query("type"); v != "" {
		t := models.MessageType(v)
		sq.Type = &t
	}
	if v := c.Query("sender_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return sq, queryError("sender_id")
		}
		sq.SenderID = &id
	}
	for key, dst := range map[string]**time.Time{"date_from": &sq.DateFrom, "date_to": &sq.DateTo} {
		if v := c.Query(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return sq, queryError(key)
			}
			*dst = &t
		}
	}
	for key, dst := range map[string]**bool{"has_image": &sq.HasImage, "is_read": &sq.IsRead} {
		if v := c.Query(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return sq, queryError(key)
			}
			*dst = &b
		}
	}
	return sq, nil
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// RegisterSelf stores the caller's profile. Repeating it returns the stored profile.
func (h *Handler) RegisterSelf(c *gin.Context) {
	var req struct {
		Username    string `json:"username" binding:"required"`
		DisplayName string `json:"display_name"`
	}
	if !bind(c, &req) {
		return
	}
	user, err := h.svc.RegisterUser(c.Request.Context(), models.User{
		ID:          caller(c),
		Username:    req.Username,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
