package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"chat-engine/internal/chat"
	"chat-engine/internal/models"
)

// ListMessages returns the latest page, or a keyset page when after_id or limit is given.
func (h *Handler) ListMessages(c *gin.Context) {
	id, ok := pathID(c, "conversation")
	if !ok {
		return
	}

	afterRaw, limitRaw := c.Query("after_id"), c.Query("limit")
	if afterRaw == "" && limitRaw == "" {
		msgs, err := h.svc.Recent(c.Request.Context(), id, caller(c))
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": msgs})
		return
	}

	var page chat.PageRequest
	if afterRaw != "" {
		after, err := strconv.ParseInt(afterRaw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after_id"})
			return
		}
		page.AfterID = after
	}
	if limitRaw != "" {
		limit, err := strconv.Atoi(limitRaw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		page.Limit = limit
	}
	msgs, err := h.svc.History(c.Request.Context(), id, caller(c), page)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type sendMessageRequest struct {
	Type     models.MessageType `json:"message_type"`
	Content  string             `json:"content"`
	ImageRef *string            `json:"image_ref"`
	Metadata models.Metadata    `json:"metadata"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	id, ok := pathID(c, "conversation")
	if !ok {
		return
	}
	var req sendMessageRequest
	if !bind(c, &req) {
		return
	}

	msg, err := h.svc.Send(c.Request.Context(), chat.SendInput{
		ConversationID: id,
		SenderID:       caller(c),
		Type:           req.Type,
		Content:        req.Content,
		ImageRef:       req.ImageRef,
		Metadata:       req.Metadata,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// offerRequest accepts the amount as a JSON number or a numeric string.
type offerRequest struct {
	Amount  json.Number `json:"offer_amount"`
	Message string      `json:"message"`
}

func (h *Handler) SendOffer(c *gin.Context) {
	id, ok := pathID(c, "conversation")
	if !ok {
		return
	}
	var req offerRequest
	if !bind(c, &req) {
		return
	}

	msg, err := h.svc.SendOffer(c.Request.Context(), chat.OfferInput{
		ConversationID: id,
		SenderID:       caller(c),
		Amount:         req.Amount.String(),
		Note:           req.Message,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

type meetupRequest struct {
	Location      string    `json:"location"`
	SuggestedTime time.Time `json:"suggested_time"`
	Message       string    `json:"message"`
}

func (h *Handler) SendMeetup(c *gin.Context) {
	id, ok := pathID(c, "conversation")
	if !ok {
		return
	}
	var req meetupRequest
	if !bind(c, &req) {
		return
	}

	msg, err := h.svc.SendMeetup(c.Request.Context(), chat.MeetupInput{
		ConversationID: id,
		SenderID:       caller(c),
		Location:       req.Location,
		SuggestedTime:  req.SuggestedTime,
		Note:           req.Message,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) EditMessage(c *gin.Context) {
	id, ok := pathID(c, "message")
	if !ok {
		return
	}
	var patch chat.EditPatch
	if !bind(c, &patch) {
		return
	}
	msg, err := h.svc.Edit(c.Request.Context(), id, caller(c), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage soft-deletes a message. Repeating it is not an error.
func (h *Handler) DeleteMessage(c *gin.Context) {
	id, ok := pathID(c, "message")
	if !ok {
		return
	}
	if err := h.svc.SoftDelete(c.Request.Context(), id, caller(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *Handler) AddAttachment(c *gin.Context) {
	id, ok := pathID(c, "message")
	if !ok {
		return
	}
	var req chat.AttachmentInput
	if !bind(c, &req) {
		return
	}
	att, err := h.svc.AddAttachment(c.Request.Context(), id, caller(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, att)
}
