package chat

import (
	"context"
	"strings"

	"github.com/samber/lo"

	"chat-engine/internal/apperr"
	"chat-engine/internal/models"
	"chat-engine/internal/repositories"
)

// SendInput describes a new message.
type SendInput struct {
	ConversationID int64
	SenderID       int64
	Type           models.MessageType
	Content        string
	ImageRef       *string
	Metadata       models.Metadata
}

// EditPatch carries the mutable parts of a message. Nil fields are left alone.
type EditPatch struct {
	Content *string             `json:"content"`
	Type    *models.MessageType `json:"message_type"`
}

// PageRequest is a keyset page over a conversation's history.
type PageRequest struct {
	AfterID int64
	Limit   int
}

// prepare normalizes and validates in without touching the store.
func (in *SendInput) prepare() error {
	if in.Type == "" {
		in.Type = models.MessageTypeText
	}
	if !in.Type.Valid() {
		return apperr.Validation("unknown message type")
	}
	in.Content = strings.TrimSpace(in.Content)
	if in.ImageRef != nil {
		ref := strings.TrimSpace(*in.ImageRef)
		in.ImageRef = lo.EmptyableToPtr(ref)
	}
	return checkContent(in.Type, in.Content, in.ImageRef)
}

func checkContent(t models.MessageType, content string, imageRef *string) error {
	if content != "" {
		return nil
	}
	if t.RequiresContent() {
		return apperr.Validation("message content cannot be empty")
	}
	if imageRef == nil {
		return apperr.Validation("image message needs content or an image reference")
	}
	return nil
}

// Send persists a message and advances the conversation's last_message_at.
func (s *Service) Send(ctx context.Context, in SendInput) (models.Message, error) {
	if err := in.prepare(); err != nil {
		return models.Message{}, err
	}

	unlock := s.order.lock(in.ConversationID)
	var msg models.Message
	err := s.store.WithTx(ctx, func(q repositories.Queries) error {
		var err error
		msg, err = s.insertMessage(ctx, q, in)
		return err
	})
	if err != nil {
		unlock()
		return models.Message{}, err
	}

	wire := msg.ToWire()
	s.hub.Publish(msg.ConversationID, models.ChatEvent{Type: models.EventMessage, Message: &wire})
	unlock()

	s.events.Emit(ctx, EventMessageCreated, wire)
	s.logger.DebugContext(ctx, "message sent",
		"conversation_id", msg.ConversationID,
		"message_id", msg.ID,
		"type", msg.Type,
	)
	return msg, nil
}

// insertMessage runs the send path inside an open transaction.
func (s *Service) insertMessage(ctx context.Context, q repositories.Queries, in SendInput) (models.Message, error) {
	conv, err := q.LockConversation(ctx, in.ConversationID)
	if err != nil {
		return models.Message{}, storeErr("conversation", err)
	}
	if _, err := requireActive(ctx, q, in.ConversationID, in.SenderID); err != nil {
		return models.Message{}, err
	}
	if !conv.IsActive {
		return models.Message{}, apperr.State("conversation is not active")
	}

	createdAt := s.clock()
	if conv.LastMessageAt != nil && createdAt.Before(*conv.LastMessageAt) {
		createdAt = *conv.LastMessageAt
	}
	msg, err := q.CreateMessage(ctx, models.Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Type:           in.Type,
		Content:        in.Content,
		ImageRef:       in.ImageRef,
		Metadata:       lo.Assign(models.Metadata{}, in.Metadata),
		CreatedAt:      createdAt,
	})
	if err != nil {
		return models.Message{}, err
	}
	if err := q.TouchConversation(ctx, in.ConversationID, msg.CreatedAt); err != nil {
		return models.Message{}, storeErr("conversation", err)
	}
	return msg, nil
}

// requireOpen rejects writes to a deactivated conversation.
func requireOpen(ctx context.Context, q repositories.Queries, conversationID int64) error {
	conv, err := q.GetConversation(ctx, conversationID)
	if err != nil {
		return storeErr("conversation", err)
	}
	if !conv.IsActive {
		return apperr.State("conversation is not active")
	}
	return nil
}

// conversationOf resolves the conversation a message belongs to. The link never changes.
func (s *Service) conversationOf(ctx context.Context, messageID int64) (int64, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return 0, storeErr("message", err)
	}
	return msg.ConversationID, nil
}

// Edit rewrites a message's content or type. Only the sender may edit.
func (s *Service) Edit(ctx context.Context, messageID, actorID int64, patch EditPatch) (models.Message, error) {
	conversationID, err := s.conversationOf(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	unlock := s.order.lock(conversationID)
	var updated models.Message
	err = s.store.WithTx(ctx, func(q repositories.Queries) error {
		msg, err := q.GetMessage(ctx, messageID)
		if err != nil {
			return storeErr("message", err)
		}
		if msg.IsDeleted {
			return apperr.NotFound("message", nil)
		}
		if msg.SenderID != actorID {
			return apperr.Permission("only the sender can edit this message")
		}
		if _, err := requireActive(ctx, q, msg.ConversationID, actorID); err != nil {
			return err
		}
		if err := requireOpen(ctx, q, msg.ConversationID); err != nil {
			return err
		}

		if patch.Type != nil {
			if !patch.Type.Valid() {
				return apperr.Validation("unknown message type")
			}
			msg.Type = *patch.Type
		}
		if patch.Content != nil {
			msg.Content = strings.TrimSpace(*patch.Content)
		}
		if err := checkContent(msg.Type, msg.Content, msg.ImageRef); err != nil {
			return err
		}

		msg.UpdatedAt = s.clock()
		if msg.UpdatedAt.Before(msg.CreatedAt) {
			msg.UpdatedAt = msg.CreatedAt
		}
		updated, err = q.UpdateMessage(ctx, msg)
		return err
	})
	if err != nil {
		unlock()
		return models.Message{}, err
	}

	wire := updated.ToWire()
	s.hub.Publish(updated.ConversationID, models.ChatEvent{Type: models.EventMessageEdited, Message: &wire, MessageID: updated.ID})
	unlock()
	s.events.Emit(ctx, EventMessageEdited, wire)
	return updated, nil
}

// SoftDelete hides a message. Deleting twice is a no-op.
func (s *Service) SoftDelete(ctx context.Context, messageID, actorID int64) error {
	conversationID, err := s.conversationOf(ctx, messageID)
	if err != nil {
		return err
	}
	unlock := s.order.lock(conversationID)
	var changed bool
	err = s.store.WithTx(ctx, func(q repositories.Queries) error {
		msg, err := q.GetMessage(ctx, messageID)
		if err != nil {
			return storeErr("message", err)
		}
		if msg.SenderID != actorID {
			return apperr.Permission("only the sender can delete this message")
		}
		if msg.IsDeleted {
			return nil
		}
		if _, err := requireActive(ctx, q, msg.ConversationID, actorID); err != nil {
			return err
		}
		if err := requireOpen(ctx, q, msg.ConversationID); err != nil {
			return err
		}
		changed = true
		return q.SoftDeleteMessage(ctx, messageID, s.clock())
	})
	if err != nil || !changed {
		unlock()
		return err
	}

	s.hub.Publish(conversationID, models.ChatEvent{Type: models.EventMessageDeleted, MessageID: messageID})
	unlock()
	s.events.Emit(ctx, EventMessageDeleted, map[string]any{
		"conversation_id": conversationID,
		"message_id":      messageID,
	})
	return nil
}

// MessageView is a message as returned to readers, with attachments resolved.
type MessageView struct {
	models.Message
	Attachments []AttachmentView `json:"attachments"`
}

// Recent returns up to RecentLimit of the newest non-deleted messages, oldest first.
func (s *Service) Recent(ctx context.Context, conversationID, viewerID int64) ([]MessageView, error) {
	if err := s.requireReader(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListRecentMessages(ctx, conversationID, RecentLimit)
	if err != nil {
		return nil, err
	}
	return s.withAttachments(ctx, msgs)
}

// History pages forward through a conversation ordered by (created_at, id).
func (s *Service) History(ctx context.Context, conversationID, viewerID int64, page PageRequest) ([]MessageView, error) {
	if err := s.requireReader(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}
	limit := page.Limit
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}
	if page.AfterID > 0 {
		anchor, err := s.store.GetMessage(ctx, page.AfterID)
		if err != nil {
			return nil, storeErr("message", err)
		}
		if anchor.ConversationID != conversationID {
			return nil, apperr.Validation("cursor message belongs to another conversation")
		}
	}
	msgs, err := s.store.ListMessagesAfter(ctx, conversationID, page.AfterID, limit)
	if err != nil {
		return nil, err
	}
	return s.withAttachments(ctx, msgs)
}

// requireReader checks the conversation exists and the viewer is or was a participant.
func (s *Service) requireReader(ctx context.Context, conversationID, viewerID int64) error {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return storeErr("conversation", err)
	}
	_, err := requireMember(ctx, s.store, conversationID, viewerID)
	return err
}
