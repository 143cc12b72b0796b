package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"chat-engine/internal/apperr"
	"chat-engine/internal/models"
	"chat-engine/internal/repositories"
)

// CreateConversationInput opens a conversation, optionally about a catalog item.
type CreateConversationInput struct {
	ParticipantIDs []int64 `json:"participant_ids"`
	RelatedItemID  *int64  `json:"related_item_id"`
	Title          *string `json:"title"`
	InitialMessage *string `json:"initial_message"`
}

// DedupKey identifies the single conversation between two users about one item.
func DedupKey(itemID, userA, userB int64) string {
	low, high := userA, userB
	if low > high {
		low, high = high, low
	}
	return fmt.Sprintf("item:%d:%d:%d", itemID, low, high)
}

// Create opens a conversation. For item-linked requests an existing conversation
// between the same pair about the same item is returned as-is with created=false.
func (s *Service) Create(ctx context.Context, initiatorID int64, in CreateConversationInput) (models.Conversation, bool, error) {
	var (
		ownerID  int64
		dedupKey *string
	)
	if in.RelatedItemID != nil {
		item, err := s.lookupItem(ctx, *in.RelatedItemID)
		if err != nil {
			return models.Conversation{}, false, err
		}
		if item.Status != ItemStatusActive {
			return models.Conversation{}, false, apperr.Validation("item is not available")
		}
		if item.OwnerID == initiatorID {
			return models.Conversation{}, false, apperr.Validation("cannot start a conversation about your own item")
		}
		ownerID = item.OwnerID
		dedupKey = lo.ToPtr(DedupKey(*in.RelatedItemID, initiatorID, ownerID))
	}

	requested := lo.Uniq(lo.Reject(in.ParticipantIDs, func(id int64, _ int) bool { return id == initiatorID }))
	for _, id := range requested {
		if _, err := s.resolveUser(ctx, id); err != nil {
			return models.Conversation{}, false, err
		}
	}
	others := requested
	if ownerID != 0 && !lo.Contains(others, ownerID) {
		others = append([]int64{ownerID}, others...)
	}
	if len(others) == 0 {
		return models.Conversation{}, false, apperr.Validation("at least one other participant is required")
	}

	var initial string
	if in.InitialMessage != nil {
		initial = strings.TrimSpace(*in.InitialMessage)
		if initial == "" {
			return models.Conversation{}, false, apperr.Validation("initial message cannot be empty")
		}
	}
	var title *string
	if in.Title != nil {
		title = lo.EmptyableToPtr(strings.TrimSpace(*in.Title))
	}

	var (
		conv    models.Conversation
		created bool
		first   *models.Message
	)
	err := s.store.WithTx(ctx, func(q repositories.Queries) error {
		now := s.clock()
		var err error
		conv, created, err = q.CreateOrGetConversation(ctx, models.Conversation{
			Title:         title,
			RelatedItemID: in.RelatedItemID,
			DedupKey:      dedupKey,
			IsActive:      true,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if err != nil || !created {
			return err
		}

		for _, userID := range append([]int64{initiatorID}, others...) {
			if _, err := q.AddParticipant(ctx, models.Participant{ConversationID: conv.ID, UserID: userID, JoinedAt: now}); err != nil {
				return err
			}
		}

		if initial == "" {
			return nil
		}
		msgType := models.MessageTypeText
		if in.RelatedItemID != nil {
			msgType = models.MessageTypeProductInquiry
		}
		msg, err := s.insertMessage(ctx, q, SendInput{
			ConversationID: conv.ID,
			SenderID:       initiatorID,
			Type:           msgType,
			Content:        initial,
		})
		if err != nil {
			return err
		}
		first = &msg
		conv.LastMessageAt = lo.ToPtr(msg.CreatedAt)
		conv.UpdatedAt = msg.CreatedAt
		return nil
	})
	if err != nil {
		return models.Conversation{}, false, err
	}

	if !created {
		s.logger.DebugContext(ctx, "conversation reused", "conversation_id", conv.ID, "initiator_id", initiatorID)
		return conv, false, nil
	}
	s.events.Emit(ctx, EventConversationCreated, map[string]any{
		"conversation_id": conv.ID,
		"initiator_id":    initiatorID,
		"participant_ids": append([]int64{initiatorID}, others...),
		"related_item_id": in.RelatedItemID,
	})
	if first != nil {
		wire := first.ToWire()
		unlock := s.order.lock(conv.ID)
		s.hub.Publish(conv.ID, models.ChatEvent{Type: models.EventMessage, Message: &wire})
		unlock()
		s.events.Emit(ctx, EventMessageCreated, wire)
	}
	s.logger.InfoContext(ctx, "conversation created", "conversation_id", conv.ID, "participants", len(others)+1)
	return conv, true, nil
}

func (s *Service) lookupItem(ctx context.Context, itemID int64) (Item, error) {
	if s.catalog == nil {
		return Item{}, errors.New("catalog is not configured")
	}
	item, err := s.catalog.LookupItem(ctx, itemID)
	if errors.Is(err, ErrItemNotFound) {
		return Item{}, apperr.NotFound("item", err)
	}
	if err != nil {
		return Item{}, fmt.Errorf("lookup item %d: %w", itemID, err)
	}
	return item, nil
}

// Deactivate closes a conversation to new messages. History is kept.
func (s *Service) Deactivate(ctx context.Context, conversationID, actorID int64) error {
	var changed bool
	err := s.store.WithTx(ctx, func(q repositories.Queries) error {
		conv, err := q.LockConversation(ctx, conversationID)
		if err != nil {
			return storeErr("conversation", err)
		}
		if _, err := requireActive(ctx, q, conversationID, actorID); err != nil {
			return err
		}
		if !conv.IsActive {
			return nil
		}
		changed = true
		return q.SetConversationActive(ctx, conversationID, false, s.clock())
	})
	if err != nil || !changed {
		return err
	}
	s.events.Emit(ctx, EventConversationClosed, map[string]any{
		"conversation_id": conversationID,
		"actor_id":        actorID,
	})
	return nil
}

// Get returns the conversation detail as seen by viewerID.
func (s *Service) Get(ctx context.Context, conversationID, viewerID int64) (ConversationDetail, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return ConversationDetail{}, storeErr("conversation", err)
	}
	viewer, err := requireMember(ctx, s.store, conversationID, viewerID)
	if err != nil {
		return ConversationDetail{}, err
	}
	return s.detail(ctx, conv, viewer)
}

// List returns summaries of every conversation viewerID is active in, most recent first.
func (s *Service) List(ctx context.Context, viewerID int64) ([]ConversationSummary, error) {
	convs, err := s.store.ListConversationsForUser(ctx, viewerID, false)
	if err != nil {
		return nil, err
	}
	summaries := make([]ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summary, err := s.summary(ctx, conv, viewerID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}
