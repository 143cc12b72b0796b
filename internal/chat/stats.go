package chat

import (
	"context"

	"github.com/samber/lo"

	"chat-engine/internal/models"
	"chat-engine/internal/repositories"
)

// Stats summarizes a user's messaging activity.
type Stats struct {
	TotalConversations  int `json:"total_conversations"`
	ActiveConversations int `json:"active_conversations"`
	TotalMessages       int `json:"total_messages"`
	UnreadMessages      int `json:"unread_messages"`
	MessagesSent        int `json:"messages_sent"`
	MessagesReceived    int `json:"messages_received"`
}

// Stats counts over every conversation the user has ever joined. Active
// conversations are those still open where the user has not left.
func (s *Service) Stats(ctx context.Context, userID int64) (Stats, error) {
	all, err := s.store.ListConversationsForUser(ctx, userID, true)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{TotalConversations: len(all)}
	if len(all) == 0 {
		return stats, nil
	}

	active, err := s.store.ListConversationsForUser(ctx, userID, false)
	if err != nil {
		return Stats{}, err
	}
	stats.ActiveConversations = lo.CountBy(active, func(c models.Conversation) bool { return c.IsActive })

	ids := lo.Map(all, func(c models.Conversation, _ int) int64 { return c.ID })
	if stats.TotalMessages, err = s.store.CountMessages(ctx, repositories.MessageCount{ConversationIDs: ids}); err != nil {
		return Stats{}, err
	}
	if stats.MessagesSent, err = s.store.CountMessages(ctx, repositories.MessageCount{ConversationIDs: ids, SenderID: &userID}); err != nil {
		return Stats{}, err
	}
	if stats.MessagesReceived, err = s.store.CountMessages(ctx, repositories.MessageCount{ConversationIDs: ids, ExcludeSenderID: &userID}); err != nil {
		return Stats{}, err
	}

	if stats.UnreadMessages, err = s.TotalUnread(ctx, userID); err != nil {
		return Stats{}, err
	}
	return stats, nil
}
