package chat

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"

	"chat-engine/internal/models"
	"chat-engine/internal/repositories"
)

// ParticipantView is a participant row with the user's public profile when known.
type ParticipantView struct {
	models.Participant
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// ConversationDetail is the full view of one conversation for a participant.
type ConversationDetail struct {
	models.Conversation
	Participants []ParticipantView  `json:"participants"`
	Settings     models.Participant `json:"participant_settings"`
	Messages     []MessageView      `json:"messages"`
	UnreadCount  int                `json:"unread_count"`
}

// MessagePreview is the list-view excerpt of the latest message.
type MessagePreview struct {
	ID        int64              `json:"id"`
	Content   string             `json:"content"`
	Type      models.MessageType `json:"message_type"`
	SenderID  int64              `json:"sender_id"`
	CreatedAt time.Time          `json:"created_at"`
	IsRead    bool               `json:"is_read"`
}

// ConversationSummary is one row of a participant's conversation list.
type ConversationSummary struct {
	models.Conversation
	LastMessage        *MessagePreview `json:"last_message"`
	UnreadCount        int             `json:"unread_count"`
	OtherParticipantID *int64          `json:"other_participant_id"`
	IsMuted            bool            `json:"is_muted"`
	IsArchived         bool            `json:"is_archived"`
}

// Preview shortens content for list views.
func Preview(content string) string {
	runes := []rune(content)
	if len(runes) <= PreviewLength {
		return content
	}
	return string(runes[:PreviewLength]) + "..."
}

// readBy reports whether viewer has seen msg according to cursor.
func readBy(msg models.Message, viewerID int64, cursor *time.Time) bool {
	if msg.SenderID == viewerID {
		return true
	}
	return cursor != nil && !msg.CreatedAt.After(*cursor)
}

func (s *Service) detail(ctx context.Context, conv models.Conversation, viewer models.Participant) (ConversationDetail, error) {
	participants, err := s.store.ListParticipants(ctx, conv.ID)
	if err != nil {
		return ConversationDetail{}, err
	}
	users, err := s.store.ListUsers(ctx, lo.Map(participants, func(p models.Participant, _ int) int64 { return p.UserID }))
	if err != nil {
		return ConversationDetail{}, err
	}
	byID := lo.KeyBy(users, func(u models.User) int64 { return u.ID })

	msgs, err := s.store.ListRecentMessages(ctx, conv.ID, RecentLimit)
	if err != nil {
		return ConversationDetail{}, err
	}
	views, err := s.withAttachments(ctx, msgs)
	if err != nil {
		return ConversationDetail{}, err
	}
	unread, err := s.store.CountUnread(ctx, conv.ID, viewer.UserID, viewer.LastReadAt)
	if err != nil {
		return ConversationDetail{}, err
	}

	return ConversationDetail{
		Conversation: conv,
		Participants: lo.Map(participants, func(p models.Participant, _ int) ParticipantView {
			u := byID[p.UserID]
			return ParticipantView{Participant: p, Username: u.Username, DisplayName: u.DisplayName}
		}),
		Settings:    viewer,
		Messages:    views,
		UnreadCount: unread,
	}, nil
}

func (s *Service) summary(ctx context.Context, conv models.Conversation, viewerID int64) (ConversationSummary, error) {
	participants, err := s.store.ListParticipants(ctx, conv.ID)
	if err != nil {
		return ConversationSummary{}, err
	}
	viewer, ok := lo.Find(participants, func(p models.Participant) bool { return p.UserID == viewerID })
	if !ok {
		return ConversationSummary{}, errNotParticipant
	}

	summary := ConversationSummary{
		Conversation: conv,
		IsMuted:      viewer.IsMuted,
		IsArchived:   viewer.IsArchived,
	}
	if len(participants) == 2 {
		other, _ := lo.Find(participants, func(p models.Participant) bool { return p.UserID != viewerID })
		summary.OtherParticipantID = lo.ToPtr(other.UserID)
	}

	last, err := s.store.LatestMessage(ctx, conv.ID)
	switch {
	case err == nil:
		summary.LastMessage = &MessagePreview{
			ID:        last.ID,
			Content:   Preview(last.Content),
			Type:      last.Type,
			SenderID:  last.SenderID,
			CreatedAt: last.CreatedAt,
			IsRead:    readBy(last, viewerID, viewer.LastReadAt),
		}
	case !errors.Is(err, repositories.ErrNotFound):
		return ConversationSummary{}, err
	}

	summary.UnreadCount, err = s.store.CountUnread(ctx, conv.ID, viewerID, viewer.LastReadAt)
	if err != nil {
		return ConversationSummary{}, err
	}
	return summary, nil
}
