package chat

import (
	"context"
	"time"

	"github.com/samber/lo"

	"chat-engine/internal/apperr"
	"chat-engine/internal/repositories"
)

// ReadMark names how far a participant has read: either a time or a set of messages.
type ReadMark struct {
	UpTo       *time.Time `json:"up_to"`
	MessageIDs []int64    `json:"message_ids"`
}

// MarkRead advances the caller's read cursor and returns it. The cursor never moves backwards.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID int64, mark ReadMark) (time.Time, error) {
	if mark.UpTo == nil && len(mark.MessageIDs) == 0 {
		return time.Time{}, apperr.Validation("up_to or message_ids is required")
	}

	var cursor time.Time
	err := s.store.WithTx(ctx, func(q repositories.Queries) error {
		if _, err := q.GetConversation(ctx, conversationID); err != nil {
			return storeErr("conversation", err)
		}
		if _, err := requireActive(ctx, q, conversationID, userID); err != nil {
			return err
		}

		var target time.Time
		if mark.UpTo != nil {
			target = mark.UpTo.UTC()
		}
		if len(mark.MessageIDs) > 0 {
			ids := lo.Uniq(mark.MessageIDs)
			created, err := q.MessagesCreatedAt(ctx, conversationID, ids)
			if err != nil {
				return err
			}
			if len(created) != len(ids) {
				return apperr.Validation("message_ids must belong to this conversation")
			}
			for _, at := range created {
				if at.After(target) {
					target = at
				}
			}
		}

		var err error
		cursor, err = q.AdvanceReadCursor(ctx, conversationID, userID, target)
		if err != nil {
			return storeErr("participant", err)
		}
		return nil
	})
	return cursor, err
}

// UnreadCount counts messages from others newer than the caller's cursor.
func (s *Service) UnreadCount(ctx context.Context, conversationID, userID int64) (int, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return 0, storeErr("conversation", err)
	}
	p, err := requireMember(ctx, s.store, conversationID, userID)
	if err != nil {
		return 0, err
	}
	return s.store.CountUnread(ctx, conversationID, userID, p.LastReadAt)
}

// TotalUnread sums UnreadCount over every conversation the user is active in.
func (s *Service) TotalUnread(ctx context.Context, userID int64) (int, error) {
	convs, err := s.store.ListConversationsForUser(ctx, userID, false)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, conv := range convs {
		p, err := s.store.GetParticipant(ctx, conv.ID, userID)
		if err != nil {
			return 0, storeErr("participant", err)
		}
		n, err := s.store.CountUnread(ctx, conv.ID, userID, p.LastReadAt)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
