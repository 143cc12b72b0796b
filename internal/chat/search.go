package chat

import (
	"context"
	"strings"
	"time"

	"github.com/samber/lo"

	"chat-engine/internal/apperr"
	"chat-engine/internal/models"
	"chat-engine/internal/repositories"
)

// SearchQuery filters a user's conversations and messages. Zero fields are ignored.
type SearchQuery struct {
	Query    string
	Type     *models.MessageType
	SenderID *int64
	DateFrom *time.Time
	DateTo   *time.Time
	HasImage *bool
	IsRead   *bool
}

// SearchResult holds matching conversations and messages, both in conversation order.
type SearchResult struct {
	Conversations []ConversationSummary `json:"conversations"`
	Messages      []MessageView         `json:"messages"`
}

// Search looks through the conversations userID is active in. A conversation
// matches when a participant name or a message contains Query.
func (s *Service) Search(ctx context.Context, userID int64, sq SearchQuery) (SearchResult, error) {
	sq.Query = strings.TrimSpace(sq.Query)
	if sq.Type != nil && !sq.Type.Valid() {
		return SearchResult{}, apperr.Validation("unknown message type")
	}
	if sq.DateFrom != nil && sq.DateTo != nil && sq.DateTo.Before(*sq.DateFrom) {
		return SearchResult{}, apperr.Validation("date_to must not be before date_from")
	}

	result := SearchResult{Conversations: []ConversationSummary{}, Messages: []MessageView{}}
	convs, err := s.store.ListConversationsForUser(ctx, userID, false)
	if err != nil {
		return SearchResult{}, err
	}
	if len(convs) == 0 {
		return result, nil
	}
	convIDs := lo.Map(convs, func(c models.Conversation, _ int) int64 { return c.ID })

	matched, err := s.matchConversations(ctx, convIDs, sq.Query)
	if err != nil {
		return SearchResult{}, err
	}
	for _, conv := range convs {
		if _, ok := matched[conv.ID]; !ok {
			continue
		}
		summary, err := s.summary(ctx, conv, userID)
		if err != nil {
			return SearchResult{}, err
		}
		result.Conversations = append(result.Conversations, summary)
	}

	msgs, err := s.store.SearchMessages(ctx, repositories.MessageFilter{
		ConversationIDs: convIDs,
		Query:           sq.Query,
		Type:            sq.Type,
		SenderID:        sq.SenderID,
		DateFrom:        sq.DateFrom,
		DateTo:          sq.DateTo,
		HasImage:        sq.HasImage,
	})
	if err != nil {
		return SearchResult{}, err
	}
	if sq.IsRead != nil {
		cursors, err := s.readCursors(ctx, convIDs, userID)
		if err != nil {
			return SearchResult{}, err
		}
		msgs = lo.Filter(msgs, func(m models.Message, _ int) bool {
			return readBy(m, userID, cursors[m.ConversationID]) == *sq.IsRead
		})
	}

	// regroup from conversation id order into list order
	grouped := lo.GroupBy(msgs, func(m models.Message) int64 { return m.ConversationID })
	ordered := make([]models.Message, 0, len(msgs))
	for _, id := range convIDs {
		ordered = append(ordered, grouped[id]...)
	}
	result.Messages, err = s.withAttachments(ctx, ordered)
	if err != nil {
		return SearchResult{}, err
	}
	return result, nil
}

// matchConversations returns the subset of convIDs matching query by message content or participant name.
func (s *Service) matchConversations(ctx context.Context, convIDs []int64, query string) (map[int64]struct{}, error) {
	if query == "" {
		return lo.SliceToMap(convIDs, func(id int64) (int64, struct{}) { return id, struct{}{} }), nil
	}

	hits, err := s.store.SearchMessages(ctx, repositories.MessageFilter{ConversationIDs: convIDs, Query: query})
	if err != nil {
		return nil, err
	}
	matched := lo.SliceToMap(hits, func(m models.Message) (int64, struct{}) { return m.ConversationID, struct{}{} })

	needle := strings.ToLower(query)
	for _, id := range convIDs {
		if _, ok := matched[id]; ok {
			continue
		}
		participants, err := s.store.ListParticipants(ctx, id)
		if err != nil {
			return nil, err
		}
		users, err := s.store.ListUsers(ctx, lo.Map(participants, func(p models.Participant, _ int) int64 { return p.UserID }))
		if err != nil {
			return nil, err
		}
		if lo.ContainsBy(users, func(u models.User) bool {
			return strings.Contains(strings.ToLower(u.Username), needle) ||
				strings.Contains(strings.ToLower(u.DisplayName), needle)
		}) {
			matched[id] = struct{}{}
		}
	}
	return matched, nil
}

func (s *Service) readCursors(ctx context.Context, convIDs []int64, userID int64) (map[int64]*time.Time, error) {
	cursors := make(map[int64]*time.Time, len(convIDs))
	for _, id := range convIDs {
		p, err := s.store.GetParticipant(ctx, id, userID)
		if err != nil {
			return nil, storeErr("participant", err)
		}
		cursors[id] = p.LastReadAt
	}
	return cursors, nil
}
