package chat

import (
	"context"
	"errors"

	"chat-engine/internal/apperr"
	"chat-engine/internal/models"
	"chat-engine/internal/repositories"
)

var errNotParticipant = apperr.Permission("not a participant of this conversation")

// SettingsPatch updates the caller's own participant row. Nil fields are left alone.
type SettingsPatch struct {
	Muted    *bool `json:"is_muted"`
	Archived *bool `json:"is_archived"`
	Blocked  *bool `json:"is_blocked"`
}

// IsActiveParticipant reports whether userID is in the conversation and has not left.
func (s *Service) IsActiveParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	p, err := s.store.GetParticipant(ctx, conversationID, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Active(), nil
}

// requireActive loads the participant row and rejects missing or departed members.
func requireActive(ctx context.Context, q repositories.Queries, conversationID, userID int64) (models.Participant, error) {
	p, err := requireMember(ctx, q, conversationID, userID)
	if err != nil {
		return models.Participant{}, err
	}
	if !p.Active() {
		return models.Participant{}, errNotParticipant
	}
	return p, nil
}

// requireMember accepts participants that have left; they keep read access to history.
func requireMember(ctx context.Context, q repositories.Queries, conversationID, userID int64) (models.Participant, error) {
	p, err := q.GetParticipant(ctx, conversationID, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return models.Participant{}, errNotParticipant
	}
	if err != nil {
		return models.Participant{}, err
	}
	return p, nil
}

// AddParticipant adds userID on behalf of actorID. added is false when the
// user was already an active participant; a departed participant is re-activated.
func (s *Service) AddParticipant(ctx context.Context, conversationID, actorID, userID int64) (bool, error) {
	if _, err := s.resolveUser(ctx, userID); err != nil {
		return false, err
	}

	var added bool
	err := s.store.WithTx(ctx, func(q repositories.Queries) error {
		conv, err := q.GetConversation(ctx, conversationID)
		if err != nil {
			return storeErr("conversation", err)
		}
		if _, err := requireActive(ctx, q, conversationID, actorID); err != nil {
			return err
		}
		if !conv.IsActive {
			return apperr.State("conversation is not active")
		}

		now := s.clock()
		existing, err := q.GetParticipant(ctx, conversationID, userID)
		switch {
		case err == nil && existing.Active():
			return nil
		case err == nil:
			added = true
			return q.RejoinParticipant(ctx, conversationID, userID, now)
		case !errors.Is(err, repositories.ErrNotFound):
			return err
		}
		added, err = q.AddParticipant(ctx, models.Participant{ConversationID: conversationID, UserID: userID, JoinedAt: now})
		return err
	})
	if err != nil {
		return false, err
	}

	if added {
		s.events.Emit(ctx, EventParticipantAdded, map[string]any{
			"conversation_id": conversationID,
			"user_id":         userID,
			"added_by":        actorID,
		})
	}
	return added, nil
}

// Leave marks the caller as departed and detaches their live sessions. The
// conversation is deactivated once nobody active remains.
func (s *Service) Leave(ctx context.Context, conversationID, userID int64) error {
	unlock := s.order.lock(conversationID)
	var deactivated bool
	err := s.store.WithTx(ctx, func(q repositories.Queries) error {
		if _, err := q.LockConversation(ctx, conversationID); err != nil {
			return storeErr("conversation", err)
		}
		if _, err := requireActive(ctx, q, conversationID, userID); err != nil {
			return err
		}
		now := s.clock()
		if err := q.MarkParticipantLeft(ctx, conversationID, userID, now); err != nil {
			return storeErr("participant", err)
		}

		participants, err := q.ListParticipants(ctx, conversationID)
		if err != nil {
			return err
		}
		for _, p := range participants {
			if p.Active() {
				return nil
			}
		}
		deactivated = true
		return q.SetConversationActive(ctx, conversationID, false, now)
	})
	if err != nil {
		unlock()
		return err
	}
	s.hub.RemoveUser(conversationID, userID)
	unlock()

	s.events.Emit(ctx, EventParticipantLeft, map[string]any{
		"conversation_id": conversationID,
		"user_id":         userID,
	})
	if deactivated {
		s.logger.InfoContext(ctx, "conversation deactivated", "conversation_id", conversationID, "reason", "no active participants")
	}
	return nil
}

// UpdateSettings applies patch to the caller's own participant row.
func (s *Service) UpdateSettings(ctx context.Context, conversationID, userID int64, patch SettingsPatch) (models.Participant, error) {
	var updated models.Participant
	err := s.store.WithTx(ctx, func(q repositories.Queries) error {
		p, err := requireActive(ctx, q, conversationID, userID)
		if err != nil {
			return err
		}
		settings := models.ParticipantSettings{IsMuted: p.IsMuted, IsArchived: p.IsArchived, IsBlocked: p.IsBlocked}
		if patch.Muted != nil {
			settings.IsMuted = *patch.Muted
		}
		if patch.Archived != nil {
			settings.IsArchived = *patch.Archived
		}
		if patch.Blocked != nil {
			settings.IsBlocked = *patch.Blocked
		}
		if err := q.UpdateParticipantSettings(ctx, conversationID, userID, settings); err != nil {
			return storeErr("participant", err)
		}
		p.IsMuted, p.IsArchived, p.IsBlocked = settings.IsMuted, settings.IsArchived, settings.IsBlocked
		updated = p
		return nil
	})
	return updated, err
}

func (s *Service) Mute(ctx context.Context, conversationID, userID int64, muted bool) (models.Participant, error) {
	return s.UpdateSettings(ctx, conversationID, userID, SettingsPatch{Muted: &muted})
}

func (s *Service) Archive(ctx context.Context, conversationID, userID int64, archived bool) (models.Participant, error) {
	return s.UpdateSettings(ctx, conversationID, userID, SettingsPatch{Archived: &archived})
}

func (s *Service) Block(ctx context.Context, conversationID, userID int64, blocked bool) (models.Participant, error) {
	return s.UpdateSettings(ctx, conversationID, userID, SettingsPatch{Blocked: &blocked})
}
