package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chat-engine/internal/apperr"
	"chat-engine/internal/models"
	"chat-engine/internal/repositories"
)

// Subscribe registers an observer for UserRegistered.
func (s *Service) Subscribe(o UserObserver) {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.observers = append(s.observers, o)
}

// RegisterUser stores u when its id is new and notifies observers once.
// Registering a known id returns the stored user and notifies nobody.
func (s *Service) RegisterUser(ctx context.Context, u models.User) (models.User, error) {
	if u.ID <= 0 {
		return models.User{}, apperr.Validation("user id must be positive")
	}
	u.Username = strings.TrimSpace(u.Username)
	if u.Username == "" {
		return models.User{}, apperr.Validation("username is required")
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.clock()
	}

	stored, created, err := s.store.CreateUser(ctx, u)
	if err != nil {
		return models.User{}, err
	}
	if !created {
		return stored, nil
	}

	event := models.UserRegistered{User: stored, OccurredAt: s.clock()}
	s.observersMu.RLock()
	observers := append([]UserObserver(nil), s.observers...)
	s.observersMu.RUnlock()
	for _, o := range observers {
		o.UserRegistered(ctx, event)
	}
	s.events.Emit(ctx, EventUserRegistered, stored)
	return stored, nil
}

// resolveUser returns the local user row, falling back to the directory for ids not seen yet.
func (s *Service) resolveUser(ctx context.Context, userID int64) (models.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return models.User{}, err
	}
	if s.directory == nil {
		return models.User{}, apperr.NotFound("user", err)
	}
	remote, err := s.directory.LookupUser(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return models.User{}, apperr.NotFound("user", err)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("lookup user %d: %w", userID, err)
	}
	return s.RegisterUser(ctx, remote)
}
