package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"chat-engine/internal/chat"
	"chat-engine/internal/models"
)

type CatalogMock struct {
	mock.Mock
}

func (m *CatalogMock) LookupItem(ctx context.Context, itemID int64) (chat.Item, error) {
	args := m.Called(ctx, itemID)
	var item chat.Item
	if val := args.Get(0); val != nil {
		item = val.(chat.Item)
	}
	return item, args.Error(1)
}

type DirectoryMock struct {
	mock.Mock
}

func (m *DirectoryMock) LookupUser(ctx context.Context, userID int64) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

type AuthenticatorMock struct {
	mock.Mock
}

func (m *AuthenticatorMock) ValidateToken(ctx context.Context, token string) (int64, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(int64), args.Error(1)
}

type URLResolverMock struct {
	mock.Mock
}

func (m *URLResolverMock) URL(ctx context.Context, ref string) (string, error) {
	args := m.Called(ctx, ref)
	return args.String(0), args.Error(1)
}

// Broadcast is one event handed to a BroadcasterRecorder.
type Broadcast struct {
	ConversationID int64
	Event          models.ChatEvent
}

// BroadcasterRecorder keeps every published event in order.
type BroadcasterRecorder struct {
	mu       sync.Mutex
	events   []Broadcast
	removals []Removal
}

func (r *BroadcasterRecorder) Publish(conversationID int64, event models.ChatEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Broadcast{ConversationID: conversationID, Event: event})
}

// Removal is one RemoveUser call seen by a BroadcasterRecorder.
type Removal struct {
	ConversationID int64
	UserID         int64
}

func (r *BroadcasterRecorder) RemoveUser(conversationID, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removals = append(r.removals, Removal{ConversationID: conversationID, UserID: userID})
}

func (r *BroadcasterRecorder) Removals() []Removal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Removal(nil), r.removals...)
}

func (r *BroadcasterRecorder) Events() []Broadcast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Broadcast(nil), r.events...)
}

// EmittedEvent is one domain event handed to an EventSinkRecorder.
type EmittedEvent struct {
	Type    string
	Payload any
}

// EventSinkRecorder keeps every emitted domain event in order.
type EventSinkRecorder struct {
	mu     sync.Mutex
	events []EmittedEvent
}

func (r *EventSinkRecorder) Emit(_ context.Context, eventType string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, EmittedEvent{Type: eventType, Payload: payload})
}

func (r *EventSinkRecorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}
