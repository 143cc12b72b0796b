package grpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"chat-engine/internal/chat"
	"chat-engine/internal/models"
)

const (
	validateTokenMethod = "/auth.AuthService/ValidateToken"
	getUserMethod       = "/auth.AuthService/GetUser"
)

var ErrInvalidToken = errors.New("invalid token")

// AuthClient talks to the identity service. It validates bearer tokens and
// resolves users the chat store has not seen yet.
type AuthClient struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

// NewAuthClient constructs the wrapper. A zero timeout leaves calls bounded by the caller's context.
func NewAuthClient(conn grpc.ClientConnInterface, timeout time.Duration) *AuthClient {
	return &AuthClient{conn: conn, timeout: timeout}
}

// ValidateToken verifies the JWT and returns the authenticated user id.
func (a *AuthClient) ValidateToken(ctx context.Context, token string) (int64, error) {
	resp, err := invoke(ctx, a.conn, a.timeout, validateTokenMethod, map[string]any{"token": token})
	if err != nil {
		return 0, err
	}
	userID := int64Field(resp, "user_id")
	if !boolField(resp, "valid") || userID == 0 {
		return 0, ErrInvalidToken
	}
	return userID, nil
}

// LookupUser fetches a user profile from the identity service.
func (a *AuthClient) LookupUser(ctx context.Context, userID int64) (models.User, error) {
	resp, err := invoke(ctx, a.conn, a.timeout, getUserMethod, map[string]any{"user_id": userID})
	if status.Code(err) == codes.NotFound {
		return models.User{}, chat.ErrUserNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	id := int64Field(resp, "id")
	if id == 0 {
		return models.User{}, chat.ErrUserNotFound
	}
	return models.User{
		ID:          id,
		Username:    stringField(resp, "username"),
		DisplayName: stringField(resp, "display_name"),
	}, nil
}

var _ chat.Directory = (*AuthClient)(nil)
