package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	req := require.New(t)
	a, err := NewJWTAuthenticator("secret", "chat-engine")
	req.NoError(err)

	token, err := a.IssueToken(42, time.Hour)
	req.NoError(err)

	userID, err := a.ValidateToken(context.Background(), token)
	req.NoError(err)
	req.Equal(int64(42), userID)
}

func TestValidateRejects(t *testing.T) {
	req := require.New(t)
	a, err := NewJWTAuthenticator("secret", "chat-engine")
	req.NoError(err)
	other, err := NewJWTAuthenticator("other", "chat-engine")
	req.NoError(err)
	foreign, err := NewJWTAuthenticator("secret", "someone-else")
	req.NoError(err)

	expired, err := a.IssueToken(1, -time.Minute)
	req.NoError(err)
	wrongKey, err := other.IssueToken(1, time.Hour)
	req.NoError(err)
	wrongIssuer, err := foreign.IssueToken(1, time.Hour)
	req.NoError(err)
	zeroUser, err := a.IssueToken(0, time.Hour)
	req.NoError(err)

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"zero user":    zeroUser,
		"garbage":      "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := a.ValidateToken(context.Background(), token)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestSecretRequired(t *testing.T) {
	_, err := NewJWTAuthenticator("", "x")
	require.Error(t, err)
}
