package blob

import (
	"context"
	"log/slog"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticResolver(t *testing.T) {
	r := NewStaticResolver("https://cdn.example.com/", "chat")

	u, err := r.URL(context.Background(), "/chat/att/1.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/chat/att/1.png", u)

	u, err = r.URL(context.Background(), "att/2.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/chat/att/2.png", u)

	_, err = r.URL(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyRef)
}

func TestStaticResolverWithoutBucket(t *testing.T) {
	u, err := NewStaticResolver("http://localhost:9000", "").URL(context.Background(), "a/b.jpg")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/a/b.jpg", u)
}

func TestPresignClientSignsLocally(t *testing.T) {
	c, err := NewPresignClient("http://localhost:9000", false, "minio", "minio123", "chat", 0, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, DefaultExpiry, c.expiry)

	raw, err := c.URL(context.Background(), "chat/att/1.png")
	require.NoError(t, err)
	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", parsed.Host)
	assert.Equal(t, "/chat/att/1.png", parsed.Path)
	assert.NotEmpty(t, parsed.Query().Get("X-Amz-Signature"))
}

func TestPresignClientRequiresBucket(t *testing.T) {
	_, err := NewPresignClient("http://localhost:9000", false, "a", "b", " ", 0, slog.Default())
	assert.Error(t, err)
}
