package repositories

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-engine/internal/db"
	"chat-engine/internal/models"
)

// newPostgresStore connects to TEST_DB_DSN and skips when it is unset.
func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	conn, err := db.Connect(context.Background(), dsn, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewPostgresStore(conn)
}

func seedPostgresConversation(t *testing.T, s *PostgresStore, users ...int64) models.Conversation {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	conv, created, err := s.CreateOrGetConversation(ctx, models.Conversation{IsActive: true, CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
	require.True(t, created)
	for _, u := range users {
		_, err := s.AddParticipant(ctx, models.Participant{ConversationID: conv.ID, UserID: u, JoinedAt: now})
		require.NoError(t, err)
	}
	return conv
}

func TestPostgresStoreConcurrentDedup(t *testing.T) {
	s := newPostgresStore(t)
	key := "item:test:" + uuid.NewString()

	var wg sync.WaitGroup
	ids := make([]int64, 8)
	created := make([]bool, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.WithTx(context.Background(), func(q Queries) error {
				now := time.Now().UTC()
				conv, ok, err := q.CreateOrGetConversation(context.Background(), models.Conversation{DedupKey: &key, IsActive: true, CreatedAt: now, UpdatedAt: now})
				ids[i], created[i] = conv.ID, ok
				return err
			})
		}(i)
	}
	wg.Wait()

	assert.Len(t, lo.Uniq(ids), 1)
	assert.NotZero(t, ids[0])
	assert.Equal(t, 1, lo.Count(created, true))
}

func TestPostgresStoreWithTxRollsBack(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	t.Run("error", func(t *testing.T) {
		key := "rollback:" + uuid.NewString()
		err := s.WithTx(ctx, func(q Queries) error {
			_, _, err := q.CreateOrGetConversation(ctx, models.Conversation{DedupKey: &key, IsActive: true, CreatedAt: time.Now(), UpdatedAt: time.Now()})
			require.NoError(t, err)
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, created, err := s.CreateOrGetConversation(ctx, models.Conversation{DedupKey: &key, IsActive: true, CreatedAt: time.Now(), UpdatedAt: time.Now()})
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("panic", func(t *testing.T) {
		key := "rollback:" + uuid.NewString()
		assert.Panics(t, func() {
			_ = s.WithTx(ctx, func(q Queries) error {
				_, _, err := q.CreateOrGetConversation(ctx, models.Conversation{DedupKey: &key, IsActive: true, CreatedAt: time.Now(), UpdatedAt: time.Now()})
				require.NoError(t, err)
				panic("boom")
			})
		})

		_, created, err := s.CreateOrGetConversation(ctx, models.Conversation{DedupKey: &key, IsActive: true, CreatedAt: time.Now(), UpdatedAt: time.Now()})
		require.NoError(t, err)
		assert.True(t, created)
	})
}

func TestPostgresStoreReadCursorIsMonotonic(t *testing.T) {
	s := newPostgresStore(t)
	conv := seedPostgresConversation(t, s, 1)
	ctx := context.Background()
	later := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	cursor, err := s.AdvanceReadCursor(ctx, conv.ID, 1, later)
	require.NoError(t, err)
	assert.True(t, later.Equal(cursor))

	cursor, err = s.AdvanceReadCursor(ctx, conv.ID, 1, later.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, later.Equal(cursor))
}

func TestPostgresStoreMessageOrderingAndPaging(t *testing.T) {
	s := newPostgresStore(t)
	conv := seedPostgresConversation(t, s, 1, 2)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var ids []int64
	for i := 0; i < 5; i++ {
		msg, err := s.CreateMessage(ctx, models.Message{
			ConversationID: conv.ID,
			SenderID:       1,
			Type:           models.MessageTypeText,
			Content:        "m",
			Metadata:       models.Metadata{},
			CreatedAt:      base.Add(time.Duration(i/2) * time.Second),
		})
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}
	require.NoError(t, s.SoftDeleteMessage(ctx, ids[2], base))

	recent, err := s.ListRecentMessages(ctx, conv.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{ids[3], ids[4]}, lo.Map(recent, func(m models.Message, _ int) int64 { return m.ID }))

	page, err := s.ListMessagesAfter(ctx, conv.ID, ids[0], 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{ids[1], ids[3]}, lo.Map(page, func(m models.Message, _ int) int64 { return m.ID }))

	unread, err := s.CountUnread(ctx, conv.ID, 2, lo.ToPtr(base))
	require.NoError(t, err)
	assert.Equal(t, 2, unread)
}
