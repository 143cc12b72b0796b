package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-engine/internal/models"
	"chat-engine/internal/observability"
)

const (
	conversationColumns = `id, title, related_item_id, dedup_key, is_active, created_at, updated_at, last_message_at`
	participantColumns  = `conversation_id, user_id, joined_at, left_at, is_muted, is_archived, is_blocked, last_read_at`
	messageColumns      = `id, conversation_id, sender_id, message_type, content, image_ref, metadata, is_edited, is_deleted, created_at, updated_at`
	attachmentColumns   = `id, message_id, file_ref, file_name, file_size, file_type, created_at`
	userColumns         = `id, username, display_name, created_at`
)

// PostgresStore is a sqlx implementation of Store.
type PostgresStore struct {
	pgQueries
	db *sqlx.DB
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{pgQueries: pgQueries{ext: db}, db: db}
}

// WithTx runs fn inside a READ COMMITTED transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(q Queries) error) (err error) {
	started := time.Now()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		observability.ObserveStoreTx("postgres", started, err)
	}()
	defer tx.Rollback()

	if err = fn(pgQueries{ext: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type pgQueries struct {
	ext sqlx.ExtContext
}

func (q pgQueries) CreateOrGetConversation(ctx context.Context, conv models.Conversation) (models.Conversation, bool, error) {
	var created models.Conversation
	err := sqlx.GetContext(ctx, q.ext, &created, `INSERT INTO conversations (title, related_item_id, dedup_key, is_active, created_at, updated_at, last_message_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (dedup_key) DO NOTHING
        RETURNING `+conversationColumns,
		conv.Title, conv.RelatedItemID, conv.DedupKey, conv.IsActive, conv.CreatedAt, conv.UpdatedAt, conv.LastMessageAt)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) || conv.DedupKey == nil {
		return models.Conversation{}, false, err
	}

	var existing models.Conversation
	err = sqlx.GetContext(ctx, q.ext, &existing, `SELECT `+conversationColumns+` FROM conversations WHERE dedup_key=$1`, *conv.DedupKey)
	if err != nil {
		return models.Conversation{}, false, notFound(err)
	}
	return existing, false, nil
}

func (q pgQueries) GetConversation(ctx context.Context, id int64) (models.Conversation, error) {
	var conv models.Conversation
	err := sqlx.GetContext(ctx, q.ext, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, id)
	return conv, notFound(err)
}

func (q pgQueries) LockConversation(ctx context.Context, id int64) (models.Conversation, error) {
	var conv models.Conversation
	err := sqlx.GetContext(ctx, q.ext, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1 FOR UPDATE`, id)
	return conv, notFound(err)
}

func (q pgQueries) TouchConversation(ctx context.Context, id int64, at time.Time) error {
	res, err := q.ext.ExecContext(ctx, `UPDATE conversations SET last_message_at=$2, updated_at=$2 WHERE id=$1`, id, at)
	return affected(res, err)
}

func (q pgQueries) SetConversationActive(ctx context.Context, id int64, active bool, at time.Time) error {
	res, err := q.ext.ExecContext(ctx, `UPDATE conversations SET is_active=$2, updated_at=$3 WHERE id=$1`, id, active, at)
	return affected(res, err)
}

func (q pgQueries) ListConversationsForUser(ctx context.Context, userID int64, includeLeft bool) ([]models.Conversation, error) {
	query := `SELECT c.id, c.title, c.related_item_id, c.dedup_key, c.is_active, c.created_at, c.updated_at, c.last_message_at
        FROM conversations c
        INNER JOIN participants p ON p.conversation_id = c.id AND p.user_id=$1
        WHERE ($2 OR p.left_at IS NULL)
        ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC, c.id DESC`
	var convs []models.Conversation
	err := sqlx.SelectContext(ctx, q.ext, &convs, query, userID, includeLeft)
	return convs, err
}

func (q pgQueries) AddParticipant(ctx context.Context, p models.Participant) (bool, error) {
	res, err := q.ext.ExecContext(ctx, `INSERT INTO participants (`+participantColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (conversation_id, user_id) DO NOTHING`,
		p.ConversationID, p.UserID, p.JoinedAt, p.LeftAt, p.IsMuted, p.IsArchived, p.IsBlocked, p.LastReadAt)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count == 1, nil
}

func (q pgQueries) RejoinParticipant(ctx context.Context, conversationID, userID int64, at time.Time) error {
	res, err := q.ext.ExecContext(ctx, `UPDATE participants SET left_at = NULL, joined_at=$3 WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID, at)
	return affected(res, err)
}

func (q pgQueries) GetParticipant(ctx context.Context, conversationID, userID int64) (models.Participant, error) {
	var p models.Participant
	err := sqlx.GetContext(ctx, q.ext, &p, `SELECT `+participantColumns+` FROM participants WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID)
	return p, notFound(err)
}

func (q pgQueries) ListParticipants(ctx context.Context, conversationID int64) ([]models.Participant, error) {
	var ps []models.Participant
	err := sqlx.SelectContext(ctx, q.ext, &ps, `SELECT `+participantColumns+` FROM participants WHERE conversation_id=$1 ORDER BY joined_at ASC, user_id ASC`, conversationID)
	return ps, err
}

func (q pgQueries) UpdateParticipantSettings(ctx context.Context, conversationID, userID int64, s models.ParticipantSettings) error {
	res, err := q.ext.ExecContext(ctx, `UPDATE participants SET is_muted=$3, is_archived=$4, is_blocked=$5 WHERE conversation_id=$1 AND user_id=$2`,
		conversationID, userID, s.IsMuted, s.IsArchived, s.IsBlocked)
	return affected(res, err)
}

func (q pgQueries) MarkParticipantLeft(ctx context.Context, conversationID, userID int64, at time.Time) error {
	res, err := q.ext.ExecContext(ctx, `UPDATE participants SET left_at=$3 WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID, at)
	return affected(res, err)
}

func (q pgQueries) AdvanceReadCursor(ctx context.Context, conversationID, userID int64, at time.Time) (time.Time, error) {
	var cursor time.Time
	err := sqlx.GetContext(ctx, q.ext, &cursor, `UPDATE participants SET last_read_at = GREATEST(last_read_at, $3::timestamptz)
        WHERE conversation_id=$1 AND user_id=$2
        RETURNING last_read_at`, conversationID, userID, at)
	return cursor, notFound(err)
}

func (q pgQueries) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if err := msg.EncodeMetadata(); err != nil {
		return models.Message{}, fmt.Errorf("encode metadata: %w", err)
	}
	var stored models.Message
	err := sqlx.GetContext(ctx, q.ext, &stored, `INSERT INTO messages (conversation_id, sender_id, message_type, content, image_ref, metadata, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $7)
        RETURNING `+messageColumns,
		msg.ConversationID, msg.SenderID, msg.Type, msg.Content, msg.ImageRef, string(msg.RawMetadata), msg.CreatedAt)
	if err != nil {
		return models.Message{}, err
	}
	return stored, stored.DecodeMetadata()
}

func (q pgQueries) GetMessage(ctx context.Context, id int64) (models.Message, error) {
	var msg models.Message
	if err := sqlx.GetContext(ctx, q.ext, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, id); err != nil {
		return models.Message{}, notFound(err)
	}
	return msg, msg.DecodeMetadata()
}

func (q pgQueries) UpdateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	var stored models.Message
	err := sqlx.GetContext(ctx, q.ext, &stored, `UPDATE messages SET content=$2, message_type=$3, is_edited=TRUE, updated_at=$4
        WHERE id=$1
        RETURNING `+messageColumns, msg.ID, msg.Content, msg.Type, msg.UpdatedAt)
	if err != nil {
		return models.Message{}, notFound(err)
	}
	return stored, stored.DecodeMetadata()
}

func (q pgQueries) SoftDeleteMessage(ctx context.Context, id int64, at time.Time) error {
	res, err := q.ext.ExecContext(ctx, `UPDATE messages SET is_deleted=TRUE, updated_at=$2 WHERE id=$1`, id, at)
	return affected(res, err)
}

func (q pgQueries) ListRecentMessages(ctx context.Context, conversationID int64, limit int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM (
            SELECT ` + messageColumns + ` FROM messages
            WHERE conversation_id=$1 AND is_deleted = FALSE
            ORDER BY created_at DESC, id DESC
            LIMIT $2
        ) recent
        ORDER BY created_at ASC, id ASC`
	return q.selectMessages(ctx, query, conversationID, limit)
}

func (q pgQueries) ListMessagesAfter(ctx context.Context, conversationID, afterID int64, limit int) ([]models.Message, error) {
	if afterID <= 0 {
		return q.selectMessages(ctx, `SELECT `+messageColumns+` FROM messages
            WHERE conversation_id=$1 AND is_deleted = FALSE
            ORDER BY created_at ASC, id ASC
            LIMIT $2`, conversationID, limit)
	}
	return q.selectMessages(ctx, `SELECT `+messageColumns+` FROM messages
        WHERE conversation_id=$1 AND is_deleted = FALSE
        AND (created_at, id) > (SELECT created_at, id FROM messages WHERE id=$3)
        ORDER BY created_at ASC, id ASC
        LIMIT $2`, conversationID, limit, afterID)
}

func (q pgQueries) LatestMessage(ctx context.Context, conversationID int64) (models.Message, error) {
	var msg models.Message
	err := sqlx.GetContext(ctx, q.ext, &msg, `SELECT `+messageColumns+` FROM messages
        WHERE conversation_id=$1 AND is_deleted = FALSE
        ORDER BY created_at DESC, id DESC LIMIT 1`, conversationID)
	if err != nil {
		return models.Message{}, notFound(err)
	}
	return msg, msg.DecodeMetadata()
}

func (q pgQueries) MessagesCreatedAt(ctx context.Context, conversationID int64, ids []int64) (map[int64]time.Time, error) {
	var rows []struct {
		ID        int64     `db:"id"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := sqlx.SelectContext(ctx, q.ext, &rows, `SELECT id, created_at FROM messages WHERE conversation_id=$1 AND id = ANY($2)`, conversationID, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	out := make(map[int64]time.Time, len(rows))
	for _, r := range rows {
		out[r.ID] = r.CreatedAt
	}
	return out, nil
}

func (q pgQueries) CountUnread(ctx context.Context, conversationID, userID int64, since *time.Time) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, q.ext, &count, `SELECT COUNT(*) FROM messages
        WHERE conversation_id=$1 AND is_deleted = FALSE AND sender_id<>$2
        AND ($3::timestamptz IS NULL OR created_at > $3::timestamptz)`, conversationID, userID, since)
	return count, err
}

func (q pgQueries) CountMessages(ctx context.Context, filter MessageCount) (int, error) {
	w := where{}
	w.add("conversation_id = ANY($%d)", pq.Array(filter.ConversationIDs))
	w.raw("is_deleted = FALSE")
	if filter.SenderID != nil {
		w.add("sender_id=$%d", *filter.SenderID)
	}
	if filter.ExcludeSenderID != nil {
		w.add("sender_id<>$%d", *filter.ExcludeSenderID)
	}
	var count int
	err := sqlx.GetContext(ctx, q.ext, &count, `SELECT COUNT(*) FROM messages WHERE `+w.String(), w.args...)
	return count, err
}

func (q pgQueries) SearchMessages(ctx context.Context, filter MessageFilter) ([]models.Message, error) {
	w := where{}
	w.add("conversation_id = ANY($%d)", pq.Array(filter.ConversationIDs))
	w.raw("is_deleted = FALSE")
	if filter.Query != "" {
		w.add(`content ILIKE '%%' || $%d || '%%'`, likeEscaper.Replace(filter.Query))
	}
	if filter.Type != nil {
		w.add("message_type=$%d", string(*filter.Type))
	}
	if filter.SenderID != nil {
		w.add("sender_id=$%d", *filter.SenderID)
	}
	if filter.DateFrom != nil {
		w.add("created_at >= $%d", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		w.add("created_at <= $%d", *filter.DateTo)
	}
	if filter.HasImage != nil {
		if *filter.HasImage {
			w.raw("image_ref IS NOT NULL")
		} else {
			w.raw("image_ref IS NULL")
		}
	}
	return q.selectMessages(ctx, `SELECT `+messageColumns+` FROM messages WHERE `+w.String()+` ORDER BY conversation_id, created_at ASC, id ASC`, w.args...)
}

func (q pgQueries) CreateAttachment(ctx context.Context, att models.Attachment) (models.Attachment, error) {
	var stored models.Attachment
	err := sqlx.GetContext(ctx, q.ext, &stored, `INSERT INTO attachments (message_id, file_ref, file_name, file_size, file_type, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING `+attachmentColumns, att.MessageID, att.FileRef, att.FileName, att.FileSize, att.FileType, att.CreatedAt)
	return stored, err
}

func (q pgQueries) ListAttachments(ctx context.Context, messageIDs []int64) ([]models.Attachment, error) {
	var atts []models.Attachment
	if len(messageIDs) == 0 {
		return atts, nil
	}
	err := sqlx.SelectContext(ctx, q.ext, &atts, `SELECT `+attachmentColumns+` FROM attachments WHERE message_id = ANY($1) ORDER BY id ASC`, pq.Array(messageIDs))
	return atts, err
}

func (q pgQueries) CreateUser(ctx context.Context, u models.User) (models.User, bool, error) {
	var stored models.User
	err := sqlx.GetContext(ctx, q.ext, &stored, `INSERT INTO users (id, username, display_name, created_at) VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO NOTHING
        RETURNING `+userColumns, u.ID, u.Username, u.DisplayName, u.CreatedAt)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.User{}, false, err
	}
	existing, err := q.GetUser(ctx, u.ID)
	return existing, false, err
}

func (q pgQueries) GetUser(ctx context.Context, id int64) (models.User, error) {
	var u models.User
	err := sqlx.GetContext(ctx, q.ext, &u, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
	return u, notFound(err)
}

func (q pgQueries) ListUsers(ctx context.Context, ids []int64) ([]models.User, error) {
	var users []models.User
	if len(ids) == 0 {
		return users, nil
	}
	err := sqlx.SelectContext(ctx, q.ext, &users, `SELECT `+userColumns+` FROM users WHERE id = ANY($1) ORDER BY id`, pq.Array(ids))
	return users, err
}

func (q pgQueries) selectMessages(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	var msgs []models.Message
	if err := sqlx.SelectContext(ctx, q.ext, &msgs, query, args...); err != nil {
		return nil, err
	}
	for i := range msgs {
		if err := msgs[i].DecodeMetadata(); err != nil {
			return nil, fmt.Errorf("decode metadata of message %d: %w", msgs[i].ID, err)
		}
	}
	return msgs, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// where accumulates AND-ed conditions with positional arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *where) raw(cond string) {
	w.conds = append(w.conds, cond)
}

func (w *where) String() string {
	return strings.Join(w.conds, " AND ")
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
