package repositories

import (
	"context"
	"errors"
	"time"

	"chat-engine/internal/models"
)

// ErrNotFound is returned when a lookup by id does not resolve.
var ErrNotFound = errors.New("record not found")

// MessageFilter narrows SearchMessages. Nil fields are ignored.
type MessageFilter struct {
	ConversationIDs []int64
	Query           string
	Type            *models.MessageType
	SenderID        *int64
	DateFrom        *time.Time
	DateTo          *time.Time
	HasImage        *bool
}

// MessageCount narrows CountMessages to non-deleted messages in ConversationIDs.
type MessageCount struct {
	ConversationIDs []int64
	SenderID        *int64
	ExcludeSenderID *int64
}

// Queries are the typed primitives shared by the pooled store and a transaction.
type Queries interface {
	// CreateOrGetConversation inserts conv. When conv.DedupKey collides with an
	// existing row, that row is returned instead and created is false.
	CreateOrGetConversation(ctx context.Context, conv models.Conversation) (models.Conversation, bool, error)
	GetConversation(ctx context.Context, id int64) (models.Conversation, error)
	// LockConversation reads a conversation and holds it until the transaction ends.
	LockConversation(ctx context.Context, id int64) (models.Conversation, error)
	TouchConversation(ctx context.Context, id int64, at time.Time) error
	SetConversationActive(ctx context.Context, id int64, active bool, at time.Time) error
	ListConversationsForUser(ctx context.Context, userID int64, includeLeft bool) ([]models.Conversation, error)

	// AddParticipant inserts p unless a row for the pair exists; added reports the insert.
	AddParticipant(ctx context.Context, p models.Participant) (bool, error)
	RejoinParticipant(ctx context.Context, conversationID, userID int64, at time.Time) error
	GetParticipant(ctx context.Context, conversationID, userID int64) (models.Participant, error)
	ListParticipants(ctx context.Context, conversationID int64) ([]models.Participant, error)
	UpdateParticipantSettings(ctx context.Context, conversationID, userID int64, settings models.ParticipantSettings) error
	MarkParticipantLeft(ctx context.Context, conversationID, userID int64, at time.Time) error
	// AdvanceReadCursor moves last_read_at forward to at and never backwards.
	AdvanceReadCursor(ctx context.Context, conversationID, userID int64, at time.Time) (time.Time, error)

	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, id int64) (models.Message, error)
	UpdateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	SoftDeleteMessage(ctx context.Context, id int64, at time.Time) error
	// ListRecentMessages returns the newest non-deleted messages in ascending order.
	ListRecentMessages(ctx context.Context, conversationID int64, limit int) ([]models.Message, error)
	ListMessagesAfter(ctx context.Context, conversationID, afterID int64, limit int) ([]models.Message, error)
	LatestMessage(ctx context.Context, conversationID int64) (models.Message, error)
	// MessagesCreatedAt returns the creation time of each id found in the conversation.
	MessagesCreatedAt(ctx context.Context, conversationID int64, ids []int64) (map[int64]time.Time, error)
	CountUnread(ctx context.Context, conversationID, userID int64, since *time.Time) (int, error)
	CountMessages(ctx context.Context, filter MessageCount) (int, error)
	SearchMessages(ctx context.Context, filter MessageFilter) ([]models.Message, error)

	CreateAttachment(ctx context.Context, att models.Attachment) (models.Attachment, error)
	ListAttachments(ctx context.Context, messageIDs []int64) ([]models.Attachment, error)

	// CreateUser stores u unless the id is already known; created reports the insert.
	CreateUser(ctx context.Context, u models.User) (models.User, bool, error)
	GetUser(ctx context.Context, id int64) (models.User, error)
	ListUsers(ctx context.Context, ids []int64) ([]models.User, error)
}

// Store is the entity store consumed by the chat core.
type Store interface {
	Queries
	// WithTx runs fn atomically. Any error returned by fn rolls back every write.
	WithTx(ctx context.Context, fn func(q Queries) error) error
}
