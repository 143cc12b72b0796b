package models

import "time"

// Conversation is a multi-party thread, optionally tied to a catalog item.
type Conversation struct {
	ID            int64      `db:"id" json:"id"`
	Title         *string    `db:"title" json:"title,omitempty"`
	RelatedItemID *int64     `db:"related_item_id" json:"related_item_id,omitempty"`
	DedupKey      *string    `db:"dedup_key" json:"-"`
	IsActive      bool       `db:"is_active" json:"is_active"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
	LastMessageAt *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
}

// Participant is a user's membership and personal settings in one conversation.
type Participant struct {
	ConversationID int64      `db:"conversation_id" json:"conversation_id"`
	UserID         int64      `db:"user_id" json:"user_id"`
	JoinedAt       time.Time  `db:"joined_at" json:"joined_at"`
	LeftAt         *time.Time `db:"left_at" json:"left_at,omitempty"`
	IsMuted        bool       `db:"is_muted" json:"is_muted"`
	IsArchived     bool       `db:"is_archived" json:"is_archived"`
	IsBlocked      bool       `db:"is_blocked" json:"is_blocked"`
	LastReadAt     *time.Time `db:"last_read_at" json:"last_read_at,omitempty"`
}

// Active reports whether the participant has not left.
func (p Participant) Active() bool {
	return p.LeftAt == nil
}

// ParticipantSettings is the mutable per-user state of a participant row.
type ParticipantSettings struct {
	IsMuted    bool
	IsArchived bool
	IsBlocked  bool
}

// User is the locally known profile of an identity.
type User struct {
	ID          int64     `db:"id" json:"id"`
	Username    string    `db:"username" json:"username"`
	DisplayName string    `db:"display_name" json:"display_name"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// UserRegistered is raised once when a user is first stored.
type UserRegistered struct {
	User       User
	OccurredAt time.Time
}
