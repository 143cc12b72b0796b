package models

import (
	"encoding/json"
	"time"
)

// MessageType enumerates the closed set of message kinds.
type MessageType string

const (
	MessageTypeText           MessageType = "text"
	MessageTypeImage          MessageType = "image"
	MessageTypeProductInquiry MessageType = "product_inquiry"
	MessageTypePriceOffer     MessageType = "price_offer"
	MessageTypeMeetingRequest MessageType = "meeting_request"
	MessageTypeSystem         MessageType = "system"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeProductInquiry,
		MessageTypePriceOffer, MessageTypeMeetingRequest, MessageTypeSystem:
		return true
	}
	return false
}

// RequiresContent reports whether messages of this type must carry text.
// Image messages may rely on their image reference alone.
func (t MessageType) RequiresContent() bool {
	return t != MessageTypeImage
}

// Metadata is the type-specific structured payload of a message.
type Metadata map[string]any

// Message represents a conversation message.
type Message struct {
	ID             int64       `db:"id" json:"id"`
	ConversationID int64       `db:"conversation_id" json:"conversation_id"`
	SenderID       int64       `db:"sender_id" json:"sender_id"`
	Type           MessageType `db:"message_type" json:"message_type"`
	Content        string      `db:"content" json:"content"`
	ImageRef       *string     `db:"image_ref" json:"image_ref,omitempty"`
	Metadata       Metadata    `db:"-" json:"metadata"`
	RawMetadata    []byte      `db:"metadata" json:"-"`
	IsEdited       bool        `db:"is_edited" json:"is_edited"`
	IsDeleted      bool        `db:"is_deleted" json:"is_deleted"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
}

// EncodeMetadata fills RawMetadata from Metadata.
func (m *Message) EncodeMetadata() error {
	if m.Metadata == nil {
		m.RawMetadata = []byte("{}")
		return nil
	}
	raw, err := json.Marshal(m.Metadata)
	if err != nil {
		return err
	}
	m.RawMetadata = raw
	return nil
}

// DecodeMetadata fills Metadata from RawMetadata.
func (m *Message) DecodeMetadata() error {
	m.Metadata = Metadata{}
	if len(m.RawMetadata) == 0 {
		return nil
	}
	return json.Unmarshal(m.RawMetadata, &m.Metadata)
}

// Attachment is a file reference owned by a message.
type Attachment struct {
	ID        int64     `db:"id" json:"id"`
	MessageID int64     `db:"message_id" json:"message_id"`
	FileRef   string    `db:"file_ref" json:"file_ref"`
	FileName  string    `db:"file_name" json:"file_name"`
	FileSize  int64     `db:"file_size" json:"file_size"`
	FileType  string    `db:"file_type" json:"file_type"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// WireMessage is the payload delivered to live sessions.
type WireMessage struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversation_id"`
	SenderID       int64       `json:"sender_id"`
	Type           MessageType `json:"type"`
	Content        string      `json:"content"`
	Metadata       Metadata    `json:"metadata"`
	CreatedAt      time.Time   `json:"created_at"`
}

// ToWire projects a message onto the live delivery payload.
func (m Message) ToWire() WireMessage {
	meta := m.Metadata
	if meta == nil {
		meta = Metadata{}
	}
	return WireMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Type:           m.Type,
		Content:        m.Content,
		Metadata:       meta,
		CreatedAt:      m.CreatedAt,
	}
}

// Event types sent over live sessions.
const (
	EventMessage        = "message"
	EventMessageEdited  = "message_edited"
	EventMessageDeleted = "message_deleted"
	// Session control frames.
	EventJoined  = "joined"
	EventLeft    = "left"
	EventRemoved = "removed"
	EventError   = "error"
)

// ChatEvent is broadcasted through websockets.
type ChatEvent struct {
	Type      string       `json:"type"`
	Message   *WireMessage `json:"message,omitempty"`
	MessageID int64        `json:"message_id,omitempty"`

	ConversationID int64  `json:"conversation_id,omitempty"`
	Error          string `json:"error,omitempty"`
}
