package models

import "time"

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeVoice = "voice"
	MessageTypeFile  = "file"
)

const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVoice, MessageTypeFile:
		return true
	}
	return false
}

type ReadReceipt struct {
	UserID string    `bson:"user_id" json:"user_id"`
	ReadAt time.Time `bson:"read_at" json:"read_at"`
}

// Message content is immutable after insert; only status, read receipts and
// the delete set evolve.
type Message struct {
	ID             string        `bson:"_id" json:"id"`
	ConversationID string        `bson:"conversation_id" json:"conversation_id"`
	SenderID       string        `bson:"sender_id" json:"sender_id"`
	Type           string        `bson:"type" json:"type"`
	Ciphertext     string        `bson:"ciphertext" json:"-"`
	IV             string        `bson:"iv" json:"-"`
	ReplyTo        string        `bson:"reply_to,omitempty" json:"reply_to,omitempty"`
	Status         string        `bson:"status" json:"status"`
	ReadBy         []ReadReceipt `bson:"read_by" json:"read_by"`
	IsDeleted      bool          `bson:"is_deleted" json:"is_deleted"`
	DeletedFor     []string      `bson:"deleted_for" json:"-"`
	CreatedAt      time.Time     `bson:"created_at" json:"created_at"`
}

// MessageView carries the decrypted content. For text messages Content is
// {"text": "..."}; for other types it is whatever payload the sender
// supplied.
type MessageView struct {
	Message
	Content any `json:"content"`
}
