package models

import "time"

const ConversationTypeDirect = "direct"

// LastMessage is the conversation's cached preview. The snippet is stored
// encrypted like message content; both ciphertext and iv are needed to read
// it. The preview is advisory: it is written after the message insert and may
// briefly lag behind (see service.SendMessage).
type LastMessage struct {
	Ciphertext string    `bson:"ciphertext" json:"-"`
	IV         string    `bson:"iv" json:"-"`
	SenderID   string    `bson:"sender_id" json:"sender_id"`
	SentAt     time.Time `bson:"sent_at" json:"sent_at"`
}

type Conversation struct {
	ID   string `bson:"_id" json:"id"`
	Type string `bson:"type" json:"type"`
	// Participants holds exactly two distinct user ids for direct
	// conversations, sorted ascending. ParticipantKey is the sorted pair
	// joined with ":"; a unique index on it guarantees at most one direct
	// conversation per unordered pair.
	Participants   []string     `bson:"participants" json:"participants"`
	ParticipantKey string       `bson:"participant_key" json:"-"`
	LastMessage    *LastMessage `bson:"last_message,omitempty" json:"last_message,omitempty"`
	IsActive       bool         `bson:"is_active" json:"is_active"`
	CreatedAt      time.Time    `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time    `bson:"updated_at" json:"updated_at"`
}

// ConversationView is what leaves the service layer: the preview decrypted
// and truncated, ciphertext stripped.
type ConversationView struct {
	Conversation
	Preview string `json:"preview,omitempty"`
}
