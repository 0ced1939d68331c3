package ws

import "encoding/json"

// Client → server events
const (
	EventConversationJoin = "conversation:join"
	EventMessageSend      = "message:send"
	EventTypingStart      = "typing:start"
	EventTypingStop       = "typing:stop"
)

// Server → client events
const (
	EventConversationJoined = "conversation:joined"
	EventMessageNew         = "message:new"
	EventUserTyping         = "user:typing"
	EventUserStoppedTyping  = "user:stopped-typing"
	EventError              = "error"
)

// Frame is the wire envelope in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinData struct {
	ConversationID string `json:"conversationId"`
}

type sendData struct {
	ConversationID string `json:"conversationId"`
	Type           string `json:"type"`
	Content        any    `json:"content"`
	ReplyTo        string `json:"replyTo,omitempty"`
}

type typingData struct {
	ConversationID string `json:"conversationId"`
}

func encodeFrame(event string, data any) []byte {
	raw, _ := json.Marshal(data)
	b, _ := json.Marshal(Frame{Event: event, Data: raw})
	return b
}

func errorFrame(code, message string) []byte {
	return encodeFrame(EventError, map[string]string{"code": code, "message": message})
}
