package events

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// MessageSent is published after a message is durably stored. Downstream
// consumers (notifications, offline push) key on the conversation id.
type MessageSent struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Type           string    `json:"type"`
	SentAt         time.Time `json:"sent_at"`
}

type Publisher interface {
	PublishMessageSent(ctx context.Context, ev MessageSent) error
}

type KafkaPublisher struct {
	writer *kafkago.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
		Async:        false,
	}
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) PublishMessageSent(ctx context.Context, ev MessageSent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(ev.ConversationID),
		Value: b,
		Time:  ev.SentAt,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
