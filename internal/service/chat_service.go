package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/krishiconnect/chat-service/internal/crypto"
	"github.com/krishiconnect/chat-service/internal/events"
	"github.com/krishiconnect/chat-service/internal/models"
	"github.com/krishiconnect/chat-service/internal/ratelimit"
	"github.com/krishiconnect/chat-service/internal/repository"
	"github.com/krishiconnect/chat-service/internal/social"
	"github.com/krishiconnect/chat-service/pkg/apperrors"
)

// PreviewMaxLength bounds the decrypted lastMessage snippet.
const PreviewMaxLength = 80

const (
	placeholderPreview = "[Message]"
	placeholderContent = "[Unable to decrypt]"
)

type ChatService struct {
	convs   repository.ConversationRepository
	msgs    repository.MessageRepository
	gate    *social.Gate
	codec   *crypto.Codec
	limiter *ratelimit.Limiter
	events  events.Publisher
	logger  *zap.SugaredLogger
}

func NewChatService(
	convs repository.ConversationRepository,
	msgs repository.MessageRepository,
	gate *social.Gate,
	codec *crypto.Codec,
	limiter *ratelimit.Limiter,
	pub events.Publisher,
	logger *zap.SugaredLogger,
) *ChatService {
	return &ChatService{
		convs: convs, msgs: msgs, gate: gate, codec: codec,
		limiter: limiter, events: pub, logger: logger,
	}
}

// StartConversation returns the direct conversation between requester and
// other, creating it on first contact. Idempotent: repeated calls converge on
// the same row. Concurrent calls for the same pair are resolved by the unique
// canonical-pair index — the loser of the insert race re-reads the winner's
// row.
func (s *ChatService) StartConversation(ctx context.Context, requesterID, otherID string) (*models.Conversation, error) {
	if otherID == "" {
		return nil, apperrors.InvalidArg("userId required")
	}
	if requesterID == otherID {
		return nil, apperrors.ErrSelfChat
	}
	allowed, err := s.gate.CanChat(ctx, requesterID, otherID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, apperrors.ErrCannotChat
	}

	key := repository.ParticipantKey(requesterID, otherID)
	if conv, err := s.convs.FindByParticipantKey(ctx, key); err == nil {
		return conv, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	a, b := requesterID, otherID
	if b < a {
		a, b = b, a
	}
	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:             uuid.NewString(),
		Type:           models.ConversationTypeDirect,
		Participants:   []string{a, b},
		ParticipantKey: key,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.convs.Insert(ctx, conv); err != nil {
		if repository.IsDuplicateKey(err) {
			return s.convs.FindByParticipantKey(ctx, key)
		}
		return nil, err
	}
	return conv, nil
}

// ListConversations returns the caller's active conversations, most recent
// activity first, previews decrypted and truncated. A preview that fails to
// decrypt degrades to a placeholder instead of failing the page.
func (s *ChatService) ListConversations(ctx context.Context, userID string, page, limit int64) ([]*models.ConversationView, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	convs, err := s.convs.ListForParticipant(ctx, userID, page, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*models.ConversationView, 0, len(convs))
	for _, c := range convs {
		view := &models.ConversationView{Conversation: *c}
		if c.LastMessage != nil {
			view.Preview = s.decryptPreview(c.LastMessage)
		}
		out = append(out, view)
	}
	return out, nil
}

func (s *ChatService) decryptPreview(lm *models.LastMessage) string {
	v, err := s.codec.Decrypt(lm.Ciphertext, lm.IV, true)
	if err != nil {
		return placeholderPreview
	}
	var text string
	switch t := v.(type) {
	case string:
		text = t
	default:
		b, _ := json.Marshal(t)
		text = string(b)
	}
	return truncate(text, PreviewMaxLength)
}

// ListMessages returns a page of the conversation's messages, newest first.
// The caller must be a participant; a non-participant gets the same error as
// an unknown conversation id. The before cursor is a message id whose
// created_at anchors the page, so pages hold still under concurrent inserts.
func (s *ChatService) ListMessages(ctx context.Context, conversationID, userID string, limit int64, beforeID string) ([]*models.MessageView, error) {
	if conversationID == "" {
		return nil, apperrors.InvalidArg("conversationId required")
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if _, err := s.convs.FindForParticipant(ctx, conversationID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrNotParticipant
		}
		return nil, err
	}

	var before time.Time
	if beforeID != "" {
		if anchor, err := s.msgs.FindByID(ctx, beforeID); err == nil {
			before = anchor.CreatedAt
		}
		// unknown anchor id falls through to the first page
	}

	msgs, err := s.msgs.List(ctx, conversationID, userID, limit, before)
	if err != nil {
		return nil, err
	}
	out := make([]*models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, s.toView(m))
	}
	return out, nil
}

// toView decrypts a stored message. A single undecryptable message becomes a
// placeholder; the rest of the page is unaffected.
func (s *ChatService) toView(m *models.Message) *models.MessageView {
	view := &models.MessageView{Message: *m}
	content, err := s.codec.Decrypt(m.Ciphertext, m.IV, true)
	if err != nil {
		s.logger.Warnw("undecryptable message content", "message_id", m.ID, "error", err)
		view.Content = map[string]any{"text": placeholderContent}
		return view
	}
	view.Content = content
	return view
}

// SendMessage runs the full send pipeline: rate limit, membership, encrypt,
// persist, preview update, event publish. Nothing is written when the rate
// limit or membership check fails. The message insert and the preview update
// are two separate writes; a crash in between leaves the message durable and
// the preview stale, which is acceptable because the preview is advisory.
func (s *ChatService) SendMessage(ctx context.Context, conversationID, senderID, msgType string, content any, replyTo string) (*models.MessageView, error) {
	if conversationID == "" {
		return nil, apperrors.InvalidArg("conversationId required")
	}
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	if !models.ValidMessageType(msgType) {
		return nil, apperrors.InvalidArg(fmt.Sprintf("unsupported message type %q", msgType))
	}

	if !s.limiter.Allow(ctx, senderID) {
		return nil, apperrors.ErrTooManyMessages
	}
	if _, err := s.convs.FindForParticipant(ctx, conversationID, senderID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrNotParticipant
		}
		return nil, err
	}
	if replyTo != "" {
		parent, err := s.msgs.FindByID(ctx, replyTo)
		if err != nil || parent.ConversationID != conversationID {
			return nil, apperrors.InvalidArg("replyTo message not found in conversation")
		}
	}

	payload := contentPayload(msgType, content)
	ciphertext, iv, err := s.codec.Encrypt(payload)
	if err != nil {
		return nil, apperrors.ErrSendFailed(err)
	}

	now := time.Now().UTC()
	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Type:           msgType,
		Ciphertext:     ciphertext,
		IV:             iv,
		ReplyTo:        replyTo,
		Status:         models.StatusSent,
		ReadBy:         []models.ReadReceipt{},
		DeletedFor:     []string{},
		CreatedAt:      now,
	}
	if err := s.msgs.Insert(ctx, msg); err != nil {
		return nil, apperrors.ErrSendFailed(err)
	}

	s.updatePreview(ctx, conversationID, senderID, msgType, payload, now)

	if s.events != nil {
		if err := s.events.PublishMessageSent(ctx, events.MessageSent{
			MessageID:      msg.ID,
			ConversationID: conversationID,
			SenderID:       senderID,
			Type:           msgType,
			SentAt:         now,
		}); err != nil {
			s.logger.Warnw("message.sent event publish failed", "message_id", msg.ID, "error", err)
		}
	}

	view := &models.MessageView{Message: *msg}
	view.Content = payload
	return view, nil
}

func (s *ChatService) updatePreview(ctx context.Context, conversationID, senderID, msgType string, payload map[string]any, at time.Time) {
	previewText := "[" + msgType + "]"
	if msgType == models.MessageTypeText {
		text, _ := payload["text"].(string)
		previewText = truncate(text, PreviewMaxLength)
	}
	ciphertext, iv, err := s.codec.Encrypt(previewText)
	if err != nil {
		s.logger.Warnw("preview encryption failed", "conversation_id", conversationID, "error", err)
		return
	}
	lm := &models.LastMessage{Ciphertext: ciphertext, IV: iv, SenderID: senderID, SentAt: at}
	if err := s.convs.UpdateLastMessage(ctx, conversationID, lm); err != nil {
		// the message itself is durable; a stale preview heals on the next send
		s.logger.Warnw("conversation preview update failed", "conversation_id", conversationID, "error", err)
	}
}

// MarkRead records the reader's receipt and moves the message status forward.
// Only participants of the message's conversation may mark it.
func (s *ChatService) MarkRead(ctx context.Context, messageID, userID string) (*models.MessageView, error) {
	if messageID == "" {
		return nil, apperrors.InvalidArg("messageId required")
	}
	msg, err := s.msgs.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrNotParticipant
		}
		return nil, err
	}
	if _, err := s.convs.FindForParticipant(ctx, msg.ConversationID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrNotParticipant
		}
		return nil, err
	}
	updated, err := s.msgs.MarkRead(ctx, messageID, userID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return s.toView(updated), nil
}

// DeleteForUser hides a message from the caller only; the stored row and the
// other participant's view are untouched.
func (s *ChatService) DeleteForUser(ctx context.Context, messageID, userID string) error {
	if messageID == "" {
		return apperrors.InvalidArg("messageId required")
	}
	msg, err := s.msgs.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.ErrNotParticipant
		}
		return err
	}
	if _, err := s.convs.FindForParticipant(ctx, msg.ConversationID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.ErrNotParticipant
		}
		return err
	}
	return s.msgs.SoftDeleteForUser(ctx, messageID, userID)
}

// DeactivateConversation hides the conversation from both participants'
// listings. Rows are never hard-deleted; messages stay durable.
func (s *ChatService) DeactivateConversation(ctx context.Context, conversationID, userID string) error {
	if conversationID == "" {
		return apperrors.InvalidArg("conversationId required")
	}
	if _, err := s.convs.FindForParticipant(ctx, conversationID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.ErrNotParticipant
		}
		return err
	}
	return s.convs.Deactivate(ctx, conversationID)
}

// IsParticipant is the router's join-time membership check.
func (s *ChatService) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	_, err := s.convs.FindForParticipant(ctx, conversationID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// contentPayload normalizes inbound content: text messages become
// {"text": ...} regardless of whether the client sent a bare string or an
// object; other types pass through as supplied.
func contentPayload(msgType string, content any) map[string]any {
	if msgType != models.MessageTypeText {
		if m, ok := content.(map[string]any); ok {
			return m
		}
		return map[string]any{}
	}
	switch v := content.(type) {
	case string:
		return map[string]any{"text": v}
	case map[string]any:
		if t, ok := v["text"].(string); ok {
			return map[string]any{"text": t}
		}
		return map[string]any{"text": ""}
	default:
		return map[string]any{"text": ""}
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
