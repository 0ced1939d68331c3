package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/krishiconnect/chat-service/internal/auth"
	"github.com/krishiconnect/chat-service/internal/service"
	"github.com/krishiconnect/chat-service/pkg/apperrors"
)

// PresenceTracker mirrors connection lifecycle into a shared store; nil
// disables tracking.
type PresenceTracker interface {
	MarkOnline(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string) error
}

type Config struct {
	PingInterval  time.Duration
	WriteDeadline time.Duration
	ReadDeadline  time.Duration
	MaxMsgSize    int64
}

// Handler owns the connection lifecycle: authenticate, bind the personal
// channel, then dispatch inbound events until disconnect. Events on one
// connection are handled in arrival order; failures are answered with an
// error frame to that connection only.
type Handler struct {
	hub      *Hub
	chat     *service.ChatService
	authn    *auth.SessionAuthenticator
	presence PresenceTracker
	cfg      Config
	logger   *zap.SugaredLogger
}

func NewHandler(hub *Hub, chat *service.ChatService, authn *auth.SessionAuthenticator, presence PresenceTracker, cfg Config, logger *zap.SugaredLogger) *Handler {
	return &Handler{hub: hub, chat: chat, authn: authn, presence: presence, cfg: cfg, logger: logger}
}

// Handle runs one connection. Authentication has no grace period: a bad or
// missing credential closes the socket before any event is read.
func (h *Handler) Handle(conn *websocket.Conn) {
	ctx := context.Background()
	token := conn.Query("token")
	userID, err := h.authn.Authenticate(ctx, token)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, errorFrame(string(apperrors.CodeUnauthenticated), "authentication required"))
		_ = conn.Close()
		return
	}

	client := NewClient(conn, userID)
	h.hub.Register(client)
	if h.presence != nil {
		_ = h.presence.MarkOnline(ctx, userID)
	}
	h.logger.Infow("connection established", "user_id", userID)

	defer func() {
		h.hub.Unregister(client)
		if h.presence != nil {
			_ = h.presence.MarkOffline(ctx, userID)
		}
		client.Close()
		h.logger.Infow("connection closed", "user_id", userID)
	}()

	go client.WritePump(h.cfg.PingInterval, h.cfg.WriteDeadline)

	conn.SetReadLimit(h.cfg.MaxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.ReadDeadline))
	})

	for {
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			client.TrySend(errorFrame(string(apperrors.CodeInvalidArgument), "malformed frame"))
			continue
		}
		h.dispatch(ctx, client, frame)
	}
}

func (h *Handler) dispatch(ctx context.Context, client *Client, frame Frame) {
	switch frame.Event {
	case EventConversationJoin:
		h.handleJoin(ctx, client, frame.Data)
	case EventMessageSend:
		h.handleSend(ctx, client, frame.Data)
	case EventTypingStart:
		h.handleTyping(client, frame.Data, EventUserTyping)
	case EventTypingStop:
		h.handleTyping(client, frame.Data, EventUserStoppedTyping)
	default:
		client.TrySend(errorFrame(string(apperrors.CodeInvalidArgument), "unknown event"))
	}
}

func (h *Handler) handleJoin(ctx context.Context, client *Client, data json.RawMessage) {
	var d joinData
	_ = json.Unmarshal(data, &d)
	if d.ConversationID == "" {
		client.TrySend(errorFrame(string(apperrors.CodeInvalidArgument), "conversationId required"))
		return
	}
	ok, err := h.chat.IsParticipant(ctx, d.ConversationID, client.UserID)
	if err != nil {
		h.logger.Errorw("membership check failed", "conversation_id", d.ConversationID, "error", err)
		client.TrySend(errorFrame(string(apperrors.CodeInternal), "failed to join conversation"))
		return
	}
	if !ok {
		client.TrySend(h.appError(apperrors.ErrNotParticipant))
		return
	}
	h.hub.Subscribe(d.ConversationID, client)
	client.TrySend(encodeFrame(EventConversationJoined, map[string]string{"conversationId": d.ConversationID}))
}

func (h *Handler) handleSend(ctx context.Context, client *Client, data json.RawMessage) {
	var d sendData
	_ = json.Unmarshal(data, &d)

	view, err := h.chat.SendMessage(ctx, d.ConversationID, client.UserID, d.Type, d.Content, d.ReplyTo)
	if err != nil {
		client.TrySend(h.appError(err))
		return
	}
	// the message is durable at this point; only now does it go live, to
	// every connection in the group, the sender's other devices included
	h.hub.Broadcast(d.ConversationID, encodeFrame(EventMessageNew, view))
}

// handleTyping relays ephemeral presence to the rest of the group. Nothing
// is persisted and membership is not re-validated per keystroke; the relay is
// limited to conversations this connection has already joined.
func (h *Handler) handleTyping(client *Client, data json.RawMessage, outEvent string) {
	var d typingData
	_ = json.Unmarshal(data, &d)
	if d.ConversationID == "" || !h.hub.Joined(d.ConversationID, client) {
		return
	}
	h.hub.BroadcastExcept(d.ConversationID, client, encodeFrame(outEvent, map[string]string{
		"userId":         client.UserID,
		"conversationId": d.ConversationID,
	}))
}

func (h *Handler) appError(err error) []byte {
	msg := "internal error"
	var ae *apperrors.AppError
	if errors.As(err, &ae) {
		msg = ae.Message
	}
	return errorFrame(string(apperrors.CodeOf(err)), msg)
}
