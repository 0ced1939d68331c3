package ws

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishiconnect/chat-service/internal/crypto"
	"github.com/krishiconnect/chat-service/internal/models"
	"github.com/krishiconnect/chat-service/internal/ratelimit"
	"github.com/krishiconnect/chat-service/internal/repository"
	"github.com/krishiconnect/chat-service/internal/service"
	"github.com/krishiconnect/chat-service/internal/social"
	"github.com/krishiconnect/chat-service/pkg/apperrors"
	"github.com/krishiconnect/chat-service/pkg/logger"
)

const testKeyHex = "6368616e676520746869732070617373776f726420746f206120736563726574"

// ---- minimal in-memory store for router tests ----

type memFollows struct{ edges map[[2]string]bool }

func (f *memFollows) EdgeExists(_ context.Context, a, b string) (bool, error) {
	return f.edges[[2]string{a, b}], nil
}

type memConvRepo struct {
	mu   sync.Mutex
	byID map[string]*models.Conversation
}

func (r *memConvRepo) Insert(_ context.Context, c *models.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.byID[c.ID] = &cp
	return nil
}

func (r *memConvRepo) FindByParticipantKey(_ context.Context, key string) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byID {
		if c.ParticipantKey == key {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memConvRepo) FindForParticipant(_ context.Context, id, userID string) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	for _, p := range c.Participants {
		if p == userID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memConvRepo) ListForParticipant(_ context.Context, userID string, page, limit int64) ([]*models.Conversation, error) {
	return nil, nil
}

func (r *memConvRepo) UpdateLastMessage(_ context.Context, id string, lm *models.LastMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byID[id]; ok {
		c.LastMessage = lm
	}
	return nil
}

func (r *memConvRepo) Deactivate(context.Context, string) error { return nil }

type memMsgRepo struct {
	mu   sync.Mutex
	msgs []*models.Message
}

func (r *memMsgRepo) Insert(_ context.Context, m *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.msgs = append(r.msgs, &cp)
	return nil
}

func (r *memMsgRepo) FindByID(_ context.Context, id string) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memMsgRepo) List(_ context.Context, convID, viewer string, limit int64, before time.Time) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Message
	for _, m := range r.msgs {
		if m.ConversationID == convID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memMsgRepo) MarkRead(_ context.Context, id, userID string, at time.Time) (*models.Message, error) {
	return r.FindByID(context.Background(), id)
}

func (r *memMsgRepo) SoftDeleteForUser(context.Context, string, string) error { return nil }

// ---- harness ----

type routerHarness struct {
	hub     *Hub
	handler *Handler
	msgs    *memMsgRepo
	convID  string
}

func newRouterHarness(t *testing.T, limit int) *routerHarness {
	t.Helper()
	kp, err := crypto.NewStaticKeyProvider(testKeyHex)
	require.NoError(t, err)
	convs := &memConvRepo{byID: map[string]*models.Conversation{}}
	msgs := &memMsgRepo{}
	gate := social.NewGate(&memFollows{edges: map[[2]string]bool{{"alice", "bob"}: true}})
	limiter := ratelimit.NewLimiter(ratelimit.NewLocalCounter(), ratelimit.NewLocalCounter(), limit, time.Minute, logger.Nop())
	chat := service.NewChatService(convs, msgs, gate, crypto.NewCodec(kp), limiter, nil, logger.Nop())

	conv, err := chat.StartConversation(context.Background(), "alice", "bob")
	require.NoError(t, err)

	hub := NewHub()
	handler := NewHandler(hub, chat, nil, nil, Config{
		PingInterval: 25 * time.Second, WriteDeadline: 10 * time.Second,
		ReadDeadline: time.Minute, MaxMsgSize: 65536,
	}, logger.Nop())
	return &routerHarness{hub: hub, handler: handler, msgs: msgs, convID: conv.ID}
}

func frame(t *testing.T, event string, data any) Frame {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return Frame{Event: event, Data: raw}
}

func decodeFrames(t *testing.T, c *Client) []Frame {
	t.Helper()
	var out []Frame
	for _, b := range received(t, c) {
		var f Frame
		require.NoError(t, json.Unmarshal(b, &f))
		out = append(out, f)
	}
	return out
}

func join(t *testing.T, h *routerHarness, c *Client) {
	t.Helper()
	h.handler.dispatch(context.Background(), c, frame(t, EventConversationJoin, joinData{ConversationID: h.convID}))
	frames := decodeFrames(t, c)
	require.Len(t, frames, 1)
	require.Equal(t, EventConversationJoined, frames[0].Event)
}

// ---- tests ----

func TestJoinAckAndRejection(t *testing.T) {
	h := newRouterHarness(t, 10)
	ctx := context.Background()

	t.Run("participant gets an ack and is subscribed", func(t *testing.T) {
		alice := newTestClient("alice")
		h.hub.Register(alice)
		join(t, h, alice)
		assert.True(t, h.hub.Joined(h.convID, alice))
	})

	t.Run("non-participant gets an error frame only", func(t *testing.T) {
		mallory := newTestClient("mallory")
		h.hub.Register(mallory)
		h.handler.dispatch(ctx, mallory, frame(t, EventConversationJoin, joinData{ConversationID: h.convID}))
		frames := decodeFrames(t, mallory)
		require.Len(t, frames, 1)
		assert.Equal(t, EventError, frames[0].Event)
		assert.Contains(t, string(frames[0].Data), string(apperrors.CodePermissionDenied))
		assert.False(t, h.hub.Joined(h.convID, mallory))
	})

	t.Run("missing conversationId is a validation error", func(t *testing.T) {
		alice := newTestClient("alice")
		h.hub.Register(alice)
		h.handler.dispatch(ctx, alice, frame(t, EventConversationJoin, joinData{}))
		frames := decodeFrames(t, alice)
		require.Len(t, frames, 1)
		assert.Equal(t, EventError, frames[0].Event)
		assert.Contains(t, string(frames[0].Data), string(apperrors.CodeInvalidArgument))
	})
}

func TestSendPersistsThenBroadcasts(t *testing.T) {
	h := newRouterHarness(t, 10)
	ctx := context.Background()

	alice := newTestClient("alice")
	alicePhone := newTestClient("alice")
	bob := newTestClient("bob")
	for _, c := range []*Client{alice, alicePhone, bob} {
		h.hub.Register(c)
		join(t, h, c)
	}

	h.handler.dispatch(ctx, alice, frame(t, EventMessageSend, sendData{
		ConversationID: h.convID, Type: models.MessageTypeText, Content: "Hello",
	}))

	// durable copy exists
	require.Len(t, h.msgs.msgs, 1)

	// all group members receive message:new with decrypted content,
	// the sender's own devices included
	for name, c := range map[string]*Client{"bob": bob, "alice": alice, "alice-phone": alicePhone} {
		frames := decodeFrames(t, c)
		require.Len(t, frames, 1, "%s should receive exactly one frame", name)
		assert.Equal(t, EventMessageNew, frames[0].Event)
		var payload struct {
			Content map[string]any `json:"content"`
			Status  string         `json:"status"`
		}
		require.NoError(t, json.Unmarshal(frames[0].Data, &payload))
		assert.Equal(t, map[string]any{"text": "Hello"}, payload.Content)
		assert.Equal(t, models.StatusSent, payload.Status)
	}
}

func TestSendRejectionsGoOnlyToOriginator(t *testing.T) {
	ctx := context.Background()

	t.Run("rate limited", func(t *testing.T) {
		h := newRouterHarness(t, 1)
		alice := newTestClient("alice")
		bob := newTestClient("bob")
		h.hub.Register(alice)
		h.hub.Register(bob)
		join(t, h, alice)
		join(t, h, bob)

		send := frame(t, EventMessageSend, sendData{ConversationID: h.convID, Type: "text", Content: "one"})
		h.handler.dispatch(ctx, alice, send)
		h.handler.dispatch(ctx, alice, send)

		require.Len(t, h.msgs.msgs, 1, "rejected send must not be persisted")

		aliceFrames := decodeFrames(t, alice)
		require.Len(t, aliceFrames, 2)
		assert.Equal(t, EventMessageNew, aliceFrames[0].Event)
		assert.Equal(t, EventError, aliceFrames[1].Event)
		assert.Contains(t, string(aliceFrames[1].Data), string(apperrors.CodeRateLimited))

		bobFrames := decodeFrames(t, bob)
		require.Len(t, bobFrames, 1, "errors are never broadcast")
		assert.Equal(t, EventMessageNew, bobFrames[0].Event)
	})

	t.Run("non-participant send", func(t *testing.T) {
		h := newRouterHarness(t, 10)
		mallory := newTestClient("mallory")
		h.hub.Register(mallory)
		h.handler.dispatch(ctx, mallory, frame(t, EventMessageSend, sendData{
			ConversationID: h.convID, Type: "text", Content: "intrusion",
		}))
		assert.Empty(t, h.msgs.msgs)
		frames := decodeFrames(t, mallory)
		require.Len(t, frames, 1)
		assert.Equal(t, EventError, frames[0].Event)
		assert.Contains(t, string(frames[0].Data), string(apperrors.CodePermissionDenied))
	})
}

func TestTypingRelay(t *testing.T) {
	h := newRouterHarness(t, 10)
	ctx := context.Background()

	alice := newTestClient("alice")
	bob := newTestClient("bob")
	h.hub.Register(alice)
	h.hub.Register(bob)
	join(t, h, alice)
	join(t, h, bob)

	t.Run("start and stop reach the rest of the group, not the sender", func(t *testing.T) {
		h.handler.dispatch(ctx, alice, frame(t, EventTypingStart, typingData{ConversationID: h.convID}))
		h.handler.dispatch(ctx, alice, frame(t, EventTypingStop, typingData{ConversationID: h.convID}))

		assert.Empty(t, decodeFrames(t, alice))
		bobFrames := decodeFrames(t, bob)
		require.Len(t, bobFrames, 2)
		assert.Equal(t, EventUserTyping, bobFrames[0].Event)
		assert.Equal(t, EventUserStoppedTyping, bobFrames[1].Event)
		assert.Contains(t, string(bobFrames[0].Data), "alice")
	})

	t.Run("not relayed for conversations the connection never joined", func(t *testing.T) {
		drifter := newTestClient("alice")
		h.hub.Register(drifter) // registered but never joined the group
		h.handler.dispatch(ctx, drifter, frame(t, EventTypingStart, typingData{ConversationID: h.convID}))
		assert.Empty(t, decodeFrames(t, bob))
	})

	t.Run("nothing is persisted", func(t *testing.T) {
		assert.Empty(t, h.msgs.msgs)
	})
}

func TestUnknownEvent(t *testing.T) {
	h := newRouterHarness(t, 10)
	alice := newTestClient("alice")
	h.hub.Register(alice)
	h.handler.dispatch(context.Background(), alice, Frame{Event: "message:edit"})
	frames := decodeFrames(t, alice)
	require.Len(t, frames, 1)
	assert.Equal(t, EventError, frames[0].Event)
}
