package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/krishiconnect/chat-service/internal/service"
	"github.com/krishiconnect/chat-service/pkg/apperrors"
)

type ChatHandler struct {
	chat   *service.ChatService
	logger *zap.SugaredLogger
}

func NewChatHandler(chat *service.ChatService, logger *zap.SugaredLogger) *ChatHandler {
	return &ChatHandler{chat: chat, logger: logger}
}

type startConversationRequest struct {
	UserID string `json:"userId"`
}

// POST /api/chat/conversations/start
func (h *ChatHandler) StartConversation(c *fiber.Ctx) error {
	var req startConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, apperrors.InvalidArg("invalid request body"))
	}
	conv, err := h.chat.StartConversation(c.Context(), callerID(c), req.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"status": "success", "data": conv})
}

// GET /api/chat/conversations?page=&limit=
func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	page := int64(c.QueryInt("page", 1))
	limit := int64(c.QueryInt("limit", 20))
	convs, err := h.chat.ListConversations(c.Context(), callerID(c), page, limit)
	if err != nil {
		h.logger.Errorw("list conversations failed", "user_id", callerID(c), "error", err)
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"status": "success", "data": convs, "page": page})
}

// GET /api/chat/conversations/:conversationId/messages?limit=&before=
// Messages come back newest first; clients reverse for chronological display.
func (h *ChatHandler) ListMessages(c *fiber.Ctx) error {
	convID := c.Params("conversationId")
	limit := int64(c.QueryInt("limit", 50))
	before := c.Query("before")
	msgs, err := h.chat.ListMessages(c.Context(), convID, callerID(c), limit, before)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"status": "success", "data": msgs})
}

// POST /api/chat/messages/:messageId/read
func (h *ChatHandler) MarkRead(c *fiber.Ctx) error {
	msg, err := h.chat.MarkRead(c.Context(), c.Params("messageId"), callerID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"status": "success", "data": msg})
}

// DELETE /api/chat/messages/:messageId
func (h *ChatHandler) DeleteMessage(c *fiber.Ctx) error {
	if err := h.chat.DeleteForUser(c.Context(), c.Params("messageId"), callerID(c)); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"status": "success"})
}

// DELETE /api/chat/conversations/:conversationId
func (h *ChatHandler) DeactivateConversation(c *fiber.Ctx) error {
	if err := h.chat.DeactivateConversation(c.Context(), c.Params("conversationId"), callerID(c)); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"status": "success"})
}
