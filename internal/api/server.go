package api

import (
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/krishiconnect/chat-service/internal/auth"
	"github.com/krishiconnect/chat-service/internal/service"
	"github.com/krishiconnect/chat-service/internal/ws"
)

// NewServer wires the retrieval surface and the websocket upgrade route onto
// one fiber app.
func NewServer(chat *service.ChatService, authn *auth.SessionAuthenticator, wsHandler *ws.Handler, logger *zap.SugaredLogger) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// the websocket handler does its own credential check on the token query
	// parameter; failed auth closes the socket before any event is read
	app.Get("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(wsHandler.Handle))

	h := NewChatHandler(chat, logger)
	chatAPI := app.Group("/api/chat", RequireAuth(authn))
	chatAPI.Post("/conversations/start", h.StartConversation)
	chatAPI.Get("/conversations", h.ListConversations)
	chatAPI.Get("/conversations/:conversationId/messages", h.ListMessages)
	chatAPI.Delete("/conversations/:conversationId", h.DeactivateConversation)
	chatAPI.Post("/messages/:messageId/read", h.MarkRead)
	chatAPI.Delete("/messages/:messageId", h.DeleteMessage)

	return app
}
