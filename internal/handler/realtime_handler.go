package handler

import (
	"ai-docqa-be/internal/pkg/logger"
	"ai-docqa-be/internal/pkg/serverutils"
	internalWS "ai-docqa-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RealtimeHandler streams a session's domain events (busy, indexed, answered...) over a websocket.
type RealtimeHandler struct {
	hub    *internalWS.Hub
	tokens *serverutils.SessionTokens
	logger logger.ILogger
}

func NewRealtimeHandler(hub *internalWS.Hub, tokens *serverutils.SessionTokens, log logger.ILogger) *RealtimeHandler {
	return &RealtimeHandler{
		hub:    hub,
		tokens: tokens,
		logger: log,
	}
}

// ServeWs upgrades the connection. Browsers cannot set headers on a websocket, so the token
// usually arrives as ?token= and is checked by JwtMiddleware before this runs.
func (h *RealtimeHandler) ServeWs(c *fiber.Ctx) error {
	sessionID, ok := c.Locals("session_id").(string)
	if !ok || sessionID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(401, "Unauthorized"))
	}

	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	return websocket.New(func(conn *websocket.Conn) {
		h.logger.Info("RealtimeHandler", "Starting WebSocket session", map[string]interface{}{"session_id": sessionID})
		internalWS.ServeWs(h.hub, conn, sessionID)
		h.logger.Info("RealtimeHandler", "WebSocket session ended", map[string]interface{}{"session_id": sessionID})
	})(c)
}

func (h *RealtimeHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/realtime/v1/ws", serverutils.JwtMiddleware(h.tokens), h.ServeWs)
}
