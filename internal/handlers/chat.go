package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/loomchat/loom/internal/bridge"
	"github.com/loomchat/loom/internal/gateway"
)

// ChatHandler exposes conversation listings and message operations through
// the command gateway.
type ChatHandler struct {
	logger       *slog.Logger
	gateway      *gateway.Gateway
	defaultLimit int
}

func NewChatHandler(log *slog.Logger, gw *gateway.Gateway, defaultLimit int) *ChatHandler {
	if log == nil {
		log = slog.Default()
	}
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	return &ChatHandler{
		logger:       log.With(slog.String("handler", "chat")),
		gateway:      gw,
		defaultLimit: defaultLimit,
	}
}

func (h *ChatHandler) Register(e *echo.Echo) {
	group := e.Group("/providers/:provider")
	group.GET("/conversations", h.ListConversations)
	group.GET("/conversations/:conversation_id/messages", h.ListMessages)
	group.POST("/conversations/:conversation_id/messages", h.SendMessage)
	group.PUT("/conversations/:conversation_id/messages/:message_id", h.EditMessage)
	group.DELETE("/conversations/:conversation_id/messages/:message_id", h.DeleteMessage)
	group.POST("/conversations/:conversation_id/files", h.SendFile)
}

func (h *ChatHandler) limit(c echo.Context) int {
	raw := c.QueryParam("limit")
	if raw == "" {
		return h.defaultLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return h.defaultLimit
	}
	return n
}

func (h *ChatHandler) ListConversations(c echo.Context) error {
	provider := bridge.ProviderID(c.Param("provider"))
	convos, err := h.gateway.ListConversations(c.Request().Context(), provider, h.limit(c))
	if err != nil {
		return httpError(c, err)
	}
	if convos == nil {
		convos = []bridge.Conversation{}
	}
	return c.JSON(http.StatusOK, convos)
}

type messagePage struct {
	Messages []bridge.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// ListMessages returns a page of history, newest first. A before_id query
// parameter requests the page preceding that message.
func (h *ChatHandler) ListMessages(c echo.Context) error {
	provider := bridge.ProviderID(c.Param("provider"))
	conversationID := c.Param("conversation_id")

	msgs, more, err := h.gateway.ListMessages(c.Request().Context(), provider, conversationID, h.limit(c), c.QueryParam("before_id"))
	if err != nil {
		return httpError(c, err)
	}
	if msgs == nil {
		msgs = []bridge.Message{}
	}
	return c.JSON(http.StatusOK, messagePage{Messages: msgs, HasMore: more})
}

type sendMessageRequest struct {
	Body      string `json:"body"`
	ReplyToID string `json:"reply_to_id,omitempty"`
}

func (h *ChatHandler) SendMessage(c echo.Context) error {
	provider := bridge.ProviderID(c.Param("provider"))
	conversationID := c.Param("conversation_id")

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Body == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "body is required")
	}

	msg, err := h.gateway.SendMessage(c.Request().Context(), provider, conversationID, req.Body, req.ReplyToID)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, msg)
}

type editMessageRequest struct {
	Body string `json:"body"`
}

func (h *ChatHandler) EditMessage(c echo.Context) error {
	provider := bridge.ProviderID(c.Param("provider"))
	conversationID := c.Param("conversation_id")
	messageID := c.Param("message_id")

	var req editMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Body == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "body is required")
	}

	msg, err := h.gateway.EditMessage(c.Request().Context(), provider, conversationID, messageID, req.Body)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, msg)
}

func (h *ChatHandler) DeleteMessage(c echo.Context) error {
	provider := bridge.ProviderID(c.Param("provider"))
	conversationID := c.Param("conversation_id")
	messageID := c.Param("message_id")

	if err := h.gateway.DeleteMessage(c.Request().Context(), provider, conversationID, messageID); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SendFile accepts a multipart upload under the "file" field with an
// optional "caption" and forwards it to the provider.
func (h *ChatHandler) SendFile(c echo.Context) error {
	provider := bridge.ProviderID(c.Param("provider"))
	conversationID := c.Param("conversation_id")

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file field is required")
	}
	src, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()

	upload := bridge.FileUpload{
		Name:    fileHeader.Filename,
		Mime:    fileHeader.Header.Get("Content-Type"),
		Size:    fileHeader.Size,
		Caption: c.FormValue("caption"),
		Reader:  src,
	}
	msg, err := h.gateway.SendFile(c.Request().Context(), provider, conversationID, upload)
	if err != nil {
		return httpError(c, err)
	}
	h.logger.Info("file sent",
		slog.String("provider", provider.String()),
		slog.String("conversation_id", conversationID),
		slog.Int64("size", fileHeader.Size),
	)
	return c.JSON(http.StatusCreated, msg)
}
