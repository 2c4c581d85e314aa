package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/loomchat/loom/internal/bridge"
	"github.com/loomchat/loom/internal/entity"
	"github.com/loomchat/loom/internal/media"
)

// MediaHandler streams message attachments and avatars. Attachment responses
// honor single byte-range requests so audio and video seek without a full
// download.
type MediaHandler struct {
	logger   *slog.Logger
	resolver *media.Resolver
	entities *entity.Service
}

func NewMediaHandler(log *slog.Logger, resolver *media.Resolver, entities *entity.Service) *MediaHandler {
	if log == nil {
		log = slog.Default()
	}
	return &MediaHandler{
		logger:   log.With(slog.String("handler", "media")),
		resolver: resolver,
		entities: entities,
	}
}

func (h *MediaHandler) Register(e *echo.Echo) {
	group := e.Group("/providers/:provider")
	group.GET("/conversations/:conversation_id/messages/:message_id/media", h.ServeMedia)
	group.GET("/entities/:entity_id", h.GetEntity)
	group.GET("/entities/:entity_id/avatar", h.ServeAvatar)
}

func (h *MediaHandler) ServeMedia(c echo.Context) error {
	provider := bridge.ProviderID(c.Param("provider"))
	conversationID := c.Param("conversation_id")
	messageID := c.Param("message_id")

	content, err := h.resolver.Fetch(c.Request().Context(), provider, conversationID, messageID)
	if err != nil {
		return httpError(c, err)
	}

	size := int64(len(content.Data))
	attachment := c.QueryParam("download") != ""

	header := c.Response().Header()
	header.Set("Accept-Ranges", "bytes")
	header.Set(echo.HeaderContentType, content.Mime)
	if content.Filename != "" {
		header.Set(echo.HeaderContentDisposition, media.ContentDisposition(content.Filename, attachment))
	}

	rng, err := media.ParseRange(c.Request().Header.Get("Range"), size)
	if err != nil {
		header.Set("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
		return httpError(c, err)
	}
	if rng == nil {
		return c.Blob(http.StatusOK, content.Mime, content.Data)
	}

	header.Set("Content-Range", rng.ContentRange(size))
	return c.Blob(http.StatusPartialContent, content.Mime, content.Data[rng.Start:rng.End+1])
}

func (h *MediaHandler) GetEntity(c echo.Context) error {
	provider := bridge.ProviderID(c.Param("provider"))
	id := c.Param("entity_id")

	var (
		ent bridge.Entity
		err error
	)
	if c.QueryParam("refresh") != "" {
		ent, err = h.entities.Refresh(c.Request().Context(), provider, id)
	} else {
		ent, err = h.entities.Get(c.Request().Context(), provider, id)
	}
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, ent)
}

// ServeAvatar returns the entity's avatar, from the disk cache unless a
// refresh is requested.
func (h *MediaHandler) ServeAvatar(c echo.Context) error {
	provider := bridge.ProviderID(c.Param("provider"))
	id := c.Param("entity_id")

	data, mime, err := h.resolver.Avatar(c.Request().Context(), provider, id, c.QueryParam("refresh") != "")
	if err != nil {
		return httpError(c, err)
	}
	return c.Blob(http.StatusOK, mime, data)
}
