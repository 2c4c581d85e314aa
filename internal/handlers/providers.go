package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/loomchat/loom/internal/bridge"
	"github.com/loomchat/loom/internal/session"
)

// ProvidersHandler exposes the per-provider session lifecycle: status,
// stepwise login, QR retrieval, and logout.
type ProvidersHandler struct {
	logger   *slog.Logger
	sessions *session.Manager
}

func NewProvidersHandler(log *slog.Logger, sessions *session.Manager) *ProvidersHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ProvidersHandler{
		logger:   log.With(slog.String("handler", "providers")),
		sessions: sessions,
	}
}

func (h *ProvidersHandler) Register(e *echo.Echo) {
	group := e.Group("/providers")
	group.GET("", h.List)
	group.POST("/:provider/login", h.Login)
	group.GET("/:provider/qr", h.QRCode)
	group.POST("/:provider/logout", h.Logout)
}

// List returns the auth snapshot of every registered provider.
func (h *ProvidersHandler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, h.sessions.Statuses())
}

type loginStepResponse struct {
	Step bridge.LoginStep `json:"step"`
}

// Login advances a provider's login flow with the submitted credentials.
// Multi-step flows (phone then code then password) call it repeatedly until
// the step is "done"; QR flows get "qr_pending" and poll the qr endpoint.
func (h *ProvidersHandler) Login(c echo.Context) error {
	provider := bridge.ProviderID(c.Param("provider"))
	var creds bridge.Credentials
	if err := c.Bind(&creds); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	step, err := h.sessions.Login(c.Request().Context(), provider, creds)
	if err != nil {
		return httpError(c, err)
	}
	h.logger.Info("login step",
		slog.String("provider", provider.String()),
		slog.String("step", string(step)),
	)
	return c.JSON(http.StatusOK, loginStepResponse{Step: step})
}

// QRCode returns the current pairing payload for QR-flow providers.
func (h *ProvidersHandler) QRCode(c echo.Context) error {
	provider := bridge.ProviderID(c.Param("provider"))
	code, err := h.sessions.QRCode(c.Request().Context(), provider)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"qr": code})
}

// Logout tears the provider session down and discards its stored token.
func (h *ProvidersHandler) Logout(c echo.Context) error {
	provider := bridge.ProviderID(c.Param("provider"))
	if err := h.sessions.Logout(c.Request().Context(), provider); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
