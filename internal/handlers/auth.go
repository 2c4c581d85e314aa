package handlers

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/loomchat/loom/internal/auth"
)

// AuthHandler issues and refreshes the UI JWT. The single admin identity
// comes from config; provider credentials never pass through here.
type AuthHandler struct {
	logger    *slog.Logger
	username  string
	password  string
	jwtSecret string
	expiresIn time.Duration
}

func NewAuthHandler(log *slog.Logger, username, password, jwtSecret string, expiresIn time.Duration) *AuthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AuthHandler{
		logger:    log.With(slog.String("handler", "auth")),
		username:  username,
		password:  password,
		jwtSecret: jwtSecret,
		expiresIn: expiresIn,
	}
}

func (h *AuthHandler) Register(e *echo.Echo) {
	e.POST("/auth/login", h.Login)
	e.POST("/auth/refresh", h.Refresh)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if h.username == "" || h.password == "" {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "admin login not configured")
	}
	if req.Username != h.username || !h.passwordMatches(req.Password) {
		h.logger.Warn("login rejected", slog.String("username", req.Username))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid username or password")
	}

	token, expiresAt, err := auth.GenerateToken(req.Username, h.jwtSecret, h.expiresIn)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
}

func (h *AuthHandler) Refresh(c echo.Context) error {
	token, expiresAt, err := auth.RefreshTokenFromContext(c, h.jwtSecret, h.expiresIn)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
}

// passwordMatches accepts either a bcrypt hash or a literal password in the
// config, so operators can keep the file free of plaintext secrets.
func (h *AuthHandler) passwordMatches(supplied string) bool {
	if strings.HasPrefix(h.password, "$2a$") || strings.HasPrefix(h.password, "$2b$") {
		return bcrypt.CompareHashAndPassword([]byte(h.password), []byte(supplied)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(h.password), []byte(supplied)) == 1
}
