// Package handlers exposes the HTTP surface: provider authentication,
// conversation and message operations, media streaming, and the WebSocket
// event channel. Bridge errors are mapped to HTTP status codes in one place.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/loomchat/loom/internal/bridge"
)

// httpError translates a bridge error into an echo HTTP error. Rate limit
// responses carry a Retry-After header when the provider reported a delay.
func httpError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}

	var rl *bridge.RateLimitError
	if errors.As(err, &rl) {
		if secs := int(rl.RetryAfter.Seconds()); secs > 0 {
			c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
		}
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limited by provider")
	}

	switch {
	case errors.Is(err, bridge.ErrNotConnected):
		return echo.NewHTTPError(http.StatusConflict, "provider session not ready")
	case errors.Is(err, bridge.ErrSecondFactorRequired):
		return echo.NewHTTPError(http.StatusUnauthorized, "second factor required")
	case errors.Is(err, bridge.ErrInvalidCredential):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credential")
	case errors.Is(err, bridge.ErrRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limited by provider")
	case errors.Is(err, bridge.ErrEntityNotResolved), errors.Is(err, bridge.ErrMediaNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, bridge.ErrRangeNotSatisfiable):
		return echo.NewHTTPError(http.StatusRequestedRangeNotSatisfiable, "range not satisfiable")
	case errors.Is(err, bridge.ErrPermissionDenied):
		return echo.NewHTTPError(http.StatusForbidden, "not permitted")
	case errors.Is(err, bridge.ErrPushUnsupported):
		return echo.NewHTTPError(http.StatusNotImplemented, "push not supported")
	}

	var provErr *bridge.ProviderError
	if errors.As(err, &provErr) {
		return echo.NewHTTPError(http.StatusBadGateway, provErr.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
