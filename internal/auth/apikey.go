package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPaths never require a key.
var publicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// APIKeyMiddleware validates the request's API key against the configured key.
// The key is read from X-API-Key, an Authorization bearer token, or the
// api_key query parameter (browser websocket clients cannot set headers).
// If the configured key is empty, authentication is disabled (development mode).
func APIKeyMiddleware(apiKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if apiKey == "" || publicPaths[c.Request().URL.Path] {
				return next(c)
			}

			provided := providedKey(c)
			if provided == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "missing API key",
				})
			}

			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": "invalid API key",
				})
			}

			return next(c)
		}
	}
}

func providedKey(c echo.Context) string {
	if key := c.Request().Header.Get("X-API-Key"); key != "" {
		return key
	}
	if authz := c.Request().Header.Get("Authorization"); authz != "" {
		if token, ok := strings.CutPrefix(authz, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return c.QueryParam("api_key")
}
