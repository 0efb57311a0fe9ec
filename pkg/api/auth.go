package api

import (
	"crypto/subtle"
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// Auth headers.
const (
	adminKeyHeader      = "X-Admin-Key"
	webhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
)

// adminAuth guards the admin surface with a shared key. An empty configured
// key disables the check; config validation forbids that in production.
func adminAuth(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if key == "" {
				return next(c)
			}
			got := c.Request().Header.Get(adminKeyHeader)
			if !secretEqual(got, key) {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid admin key")
			}
			return next(c)
		}
	}
}

// secretEqual compares two secrets in constant time.
func secretEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
