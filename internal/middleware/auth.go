package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

const UserIDKey = "user_id"

// UserAuth trusts the X-User-Id header set by the upstream gateway.
// TODO: verify a signed session token once the gateway issues them.
func UserAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := c.Request().Header.Get("X-User-Id")
			if userID == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing X-User-Id header")
			}
			c.Set(UserIDKey, userID)
			return next(c)
		}
	}
}

// AdminAuth requires X-Admin-Token to match token. An empty token disables the admin routes.
func AdminAuth(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token == "" {
				return echo.NewHTTPError(http.StatusForbidden, "admin api disabled")
			}
			got := c.Request().Header.Get("X-Admin-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid admin token")
			}
			return next(c)
		}
	}
}

// UserID returns the authenticated user id.
func UserID(c echo.Context) string {
	id, _ := c.Get(UserIDKey).(string)
	return id
}
