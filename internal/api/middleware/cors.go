package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
)

// SameOriginCORS allows browser requests only from the host serving the
// API. Requests without an Origin header (curl, server-to-server) pass
// through untouched.
func SameOriginCORS() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			origin := c.Request().Header.Get(echo.HeaderOrigin)
			if origin == "" {
				return next(c)
			}

			parsed, err := url.Parse(origin)
			if err != nil || !strings.EqualFold(parsed.Host, c.Request().Host) {
				return echo.NewHTTPError(http.StatusForbidden, "cross-origin request denied")
			}

			h := c.Response().Header()
			h.Set(echo.HeaderAccessControlAllowOrigin, origin)
			h.Set(echo.HeaderAccessControlAllowMethods, "GET, POST, PUT, DELETE, OPTIONS")
			h.Set(echo.HeaderAccessControlAllowHeaders, "Origin, Content-Type, Accept")
			h.Set(echo.HeaderVary, echo.HeaderOrigin)

			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusNoContent)
			}
			return next(c)
		}
	}
}
