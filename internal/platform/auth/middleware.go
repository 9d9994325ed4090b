package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// JWTMiddleware attaches the Principal carried by a bearer token. Requests
// without an Authorization header pass through anonymously; route groups
// that need a caller use RequireAuth or RequireRole.
func JWTMiddleware(tokens *Tokens) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				// Browsers cannot set headers on a websocket handshake.
				if tok := c.QueryParam("access_token"); tok != "" && c.IsWebSocket() {
					authHeader = "Bearer " + tok
				} else {
					return next(c)
				}
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			p, err := tokens.Parse(parts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), p)))
			return next(c)
		}
	}
}

// DevAuthMiddleware lets local callers pick an identity with the X-Dev-Role
// and X-Dev-Subject headers instead of minting tokens. Development only.
func DevAuthMiddleware(tokens *Tokens) echo.MiddlewareFunc {
	jwtMW := JWTMiddleware(tokens)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		withJWT := jwtMW(next)
		return func(c echo.Context) error {
			req := c.Request()
			if req.Header.Get("Authorization") != "" {
				return withJWT(c)
			}
			role, err := ParseRole(req.Header.Get("X-Dev-Role"))
			if err != nil {
				return next(c)
			}
			subject := req.Header.Get("X-Dev-Subject")
			if subject == "" {
				subject = "dev-user"
			}
			c.SetRequest(req.WithContext(WithPrincipal(req.Context(), Principal{Subject: subject, Role: role})))
			return next(c)
		}
	}
}
