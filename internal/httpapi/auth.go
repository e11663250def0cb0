package httpapi

import (
	"github.com/labstack/echo/v4"

	"horse.fit/curate/internal/auth"
)

// requireToken guards mutating endpoints with the operator bearer token. An empty hash
// turns the check off for local use.
func (s *Server) requireToken() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if s.tokenHash == "" {
				return next(c)
			}
			token := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if token == "" || !auth.VerifyToken(token, s.tokenHash) {
				s.logger.Warn().
					Str("method", c.Request().Method).
					Str("uri", c.Request().RequestURI).
					Str("remote_ip", c.RealIP()).
					Msg("rejected request without a valid bearer token")
				return unauthorized(c)
			}
			return next(c)
		}
	}
}
