package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin     = "admin"
	RoleDoctor    = "doctor"
	RoleTherapist = "therapist"
	RoleReception = "reception"
)

func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleDoctor, RoleTherapist, RoleReception:
		return true
	}
	return false
}

// RequireRole returns middleware that checks the caller holds one of roles.
// Admin passes every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			has := RoleFromContext(c.Request().Context())
			if has == RoleAdmin {
				return next(c)
			}
			for _, required := range roles {
				if has == required {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
