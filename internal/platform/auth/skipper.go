package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Routes served without a bearer token.
var publicRoutes = map[string]struct{}{
	"/health":       {},
	"/health/store": {},
}

// AuthSkipper skips authentication for public routes and CORS preflight
// requests, which browsers send without credentials.
func AuthSkipper(c echo.Context) bool {
	if c.Request().Method == http.MethodOptions {
		return true
	}
	_, ok := publicRoutes[c.Path()]
	return ok
}
