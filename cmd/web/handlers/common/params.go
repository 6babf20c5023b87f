package common

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"thirdcoast.systems/carrot/cmd/web/auth"
)

// RequireUUIDParam extracts a UUID route parameter or returns a 400 error.
func RequireUUIDParam(c echo.Context, param string) (string, error) {
	u, err := uuid.Parse(c.Param(param))
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid "+param)
	}
	return u.String(), nil
}

// RequireSessionUser extracts the user ID and username from the session.
// Returns 401 if not authenticated.
func RequireSessionUser(c echo.Context, sm *auth.SessionManager) (string, string, error) {
	id, err := sm.Identify(c.Request())
	if err != nil {
		return "", "", echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	return id.UserID, id.Username, nil
}

// IntQuery parses an integer query parameter, clamped to [lo, hi]. Missing
// or malformed values yield def.
func IntQuery(c echo.Context, name string, def, lo, hi int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return max(lo, min(n, hi))
}
