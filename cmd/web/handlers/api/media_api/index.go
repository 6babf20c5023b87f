// package media_api provides the media library, upload and variant
// handlers.
package media_api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/carrot/cmd/web/auth"
	"thirdcoast.systems/carrot/cmd/web/handlers/common"
	"thirdcoast.systems/carrot/internal/media"
)

// ErrorHeader is set on a library listing that was answered empty because
// the store failed.
const ErrorHeader = "x-media-error"

// HandleIndex lists the caller's library. It answers 200 even when the
// store is down, with an empty list and ErrorHeader set.
func HandleIndex(sm *auth.SessionManager, mgr *media.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, _, err := common.RequireSessionUser(c, sm)
		if err != nil {
			return err
		}

		includeHidden, _ := strconv.ParseBool(c.QueryParam("includeHidden"))
		listing := mgr.ListMedia(c.Request().Context(), userID, media.Filter{
			Type:          media.Type(c.QueryParam("type")),
			Query:         c.QueryParam("q"),
			Label:         c.QueryParam("label"),
			IncludeHidden: includeHidden,
			Sort:          c.QueryParam("sort"),
			Limit:         common.IntQuery(c, "limit", media.DefaultListLimit, 1, media.MaxListLimit),
		})
		if listing.Error != "" {
			c.Response().Header().Set(ErrorHeader, listing.Error)
		}
		return c.JSON(http.StatusOK, listing.Items)
	}
}
