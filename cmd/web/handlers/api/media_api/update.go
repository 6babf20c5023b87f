package media_api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/carrot/cmd/web/auth"
	"thirdcoast.systems/carrot/cmd/web/handlers/common"
	"thirdcoast.systems/carrot/internal/media"
)

func HandleUpdate(sm *auth.SessionManager, mgr *media.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, _, err := common.RequireSessionUser(c, sm)
		if err != nil {
			return err
		}
		assetID, err := common.RequireUUIDParam(c, "id")
		if err != nil {
			return err
		}

		var req struct {
			Title  *string   `json:"title"`
			Hidden *bool     `json:"hidden"`
			Labels *[]string `json:"labels"`
		}
		if err := c.Bind(&req); err != nil {
			return common.ErrBadRequest("invalid json")
		}

		a, err := mgr.UpdateMedia(c.Request().Context(), userID, assetID, media.Patch{
			Title:  req.Title,
			Hidden: req.Hidden,
			Labels: req.Labels,
		})
		if err != nil {
			return common.HTTPError(c, err)
		}
		return c.JSON(http.StatusOK, a)
	}
}
