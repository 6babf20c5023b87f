package media_api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/carrot/cmd/web/auth"
	"thirdcoast.systems/carrot/cmd/web/handlers/common"
	"thirdcoast.systems/carrot/internal/media"
)

func HandleVariantCreate(sm *auth.SessionManager, mgr *media.Manager) echo.HandlerFunc {
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
			StartSec *float64 `json:"startSec"`
			EndSec   *float64 `json:"endSec"`
		}
		if err := c.Bind(&req); err != nil {
			return common.ErrBadRequest("invalid json")
		}
		if req.StartSec == nil || req.EndSec == nil {
			return common.ErrBadRequest("startSec and endSec are required")
		}

		v, err := mgr.CreateVariant(c.Request().Context(), userID, assetID, *req.StartSec, *req.EndSec)
		if err != nil {
			return common.HTTPError(c, err)
		}
		return c.JSON(http.StatusCreated, v)
	}
}

func HandleVariantIndex(sm *auth.SessionManager, mgr *media.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, _, err := common.RequireSessionUser(c, sm)
		if err != nil {
			return err
		}
		assetID, err := common.RequireUUIDParam(c, "id")
		if err != nil {
			return err
		}
		vs, err := mgr.ListVariants(c.Request().Context(), userID, assetID)
		if err != nil {
			return common.HTTPError(c, err)
		}
		return c.JSON(http.StatusOK, vs)
	}
}

func HandleVariantGet(sm *auth.SessionManager, mgr *media.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, _, err := common.RequireSessionUser(c, sm)
		if err != nil {
			return err
		}
		variantID, err := common.RequireUUIDParam(c, "id")
		if err != nil {
			return err
		}
		v, err := mgr.GetVariant(c.Request().Context(), userID, variantID)
		if err != nil {
			return common.HTTPError(c, err)
		}
		return c.JSON(http.StatusOK, v)
	}
}

// HandleVariantDelete removes a variant, or marks a pending one cancelled.
func HandleVariantDelete(sm *auth.SessionManager, mgr *media.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, _, err := common.RequireSessionUser(c, sm)
		if err != nil {
			return err
		}
		variantID, err := common.RequireUUIDParam(c, "id")
		if err != nil {
			return err
		}
		status, err := mgr.DeleteVariant(c.Request().Context(), userID, variantID)
		if err != nil {
			return common.HTTPError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"ok":      true,
			"deleted": status != media.VariantCancelled,
			"status":  status,
		})
	}
}
