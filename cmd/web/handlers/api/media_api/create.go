package media_api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/carrot/cmd/web/auth"
	"thirdcoast.systems/carrot/cmd/web/handlers/common"
	"thirdcoast.systems/carrot/internal/media"
)

// HandleCreate records a finished signed upload in the caller's library.
func HandleCreate(sm *auth.SessionManager, mgr *media.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, _, err := common.RequireSessionUser(c, sm)
		if err != nil {
			return err
		}
		var up media.Upload
		if err := c.Bind(&up); err != nil {
			return common.ErrBadRequest("invalid json")
		}
		a, err := mgr.CreateUpload(c.Request().Context(), userID, up)
		if err != nil {
			return common.HTTPError(c, err)
		}
		return c.JSON(http.StatusCreated, a)
	}
}

// HandleSign issues a signed upload target for a file the caller is about
// to upload.
func HandleSign(sm *auth.SessionManager, mgr *media.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, _, err := common.RequireSessionUser(c, sm)
		if err != nil {
			return err
		}
		var req struct {
			Filename    string `json:"filename"`
			ContentType string `json:"contentType"`
			Size        int64  `json:"size"`
		}
		if err := c.Bind(&req); err != nil {
			return common.ErrBadRequest("invalid json")
		}
		signed, err := mgr.SignUpload(c.Request().Context(), userID, req.Filename, req.ContentType, req.Size)
		if err != nil {
			return common.HTTPError(c, err)
		}
		return c.JSON(http.StatusOK, signed)
	}
}
