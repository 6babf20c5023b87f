package media_api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/carrot/cmd/web/auth"
	"thirdcoast.systems/carrot/cmd/web/handlers/common"
	"thirdcoast.systems/carrot/internal/media"
)

// HandleBackfill adds the caller's recently completed jobs that are missing
// from their library.
func HandleBackfill(sm *auth.SessionManager, mgr *media.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, _, err := common.RequireSessionUser(c, sm)
		if err != nil {
			return err
		}
		hours := common.IntQuery(c, "hours", 24, 1, 168)
		limit := common.IntQuery(c, "limit", 10, 1, 100)

		res, err := mgr.Backfill(c.Request().Context(), userID, time.Duration(hours)*time.Hour, limit)
		if err != nil {
			// Per-job failures do not hide what was reconciled.
			slog.Warn("backfill finished with errors", "user_id", userID, "created", res.Created, "examined", res.Examined, "error", err)
			if res.Examined == 0 {
				return common.HTTPError(c, err)
			}
		}
		return c.JSON(http.StatusOK, map[string]any{
			"created":  res.Created,
			"examined": res.Examined,
			"hours":    hours,
		})
	}
}
