package ingest_api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/carrot/cmd/web/auth"
	"thirdcoast.systems/carrot/cmd/web/handlers/common"
	"thirdcoast.systems/carrot/internal/ingest"
)

// HandleStatus returns one of the caller's jobs. Other users' jobs are
// reported as missing.
func HandleStatus(sm *auth.SessionManager, orch *ingest.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, _, err := common.RequireSessionUser(c, sm)
		if err != nil {
			return err
		}
		jobID, err := common.RequireUUIDParam(c, "id")
		if err != nil {
			return err
		}

		job, err := orch.Job(c.Request().Context(), userID, jobID)
		if err != nil {
			return common.HTTPError(c, err)
		}
		return c.JSON(http.StatusOK, job)
	}
}
