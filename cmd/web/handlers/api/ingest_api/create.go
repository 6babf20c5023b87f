// package ingest_api provides the ingest, job status and worker callback
// handlers.
package ingest_api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/carrot/cmd/web/auth"
	"thirdcoast.systems/carrot/cmd/web/handlers/common"
	"thirdcoast.systems/carrot/internal/ingest"
)

func HandleCreate(sm *auth.SessionManager, orch *ingest.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, _, err := common.RequireSessionUser(c, sm)
		if err != nil {
			return err
		}

		var req struct {
			URL    string `json:"url"`
			PostID string `json:"postId"`
		}
		if err := c.Bind(&req); err != nil {
			return common.ErrBadRequest("invalid json")
		}
		req.URL = strings.TrimSpace(req.URL)
		if req.URL == "" {
			return common.ErrBadRequest("url is required")
		}

		res, err := orch.Ingest(c.Request().Context(), ingest.Request{
			UserID: userID,
			URL:    req.URL,
			PostID: strings.TrimSpace(req.PostID),
		})
		if err != nil {
			return common.HTTPError(c, err)
		}

		status := http.StatusCreated
		if res.Deduplicated {
			status = http.StatusOK
		}
		return c.JSON(status, map[string]any{
			"jobId":        res.Job.ID,
			"deduplicated": res.Deduplicated,
			"job":          res.Job,
		})
	}
}
