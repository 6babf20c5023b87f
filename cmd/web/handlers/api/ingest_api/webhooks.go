package ingest_api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/carrot/cmd/web/handlers/common"
	"thirdcoast.systems/carrot/internal/ingest"
	"thirdcoast.systems/carrot/internal/media"
)

// HandleStreamWebhook records the transcode provider's status for a stream.
func HandleStreamWebhook(orch *ingest.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req struct {
			UID    string `json:"uid"`
			Status string `json:"status"`
			Secret string `json:"secret"`
		}
		if err := c.Bind(&req); err != nil {
			return common.ErrBadRequest("invalid json")
		}

		jobsUpdated, assetsUpdated, err := orch.HandleStreamWebhook(c.Request().Context(), callbackSecret(c, req.Secret), req.UID, req.Status)
		if err != nil {
			return common.HTTPError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"ok":     true,
			"jobs":   jobsUpdated,
			"assets": assetsUpdated,
		})
	}
}

// HandleVariantCallback applies a worker's trim result.
func HandleVariantCallback(orch *ingest.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req struct {
			media.VariantResult
			Secret string `json:"secret"`
		}
		if err := c.Bind(&req); err != nil {
			return common.ErrBadRequest("invalid json")
		}

		v, err := orch.HandleVariantCallback(c.Request().Context(), callbackSecret(c, req.Secret), req.VariantResult)
		if err != nil {
			return common.HTTPError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"ok":      true,
			"variant": v,
		})
	}
}
