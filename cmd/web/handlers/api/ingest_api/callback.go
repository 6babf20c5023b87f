package ingest_api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/carrot/cmd/web/handlers/common"
	"thirdcoast.systems/carrot/internal/ingest"
	"thirdcoast.systems/carrot/internal/jobs"
)

// Headers the worker may carry the callback secret in instead of the body.
const (
	SecretHeader         = "x-ingest-secret"
	CallbackSecretHeader = "x-ingest-callback-secret"
)

func callbackSecret(c echo.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if v := c.Request().Header.Get(SecretHeader); v != "" {
		return v
	}
	return c.Request().Header.Get(CallbackSecretHeader)
}

// HandleCallback applies a worker's job report.
func HandleCallback(orch *ingest.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		var cb ingest.Callback
		if err := c.Bind(&cb); err != nil {
			return common.ErrBadRequest("invalid json")
		}
		cb.Secret = callbackSecret(c, cb.Secret)

		res, err := orch.HandleCallback(c.Request().Context(), cb)
		switch {
		case errors.Is(err, jobs.ErrProtocolViolation):
			return echo.NewHTTPError(http.StatusConflict, "protocol violation")
		case err != nil:
			return common.HTTPError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"ok":         true,
			"job":        res.Job,
			"idempotent": res.Idempotent,
		})
	}
}

// HandleCallbackHealth lets a worker check reachability before it starts
// reporting.
func HandleCallbackHealth(orch *ingest.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"ok":        true,
			"hasSecret": orch.HasSecret(),
		})
	}
}
