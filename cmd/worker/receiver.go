package main

import (
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"
	"thirdcoast.systems/carrot/internal/dispatch"
)

// receiver accepts HTTP dispatches and runs them in the background, at most
// limit at a time. A full worker answers 503 so the orchestrator's sweep
// offers the job again later.
type receiver struct {
	*echo.Echo
	ctx    context.Context
	secret string
	handle dispatch.Handler
	pool   *errgroup.Group
}

func newReceiver(ctx context.Context, handle dispatch.Handler, secret string, limit int) *receiver {
	pool := &errgroup.Group{}
	pool.SetLimit(limit)

	r := &receiver{
		Echo:   echo.New(),
		ctx:    ctx,
		secret: secret,
		handle: handle,
		pool:   pool,
	}
	r.HideBanner = true
	r.HidePort = true
	r.Use(middleware.BodyLimit("1M"))
	r.Use(middleware.Recover())
	r.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper:   func(c echo.Context) bool { return c.Path() == "/healthz" },
		LogURI:    true,
		LogMethod: true,
		LogStatus: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []any{"method", v.Method, "uri", v.URI, "status", v.Status}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
			}
			slog.Info("request", fields...)
			return nil
		},
	}))

	r.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"ok": true})
	})
	r.POST("/ingest", r.accept(dispatch.KindIngest))
	r.POST("/trim", r.accept(dispatch.KindTrim))
	return r
}

func (r *receiver) authorized(c echo.Context) bool {
	if r.secret == "" {
		return true
	}
	got := c.Request().Header.Get(dispatch.SecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(r.secret)) == 1
}

func (r *receiver) accept(kind dispatch.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !r.authorized(c) {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
		}
		msg, err := dispatch.Decode(body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if msg.MessageKind() != kind || msg.MessageID() == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "unexpected message for "+c.Path())
		}

		started := r.pool.TryGo(func() error {
			if err := r.handle(r.ctx, msg); err != nil {
				slog.Error("failed to process dispatch", "kind", kind, "id", msg.MessageID(), "error", err)
			}
			return nil
		})
		if !started {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "worker busy")
		}
		return c.JSON(http.StatusAccepted, map[string]any{"accepted": true, "id": msg.MessageID()})
	}
}

// Drain waits for every accepted message to finish.
func (r *receiver) Drain() {
	_ = r.pool.Wait()
}
