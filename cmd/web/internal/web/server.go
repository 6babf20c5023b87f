package web

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"thirdcoast.systems/carrot/cmd/web/auth"
	"thirdcoast.systems/carrot/cmd/web/handlers/api/ingest_api"
	"thirdcoast.systems/carrot/cmd/web/handlers/api/media_api"
	"thirdcoast.systems/carrot/cmd/web/handlers/api/post_api"
	"thirdcoast.systems/carrot/internal/ingest"
	"thirdcoast.systems/carrot/internal/media"
	"thirdcoast.systems/carrot/internal/posts"
	"thirdcoast.systems/carrot/internal/transcription"
)

type Webserver struct {
	*echo.Echo
	sessionManager *auth.SessionManager
	orchestrator   *ingest.Orchestrator
}

// NewWebserver routes the API onto the orchestrator's collaborators.
func NewWebserver(orch *ingest.Orchestrator, sessionManager *auth.SessionManager) (*Webserver, error) {
	if orch.Media == nil || orch.Posts == nil || orch.Transcriber == nil {
		return nil, errors.New("orchestrator needs media, posts and transcription collaborators")
	}

	webserver := &Webserver{
		Echo:           echo.New(),
		sessionManager: sessionManager,
		orchestrator:   orch,
	}

	if err := webserver.setupMiddleware(); err != nil {
		return nil, err
	}

	if err := webserver.registerRoutes(); err != nil {
		return nil, err
	}

	return webserver, nil
}

func (s *Webserver) setupMiddleware() error {
	s.HideBanner = true
	s.HidePort = true
	s.HTTPErrorHandler = jsonErrorHandler
	s.Use(middleware.BodyLimit("2M"))
	s.Use(middleware.Recover())
	s.Use(middleware.RequestID())
	s.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			switch c.Path() {
			case "/healthz", "/metrics":
				return true
			default:
				return false
			}
		},
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  false,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
			}
			slog.Info("request", fields...)
			return nil
		},
	}))

	return nil
}

func (s *Webserver) registerRoutes() error {
	var (
		sm                               = s.sessionManager
		orch                             = s.orchestrator
		mgr   *media.Manager             = orch.Media
		store posts.Store                = orch.Posts
		tr    *transcription.Transcriber = orch.Transcriber
	)

	apiGroup := s.Group("/api")

	apiGroup.POST("/ingest", ingest_api.HandleCreate(sm, orch))
	apiGroup.GET("/ingest/jobs/:id", ingest_api.HandleStatus(sm, orch))

	// Worker-facing; authenticated by the shared callback secret, not a session.
	apiGroup.POST("/ingest/callback", ingest_api.HandleCallback(orch))
	apiGroup.GET("/ingest/callback", ingest_api.HandleCallbackHealth(orch))
	apiGroup.POST("/stream/webhook", ingest_api.HandleStreamWebhook(orch))
	apiGroup.POST("/variants/callback", ingest_api.HandleVariantCallback(orch))

	apiGroup.POST("/posts", post_api.HandleCreate(sm, store))
	apiGroup.POST("/posts/:id/transcription", post_api.HandleTrigger(sm, store, tr))
	apiGroup.GET("/posts/:id/transcription", post_api.HandleGet(sm, store))
	apiGroup.POST("/posts/:id/transcription/reset", post_api.HandleReset(sm, store))

	apiGroup.GET("/media", media_api.HandleIndex(sm, mgr))
	apiGroup.POST("/media", media_api.HandleCreate(sm, mgr))
	apiGroup.POST("/media/backfill", media_api.HandleBackfill(sm, mgr))
	apiGroup.PATCH("/media/:id", media_api.HandleUpdate(sm, mgr))
	apiGroup.POST("/media/:id/variants", media_api.HandleVariantCreate(sm, mgr))
	apiGroup.GET("/media/:id/variants", media_api.HandleVariantIndex(sm, mgr))
	apiGroup.GET("/variants/:id", media_api.HandleVariantGet(sm, mgr))
	apiGroup.DELETE("/variants/:id", media_api.HandleVariantDelete(sm, mgr))
	apiGroup.POST("/uploads/sign", media_api.HandleSign(sm, mgr))

	// Health check
	s.GET("/healthz", func(c echo.Context) error {
		return c.String(200, "ok")
	})
	s.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return nil
}

// jsonErrorHandler renders every error as {"error": message}.
func jsonErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	msg := http.StatusText(status)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(status)
		}
	} else {
		slog.Error("unhandled error", "method", c.Request().Method, "uri", c.Request().RequestURI, "error", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, map[string]string{"error": msg})
	}
	if err != nil {
		slog.Warn("failed to write error response", "error", err)
	}
}
