package common

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/carrot/internal/ingest"
	"thirdcoast.systems/carrot/internal/jobs"
	"thirdcoast.systems/carrot/internal/media"
	"thirdcoast.systems/carrot/internal/posts"
	"thirdcoast.systems/carrot/internal/storage"
	"thirdcoast.systems/carrot/internal/transcription"
	"thirdcoast.systems/carrot/internal/urlnorm"
)

// ErrBadRequest returns a 400 Bad Request error.
func ErrBadRequest(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

// ErrNotFound returns a 404 Not Found error.
func ErrNotFound(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusNotFound, msg)
}

// ErrUnauthorized returns a 401 Unauthorized error.
func ErrUnauthorized() *echo.HTTPError {
	return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
}

// ErrInternal returns a 500 Internal Server Error.
func ErrInternal(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusInternalServerError, msg)
}

// StatusFor maps a domain error to its HTTP status. Unknown errors are 500.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, urlnorm.ErrUnsupportedSource),
		errors.Is(err, urlnorm.ErrInvalidURL),
		errors.Is(err, ingest.ErrInvalidCallback),
		errors.Is(err, media.ErrInvalidVariant),
		errors.Is(err, media.ErrInvalidUpload),
		errors.Is(err, transcription.ErrNoMedia):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, media.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, jobs.ErrNotFound),
		errors.Is(err, posts.ErrNotFound),
		errors.Is(err, media.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrProtocolViolation),
		errors.Is(err, jobs.ErrInvalidTransition),
		errors.Is(err, posts.ErrNotResettable),
		errors.Is(err, media.ErrVariantConflict):
		return http.StatusConflict
	case errors.Is(err, storage.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, storage.ErrContentType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, storage.ErrNotConfigured),
		errors.Is(err, transcription.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPError converts err into an echo error. Client errors keep their
// message; server errors are logged and answered without detail.
func HTTPError(c echo.Context, err error) *echo.HTTPError {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		slog.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
		return echo.NewHTTPError(status, http.StatusText(status))
	}
	return echo.NewHTTPError(status, err.Error())
}
