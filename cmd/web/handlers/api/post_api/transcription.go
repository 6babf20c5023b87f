package post_api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/carrot/cmd/web/auth"
	"thirdcoast.systems/carrot/cmd/web/handlers/common"
	"thirdcoast.systems/carrot/internal/posts"
	"thirdcoast.systems/carrot/internal/transcription"
)

type transcriptionResponse struct {
	Status        string  `json:"status"`
	Transcription *string `json:"transcription"`
	Started       *bool   `json:"started,omitempty"`
}

func responseFor(p *posts.Post) transcriptionResponse {
	status := string(p.TranscriptionStatus)
	if status == "" {
		status = "none"
	}
	return transcriptionResponse{Status: status, Transcription: p.AudioTranscription}
}

// HandleTrigger starts a transcription of the post's media, or of the media
// URL in the body. A transcription that is already running or finished is
// returned unchanged.
func HandleTrigger(sm *auth.SessionManager, store posts.Store, tr *transcription.Transcriber) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, _, err := common.RequireSessionUser(c, sm)
		if err != nil {
			return err
		}
		p, err := ownedPost(ctx, c, store, userID)
		if err != nil {
			return err
		}

		var req struct {
			MediaURL  string `json:"mediaUrl"`
			MediaType string `json:"mediaType"`
		}
		if err := c.Bind(&req); err != nil {
			return common.ErrBadRequest("invalid json")
		}
		switch req.MediaType = strings.ToLower(strings.TrimSpace(req.MediaType)); req.MediaType {
		case "", "audio", "video":
		default:
			return common.ErrBadRequest("mediaType must be audio or video")
		}

		p, started, err := tr.Trigger(ctx, p.ID, strings.TrimSpace(req.MediaURL), req.MediaType)
		if err != nil {
			return common.HTTPError(c, err)
		}
		resp := responseFor(p)
		resp.Started = &started
		status := http.StatusOK
		if started {
			status = http.StatusAccepted
		}
		return c.JSON(status, resp)
	}
}

func HandleGet(sm *auth.SessionManager, store posts.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, _, err := common.RequireSessionUser(c, sm)
		if err != nil {
			return err
		}
		p, err := ownedPost(c.Request().Context(), c, store, userID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, responseFor(p))
	}
}

// HandleReset returns a finished transcription to pending so it can be
// triggered again.
func HandleReset(sm *auth.SessionManager, store posts.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, _, err := common.RequireSessionUser(c, sm)
		if err != nil {
			return err
		}
		p, err := ownedPost(ctx, c, store, userID)
		if err != nil {
			return err
		}
		p, err = store.ResetTranscription(ctx, p.ID)
		if err != nil {
			return common.HTTPError(c, err)
		}
		return c.JSON(http.StatusOK, responseFor(p))
	}
}
