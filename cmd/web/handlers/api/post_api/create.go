// package post_api provides post and transcription handlers.
package post_api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"thirdcoast.systems/carrot/cmd/web/auth"
	"thirdcoast.systems/carrot/cmd/web/handlers/common"
	"thirdcoast.systems/carrot/internal/posts"
)

// HandleCreate creates an empty post for the caller, for ingest requests to
// attach media to.
func HandleCreate(sm *auth.SessionManager, store posts.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, _, err := common.RequireSessionUser(c, sm)
		if err != nil {
			return err
		}
		p, err := store.Create(c.Request().Context(), userID)
		if err != nil {
			return common.HTTPError(c, err)
		}
		return c.JSON(http.StatusCreated, p)
	}
}

// ownedPost loads the post named by the id parameter. Posts of other users
// are reported as missing.
func ownedPost(ctx context.Context, c echo.Context, store posts.Store, userID string) (*posts.Post, error) {
	postID, err := common.RequireUUIDParam(c, "id")
	if err != nil {
		return nil, err
	}
	p, err := store.Get(ctx, postID)
	if err != nil {
		return nil, common.HTTPError(c, err)
	}
	if p.UserID != userID {
		return nil, common.ErrNotFound(posts.ErrNotFound.Error())
	}
	return p, nil
}
