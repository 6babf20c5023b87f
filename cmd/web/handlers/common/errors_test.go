package common

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"thirdcoast.systems/carrot/internal/ingest"
	"thirdcoast.systems/carrot/internal/jobs"
	"thirdcoast.systems/carrot/internal/media"
	"thirdcoast.systems/carrot/internal/posts"
	"thirdcoast.systems/carrot/internal/storage"
	"thirdcoast.systems/carrot/internal/urlnorm"
)

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		urlnorm.ErrUnsupportedSource:                         http.StatusBadRequest,
		ingest.ErrUnauthorized:                               http.StatusUnauthorized,
		media.ErrForbidden:                                   http.StatusForbidden,
		jobs.ErrNotFound:                                     http.StatusNotFound,
		fmt.Errorf("load post: %w", posts.ErrNotFound):       http.StatusNotFound,
		fmt.Errorf("job x: %w", jobs.ErrProtocolViolation):   http.StatusConflict,
		posts.ErrNotResettable:                               http.StatusConflict,
		fmt.Errorf("%w: 2 GiB is over", storage.ErrTooLarge): http.StatusRequestEntityTooLarge,
		storage.ErrContentType:                               http.StatusUnsupportedMediaType,
		storage.ErrNotConfigured:                             http.StatusServiceUnavailable,
		errors.New("connection reset"):                       http.StatusInternalServerError,
		&jobs.DuplicateActiveJobError{Existing: &jobs.Job{}}: http.StatusInternalServerError,
	}
	for err, want := range cases {
		require.Equal(t, want, StatusFor(err), err.Error())
	}
}
