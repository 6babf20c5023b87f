// Package posts stores the media and transcription fields of a post. The
// transcription status only moves forward:
//
//	null|pending -> processing -> {completed, failed}
//
// except through ResetTranscription, which returns a terminal transcription to
// pending.
package posts

import (
	"context"
	"errors"
	"time"
)

type TranscriptionStatus string

const (
	TranscriptionNone       TranscriptionStatus = ""
	TranscriptionPending    TranscriptionStatus = "pending"
	TranscriptionProcessing TranscriptionStatus = "processing"
	TranscriptionCompleted  TranscriptionStatus = "completed"
	TranscriptionFailed     TranscriptionStatus = "failed"
)

func (s TranscriptionStatus) Terminal() bool {
	return s == TranscriptionCompleted || s == TranscriptionFailed
}

var (
	ErrNotFound      = errors.New("post not found")
	ErrNotResettable = errors.New("transcription is not in a terminal state")
	// ErrStaleAttempt is returned when a transcription result arrives for an
	// attempt that is no longer the current processing one.
	ErrStaleAttempt = errors.New("stale transcription attempt")
)

type Post struct {
	ID                     string              `json:"id"`
	UserID                 string              `json:"userId"`
	AudioURL               string              `json:"audioUrl,omitempty"`
	VideoURL               string              `json:"videoUrl,omitempty"`
	ThumbnailURL           string              `json:"thumbnailUrl,omitempty"`
	TranscriptionStatus    TranscriptionStatus `json:"transcriptionStatus,omitempty"`
	AudioTranscription     *string             `json:"audioTranscription"`
	TranscriptionAttempt   int                 `json:"-"`
	TranscriptionStartedAt *time.Time          `json:"-"`
	CreatedAt              time.Time           `json:"createdAt"`
	UpdatedAt              time.Time           `json:"updatedAt"`
}

// MediaURL is the URL transcription should read, preferring audio.
func (p *Post) MediaURL() (url, mediaType string) {
	if p.AudioURL != "" {
		return p.AudioURL, "audio"
	}
	if p.VideoURL != "" {
		return p.VideoURL, "video"
	}
	return "", ""
}

// Media is the set of URLs attached to a post once ingestion completes. Empty
// fields leave the stored value unchanged.
type Media struct {
	VideoURL     string
	AudioURL     string
	ThumbnailURL string
}

type Store interface {
	Create(ctx context.Context, userID string) (*Post, error)
	Get(ctx context.Context, id string) (*Post, error)
	// AttachMedia stores media URLs and sets the transcription status to
	// pending when it was unset.
	AttachMedia(ctx context.Context, id string, m Media) (*Post, error)
	// BeginTranscription moves an unset or pending transcription to
	// processing and starts a new attempt. started is false, with the current
	// post, when the transcription is already processing or terminal.
	BeginTranscription(ctx context.Context, id string) (post *Post, started bool, err error)
	// FinishTranscription records a terminal outcome for attempt.
	FinishTranscription(ctx context.Context, id string, attempt int, status TranscriptionStatus, text string) (*Post, error)
	ResetTranscription(ctx context.Context, id string) (*Post, error)
	// FailStaleTranscriptions fails every transcription that has been
	// processing since before olderThan, storing fallback as its text.
	FailStaleTranscriptions(ctx context.Context, olderThan time.Time, fallback string) ([]*Post, error)
}
