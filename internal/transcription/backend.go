// Package transcription turns a post's media into text. A Transcriber moves
// the post's transcription status to processing, calls a Backend in the
// background, cleans up the returned text and records the outcome. Backend
// failures are never surfaced to the caller: they end as a failed status with
// a readable fallback text.
package transcription

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrBackendUnavailable = errors.New("transcription backend unavailable")
	ErrNotConfigured      = errors.New("no transcription backend configured")
	ErrNoMedia            = errors.New("post has no media to transcribe")
)

const (
	FallbackUnavailable   = "Transcription unavailable: the transcription service did not respond."
	FallbackNotConfigured = "Transcription unavailable: no transcription backend is configured."
	failedPrefix          = "Transcription failed: "
)

type Request struct {
	PostID    string `json:"postId"`
	MediaURL  string `json:"mediaUrl"`
	MediaType string `json:"mediaType"`
}

type Backend interface {
	Name() string
	// Transcribe returns the raw transcript. Failures should be reported as
	// *BackendError so the caller can tell transient from permanent ones.
	Transcribe(ctx context.Context, req Request) (string, error)
}

// BackendError is a failed backend call. Transient errors (5xx, timeouts,
// connection failures) are retried once; the rest are terminal.
type BackendError struct {
	Backend    string
	StatusCode int
	Message    string
	Transient  bool
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s backend: status %d: %s", e.Backend, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s backend: %s", e.Backend, e.Message)
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Is(target error) bool {
	return target == ErrBackendUnavailable && e.Transient
}

// IsTransient reports whether err is worth one more attempt.
func IsTransient(err error) bool {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// NoneBackend is used when no backend is configured. Every call fails
// permanently with ErrNotConfigured.
type NoneBackend struct{}

func (NoneBackend) Name() string { return "none" }

func (NoneBackend) Transcribe(context.Context, Request) (string, error) {
	return "", ErrNotConfigured
}

// fallbackText is the text stored for a failed transcription.
func fallbackText(err error) string {
	switch {
	case errors.Is(err, ErrNotConfigured):
		return FallbackNotConfigured
	case IsTransient(err):
		return FallbackUnavailable
	}
	var be *BackendError
	if errors.As(err, &be) && be.Message != "" {
		return failedPrefix + be.Message
	}
	return failedPrefix + err.Error()
}
