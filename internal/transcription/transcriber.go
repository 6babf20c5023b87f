package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"thirdcoast.systems/carrot/internal/metrics"
	"thirdcoast.systems/carrot/internal/posts"
	"thirdcoast.systems/carrot/internal/tracing"
)

type Config struct {
	// AttemptTimeout bounds each backend call.
	AttemptTimeout time.Duration
	// RetryDelay is the pause before the single retry of a transient failure.
	RetryDelay time.Duration
}

type Transcriber struct {
	posts   posts.Store
	backend Backend
	cfg     Config

	wg sync.WaitGroup
}

func New(store posts.Store, backend Backend, cfg Config) *Transcriber {
	if backend == nil {
		backend = NoneBackend{}
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 2 * time.Minute
	}
	return &Transcriber{posts: store, backend: backend, cfg: cfg}
}

// Trigger starts a transcription attempt for the post and returns without
// waiting for the backend. When mediaURL is empty the post's own audio or
// video URL is used. If the post's transcription is already processing or
// terminal nothing is submitted and the current post is returned with
// started=false.
func (t *Transcriber) Trigger(ctx context.Context, postID, mediaURL, mediaType string) (*posts.Post, bool, error) {
	if mediaURL == "" {
		p, err := t.posts.Get(ctx, postID)
		if err != nil {
			return nil, false, err
		}
		mediaURL, mediaType = p.MediaURL()
		if mediaURL == "" {
			return p, false, ErrNoMedia
		}
	}
	if mediaType == "" {
		mediaType = "video"
	}

	p, started, err := t.posts.BeginTranscription(ctx, postID)
	if err != nil {
		return nil, false, fmt.Errorf("begin transcription: %w", err)
	}
	if !started {
		slog.Debug("transcription already in progress or finished", "post_id", postID, "status", p.TranscriptionStatus)
		return p, false, nil
	}

	req := Request{PostID: postID, MediaURL: mediaURL, MediaType: mediaType}
	runCtx := context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(runCtx, p.TranscriptionAttempt, req)
	}()
	return p, true, nil
}

// Wait blocks until every running attempt has recorded its outcome or ctx
// is done.
func (t *Transcriber) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transcriber) run(ctx context.Context, attempt int, req Request) {
	metrics.InFlightTranscriptions.Inc()
	defer metrics.InFlightTranscriptions.Dec()

	ctx, span := tracing.Start(ctx, "transcription.attempt",
		attribute.String("post.id", req.PostID),
		attribute.String("transcription.backend", t.backend.Name()),
		attribute.Int("transcription.attempt", attempt),
	)

	text, err := t.call(ctx, req)
	if err != nil && IsTransient(err) {
		slog.Warn("transcription backend transient failure, retrying", "post_id", req.PostID, "error", err)
		time.Sleep(t.cfg.RetryDelay)
		text, err = t.call(ctx, req)
	}
	tracing.End(span, err)

	status := posts.TranscriptionCompleted
	if err == nil {
		text = Cleanup(text)
	} else {
		slog.Warn("transcription failed", "post_id", req.PostID, "backend", t.backend.Name(), "error", err)
		status = posts.TranscriptionFailed
		text = fallbackText(err)
	}
	metrics.TranscriptionsTotal.WithLabelValues(t.backend.Name(), string(status)).Inc()

	if _, err := t.posts.FinishTranscription(ctx, req.PostID, attempt, status, text); err != nil {
		if errors.Is(err, posts.ErrStaleAttempt) {
			slog.Info("transcription attempt superseded, result dropped", "post_id", req.PostID, "attempt", attempt)
			return
		}
		slog.Error("failed to record transcription", "post_id", req.PostID, "error", err)
		return
	}
	slog.Info("transcription finished", "post_id", req.PostID, "status", status)
}

func (t *Transcriber) call(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.AttemptTimeout)
	defer cancel()

	start := time.Now()
	text, err := t.backend.Transcribe(ctx, req)
	metrics.TranscriptionBackendDuration.WithLabelValues(t.backend.Name()).Observe(time.Since(start).Seconds())
	if err != nil && ctx.Err() != nil && !IsTransient(err) {
		// A backend that ignores its deadline still counts as a timeout.
		err = &BackendError{Backend: t.backend.Name(), Message: "timed out", Transient: true, Err: ctx.Err()}
	}
	return text, err
}
