package posts_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"thirdcoast.systems/carrot/internal/db/dbtest"
	"thirdcoast.systems/carrot/internal/posts"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func() posts.Store { return posts.NewMemoryStore() })
}

func TestPostgresStore(t *testing.T) {
	dbc := dbtest.New(t)
	runStoreSuite(t, func() posts.Store { return posts.NewPostgresStore(dbc) })
}

func runStoreSuite(t *testing.T, newStore func() posts.Store) {
	ctx := context.Background()

	t.Run("AttachSetsPendingOnce", func(t *testing.T) {
		s := newStore()
		p, err := s.Create(ctx, "user-1")
		require.NoError(t, err)
		require.Equal(t, posts.TranscriptionNone, p.TranscriptionStatus)

		p, err = s.AttachMedia(ctx, p.ID, posts.Media{VideoURL: "https://cdn.example/v.mp4"})
		require.NoError(t, err)
		require.Equal(t, posts.TranscriptionPending, p.TranscriptionStatus)
		require.Equal(t, "https://cdn.example/v.mp4", p.VideoURL)

		_, started, err := s.BeginTranscription(ctx, p.ID)
		require.NoError(t, err)
		require.True(t, started)

		// Re-attaching (a repeated completion callback) must not regress the status.
		p, err = s.AttachMedia(ctx, p.ID, posts.Media{ThumbnailURL: "https://cdn.example/t.jpg"})
		require.NoError(t, err)
		require.Equal(t, posts.TranscriptionProcessing, p.TranscriptionStatus)
		require.Equal(t, "https://cdn.example/v.mp4", p.VideoURL)
	})

	t.Run("AttachUnknown", func(t *testing.T) {
		_, err := newStore().AttachMedia(ctx, "missing", posts.Media{VideoURL: "x"})
		require.ErrorIs(t, err, posts.ErrNotFound)
	})

	t.Run("BeginIsSingleFlight", func(t *testing.T) {
		s := newStore()
		p, err := s.Create(ctx, "user-1")
		require.NoError(t, err)

		first, started, err := s.BeginTranscription(ctx, p.ID)
		require.NoError(t, err)
		require.True(t, started)
		require.Equal(t, 1, first.TranscriptionAttempt)
		require.Equal(t, posts.TranscriptionProcessing, first.TranscriptionStatus)

		second, started, err := s.BeginTranscription(ctx, p.ID)
		require.NoError(t, err)
		require.False(t, started)
		require.Equal(t, posts.TranscriptionProcessing, second.TranscriptionStatus)
		require.Equal(t, 1, second.TranscriptionAttempt)
	})

	t.Run("FinishRequiresCurrentAttempt", func(t *testing.T) {
		s := newStore()
		p, err := s.Create(ctx, "user-1")
		require.NoError(t, err)
		p, _, err = s.BeginTranscription(ctx, p.ID)
		require.NoError(t, err)

		_, err = s.FinishTranscription(ctx, p.ID, p.TranscriptionAttempt+1, posts.TranscriptionCompleted, "Hello.")
		require.ErrorIs(t, err, posts.ErrStaleAttempt)

		done, err := s.FinishTranscription(ctx, p.ID, p.TranscriptionAttempt, posts.TranscriptionCompleted, "Hello.")
		require.NoError(t, err)
		require.Equal(t, posts.TranscriptionCompleted, done.TranscriptionStatus)
		require.Equal(t, "Hello.", *done.AudioTranscription)

		_, err = s.FinishTranscription(ctx, p.ID, p.TranscriptionAttempt, posts.TranscriptionFailed, "nope")
		require.ErrorIs(t, err, posts.ErrStaleAttempt)

		// Terminal transcriptions do not restart without a reset.
		same, started, err := s.BeginTranscription(ctx, p.ID)
		require.NoError(t, err)
		require.False(t, started)
		require.Equal(t, posts.TranscriptionCompleted, same.TranscriptionStatus)
	})

	t.Run("ResetOnlyFromTerminal", func(t *testing.T) {
		s := newStore()
		p, err := s.Create(ctx, "user-1")
		require.NoError(t, err)

		_, err = s.ResetTranscription(ctx, p.ID)
		require.ErrorIs(t, err, posts.ErrNotResettable)

		p, _, err = s.BeginTranscription(ctx, p.ID)
		require.NoError(t, err)
		_, err = s.ResetTranscription(ctx, p.ID)
		require.ErrorIs(t, err, posts.ErrNotResettable)

		_, err = s.FinishTranscription(ctx, p.ID, p.TranscriptionAttempt, posts.TranscriptionFailed, "Transcription failed: bad media")
		require.NoError(t, err)

		reset, err := s.ResetTranscription(ctx, p.ID)
		require.NoError(t, err)
		require.Equal(t, posts.TranscriptionPending, reset.TranscriptionStatus)
		require.Nil(t, reset.AudioTranscription)

		again, started, err := s.BeginTranscription(ctx, p.ID)
		require.NoError(t, err)
		require.True(t, started)
		require.Equal(t, 2, again.TranscriptionAttempt)

		_, err = s.ResetTranscription(ctx, "missing")
		require.ErrorIs(t, err, posts.ErrNotFound)
	})

	t.Run("StaleSweepFailsWithFallback", func(t *testing.T) {
		s := newStore()
		p, err := s.Create(ctx, "user-1")
		require.NoError(t, err)
		p, _, err = s.BeginTranscription(ctx, p.ID)
		require.NoError(t, err)

		swept, err := s.FailStaleTranscriptions(ctx, time.Now().Add(time.Hour), "Transcription unavailable")
		require.NoError(t, err)
		var found *posts.Post
		for _, sp := range swept {
			if sp.ID == p.ID {
				found = sp
			}
		}
		require.NotNil(t, found)
		require.Equal(t, posts.TranscriptionFailed, found.TranscriptionStatus)
		require.Equal(t, "Transcription unavailable", *found.AudioTranscription)

		// The attempt that was swept can no longer write its result.
		_, err = s.FinishTranscription(ctx, p.ID, p.TranscriptionAttempt, posts.TranscriptionCompleted, "Late.")
		require.ErrorIs(t, err, posts.ErrStaleAttempt)
	})
}
