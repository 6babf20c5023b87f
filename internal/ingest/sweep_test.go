package ingest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"thirdcoast.systems/carrot/internal/dispatch/dispatchtest"
	"thirdcoast.systems/carrot/internal/ingest"
	"thirdcoast.systems/carrot/internal/jobs"
	"thirdcoast.systems/carrot/internal/media"
	"thirdcoast.systems/carrot/internal/posts"
	"thirdcoast.systems/carrot/internal/transcription"
	"thirdcoast.systems/carrot/internal/urlnorm"
)

var sweepConfig = ingest.SweepConfig{
	RedispatchAfter:      time.Minute,
	MaxDispatchAttempts:  2,
	ProcessingCeiling:    time.Hour,
	TranscriptionCeiling: 10 * time.Minute,
	BackfillWindow:       24 * time.Hour,
}

// createAt inserts a queued job as if it had been created at the given time.
func createAt(t *testing.T, s *jobs.MemoryStore, at time.Time, userID, videoID string) *jobs.Job {
	t.Helper()
	s.Now = func() time.Time { return at }
	defer func() { s.Now = time.Now }()

	n, err := urlnorm.Normalize("https://youtu.be/" + videoID)
	require.NoError(t, err)
	j, err := s.Create(context.Background(), jobs.NewJob{
		UserID:        userID,
		SourceURL:     "https://youtu.be/" + videoID,
		NormalizedURL: n.NormalizedURL,
		SourceType:    n.SourceType,
	})
	require.NoError(t, err)
	return j
}

func TestSweepRedispatchesQueuedJobs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, dispatchtest.New())
	old := createAt(t, f.jobs, time.Now().Add(-5*time.Minute), "u1", "OLD1234")
	fresh := createAt(t, f.jobs, time.Now(), "u1", "NEW1234")

	require.NoError(t, f.o.Sweep(ctx, sweepConfig))

	msgs := f.dispatcher.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, old.ID, msgs[0].MessageID())

	job, err := f.jobs.Get(ctx, old.ID)
	require.NoError(t, err)
	require.Equal(t, 1, job.DispatchAttempts)
	require.Equal(t, jobs.StatusQueued, job.Status)

	job, err = f.jobs.Get(ctx, fresh.ID)
	require.NoError(t, err)
	require.Zero(t, job.DispatchAttempts)
}

func TestSweepFailsJobsTheWorkerNeverAccepts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, dispatchtest.Failing(errors.New("worker down")))
	past := time.Now().Add(-10 * time.Minute)
	j := createAt(t, f.jobs, past, "u1", "NEVER12")

	f.jobs.Now = func() time.Time { return past }
	require.NoError(t, f.jobs.RecordDispatch(ctx, j.ID))
	require.NoError(t, f.jobs.RecordDispatch(ctx, j.ID))
	f.jobs.Now = time.Now

	require.NoError(t, f.o.Sweep(ctx, sweepConfig))
	require.Empty(t, f.dispatcher.Messages())

	job, err := f.jobs.Get(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusFailed, job.Status)
	require.Equal(t, "worker never accepted the job", job.Error)
}

func TestSweepFailsStaleProcessingJobs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, dispatchtest.New())
	stale := createAt(t, f.jobs, time.Now(), "u1", "STALE12")
	live := createAt(t, f.jobs, time.Now(), "u1", "LIVE123")
	for _, id := range []string{stale.ID, live.ID} {
		_, err := f.callback(t, ingest.Callback{JobID: id, Status: ingest.CallbackProcessing})
		require.NoError(t, err)
	}
	f.jobs.Touch(stale.ID, time.Now().Add(-2*time.Hour))

	require.NoError(t, f.o.Sweep(ctx, sweepConfig))

	job, err := f.jobs.Get(ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusFailed, job.Status)
	require.Equal(t, "timed out while processing", job.Error)

	job, err = f.jobs.Get(ctx, live.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusProcessing, job.Status)

	// The worker finishing after the sweep gave up is a conflicting outcome.
	_, err = f.callback(t, ingest.Callback{JobID: stale.ID, Status: ingest.CallbackCompleted, MediaURL: "https://cdn.example/late.mp4"})
	require.ErrorIs(t, err, jobs.ErrProtocolViolation)
}

func TestSweepFailsStuckTranscriptions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, dispatchtest.New())
	p, err := f.posts.Create(ctx, "u1")
	require.NoError(t, err)
	_, err = f.posts.AttachMedia(ctx, p.ID, posts.Media{VideoURL: "https://cdn.example/v.mp4"})
	require.NoError(t, err)

	f.posts.Now = func() time.Time { return time.Now().Add(-time.Hour) }
	_, started, err := f.posts.BeginTranscription(ctx, p.ID)
	f.posts.Now = time.Now
	require.NoError(t, err)
	require.True(t, started)

	require.NoError(t, f.o.Sweep(ctx, sweepConfig))

	got, err := f.posts.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, posts.TranscriptionFailed, got.TranscriptionStatus)
	require.Equal(t, transcription.FallbackUnavailable, *got.AudioTranscription)
}

func TestSweepBackfillsMedia(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, dispatchtest.New())
	j := createAt(t, f.jobs, time.Now(), "u1", "BACK123")
	// Completed directly in the store, as if the completion side effects
	// never ran.
	_, _, err := f.jobs.Complete(ctx, j.ID, jobs.Result{MediaURL: "https://cdn.example/back.mp4"})
	require.NoError(t, err)

	require.NoError(t, f.o.Sweep(ctx, sweepConfig))
	require.NoError(t, f.o.Sweep(ctx, sweepConfig))

	items := f.o.Media.ListMedia(ctx, "u1", media.Filter{}).Items
	require.Len(t, items, 1)
	require.Equal(t, j.ID, items[0].JobID)
}
