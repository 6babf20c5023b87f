package ingest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"thirdcoast.systems/carrot/internal/dispatch"
	"thirdcoast.systems/carrot/internal/dispatch/dispatchtest"
	"thirdcoast.systems/carrot/internal/ingest"
	"thirdcoast.systems/carrot/internal/jobs"
	"thirdcoast.systems/carrot/internal/media"
	"thirdcoast.systems/carrot/internal/posts"
	"thirdcoast.systems/carrot/internal/storage/storagetest"
	"thirdcoast.systems/carrot/internal/transcription"
	"thirdcoast.systems/carrot/internal/urlnorm"
)

const secret = "s3cret"

type echoBackend struct{ text string }

func (echoBackend) Name() string { return "echo" }

func (b echoBackend) Transcribe(ctx context.Context, req transcription.Request) (string, error) {
	return b.text, nil
}

type fixture struct {
	jobs        *jobs.MemoryStore
	posts       *posts.MemoryStore
	media       *media.MemoryStore
	dispatcher  *dispatchtest.Recorder
	transcriber *transcription.Transcriber
	o           *ingest.Orchestrator
}

func newFixture(t *testing.T, dispatcher *dispatchtest.Recorder) *fixture {
	t.Helper()
	f := &fixture{
		jobs:       jobs.NewMemoryStore(),
		posts:      posts.NewMemoryStore(),
		media:      media.NewMemoryStore(),
		dispatcher: dispatcher,
	}
	blobs := storagetest.New()
	f.transcriber = transcription.New(f.posts, echoBackend{text: "i think it works"}, transcription.Config{})
	manager := media.NewManager(f.media, f.jobs, blobs, dispatcher, media.Config{})
	f.o = ingest.New(ingest.Deps{
		Jobs:        f.jobs,
		Posts:       f.posts,
		Media:       manager,
		Transcriber: f.transcriber,
		Blobs:       blobs,
		Dispatcher:  dispatcher,
	}, ingest.Config{
		CallbackURL:    "https://app.example/api/ingest/callback",
		CallbackSecret: secret,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, f.o.Wait(ctx))
		require.NoError(t, f.transcriber.Wait(ctx))
	})
	return f
}

func (f *fixture) ingest(t *testing.T, userID, url string) *ingest.Result {
	t.Helper()
	res, err := f.o.Ingest(context.Background(), ingest.Request{UserID: userID, URL: url})
	require.NoError(t, err)
	return res
}

func (f *fixture) waitDispatched(t *testing.T) dispatch.Message {
	t.Helper()
	select {
	case msg := <-f.dispatcher.Sent():
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("nothing was dispatched")
		return nil
	}
}

func (f *fixture) callback(t *testing.T, cb ingest.Callback) (*ingest.CallbackResult, error) {
	t.Helper()
	if cb.Secret == "" {
		cb.Secret = secret
	}
	return f.o.HandleCallback(context.Background(), cb)
}

func TestIngestDeduplicatesEquivalentURLs(t *testing.T) {
	f := newFixture(t, dispatchtest.New())

	first := f.ingest(t, "u1", "https://youtu.be/ABC123")
	require.False(t, first.Deduplicated)
	require.Equal(t, jobs.StatusQueued, first.Job.Status)

	second := f.ingest(t, "u1", "https://www.youtube.com/watch?v=ABC123&feature=share")
	require.True(t, second.Deduplicated)
	require.Equal(t, first.Job.ID, second.Job.ID)

	// Another user gets their own job.
	other := f.ingest(t, "u2", "https://youtu.be/ABC123")
	require.False(t, other.Deduplicated)
	require.NotEqual(t, first.Job.ID, other.Job.ID)

	f.waitDispatched(t)
	f.waitDispatched(t)
	require.NoError(t, f.o.Wait(context.Background()))
	require.Len(t, f.dispatcher.Messages(), 2)
}

func TestIngestAfterTerminalCreatesNewJob(t *testing.T) {
	f := newFixture(t, dispatchtest.New())
	first := f.ingest(t, "u1", "https://youtu.be/ABC123")
	_, err := f.callback(t, ingest.Callback{JobID: first.Job.ID, Status: ingest.CallbackFailed, Error: "geo blocked"})
	require.NoError(t, err)

	again := f.ingest(t, "u1", "https://youtu.be/ABC123")
	require.False(t, again.Deduplicated)
	require.NotEqual(t, first.Job.ID, again.Job.ID)
}

func TestIngestDispatchPayload(t *testing.T) {
	f := newFixture(t, dispatchtest.New())
	res := f.ingest(t, "u1", "https://youtu.be/ABC123")

	msg, ok := f.waitDispatched(t).(*dispatch.IngestMessage)
	require.True(t, ok)
	require.Equal(t, res.Job.ID, msg.JobID)
	require.Equal(t, "https://www.youtube.com/watch?v=ABC123", msg.URL)
	require.Equal(t, "youtube", msg.SourceType)
	require.Equal(t, urlnorm.DedupKey(msg.URL), msg.DedupKey)
	require.Equal(t, "https://app.example/api/ingest/callback", msg.CallbackURL)
	require.NotNil(t, msg.Upload)
	require.Equal(t, "ingest/u1/"+res.Job.ID+".mp4", msg.Upload.Key)

	require.NoError(t, f.o.Wait(context.Background()))
	job, err := f.jobs.Get(context.Background(), res.Job.ID)
	require.NoError(t, err)
	require.Equal(t, 1, job.DispatchAttempts)
}

func TestIngestRejectsUnsupportedSource(t *testing.T) {
	f := newFixture(t, dispatchtest.New())
	_, err := f.o.Ingest(context.Background(), ingest.Request{UserID: "u1", URL: "https://vimeo.com/123"})
	require.ErrorIs(t, err, urlnorm.ErrUnsupportedSource)
	require.Empty(t, f.dispatcher.Messages())
}

func TestIngestRequiresPostOwnership(t *testing.T) {
	f := newFixture(t, dispatchtest.New())
	p, err := f.posts.Create(context.Background(), "owner")
	require.NoError(t, err)

	_, err = f.o.Ingest(context.Background(), ingest.Request{UserID: "intruder", URL: "https://youtu.be/ABC123", PostID: p.ID})
	require.ErrorIs(t, err, posts.ErrNotFound)
}

func TestDispatchFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, dispatchtest.Failing(errors.New("connection refused")))
	res := f.ingest(t, "u1", "https://youtu.be/ABC123")
	require.Equal(t, jobs.StatusQueued, res.Job.Status)

	require.NoError(t, f.o.Wait(context.Background()))
	job, err := f.jobs.Get(context.Background(), res.Job.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusQueued, job.Status)
	require.Equal(t, 1, job.DispatchAttempts)
}

func TestJobIsOwnerOnly(t *testing.T) {
	f := newFixture(t, dispatchtest.New())
	res := f.ingest(t, "u1", "https://youtu.be/ABC123")

	got, err := f.o.Job(context.Background(), "u1", res.Job.ID)
	require.NoError(t, err)
	require.Equal(t, res.Job.ID, got.ID)

	_, err = f.o.Job(context.Background(), "u2", res.Job.ID)
	require.ErrorIs(t, err, jobs.ErrNotFound)
}
