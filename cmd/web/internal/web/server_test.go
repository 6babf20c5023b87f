package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"thirdcoast.systems/carrot/cmd/web/auth"
	"thirdcoast.systems/carrot/internal/dispatch"
	"thirdcoast.systems/carrot/internal/dispatch/dispatchtest"
	"thirdcoast.systems/carrot/internal/ingest"
	"thirdcoast.systems/carrot/internal/jobs"
	"thirdcoast.systems/carrot/internal/media"
	"thirdcoast.systems/carrot/internal/posts"
	"thirdcoast.systems/carrot/internal/storage/storagetest"
	"thirdcoast.systems/carrot/internal/transcription"
)

const callbackSecret = "0123456789abcdef"

type echoBackend struct{ text string }

func (echoBackend) Name() string { return "echo" }

func (b echoBackend) Transcribe(ctx context.Context, req transcription.Request) (string, error) {
	return b.text, nil
}

type testServer struct {
	t           *testing.T
	ws          *Webserver
	sm          *auth.SessionManager
	posts       *posts.MemoryStore
	dispatcher  *dispatchtest.Recorder
	transcriber *transcription.Transcriber
	cookies     map[string]*http.Cookie
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		t:          t,
		sm:         auth.NewSessionManager("test-secret"),
		posts:      posts.NewMemoryStore(),
		dispatcher: dispatchtest.New(),
		cookies:    map[string]*http.Cookie{},
	}
	jobStore := jobs.NewMemoryStore()
	blobs := storagetest.New()
	ts.transcriber = transcription.New(ts.posts, echoBackend{text: "hello there"}, transcription.Config{})
	manager := media.NewManager(media.NewMemoryStore(), jobStore, blobs, ts.dispatcher, media.Config{
		VariantCallbackURL: "https://app.example/api/variants/callback",
	})
	orch := ingest.New(ingest.Deps{
		Jobs:        jobStore,
		Posts:       ts.posts,
		Media:       manager,
		Transcriber: ts.transcriber,
		Blobs:       blobs,
		Dispatcher:  ts.dispatcher,
	}, ingest.Config{
		CallbackURL:    "https://app.example/api/ingest/callback",
		CallbackSecret: callbackSecret,
	})

	ws, err := NewWebserver(orch, ts.sm)
	require.NoError(t, err)
	ts.ws = ws

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, orch.Wait(ctx))
		require.NoError(t, ts.transcriber.Wait(ctx))
	})
	return ts
}

// login returns a session cookie for userID signed like the account
// service would.
func (ts *testServer) login(userID string) *http.Cookie {
	if c, ok := ts.cookies[userID]; ok {
		return c
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(ts.t, ts.sm.Issue(rec, req, userID, userID+"-name"))
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionName {
			ts.cookies[userID] = c
			return c
		}
	}
	ts.t.Fatal("no session cookie issued")
	return nil
}

// do sends a request as userID (anonymous when empty) and decodes a JSON
// response into out when out is non-nil.
func (ts *testServer) do(method, path, userID string, body any, out any, headers ...string) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	if userID != "" {
		req.AddCookie(ts.login(userID))
	}
	rec := httptest.NewRecorder()
	ts.ws.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

type ingestResponse struct {
	JobID        string    `json:"jobId"`
	Deduplicated bool      `json:"deduplicated"`
	Job          *jobs.Job `json:"job"`
}

type callbackResponse struct {
	OK         bool      `json:"ok"`
	Job        *jobs.Job `json:"job"`
	Idempotent bool      `json:"idempotent"`
	Error      string    `json:"error"`
}

func (ts *testServer) ingest(userID, url, postID string) ingestResponse {
	ts.t.Helper()
	var res ingestResponse
	rec := ts.do(http.MethodPost, "/api/ingest", userID, map[string]string{"url": url, "postId": postID}, &res)
	require.Contains(ts.t, []int{http.StatusCreated, http.StatusOK}, rec.Code, rec.Body.String())
	return res
}

func (ts *testServer) complete(jobID, mediaURL string) callbackResponse {
	ts.t.Helper()
	var res callbackResponse
	rec := ts.do(http.MethodPost, "/api/ingest/callback", "", map[string]any{
		"jobId":    jobID,
		"status":   "completed",
		"mediaUrl": mediaURL,
		"title":    "Never Gonna",
		"secret":   callbackSecret,
	}, &res)
	require.Equal(ts.t, http.StatusOK, rec.Code, rec.Body.String())
	return res
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/healthz", "", nil, nil).Code)

	rec := ts.do(http.MethodGet, "/metrics", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestIngestRequiresSession(t *testing.T) {
	ts := newTestServer(t)
	var body map[string]string
	rec := ts.do(http.MethodPost, "/api/ingest", "", map[string]string{"url": "https://youtu.be/dQw4w9WgXcQ"}, &body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthorized", body["error"])
}

func TestIngestDeduplicates(t *testing.T) {
	ts := newTestServer(t)

	var first ingestResponse
	rec := ts.do(http.MethodPost, "/api/ingest", "u1", map[string]string{"url": "https://youtu.be/dQw4w9WgXcQ"}, &first)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.False(t, first.Deduplicated)
	require.Equal(t, jobs.StatusQueued, first.Job.Status)
	require.Equal(t, first.Job.ID, first.JobID)

	var second ingestResponse
	rec = ts.do(http.MethodPost, "/api/ingest", "u1", map[string]string{"url": "https://www.youtube.com/watch?v=dQw4w9WgXcQ&utm_source=x"}, &second)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, second.Deduplicated)
	require.Equal(t, first.JobID, second.JobID)

	var bad map[string]string
	rec = ts.do(http.MethodPost, "/api/ingest", "u1", map[string]string{"url": "https://vimeo.com/1234"}, &bad)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotEmpty(t, bad["error"])

	rec = ts.do(http.MethodPost, "/api/ingest", "u1", map[string]string{"url": " "}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobStatusIsOwnerOnly(t *testing.T) {
	ts := newTestServer(t)
	res := ts.ingest("u1", "https://youtu.be/dQw4w9WgXcQ", "")

	var job jobs.Job
	rec := ts.do(http.MethodGet, "/api/ingest/jobs/"+res.JobID, "u1", nil, &job)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, res.JobID, job.ID)

	rec = ts.do(http.MethodGet, "/api/ingest/jobs/"+res.JobID, "u2", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, "/api/ingest/jobs/not-a-uuid", "u1", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackProtocol(t *testing.T) {
	ts := newTestServer(t)
	res := ts.ingest("u1", "https://youtu.be/dQw4w9WgXcQ", "")

	var health map[string]bool
	rec := ts.do(http.MethodGet, "/api/ingest/callback", "", nil, &health)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, health["ok"])
	require.True(t, health["hasSecret"])

	rec = ts.do(http.MethodPost, "/api/ingest/callback", "", map[string]any{"jobId": res.JobID, "status": "processing", "secret": "wrong"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var progress callbackResponse
	rec = ts.do(http.MethodPost, "/api/ingest/callback", "", map[string]any{"jobId": res.JobID, "status": "processing", "progress": 40}, &progress,
		"x-ingest-secret", callbackSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, jobs.StatusProcessing, progress.Job.Status)
	require.Equal(t, 40, progress.Job.Progress)

	rec = ts.do(http.MethodPost, "/api/ingest/callback", "", map[string]any{"jobId": res.JobID, "status": "paused"}, nil,
		"x-ingest-callback-secret", callbackSecret)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/api/ingest/callback", "", map[string]any{"jobId": "0190f7a2-0000-7000-8000-000000000000", "status": "failed", "secret": callbackSecret}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	done := ts.complete(res.JobID, "https://cdn.example/rick.mp4")
	require.True(t, done.OK)
	require.False(t, done.Idempotent)
	require.Equal(t, jobs.StatusCompleted, done.Job.Status)

	again := ts.complete(res.JobID, "https://cdn.example/rick.mp4")
	require.True(t, again.Idempotent)

	var conflict callbackResponse
	rec = ts.do(http.MethodPost, "/api/ingest/callback", "", map[string]any{"jobId": res.JobID, "status": "failed", "error": "boom", "secret": callbackSecret}, &conflict)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "protocol violation", conflict.Error)

	var job jobs.Job
	ts.do(http.MethodGet, "/api/ingest/jobs/"+res.JobID, "u1", nil, &job)
	require.Equal(t, jobs.StatusCompleted, job.Status)
	require.Empty(t, job.Error)
}

func TestStreamWebhook(t *testing.T) {
	ts := newTestServer(t)
	res := ts.ingest("u1", "https://youtu.be/dQw4w9WgXcQ", "")
	rec := ts.do(http.MethodPost, "/api/ingest/callback", "", map[string]any{
		"jobId": res.JobID, "status": "completed", "videoUrl": "https://cdn.example/rick.mp4", "cfUid": "cf-9", "secret": callbackSecret,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, "/api/stream/webhook", "", map[string]string{"uid": "cf-9", "status": "ready"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]any
	rec = ts.do(http.MethodPost, "/api/stream/webhook", "", map[string]string{"uid": "cf-9", "status": "ready"}, &body, "x-ingest-secret", callbackSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, body["jobs"])
	require.EqualValues(t, 1, body["assets"])
}

func TestTranscriptionEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var post posts.Post
	rec := ts.do(http.MethodPost, "/api/posts", "u1", nil, &post)
	require.Equal(t, http.StatusCreated, rec.Code)

	var status map[string]any
	rec = ts.do(http.MethodGet, "/api/posts/"+post.ID+"/transcription", "u1", nil, &status)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "none", status["status"])
	require.Nil(t, status["transcription"])

	rec = ts.do(http.MethodGet, "/api/posts/"+post.ID+"/transcription", "u2", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Nothing attached yet.
	rec = ts.do(http.MethodPost, "/api/posts/"+post.ID+"/transcription", "u1", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	res := ts.ingest("u1", "https://youtu.be/dQw4w9WgXcQ", post.ID)
	ts.complete(res.JobID, "https://cdn.example/rick.mp4")
	require.NoError(t, ts.transcriber.Wait(context.Background()))

	rec = ts.do(http.MethodGet, "/api/posts/"+post.ID+"/transcription", "u1", nil, &status)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "completed", status["status"])
	require.Equal(t, "Hello there.", status["transcription"])

	// Finished transcriptions are not restarted by a trigger.
	rec = ts.do(http.MethodPost, "/api/posts/"+post.ID+"/transcription", "u1", nil, &status)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, status["started"])

	rec = ts.do(http.MethodPost, "/api/posts/"+post.ID+"/transcription/reset", "u1", nil, &status)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "pending", status["status"])

	rec = ts.do(http.MethodPost, "/api/posts/"+post.ID+"/transcription/reset", "u1", nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(http.MethodPost, "/api/posts/"+post.ID+"/transcription", "u1", map[string]string{"mediaUrl": "https://cdn.example/rick.m4a", "mediaType": "audio"}, &status)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, true, status["started"])
	require.NoError(t, ts.transcriber.Wait(context.Background()))
}

func TestMediaLibrary(t *testing.T) {
	ts := newTestServer(t)
	res := ts.ingest("u1", "https://youtu.be/dQw4w9WgXcQ", "")
	ts.complete(res.JobID, "https://cdn.example/rick.mp4")

	var items []*media.Asset
	rec := ts.do(http.MethodGet, "/api/media?sort=az&limit=500", "u1", nil, &items)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("x-media-error"))
	require.Len(t, items, 1)
	asset := items[0]
	require.Equal(t, res.JobID, asset.JobID)

	rec = ts.do(http.MethodGet, "/api/media", "u2", nil, &items)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, items)

	rec = ts.do(http.MethodPatch, "/api/media/"+asset.ID, "u2", map[string]any{"hidden": true}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	var updated media.Asset
	rec = ts.do(http.MethodPatch, "/api/media/"+asset.ID, "u1", map[string]any{"title": " Rick ", "labels": []string{"#Music", "music", "80s"}}, &updated)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Rick", updated.Title)
	require.Equal(t, []string{"music", "80s"}, updated.Labels)

	rec = ts.do(http.MethodGet, "/api/media?q=%2380s", "u1", nil, &items)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, items, 1)

	var backfill map[string]int
	rec = ts.do(http.MethodPost, "/api/media/backfill?hours=1000", "u1", nil, &backfill)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 168, backfill["hours"])
	require.Equal(t, 1, backfill["examined"])
	require.Equal(t, 0, backfill["created"])
}

func TestUploads(t *testing.T) {
	ts := newTestServer(t)

	var signed media.SignedUpload
	rec := ts.do(http.MethodPost, "/api/uploads/sign", "u1", map[string]any{"filename": "cat.png", "contentType": "image/png", "size": 1024}, &signed)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "PUT", signed.Upload.Method)
	require.NotEmpty(t, signed.ReadURL)

	rec = ts.do(http.MethodPost, "/api/uploads/sign", "u1", map[string]any{"filename": "huge.mp4", "contentType": "video/mp4", "size": 1 << 40}, nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	rec = ts.do(http.MethodPost, "/api/uploads/sign", "u1", map[string]any{"filename": "a.exe", "contentType": "application/octet-stream", "size": 10}, nil)
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	var asset media.Asset
	rec = ts.do(http.MethodPost, "/api/media", "u1", map[string]any{"key": signed.Key, "contentType": "image/png", "title": "cat"}, &asset)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, media.TypeImage, asset.Type)
	require.Equal(t, media.SourceUpload, asset.Source)

	// Another user's upload area is off limits.
	rec = ts.do(http.MethodPost, "/api/media", "u2", map[string]any{"key": signed.Key, "contentType": "image/png"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVariantLifecycle(t *testing.T) {
	ts := newTestServer(t)
	res := ts.ingest("u1", "https://youtu.be/dQw4w9WgXcQ", "")
	ts.complete(res.JobID, "https://cdn.example/rick.mp4")

	var items []*media.Asset
	ts.do(http.MethodGet, "/api/media", "u1", nil, &items)
	require.Len(t, items, 1)
	assetPath := "/api/media/" + items[0].ID + "/variants"

	rec := ts.do(http.MethodPost, assetPath, "u1", map[string]any{"startSec": 5, "endSec": 2}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(http.MethodPost, assetPath, "u1", map[string]any{"startSec": 1}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(http.MethodPost, assetPath, "u2", map[string]any{"startSec": 0, "endSec": 5}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	var v media.Variant
	rec = ts.do(http.MethodPost, assetPath, "u1", map[string]any{"startSec": 0, "endSec": 5}, &v)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, media.VariantPending, v.Status)

	var trims []*dispatch.TrimMessage
	for _, msg := range ts.dispatcher.Messages() {
		if m, ok := msg.(*dispatch.TrimMessage); ok {
			trims = append(trims, m)
		}
	}
	require.Len(t, trims, 1)
	require.Equal(t, v.ID, trims[0].VariantID)

	var listed []*media.Variant
	rec = ts.do(http.MethodGet, assetPath, "u1", nil, &listed)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, listed, 1)

	var deleted map[string]any
	rec = ts.do(http.MethodDelete, "/api/variants/"+v.ID, "u1", nil, &deleted)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "cancelled", deleted["status"])
	require.Equal(t, false, deleted["deleted"])

	// The worker's late report cleans up the cancelled variant.
	rec = ts.do(http.MethodPost, "/api/variants/callback", "", map[string]any{
		"variantId": v.ID, "status": "ready", "outputUrl": "https://cdn.example/clip.mp4", "secret": callbackSecret,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/api/variants/"+v.ID, "u1", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
