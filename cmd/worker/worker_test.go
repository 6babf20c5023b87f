package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"thirdcoast.systems/carrot/internal/dispatch"
	"thirdcoast.systems/carrot/internal/ingest"
	"thirdcoast.systems/carrot/internal/storage"
	"thirdcoast.systems/carrot/pkg/ffmpeg"
	"thirdcoast.systems/carrot/pkg/ytdlp"
)

const testSecret = "callback-secret-0123456789"

// orchestratorStub records callbacks and answers with a job status.
type orchestratorStub struct {
	mu       sync.Mutex
	bodies   []map[string]any
	statusOf func(body map[string]any) (int, string)
}

func (o *orchestratorStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	o.mu.Lock()
	o.bodies = append(o.bodies, body)
	o.mu.Unlock()

	code, status := http.StatusOK, ""
	if s, ok := body["status"].(string); ok {
		status = s
	}
	if o.statusOf != nil {
		code, status = o.statusOf(body)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": code == http.StatusOK, "job": map[string]any{"status": status}})
}

func (o *orchestratorStub) calls() []map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]map[string]any(nil), o.bodies...)
}

// blobStub accepts signed PUT and POST-policy uploads.
type blobStub struct {
	mu      sync.Mutex
	method  string
	path    string
	body    string
	headers http.Header
	fields  map[string]string
}

func (b *blobStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.method = r.Method
	b.path = r.URL.Path
	b.headers = r.Header.Clone()
	if r.Method == http.MethodPost {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b.fields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			b.fields[k] = v[0]
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		b.body = string(data)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	data, _ := io.ReadAll(r.Body)
	b.body = string(data)
	w.WriteHeader(http.StatusOK)
}

type fakeDownloader struct {
	err      error
	progress []int
	called   bool

	// noInfoJSON leaves Download without metadata so GetInfo is consulted.
	noInfoJSON bool
	lookups    int
}

var fakeInfo = &ytdlp.Info{Title: "A clip", Uploader: "someone", Thumbnail: "https://i.ytimg.com/vi/abc/hq.jpg", Duration: 12, Width: 640, Height: 360}

func (f *fakeDownloader) GetInfo(ctx context.Context, url string) (*ytdlp.Info, error) {
	f.lookups++
	return fakeInfo, nil
}

func (f *fakeDownloader) Download(ctx context.Context, url, destDir string, onProgress func(pct int)) (*ytdlp.Download, error) {
	f.called = true
	if f.err != nil {
		return nil, f.err
	}
	for _, p := range f.progress {
		onProgress(p)
	}
	path := filepath.Join(destDir, "media.mp4")
	if err := os.WriteFile(path, []byte("video-bytes"), 0o644); err != nil {
		return nil, err
	}
	dl := &ytdlp.Download{MediaPath: path, Info: fakeInfo}
	if f.noInfoJSON {
		dl.Info = nil
	}
	return dl, nil
}

func newTestRunner(t *testing.T, dl downloader) *runner {
	t.Helper()
	r := newRunner(dl, testSecret, t.TempDir())
	r.callback.backoff = 0
	r.probe = func(ctx context.Context, path string) (*ffmpeg.ProbeResult, error) {
		return nil, errors.New("ffprobe unavailable")
	}
	return r
}

func putTarget(blobURL, key string, maxBytes int64) *storage.WriteTarget {
	return &storage.WriteTarget{
		URL:         blobURL + "/bucket/" + key + "?X-Goog-Signature=abc",
		Method:      http.MethodPut,
		Headers:     map[string]string{"Content-Type": "video/mp4", "x-goog-content-length-range": "0,1000"},
		Key:         key,
		MaxBytes:    maxBytes,
		ContentType: "video/mp4",
	}
}

func TestIngestReportsProgressAndCompletion(t *testing.T) {
	orch := &orchestratorStub{}
	orchSrv := httptest.NewServer(orch)
	defer orchSrv.Close()
	blobs := &blobStub{}
	blobSrv := httptest.NewServer(blobs)
	defer blobSrv.Close()

	dl := &fakeDownloader{progress: []int{5, 50, 52, 100}}
	r := newTestRunner(t, dl)

	err := r.Handle(context.Background(), &dispatch.IngestMessage{
		JobID:       "job-1",
		URL:         "https://youtu.be/abc",
		SourceType:  "youtube",
		CallbackURL: orchSrv.URL + "/api/ingest/callback",
		Upload:      putTarget(blobSrv.URL, "ingest/job-1.mp4", 1000),
	})
	require.NoError(t, err)

	calls := orch.calls()
	require.Len(t, calls, 4)
	for _, c := range calls {
		require.Equal(t, testSecret, c["secret"])
		require.Equal(t, "job-1", c["jobId"])
	}
	require.Equal(t, "processing", calls[0]["status"])
	require.EqualValues(t, 0, calls[0]["progress"])
	require.EqualValues(t, 45, calls[1]["progress"])
	require.EqualValues(t, 90, calls[2]["progress"])

	done := calls[3]
	require.Equal(t, "completed", done["status"])
	require.Equal(t, blobSrv.URL+"/bucket/ingest/job-1.mp4", done["mediaUrl"])
	require.Equal(t, "A clip", done["title"])
	require.Equal(t, "someone", done["channel"])
	require.EqualValues(t, 12, done["durationSec"])
	require.EqualValues(t, 640, done["width"])

	require.Equal(t, http.MethodPut, blobs.method)
	require.Equal(t, "video-bytes", blobs.body)
	require.Equal(t, "video/mp4", blobs.headers.Get("Content-Type"))
	require.Equal(t, "0,1000", blobs.headers.Get("x-goog-content-length-range"))

	entries, err := os.ReadDir(filepath.Join(r.workDir, "jobs"))
	require.NoError(t, err)
	require.Empty(t, entries, "work dir should be cleaned up")
	require.Zero(t, dl.lookups)
}

func TestIngestLooksUpMetadataWhenDownloadHasNone(t *testing.T) {
	orch := &orchestratorStub{}
	orchSrv := httptest.NewServer(orch)
	defer orchSrv.Close()
	blobSrv := httptest.NewServer(&blobStub{})
	defer blobSrv.Close()

	dl := &fakeDownloader{noInfoJSON: true}
	r := newTestRunner(t, dl)

	err := r.Handle(context.Background(), &dispatch.IngestMessage{
		JobID:       "job-2",
		URL:         "https://youtu.be/abc",
		SourceType:  "youtube",
		CallbackURL: orchSrv.URL + "/api/ingest/callback",
		Upload:      putTarget(blobSrv.URL, "ingest/job-2.mp4", 1000),
	})
	require.NoError(t, err)
	require.Equal(t, 1, dl.lookups)

	calls := orch.calls()
	done := calls[len(calls)-1]
	require.Equal(t, "completed", done["status"])
	require.Equal(t, "A clip", done["title"])
	require.EqualValues(t, 12, done["durationSec"])
}

func TestIngestSkipsFinishedJob(t *testing.T) {
	orch := &orchestratorStub{statusOf: func(map[string]any) (int, string) { return http.StatusOK, "completed" }}
	orchSrv := httptest.NewServer(orch)
	defer orchSrv.Close()

	dl := &fakeDownloader{}
	r := newTestRunner(t, dl)

	err := r.Handle(context.Background(), &dispatch.IngestMessage{
		JobID:       "job-2",
		URL:         "https://youtu.be/abc",
		CallbackURL: orchSrv.URL,
		Upload:      putTarget("http://blobs.invalid", "ingest/job-2.mp4", 1000),
	})
	require.NoError(t, err)
	require.False(t, dl.called)
	require.Len(t, orch.calls(), 1)
}

func TestIngestRejectedClaimIsNotRetried(t *testing.T) {
	orch := &orchestratorStub{statusOf: func(map[string]any) (int, string) { return http.StatusNotFound, "" }}
	orchSrv := httptest.NewServer(orch)
	defer orchSrv.Close()

	dl := &fakeDownloader{}
	r := newTestRunner(t, dl)

	err := r.Handle(context.Background(), &dispatch.IngestMessage{JobID: "gone", CallbackURL: orchSrv.URL})
	require.NoError(t, err)
	require.False(t, dl.called)
	require.Len(t, orch.calls(), 1)
}

func TestIngestDownloadFailureReportsReason(t *testing.T) {
	orch := &orchestratorStub{}
	orchSrv := httptest.NewServer(orch)
	defer orchSrv.Close()

	dl := &fakeDownloader{err: &ytdlp.ExecError{Cmd: "yt-dlp", Stderr: "WARNING: x\nERROR: Private video", Cause: errors.New("exit status 1")}}
	r := newTestRunner(t, dl)

	err := r.Handle(context.Background(), &dispatch.IngestMessage{
		JobID:       "job-3",
		URL:         "https://youtu.be/private",
		CallbackURL: orchSrv.URL,
		Upload:      putTarget("http://blobs.invalid", "ingest/job-3.mp4", 1000),
	})
	require.NoError(t, err)

	calls := orch.calls()
	require.Len(t, calls, 2)
	require.Equal(t, "failed", calls[1]["status"])
	require.Equal(t, "ERROR: Private video", calls[1]["error"])
}

func TestIngestWithoutUploadTargetFails(t *testing.T) {
	orch := &orchestratorStub{}
	orchSrv := httptest.NewServer(orch)
	defer orchSrv.Close()

	dl := &fakeDownloader{}
	r := newTestRunner(t, dl)

	require.NoError(t, r.Handle(context.Background(), &dispatch.IngestMessage{JobID: "job-4", CallbackURL: orchSrv.URL}))
	calls := orch.calls()
	require.Len(t, calls, 2)
	require.Equal(t, "failed", calls[1]["status"])
	require.Contains(t, calls[1]["error"], "no upload target")
	require.False(t, dl.called)
}

func TestIngestUploadOverLimitFails(t *testing.T) {
	orch := &orchestratorStub{}
	orchSrv := httptest.NewServer(orch)
	defer orchSrv.Close()

	r := newTestRunner(t, &fakeDownloader{})
	err := r.Handle(context.Background(), &dispatch.IngestMessage{
		JobID:       "job-5",
		CallbackURL: orchSrv.URL,
		Upload:      putTarget("http://blobs.invalid", "ingest/job-5.mp4", 4),
	})
	require.NoError(t, err)

	calls := orch.calls()
	require.Equal(t, "failed", calls[len(calls)-1]["status"])
	require.Contains(t, calls[len(calls)-1]["error"], "upload limit")
}

func TestTrimUploadsThroughPostPolicy(t *testing.T) {
	orch := &orchestratorStub{}
	orchSrv := httptest.NewServer(orch)
	defer orchSrv.Close()
	blobs := &blobStub{}
	blobSrv := httptest.NewServer(blobs)
	defer blobSrv.Close()

	r := newTestRunner(t, &fakeDownloader{})
	var gotStart, gotEnd time.Duration
	r.trim = func(ctx context.Context, input, output string, start, end time.Duration) error {
		require.Equal(t, "https://cdn.example.com/source.mp4", input)
		gotStart, gotEnd = start, end
		return os.WriteFile(output, []byte("clip"), 0o644)
	}

	err := r.Handle(context.Background(), &dispatch.TrimMessage{
		VariantID:   "var-1",
		SourceURL:   "https://cdn.example.com/source.mp4",
		StartSec:    1.5,
		EndSec:      4,
		CallbackURL: orchSrv.URL + "/api/variants/callback",
		Upload: &storage.WriteTarget{
			URL:        blobSrv.URL + "/bucket",
			Method:     http.MethodPost,
			FormFields: map[string]string{"key": "variants/var-1.mp4", "policy": "p", "x-amz-signature": "s"},
			Key:        "variants/var-1.mp4",
			MaxBytes:   1000,
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1500*time.Millisecond, gotStart)
	require.Equal(t, 4*time.Second, gotEnd)

	require.Equal(t, http.MethodPost, blobs.method)
	require.Equal(t, "clip", blobs.body)
	require.Equal(t, "variants/var-1.mp4", blobs.fields["key"])
	require.Equal(t, "p", blobs.fields["policy"])

	calls := orch.calls()
	require.Len(t, calls, 1)
	require.Equal(t, "var-1", calls[0]["variantId"])
	require.Equal(t, "ready", calls[0]["status"])
	require.Equal(t, blobSrv.URL+"/bucket/variants/var-1.mp4", calls[0]["outputUrl"])
	require.Equal(t, testSecret, calls[0]["secret"])
}

func TestTrimEmptyRangeReportsFailure(t *testing.T) {
	orch := &orchestratorStub{}
	orchSrv := httptest.NewServer(orch)
	defer orchSrv.Close()

	r := newTestRunner(t, &fakeDownloader{})
	r.trim = func(context.Context, string, string, time.Duration, time.Duration) error {
		t.Fatal("trim should not run")
		return nil
	}

	err := r.Handle(context.Background(), &dispatch.TrimMessage{
		VariantID:   "var-2",
		StartSec:    5,
		EndSec:      5,
		CallbackURL: orchSrv.URL,
		Upload:      putTarget("http://blobs.invalid", "variants/var-2.mp4", 1000),
	})
	require.NoError(t, err)

	calls := orch.calls()
	require.Len(t, calls, 1)
	require.Equal(t, "failed", calls[0]["status"])
	require.Contains(t, calls[0]["error"], "empty range")
	require.Equal(t, "", calls[0]["outputUrl"])
}

func ingestCallback(jobID, status string) ingest.Callback {
	return ingest.Callback{JobID: jobID, Status: status}
}

func TestCallbackRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			http.Error(w, "try later", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"job":{"status":"processing"}}`))
	}))
	defer srv.Close()

	c := newCallbackClient(testSecret)
	c.backoff = 0
	status, err := c.job(context.Background(), srv.URL, ingestCallback("job-9", "processing"))
	require.NoError(t, err)
	require.Equal(t, "processing", status)
	require.EqualValues(t, 3, attempts.Load())
}

func TestCallbackDoesNotRetryRejection(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, `{"error":"protocol violation"}`, http.StatusConflict)
	}))
	defer srv.Close()

	c := newCallbackClient(testSecret)
	c.backoff = 0
	_, err := c.job(context.Background(), srv.URL, ingestCallback("job-9", "failed"))
	require.ErrorIs(t, err, errRejected)
	require.ErrorContains(t, err, "409")
	require.EqualValues(t, 1, attempts.Load())
}

func TestObjectURL(t *testing.T) {
	u, err := objectURL(&storage.WriteTarget{URL: "https://storage.googleapis.com/b/k.mp4?X-Goog-Signature=1", Method: http.MethodPut, Key: "k.mp4"})
	require.NoError(t, err)
	require.Equal(t, "https://storage.googleapis.com/b/k.mp4", u)

	u, err = objectURL(&storage.WriteTarget{URL: "https://minio.local/bucket/", Method: http.MethodPost, Key: "ingest/a.mp4"})
	require.NoError(t, err)
	require.Equal(t, "https://minio.local/bucket/ingest/a.mp4", u)
}

func TestScratchRejectsPathIDs(t *testing.T) {
	r := newTestRunner(t, &fakeDownloader{})
	_, _, err := r.scratch("jobs", "../etc")
	require.Error(t, err)
	_, _, err = r.scratch("jobs", "")
	require.Error(t, err)
}

func TestReceiver(t *testing.T) {
	release := make(chan struct{})
	handled := make(chan dispatch.Message, 4)
	handle := func(ctx context.Context, msg dispatch.Message) error {
		handled <- msg
		<-release
		return nil
	}
	recv := newReceiver(context.Background(), handle, "worker-secret", 1)

	send := func(path, secret string, msg dispatch.Message) *httptest.ResponseRecorder {
		body, err := dispatch.Encode(msg)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(body)))
		req.Header.Set("Content-Type", "application/json")
		if secret != "" {
			req.Header.Set(dispatch.SecretHeader, secret)
		}
		rec := httptest.NewRecorder()
		recv.ServeHTTP(rec, req)
		return rec
	}

	ingestMsg := &dispatch.IngestMessage{JobID: "job-1", URL: "https://youtu.be/abc"}

	require.Equal(t, http.StatusUnauthorized, send("/ingest", "", ingestMsg).Code)
	require.Equal(t, http.StatusUnauthorized, send("/ingest", "wrong", ingestMsg).Code)
	require.Equal(t, http.StatusBadRequest, send("/trim", "worker-secret", ingestMsg).Code)

	rec := send("/ingest", "worker-secret", ingestMsg)
	require.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case msg := <-handled:
		require.Equal(t, "job-1", msg.MessageID())
	case <-time.After(5 * time.Second):
		t.Fatal("message was not handled")
	}

	// The only slot is taken until release.
	rec = send("/trim", "worker-secret", &dispatch.TrimMessage{VariantID: "var-1", EndSec: 1})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	close(release)
	recv.Drain()

	rec = send("/trim", "worker-secret", &dispatch.TrimMessage{VariantID: "var-1", EndSec: 1})
	require.Equal(t, http.StatusAccepted, rec.Code)
	recv.Drain()
	require.Len(t, handled, 1)

	health := httptest.NewRecorder()
	recv.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, health.Code)
}
