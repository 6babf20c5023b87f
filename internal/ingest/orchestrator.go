// Package ingest accepts ingest requests, hands jobs to the media worker and
// applies the worker's callbacks to the job state machine. It also runs the
// reconciliation sweep that keeps jobs and transcriptions from getting stuck.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"thirdcoast.systems/carrot/internal/dispatch"
	"thirdcoast.systems/carrot/internal/jobs"
	"thirdcoast.systems/carrot/internal/media"
	"thirdcoast.systems/carrot/internal/metrics"
	"thirdcoast.systems/carrot/internal/posts"
	"thirdcoast.systems/carrot/internal/storage"
	"thirdcoast.systems/carrot/internal/tracing"
	"thirdcoast.systems/carrot/internal/transcription"
	"thirdcoast.systems/carrot/internal/urlnorm"
)

const DefaultStoragePrefix = "ingest/"

var (
	ErrUnauthorized    = errors.New("invalid worker secret")
	ErrInvalidCallback = errors.New("invalid callback")
)

type Config struct {
	// CallbackURL is sent to the worker with every ingest dispatch.
	CallbackURL string
	// CallbackSecret authenticates the worker's callbacks. Callbacks are
	// refused while it is empty.
	CallbackSecret string
	// AllowOtherSources accepts URLs on hosts outside the known platforms.
	AllowOtherSources bool
	// StoragePrefix is where the worker uploads ingested media, per user.
	StoragePrefix   string
	DispatchTimeout time.Duration
}

// Deps are the collaborators an Orchestrator drives. Blobs and Dispatcher
// may be nil: jobs are then created without an upload target or stay
// queued until the sweep gives up on them.
type Deps struct {
	Jobs        jobs.Store
	Posts       posts.Store
	Media       *media.Manager
	Transcriber *transcription.Transcriber
	Blobs       storage.BlobStore
	Dispatcher  dispatch.Dispatcher
}

type Orchestrator struct {
	Deps
	cfg        Config
	normalizer urlnorm.Normalizer

	wg sync.WaitGroup
}

func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.StoragePrefix == "" {
		cfg.StoragePrefix = DefaultStoragePrefix
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 10 * time.Second
	}
	return &Orchestrator{
		Deps:       deps,
		cfg:        cfg,
		normalizer: urlnorm.Normalizer{AllowOther: cfg.AllowOtherSources},
	}
}

type Request struct {
	UserID string
	URL    string
	// PostID links the job to a post the caller owns; the post receives the
	// media and a transcription when the job completes.
	PostID string
}

type Result struct {
	Job          *jobs.Job `json:"job"`
	Deduplicated bool      `json:"deduplicated"`
}

// Ingest creates a job for the request's URL, or returns the caller's
// in-flight job for the same normalized URL. The worker is contacted after
// Ingest returns.
func (o *Orchestrator) Ingest(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := tracing.Start(ctx, "ingest.request", attribute.String("user.id", req.UserID))
	defer func() { tracing.End(span, err) }()

	norm, err := o.normalizer.Normalize(req.URL)
	if err != nil {
		metrics.IngestRequestsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	span.SetAttributes(attribute.String("ingest.source_type", string(norm.SourceType)))

	if req.PostID != "" {
		p, err := o.Posts.Get(ctx, req.PostID)
		if err != nil {
			metrics.IngestRequestsTotal.WithLabelValues("rejected").Inc()
			return nil, err
		}
		if p.UserID != req.UserID {
			metrics.IngestRequestsTotal.WithLabelValues("rejected").Inc()
			return nil, posts.ErrNotFound
		}
	}

	nj := jobs.NewJob{
		UserID:        req.UserID,
		PostID:        req.PostID,
		SourceURL:     req.URL,
		NormalizedURL: norm.NormalizedURL,
		SourceType:    norm.SourceType,
	}
	if o.Blobs != nil {
		nj.StoragePrefix = o.cfg.StoragePrefix + req.UserID + "/"
	}
	job, err := o.Jobs.Create(ctx, nj)
	var dup *jobs.DuplicateActiveJobError
	if errors.As(err, &dup) {
		metrics.IngestRequestsTotal.WithLabelValues("deduplicated").Inc()
		slog.Info("ingest deduplicated", "job_id", dup.Existing.ID, "user_id", req.UserID, "url", norm.NormalizedURL)
		return &Result{Job: dup.Existing, Deduplicated: true}, nil
	}
	if err != nil {
		metrics.IngestRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.IngestRequestsTotal.WithLabelValues("created").Inc()
	slog.Info("ingest job created", "job_id", job.ID, "user_id", req.UserID, "source_type", job.SourceType, "url", job.NormalizedURL)

	runCtx := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.dispatch(runCtx, job); err != nil {
			slog.Warn("failed to dispatch ingest job, the sweep will retry", "job_id", job.ID, "error", err)
		}
	}()
	return &Result{Job: job}, nil
}

// dispatch makes one delivery attempt and records it on the job whatever
// the outcome.
func (o *Orchestrator) dispatch(ctx context.Context, job *jobs.Job) (err error) {
	ctx, span := tracing.Start(ctx, "ingest.dispatch", attribute.String("job.id", job.ID))
	defer func() { tracing.End(span, err) }()

	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.DispatchTotal.WithLabelValues(string(dispatch.KindIngest), result).Inc()
		if rerr := o.Jobs.RecordDispatch(context.WithoutCancel(ctx), job.ID); rerr != nil {
			slog.Error("failed to record dispatch", "job_id", job.ID, "error", rerr)
		}
	}()

	if o.Dispatcher == nil {
		return errors.New("no worker dispatcher configured")
	}

	msg := &dispatch.IngestMessage{
		JobID:       job.ID,
		URL:         job.NormalizedURL,
		SourceType:  string(job.SourceType),
		DedupKey:    urlnorm.DedupKey(job.NormalizedURL),
		CallbackURL: o.cfg.CallbackURL,
	}
	if o.Blobs != nil && job.StorageKey != "" {
		target, err := o.Blobs.WriteTarget(ctx, job.StorageKey, "video/mp4")
		if err != nil {
			return fmt.Errorf("sign upload target: %w", err)
		}
		msg.Upload = target
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.DispatchTimeout)
	defer cancel()
	if err := o.Dispatcher.Dispatch(ctx, msg); err != nil {
		return err
	}
	slog.Debug("ingest job dispatched", "job_id", job.ID)
	return nil
}

// Wait blocks until detached dispatches have finished or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Job returns a job owned by userID.
func (o *Orchestrator) Job(ctx context.Context, userID, id string) (*jobs.Job, error) {
	j, err := o.Jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.UserID != userID {
		return nil, jobs.ErrNotFound
	}
	return j, nil
}
