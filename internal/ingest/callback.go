package ingest

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"thirdcoast.systems/carrot/internal/jobs"
	"thirdcoast.systems/carrot/internal/media"
	"thirdcoast.systems/carrot/internal/metrics"
	"thirdcoast.systems/carrot/internal/posts"
	"thirdcoast.systems/carrot/internal/tracing"
)

const (
	CallbackProcessing = "processing"
	CallbackCompleted  = "completed"
	CallbackFailed     = "failed"

	reasonNoMedia       = "worker reported completion without media"
	reasonWorkerFailure = "worker reported failure"
)

// Callback is the worker's report on a job.
type Callback struct {
	JobID        string  `json:"jobId"`
	Status       string  `json:"status"`
	Progress     *int    `json:"progress"`
	MediaURL     string  `json:"mediaUrl"`
	VideoURL     string  `json:"videoUrl"`
	ThumbnailURL string  `json:"thumbnailUrl"`
	Error        string  `json:"error"`
	Title        string  `json:"title"`
	Channel      string  `json:"channel"`
	DurationSec  float64 `json:"durationSec"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	CfUID        string  `json:"cfUid"`
	CfStatus     string  `json:"cfStatus"`
	Secret       string  `json:"secret"`
}

func (cb Callback) result() jobs.Result {
	return jobs.Result{
		MediaURL:     cb.MediaURL,
		VideoURL:     cb.VideoURL,
		ThumbnailURL: cb.ThumbnailURL,
		Title:        cb.Title,
		Channel:      cb.Channel,
		DurationSec:  cb.DurationSec,
		Width:        cb.Width,
		Height:       cb.Height,
		CfUID:        cb.CfUID,
		CfStatus:     cb.CfStatus,
	}
}

type CallbackResult struct {
	Job *jobs.Job
	// Idempotent is set when the callback changed nothing: a repeated
	// terminal outcome or a late progress report for a finished job.
	Idempotent bool
}

// HasSecret reports whether callbacks can be accepted at all.
func (o *Orchestrator) HasSecret() bool {
	return o.cfg.CallbackSecret != ""
}

// Authorized compares secret with the configured callback secret in
// constant time.
func (o *Orchestrator) Authorized(secret string) bool {
	if o.cfg.CallbackSecret == "" || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(o.cfg.CallbackSecret)) == 1
}

// HandleCallback applies a worker callback. Nothing is read or written
// before the secret is verified.
func (o *Orchestrator) HandleCallback(ctx context.Context, cb Callback) (res *CallbackResult, err error) {
	if !o.Authorized(cb.Secret) {
		metrics.CallbacksTotal.WithLabelValues(statusLabel(cb.Status), "unauthorized").Inc()
		return nil, ErrUnauthorized
	}
	if cb.JobID == "" {
		metrics.CallbacksTotal.WithLabelValues(statusLabel(cb.Status), "invalid").Inc()
		return nil, fmt.Errorf("%w: jobId is required", ErrInvalidCallback)
	}

	ctx, span := tracing.Start(ctx, "ingest.callback",
		attribute.String("job.id", cb.JobID),
		attribute.String("callback.status", cb.Status),
	)
	defer func() {
		tracing.End(span, err)
		metrics.CallbacksTotal.WithLabelValues(statusLabel(cb.Status), callbackOutcome(res, err)).Inc()
	}()

	switch cb.Status {
	case CallbackProcessing:
		return o.progress(ctx, cb)
	case CallbackCompleted:
		if !cb.result().HasMedia() {
			slog.Warn("completion callback without media, failing job", "job_id", cb.JobID)
			return o.fail(ctx, cb.JobID, reasonNoMedia)
		}
		return o.complete(ctx, cb)
	case CallbackFailed:
		reason := cb.Error
		if reason == "" {
			reason = reasonWorkerFailure
		}
		return o.fail(ctx, cb.JobID, reason)
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidCallback, cb.Status)
	}
}

// statusLabel keeps the metric's status label to the known callback
// statuses; the raw value comes from the request body.
func statusLabel(status string) string {
	switch status {
	case CallbackProcessing, CallbackCompleted, CallbackFailed:
		return status
	default:
		return "other"
	}
}

func callbackOutcome(res *CallbackResult, err error) string {
	switch {
	case errors.Is(err, jobs.ErrProtocolViolation):
		return "violation"
	case errors.Is(err, jobs.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidCallback):
		return "invalid"
	case err != nil:
		return "error"
	case res.Idempotent:
		return "idempotent"
	default:
		return "applied"
	}
}

// progress treats the first processing callback as the claim and later ones
// as progress reports. Reports for finished jobs arrive out of order and
// are ignored.
func (o *Orchestrator) progress(ctx context.Context, cb Callback) (*CallbackResult, error) {
	job, err := o.Jobs.Claim(ctx, cb.JobID)
	switch {
	case errors.Is(err, jobs.ErrAlreadyClaimed):
		if job.Status.Terminal() {
			return &CallbackResult{Job: job, Idempotent: true}, nil
		}
	case err != nil:
		return nil, err
	default:
		slog.Info("ingest job claimed", "job_id", job.ID)
	}

	if cb.Progress == nil {
		return &CallbackResult{Job: job}, nil
	}
	job, err = o.Jobs.ReportProgress(ctx, cb.JobID, *cb.Progress)
	if errors.Is(err, jobs.ErrInvalidTransition) {
		return &CallbackResult{Job: job, Idempotent: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &CallbackResult{Job: job}, nil
}

func (o *Orchestrator) complete(ctx context.Context, cb Callback) (*CallbackResult, error) {
	job, applied, err := o.Jobs.Complete(ctx, cb.JobID, cb.result())
	if err != nil {
		return nil, o.violation(job, err, CallbackCompleted)
	}
	if applied {
		slog.Info("ingest job completed", "job_id", job.ID, "user_id", job.UserID, "media_url", job.MediaURL())
	}
	o.onCompleted(ctx, job)
	return &CallbackResult{Job: job, Idempotent: !applied}, nil
}

func (o *Orchestrator) fail(ctx context.Context, jobID, reason string) (*CallbackResult, error) {
	job, applied, err := o.Jobs.Fail(ctx, jobID, reason)
	if err != nil {
		return nil, o.violation(job, err, CallbackFailed)
	}
	if applied {
		slog.Info("ingest job failed", "job_id", job.ID, "reason", reason)
	}
	return &CallbackResult{Job: job, Idempotent: !applied}, nil
}

func (o *Orchestrator) violation(current *jobs.Job, err error, proposed string) error {
	if errors.Is(err, jobs.ErrProtocolViolation) {
		metrics.ProtocolViolationsTotal.Inc()
		slog.Warn("worker protocol violation: conflicting terminal callback",
			"job_id", current.ID, "stored", current.Status, "proposed", proposed)
	}
	return err
}

// onCompleted runs the completion side effects. Each step is idempotent so
// repeated completion callbacks re-run them safely; failures are logged and
// left for the backfill sweep.
func (o *Orchestrator) onCompleted(ctx context.Context, job *jobs.Job) {
	if o.Media != nil {
		if _, _, err := o.Media.EnsureFromJob(ctx, job); err != nil {
			slog.Error("failed to create media asset for job", "job_id", job.ID, "error", err)
		}
	}
	if job.PostID == "" || o.Posts == nil {
		return
	}

	m := posts.Media{VideoURL: job.ResultVideoURL, ThumbnailURL: job.ThumbnailURL}
	switch {
	case job.ResultMediaURL == "":
	case media.TypeForURL(job.ResultMediaURL) == media.TypeAudio:
		m.AudioURL = job.ResultMediaURL
	case m.VideoURL == "":
		m.VideoURL = job.ResultMediaURL
	}
	if _, err := o.Posts.AttachMedia(ctx, job.PostID, m); err != nil {
		slog.Error("failed to attach media to post", "job_id", job.ID, "post_id", job.PostID, "error", err)
		return
	}

	if o.Transcriber == nil {
		return
	}
	if _, _, err := o.Transcriber.Trigger(ctx, job.PostID, "", ""); err != nil {
		slog.Error("failed to trigger transcription", "job_id", job.ID, "post_id", job.PostID, "error", err)
	}
}

// HandleStreamWebhook records the transcode provider's status for uid on
// jobs and media assets. Terminal jobs are updated too; only supplementary
// fields change.
func (o *Orchestrator) HandleStreamWebhook(ctx context.Context, secret, uid, status string) (jobsUpdated, assetsUpdated int64, err error) {
	if !o.Authorized(secret) {
		return 0, 0, ErrUnauthorized
	}
	if uid == "" || status == "" {
		return 0, 0, fmt.Errorf("%w: uid and status are required", ErrInvalidCallback)
	}
	if jobsUpdated, err = o.Jobs.SetStreamStatus(ctx, uid, status); err != nil {
		return 0, 0, err
	}
	if o.Media != nil {
		if assetsUpdated, err = o.Media.SetStreamStatus(ctx, uid, status); err != nil {
			return jobsUpdated, 0, err
		}
	}
	slog.Info("stream status updated", "cf_uid", uid, "status", status, "jobs", jobsUpdated, "assets", assetsUpdated)
	return jobsUpdated, assetsUpdated, nil
}

// HandleVariantCallback applies the worker's trim result.
func (o *Orchestrator) HandleVariantCallback(ctx context.Context, secret string, res media.VariantResult) (*media.Variant, error) {
	if !o.Authorized(secret) {
		return nil, ErrUnauthorized
	}
	if res.VariantID == "" {
		return nil, fmt.Errorf("%w: variantId is required", ErrInvalidCallback)
	}
	if o.Media == nil {
		return nil, media.ErrNotFound
	}
	return o.Media.FinishVariant(ctx, res)
}
