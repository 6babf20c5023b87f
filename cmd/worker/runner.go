package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"thirdcoast.systems/carrot/internal/dispatch"
	"thirdcoast.systems/carrot/internal/ingest"
	"thirdcoast.systems/carrot/internal/jobs"
	"thirdcoast.systems/carrot/internal/media"
	"thirdcoast.systems/carrot/pkg/ffmpeg"
	"thirdcoast.systems/carrot/pkg/ytdlp"
)

type downloader interface {
	Download(ctx context.Context, url, destDir string, onProgress func(pct int)) (*ytdlp.Download, error)
	GetInfo(ctx context.Context, url string) (*ytdlp.Info, error)
}

// runner carries out dispatched work and reports the outcome. Progress is
// scaled so that 100 is only ever reached by the completion callback.
type runner struct {
	download downloader
	callback *callbackClient
	uploader *uploader
	workDir  string

	trim  func(ctx context.Context, input, output string, start, end time.Duration) error
	probe func(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
}

func newRunner(dl downloader, callbackSecret, workDir string) *runner {
	return &runner{
		download: dl,
		callback: newCallbackClient(callbackSecret),
		uploader: newUploader(),
		workDir:  workDir,
		trim: func(ctx context.Context, input, output string, start, end time.Duration) error {
			return ffmpeg.Trim(ctx, input, output, start, end, false)
		},
		probe: ffmpeg.Probe,
	}
}

// Handle runs one message to completion. It only errors when the outcome
// could not be reported, so a queue redelivery can try again.
func (r *runner) Handle(ctx context.Context, msg dispatch.Message) error {
	switch m := msg.(type) {
	case *dispatch.IngestMessage:
		return r.ingest(ctx, m)
	case *dispatch.TrimMessage:
		return r.trimVariant(ctx, m)
	default:
		return fmt.Errorf("unsupported message %T", msg)
	}
}

func (r *runner) ingest(ctx context.Context, msg *dispatch.IngestMessage) error {
	log := slog.With("job_id", msg.JobID, "source_type", msg.SourceType)

	zero := 0
	status, err := r.callback.job(ctx, msg.CallbackURL, ingest.Callback{JobID: msg.JobID, Status: ingest.CallbackProcessing, Progress: &zero})
	switch {
	case errors.Is(err, errRejected):
		log.Info("job not accepted for processing", "error", err)
		return nil
	case err != nil:
		return fmt.Errorf("claim job %s: %w", msg.JobID, err)
	case jobs.Status(status) != jobs.StatusProcessing:
		// A redelivered message for a job that already finished.
		log.Info("job already finished, skipping", "status", status)
		return nil
	}

	cb, err := r.fetch(ctx, msg, log)
	if err != nil {
		log.Warn("ingest failed", "error", err)
		cb = ingest.Callback{JobID: msg.JobID, Status: ingest.CallbackFailed, Error: failureReason(err)}
	}
	if _, err := r.callback.job(ctx, msg.CallbackURL, cb); err != nil && !errors.Is(err, errRejected) {
		return fmt.Errorf("report job %s: %w", msg.JobID, err)
	}
	log.Info("ingest finished", "status", cb.Status)
	return nil
}

func (r *runner) fetch(ctx context.Context, msg *dispatch.IngestMessage, log *slog.Logger) (ingest.Callback, error) {
	if msg.Upload == nil {
		return ingest.Callback{}, errors.New("dispatch carried no upload target")
	}

	dir, cleanup, err := r.scratch("jobs", msg.JobID)
	if err != nil {
		return ingest.Callback{}, err
	}
	defer cleanup()

	last := 0
	dl, err := r.download.Download(ctx, msg.URL, dir, func(pct int) {
		scaled := pct * 9 / 10
		if scaled < last+10 {
			return
		}
		last = scaled
		if _, err := r.callback.job(ctx, msg.CallbackURL, ingest.Callback{JobID: msg.JobID, Status: ingest.CallbackProcessing, Progress: &scaled}); err != nil {
			log.Warn("failed to report progress", "progress", scaled, "error", err)
		}
	})
	if err != nil {
		return ingest.Callback{}, err
	}

	info := dl.Info
	if info == nil {
		// Some extractors skip the .info.json; ask for the metadata directly.
		if info, err = r.download.GetInfo(ctx, msg.URL); err != nil {
			log.Warn("failed to read source metadata", "error", err)
		}
	}

	cb := ingest.Callback{JobID: msg.JobID, Status: ingest.CallbackCompleted}
	if info != nil {
		cb.Title = info.Title
		cb.Channel = info.ChannelName()
		cb.ThumbnailURL = info.Thumbnail
		cb.DurationSec = info.Duration
		cb.Width = info.Width
		cb.Height = info.Height
	}
	if probed, err := r.probe(ctx, dl.MediaPath); err != nil {
		log.Warn("failed to probe download", "error", err)
	} else {
		if probed.Duration > 0 {
			cb.DurationSec = probed.Duration
		}
		if probed.HasVideo {
			cb.Width, cb.Height = probed.Width, probed.Height
		}
	}

	if cb.MediaURL, err = r.uploader.upload(ctx, msg.Upload, dl.MediaPath); err != nil {
		return ingest.Callback{}, err
	}
	return cb, nil
}

func (r *runner) trimVariant(ctx context.Context, msg *dispatch.TrimMessage) error {
	log := slog.With("variant_id", msg.VariantID)

	res := media.VariantResult{VariantID: msg.VariantID, Status: media.VariantReady}
	out, err := r.cut(ctx, msg)
	if err != nil {
		log.Warn("trim failed", "error", err)
		res.Status = media.VariantFailed
		res.Error = failureReason(err)
	}
	res.OutputURL = out

	if err := r.callback.variant(ctx, msg.CallbackURL, res); err != nil && !errors.Is(err, errRejected) {
		return fmt.Errorf("report variant %s: %w", msg.VariantID, err)
	}
	log.Info("trim finished", "status", res.Status)
	return nil
}

func (r *runner) cut(ctx context.Context, msg *dispatch.TrimMessage) (string, error) {
	if msg.Upload == nil {
		return "", errors.New("dispatch carried no upload target")
	}
	if msg.EndSec <= msg.StartSec {
		return "", fmt.Errorf("empty range %.3f-%.3f", msg.StartSec, msg.EndSec)
	}

	dir, cleanup, err := r.scratch("variants", msg.VariantID)
	if err != nil {
		return "", err
	}
	defer cleanup()

	out := filepath.Join(dir, "variant.mp4")
	if err := r.trim(ctx, msg.SourceURL, out, ffmpeg.Seconds(msg.StartSec), ffmpeg.Seconds(msg.EndSec)); err != nil {
		return "", err
	}
	return r.uploader.upload(ctx, msg.Upload, out)
}

// scratch creates an empty working directory for one message.
func (r *runner) scratch(kind, id string) (string, func(), error) {
	if id == "" || filepath.Base(id) != id {
		return "", nil, fmt.Errorf("invalid %s id %q", kind, id)
	}
	dir := filepath.Join(r.workDir, kind, id)
	if err := os.RemoveAll(dir); err != nil {
		return "", nil, fmt.Errorf("clear work dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create work dir: %w", err)
	}
	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("failed to remove work dir", "dir", dir, "error", err)
		}
	}, nil
}

// failureReason is the error text reported to the orchestrator. yt-dlp's own
// final line says more than the command line does.
func failureReason(err error) string {
	var ee *ytdlp.ExecError
	if errors.As(err, &ee) {
		return ee.Reason()
	}
	return err.Error()
}
