package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"thirdcoast.systems/carrot/internal/metrics"
	"thirdcoast.systems/carrot/internal/transcription"
)

const (
	reasonNeverAccepted = "worker never accepted the job"
	reasonStale         = "timed out while processing"
)

type SweepConfig struct {
	Interval            time.Duration
	RedispatchAfter     time.Duration
	MaxDispatchAttempts int
	// ProcessingCeiling is how long a processing job may go without a
	// callback before it is failed.
	ProcessingCeiling time.Duration
	// TranscriptionCeiling is how long a transcription may stay processing.
	TranscriptionCeiling time.Duration
	BackfillWindow       time.Duration
	BatchSize            int
}

func (c SweepConfig) withDefaults() SweepConfig {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.RedispatchAfter <= 0 {
		c.RedispatchAfter = 2 * time.Minute
	}
	if c.MaxDispatchAttempts <= 0 {
		c.MaxDispatchAttempts = 5
	}
	if c.ProcessingCeiling <= 0 {
		c.ProcessingCeiling = time.Hour
	}
	if c.TranscriptionCeiling <= 0 {
		c.TranscriptionCeiling = 30 * time.Minute
	}
	if c.BackfillWindow <= 0 {
		c.BackfillWindow = 24 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	return c
}

// RunSweeper sweeps every cfg.Interval until ctx is done.
func (o *Orchestrator) RunSweeper(ctx context.Context, cfg SweepConfig) error {
	cfg = cfg.withDefaults()
	slog.Info("Reconciliation sweep started", "interval", cfg.Interval)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		if err := o.Sweep(ctx, cfg); err != nil && ctx.Err() == nil {
			slog.Error("reconciliation sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			slog.Info("Reconciliation sweep stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep makes one reconciliation pass: redispatch or give up on queued
// jobs, fail jobs and transcriptions that stopped making progress, and
// backfill media for completed jobs. Every change is conditional on the
// state the sweep observed, so a sweep racing a callback never overwrites
// it.
func (o *Orchestrator) Sweep(ctx context.Context, cfg SweepConfig) error {
	cfg = cfg.withDefaults()
	now := time.Now()
	var errs []error

	queued, err := o.Jobs.ListRedispatchable(ctx, cfg.MaxDispatchAttempts, now.Add(-cfg.RedispatchAfter), cfg.BatchSize)
	if err != nil {
		errs = append(errs, err)
	}
	for _, job := range queued {
		if err := o.dispatch(ctx, job); err != nil {
			slog.Warn("redispatch failed", "job_id", job.ID, "attempts", job.DispatchAttempts+1, "error", err)
			continue
		}
		metrics.SweepActionsTotal.WithLabelValues("redispatched").Inc()
		slog.Info("ingest job redispatched", "job_id", job.ID, "attempts", job.DispatchAttempts+1)
	}

	abandoned, err := o.Jobs.FailUndispatched(ctx, cfg.MaxDispatchAttempts, now.Add(-cfg.RedispatchAfter), reasonNeverAccepted)
	if err != nil {
		errs = append(errs, err)
	}
	for _, job := range abandoned {
		metrics.SweepActionsTotal.WithLabelValues("undispatched_failed").Inc()
		slog.Warn("ingest job failed: worker never accepted it", "job_id", job.ID, "attempts", job.DispatchAttempts)
	}

	stale, err := o.Jobs.FailStaleProcessing(ctx, now.Add(-cfg.ProcessingCeiling), reasonStale)
	if err != nil {
		errs = append(errs, err)
	}
	for _, job := range stale {
		metrics.SweepActionsTotal.WithLabelValues("stale_failed").Inc()
		slog.Warn("ingest job failed: no callback within the processing ceiling", "job_id", job.ID, "last_update", job.UpdatedAt)
	}

	if o.Posts != nil {
		stuck, err := o.Posts.FailStaleTranscriptions(ctx, now.Add(-cfg.TranscriptionCeiling), transcription.FallbackUnavailable)
		if err != nil {
			errs = append(errs, err)
		}
		for _, p := range stuck {
			metrics.SweepActionsTotal.WithLabelValues("transcription_failed").Inc()
			slog.Warn("transcription failed: attempt exceeded the ceiling", "post_id", p.ID)
		}
	}

	if o.Media != nil {
		res, err := o.Media.Backfill(ctx, "", cfg.BackfillWindow, cfg.BatchSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("backfill: %w", err))
		}
		if res.Created > 0 {
			metrics.SweepActionsTotal.WithLabelValues("backfilled").Add(float64(res.Created))
			slog.Info("media backfilled", "created", res.Created, "examined", res.Examined)
		}
	}

	return errors.Join(errs...)
}
