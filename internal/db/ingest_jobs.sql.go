package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// ActiveJobDedupIndex is the partial unique index enforcing one in-flight
// job per (user_id, normalized_url).
const ActiveJobDedupIndex = "ingest_jobs_active_dedup_idx"

const ingestJobColumns = `id, user_id, post_id, source_url, normalized_url, source_type, status, progress,
	result_media_url, result_video_url, thumbnail_url, title, channel, error, storage_key,
	duration_sec, width, height, cf_uid, cf_status, dispatch_attempts, last_dispatched_at,
	completed_at, created_at, updated_at`

func scanIngestJob(row pgx.Row) (*IngestJob, error) {
	var i IngestJob
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.PostID,
		&i.SourceURL,
		&i.NormalizedURL,
		&i.SourceType,
		&i.Status,
		&i.Progress,
		&i.ResultMediaURL,
		&i.ResultVideoURL,
		&i.ThumbnailURL,
		&i.Title,
		&i.Channel,
		&i.Error,
		&i.StorageKey,
		&i.DurationSec,
		&i.Width,
		&i.Height,
		&i.CfUID,
		&i.CfStatus,
		&i.DispatchAttempts,
		&i.LastDispatchedAt,
		&i.CompletedAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func collectIngestJobs(rows pgx.Rows, err error) ([]*IngestJob, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*IngestJob
	for rows.Next() {
		i, err := scanIngestJob(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createIngestJob = `INSERT INTO ingest_jobs (id, user_id, post_id, source_url, normalized_url, source_type, storage_key)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + ingestJobColumns

type CreateIngestJobParams struct {
	ID            string
	UserID        string
	PostID        *string
	SourceURL     string
	NormalizedURL string
	SourceType    string
	StorageKey    *string
}

// CreateIngestJob fails with a 23505 on ActiveJobDedupIndex when an
// in-flight job already exists for the same key.
func (q *Queries) CreateIngestJob(ctx context.Context, arg *CreateIngestJobParams) (*IngestJob, error) {
	row := q.db.QueryRow(ctx, createIngestJob,
		arg.ID,
		arg.UserID,
		arg.PostID,
		arg.SourceURL,
		arg.NormalizedURL,
		arg.SourceType,
		arg.StorageKey,
	)
	return scanIngestJob(row)
}

const getIngestJob = `SELECT ` + ingestJobColumns + ` FROM ingest_jobs WHERE id = $1`

func (q *Queries) GetIngestJob(ctx context.Context, id string) (*IngestJob, error) {
	return scanIngestJob(q.db.QueryRow(ctx, getIngestJob, id))
}

const getActiveIngestJobByKey = `SELECT ` + ingestJobColumns + ` FROM ingest_jobs
WHERE user_id = $1 AND normalized_url = $2 AND status IN ('queued', 'processing')
LIMIT 1`

func (q *Queries) GetActiveIngestJobByKey(ctx context.Context, userID, normalizedURL string) (*IngestJob, error) {
	return scanIngestJob(q.db.QueryRow(ctx, getActiveIngestJobByKey, userID, normalizedURL))
}

const claimIngestJob = `UPDATE ingest_jobs
SET status = 'processing', updated_at = now()
WHERE id = $1 AND status = 'queued'
RETURNING ` + ingestJobColumns

// ClaimIngestJob returns pgx.ErrNoRows when the job is missing or not queued.
func (q *Queries) ClaimIngestJob(ctx context.Context, id string) (*IngestJob, error) {
	return scanIngestJob(q.db.QueryRow(ctx, claimIngestJob, id))
}

const updateIngestJobProgress = `UPDATE ingest_jobs
SET progress = GREATEST(progress, $2), updated_at = now()
WHERE id = $1 AND status = 'processing'
RETURNING ` + ingestJobColumns

func (q *Queries) UpdateIngestJobProgress(ctx context.Context, id string, progress int32) (*IngestJob, error) {
	return scanIngestJob(q.db.QueryRow(ctx, updateIngestJobProgress, id, progress))
}

const completeIngestJob = `UPDATE ingest_jobs
SET status = 'completed',
    progress = 100,
    result_media_url = $2,
    result_video_url = $3,
    thumbnail_url = COALESCE($4, thumbnail_url),
    title = COALESCE($5, title),
    channel = COALESCE($6, channel),
    duration_sec = COALESCE($7, duration_sec),
    width = COALESCE($8, width),
    height = COALESCE($9, height),
    cf_uid = COALESCE($10, cf_uid),
    cf_status = COALESCE($11, cf_status),
    error = NULL,
    completed_at = now(),
    updated_at = now()
WHERE id = $1 AND status IN ('queued', 'processing')
RETURNING ` + ingestJobColumns

type CompleteIngestJobParams struct {
	ID             string
	ResultMediaURL *string
	ResultVideoURL *string
	ThumbnailURL   *string
	Title          *string
	Channel        *string
	DurationSec    *float64
	Width          *int32
	Height         *int32
	CfUID          *string
	CfStatus       *string
}

// CompleteIngestJob returns pgx.ErrNoRows when the job is missing or already terminal.
func (q *Queries) CompleteIngestJob(ctx context.Context, arg *CompleteIngestJobParams) (*IngestJob, error) {
	row := q.db.QueryRow(ctx, completeIngestJob,
		arg.ID,
		arg.ResultMediaURL,
		arg.ResultVideoURL,
		arg.ThumbnailURL,
		arg.Title,
		arg.Channel,
		arg.DurationSec,
		arg.Width,
		arg.Height,
		arg.CfUID,
		arg.CfStatus,
	)
	return scanIngestJob(row)
}

const failIngestJob = `UPDATE ingest_jobs
SET status = 'failed', error = $2, completed_at = now(), updated_at = now()
WHERE id = $1 AND status IN ('queued', 'processing')
RETURNING ` + ingestJobColumns

// FailIngestJob returns pgx.ErrNoRows when the job is missing or already terminal.
func (q *Queries) FailIngestJob(ctx context.Context, id string, reason string) (*IngestJob, error) {
	return scanIngestJob(q.db.QueryRow(ctx, failIngestJob, id, reason))
}

const recordIngestDispatch = `UPDATE ingest_jobs
SET dispatch_attempts = dispatch_attempts + 1, last_dispatched_at = now()
WHERE id = $1 AND status = 'queued'`

func (q *Queries) RecordIngestDispatch(ctx context.Context, id string) (int64, error) {
	tag, err := q.db.Exec(ctx, recordIngestDispatch, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listRedispatchableIngestJobs = `SELECT ` + ingestJobColumns + ` FROM ingest_jobs
WHERE status = 'queued'
  AND dispatch_attempts < $1
  AND COALESCE(last_dispatched_at, created_at) < $2
ORDER BY created_at
LIMIT $3`

func (q *Queries) ListRedispatchableIngestJobs(ctx context.Context, maxAttempts int32, olderThan time.Time, limit int32) ([]*IngestJob, error) {
	return collectIngestJobs(q.db.Query(ctx, listRedispatchableIngestJobs, maxAttempts, olderThan, limit))
}

const failUndispatchedIngestJobs = `UPDATE ingest_jobs
SET status = 'failed', error = $3, completed_at = now(), updated_at = now()
WHERE status = 'queued'
  AND dispatch_attempts >= $1
  AND COALESCE(last_dispatched_at, created_at) < $2
RETURNING ` + ingestJobColumns

func (q *Queries) FailUndispatchedIngestJobs(ctx context.Context, maxAttempts int32, olderThan time.Time, reason string) ([]*IngestJob, error) {
	return collectIngestJobs(q.db.Query(ctx, failUndispatchedIngestJobs, maxAttempts, olderThan, reason))
}

const failStaleProcessingIngestJobs = `UPDATE ingest_jobs
SET status = 'failed', error = $2, completed_at = now(), updated_at = now()
WHERE status = 'processing' AND updated_at < $1
RETURNING ` + ingestJobColumns

func (q *Queries) FailStaleProcessingIngestJobs(ctx context.Context, olderThan time.Time, reason string) ([]*IngestJob, error) {
	return collectIngestJobs(q.db.Query(ctx, failStaleProcessingIngestJobs, olderThan, reason))
}

const listCompletedIngestJobs = `SELECT ` + ingestJobColumns + ` FROM ingest_jobs
WHERE status = 'completed'
  AND completed_at >= $1
  AND ($2::text = '' OR user_id = $2)
ORDER BY completed_at DESC
LIMIT $3`

// ListCompletedIngestJobs lists jobs completed since the given time. An
// empty userID lists every user's jobs.
func (q *Queries) ListCompletedIngestJobs(ctx context.Context, since time.Time, userID string, limit int32) ([]*IngestJob, error) {
	return collectIngestJobs(q.db.Query(ctx, listCompletedIngestJobs, since, userID, limit))
}

const setIngestJobStreamStatus = `UPDATE ingest_jobs
SET cf_status = $2, updated_at = now()
WHERE cf_uid = $1`

func (q *Queries) SetIngestJobStreamStatus(ctx context.Context, cfUID, cfStatus string) (int64, error) {
	tag, err := q.db.Exec(ctx, setIngestJobStreamStatus, cfUID, cfStatus)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
