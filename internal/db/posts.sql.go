package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

const postColumns = `id, user_id, audio_url, video_url, thumbnail_url, transcription_status,
	audio_transcription, transcription_attempt, transcription_started_at, created_at, updated_at`

func scanPost(row pgx.Row) (*Post, error) {
	var i Post
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.AudioURL,
		&i.VideoURL,
		&i.ThumbnailURL,
		&i.TranscriptionStatus,
		&i.AudioTranscription,
		&i.TranscriptionAttempt,
		&i.TranscriptionStartedAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

const createPost = `INSERT INTO posts (id, user_id) VALUES ($1, $2) RETURNING ` + postColumns

func (q *Queries) CreatePost(ctx context.Context, id, userID string) (*Post, error) {
	return scanPost(q.db.QueryRow(ctx, createPost, id, userID))
}

const getPost = `SELECT ` + postColumns + ` FROM posts WHERE id = $1`

func (q *Queries) GetPost(ctx context.Context, id string) (*Post, error) {
	return scanPost(q.db.QueryRow(ctx, getPost, id))
}

const attachPostMedia = `UPDATE posts
SET video_url = COALESCE($2, video_url),
    audio_url = COALESCE($3, audio_url),
    thumbnail_url = COALESCE($4, thumbnail_url),
    transcription_status = COALESCE(transcription_status, 'pending'),
    updated_at = now()
WHERE id = $1
RETURNING ` + postColumns

type AttachPostMediaParams struct {
	ID           string
	VideoURL     *string
	AudioURL     *string
	ThumbnailURL *string
}

// AttachPostMedia sets transcription_status to pending only when it was null.
func (q *Queries) AttachPostMedia(ctx context.Context, arg *AttachPostMediaParams) (*Post, error) {
	return scanPost(q.db.QueryRow(ctx, attachPostMedia, arg.ID, arg.VideoURL, arg.AudioURL, arg.ThumbnailURL))
}

const beginPostTranscription = `UPDATE posts
SET transcription_status = 'processing',
    audio_transcription = NULL,
    transcription_attempt = transcription_attempt + 1,
    transcription_started_at = now(),
    updated_at = now()
WHERE id = $1 AND (transcription_status IS NULL OR transcription_status = 'pending')
RETURNING ` + postColumns

// BeginPostTranscription returns pgx.ErrNoRows when the post is missing or
// its transcription is already processing or terminal.
func (q *Queries) BeginPostTranscription(ctx context.Context, id string) (*Post, error) {
	return scanPost(q.db.QueryRow(ctx, beginPostTranscription, id))
}

const finishPostTranscription = `UPDATE posts
SET transcription_status = $3, audio_transcription = $4, updated_at = now()
WHERE id = $1 AND transcription_status = 'processing' AND transcription_attempt = $2
RETURNING ` + postColumns

// FinishPostTranscription records the outcome of attempt. A stale attempt
// (superseded or already failed by the sweep) returns pgx.ErrNoRows.
func (q *Queries) FinishPostTranscription(ctx context.Context, id string, attempt int32, status, text string) (*Post, error) {
	return scanPost(q.db.QueryRow(ctx, finishPostTranscription, id, attempt, status, text))
}

const resetPostTranscription = `UPDATE posts
SET transcription_status = 'pending', audio_transcription = NULL, updated_at = now()
WHERE id = $1 AND transcription_status IN ('completed', 'failed')
RETURNING ` + postColumns

func (q *Queries) ResetPostTranscription(ctx context.Context, id string) (*Post, error) {
	return scanPost(q.db.QueryRow(ctx, resetPostTranscription, id))
}

const failStalePostTranscriptions = `UPDATE posts
SET transcription_status = 'failed', audio_transcription = $2, updated_at = now()
WHERE transcription_status = 'processing' AND transcription_started_at < $1
RETURNING ` + postColumns

func (q *Queries) FailStalePostTranscriptions(ctx context.Context, olderThan time.Time, fallback string) ([]*Post, error) {
	rows, err := q.db.Query(ctx, failStalePostTranscriptions, olderThan, fallback)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Post
	for rows.Next() {
		i, err := scanPost(rows)
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
