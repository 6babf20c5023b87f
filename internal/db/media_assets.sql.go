package db

import (
	"context"

	"github.com/jackc/pgx/v5"
)

const mediaAssetColumns = `id, user_id, job_id, type, url, storage_path, thumb_url, thumb_path, title,
	duration_sec, width, height, source, cf_uid, cf_status, hidden, labels, created_at, updated_at`

func scanMediaAsset(row pgx.Row) (*MediaAsset, error) {
	var i MediaAsset
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.JobID,
		&i.Type,
		&i.URL,
		&i.StoragePath,
		&i.ThumbURL,
		&i.ThumbPath,
		&i.Title,
		&i.DurationSec,
		&i.Width,
		&i.Height,
		&i.Source,
		&i.CfUID,
		&i.CfStatus,
		&i.Hidden,
		&i.Labels,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

const insertMediaAsset = `INSERT INTO media_assets (
    id, user_id, job_id, type, url, storage_path, thumb_url, thumb_path, title,
    duration_sec, width, height, source, cf_uid, cf_status, labels
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT DO NOTHING
RETURNING ` + mediaAssetColumns

type InsertMediaAssetParams struct {
	ID          string
	UserID      string
	JobID       *string
	Type        string
	URL         string
	StoragePath *string
	ThumbURL    *string
	ThumbPath   *string
	Title       *string
	DurationSec *float64
	Width       *int32
	Height      *int32
	Source      string
	CfUID       *string
	CfStatus    *string
	Labels      []string
}

// InsertMediaAsset returns pgx.ErrNoRows when an asset already exists for the
// job or for the (user_id, url) pair.
func (q *Queries) InsertMediaAsset(ctx context.Context, arg *InsertMediaAssetParams) (*MediaAsset, error) {
	labels := arg.Labels
	if labels == nil {
		labels = []string{}
	}
	row := q.db.QueryRow(ctx, insertMediaAsset,
		arg.ID,
		arg.UserID,
		arg.JobID,
		arg.Type,
		arg.URL,
		arg.StoragePath,
		arg.ThumbURL,
		arg.ThumbPath,
		arg.Title,
		arg.DurationSec,
		arg.Width,
		arg.Height,
		arg.Source,
		arg.CfUID,
		arg.CfStatus,
		labels,
	)
	return scanMediaAsset(row)
}

const getMediaAsset = `SELECT ` + mediaAssetColumns + ` FROM media_assets WHERE id = $1`

func (q *Queries) GetMediaAsset(ctx context.Context, id string) (*MediaAsset, error) {
	return scanMediaAsset(q.db.QueryRow(ctx, getMediaAsset, id))
}

const getMediaAssetByJob = `SELECT ` + mediaAssetColumns + ` FROM media_assets WHERE job_id = $1`

func (q *Queries) GetMediaAssetByJob(ctx context.Context, jobID string) (*MediaAsset, error) {
	return scanMediaAsset(q.db.QueryRow(ctx, getMediaAssetByJob, jobID))
}

const getMediaAssetByUserURL = `SELECT ` + mediaAssetColumns + ` FROM media_assets WHERE user_id = $1 AND url = $2`

func (q *Queries) GetMediaAssetByUserURL(ctx context.Context, userID, url string) (*MediaAsset, error) {
	return scanMediaAsset(q.db.QueryRow(ctx, getMediaAssetByUserURL, userID, url))
}

const listMediaAssets = `SELECT ` + mediaAssetColumns + ` FROM media_assets
WHERE user_id = $1
  AND ($2::text = '' OR type = $2)
  AND ($3::boolean OR NOT hidden)
  AND ($4::text = '' OR title ILIKE '%' || $4 || '%' OR url ILIKE '%' || $4 || '%')
  AND ($5::text = '' OR $5 = ANY(labels))
ORDER BY
  CASE WHEN $6 = 'oldest' THEN created_at END ASC,
  CASE WHEN $6 = 'az' THEN lower(COALESCE(NULLIF(title, ''), url)) END ASC,
  CASE WHEN $6 = 'duration' THEN duration_sec END DESC NULLS LAST,
  created_at DESC
LIMIT $7`

type ListMediaAssetsParams struct {
	UserID        string
	Type          string
	IncludeHidden bool
	Query         string
	Label         string
	Sort          string
	Limit         int32
}

func (q *Queries) ListMediaAssets(ctx context.Context, arg *ListMediaAssetsParams) ([]*MediaAsset, error) {
	rows, err := q.db.Query(ctx, listMediaAssets,
		arg.UserID,
		arg.Type,
		arg.IncludeHidden,
		arg.Query,
		arg.Label,
		arg.Sort,
		arg.Limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*MediaAsset
	for rows.Next() {
		i, err := scanMediaAsset(rows)
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

const updateMediaAsset = `UPDATE media_assets
SET title = COALESCE($3, title),
    hidden = COALESCE($4, hidden),
    labels = COALESCE($5, labels),
    updated_at = now()
WHERE id = $1 AND user_id = $2
RETURNING ` + mediaAssetColumns

type UpdateMediaAssetParams struct {
	ID     string
	UserID string
	Title  *string
	Hidden *bool
	// Labels replaces the label set when non-nil.
	Labels []string
}

// UpdateMediaAsset returns pgx.ErrNoRows unless the asset exists and is owned by UserID.
func (q *Queries) UpdateMediaAsset(ctx context.Context, arg *UpdateMediaAssetParams) (*MediaAsset, error) {
	row := q.db.QueryRow(ctx, updateMediaAsset,
		arg.ID,
		arg.UserID,
		arg.Title,
		arg.Hidden,
		arg.Labels,
	)
	return scanMediaAsset(row)
}

const setMediaAssetStreamStatus = `UPDATE media_assets
SET cf_status = $2, updated_at = now()
WHERE cf_uid = $1`

func (q *Queries) SetMediaAssetStreamStatus(ctx context.Context, cfUID, cfStatus string) (int64, error) {
	tag, err := q.db.Exec(ctx, setMediaAssetStreamStatus, cfUID, cfStatus)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
