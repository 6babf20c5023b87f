package db

import (
	"context"

	"github.com/jackc/pgx/v5"
)

const videoVariantColumns = `id, media_asset_id, user_id, start_sec, end_sec, status, output_url, output_path, error, created_at, updated_at`

func scanVideoVariant(row pgx.Row) (*VideoVariant, error) {
	var i VideoVariant
	err := row.Scan(
		&i.ID,
		&i.MediaAssetID,
		&i.UserID,
		&i.StartSec,
		&i.EndSec,
		&i.Status,
		&i.OutputURL,
		&i.OutputPath,
		&i.Error,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

const insertVideoVariant = `INSERT INTO video_variants (id, media_asset_id, user_id, start_sec, end_sec, output_path)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + videoVariantColumns

type InsertVideoVariantParams struct {
	ID           string
	MediaAssetID string
	UserID       string
	StartSec     float64
	EndSec       float64
	OutputPath   *string
}

func (q *Queries) InsertVideoVariant(ctx context.Context, arg *InsertVideoVariantParams) (*VideoVariant, error) {
	row := q.db.QueryRow(ctx, insertVideoVariant,
		arg.ID,
		arg.MediaAssetID,
		arg.UserID,
		arg.StartSec,
		arg.EndSec,
		arg.OutputPath,
	)
	return scanVideoVariant(row)
}

const getVideoVariant = `SELECT ` + videoVariantColumns + ` FROM video_variants WHERE id = $1`

func (q *Queries) GetVideoVariant(ctx context.Context, id string) (*VideoVariant, error) {
	return scanVideoVariant(q.db.QueryRow(ctx, getVideoVariant, id))
}

const listVideoVariantsByAsset = `SELECT ` + videoVariantColumns + ` FROM video_variants
WHERE media_asset_id = $1 AND status <> 'cancelled'
ORDER BY created_at DESC`

func (q *Queries) ListVideoVariantsByAsset(ctx context.Context, mediaAssetID string) ([]*VideoVariant, error) {
	rows, err := q.db.Query(ctx, listVideoVariantsByAsset, mediaAssetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*VideoVariant
	for rows.Next() {
		i, err := scanVideoVariant(rows)
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

const finishVideoVariant = `UPDATE video_variants
SET status = $2, output_url = $3, error = $4, updated_at = now()
WHERE id = $1 AND status = 'pending'
RETURNING ` + videoVariantColumns

// FinishVideoVariant moves a pending variant to ready or failed. It returns
// pgx.ErrNoRows when the variant is missing or no longer pending.
func (q *Queries) FinishVideoVariant(ctx context.Context, id, status string, outputURL, errMsg *string) (*VideoVariant, error) {
	return scanVideoVariant(q.db.QueryRow(ctx, finishVideoVariant, id, status, outputURL, errMsg))
}

const cancelVideoVariant = `UPDATE video_variants
SET status = 'cancelled', updated_at = now()
WHERE id = $1 AND status = 'pending'
RETURNING ` + videoVariantColumns

func (q *Queries) CancelVideoVariant(ctx context.Context, id string) (*VideoVariant, error) {
	return scanVideoVariant(q.db.QueryRow(ctx, cancelVideoVariant, id))
}

const deleteVideoVariant = `DELETE FROM video_variants WHERE id = $1 AND status = $2`

// DeleteVideoVariant deletes the variant only while it is still in the
// expected status.
func (q *Queries) DeleteVideoVariant(ctx context.Context, id, expectedStatus string) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteVideoVariant, id, expectedStatus)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
