package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"thirdcoast.systems/carrot/internal/db"
)

type PostgresStore struct {
	dbc *db.DatabaseConnection
}

func NewPostgresStore(dbc *db.DatabaseConnection) *PostgresStore {
	return &PostgresStore{dbc: dbc}
}

func (s *PostgresStore) InsertAsset(ctx context.Context, na NewAsset) (*Asset, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate media id: %w", err)
	}
	row, err := s.dbc.Queries(ctx).InsertMediaAsset(ctx, &db.InsertMediaAssetParams{
		ID:          id.String(),
		UserID:      na.UserID,
		JobID:       db.NilIfZero(na.JobID),
		Type:        string(na.Type),
		URL:         na.URL,
		StoragePath: db.NilIfZero(na.StoragePath),
		ThumbURL:    db.NilIfZero(na.ThumbURL),
		ThumbPath:   db.NilIfZero(na.ThumbPath),
		Title:       db.NilIfZero(na.Title),
		DurationSec: db.NilIfZero(na.DurationSec),
		Width:       db.NilIfZero(int32(na.Width)),
		Height:      db.NilIfZero(int32(na.Height)),
		Source:      string(na.Source),
		CfUID:       db.NilIfZero(na.CfUID),
		CfStatus:    db.NilIfZero(na.CfStatus),
		Labels:      NormalizeLabels(na.Labels),
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAlreadyExists
	}
	if err != nil {
		return nil, fmt.Errorf("insert media asset: %w", err)
	}
	return assetFromRow(row), nil
}

func (s *PostgresStore) GetAsset(ctx context.Context, id string) (*Asset, error) {
	return oneAsset(s.dbc.Queries(ctx).GetMediaAsset(ctx, id))
}

func (s *PostgresStore) GetAssetByJob(ctx context.Context, jobID string) (*Asset, error) {
	return oneAsset(s.dbc.Queries(ctx).GetMediaAssetByJob(ctx, jobID))
}

func (s *PostgresStore) GetAssetByUserURL(ctx context.Context, userID, url string) (*Asset, error) {
	return oneAsset(s.dbc.Queries(ctx).GetMediaAssetByUserURL(ctx, userID, url))
}

func (s *PostgresStore) ListAssets(ctx context.Context, userID string, f Filter) ([]*Asset, error) {
	f = f.normalized()
	rows, err := s.dbc.Queries(ctx).ListMediaAssets(ctx, &db.ListMediaAssetsParams{
		UserID:        userID,
		Type:          string(f.Type),
		IncludeHidden: f.IncludeHidden,
		Query:         f.Query,
		Label:         f.Label,
		Sort:          f.Sort,
		Limit:         int32(f.Limit),
	})
	if err != nil {
		return nil, fmt.Errorf("list media assets: %w", err)
	}
	out := make([]*Asset, 0, len(rows))
	for _, r := range rows {
		out = append(out, assetFromRow(r))
	}
	return out, nil
}

func (s *PostgresStore) UpdateAsset(ctx context.Context, id, userID string, p Patch) (*Asset, error) {
	params := &db.UpdateMediaAssetParams{
		ID:     id,
		UserID: userID,
		Title:  p.Title,
		Hidden: p.Hidden,
	}
	if p.Labels != nil {
		params.Labels = NormalizeLabels(*p.Labels)
	}
	return oneAsset(s.dbc.Queries(ctx).UpdateMediaAsset(ctx, params))
}

func (s *PostgresStore) SetStreamStatus(ctx context.Context, cfUID, cfStatus string) (int64, error) {
	n, err := s.dbc.Queries(ctx).SetMediaAssetStreamStatus(ctx, cfUID, cfStatus)
	if err != nil {
		return 0, fmt.Errorf("set media stream status: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) InsertVariant(ctx context.Context, nv NewVariant) (*Variant, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate variant id: %w", err)
	}
	row, err := s.dbc.Queries(ctx).InsertVideoVariant(ctx, &db.InsertVideoVariantParams{
		ID:           id.String(),
		MediaAssetID: nv.MediaAssetID,
		UserID:       nv.UserID,
		StartSec:     nv.StartSec,
		EndSec:       nv.EndSec,
		OutputPath:   db.NilIfZero(nv.outputPath(id.String())),
	})
	if err != nil {
		return nil, fmt.Errorf("insert video variant: %w", err)
	}
	return variantFromRow(row), nil
}

func (s *PostgresStore) GetVariant(ctx context.Context, id string) (*Variant, error) {
	row, err := s.dbc.Queries(ctx).GetVideoVariant(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get video variant: %w", err)
	}
	return variantFromRow(row), nil
}

func (s *PostgresStore) ListVariants(ctx context.Context, assetID string) ([]*Variant, error) {
	rows, err := s.dbc.Queries(ctx).ListVideoVariantsByAsset(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("list video variants: %w", err)
	}
	out := make([]*Variant, 0, len(rows))
	for _, r := range rows {
		out = append(out, variantFromRow(r))
	}
	return out, nil
}

func (s *PostgresStore) FinishVariant(ctx context.Context, id string, status VariantStatus, outputURL, errMsg string) (*Variant, error) {
	row, err := s.dbc.Queries(ctx).FinishVideoVariant(ctx, id, string(status), db.NilIfZero(outputURL), db.NilIfZero(errMsg))
	return s.pendingOnly(ctx, id, row, err)
}

func (s *PostgresStore) CancelVariant(ctx context.Context, id string) (*Variant, error) {
	row, err := s.dbc.Queries(ctx).CancelVideoVariant(ctx, id)
	return s.pendingOnly(ctx, id, row, err)
}

// pendingOnly maps a pending-guarded update that matched no row to the
// variant's current state with ErrVariantNotPending.
func (s *PostgresStore) pendingOnly(ctx context.Context, id string, row *db.VideoVariant, err error) (*Variant, error) {
	if err == nil {
		return variantFromRow(row), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update video variant: %w", err)
	}
	current, err := s.GetVariant(ctx, id)
	if err != nil {
		return nil, err
	}
	return current, ErrVariantNotPending
}

func (s *PostgresStore) DeleteVariant(ctx context.Context, id string, expected VariantStatus) (bool, error) {
	n, err := s.dbc.Queries(ctx).DeleteVideoVariant(ctx, id, string(expected))
	if err != nil {
		return false, fmt.Errorf("delete video variant: %w", err)
	}
	return n > 0, nil
}

func oneAsset(row *db.MediaAsset, err error) (*Asset, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load media asset: %w", err)
	}
	return assetFromRow(row), nil
}

func assetFromRow(r *db.MediaAsset) *Asset {
	labels := r.Labels
	if labels == nil {
		labels = []string{}
	}
	return &Asset{
		ID:          r.ID,
		UserID:      r.UserID,
		JobID:       db.Deref(r.JobID),
		Type:        Type(r.Type),
		URL:         r.URL,
		StoragePath: db.Deref(r.StoragePath),
		ThumbURL:    db.Deref(r.ThumbURL),
		ThumbPath:   db.Deref(r.ThumbPath),
		Title:       db.Deref(r.Title),
		DurationSec: db.Deref(r.DurationSec),
		Width:       int(db.Deref(r.Width)),
		Height:      int(db.Deref(r.Height)),
		Source:      Source(r.Source),
		CfUID:       db.Deref(r.CfUID),
		CfStatus:    db.Deref(r.CfStatus),
		Hidden:      r.Hidden,
		Labels:      labels,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func variantFromRow(r *db.VideoVariant) *Variant {
	return &Variant{
		ID:           r.ID,
		MediaAssetID: r.MediaAssetID,
		UserID:       r.UserID,
		StartSec:     r.StartSec,
		EndSec:       r.EndSec,
		Status:       VariantStatus(r.Status),
		OutputURL:    db.Deref(r.OutputURL),
		OutputPath:   db.Deref(r.OutputPath),
		Error:        db.Deref(r.Error),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}
