package posts

import (
	"context"
	"errors"
	"fmt"
	"time"

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

func (s *PostgresStore) Create(ctx context.Context, userID string) (*Post, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate post id: %w", err)
	}
	row, err := s.dbc.Queries(ctx).CreatePost(ctx, id.String(), userID)
	if err != nil {
		return nil, fmt.Errorf("insert post: %w", err)
	}
	return fromRow(row), nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Post, error) {
	row, err := s.dbc.Queries(ctx).GetPost(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	return fromRow(row), nil
}

func (s *PostgresStore) AttachMedia(ctx context.Context, id string, m Media) (*Post, error) {
	row, err := s.dbc.Queries(ctx).AttachPostMedia(ctx, &db.AttachPostMediaParams{
		ID:           id,
		VideoURL:     db.NilIfZero(m.VideoURL),
		AudioURL:     db.NilIfZero(m.AudioURL),
		ThumbnailURL: db.NilIfZero(m.ThumbnailURL),
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("attach post media: %w", err)
	}
	return fromRow(row), nil
}

func (s *PostgresStore) BeginTranscription(ctx context.Context, id string) (*Post, bool, error) {
	row, err := s.dbc.Queries(ctx).BeginPostTranscription(ctx, id)
	if err == nil {
		return fromRow(row), true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("begin post transcription: %w", err)
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (s *PostgresStore) FinishTranscription(ctx context.Context, id string, attempt int, status TranscriptionStatus, text string) (*Post, error) {
	row, err := s.dbc.Queries(ctx).FinishPostTranscription(ctx, id, int32(attempt), string(status), text)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStaleAttempt
	}
	if err != nil {
		return nil, fmt.Errorf("finish post transcription: %w", err)
	}
	return fromRow(row), nil
}

func (s *PostgresStore) ResetTranscription(ctx context.Context, id string) (*Post, error) {
	row, err := s.dbc.Queries(ctx).ResetPostTranscription(ctx, id)
	if err == nil {
		return fromRow(row), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reset post transcription: %w", err)
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrNotResettable
}

func (s *PostgresStore) FailStaleTranscriptions(ctx context.Context, olderThan time.Time, fallback string) ([]*Post, error) {
	rows, err := s.dbc.Queries(ctx).FailStalePostTranscriptions(ctx, olderThan, fallback)
	if err != nil {
		return nil, fmt.Errorf("fail stale post transcriptions: %w", err)
	}
	out := make([]*Post, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

func fromRow(r *db.Post) *Post {
	return &Post{
		ID:                     r.ID,
		UserID:                 r.UserID,
		AudioURL:               db.Deref(r.AudioURL),
		VideoURL:               db.Deref(r.VideoURL),
		ThumbnailURL:           db.Deref(r.ThumbnailURL),
		TranscriptionStatus:    TranscriptionStatus(db.Deref(r.TranscriptionStatus)),
		AudioTranscription:     r.AudioTranscription,
		TranscriptionAttempt:   int(r.TranscriptionAttempt),
		TranscriptionStartedAt: r.TranscriptionStartedAt,
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
	}
}
