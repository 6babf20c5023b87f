package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"thirdcoast.systems/carrot/internal/db"
	"thirdcoast.systems/carrot/internal/urlnorm"
)

// casAttempts bounds how often a transition is retried when the row changes
// between the conditional update and the follow-up read.
const casAttempts = 3

type PostgresStore struct {
	dbc *db.DatabaseConnection
}

func NewPostgresStore(dbc *db.DatabaseConnection) *PostgresStore {
	return &PostgresStore{dbc: dbc}
}

func (s *PostgresStore) Create(ctx context.Context, nj NewJob) (*Job, error) {
	q := s.dbc.Queries(ctx)
	for range casAttempts {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate job id: %w", err)
		}
		row, err := q.CreateIngestJob(ctx, &db.CreateIngestJobParams{
			ID:            id.String(),
			UserID:        nj.UserID,
			PostID:        db.NilIfZero(nj.PostID),
			SourceURL:     nj.SourceURL,
			NormalizedURL: nj.NormalizedURL,
			SourceType:    string(nj.SourceType),
			StorageKey:    db.NilIfZero(nj.storageKey(id.String())),
		})
		if err == nil {
			return fromRow(row), nil
		}
		if !db.IsUniqueViolation(err, db.ActiveJobDedupIndex) {
			return nil, fmt.Errorf("insert ingest job: %w", err)
		}

		existing, err := q.GetActiveIngestJobByKey(ctx, nj.UserID, nj.NormalizedURL)
		if errors.Is(err, pgx.ErrNoRows) {
			// The in-flight job finished between the insert and the read.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load active ingest job: %w", err)
		}
		return nil, &DuplicateActiveJobError{Existing: fromRow(existing)}
	}
	return nil, fmt.Errorf("insert ingest job: %w", errRetryTransition)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	row, err := s.dbc.Queries(ctx).GetIngestJob(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ingest job: %w", err)
	}
	return fromRow(row), nil
}

func (s *PostgresStore) Claim(ctx context.Context, id string) (*Job, error) {
	row, err := s.dbc.Queries(ctx).ClaimIngestJob(ctx, id)
	if err == nil {
		return fromRow(row), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("claim ingest job: %w", err)
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return current, ErrAlreadyClaimed
}

func (s *PostgresStore) ReportProgress(ctx context.Context, id string, progress int) (*Job, error) {
	row, err := s.dbc.Queries(ctx).UpdateIngestJobProgress(ctx, id, int32(clampProgress(progress)))
	if err == nil {
		return fromRow(row), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update ingest job progress: %w", err)
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return current, ErrInvalidTransition
}

func (s *PostgresStore) Complete(ctx context.Context, id string, res Result) (*Job, bool, error) {
	return s.terminal(ctx, id, StatusCompleted, func(q *db.Queries) (*db.IngestJob, error) {
		return q.CompleteIngestJob(ctx, &db.CompleteIngestJobParams{
			ID:             id,
			ResultMediaURL: db.NilIfZero(res.MediaURL),
			ResultVideoURL: db.NilIfZero(res.VideoURL),
			ThumbnailURL:   db.NilIfZero(res.ThumbnailURL),
			Title:          db.NilIfZero(res.Title),
			Channel:        db.NilIfZero(res.Channel),
			DurationSec:    db.NilIfZero(res.DurationSec),
			Width:          db.NilIfZero(int32(res.Width)),
			Height:         db.NilIfZero(int32(res.Height)),
			CfUID:          db.NilIfZero(res.CfUID),
			CfStatus:       db.NilIfZero(res.CfStatus),
		})
	})
}

func (s *PostgresStore) Fail(ctx context.Context, id string, reason string) (*Job, bool, error) {
	return s.terminal(ctx, id, StatusFailed, func(q *db.Queries) (*db.IngestJob, error) {
		return q.FailIngestJob(ctx, id, reason)
	})
}

func (s *PostgresStore) terminal(ctx context.Context, id string, target Status, update func(*db.Queries) (*db.IngestJob, error)) (*Job, bool, error) {
	q := s.dbc.Queries(ctx)
	for range casAttempts {
		row, err := update(q)
		if err == nil {
			return fromRow(row), true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("transition ingest job to %s: %w", target, err)
		}

		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		switch err := resolveTerminal(current, target); {
		case err == nil:
			return current, false, nil
		case errors.Is(err, errRetryTransition):
			continue
		default:
			return current, false, err
		}
	}
	return nil, false, fmt.Errorf("transition ingest job %s to %s: %w", id, target, ErrInvalidTransition)
}

func (s *PostgresStore) RecordDispatch(ctx context.Context, id string) error {
	if _, err := s.dbc.Queries(ctx).RecordIngestDispatch(ctx, id); err != nil {
		return fmt.Errorf("record ingest dispatch: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRedispatchable(ctx context.Context, maxAttempts int, olderThan time.Time, limit int) ([]*Job, error) {
	rows, err := s.dbc.Queries(ctx).ListRedispatchableIngestJobs(ctx, int32(maxAttempts), olderThan, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("list redispatchable ingest jobs: %w", err)
	}
	return fromRows(rows), nil
}

func (s *PostgresStore) FailUndispatched(ctx context.Context, maxAttempts int, olderThan time.Time, reason string) ([]*Job, error) {
	rows, err := s.dbc.Queries(ctx).FailUndispatchedIngestJobs(ctx, int32(maxAttempts), olderThan, reason)
	if err != nil {
		return nil, fmt.Errorf("fail undispatched ingest jobs: %w", err)
	}
	return fromRows(rows), nil
}

func (s *PostgresStore) FailStaleProcessing(ctx context.Context, olderThan time.Time, reason string) ([]*Job, error) {
	rows, err := s.dbc.Queries(ctx).FailStaleProcessingIngestJobs(ctx, olderThan, reason)
	if err != nil {
		return nil, fmt.Errorf("fail stale ingest jobs: %w", err)
	}
	return fromRows(rows), nil
}

func (s *PostgresStore) ListCompleted(ctx context.Context, since time.Time, userID string, limit int) ([]*Job, error) {
	rows, err := s.dbc.Queries(ctx).ListCompletedIngestJobs(ctx, since, userID, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("list completed ingest jobs: %w", err)
	}
	return fromRows(rows), nil
}

func (s *PostgresStore) SetStreamStatus(ctx context.Context, cfUID, cfStatus string) (int64, error) {
	n, err := s.dbc.Queries(ctx).SetIngestJobStreamStatus(ctx, cfUID, cfStatus)
	if err != nil {
		return 0, fmt.Errorf("set ingest job stream status: %w", err)
	}
	return n, nil
}

func fromRows(rows []*db.IngestJob) []*Job {
	out := make([]*Job, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out
}

func fromRow(r *db.IngestJob) *Job {
	return &Job{
		ID:               r.ID,
		UserID:           r.UserID,
		PostID:           db.Deref(r.PostID),
		SourceURL:        r.SourceURL,
		NormalizedURL:    r.NormalizedURL,
		SourceType:       urlnorm.SourceType(r.SourceType),
		Status:           Status(r.Status),
		Progress:         int(r.Progress),
		ResultMediaURL:   db.Deref(r.ResultMediaURL),
		ResultVideoURL:   db.Deref(r.ResultVideoURL),
		ThumbnailURL:     db.Deref(r.ThumbnailURL),
		Title:            db.Deref(r.Title),
		Channel:          db.Deref(r.Channel),
		Error:            db.Deref(r.Error),
		StorageKey:       db.Deref(r.StorageKey),
		DurationSec:      db.Deref(r.DurationSec),
		Width:            int(db.Deref(r.Width)),
		Height:           int(db.Deref(r.Height)),
		CfUID:            db.Deref(r.CfUID),
		CfStatus:         db.Deref(r.CfStatus),
		DispatchAttempts: int(r.DispatchAttempts),
		LastDispatchedAt: r.LastDispatchedAt,
		CompletedAt:      r.CompletedAt,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}
