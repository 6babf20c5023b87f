package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store with the same transition rules as
// PostgresStore. Now can be replaced to control timestamps.
type MemoryStore struct {
	Now func() time.Time

	mu   sync.Mutex
	jobs map[string]*Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{Now: time.Now, jobs: map[string]*Job{}}
}

func (s *MemoryStore) now() time.Time {
	return s.Now().UTC()
}

func (s *MemoryStore) Create(ctx context.Context, nj NewJob) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.UserID == nj.UserID && j.NormalizedURL == nj.NormalizedURL && j.Status.Active() {
			return nil, &DuplicateActiveJobError{Existing: clone(j)}
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}
	now := s.now()
	j := &Job{
		ID:            id.String(),
		UserID:        nj.UserID,
		PostID:        nj.PostID,
		SourceURL:     nj.SourceURL,
		NormalizedURL: nj.NormalizedURL,
		SourceType:    nj.SourceType,
		Status:        StatusQueued,
		StorageKey:    nj.storageKey(id.String()),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.jobs[j.ID] = j
	return clone(j), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(j), nil
}

func (s *MemoryStore) Claim(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if j.Status != StatusQueued {
		return clone(j), ErrAlreadyClaimed
	}
	j.Status = StatusProcessing
	j.UpdatedAt = s.now()
	return clone(j), nil
}

func (s *MemoryStore) ReportProgress(ctx context.Context, id string, progress int) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if j.Status != StatusProcessing {
		return clone(j), ErrInvalidTransition
	}
	j.Progress = max(j.Progress, clampProgress(progress))
	j.UpdatedAt = s.now()
	return clone(j), nil
}

func (s *MemoryStore) Complete(ctx context.Context, id string, res Result) (*Job, bool, error) {
	return s.terminal(id, StatusCompleted, func(j *Job) {
		j.Progress = 100
		j.ResultMediaURL = res.MediaURL
		j.ResultVideoURL = res.VideoURL
		j.ThumbnailURL = orKeep(res.ThumbnailURL, j.ThumbnailURL)
		j.Title = orKeep(res.Title, j.Title)
		j.Channel = orKeep(res.Channel, j.Channel)
		if res.DurationSec != 0 {
			j.DurationSec = res.DurationSec
		}
		if res.Width != 0 {
			j.Width = res.Width
		}
		if res.Height != 0 {
			j.Height = res.Height
		}
		j.CfUID = orKeep(res.CfUID, j.CfUID)
		j.CfStatus = orKeep(res.CfStatus, j.CfStatus)
		j.Error = ""
	})
}

func (s *MemoryStore) Fail(ctx context.Context, id string, reason string) (*Job, bool, error) {
	return s.terminal(id, StatusFailed, func(j *Job) {
		j.Error = reason
	})
}

func (s *MemoryStore) terminal(id string, target Status, apply func(*Job)) (*Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if j.Status.Terminal() {
		return clone(j), false, resolveTerminal(j, target)
	}
	apply(j)
	now := s.now()
	j.Status = target
	j.CompletedAt = &now
	j.UpdatedAt = now
	return clone(j), true, nil
}

func (s *MemoryStore) RecordDispatch(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok && j.Status == StatusQueued {
		now := s.now()
		j.DispatchAttempts++
		j.LastDispatchedAt = &now
	}
	return nil
}

func (s *MemoryStore) ListRedispatchable(ctx context.Context, maxAttempts int, olderThan time.Time, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.filter(func(j *Job) bool {
		return j.Status == StatusQueued && j.DispatchAttempts < maxAttempts && lastDispatch(j).Before(olderThan)
	})
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return truncate(out, limit), nil
}

func (s *MemoryStore) FailUndispatched(ctx context.Context, maxAttempts int, olderThan time.Time, reason string) ([]*Job, error) {
	return s.failWhere(reason, func(j *Job) bool {
		return j.Status == StatusQueued && j.DispatchAttempts >= maxAttempts && lastDispatch(j).Before(olderThan)
	}), nil
}

func (s *MemoryStore) FailStaleProcessing(ctx context.Context, olderThan time.Time, reason string) ([]*Job, error) {
	return s.failWhere(reason, func(j *Job) bool {
		return j.Status == StatusProcessing && j.UpdatedAt.Before(olderThan)
	}), nil
}

func (s *MemoryStore) failWhere(reason string, match func(*Job) bool) []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	now := s.now()
	for _, j := range s.jobs {
		if !match(j) {
			continue
		}
		j.Status = StatusFailed
		j.Error = reason
		j.CompletedAt = &now
		j.UpdatedAt = now
		out = append(out, clone(j))
	}
	return out
}

func (s *MemoryStore) ListCompleted(ctx context.Context, since time.Time, userID string, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.filter(func(j *Job) bool {
		return j.Status == StatusCompleted && !j.CompletedAt.Before(since) && (userID == "" || j.UserID == userID)
	})
	sort.Slice(out, func(i, k int) bool { return out[i].CompletedAt.After(*out[k].CompletedAt) })
	return truncate(out, limit), nil
}

func (s *MemoryStore) SetStreamStatus(ctx context.Context, cfUID, cfStatus string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.jobs {
		if j.CfUID == cfUID {
			j.CfStatus = cfStatus
			j.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

// Touch overwrites a job's UpdatedAt, for tests that need stale rows.
func (s *MemoryStore) Touch(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.UpdatedAt = at
	}
}

func (s *MemoryStore) filter(match func(*Job) bool) []*Job {
	var out []*Job
	for _, j := range s.jobs {
		if match(j) {
			out = append(out, clone(j))
		}
	}
	return out
}

func lastDispatch(j *Job) time.Time {
	if j.LastDispatchedAt != nil {
		return *j.LastDispatchedAt
	}
	return j.CreatedAt
}

func truncate(jobs []*Job, limit int) []*Job {
	if limit > 0 && len(jobs) > limit {
		return jobs[:limit]
	}
	return jobs
}

func orKeep(v, current string) string {
	if v != "" {
		return v
	}
	return current
}

func clone(j *Job) *Job {
	c := *j
	if j.LastDispatchedAt != nil {
		t := *j.LastDispatchedAt
		c.LastDispatchedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
