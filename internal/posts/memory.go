package posts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store with the same transition rules as
// PostgresStore.
type MemoryStore struct {
	Now func() time.Time

	mu    sync.Mutex
	posts map[string]*Post
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{Now: time.Now, posts: map[string]*Post{}}
}

func (s *MemoryStore) Create(ctx context.Context, userID string) (*Post, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate post id: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now().UTC()
	p := &Post{ID: id.String(), UserID: userID, CreatedAt: now, UpdatedAt: now}
	s.posts[p.ID] = p
	return clone(p), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(p), nil
}

func (s *MemoryStore) AttachMedia(ctx context.Context, id string, m Media) (*Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if m.VideoURL != "" {
		p.VideoURL = m.VideoURL
	}
	if m.AudioURL != "" {
		p.AudioURL = m.AudioURL
	}
	if m.ThumbnailURL != "" {
		p.ThumbnailURL = m.ThumbnailURL
	}
	if p.TranscriptionStatus == TranscriptionNone {
		p.TranscriptionStatus = TranscriptionPending
	}
	p.UpdatedAt = s.Now().UTC()
	return clone(p), nil
}

func (s *MemoryStore) BeginTranscription(ctx context.Context, id string) (*Post, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if p.TranscriptionStatus != TranscriptionNone && p.TranscriptionStatus != TranscriptionPending {
		return clone(p), false, nil
	}
	now := s.Now().UTC()
	p.TranscriptionStatus = TranscriptionProcessing
	p.AudioTranscription = nil
	p.TranscriptionAttempt++
	p.TranscriptionStartedAt = &now
	p.UpdatedAt = now
	return clone(p), true, nil
}

func (s *MemoryStore) FinishTranscription(ctx context.Context, id string, attempt int, status TranscriptionStatus, text string) (*Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok || p.TranscriptionStatus != TranscriptionProcessing || p.TranscriptionAttempt != attempt {
		return nil, ErrStaleAttempt
	}
	p.TranscriptionStatus = status
	p.AudioTranscription = &text
	p.UpdatedAt = s.Now().UTC()
	return clone(p), nil
}

func (s *MemoryStore) ResetTranscription(ctx context.Context, id string) (*Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !p.TranscriptionStatus.Terminal() {
		return nil, ErrNotResettable
	}
	p.TranscriptionStatus = TranscriptionPending
	p.AudioTranscription = nil
	p.UpdatedAt = s.Now().UTC()
	return clone(p), nil
}

func (s *MemoryStore) FailStaleTranscriptions(ctx context.Context, olderThan time.Time, fallback string) ([]*Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Post
	for _, p := range s.posts {
		if p.TranscriptionStatus != TranscriptionProcessing || !p.TranscriptionStartedAt.Before(olderThan) {
			continue
		}
		text := fallback
		p.TranscriptionStatus = TranscriptionFailed
		p.AudioTranscription = &text
		p.UpdatedAt = s.Now().UTC()
		out = append(out, clone(p))
	}
	return out, nil
}

func clone(p *Post) *Post {
	c := *p
	if p.AudioTranscription != nil {
		t := *p.AudioTranscription
		c.AudioTranscription = &t
	}
	if p.TranscriptionStartedAt != nil {
		t := *p.TranscriptionStartedAt
		c.TranscriptionStartedAt = &t
	}
	return &c
}
