package media

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store matching PostgresStore's behavior.
type MemoryStore struct {
	Now func() time.Time

	mu       sync.Mutex
	assets   map[string]*Asset
	variants map[string]*Variant
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Now:      time.Now,
		assets:   map[string]*Asset{},
		variants: map[string]*Variant{},
	}
}

func (s *MemoryStore) now() time.Time {
	return s.Now().UTC()
}

func (s *MemoryStore) InsertAsset(ctx context.Context, na NewAsset) (*Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assets {
		if (na.JobID != "" && a.JobID == na.JobID) || (a.UserID == na.UserID && a.URL == na.URL) {
			return nil, ErrAlreadyExists
		}
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate media id: %w", err)
	}
	now := s.now()
	a := &Asset{
		ID:          id.String(),
		UserID:      na.UserID,
		JobID:       na.JobID,
		Type:        na.Type,
		URL:         na.URL,
		StoragePath: na.StoragePath,
		ThumbURL:    na.ThumbURL,
		ThumbPath:   na.ThumbPath,
		Title:       na.Title,
		DurationSec: na.DurationSec,
		Width:       na.Width,
		Height:      na.Height,
		Source:      na.Source,
		CfUID:       na.CfUID,
		CfStatus:    na.CfStatus,
		Labels:      NormalizeLabels(na.Labels),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.assets[a.ID] = a
	return cloneAsset(a), nil
}

func (s *MemoryStore) GetAsset(ctx context.Context, id string) (*Asset, error) {
	return s.findAsset(func(a *Asset) bool { return a.ID == id })
}

func (s *MemoryStore) GetAssetByJob(ctx context.Context, jobID string) (*Asset, error) {
	return s.findAsset(func(a *Asset) bool { return jobID != "" && a.JobID == jobID })
}

func (s *MemoryStore) GetAssetByUserURL(ctx context.Context, userID, url string) (*Asset, error) {
	return s.findAsset(func(a *Asset) bool { return a.UserID == userID && a.URL == url })
}

func (s *MemoryStore) findAsset(match func(*Asset) bool) (*Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assets {
		if match(a) {
			return cloneAsset(a), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListAssets(ctx context.Context, userID string, f Filter) ([]*Asset, error) {
	f = f.normalized()
	query := strings.ToLower(f.Query)

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Asset
	for _, a := range s.assets {
		switch {
		case a.UserID != userID:
		case f.Type != "" && a.Type != f.Type:
		case a.Hidden && !f.IncludeHidden:
		case query != "" && !strings.Contains(strings.ToLower(a.Title), query) && !strings.Contains(strings.ToLower(a.URL), query):
		case f.Label != "" && !slices.Contains(a.Labels, f.Label):
		default:
			out = append(out, cloneAsset(a))
		}
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	switch f.Sort {
	case SortOldest:
		slices.Reverse(out)
	case SortAZ:
		sort.SliceStable(out, func(i, k int) bool { return sortTitle(out[i]) < sortTitle(out[k]) })
	case SortDuration:
		sort.SliceStable(out, func(i, k int) bool { return out[i].DurationSec > out[k].DurationSec })
	}
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func sortTitle(a *Asset) string {
	if a.Title != "" {
		return strings.ToLower(a.Title)
	}
	return strings.ToLower(a.URL)
}

func (s *MemoryStore) UpdateAsset(ctx context.Context, id, userID string, p Patch) (*Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok || a.UserID != userID {
		return nil, ErrNotFound
	}
	if p.Title != nil {
		a.Title = *p.Title
	}
	if p.Hidden != nil {
		a.Hidden = *p.Hidden
	}
	if p.Labels != nil {
		a.Labels = NormalizeLabels(*p.Labels)
	}
	a.UpdatedAt = s.now()
	return cloneAsset(a), nil
}

func (s *MemoryStore) SetStreamStatus(ctx context.Context, cfUID, cfStatus string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, a := range s.assets {
		if a.CfUID == cfUID {
			a.CfStatus = cfStatus
			a.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) InsertVariant(ctx context.Context, nv NewVariant) (*Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assets[nv.MediaAssetID]; !ok {
		return nil, fmt.Errorf("insert video variant: %w", ErrNotFound)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate variant id: %w", err)
	}
	now := s.now()
	v := &Variant{
		ID:           id.String(),
		MediaAssetID: nv.MediaAssetID,
		UserID:       nv.UserID,
		StartSec:     nv.StartSec,
		EndSec:       nv.EndSec,
		Status:       VariantPending,
		OutputPath:   nv.outputPath(id.String()),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.variants[v.ID] = v
	return cloneVariant(v), nil
}

func (s *MemoryStore) GetVariant(ctx context.Context, id string) (*Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneVariant(v), nil
}

func (s *MemoryStore) ListVariants(ctx context.Context, assetID string) ([]*Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Variant
	for _, v := range s.variants {
		if v.MediaAssetID == assetID && v.Status != VariantCancelled {
			out = append(out, cloneVariant(v))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) FinishVariant(ctx context.Context, id string, status VariantStatus, outputURL, errMsg string) (*Variant, error) {
	return s.fromPending(id, func(v *Variant) {
		v.Status = status
		v.OutputURL = outputURL
		v.Error = errMsg
	})
}

func (s *MemoryStore) CancelVariant(ctx context.Context, id string) (*Variant, error) {
	return s.fromPending(id, func(v *Variant) {
		v.Status = VariantCancelled
	})
}

func (s *MemoryStore) fromPending(id string, apply func(*Variant)) (*Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[id]
	if !ok {
		return nil, ErrNotFound
	}
	if v.Status != VariantPending {
		return cloneVariant(v), ErrVariantNotPending
	}
	apply(v)
	v.UpdatedAt = s.now()
	return cloneVariant(v), nil
}

func (s *MemoryStore) DeleteVariant(ctx context.Context, id string, expected VariantStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[id]
	if !ok || v.Status != expected {
		return false, nil
	}
	delete(s.variants, id)
	return true, nil
}

// Backdate shifts an asset's creation time, for ordering tests.
func (s *MemoryStore) Backdate(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.assets[id]; ok {
		a.CreatedAt = at
	}
}

func cloneAsset(a *Asset) *Asset {
	c := *a
	c.Labels = slices.Clone(a.Labels)
	if c.Labels == nil {
		c.Labels = []string{}
	}
	return &c
}

func cloneVariant(v *Variant) *Variant {
	c := *v
	return &c
}
