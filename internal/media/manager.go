package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"thirdcoast.systems/carrot/internal/dispatch"
	"thirdcoast.systems/carrot/internal/jobs"
	"thirdcoast.systems/carrot/internal/metrics"
	"thirdcoast.systems/carrot/internal/storage"
)

const (
	DefaultVariantPrefix = "variants/"
	maxTitleLength       = 300
)

type Config struct {
	// VariantCallbackURL is where the worker reports trim results.
	VariantCallbackURL string
	// VariantPrefix is the blob key prefix for trimmed outputs.
	VariantPrefix string
}

// Manager owns the rules around the media library: ownership, dedup of
// assets per job and per URL, and the variant lifecycle. blobs and
// dispatcher may be nil.
type Manager struct {
	store      Store
	jobs       jobs.Store
	blobs      storage.BlobStore
	dispatcher dispatch.Dispatcher
	cfg        Config
}

func NewManager(store Store, jobStore jobs.Store, blobs storage.BlobStore, dispatcher dispatch.Dispatcher, cfg Config) *Manager {
	if cfg.VariantPrefix == "" {
		cfg.VariantPrefix = DefaultVariantPrefix
	}
	return &Manager{store: store, jobs: jobStore, blobs: blobs, dispatcher: dispatcher, cfg: cfg}
}

// Listing is a page of the library. Error is set, and Items empty, when the
// store could not be read.
type Listing struct {
	Items []*Asset `json:"items"`
	Error string   `json:"error,omitempty"`
}

func (m *Manager) ListMedia(ctx context.Context, userID string, f Filter) Listing {
	items, err := m.store.ListAssets(ctx, userID, f)
	if err != nil {
		slog.Error("failed to list media", "user_id", userID, "error", err)
		return Listing{Items: []*Asset{}, Error: "media library unavailable"}
	}
	if items == nil {
		items = []*Asset{}
	}
	return Listing{Items: items}
}

func (m *Manager) GetMedia(ctx context.Context, userID, id string) (*Asset, error) {
	a, err := m.store.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, ErrForbidden
	}
	return a, nil
}

// cleanTitle trims title and caps it at maxTitleLength bytes without
// splitting a character.
func cleanTitle(title string) string {
	title = strings.TrimSpace(title)
	if len(title) <= maxTitleLength {
		return title
	}
	cut := maxTitleLength
	for cut > 0 && !utf8.RuneStart(title[cut]) {
		cut--
	}
	return title[:cut]
}

// UpdateMedia applies an owner's edit. Titles are trimmed and labels
// normalized.
func (m *Manager) UpdateMedia(ctx context.Context, userID, id string, p Patch) (*Asset, error) {
	if _, err := m.GetMedia(ctx, userID, id); err != nil {
		return nil, err
	}
	if p.Title != nil {
		title := cleanTitle(*p.Title)
		p.Title = &title
	}
	if p.Labels != nil {
		labels := NormalizeLabels(*p.Labels)
		p.Labels = &labels
	}
	a, err := m.store.UpdateAsset(ctx, id, userID, p)
	if errors.Is(err, ErrNotFound) {
		// Deleted between the ownership check and the update.
		return nil, ErrNotFound
	}
	return a, err
}

// SignedUpload is where a client sends a new upload, and where the object
// can be read once it lands.
type SignedUpload struct {
	Key     string               `json:"key"`
	Upload  *storage.WriteTarget `json:"upload"`
	ReadURL string               `json:"readUrl"`
}

// SignUpload issues a write target under the caller's upload area for a
// declared file, checked against the store's size and content type policy.
func (m *Manager) SignUpload(ctx context.Context, userID, filename, contentType string, size int64) (*SignedUpload, error) {
	if m.blobs == nil {
		return nil, storage.ErrNotConfigured
	}
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size", ErrInvalidUpload)
	}
	if err := m.blobs.Policy().CheckUpload(contentType, size); err != nil {
		return nil, err
	}
	key := storage.UploadKey(userID, filename)
	target, err := m.blobs.WriteTarget(ctx, key, contentType)
	if err != nil {
		return nil, fmt.Errorf("sign upload: %w", err)
	}
	readURL, err := m.blobs.SignedReadURL(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("sign read url: %w", err)
	}
	return &SignedUpload{Key: key, Upload: target, ReadURL: readURL}, nil
}

// Upload describes an object the caller finished uploading through a signed
// write target.
type Upload struct {
	Key         string  `json:"key"`
	URL         string  `json:"url"`
	ContentType string  `json:"contentType"`
	Title       string  `json:"title"`
	DurationSec float64 `json:"durationSec"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	ThumbURL    string  `json:"thumbUrl"`
}

// CreateUpload records an uploaded object in the caller's library. Uploading
// the same URL twice returns the existing asset.
func (m *Manager) CreateUpload(ctx context.Context, userID string, up Upload) (*Asset, error) {
	typ, ok := TypeForContentType(up.ContentType)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported content type %q", ErrInvalidUpload, up.ContentType)
	}
	if up.Key == "" && up.URL == "" {
		return nil, fmt.Errorf("%w: key or url required", ErrInvalidUpload)
	}
	if up.Key != "" && !strings.HasPrefix(up.Key, storage.UploadPrefix(userID)) {
		return nil, fmt.Errorf("%w: key outside the caller's upload area", ErrInvalidUpload)
	}
	url := up.URL
	if url == "" {
		if m.blobs == nil {
			return nil, storage.ErrNotConfigured
		}
		url = m.blobs.ObjectURI(up.Key)
	}

	a, err := m.store.InsertAsset(ctx, NewAsset{
		UserID:      userID,
		Type:        typ,
		URL:         url,
		StoragePath: up.Key,
		ThumbURL:    up.ThumbURL,
		Title:       cleanTitle(up.Title),
		DurationSec: up.DurationSec,
		Width:       up.Width,
		Height:      up.Height,
		Source:      SourceUpload,
	})
	if errors.Is(err, ErrAlreadyExists) {
		return m.store.GetAssetByUserURL(ctx, userID, url)
	}
	if err != nil {
		return nil, err
	}
	metrics.MediaAssetsCreatedTotal.WithLabelValues("upload").Inc()
	return a, nil
}

// EnsureFromJob makes sure a completed job is represented in its owner's
// library exactly once. created is false when an asset already existed for
// the job or for the same URL.
func (m *Manager) EnsureFromJob(ctx context.Context, job *jobs.Job) (asset *Asset, created bool, err error) {
	return m.ensureFromJob(ctx, job, "callback")
}

func (m *Manager) ensureFromJob(ctx context.Context, job *jobs.Job, via string) (*Asset, bool, error) {
	if job.Status != jobs.StatusCompleted {
		return nil, false, fmt.Errorf("job %s is %s, not completed", job.ID, job.Status)
	}
	url := job.MediaURL()
	if url == "" {
		return nil, false, fmt.Errorf("job %s completed without media", job.ID)
	}

	if a, err := m.existing(ctx, job.ID, job.UserID, url); a != nil || err != nil {
		return a, false, err
	}
	a, err := m.store.InsertAsset(ctx, NewAsset{
		UserID:      job.UserID,
		JobID:       job.ID,
		Type:        TypeForURL(url),
		URL:         url,
		StoragePath: job.StorageKey,
		ThumbURL:    job.ThumbnailURL,
		Title:       job.Title,
		DurationSec: job.DurationSec,
		Width:       job.Width,
		Height:      job.Height,
		Source:      SourceExternal,
		CfUID:       job.CfUID,
		CfStatus:    job.CfStatus,
	})
	if errors.Is(err, ErrAlreadyExists) {
		// Lost a race with another observer of the same job.
		a, err := m.existing(ctx, job.ID, job.UserID, url)
		if a == nil && err == nil {
			err = fmt.Errorf("media asset for job %s conflicted but cannot be found", job.ID)
		}
		return a, false, err
	}
	if err != nil {
		return nil, false, err
	}
	metrics.MediaAssetsCreatedTotal.WithLabelValues(via).Inc()
	slog.Info("media asset created", "asset_id", a.ID, "job_id", job.ID, "user_id", job.UserID, "via", via)
	return a, true, nil
}

func (m *Manager) existing(ctx context.Context, jobID, userID, url string) (*Asset, error) {
	a, err := m.store.GetAssetByJob(ctx, jobID)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return a, err
	}
	a, err = m.store.GetAssetByUserURL(ctx, userID, url)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return a, err
}

type BackfillResult struct {
	Created  int `json:"created"`
	Examined int `json:"examined"`
}

// Backfill reconciles jobs completed within window into their owners'
// libraries. An empty userID covers every user.
func (m *Manager) Backfill(ctx context.Context, userID string, window time.Duration, limit int) (BackfillResult, error) {
	var res BackfillResult
	completed, err := m.jobs.ListCompleted(ctx, time.Now().Add(-window), userID, limit)
	if err != nil {
		return res, err
	}
	var errs []error
	for _, job := range completed {
		res.Examined++
		if job.MediaURL() == "" {
			continue
		}
		_, created, err := m.ensureFromJob(ctx, job, "backfill")
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", job.ID, err))
			continue
		}
		if created {
			res.Created++
		}
	}
	return res, errors.Join(errs...)
}

// SetStreamStatus records the transcode provider's status on every asset
// carrying cfUID.
func (m *Manager) SetStreamStatus(ctx context.Context, cfUID, cfStatus string) (int64, error) {
	return m.store.SetStreamStatus(ctx, cfUID, cfStatus)
}

func validRange(start, end, duration float64) error {
	switch {
	case math.IsNaN(start) || math.IsNaN(end) || math.IsInf(start, 0) || math.IsInf(end, 0):
		return fmt.Errorf("%w: range must be finite", ErrInvalidVariant)
	case start < 0:
		return fmt.Errorf("%w: start must not be negative", ErrInvalidVariant)
	case end <= start:
		return fmt.Errorf("%w: end must be after start", ErrInvalidVariant)
	case duration > 0 && end > duration:
		return fmt.Errorf("%w: end is past the video's %.1fs duration", ErrInvalidVariant, duration)
	}
	return nil
}
