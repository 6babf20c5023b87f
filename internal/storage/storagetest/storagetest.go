// Package storagetest provides an in-memory BlobStore for tests.
package storagetest

import (
	"context"
	"slices"
	"sync"
	"time"

	"thirdcoast.systems/carrot/internal/storage"
)

// Blobs signs fake URLs and records deletions.
type Blobs struct {
	Bucket string

	mu      sync.Mutex
	deleted []string
}

func New() *Blobs {
	return &Blobs{Bucket: "test-bucket"}
}

func (b *Blobs) WriteTarget(ctx context.Context, key, contentType string) (*storage.WriteTarget, error) {
	return &storage.WriteTarget{
		URL:         "https://blobs.test/" + b.Bucket + "/" + key + "?signature=write",
		Method:      "PUT",
		Headers:     map[string]string{"Content-Type": contentType},
		Key:         key,
		MaxBytes:    b.Policy().MaxBytes,
		ContentType: contentType,
		ExpiresAt:   time.Now().Add(b.Policy().WriteTTL),
	}, nil
}

func (b *Blobs) SignedReadURL(ctx context.Context, key string) (string, error) {
	return "https://blobs.test/" + b.Bucket + "/" + key + "?signature=read", nil
}

func (b *Blobs) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, key)
	return nil
}

func (b *Blobs) ObjectURI(key string) string {
	return "mem://" + b.Bucket + "/" + key
}

func (b *Blobs) Policy() storage.Policy {
	return storage.Policy{MaxBytes: 10 << 20, WriteTTL: 15 * time.Minute, ReadTTL: time.Hour}
}

// Deleted returns the keys passed to Delete so far.
func (b *Blobs) Deleted() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.deleted)
}
