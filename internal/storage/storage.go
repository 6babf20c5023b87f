// Package storage issues signed URLs against an object store. The API only
// hands out upload targets and read URLs; bytes never pass through it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

var (
	ErrTooLarge      = errors.New("upload exceeds the size limit")
	ErrContentType   = errors.New("content type not allowed")
	ErrNotConfigured = errors.New("no blob store configured")
)

// WriteTarget tells an uploader where and how to send one object. For PUT
// targets the Headers must be sent verbatim; for POST targets the
// FormFields precede the file part of a multipart form.
type WriteTarget struct {
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers,omitempty"`
	FormFields  map[string]string `json:"formFields,omitempty"`
	Key         string            `json:"key"`
	MaxBytes    int64             `json:"maxBytes"`
	ContentType string            `json:"contentType"`
	ExpiresAt   time.Time         `json:"expiresAt"`
}

type BlobStore interface {
	// WriteTarget issues a signed upload for key, pinned to contentType and
	// capped at the store's size limit.
	WriteTarget(ctx context.Context, key, contentType string) (*WriteTarget, error)
	SignedReadURL(ctx context.Context, key string) (string, error)
	// Delete removes key. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
	// ObjectURI is the store-native address of key, e.g. gs://bucket/key.
	ObjectURI(key string) string
	Policy() Policy
}

// Policy bounds what signed URLs allow.
type Policy struct {
	MaxBytes int64
	WriteTTL time.Duration
	ReadTTL  time.Duration
}

var allowedTypePrefixes = []string{"video/", "image/", "audio/"}

// CheckUpload validates a declared upload against the policy.
func (p Policy) CheckUpload(contentType string, size int64) error {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	allowed := false
	for _, prefix := range allowedTypePrefixes {
		if strings.HasPrefix(ct, prefix) && len(ct) > len(prefix) {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %q", ErrContentType, contentType)
	}
	if size > p.MaxBytes {
		return fmt.Errorf("%w: %s is over the %s limit", ErrTooLarge, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(p.MaxBytes)))
	}
	return nil
}

var unsafeExt = regexp.MustCompile(`[^a-z0-9.]`)

// UploadKey returns a fresh key under uploads/<userID>/ keeping the
// filename's extension.
func UploadKey(userID, filename string) string {
	ext := unsafeExt.ReplaceAllString(strings.ToLower(path.Ext(filename)), "")
	if len(ext) > 10 {
		ext = ""
	}
	return UploadPrefix(userID) + uuid.New().String() + ext
}

// UploadPrefix is the key prefix every upload of userID lives under.
func UploadPrefix(userID string) string {
	return "uploads/" + userID + "/"
}

// KeyFromObjectURI reverses ObjectURI for keys inside bucket. ok is false for
// URIs in other buckets or other schemes.
func KeyFromObjectURI(uri, scheme, bucket string) (key string, ok bool) {
	prefix := scheme + "://" + bucket + "/"
	if !strings.HasPrefix(uri, prefix) {
		return "", false
	}
	return strings.TrimPrefix(uri, prefix), true
}
