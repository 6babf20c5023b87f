package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type GCSConfig struct {
	Bucket string
	Policy Policy
	// GoogleAccessID and PrivateKey sign URLs locally. When empty the
	// client's own credentials are used.
	GoogleAccessID string
	PrivateKey     []byte
}

type GCS struct {
	client *storage.Client
	cfg    GCSConfig
}

func NewGCS(ctx context.Context, cfg GCSConfig, opts ...option.ClientOption) (*GCS, error) {
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCS{client: client, cfg: cfg}, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) Policy() Policy { return g.cfg.Policy }

func (g *GCS) signOptions(method string, ttl time.Duration) *storage.SignedURLOptions {
	return &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         method,
		Expires:        time.Now().Add(ttl),
		GoogleAccessID: g.cfg.GoogleAccessID,
		PrivateKey:     g.cfg.PrivateKey,
	}
}

func (g *GCS) WriteTarget(ctx context.Context, key, contentType string) (*WriteTarget, error) {
	lengthRange := fmt.Sprintf("0,%d", g.cfg.Policy.MaxBytes)
	opts := g.signOptions(http.MethodPut, g.cfg.Policy.WriteTTL)
	opts.ContentType = contentType
	opts.Headers = []string{"x-goog-content-length-range:" + lengthRange}

	u, err := g.client.Bucket(g.cfg.Bucket).SignedURL(key, opts)
	if err != nil {
		return nil, fmt.Errorf("sign gcs upload: %w", err)
	}
	return &WriteTarget{
		URL:    u,
		Method: http.MethodPut,
		Headers: map[string]string{
			"Content-Type":                contentType,
			"x-goog-content-length-range": lengthRange,
		},
		Key:         key,
		MaxBytes:    g.cfg.Policy.MaxBytes,
		ContentType: contentType,
		ExpiresAt:   opts.Expires,
	}, nil
}

func (g *GCS) SignedReadURL(ctx context.Context, key string) (string, error) {
	u, err := g.client.Bucket(g.cfg.Bucket).SignedURL(key, g.signOptions(http.MethodGet, g.cfg.Policy.ReadTTL))
	if err != nil {
		return "", fmt.Errorf("sign gcs read: %w", err)
	}
	return u, nil
}

func (g *GCS) Delete(ctx context.Context, key string) error {
	err := g.client.Bucket(g.cfg.Bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete gcs object: %w", err)
	}
	return nil
}

func (g *GCS) ObjectURI(key string) string {
	return "gs://" + g.cfg.Bucket + "/" + key
}
