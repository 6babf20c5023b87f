package storage

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// Region is required for signing without a bucket-location lookup.
	Region string
	Bucket string
	Policy Policy
}

type MinIO struct {
	client *minio.Client
	cfg    MinIOConfig
}

func NewMinIO(cfg MinIOConfig) (*MinIO, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIO{client: client, cfg: cfg}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (m *MinIO) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.cfg.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.cfg.Bucket, minio.MakeBucketOptions{Region: m.cfg.Region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", m.cfg.Bucket, err)
	}
	return nil
}

func (m *MinIO) Policy() Policy { return m.cfg.Policy }

func (m *MinIO) WriteTarget(ctx context.Context, key, contentType string) (*WriteTarget, error) {
	expires := time.Now().UTC().Add(m.cfg.Policy.WriteTTL)

	policy := minio.NewPostPolicy()
	if err := policy.SetBucket(m.cfg.Bucket); err != nil {
		return nil, err
	}
	if err := policy.SetKey(key); err != nil {
		return nil, err
	}
	if err := policy.SetExpires(expires); err != nil {
		return nil, err
	}
	if err := policy.SetContentType(contentType); err != nil {
		return nil, err
	}
	if err := policy.SetContentLengthRange(1, m.cfg.Policy.MaxBytes); err != nil {
		return nil, err
	}

	u, fields, err := m.client.PresignedPostPolicy(ctx, policy)
	if err != nil {
		return nil, fmt.Errorf("presign minio upload: %w", err)
	}
	return &WriteTarget{
		URL:         u.String(),
		Method:      http.MethodPost,
		FormFields:  fields,
		Key:         key,
		MaxBytes:    m.cfg.Policy.MaxBytes,
		ContentType: contentType,
		ExpiresAt:   expires,
	}, nil
}

func (m *MinIO) SignedReadURL(ctx context.Context, key string) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.cfg.Bucket, key, m.cfg.Policy.ReadTTL, nil)
	if err != nil {
		return "", fmt.Errorf("presign minio read: %w", err)
	}
	return u.String(), nil
}

func (m *MinIO) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.cfg.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove minio object: %w", err)
	}
	return nil
}

func (m *MinIO) ObjectURI(key string) string {
	return "s3://" + m.cfg.Bucket + "/" + key
}
