package proofstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/tags"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Minio keeps artefacts in an S3 compatible bucket. A pending deletion is an object tag.
type Minio struct {
	client *minio.Client
	bucket string
}

func NewMinio(cfg MinioConfig) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &Minio{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (m *Minio) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func (m *Minio) Scheme() string { return "minio" }

func (m *Minio) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to upload proof: %w", err)
	}
	return nil
}

func (m *Minio) MarkForDeletion(ctx context.Context, key string, at time.Time) error {
	t, err := tags.NewTags(map[string]string{DeleteAfterTag: at.UTC().Format(time.RFC3339)}, true)
	if err != nil {
		return fmt.Errorf("failed to build object tags: %w", err)
	}
	if err := m.client.PutObjectTagging(ctx, m.bucket, key, t, minio.PutObjectTaggingOptions{}); err != nil {
		return fmt.Errorf("failed to tag proof: %w", err)
	}
	return nil
}

func (m *Minio) Sweep(ctx context.Context, now time.Time) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	removed := 0
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return removed, fmt.Errorf("failed to list proofs: %w", obj.Err)
		}
		t, err := m.client.GetObjectTagging(ctx, m.bucket, obj.Key, minio.GetObjectTaggingOptions{})
		if err != nil {
			return removed, fmt.Errorf("failed to read proof tags: %w", err)
		}
		raw, ok := t.ToMap()[DeleteAfterTag]
		if !ok {
			continue
		}
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil || at.After(now) {
			continue
		}
		if err := m.client.RemoveObject(ctx, m.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("failed to remove proof: %w", err)
		}
		removed++
	}
	return removed, nil
}
